package services

import (
	"sync"

	"github.com/google/uuid"
)

// TreeLocker is the optional per-owner advisory lock. Coordinator writes
// hold it exclusively; archive and search hold it shared. A nil or disabled
// locker hands out no-op unlocks.
type TreeLocker struct {
	enabled bool
	mu      sync.Mutex
	locks   map[uuid.UUID]*ownerLock
}

type ownerLock struct {
	sync.RWMutex
	refs int
}

func NewTreeLocker(enabled bool) *TreeLocker {
	return &TreeLocker{enabled: enabled, locks: make(map[uuid.UUID]*ownerLock)}
}

func (l *TreeLocker) Enabled() bool {
	return l != nil && l.enabled
}

func (l *TreeLocker) Lock(ownerID uuid.UUID) func() {
	if !l.Enabled() {
		return func() {}
	}
	lock := l.acquire(ownerID)
	lock.Lock()
	return func() {
		lock.Unlock()
		l.release(ownerID)
	}
}

func (l *TreeLocker) RLock(ownerID uuid.UUID) func() {
	if !l.Enabled() {
		return func() {}
	}
	lock := l.acquire(ownerID)
	lock.RLock()
	return func() {
		lock.RUnlock()
		l.release(ownerID)
	}
}

func (l *TreeLocker) acquire(ownerID uuid.UUID) *ownerLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[ownerID]
	if !ok {
		lock = &ownerLock{}
		l.locks[ownerID] = lock
	}
	lock.refs++
	return lock
}

func (l *TreeLocker) release(ownerID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[ownerID]
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, ownerID)
	}
}
