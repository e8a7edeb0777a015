package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTreeLockerExcludesReaders(t *testing.T) {
	locks := NewTreeLocker(true)
	owner := uuid.New()

	unlock := locks.Lock(owner)
	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		release := locks.RLock(owner)
		close(acquired)
		release()
		close(done)
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired the lock while a writer held it")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired the lock")
	}

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("expected idle owners to be dropped, got %d", len(locks.locks))
	}
}

func TestTreeLockerOwnersAreIndependent(t *testing.T) {
	locks := NewTreeLocker(true)
	unlockA := locks.Lock(uuid.New())
	defer unlockA()

	done := make(chan struct{})
	go func() {
		locks.Lock(uuid.New())()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a different owner was blocked")
	}
}

func TestDisabledTreeLockerIsNoop(t *testing.T) {
	owner := uuid.New()
	for _, locks := range []*TreeLocker{nil, NewTreeLocker(false)} {
		unlock := locks.Lock(owner)
		locks.Lock(owner)()
		locks.RLock(owner)()
		unlock()
	}
}
