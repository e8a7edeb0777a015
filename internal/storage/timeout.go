package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/docshare/linkdrive/internal/apperr"
)

type timeoutStore struct {
	next   Store
	call   time.Duration
	stream time.Duration
}

// WithTimeout bounds every call on s. Plain calls get call; streams and
// uploads get stream, measured until the returned reader is closed. A zero
// duration disables that bound.
func WithTimeout(s Store, call, stream time.Duration) Store {
	return &timeoutStore{next: s, call: call, stream: stream}
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// expired rewrites err as ErrTimeout when the bound, not the caller, ended
// the call.
func expired(ctx context.Context, op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
		return apperr.E(op, p, apperr.ErrTimeout, err)
	}
	return err
}

func (t *timeoutStore) Mkdir(ctx context.Context, p string, parents bool) error {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return expired(ctx, "store.mkdir", p, t.next.Mkdir(ctx, p, parents))
}

func (t *timeoutStore) LinkByHash(ctx context.Context, hash, p string) error {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return expired(ctx, "store.link", p, t.next.LinkByHash(ctx, hash, p))
}

func (t *timeoutStore) Move(ctx context.Context, from, to string) error {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return expired(ctx, "store.move", from, t.next.Move(ctx, from, to))
}

func (t *timeoutStore) Remove(ctx context.Context, p string, recursive bool) error {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	return expired(ctx, "store.remove", p, t.next.Remove(ctx, p, recursive))
}

func (t *timeoutStore) Stat(ctx context.Context, p string) (*Stat, error) {
	ctx, cancel := bound(ctx, t.call)
	defer cancel()
	st, err := t.next.Stat(ctx, p)
	return st, expired(ctx, "store.stat", p, err)
}

// List bounds each fetch by call. The clock stops while the consumer holds an
// entry, so a caller that walks a subtree between entries is not charged for
// it.
func (t *timeoutStore) List(ctx context.Context, p string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		resume := func() {}
		pause := func() {}
		if t.call > 0 {
			stall := time.AfterFunc(t.call, func() { cancel(context.DeadlineExceeded) })
			defer stall.Stop()
			resume = func() { stall.Reset(t.call) }
			pause = func() { stall.Stop() }
		}
		for entry, err := range t.next.List(ctx, p) {
			pause()
			if !yield(entry, expired(ctx, "store.list", p, err)) {
				return
			}
			resume()
		}
	}
}

func (t *timeoutStore) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	ctx, cancel := bound(ctx, t.stream)
	rc, err := t.next.ReadStream(ctx, p)
	if err != nil {
		cancel()
		return nil, expired(ctx, "store.read", p, err)
	}
	return &boundReader{ctx: ctx, cancel: cancel, rc: rc, op: "store.read", path: p}, nil
}

func (t *timeoutStore) Add(ctx context.Context, r io.Reader) (string, int64, error) {
	ctx, cancel := bound(ctx, t.stream)
	defer cancel()
	hash, size, err := t.next.Add(ctx, r)
	return hash, size, expired(ctx, "store.add", "", err)
}

func (t *timeoutStore) ReadObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	ctx, cancel := bound(ctx, t.stream)
	rc, err := t.next.ReadObject(ctx, hash)
	if err != nil {
		cancel()
		return nil, expired(ctx, "store.object", hash, err)
	}
	return &boundReader{ctx: ctx, cancel: cancel, rc: rc, op: "store.object", path: hash}, nil
}

// boundReader keeps the stream deadline alive until Close.
type boundReader struct {
	ctx    context.Context
	cancel context.CancelFunc
	rc     io.ReadCloser
	op     string
	path   string
}

func (b *boundReader) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, apperr.E(b.op, b.path, nil, err)
	}
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		err = expired(b.ctx, b.op, b.path, err)
	}
	return n, err
}

func (b *boundReader) Close() error {
	defer b.cancel()
	return b.rc.Close()
}
