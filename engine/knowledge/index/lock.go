package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/compozy/ragpipe/engine/infra/cache"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/pkg/logger"
)

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx ends.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		entry.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return func() { k.release(key, entry) }, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			k.release(key, entry)
		}()
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, entry *keyedEntry) {
	entry.mu.Unlock()
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// lockHash serialises work on one content hash inside the process and, when
// a lock manager is configured, across processes.
func (x *Index) lockHash(ctx context.Context, hash string) (func(), error) {
	unlockLocal, err := x.keyed.Lock(ctx, hash)
	if err != nil {
		return nil, x.lockError(err)
	}
	if x.opts.Locks == nil {
		return unlockLocal, nil
	}
	lock, err := x.opts.Locks.Acquire(ctx, hash, x.opts.LockTTL)
	if err != nil {
		unlockLocal()
		return nil, x.lockError(err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.FromContext(ctx).Warn("Failed to release ingest lock", "hash", hash, "error", err)
		}
		unlockLocal()
	}, nil
}

func (x *Index) lockError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, cache.ErrLockNotAcquired):
		return &knowledge.TimeoutError{Op: "acquire document lock", Cause: err}
	}
	return &knowledge.StoreError{Op: "lock", Cause: err}
}
