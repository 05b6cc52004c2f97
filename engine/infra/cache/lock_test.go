package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx := logger.ContextWithLogger(t.Context(), logger.NewForTests())
	c, err := SetupCache(ctx, &Config{
		URL:               "redis://" + mr.Addr(),
		LockPrefix:        "test:",
		LockRetryInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestSetupCache(t *testing.T) {
	t.Run("Should connect and pass the health check", func(t *testing.T) {
		c, _ := newTestCache(t)
		assert.NoError(t, c.HealthCheck(t.Context()))
		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
	})

	t.Run("Should reject a missing url", func(t *testing.T) {
		_, err := SetupCache(t.Context(), &Config{})
		assert.Error(t, err)
		_, err = SetupCache(t.Context(), nil)
		assert.Error(t, err)
	})

	t.Run("Should fail when the server is unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, err := SetupCache(t.Context(), &Config{URL: "redis://" + addr, PingTimeout: 200 * time.Millisecond})
		assert.Error(t, err)
	})

	t.Run("Should map the application redis section", func(t *testing.T) {
		app := appconfig.Default()
		app.Redis.URL = "redis://localhost:6379/2"
		cfg := FromAppConfig(app)
		assert.True(t, cfg.Enabled())
		assert.Equal(t, "redis://localhost:6379/2", cfg.URL)
		assert.Equal(t, app.Redis.LockPrefix, cfg.LockPrefix)
		assert.Equal(t, app.Redis.LockTTL, cfg.LockTTL)
		assert.False(t, FromAppConfig(nil).Enabled())
	})
}

func TestRedisLockManager(t *testing.T) {
	t.Run("Should store the token under the prefixed key with a ttl", func(t *testing.T) {
		c, mr := newTestCache(t)
		lock, err := c.LockManager.Acquire(t.Context(), "abc", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "abc", lock.Resource())
		assert.True(t, mr.Exists("test:abc"))
		assert.Equal(t, time.Minute, mr.TTL("test:abc"))
		require.NoError(t, lock.Release(t.Context()))
		assert.False(t, mr.Exists("test:abc"))
	})

	t.Run("Should wait for a held lock until the context ends", func(t *testing.T) {
		c, _ := newTestCache(t)
		held, err := c.LockManager.Acquire(t.Context(), "busy", time.Minute)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		_, err = c.LockManager.Acquire(ctx, "busy", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)
		require.NoError(t, held.Release(t.Context()))
	})

	t.Run("Should hand the lock to the next waiter after release", func(t *testing.T) {
		c, _ := newTestCache(t)
		first, err := c.LockManager.Acquire(t.Context(), "handoff", time.Minute)
		require.NoError(t, err)
		acquired := make(chan Lock, 1)
		go func() {
			l, err := c.LockManager.Acquire(t.Context(), "handoff", time.Minute)
			if err == nil {
				acquired <- l
			}
			close(acquired)
		}()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, first.Release(t.Context()))
		select {
		case l, ok := <-acquired:
			require.True(t, ok)
			require.NoError(t, l.Release(t.Context()))
		case <-time.After(2 * time.Second):
			t.Fatal("waiter never acquired the lock")
		}
	})

	t.Run("Should not release a lock taken over by another owner", func(t *testing.T) {
		c, mr := newTestCache(t)
		lock, err := c.LockManager.Acquire(t.Context(), "stolen", time.Second)
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)
		other, err := c.LockManager.Acquire(t.Context(), "stolen", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, lock.Release(t.Context()), ErrLockNotHeld)
		assert.ErrorIs(t, lock.Refresh(t.Context()), ErrLockNotHeld)
		assert.True(t, mr.Exists("test:stolen"))
		require.NoError(t, other.Release(t.Context()))
	})

	t.Run("Should extend the expiry on refresh", func(t *testing.T) {
		c, mr := newTestCache(t)
		lock, err := c.LockManager.Acquire(t.Context(), "refresh", 10*time.Second)
		require.NoError(t, err)
		mr.FastForward(8 * time.Second)
		require.NoError(t, lock.Refresh(t.Context()))
		assert.Equal(t, 10*time.Second, mr.TTL("test:refresh"))
	})

	t.Run("Should serialize concurrent holders", func(t *testing.T) {
		c, _ := newTestCache(t)
		var inside, peak atomic.Int32
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l, err := c.LockManager.Acquire(t.Context(), "shared", time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				assert.NoError(t, l.Release(t.Context()))
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), peak.Load())
	})

	t.Run("Should reject an empty resource and a nil client", func(t *testing.T) {
		c, _ := newTestCache(t)
		_, err := c.LockManager.Acquire(t.Context(), "", time.Minute)
		assert.Error(t, err)
		_, err = NewRedisLockManager(nil, nil)
		assert.Error(t, err)
	})
}
