package app

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/infra/pubsub"
	"github.com/compozy/ragpipe/pkg/logger"
)

func newFeedPair(t *testing.T) (*changeFeed, *changeFeed, chan ChangeEvent, chan ChangeEvent) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	provider, err := pubsub.NewRedisProvider(client)
	require.NoError(t, err)
	ctx := logger.ContextWithLogger(t.Context(), logger.NewForTests())
	gotA := make(chan ChangeEvent, 4)
	gotB := make(chan ChangeEvent, 4)
	a := newChangeFeed(provider, "docs", func(ev ChangeEvent) { gotA <- ev })
	b := newChangeFeed(provider, "docs", func(ev ChangeEvent) { gotB <- ev })
	require.NoError(t, a.start(ctx))
	require.NoError(t, b.start(ctx))
	t.Cleanup(func() {
		_ = a.close()
		_ = b.close()
	})
	return a, b, gotA, gotB
}

func TestChangeFeed(t *testing.T) {
	t.Run("Should deliver changes to other processes only", func(t *testing.T) {
		a, _, gotA, gotB := newFeedPair(t)
		require.NoError(t, a.publish(ChangeDeleted, "abc123"))
		select {
		case ev := <-gotB:
			assert.Equal(t, ChangeDeleted, ev.Kind)
			assert.Equal(t, "abc123", ev.Hash)
			assert.Equal(t, "docs", ev.Collection)
		case <-time.After(2 * time.Second):
			t.Fatal("remote feed did not receive the event")
		}
		select {
		case ev := <-gotA:
			t.Fatalf("publisher received its own event: %+v", ev)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Should close idempotently", func(t *testing.T) {
		a, _, _, _ := newFeedPair(t)
		assert.NoError(t, a.close())
	})
}

func TestChangeChannel(t *testing.T) {
	t.Run("Should scope the channel to the collection", func(t *testing.T) {
		assert.Equal(t, "ragpipe:rag_documents:changes", ChangeChannel("rag_documents"))
	})
}
