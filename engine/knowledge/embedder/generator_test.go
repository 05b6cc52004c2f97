package embedder

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/ragpipe/engine/knowledge"
)

type fakeBackend struct {
	name    string
	mu      sync.Mutex
	batches [][]string
	fail    func(texts []string) error
}

func newFake(name string) *fakeBackend {
	return &fakeBackend{name: name}
}

func (f *fakeBackend) Name() string   { return f.name }
func (f *fakeBackend) Dimension() int { return 2 }

func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, slices.Clone(texts))
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), f.marker()}
	}
	return out, nil
}

func (f *fakeBackend) marker() float32 {
	if f.name == "fallback" {
		return 2
	}
	return 1
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func failWith(err error) func([]string) error {
	return func([]string) error { return err }
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

func TestGenerator_Embed(t *testing.T) {
	t.Run("Should preserve input order and skip backends for empty input", func(t *testing.T) {
		primary := newFake("primary")
		g, err := NewGenerator(primary, nil, Options{})
		require.NoError(t, err)
		out, err := g.Embed(t.Context(), nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Zero(t, primary.calls())

		out, err = g.Embed(t.Context(), []string{"a", "bbb", "cc"})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, []float32{1, 1}, out[0])
		assert.Equal(t, []float32{3, 1}, out[1])
		assert.Equal(t, []float32{2, 1}, out[2])
	})

	t.Run("Should latch onto the fallback after an outage", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = failWith(errRefused)
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{})
		require.NoError(t, err)

		out, err := g.Embed(t.Context(), []string{"abc"})
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 2}, out[0])
		assert.True(t, g.Demoted())
		assert.Equal(t, "fallback", g.Active().Name())

		primary.fail = nil
		_, err = g.Embed(t.Context(), []string{"later"})
		require.NoError(t, err)
		assert.Equal(t, 1, primary.calls())
		assert.Equal(t, 2, fallback.calls())
	})

	t.Run("Should not demote on request errors unless configured to", func(t *testing.T) {
		badRequest := api.StatusError{StatusCode: 400, Status: "400 Bad Request", ErrorMessage: "input too long"}
		primary := newFake("primary")
		primary.fail = failWith(badRequest)
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"x"})
		require.Error(t, err)
		assert.True(t, knowledge.IsEmbedding(err))
		assert.False(t, g.Demoted())
		assert.Zero(t, fallback.calls())

		g, err = NewGenerator(primary, fallback, Options{FallbackOnAnyError: true})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"x"})
		require.NoError(t, err)
		assert.True(t, g.Demoted())
	})

	t.Run("Should fail with an embedding error when both backends fail", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = failWith(errRefused)
		fallback := newFake("fallback")
		fallback.fail = failWith(errors.New("model load failed"))
		g, err := NewGenerator(primary, fallback, Options{})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"x"})
		require.Error(t, err)
		var embErr *knowledge.EmbeddingError
		require.ErrorAs(t, err, &embErr)
		assert.Equal(t, "fallback", embErr.Backend)
		assert.Contains(t, err.Error(), "model load failed")
	})

	t.Run("Should fail with an embedding error when no fallback exists", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = failWith(errRefused)
		g, err := NewGenerator(primary, nil, Options{})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"x"})
		assert.True(t, knowledge.IsEmbedding(err))
		assert.False(t, g.Demoted())
	})

	t.Run("Should bound backend calls with a timeout", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = func([]string) error {
			time.Sleep(500 * time.Millisecond)
			return nil
		}
		g, err := NewGenerator(primary, nil, Options{Timeout: 20 * time.Millisecond})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"slow"})
		require.Error(t, err)
		assert.True(t, knowledge.IsTimeout(err))
		assert.Equal(t, knowledge.KindTimeout, knowledge.KindOf(err))
	})

	t.Run("Should demote on timeout when a fallback exists", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = func([]string) error {
			time.Sleep(500 * time.Millisecond)
			return nil
		}
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{Timeout: 20 * time.Millisecond})
		require.NoError(t, err)
		out, err := g.Embed(t.Context(), []string{"slow"})
		require.NoError(t, err)
		assert.Equal(t, float32(2), out[0][1])
		assert.True(t, g.Demoted())
	})

	t.Run("Should not demote when the caller cancels", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = failWith(context.Canceled)
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"x"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, g.Demoted())
	})

	t.Run("Should not mix cached primary vectors with fallback vectors", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = func(texts []string) error {
			if slices.Contains(texts, "beta") {
				return errRefused
			}
			return nil
		}
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{CacheSize: 8})
		require.NoError(t, err)
		_, err = g.Embed(t.Context(), []string{"alpha"})
		require.NoError(t, err)
		out, err := g.Embed(t.Context(), []string{"alpha", "beta"})
		require.NoError(t, err)
		assert.Equal(t, []float32{5, 2}, out[0])
		assert.Equal(t, []float32{4, 2}, out[1])
	})

	t.Run("Should serve repeated texts from the cache", func(t *testing.T) {
		primary := newFake("primary")
		g, err := NewGenerator(primary, nil, Options{CacheSize: 8})
		require.NoError(t, err)
		first, err := g.Embed(t.Context(), []string{"alpha", "beta"})
		require.NoError(t, err)
		second, err := g.Embed(t.Context(), []string{"beta", "gamma", "alpha"})
		require.NoError(t, err)
		assert.Equal(t, first[1], second[0])
		assert.Equal(t, first[0], second[2])
		require.Equal(t, 2, primary.calls())
		assert.Equal(t, []string{"gamma"}, primary.batches[1])

		second[0][0] = 99
		third, err := g.EmbedQuery(t.Context(), "beta")
		require.NoError(t, err)
		assert.Equal(t, float32(4), third[0])
	})
}

func TestGenerator_BatchEmbed(t *testing.T) {
	t.Run("Should split into contiguous slices and keep order", func(t *testing.T) {
		primary := newFake("primary")
		g, err := NewGenerator(primary, nil, Options{Concurrency: 3})
		require.NoError(t, err)
		texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g", "hh", "iii", "jjjj"}
		out, err := g.BatchEmbed(t.Context(), texts, 3)
		require.NoError(t, err)
		require.Len(t, out, len(texts))
		for i, text := range texts {
			assert.Equal(t, float32(len(text)), out[i][0])
		}
		sizes := make([]int, 0, len(primary.batches))
		for _, b := range primary.batches {
			sizes = append(sizes, len(b))
		}
		slices.Sort(sizes)
		assert.Equal(t, []int{1, 3, 3, 3}, sizes)
	})

	t.Run("Should use the configured batch size by default", func(t *testing.T) {
		primary := newFake("primary")
		g, err := NewGenerator(primary, nil, Options{BatchSize: 2})
		require.NoError(t, err)
		_, err = g.BatchEmbed(t.Context(), []string{"a", "b", "c"}, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, primary.calls())
		assert.Equal(t, 2, g.BatchSize())
	})

	t.Run("Should source every slice from the fallback after an outage", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = failWith(errRefused)
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{})
		require.NoError(t, err)
		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
		out, err := g.BatchEmbed(t.Context(), texts, 2)
		require.NoError(t, err)
		require.Len(t, out, len(texts))
		for i, text := range texts {
			assert.Equal(t, []float32{float32(len(text)), 2}, out[i])
		}
		assert.Equal(t, 1, primary.calls())
		assert.Equal(t, 3, fallback.calls())
	})

	t.Run("Should re-embed slices the primary served before a concurrent demotion", func(t *testing.T) {
		var calls atomic.Int32
		primary := newFake("primary")
		primary.fail = func([]string) error {
			if calls.Add(1) == 1 {
				time.Sleep(50 * time.Millisecond)
				return errRefused
			}
			return nil
		}
		fallback := newFake("fallback")
		g, err := NewGenerator(primary, fallback, Options{Concurrency: 4})
		require.NoError(t, err)
		texts := []string{"a", "bb", "ccc", "dddd"}
		out, err := g.BatchEmbed(t.Context(), texts, 1)
		require.NoError(t, err)
		require.Len(t, out, len(texts))
		for i, text := range texts {
			assert.Equal(t, []float32{float32(len(text)), 2}, out[i])
		}
		assert.True(t, g.Demoted())
		assert.Equal(t, 4, fallback.calls())
	})

	t.Run("Should surface the first batch failure", func(t *testing.T) {
		primary := newFake("primary")
		primary.fail = func(texts []string) error {
			if slices.Contains(texts, "bad") {
				return api.StatusError{StatusCode: 422, ErrorMessage: "unprocessable"}
			}
			return nil
		}
		g, err := NewGenerator(primary, nil, Options{})
		require.NoError(t, err)
		_, err = g.BatchEmbed(t.Context(), []string{"ok", "ok", "bad"}, 1)
		assert.True(t, knowledge.IsEmbedding(err))
	})
}

func TestNewGenerator(t *testing.T) {
	t.Run("Should require a primary backend", func(t *testing.T) {
		_, err := NewGenerator(nil, newFake("fallback"), Options{})
		assert.Error(t, err)
	})
}
