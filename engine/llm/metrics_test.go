package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	tokens   map[string]int
}

func (r *recordingRecorder) RecordRequest(_ context.Context, _ string, _ time.Duration, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) RecordTokens(_ context.Context, _ string, tokenType string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = map[string]int{}
	}
	r.tokens[tokenType] += count
}

func TestClient_Metrics(t *testing.T) {
	t.Run("Should record token usage of a finished generation", func(t *testing.T) {
		server := httptest.NewServer((&fakeOllama{}).handler(t))
		t.Cleanup(server.Close)
		rec := &recordingRecorder{}
		c, err := New(Options{Host: server.URL, Model: "llama2:7b", HTTPClient: server.Client(), Recorder: rec})
		require.NoError(t, err)
		_, err = c.Generate(t.Context(), Request{Prompt: "capital of France?"})
		require.NoError(t, err)
		assert.Equal(t, []string{outcomeSuccess}, rec.outcomes)
		assert.Equal(t, 12, rec.tokens[tokenTypePrompt])
		assert.Equal(t, 5, rec.tokens[tokenTypeOutput])
	})

	t.Run("Should record failed generations", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		rec := &recordingRecorder{}
		c, err := New(Options{Host: server.URL, Model: "llama2:7b", Recorder: rec})
		require.NoError(t, err)
		_, err = c.Generate(t.Context(), Request{Prompt: "hello"})
		require.Error(t, err)
		assert.Equal(t, []string{outcomeError}, rec.outcomes)
	})
}

func TestNewRecorder(t *testing.T) {
	t.Run("Should export latency and token instruments", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		rec, err := NewRecorder(provider.Meter("test"))
		require.NoError(t, err)
		rec.RecordRequest(t.Context(), "llama2:7b", 150*time.Millisecond, outcomeSuccess)
		rec.RecordTokens(t.Context(), "llama2:7b", tokenTypePrompt, 120)
		rec.RecordTokens(t.Context(), "llama2:7b", tokenTypeOutput, 0)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(t.Context(), &rm))
		names := map[string]bool{}
		for _, scope := range rm.ScopeMetrics {
			for _, m := range scope.Metrics {
				names[m.Name] = true
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					require.Len(t, sum.DataPoints, 1)
					assert.Equal(t, int64(120), sum.DataPoints[0].Value)
				}
			}
		}
		assert.Len(t, names, 2)
	})

	t.Run("Should accept calls on the nop recorder", func(t *testing.T) {
		Nop().RecordRequest(t.Context(), "m", time.Second, outcomeError)
		Nop().RecordTokens(t.Context(), "m", tokenTypePrompt, 1)
	})
}
