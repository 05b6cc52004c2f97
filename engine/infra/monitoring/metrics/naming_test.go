package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricName(t *testing.T) {
	t.Run("Should add the namespace prefix once", func(t *testing.T) {
		assert.Equal(t, "ragpipe_requests_total", MetricName("requests_total"))
		assert.Equal(t, "ragpipe_custom", MetricName("ragpipe_custom"))
		assert.Equal(t, "ragpipe_", MetricName(""))
	})
}

func TestMetricNameWithSubsystem(t *testing.T) {
	t.Run("Should join subsystem and name", func(t *testing.T) {
		assert.Equal(t, "ragpipe_embedder_calls_total", MetricNameWithSubsystem("embedder", "calls_total"))
		assert.Equal(t, "ragpipe_index_ops_total", MetricNameWithSubsystem("_index_", "ops_total"))
		assert.Equal(t, "ragpipe_ingest", MetricNameWithSubsystem("ingest", ""))
		assert.Equal(t, "ragpipe_up", MetricNameWithSubsystem("", "up"))
	})
}
