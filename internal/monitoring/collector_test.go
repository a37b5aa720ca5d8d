package monitoring

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/openai-sim/internal/metrics"
)

func TestWindowCollector_ExposesEndpointWindows(t *testing.T) {
	registry := metrics.NewRegistry()
	registry.RecordRequest("/v1/chat/completions")
	registry.RecordResponse("/v1/chat/completions", 0.25)
	registry.RecordTokens("/v1/chat/completions", 40)
	registry.RecordError("/v1/chat/completions")

	c := NewWindowCollector(registry)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	// One endpoint: four rate gauges plus four latency statistics.
	assert.Equal(t, 8, testutil.CollectAndCount(c))

	// The 5s window turns one event into a rate of 0.2/s.
	expected := `
# HELP openai_sim_endpoint_requests_per_second Request arrival rate over the sliding window
# TYPE openai_sim_endpoint_requests_per_second gauge
openai_sim_endpoint_requests_per_second{endpoint="/v1/chat/completions"} 0.2
# HELP openai_sim_endpoint_tokens_per_second Token production rate over the sliding window
# TYPE openai_sim_endpoint_tokens_per_second gauge
openai_sim_endpoint_tokens_per_second{endpoint="/v1/chat/completions"} 8
# HELP openai_sim_endpoint_errors_per_second Error response rate over the sliding window
# TYPE openai_sim_endpoint_errors_per_second gauge
openai_sim_endpoint_errors_per_second{endpoint="/v1/chat/completions"} 0.2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"openai_sim_endpoint_requests_per_second",
		"openai_sim_endpoint_tokens_per_second",
		"openai_sim_endpoint_errors_per_second",
	))

	// A single latency sample is its own average and every percentile.
	latency := `
# HELP openai_sim_endpoint_latency_seconds Response latency over the sliding window by statistic
# TYPE openai_sim_endpoint_latency_seconds gauge
openai_sim_endpoint_latency_seconds{endpoint="/v1/chat/completions",stat="avg"} 0.25
openai_sim_endpoint_latency_seconds{endpoint="/v1/chat/completions",stat="p50"} 0.25
openai_sim_endpoint_latency_seconds{endpoint="/v1/chat/completions",stat="p90"} 0.25
openai_sim_endpoint_latency_seconds{endpoint="/v1/chat/completions",stat="p99"} 0.25
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(latency),
		"openai_sim_endpoint_latency_seconds"))
}

func TestWindowCollector_EmptyRegistry(t *testing.T) {
	c := NewWindowCollector(metrics.NewRegistry())
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 0, testutil.CollectAndCount(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
