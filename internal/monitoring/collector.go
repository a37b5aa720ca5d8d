package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mixaill76/openai-sim/internal/metrics"
)

// WindowCollector exposes the sliding-window endpoint metrics as prometheus
// gauges. Values are computed from the registry at scrape time, so the
// collector carries no state of its own and a scrape always reflects the
// current window.
type WindowCollector struct {
	registry *metrics.Registry

	requests  *prometheus.Desc
	responses *prometheus.Desc
	tokens    *prometheus.Desc
	errors    *prometheus.Desc
	latency   *prometheus.Desc
}

func NewWindowCollector(registry *metrics.Registry) *WindowCollector {
	return &WindowCollector{
		registry: registry,
		requests: prometheus.NewDesc(
			"openai_sim_endpoint_requests_per_second",
			"Request arrival rate over the sliding window",
			[]string{"endpoint"}, nil,
		),
		responses: prometheus.NewDesc(
			"openai_sim_endpoint_responses_per_second",
			"Completed response rate over the sliding window",
			[]string{"endpoint"}, nil,
		),
		tokens: prometheus.NewDesc(
			"openai_sim_endpoint_tokens_per_second",
			"Token production rate over the sliding window",
			[]string{"endpoint"}, nil,
		),
		errors: prometheus.NewDesc(
			"openai_sim_endpoint_errors_per_second",
			"Error response rate over the sliding window",
			[]string{"endpoint"}, nil,
		),
		latency: prometheus.NewDesc(
			"openai_sim_endpoint_latency_seconds",
			"Response latency over the sliding window by statistic",
			[]string{"endpoint", "stat"}, nil,
		),
	}
}

func (c *WindowCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.responses
	ch <- c.tokens
	ch <- c.errors
	ch <- c.latency
}

func (c *WindowCollector) Collect(ch chan<- prometheus.Metric) {
	for endpoint, snap := range c.registry.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.GaugeValue, snap.RequestsPerSecond, endpoint)
		ch <- prometheus.MustNewConstMetric(c.responses, prometheus.GaugeValue, snap.ResponsesPerSecond, endpoint)
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, snap.TokensPerSecond, endpoint)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.GaugeValue, snap.ErrorsPerSecond, endpoint)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.Avg, endpoint, "avg")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.P50, endpoint, "p50")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.P90, endpoint, "p90")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, snap.Latency.P99, endpoint, "p99")
	}
}
