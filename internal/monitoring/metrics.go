package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openai_sim_requests_total",
			Help: "Total number of requests",
		},
		[]string{"endpoint", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openai_sim_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint", "model"},
	)

	TokensGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openai_sim_tokens_generated_total",
			Help: "Total number of tokens generated",
		},
		[]string{"endpoint", "model", "kind"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openai_sim_time_to_first_token_seconds",
			Help:    "Time to first token for streaming responses",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
		},
		[]string{"model"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openai_sim_active_streams",
			Help: "Number of currently active streaming responses",
		},
	)

	StreamsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openai_sim_streams_terminated_total",
			Help: "Streams that reached a terminal state",
		},
		[]string{"state"},
	)

	RateLimitThrottles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openai_sim_rate_limit_throttles_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"dimension"},
	)

	KVCacheHitTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openai_sim_kv_cache_hit_tokens_total",
			Help: "Prompt tokens served from the KV cache",
		},
	)

	KVCacheMissTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openai_sim_kv_cache_miss_tokens_total",
			Help: "Prompt tokens that required prefill",
		},
	)

	KVCacheWorkerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "openai_sim_kv_cache_worker_active_requests",
			Help: "Active requests per KV cache worker",
		},
		[]string{"worker"},
	)

	ErrorsInjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openai_sim_errors_injected_total",
			Help: "Synthetic errors returned by the error injector",
		},
		[]string{"type"},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m.enabled
}

func (m *Metrics) RecordRequest(endpoint, model string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}

	status := strconv.Itoa(statusCode)
	RequestsTotal.WithLabelValues(endpoint, model, status).Inc()
	RequestDuration.WithLabelValues(endpoint, model).Observe(duration.Seconds())
}

func (m *Metrics) RecordTokens(endpoint, model, kind string, n int) {
	if !m.isEnabled() || n <= 0 {
		return
	}
	TokensGenerated.WithLabelValues(endpoint, model, kind).Add(float64(n))
}

func (m *Metrics) RecordTTFT(model string, ttft time.Duration) {
	if !m.isEnabled() {
		return
	}
	TimeToFirstToken.WithLabelValues(model).Observe(ttft.Seconds())
}

func (m *Metrics) StreamStarted() {
	if !m.isEnabled() {
		return
	}
	ActiveStreams.Inc()
}

func (m *Metrics) StreamFinished(state string) {
	if !m.isEnabled() {
		return
	}
	ActiveStreams.Dec()
	StreamsTerminated.WithLabelValues(state).Inc()
}

// RecordThrottle records a rate limit rejection on the exhausted dimension
// ("rpm" or "tpm").
func (m *Metrics) RecordThrottle(dimension string) {
	if !m.isEnabled() {
		return
	}
	RateLimitThrottles.WithLabelValues(dimension).Inc()
}

func (m *Metrics) RecordKVCacheRoute(hitTokens, missTokens int) {
	if !m.isEnabled() {
		return
	}
	KVCacheHitTokens.Add(float64(hitTokens))
	KVCacheMissTokens.Add(float64(missTokens))
}

func (m *Metrics) UpdateWorkerActive(workerID, active int) {
	if !m.isEnabled() {
		return
	}
	KVCacheWorkerActive.WithLabelValues(strconv.Itoa(workerID)).Set(float64(active))
}

func (m *Metrics) RecordInjectedError(errType string) {
	if !m.isEnabled() {
		return
	}
	ErrorsInjected.WithLabelValues(errType).Inc()
}
