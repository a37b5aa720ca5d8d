// Package server wires the simulation components behind the OpenAI-compatible
// HTTP surface: request handlers, auth and rate limiting, health and metrics.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixaill76/openai-sim/internal/config"
	"github.com/mixaill76/openai-sim/internal/errinject"
	"github.com/mixaill76/openai-sim/internal/kvcache"
	"github.com/mixaill76/openai-sim/internal/logger"
	"github.com/mixaill76/openai-sim/internal/metrics"
	"github.com/mixaill76/openai-sim/internal/monitoring"
	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/promptcache"
	"github.com/mixaill76/openai-sim/internal/ratelimit"
	"github.com/mixaill76/openai-sim/internal/streaming"
	"github.com/mixaill76/openai-sim/internal/utils"
)

// maxLoggedField caps free-form string fields in debug body logs.
const maxLoggedField = 256

// Server owns every simulation subsystem for one process. Optional
// subsystems (limiter, router, cache, injector) are nil when disabled.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metrics.Registry
	tracker  *metrics.StreamTracker
	models   *metrics.ModelTracker
	streamer *metrics.Streamer
	prom     *monitoring.Metrics

	limiter  *ratelimit.Limiter
	router   *kvcache.Router
	cache    *promptcache.Cache
	injector *errinject.Injector
	engine   *streaming.Engine
	images   *imageStore

	apiKeys map[string]struct{}

	modelMu sync.RWMutex
	known   map[string]openai.Model

	start time.Time
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: metrics.NewRegistry(),
		tracker:  metrics.NewStreamTracker(),
		models:   metrics.NewModelTracker(),
		prom:     monitoring.New(true),
		images:   newImageStore(time.Hour),
		apiKeys:  make(map[string]struct{}, len(cfg.Auth.APIKeys)),
		known:    make(map[string]openai.Model),
		start:    utils.NowUTC(),
	}
	for _, key := range cfg.Auth.APIKeys {
		s.apiKeys[key] = struct{}{}
	}

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(cfg.RateLimit.Tier, cfg.RateLimit.RPM, cfg.RateLimit.TPM)
	}
	if cfg.KVCache.Enabled {
		s.router = kvcache.NewRouter(cfg.KVCache.NumWorkers, cfg.KVCache.BlockSize,
			kvcache.WithOverlapWeight(cfg.KVCache.OverlapWeight))
	}
	if cfg.Cache.Enabled {
		cache, err := promptcache.New(cfg.Cache.MaxEntries,
			time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MinTokensForCache)
		if err != nil {
			return nil, fmt.Errorf("prompt cache: %w", err)
		}
		s.cache = cache
	}
	if cfg.Errors.Enabled {
		s.injector = errinject.New(cfg.Errors.Rate, cfg.Errors.Types, utils.NowUTC().UnixNano())
	}

	s.engine = streaming.NewEngine(logger, s.streamTiming(), s.tracker, s.prom)
	s.streamer = metrics.NewStreamer(logger, s.metricsSnapshot)

	// The window collector feeds the sliding-window endpoint stats into
	// /metrics/prometheus alongside the promauto counters. The default
	// registry is process-wide, so a second server keeps the first one's
	// registration.
	if err := prometheus.Register(monitoring.NewWindowCollector(s.registry)); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register window collector: %w", err)
		}
	}
	return s, nil
}

// Streamer exposes the WebSocket broadcaster so main can run and close it.
func (s *Server) Streamer() *metrics.Streamer {
	return s.streamer
}

// streamTiming translates configuration into engine timing.
func (s *Server) streamTiming() streaming.Timing {
	t := streaming.Timing{
		TTFT:         time.Duration(s.cfg.Timing.TTFTMillis) * time.Millisecond,
		TTFTVariance: s.cfg.Timing.TTFTVariance,
		ITL:          time.Duration(s.cfg.Timing.ITLMillis) * time.Millisecond,
		ITLVariance:  s.cfg.Timing.ITLVariance,
		Total:        time.Duration(s.cfg.Streaming.TimeoutSeconds) * time.Second,
		PerToken:     time.Duration(s.cfg.Streaming.TokenTimeoutSeconds) * time.Second,
	}
	if s.cfg.Streaming.KeepAliveEnabled {
		t.KeepAlive = time.Duration(s.cfg.Streaming.KeepAliveSeconds) * time.Second
	}
	return t
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", s.api("/v1/chat/completions", s.handleChatCompletions))
	mux.HandleFunc("POST /v1/completions", s.api("/v1/completions", s.handleCompletions))
	mux.HandleFunc("POST /v1/embeddings", s.api("/v1/embeddings", s.handleEmbeddings))
	mux.HandleFunc("POST /v1/images/generations", s.api("/v1/images/generations", s.handleImageGenerations))
	mux.HandleFunc("POST /v1/audio/speech", s.api("/v1/audio/speech", s.handleAudioSpeech))
	mux.HandleFunc("POST /v1/moderations", s.api("/v1/moderations", s.handleModerations))
	mux.HandleFunc("POST /v1/ranking", s.api("/v1/ranking", s.handleRanking))
	mux.HandleFunc("GET /v1/models", s.api("/v1/models", s.handleModelsList))
	mux.HandleFunc("GET /v1/models/{id}", s.api("/v1/models", s.handleModelGet))

	mux.HandleFunc("GET /images/{file}", s.handleImageGet)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)

	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("GET /metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("GET /metrics/csv", s.handleMetricsCSV)
	mux.HandleFunc("GET /metrics/by-model", s.handleMetricsByModel)
	mux.HandleFunc("GET /metrics/compare", s.handleMetricsCompare)
	mux.HandleFunc("GET /metrics/ranking", s.handleMetricsRanking)
	mux.HandleFunc("GET /metrics/costs", s.handleMetricsCosts)
	mux.HandleFunc("GET /metrics/rate-limits", s.handleRateLimits)
	mux.HandleFunc("GET /metrics/rate-limits/key/{id}", s.handleRateLimitKey)
	mux.HandleFunc("GET /metrics/rate-limits/tier", s.handleRateLimitTier)
	mux.HandleFunc("GET /metrics/rate-limits/throttle-analytics", s.handleThrottleAnalytics)
	mux.HandleFunc("GET /metrics/rate-limits/abuse-patterns", s.handleAbusePatterns)
	mux.HandleFunc("GET /metrics/stream", s.streamer.ServeHTTP)
	mux.HandleFunc("GET /kv-cache", s.handleKVCache)

	return mux
}

// statusRecorder captures the response status for endpoint metrics while
// staying transparent to SSE flushing and write deadlines.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// api wraps an API handler with auth, error injection and endpoint metrics.
func (s *Server) api(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := utils.NowUTC()
		s.registry.RecordRequest(endpoint)

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := utils.NowUTC().Sub(start)
			s.registry.RecordResponse(endpoint, elapsed.Seconds())
			// Rate-limit denials count in rate-limit metrics, not here.
			if status >= 400 && status != http.StatusTooManyRequests {
				s.registry.RecordError(endpoint)
			}
		}()

		if s.cfg.Auth.RequireAPIKey {
			key := bearerToken(r)
			if _, ok := s.apiKeys[key]; key == "" || !ok {
				s.logger.Debug("rejected request with invalid api key", "endpoint", endpoint)
				WriteErrorUnauthorized(rec, "Incorrect API key provided. You can find your API key in your account settings.")
				return
			}
		}

		// Debug body logging; long payload fields (embeddings, base64
		// images) are truncated so one request cannot flood the log.
		if r.Body != nil && s.logger.Enabled(r.Context(), slog.LevelDebug) {
			if body, err := io.ReadAll(r.Body); err == nil {
				r.Body = io.NopCloser(bytes.NewReader(body))
				if len(body) > 0 {
					s.logger.Debug("request body", "endpoint", endpoint,
						"body", logger.TruncateLongFields(string(body), maxLoggedField))
				}
			}
		}

		if s.injector != nil {
			if fault, ok := s.injector.Sample(); ok {
				s.prom.RecordInjectedError(fault.Name)
				s.logger.Debug("injected error", "endpoint", endpoint, "fault", fault.Name)
				apiErr := fault.APIError()
				WriteJSONError(rec, fault.Status, apiErr.Message, apiErr.Type, nil, apiErr.Code)
				return
			}
		}

		h(rec, r)
	}
}

// bearerToken extracts the Authorization bearer credential, empty if absent.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// rateKey identifies the caller for rate limiting. Unauthenticated callers
// share one bucket.
func rateKey(r *http.Request) string {
	if key := bearerToken(r); key != "" {
		return key
	}
	return "anonymous"
}

// checkRateLimit debits the caller's buckets, mirrors the X-RateLimit headers
// onto the response and writes the 429 on denial. Returns false when the
// request must not proceed.
func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint string, tokens int) bool {
	if s.limiter == nil {
		return true
	}
	res := s.limiter.Check(rateKey(r), tokens)
	for name, value := range res.Headers {
		w.Header().Set(name, value)
	}
	if res.Allowed {
		return true
	}
	s.prom.RecordThrottle(endpoint)
	s.logger.Debug("rate limit exceeded", "endpoint", endpoint, "retry_after_ms", res.RetryAfterMillis)
	WriteErrorTooManyRequests(w, fmt.Sprintf(
		"Rate limit reached. Please retry after %.1f seconds.", float64(res.RetryAfterMillis)/1000.0))
	return false
}

// registerModel records a first-seen model id and returns its entry.
// Repeated calls return the same object.
func (s *Server) registerModel(id string) openai.Model {
	s.modelMu.RLock()
	m, ok := s.known[id]
	s.modelMu.RUnlock()
	if ok {
		return m
	}

	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	if m, ok = s.known[id]; ok {
		return m
	}
	m = openai.Model{
		ID:      id,
		Object:  "model",
		Created: utils.NowUTC().Unix(),
		OwnedBy: "system",
	}
	s.known[id] = m
	return m
}

// systemFingerprint derives the stable fp_ identifier echoed on responses.
func systemFingerprint(model string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(model))
	return fmt.Sprintf("fp_%010x", h.Sum64()&0xffffffffff)
}

// metricsSnapshot assembles the sectioned snapshot served on /metrics and
// fanned out by the WebSocket streamer. Section names double as the
// metric_type subscription filters.
func (s *Server) metricsSnapshot() map[string]any {
	endpoints := s.registry.Snapshot()

	latency := make(map[string]metrics.WindowStats, len(endpoints))
	errors := make(map[string]float64, len(endpoints))
	for name, ep := range endpoints {
		latency[name] = ep.Latency
		errors[name] = ep.ErrorsPerSecond
	}

	cache := map[string]any{}
	if s.cache != nil {
		cache["prompt_cache"] = s.cache.Stats()
	}
	if s.router != nil {
		cache["kv_cache"] = s.router.Snapshot()
	}

	queue := map[string]any{
		"active_streams": s.tracker.ActiveCount(),
	}
	if s.router != nil {
		queue["kv_active_requests"] = s.router.Snapshot().ActiveRequests
	}
	if s.limiter != nil {
		queue["rate_limit_keys"] = s.limiter.KeyCount()
	}

	return map[string]any{
		"throughput": endpoints,
		"latency":    latency,
		"cache":      cache,
		"streaming":  s.tracker.Snapshot(),
		"queue":      queue,
		"error":      errors,
	}
}
