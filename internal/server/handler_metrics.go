package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mixaill76/openai-sim/internal/metrics"
	"github.com/mixaill76/openai-sim/internal/ratelimit"
	"github.com/mixaill76/openai-sim/internal/utils"
)

// handleMetrics serves the sectioned JSON snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metricsSnapshot()
	snap["models"] = s.models.Snapshot()
	snap["timestamp"] = utils.NowUTC()
	snap["uptime_seconds"] = utils.NowUTC().Sub(s.start).Seconds()
	writeJSON(w, http.StatusOK, snap)
}

// handleMetricsCSV exports the endpoint windows, or the per-model table with
// ?scope=models.
func (s *Server) handleMetricsCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)

	var err error
	if r.URL.Query().Get("scope") == "models" {
		err = metrics.WriteModelsCSV(w, s.models)
	} else {
		err = metrics.WriteEndpointsCSV(w, s.registry)
	}
	if err != nil {
		s.logger.Error("csv export failed", "err", err)
	}
}

func (s *Server) handleMetricsByModel(w http.ResponseWriter, r *http.Request) {
	if model := r.URL.Query().Get("model"); model != "" {
		snap, ok := s.models.Model(model)
		if !ok {
			WriteErrorNotFound(w, "no metrics recorded for model '"+model+"'")
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, s.models.Snapshot())
}

func (s *Server) handleMetricsCompare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("models")
	if raw == "" {
		WriteErrorBadRequest(w, "models query parameter required, e.g. ?models=gpt-4o,gpt-4o-mini")
		return
	}
	names := strings.Split(raw, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":     s.models.Compare(names),
		"comparison": raw,
	})
}

func (s *Server) handleMetricsRanking(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "requests"
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteErrorBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":  metric,
		"ranking": s.models.Ranking(metric, limit),
	})
}

func (s *Server) handleMetricsCosts(w http.ResponseWriter, r *http.Request) {
	costs, total := s.models.Costs()
	writeJSON(w, http.StatusOK, map[string]any{
		"models":         costs,
		"total_cost_usd": total,
	})
}

// Rate-limit analytics endpoints answer with enabled:false when the limiter
// is off rather than erroring, so dashboards can poll unconditionally.

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	tier := s.limiter.Tier()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   true,
		"tier":      tier.Name,
		"rpm":       tier.RPM,
		"tpm":       tier.TPM,
		"keys_seen": s.limiter.KeyCount(),
		"keys":      s.limiter.Metrics().AllKeys(),
	})
}

func (s *Server) handleRateLimitKey(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	id := r.PathValue("id")
	stats, ok := s.limiter.Metrics().Key(id)
	if !ok {
		WriteErrorNotFound(w, "no rate-limit activity recorded for key '"+id+"'")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRateLimitTier(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"tiers": ratelimit.AllTiers(),
	}
	if s.limiter != nil {
		resp["current"] = s.limiter.Tier()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThrottleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.limiter.Metrics().ThrottleAnalytics())
}

func (s *Server) handleAbusePatterns(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": s.limiter.Metrics().AbusePatterns(),
	})
}

// handleKVCache surfaces the routing decisions aggregate.
func (s *Server) handleKVCache(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.router.Snapshot())
}
