package server

import (
	"net/http"

	"github.com/mixaill76/openai-sim/internal/utils"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": utils.NowUTC().Sub(s.start).Seconds(),
	})
}

// handleHealthDetailed reports per-subsystem state alongside the basic
// health fields.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	streaming := map[string]any{
		"active_streams": s.tracker.ActiveCount(),
	}

	rateLimit := map[string]any{"enabled": s.limiter != nil}
	if s.limiter != nil {
		tier := s.limiter.Tier()
		rateLimit["tier"] = tier.Name
		rateLimit["rpm"] = tier.RPM
		rateLimit["tpm"] = tier.TPM
		rateLimit["keys_seen"] = s.limiter.KeyCount()
	}

	kvCache := map[string]any{"enabled": s.router != nil}
	if s.router != nil {
		snap := s.router.Snapshot()
		kvCache["workers"] = len(snap.Workers)
		kvCache["active_requests"] = snap.ActiveRequests
		kvCache["hit_ratio"] = snap.HitRatio
	}

	promptCache := map[string]any{"enabled": s.cache != nil}
	if s.cache != nil {
		stats := s.cache.Stats()
		promptCache["entries"] = stats.Size
		promptCache["hit_rate"] = stats.HitRate
	}

	ws := map[string]any{
		"connected_clients": s.streamer.ClientCount(),
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": utils.NowUTC().Sub(s.start).Seconds(),
		"subsystems": map[string]any{
			"streaming":       streaming,
			"rate_limit":      rateLimit,
			"kv_cache":        kvCache,
			"prompt_cache":    promptCache,
			"metrics_stream":  ws,
			"error_injection": map[string]any{"enabled": s.injector != nil},
			"images_stored":   s.images.Len(),
		},
	})
}
