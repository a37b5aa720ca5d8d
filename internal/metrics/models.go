package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/mixaill76/openai-sim/internal/utils"
)

// modelLatencyLen bounds the per-model latency sample ring.
const modelLatencyLen = 1000

// hourBuckets is the span of the per-hour request histogram.
const hourBuckets = 24

// modelStats accumulates lifetime counters for one model.
type modelStats struct {
	requests         int64
	promptTokens     int64
	completionTokens int64
	errors           int64
	cost             float64
	latency          *ring[float64]
	byEndpoint       map[string]int64
	byUser           map[string]int64
	// hourly[h] counts requests whose UTC hour was h.
	hourly [hourBuckets]int64
}

func newModelStats() *modelStats {
	return &modelStats{
		latency:    newRing[float64](modelLatencyLen),
		byEndpoint: make(map[string]int64),
		byUser:     make(map[string]int64),
	}
}

// ModelTracker attributes requests, tokens, latency and cost to models.
type ModelTracker struct {
	mu     sync.Mutex
	models map[string]*modelStats
}

func NewModelTracker() *ModelTracker {
	return &ModelTracker{models: make(map[string]*modelStats)}
}

// RecordRequest attributes one completed request to a model. The user may be
// empty when the request carried no attributable key.
func (t *ModelTracker) RecordRequest(model, endpoint, user string, promptTokens, completionTokens int, latency time.Duration) {
	hour := utils.NowUTC().Hour()
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.models[model]
	if st == nil {
		st = newModelStats()
		t.models[model] = st
	}
	st.requests++
	st.promptTokens += int64(promptTokens)
	st.completionTokens += int64(completionTokens)
	st.cost += Cost(model, promptTokens, completionTokens)
	st.latency.Append(latency.Seconds())
	st.byEndpoint[endpoint]++
	if user != "" {
		st.byUser[user]++
	}
	st.hourly[hour]++
}

// RecordError attributes an error response to a model.
func (t *ModelTracker) RecordError(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.models[model]
	if st == nil {
		st = newModelStats()
		t.models[model] = st
	}
	st.errors++
}

// ModelSnapshot is the exported per-model view.
type ModelSnapshot struct {
	Model            string           `json:"model"`
	RequestCount     int64            `json:"request_count"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
	TotalTokens      int64            `json:"total_tokens"`
	ErrorCount       int64            `json:"error_count"`
	ErrorRate        float64          `json:"error_rate"`
	CostUSD          float64          `json:"cost_usd"`
	AvgLatencySecs   float64          `json:"avg_latency_seconds"`
	P90LatencySecs   float64          `json:"p90_latency_seconds"`
	ByEndpoint       map[string]int64 `json:"by_endpoint"`
	ByUser           map[string]int64 `json:"by_user"`
	Hourly           []int64          `json:"requests_by_hour"`
}

func (t *ModelTracker) snapshotLocked(model string, st *modelStats) ModelSnapshot {
	snap := ModelSnapshot{
		Model:            model,
		RequestCount:     st.requests,
		PromptTokens:     st.promptTokens,
		CompletionTokens: st.completionTokens,
		TotalTokens:      st.promptTokens + st.completionTokens,
		ErrorCount:       st.errors,
		CostUSD:          st.cost,
		ByEndpoint:       make(map[string]int64, len(st.byEndpoint)),
		ByUser:           make(map[string]int64, len(st.byUser)),
		Hourly:           make([]int64, hourBuckets),
	}
	for k, v := range st.byEndpoint {
		snap.ByEndpoint[k] = v
	}
	for k, v := range st.byUser {
		snap.ByUser[k] = v
	}
	copy(snap.Hourly, st.hourly[:])

	total := st.requests + st.errors
	if total > 0 {
		snap.ErrorRate = float64(st.errors) / float64(total)
	}
	lat := st.latency.Values()
	if len(lat) > 0 {
		var sum float64
		for _, v := range lat {
			sum += v
		}
		snap.AvgLatencySecs = sum / float64(len(lat))
		sorted := append([]float64(nil), lat...)
		sort.Float64s(sorted)
		snap.P90LatencySecs = percentile(sorted, 90)
	}
	return snap
}

// Model returns the snapshot for one model, and whether it exists.
func (t *ModelTracker) Model(model string) (ModelSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.models[model]
	if st == nil {
		return ModelSnapshot{}, false
	}
	return t.snapshotLocked(model, st), true
}

// Snapshot returns snapshots for every model seen so far, sorted by name.
func (t *ModelTracker) Snapshot() []ModelSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ModelSnapshot, 0, len(t.models))
	for model, st := range t.models {
		out = append(out, t.snapshotLocked(model, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Compare returns side-by-side snapshots for the named models, skipping
// models with no recorded traffic.
func (t *ModelTracker) Compare(models []string) []ModelSnapshot {
	out := make([]ModelSnapshot, 0, len(models))
	for _, m := range models {
		if snap, ok := t.Model(m); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Ranking metrics.
const (
	RankByLatency        = "latency"
	RankByErrorRate      = "error_rate"
	RankByCostEfficiency = "cost_efficiency"
)

// RankedModel is one entry of a model ranking.
type RankedModel struct {
	Model string  `json:"model"`
	Value float64 `json:"value"`
}

// Ranking orders models by the given metric, best first. Lower is better for
// every supported metric: average latency, error rate, and cost per request.
// Unknown metrics fall back to latency.
func (t *ModelTracker) Ranking(metric string, limit int) []RankedModel {
	snaps := t.Snapshot()
	ranked := make([]RankedModel, 0, len(snaps))
	for _, s := range snaps {
		var v float64
		switch metric {
		case RankByErrorRate:
			v = s.ErrorRate
		case RankByCostEfficiency:
			if s.RequestCount > 0 {
				v = s.CostUSD / float64(s.RequestCount)
			}
		default:
			v = s.AvgLatencySecs
		}
		ranked = append(ranked, RankedModel{Model: s.Model, Value: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value < ranked[j].Value
		}
		return ranked[i].Model < ranked[j].Model
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// ModelCost is the cost attribution summary for one model.
type ModelCost struct {
	Model          string  `json:"model"`
	CostUSD        float64 `json:"cost_usd"`
	CostPerRequest float64 `json:"cost_per_request"`
	TotalTokens    int64   `json:"total_tokens"`
}

// Costs returns per-model cost attribution plus the grand total.
func (t *ModelTracker) Costs() ([]ModelCost, float64) {
	snaps := t.Snapshot()
	out := make([]ModelCost, 0, len(snaps))
	var total float64
	for _, s := range snaps {
		mc := ModelCost{
			Model:       s.Model,
			CostUSD:     s.CostUSD,
			TotalTokens: s.TotalTokens,
		}
		if s.RequestCount > 0 {
			mc.CostPerRequest = s.CostUSD / float64(s.RequestCount)
		}
		out = append(out, mc)
		total += s.CostUSD
	}
	return out, total
}
