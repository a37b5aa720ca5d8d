package kvcache

import (
	"sync"
)

// Cost model defaults. Decode is weighted heavier than prefill because
// decode occupies a worker for the whole generation; load cost dominates so
// routing spreads traffic before chasing cache hits on a busy worker.
const (
	defaultCostPrefill = 1.0
	defaultCostDecode  = 2.0
	defaultCostLoad    = 50.0
)

// Router picks the cheapest worker for each request based on estimated
// prefill, decode and load cost. The prefill term shrinks with the length of
// the prefix the worker already has cached.
type Router struct {
	workers   []*Worker
	blockSize int

	alpha, beta, gamma          float64
	costPrefill, costDecode, costLoad float64

	mu           sync.Mutex
	rr           int // round-robin tiebreaker
	requests     int64
	cachedTokens int64
	promptTokens int64
}

// Option configures a Router.
type Option func(*Router)

// WithOverlapWeight sets the prefill overlap weight (alpha).
func WithOverlapWeight(alpha float64) Option {
	return func(r *Router) { r.alpha = alpha }
}

// NewRouter creates a router over a fixed pool of numWorkers workers.
// Workers are created at startup and never destroyed.
func NewRouter(numWorkers, blockSize int, opts ...Option) *Router {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if blockSize <= 0 {
		blockSize = 16
	}
	workers := make([]*Worker, numWorkers)
	for i := range workers {
		workers[i] = newWorker(i)
	}
	r := &Router{
		workers:     workers,
		blockSize:   blockSize,
		alpha:       1.0,
		beta:        1.0,
		gamma:       1.0,
		costPrefill: defaultCostPrefill,
		costDecode:  defaultCostDecode,
		costLoad:    defaultCostLoad,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decision records the outcome of a routing choice. It stays attached to the
// request until completion and is surfaced in cache metrics.
type Decision struct {
	WorkerID      string  `json:"worker_id"`
	MatchedTokens int     `json:"matched_tokens"`
	PromptTokens  int     `json:"prompt_tokens"`
	PrefillCost   float64 `json:"prefill_cost"`
	DecodeCost    float64 `json:"decode_cost"`
	LoadCost      float64 `json:"load_cost"`
	TotalCost     float64 `json:"total_cost"`

	worker *Worker
	blocks []uint64
}

// CachedTokens returns the block-aligned cached token count for the chosen
// worker. Always a multiple of the block size and never above PromptTokens.
func (d *Decision) CachedTokens() int {
	return d.MatchedTokens
}

// Route selects the cheapest worker for a prompt. promptText is the
// normalized prompt token stream, promptTokens its estimated token count and
// expectedOutput the expected number of generated tokens.
// The chosen worker's active request count is incremented before return;
// callers must pair every Route with exactly one Complete.
func (r *Router) Route(promptText string, promptTokens, expectedOutput int) *Decision {
	blocks := BlockKeys(promptText, r.blockSize)

	type scored struct {
		worker  *Worker
		matched int
		active  int
		prefill float64
		decode  float64
		load    float64
		total   float64
	}

	best := scored{total: -1}
	r.mu.Lock()
	rrStart := r.rr
	r.mu.Unlock()

	for i := range r.workers {
		// Start the scan at the round-robin cursor so exact ties rotate.
		w := r.workers[(rrStart+i)%len(r.workers)]
		matched := w.matchedBlocks(blocks) * r.blockSize
		if matched > promptTokens {
			matched = promptTokens
		}
		active := w.ActiveRequests()

		prefill := float64(promptTokens-matched) * r.costPrefill
		decode := float64(expectedOutput) * r.costDecode
		load := float64(active) * r.costLoad
		total := r.alpha*prefill + r.beta*decode + r.gamma*load

		candidate := scored{
			worker: w, matched: matched, active: active,
			prefill: prefill, decode: decode, load: load, total: total,
		}
		if best.total < 0 || total < best.total ||
			(total == best.total && active < best.active) {
			best = candidate
		}
	}

	best.worker.admit()

	r.mu.Lock()
	r.rr = (r.rr + 1) % len(r.workers)
	r.requests++
	r.cachedTokens += int64(best.matched)
	r.promptTokens += int64(promptTokens)
	r.mu.Unlock()

	return &Decision{
		WorkerID:      best.worker.ID,
		MatchedTokens: best.matched,
		PromptTokens:  promptTokens,
		PrefillCost:   best.prefill,
		DecodeCost:    best.decode,
		LoadCost:      best.load,
		TotalCost:     best.total,
		worker:        best.worker,
		blocks:        blocks,
	}
}

// Complete releases the routed worker and records the request's prefix
// blocks in its index so future requests can reuse them.
func (r *Router) Complete(d *Decision, outputTokens int) {
	if d == nil || d.worker == nil {
		return
	}
	d.worker.complete(d.blocks, d.PromptTokens+outputTokens)
	d.worker = nil
}

// BlockSize returns the configured token block size.
func (r *Router) BlockSize() int {
	return r.blockSize
}

// Snapshot summarizes router and worker state for the cache metrics endpoint.
type Snapshot struct {
	BlockSize       int              `json:"block_size"`
	Requests        int64            `json:"requests"`
	CachedTokens    int64            `json:"cached_tokens"`
	PromptTokens    int64            `json:"prompt_tokens"`
	HitRatio        float64          `json:"hit_ratio"`
	ActiveRequests  int              `json:"active_requests"`
	Workers         []WorkerSnapshot `json:"workers"`
}

func (r *Router) Snapshot() Snapshot {
	snap := Snapshot{BlockSize: r.blockSize}

	r.mu.Lock()
	snap.Requests = r.requests
	snap.CachedTokens = r.cachedTokens
	snap.PromptTokens = r.promptTokens
	r.mu.Unlock()

	if snap.PromptTokens > 0 {
		snap.HitRatio = float64(snap.CachedTokens) / float64(snap.PromptTokens)
	}
	for _, w := range r.workers {
		ws := w.snapshot()
		snap.ActiveRequests += ws.ActiveRequests
		snap.Workers = append(snap.Workers, ws)
	}
	return snap
}
