package kvcache

import (
	"fmt"
	"sync"
)

// Worker is a simulated inference instance. It tracks in-flight request
// count and owns a radix index of the prefixes it has processed. All mutable
// state is guarded by the worker's own lock; the index is only consistent
// per worker, which is all the router needs.
type Worker struct {
	ID string

	mu              sync.Mutex
	index           *radixIndex
	activeRequests  int
	tokensProcessed int64
}

func newWorker(id int) *Worker {
	return &Worker{
		ID:    fmt.Sprintf("worker-%d", id),
		index: newRadixIndex(),
	}
}

// matchedBlocks returns how many leading blocks of the sequence this worker
// has cached.
func (w *Worker) matchedBlocks(blocks []uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index.MatchedBlocks(blocks)
}

// ActiveRequests returns the current in-flight request count.
func (w *Worker) ActiveRequests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeRequests
}

func (w *Worker) admit() {
	w.mu.Lock()
	w.activeRequests++
	w.mu.Unlock()
}

// complete releases the worker slot and records the request's blocks in the
// worker's index.
func (w *Worker) complete(blocks []uint64, totalTokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activeRequests > 0 {
		w.activeRequests--
	}
	w.tokensProcessed += int64(totalTokens)
	if len(blocks) > 0 {
		w.index.Insert(blocks)
	}
}

// WorkerSnapshot is a point-in-time copy of a worker's state for metrics.
type WorkerSnapshot struct {
	ID              string `json:"id"`
	ActiveRequests  int    `json:"active_requests"`
	CachedBlocks    int    `json:"cached_blocks"`
	TokensProcessed int64  `json:"tokens_processed"`
}

func (w *Worker) snapshot() WorkerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerSnapshot{
		ID:              w.ID,
		ActiveRequests:  w.activeRequests,
		CachedBlocks:    w.index.Size(),
		TokensProcessed: w.tokensProcessed,
	}
}
