package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/mixaill76/openai-sim/internal/utils"
)

// windowSize is the span of the sliding windows used for rate metrics.
const windowSize = 5 * time.Second

type sample struct {
	at    time.Time
	value float64
}

// window is a sliding time window of (timestamp, value) samples.
// Expired samples are pruned lazily on read and write; all operations hold
// the window's own lock and never any other.
type window struct {
	mu      sync.Mutex
	samples []sample
	span    time.Duration
}

func newWindow() *window {
	return &window{span: windowSize}
}

func (w *window) Record(value float64) {
	w.RecordAt(utils.NowUTC(), value)
}

func (w *window) RecordAt(at time.Time, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(at)
	w.samples = append(w.samples, sample{at: at, value: value})
}

// prune drops samples older than the window span. Caller holds the lock.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	keep := 0
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			break
		}
		keep++
	}
	if keep > 0 {
		w.samples = w.samples[keep:]
	}
}

// Count returns the number of samples currently in the window.
func (w *window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(utils.NowUTC())
	return len(w.samples)
}

// Rate returns samples per second over the window span.
func (w *window) Rate() float64 {
	return float64(w.Count()) / w.span.Seconds()
}

// Sum returns the sum of sample values in the window.
func (w *window) Sum() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(utils.NowUTC())
	var sum float64
	for _, s := range w.samples {
		sum += s.value
	}
	return sum
}

// Stats returns average and percentiles over the window values with a
// single sort. Zero values when the window is empty.
func (w *window) Stats() WindowStats {
	w.mu.Lock()
	w.prune(utils.NowUTC())
	values := make([]float64, len(w.samples))
	for i, s := range w.samples {
		values[i] = s.value
	}
	w.mu.Unlock()

	if len(values) == 0 {
		return WindowStats{}
	}
	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	return WindowStats{
		Count: len(values),
		Avg:   sum / float64(len(values)),
		P50:   percentile(values, 50),
		P90:   percentile(values, 90),
		P99:   percentile(values, 99),
	}
}

// WindowStats summarizes the values inside one sliding window.
type WindowStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// percentile picks the nearest-rank percentile from sorted values.
func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * pct / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
