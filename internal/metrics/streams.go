package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/mixaill76/openai-sim/internal/utils"
)

// streamArchiveLen bounds the ring of terminal stream records.
const streamArchiveLen = 1000

// StreamState is the lifecycle state of a streaming session.
type StreamState string

const (
	StreamActive    StreamState = "active"
	StreamCompleted StreamState = "completed"
	StreamFailed    StreamState = "failed"
	StreamCancelled StreamState = "cancelled"
)

// StreamRecord tracks a single streaming session from admission to its
// terminal state.
type StreamRecord struct {
	ID         string
	StartTime  time.Time
	FirstToken time.Time
	LastToken  time.Time
	TokenCount int
	State      StreamState
	Error      string
}

// TTFT returns the time to first token, or zero if none was emitted.
func (s *StreamRecord) TTFT() time.Duration {
	if s.FirstToken.IsZero() {
		return 0
	}
	return s.FirstToken.Sub(s.StartTime)
}

// TokensPerSecond returns the decode throughput after the first token.
func (s *StreamRecord) TokensPerSecond() float64 {
	if s.TokenCount < 2 || s.LastToken.IsZero() || s.FirstToken.IsZero() {
		return 0
	}
	elapsed := s.LastToken.Sub(s.FirstToken).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.TokenCount-1) / elapsed
}

// StreamTracker maintains active stream records and a bounded archive of
// terminal ones. Completed or failed streams appear in the archive exactly
// once; active streams never do.
type StreamTracker struct {
	mu        sync.Mutex
	active    map[string]*StreamRecord
	archive   *ring[StreamRecord]
	completed int64
	failed    int64
	cancelled int64
}

func NewStreamTracker() *StreamTracker {
	return &StreamTracker{
		active:  make(map[string]*StreamRecord),
		archive: newRing[StreamRecord](streamArchiveLen),
	}
}

// Start registers a new active stream.
func (t *StreamTracker) Start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = &StreamRecord{
		ID:        id,
		StartTime: utils.NowUTC(),
		State:     StreamActive,
	}
}

// Token records a token emission on an active stream. The first call sets
// the stream's TTFT mark.
func (t *StreamTracker) Token(id string) {
	now := utils.NowUTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.active[id]
	if rec == nil {
		return
	}
	if rec.FirstToken.IsZero() {
		rec.FirstToken = now
	}
	rec.LastToken = now
	rec.TokenCount++
}

// Complete moves a stream to the archive in completed state.
func (t *StreamTracker) Complete(id string) {
	t.finish(id, StreamCompleted, "")
}

// Fail moves a stream to the archive in failed state with a reason.
// Cancellations are failures with the dedicated cancelled state.
func (t *StreamTracker) Fail(id string, reason string) {
	t.finish(id, StreamFailed, reason)
}

// Cancel moves a stream to the archive in cancelled state.
func (t *StreamTracker) Cancel(id string, reason string) {
	t.finish(id, StreamCancelled, reason)
}

func (t *StreamTracker) finish(id string, state StreamState, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.active[id]
	if rec == nil {
		return
	}
	delete(t.active, id)
	rec.State = state
	rec.Error = reason
	t.archive.Append(*rec)
	switch state {
	case StreamCompleted:
		t.completed++
	case StreamCancelled:
		t.cancelled++
		t.failed++
	default:
		t.failed++
	}
}

// StreamingSnapshot is the exported view of streaming lifecycle metrics.
type StreamingSnapshot struct {
	ActiveStreams    int     `json:"active_streams"`
	CompletedStreams int64   `json:"completed_streams"`
	FailedStreams    int64   `json:"failed_streams"`
	CancelledStreams int64   `json:"cancelled_streams"`
	TTFTMillisP50    float64 `json:"ttft_ms_p50"`
	TTFTMillisP90    float64 `json:"ttft_ms_p90"`
	TTFTMillisP99    float64 `json:"ttft_ms_p99"`
	TokensPerSecP50  float64 `json:"tokens_per_second_p50"`
	TokensPerSecP90  float64 `json:"tokens_per_second_p90"`
	TokensPerSecP99  float64 `json:"tokens_per_second_p99"`
}

// Snapshot computes percentile stats over the archived streams.
func (t *StreamTracker) Snapshot() StreamingSnapshot {
	t.mu.Lock()
	snap := StreamingSnapshot{
		ActiveStreams:    len(t.active),
		CompletedStreams: t.completed,
		FailedStreams:    t.failed,
		CancelledStreams: t.cancelled,
	}
	records := t.archive.Values()
	t.mu.Unlock()

	var ttfts, tps []float64
	for i := range records {
		if ttft := records[i].TTFT(); ttft > 0 {
			ttfts = append(ttfts, float64(ttft.Milliseconds()))
		}
		if rate := records[i].TokensPerSecond(); rate > 0 {
			tps = append(tps, rate)
		}
	}
	sort.Float64s(ttfts)
	sort.Float64s(tps)

	snap.TTFTMillisP50 = percentile(ttfts, 50)
	snap.TTFTMillisP90 = percentile(ttfts, 90)
	snap.TTFTMillisP99 = percentile(ttfts, 99)
	snap.TokensPerSecP50 = percentile(tps, 50)
	snap.TokensPerSecP90 = percentile(tps, 90)
	snap.TokensPerSecP99 = percentile(tps, 99)
	return snap
}

// ActiveCount returns the number of currently active streams.
func (t *StreamTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Archived returns a copy of the terminal stream records, oldest first.
func (t *StreamTracker) Archived() []StreamRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.archive.Values()
}
