package streaming

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mixaill76/openai-sim/internal/metrics"
	"github.com/mixaill76/openai-sim/internal/monitoring"
	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/textgen"
	"github.com/mixaill76/openai-sim/internal/utils"
)

const cancelledMessage = "Stream cancelled by client"

// Timing holds the latency parameters the engine simulates.
type Timing struct {
	TTFT         time.Duration
	TTFTVariance float64
	ITL          time.Duration
	ITLVariance  float64
	// Total caps the whole stream; PerToken caps the gap between tokens.
	Total    time.Duration
	PerToken time.Duration
	// KeepAlive emits an SSE comment after this much idle time; zero
	// disables keep-alives.
	KeepAlive time.Duration
	// Disabled turns all sleeps off; the non-streaming path uses this.
	Disabled bool
}

// Session describes one generation to run. The handler precomputes the
// token plan; the engine owns pacing, chunk assembly and termination.
type Session struct {
	ID     string
	Model  string
	Seed   int64
	Object string // chunk object field, "chat.completion.chunk"
	// SystemFingerprint is echoed on every chunk.
	SystemFingerprint string

	ReasoningUnits []string
	ContentUnits   []string
	// StructuredJSON, when set, is emitted as a single content chunk
	// instead of ContentUnits.
	StructuredJSON string
	ToolCalls      []openai.ToolCall
	// ToolDeltas is the streaming split of ToolCalls.
	ToolDeltas []openai.ToolCallDelta

	FinishReason string // terminal finish_reason barring error
	IncludeUsage bool
	Usage        *openai.Usage
}

// Engine paces chunk emission for all streams. Safe for concurrent use;
// each Run call is an independent cooperative loop.
type Engine struct {
	logger  *slog.Logger
	timing  Timing
	tracker *metrics.StreamTracker
	prom    *monitoring.Metrics
}

func NewEngine(logger *slog.Logger, timing Timing, tracker *metrics.StreamTracker, prom *monitoring.Metrics) *Engine {
	return &Engine{
		logger:  logger,
		timing:  timing,
		tracker: tracker,
		prom:    prom,
	}
}

// WithTiming returns a copy of the engine with different timing. The
// non-streaming path uses this to run with delays disabled.
func (e *Engine) WithTiming(timing Timing) *Engine {
	clone := *e
	clone.timing = timing
	return &clone
}

// Run executes one session against the sink. Chunks are emitted in the
// order role, reasoning, content or tool calls, final. The returned error
// is non-nil only for cancellation, where the caller's connection is
// already gone.
func (e *Engine) Run(ctx context.Context, s *Session, sink Sink) error {
	start := utils.NowUTC()
	deadline := start.Add(e.timing.Total)
	rng := rand.New(rand.NewSource(s.Seed))

	e.tracker.Start(s.ID)
	e.prom.StreamStarted()
	e.logger.Debug("stream started", "stream_id", s.ID, "model", s.Model)

	// Phase 1: role announcement.
	if err := sink.WriteChunk(e.chunk(s, openai.Delta{Role: "assistant"}, nil)); err != nil {
		return e.fail(s, "write failed: "+err.Error())
	}

	// Phase 2: time to first token.
	if err := e.pause(ctx, sink, e.vary(rng, e.timing.TTFT, e.timing.TTFTVariance)); err != nil {
		return e.cancelled(s, err)
	}
	e.prom.RecordTTFT(s.Model, utils.NowUTC().Sub(start))
	firstToken := true

	emit := func(delta openai.Delta) (bool, error) {
		if !firstToken {
			gap := e.vary(rng, e.timing.ITL, e.timing.ITLVariance)
			if e.expired(s, sink, start, deadline, gap) {
				return false, nil
			}
			if err := e.pause(ctx, sink, gap); err != nil {
				return false, err
			}
		} else if e.expired(s, sink, start, deadline, 0) {
			return false, nil
		}
		firstToken = false
		if err := sink.WriteChunk(e.chunk(s, delta, nil)); err != nil {
			return false, e.failErr(s, "write failed: "+err.Error())
		}
		e.tracker.Token(s.ID)
		return true, nil
	}

	// Phase 3: reasoning tokens.
	for i := range s.ReasoningUnits {
		text := textgen.ChunkText(s.ReasoningUnits, i)
		ok, err := emit(openai.Delta{ReasoningContent: &text})
		if err != nil {
			return e.cancelled(s, err)
		}
		if !ok {
			return nil
		}
	}

	// Phase 4: content, structured output or tool calls.
	switch {
	case s.StructuredJSON != "":
		body := s.StructuredJSON
		ok, err := emit(openai.Delta{Content: &body})
		if err != nil {
			return e.cancelled(s, err)
		}
		if !ok {
			return nil
		}
	case len(s.ToolDeltas) > 0:
		for _, delta := range s.ToolDeltas {
			ok, err := emit(openai.Delta{ToolCalls: []openai.ToolCallDelta{delta}})
			if err != nil {
				return e.cancelled(s, err)
			}
			if !ok {
				return nil
			}
		}
	default:
		for i := range s.ContentUnits {
			text := textgen.ChunkText(s.ContentUnits, i)
			ok, err := emit(openai.Delta{Content: &text})
			if err != nil {
				return e.cancelled(s, err)
			}
			if !ok {
				return nil
			}
		}
	}

	// Phase 5: final chunk.
	final := e.chunk(s, openai.Delta{}, &s.FinishReason)
	if s.IncludeUsage {
		final.Usage = s.Usage
	}
	if err := sink.WriteChunk(final); err != nil {
		return e.fail(s, "write failed: "+err.Error())
	}
	_ = sink.WriteDone()

	e.tracker.Complete(s.ID)
	e.prom.StreamFinished(string(metrics.StreamCompleted))
	e.logger.Debug("stream completed", "stream_id", s.ID, "model", s.Model)
	return nil
}

// expired enforces the total and per-token timeouts before an emission.
// When a timeout fires it writes the error chunk and marks the session
// failed; the caller stops without an error (the client got a response).
func (e *Engine) expired(s *Session, sink Sink, start, deadline time.Time, gap time.Duration) bool {
	if e.timing.Disabled {
		return false
	}

	now := utils.NowUTC()
	var message string
	switch {
	case e.timing.Total > 0 && !now.Add(gap).Before(deadline):
		message = "Stream exceeded total timeout of " + e.timing.Total.String()
	case e.timing.PerToken >= 0 && gap > e.timing.PerToken:
		message = "Token interval exceeded per-token timeout of " + e.timing.PerToken.String()
	default:
		return false
	}

	code := "timeout_error"
	errChunk := e.chunk(s, openai.Delta{}, nil)
	reason := "error"
	errChunk.Choices[0].FinishReason = &reason
	errChunk.Error = &openai.APIError{
		Message: message,
		Type:    "timeout_error",
		Code:    &code,
	}
	if err := sink.WriteChunk(errChunk); err == nil {
		_ = sink.WriteDone()
	}

	e.tracker.Fail(s.ID, message)
	e.prom.StreamFinished(string(metrics.StreamFailed))
	e.logger.Warn("stream timed out", "stream_id", s.ID, "reason", message, "elapsed", now.Sub(start).String())
	return true
}

// pause sleeps for d, emitting keep-alive comments while idle. Returns the
// context error on cancellation.
func (e *Engine) pause(ctx context.Context, sink Sink, d time.Duration) error {
	if e.timing.Disabled || d <= 0 {
		return ctx.Err()
	}

	remaining := d
	for remaining > 0 {
		slice := remaining
		keepalive := false
		if e.timing.KeepAlive > 0 && slice > e.timing.KeepAlive {
			slice = e.timing.KeepAlive
			keepalive = true
		}

		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		remaining -= slice

		if keepalive {
			if err := sink.WriteComment("keepalive"); err != nil {
				return &writeError{err: err}
			}
		}
	}
	return nil
}

// vary applies uniform variance to a base delay: d * (1 + U(-v, +v)).
func (e *Engine) vary(rng *rand.Rand, d time.Duration, variance float64) time.Duration {
	if e.timing.Disabled || d <= 0 {
		return 0
	}
	if variance <= 0 {
		return d
	}
	factor := 1 + (rng.Float64()*2-1)*variance
	return time.Duration(float64(d) * factor)
}

func (e *Engine) chunk(s *Session, delta openai.Delta, finish *string) *openai.ChatCompletionChunk {
	object := s.Object
	if object == "" {
		object = "chat.completion.chunk"
	}
	return &openai.ChatCompletionChunk{
		ID:                s.ID,
		Object:            object,
		Created:           utils.NowUTC().Unix(),
		Model:             s.Model,
		SystemFingerprint: s.SystemFingerprint,
		Choices: []openai.ChunkChoice{
			{Index: 0, Delta: delta, FinishReason: finish},
		},
	}
}

// writeError marks a sink failure surfaced inside pause, so the terminal
// state stays a failure rather than a cancellation.
type writeError struct{ err error }

func (w *writeError) Error() string { return w.err.Error() }
func (w *writeError) Unwrap() error { return w.err }

// cancelled handles errors out of a pause. Context cancellation fails the
// session with the cancellation message and no error chunk; a sink write
// failure is an ordinary stream failure. Either way the error propagates
// for upstream cleanup.
func (e *Engine) cancelled(s *Session, err error) error {
	if err == nil {
		return nil
	}
	var werr *writeError
	if errors.As(err, &werr) {
		_ = e.failErr(s, "write failed: "+werr.err.Error())
		return werr.err
	}
	e.tracker.Cancel(s.ID, cancelledMessage)
	e.prom.StreamFinished(string(metrics.StreamCancelled))
	e.logger.Info("stream cancelled", "stream_id", s.ID, "model", s.Model)
	return err
}

func (e *Engine) fail(s *Session, reason string) error {
	_ = e.failErr(s, reason)
	return nil
}

func (e *Engine) failErr(s *Session, reason string) error {
	e.tracker.Fail(s.ID, reason)
	e.prom.StreamFinished(string(metrics.StreamFailed))
	e.logger.Warn("stream failed", "stream_id", s.ID, "reason", reason)
	return nil
}
