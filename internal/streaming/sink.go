// Package streaming drives simulated token emission: SSE chunk pacing,
// reasoning and tool-call phases, timeouts and cancellation.
package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mixaill76/openai-sim/internal/openai"
)

// chunkWriteTimeout bounds a single SSE write. Keeps active streams alive
// while terminating ones whose client stopped reading.
const chunkWriteTimeout = 30 * time.Second

// Sink receives the engine's output. The SSE sink serves streaming
// requests; the collector backs the non-streaming path.
type Sink interface {
	// WriteChunk delivers one chunk.
	WriteChunk(chunk *openai.ChatCompletionChunk) error
	// WriteComment delivers an SSE comment line (keep-alive). Collectors
	// ignore it.
	WriteComment(text string) error
	// WriteDone terminates the stream.
	WriteDone() error
}

// SSESink writes chunks as Server-Sent Events.
type SSESink struct {
	w          http.ResponseWriter
	controller *http.ResponseController
}

// NewSSESink prepares the response for SSE delivery and writes the event
// stream headers. Fails when the writer cannot flush.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &SSESink{
		w:          w,
		controller: http.NewResponseController(w),
	}, nil
}

func (s *SSESink) WriteChunk(chunk *openai.ChatCompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	return s.writeEvent("data: " + string(data) + "\n\n")
}

func (s *SSESink) WriteComment(text string) error {
	return s.writeEvent(": " + text + "\n\n")
}

func (s *SSESink) WriteDone() error {
	return s.writeEvent("data: [DONE]\n\n")
}

// WriteJSON delivers an arbitrary payload as an SSE data event. The legacy
// completions stream uses it for its differently shaped chunks.
func (s *SSESink) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.writeEvent("data: " + string(data) + "\n\n")
}

func (s *SSESink) writeEvent(payload string) error {
	// Set write deadline before each write so a stalled client cannot pin
	// the stream forever.
	_ = s.controller.SetWriteDeadline(time.Now().Add(chunkWriteTimeout))
	if _, err := s.w.Write([]byte(payload)); err != nil {
		return err
	}
	return s.controller.Flush()
}

// Collector accumulates chunks into a complete response message. It is the
// sink for non-streaming requests, which run the same engine with delays
// disabled.
type Collector struct {
	Role         string
	Content      strings.Builder
	Reasoning    strings.Builder
	ToolCalls    []openai.ToolCall
	FinishReason string
	Usage        *openai.Usage
	Err          *openai.APIError

	toolIndex map[int]int // delta index -> position in ToolCalls
}

func NewCollector() *Collector {
	return &Collector{toolIndex: make(map[int]int)}
}

func (c *Collector) WriteChunk(chunk *openai.ChatCompletionChunk) error {
	if chunk.Error != nil {
		c.Err = chunk.Error
	}
	if chunk.Usage != nil {
		c.Usage = chunk.Usage
	}
	for _, choice := range chunk.Choices {
		delta := choice.Delta
		if delta.Role != "" {
			c.Role = delta.Role
		}
		if delta.Content != nil {
			c.Content.WriteString(*delta.Content)
		}
		if delta.ReasoningContent != nil {
			c.Reasoning.WriteString(*delta.ReasoningContent)
		}
		for _, tc := range delta.ToolCalls {
			pos, seen := c.toolIndex[tc.Index]
			if !seen {
				pos = len(c.ToolCalls)
				c.toolIndex[tc.Index] = pos
				c.ToolCalls = append(c.ToolCalls, openai.ToolCall{})
			}
			call := &c.ToolCalls[pos]
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Type != "" {
				call.Type = tc.Type
			}
			if tc.Function != nil {
				if tc.Function.Name != "" {
					call.Function.Name = tc.Function.Name
				}
				call.Function.Arguments += tc.Function.Arguments
			}
		}
		if choice.FinishReason != nil {
			c.FinishReason = *choice.FinishReason
		}
	}
	return nil
}

func (c *Collector) WriteComment(string) error { return nil }
func (c *Collector) WriteDone() error          { return nil }

// Message assembles the collected deltas into a response message.
func (c *Collector) Message() openai.ResponseMessage {
	return openai.ResponseMessage{
		Role:             c.Role,
		Content:          c.Content.String(),
		ReasoningContent: c.Reasoning.String(),
		ToolCalls:        c.ToolCalls,
	}
}
