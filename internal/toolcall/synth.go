// Package toolcall synthesizes OpenAI-style tool calls for declared tools.
package toolcall

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/structured"
)

// maxParallelCalls caps how many simultaneous calls a single turn emits.
const maxParallelCalls = 3

// argumentChunkBytes is the maximum size of one streamed arguments delta.
const argumentChunkBytes = 20

// Decision is the resolved tool-choice policy for a request.
type Decision int

const (
	// EmitText means the turn produces normal content, no tool calls.
	EmitText Decision = iota
	// EmitCalls means the turn produces tool calls.
	EmitCalls
)

// PolicyError is a caller mistake in tool configuration.
type PolicyError struct {
	Message string
}

func (e *PolicyError) Error() string { return e.Message }

// Resolve interprets tool_choice against the declared tools.
// forced is non-empty when a specific function was requested.
func Resolve(req *openai.ChatCompletionRequest) (Decision, string, error) {
	switch choice := req.ToolChoice.(type) {
	case nil:
		if len(req.Tools) > 0 {
			return EmitCalls, "", nil
		}
		return EmitText, "", nil
	case string:
		switch choice {
		case "none":
			return EmitText, "", nil
		case "auto", "":
			if len(req.Tools) > 0 {
				return EmitCalls, "", nil
			}
			return EmitText, "", nil
		case "required":
			if len(req.Tools) == 0 {
				return EmitText, "", &PolicyError{Message: "tool_choice 'required' but no tools were provided"}
			}
			return EmitCalls, "", nil
		default:
			return EmitText, "", &PolicyError{Message: fmt.Sprintf("invalid tool_choice value %q", choice)}
		}
	case map[string]any:
		fn, _ := choice["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			return EmitText, "", &PolicyError{Message: "tool_choice object must name a function"}
		}
		for _, tool := range req.Tools {
			if tool.Function.Name == name {
				return EmitCalls, name, nil
			}
		}
		return EmitText, "", &PolicyError{Message: fmt.Sprintf("tool_choice names unknown function %q", name)}
	default:
		return EmitText, "", &PolicyError{Message: "tool_choice must be a string or an object"}
	}
}

// Synthesize produces the tool calls for a request whose policy resolved to
// EmitCalls. Arguments conform to each function's parameters schema;
// functions without a schema get empty arguments.
func Synthesize(req *openai.ChatCompletionRequest, forced string, seed int64) ([]openai.ToolCall, error) {
	rng := rand.New(rand.NewSource(seed))

	var chosen []openai.Tool
	if forced != "" {
		for _, tool := range req.Tools {
			if tool.Function.Name == forced {
				chosen = []openai.Tool{tool}
				break
			}
		}
	} else {
		n := 1
		if req.ParallelToolCallsEnabled() && len(req.Tools) > 1 {
			limit := len(req.Tools)
			if limit > maxParallelCalls {
				limit = maxParallelCalls
			}
			n = 1 + rng.Intn(limit)
		}
		// Pick n distinct tools starting at a seeded offset.
		start := rng.Intn(len(req.Tools))
		for i := 0; i < n; i++ {
			chosen = append(chosen, req.Tools[(start+i)%len(req.Tools)])
		}
	}

	calls := make([]openai.ToolCall, 0, len(chosen))
	for i, tool := range chosen {
		args := "{}"
		if len(tool.Function.Parameters) > 0 {
			gen := structured.NewGenerator(seed + int64(i))
			generated, err := gen.GenerateJSON(tool.Function.Parameters)
			if err != nil {
				return nil, fmt.Errorf("generate arguments for %s: %w", tool.Function.Name, err)
			}
			args = generated
		}
		calls = append(calls, openai.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Type: "function",
			Function: openai.ToolCallFunction{
				Name:      tool.Function.Name,
				Arguments: args,
			},
		})
	}
	return calls, nil
}

// Deltas splits synthesized calls into the OpenAI streaming wire shape:
// per call, a header delta carrying id/type/name, then argument string
// chunks whose concatenation is the full arguments JSON.
func Deltas(calls []openai.ToolCall) []openai.ToolCallDelta {
	var out []openai.ToolCallDelta
	for i, call := range calls {
		out = append(out, openai.ToolCallDelta{
			Index: i,
			ID:    call.ID,
			Type:  call.Type,
			Function: &openai.ToolCallFunctionDelta{
				Name: call.Function.Name,
			},
		})
		args := call.Function.Arguments
		for len(args) > 0 {
			n := argumentChunkBytes
			if n > len(args) {
				n = len(args)
			}
			out = append(out, openai.ToolCallDelta{
				Index: i,
				Function: &openai.ToolCallFunctionDelta{
					Arguments: args[:n],
				},
			})
			args = args[n:]
		}
	}
	return out
}

// ArgumentsValid reports whether every call carries parseable JSON
// arguments. Used by the final chunk assembly to assert wire invariants.
func ArgumentsValid(calls []openai.ToolCall) bool {
	for _, call := range calls {
		if !json.Valid([]byte(call.Function.Arguments)) {
			return false
		}
	}
	return true
}
