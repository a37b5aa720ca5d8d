package streaming

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/openai-sim/internal/openai"
)

func TestSSESink_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)

	content := "hello"
	chunk := &openai.ChatCompletionChunk{
		ID:      "chatcmpl-1",
		Object:  "chat.completion.chunk",
		Model:   "gpt-4o",
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{Content: &content}}},
	}
	require.NoError(t, sink.WriteChunk(chunk))
	require.NoError(t, sink.WriteComment("keepalive"))
	require.NoError(t, sink.WriteDone())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	lines := strings.Split(body, "\n\n")
	assert.True(t, strings.HasPrefix(lines[0], "data: {"))
	assert.Contains(t, lines[0], `"content":"hello"`)
	assert.Equal(t, ": keepalive", lines[1])
	assert.Equal(t, "data: [DONE]", lines[2])
}

func TestCollector_AssemblesMessage(t *testing.T) {
	c := NewCollector()

	role := "assistant"
	reasoning := "thinking "
	part1, part2 := "Hello", " world"
	stop := "stop"

	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{Role: role}}},
	}))
	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{ReasoningContent: &reasoning}}},
	}))
	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{Content: &part1}}},
	}))
	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{Content: &part2}, FinishReason: &stop}},
		Usage:   &openai.Usage{TotalTokens: 10},
	}))

	msg := c.Message()
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "Hello world", msg.Content)
	assert.Equal(t, "thinking ", msg.ReasoningContent)
	assert.Equal(t, "stop", c.FinishReason)
	require.NotNil(t, c.Usage)
	assert.Equal(t, 10, c.Usage.TotalTokens)
}

func TestCollector_ToolCallReassembly(t *testing.T) {
	c := NewCollector()

	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{ToolCalls: []openai.ToolCallDelta{
			{Index: 0, ID: "call_1", Type: "function", Function: &openai.ToolCallFunctionDelta{Name: "fn"}},
		}}}},
	}))
	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{ToolCalls: []openai.ToolCallDelta{
			{Index: 0, Function: &openai.ToolCallFunctionDelta{Arguments: `{"a":`}},
		}}}},
	}))
	require.NoError(t, c.WriteChunk(&openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.Delta{ToolCalls: []openai.ToolCallDelta{
			{Index: 0, Function: &openai.ToolCallFunctionDelta{Arguments: `1}`}},
		}}}},
	}))

	require.Len(t, c.ToolCalls, 1)
	assert.Equal(t, "call_1", c.ToolCalls[0].ID)
	assert.Equal(t, "fn", c.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"a":1}`, c.ToolCalls[0].Function.Arguments)
}
