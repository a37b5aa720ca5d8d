// Package promptcache simulates provider-side prompt caching: repeated
// prompts above the size threshold report cached prompt tokens in usage.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mixaill76/openai-sim/internal/openai"
)

// Fingerprint derives a stable identity for a chat request from the fields
// that affect the prompt prefix: model, normalized messages, tool
// definitions and response format. Sampling fields (temperature, top_p,
// max_tokens, stream) do not participate, matching provider cache behavior.
func Fingerprint(req *openai.ChatCompletionRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	h.Write([]byte{0})

	for _, msg := range req.Messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(msg.TextContent())))
		h.Write([]byte{0})
	}

	// Tool order is not semantic; sort by name for a stable digest.
	if len(req.Tools) > 0 {
		tools := make([]openai.Tool, len(req.Tools))
		copy(tools, req.Tools)
		sort.Slice(tools, func(i, j int) bool {
			return tools[i].Function.Name < tools[j].Function.Name
		})
		for _, tool := range tools {
			h.Write([]byte(tool.Function.Name))
			h.Write([]byte{0})
			if tool.Function.Parameters != nil {
				raw, err := json.Marshal(tool.Function.Parameters)
				if err == nil {
					h.Write(raw)
				}
			}
			h.Write([]byte{0})
		}
	}

	if req.ResponseFormat != nil {
		h.Write([]byte(req.ResponseFormat.Type))
		h.Write([]byte{0})
		if req.ResponseFormat.JSONSchema != nil {
			raw, err := json.Marshal(req.ResponseFormat.JSONSchema)
			if err == nil {
				h.Write(raw)
			}
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
