// Package contextwin validates prompt plus completion budgets against
// per-model context windows.
package contextwin

import (
	"fmt"
	"strings"
)

// defaultWindow applies to models absent from the table.
const defaultWindow = 8192

// windowTable maps model base names to context window sizes in tokens.
// Advisory values; the point is realistic context_length_exceeded behavior,
// not an authoritative catalog.
var windowTable = map[string]int{
	"gpt-oss-120b":           131072,
	"gpt-oss-20b":            131072,
	"gpt-4o":                 128000,
	"gpt-4o-mini":            128000,
	"gpt-4-turbo":            128000,
	"gpt-4":                  8192,
	"gpt-3.5-turbo":          16385,
	"deepseek-r1":            65536,
	"deepseek-r1-distill":    131072,
	"deepseek-v3":            65536,
	"llama-3.1-405b":         131072,
	"llama-3.1-70b":          131072,
	"llama-3.1-8b":           131072,
	"qwq-32b":                32768,
	"text-embedding-3-small": 8191,
	"text-embedding-3-large": 8191,
}

// Window returns the context window for a model. Unknown models get the
// conservative default. Matching is case-insensitive on the base name with
// a substring fallback so org-prefixed and suffixed variants resolve.
func Window(model string) int {
	name := strings.ToLower(model)
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if w, ok := windowTable[name]; ok {
		return w
	}
	for base, w := range windowTable {
		if strings.Contains(name, base) {
			return w
		}
	}
	return defaultWindow
}

// ExceededError reports a prompt + completion budget that does not fit the
// model's window. It renders the OpenAI context_length_exceeded message.
type ExceededError struct {
	Model            string
	Window           int
	PromptTokens     int
	CompletionTokens int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf(
		"This model's maximum context length is %d tokens. However, you requested %d tokens (%d in the messages, %d in the completion). Please reduce the length of the messages or completion.",
		e.Window, e.PromptTokens+e.CompletionTokens, e.PromptTokens, e.CompletionTokens)
}

// Code is the OpenAI error code for the failure.
func (e *ExceededError) Code() string { return "context_length_exceeded" }

// Validate checks that promptTokens plus the completion budget fit the
// model's window. A budget that exactly fills the window passes.
func Validate(model string, promptTokens, completionTokens int) error {
	window := Window(model)
	if promptTokens+completionTokens > window {
		return &ExceededError{
			Model:            model,
			Window:           window,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
		}
	}
	return nil
}

// Fit clamps a requested completion budget to what the window allows after
// the prompt. Returns 0 when the prompt alone fills the window.
func Fit(model string, promptTokens, requested int) int {
	room := Window(model) - promptTokens
	if room < 0 {
		return 0
	}
	if requested > room {
		return room
	}
	return requested
}
