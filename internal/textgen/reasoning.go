package textgen

import "strings"

const (
	reasoningMinTokens = 20
	reasoningMaxTokens = 60
)

// reasoningModels matches model identifiers that emit chain-of-thought
// content before the final answer. Matching is on the lowercased id.
var reasoningModelMarkers = []string{
	"deepseek-r1", "deepseek-reasoner", "o1", "o3", "o4", "qwq",
	"reasoning", "-r1",
}

// IsReasoningModel reports whether the model id denotes a reasoning-capable
// model, i.e. one that streams reasoning_content chunks before the answer.
func IsReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, marker := range reasoningModelMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ReasoningTokenCount derives the chain-of-thought length from the prompt
// seed so that repeated identical prompts reason for the same number of
// tokens. The result is always within [20, 60].
func ReasoningTokenCount(seed int64) int {
	span := int64(reasoningMaxTokens - reasoningMinTokens + 1)
	offset := seed % span
	if offset < 0 {
		offset += span
	}
	return reasoningMinTokens + int(offset)
}

// ReasoningUnits generates the reasoning token stream for a prompt seed.
// A distinct seed derivation keeps reasoning text different from the answer
// generated for the same prompt.
func ReasoningUnits(seed int64) []string {
	n := ReasoningTokenCount(seed)
	return Units(seed^0x5DEECE66D, n)
}
