package metrics

import "strings"

// modelPrice is the $ cost per 1K prompt and completion tokens.
// The table is advisory: published prices change and vary across sources,
// so treat these as stable reference values for cost attribution, not
// billing-grade data.
type modelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

var priceTable = map[string]modelPrice{
	"gpt-4o":                   {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":              {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4-turbo":              {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-3.5-turbo":            {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"openai/gpt-oss-120b":      {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"openai/gpt-oss-20b":       {InputPer1K: 0.00005, OutputPer1K: 0.0002},
	"deepseek-ai/DeepSeek-R1":  {InputPer1K: 0.00055, OutputPer1K: 0.00219},
	"deepseek-v3":              {InputPer1K: 0.00027, OutputPer1K: 0.0011},
	"meta-llama/Llama-3.1-70B": {InputPer1K: 0.00059, OutputPer1K: 0.00079},
	"meta-llama/Llama-3.1-8B":  {InputPer1K: 0.00005, OutputPer1K: 0.00008},
	"text-embedding-3-small":   {InputPer1K: 0.00002, OutputPer1K: 0},
	"text-embedding-3-large":   {InputPer1K: 0.00013, OutputPer1K: 0},
}

// defaultPrice applies to models absent from the table.
var defaultPrice = modelPrice{InputPer1K: 0.0005, OutputPer1K: 0.0015}

func priceFor(model string) modelPrice {
	if p, ok := priceTable[model]; ok {
		return p
	}
	// Fuzzy fallback: strip an org prefix and retry.
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		if p, ok := priceTable[model[idx+1:]]; ok {
			return p
		}
	}
	return defaultPrice
}

// Cost computes the attributed cost in USD for one request.
func Cost(model string, promptTokens, completionTokens int) float64 {
	p := priceFor(model)
	return float64(promptTokens)/1000.0*p.InputPer1K +
		float64(completionTokens)/1000.0*p.OutputPer1K
}
