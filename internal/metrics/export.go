package metrics

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteEndpointsCSV writes the endpoint snapshot as CSV, one row per
// endpoint, sorted by path.
func WriteEndpointsCSV(w io.Writer, reg *Registry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"endpoint", "requests_per_second", "responses_per_second",
		"tokens_per_second", "errors_per_second",
		"latency_avg_seconds", "latency_p50_seconds", "latency_p99_seconds",
	}); err != nil {
		return err
	}

	snap := reg.Snapshot()
	for _, name := range reg.Endpoints() {
		es := snap[name]
		row := []string{
			name,
			formatFloat(es.RequestsPerSecond),
			formatFloat(es.ResponsesPerSecond),
			formatFloat(es.TokensPerSecond),
			formatFloat(es.ErrorsPerSecond),
			formatFloat(es.Latency.Avg),
			formatFloat(es.Latency.P50),
			formatFloat(es.Latency.P99),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteModelsCSV writes per-model attribution as CSV, sorted by model name.
func WriteModelsCSV(w io.Writer, tracker *ModelTracker) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"model", "request_count", "prompt_tokens", "completion_tokens",
		"total_tokens", "error_count", "error_rate", "cost_usd",
		"avg_latency_seconds", "p90_latency_seconds",
	}); err != nil {
		return err
	}

	for _, s := range tracker.Snapshot() {
		row := []string{
			s.Model,
			strconv.FormatInt(s.RequestCount, 10),
			strconv.FormatInt(s.PromptTokens, 10),
			strconv.FormatInt(s.CompletionTokens, 10),
			strconv.FormatInt(s.TotalTokens, 10),
			strconv.FormatInt(s.ErrorCount, 10),
			formatFloat(s.ErrorRate),
			formatFloat(s.CostUSD),
			formatFloat(s.AvgLatencySecs),
			formatFloat(s.P90LatencySecs),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
