package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/tokenizer"
	"github.com/mixaill76/openai-sim/internal/utils"
)

// rankingLogit scores a passage against the query by word overlap. The
// overlap fraction in [0,1] is mapped to a logit in [-10,10].
func rankingLogit(query, passage string) float64 {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return -10
	}
	passageWords := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(passage)) {
		passageWords[strings.Trim(word, ".,!?;:")] = true
	}

	matched := 0
	for _, word := range queryWords {
		if passageWords[strings.Trim(word, ".,!?;:")] {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(queryWords))
	return overlap*20 - 10
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	start := utils.NowUTC()
	var req openai.RankingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	if req.Query.Text == "" {
		WriteErrorBadRequest(w, "query.text: field required")
		return
	}
	if len(req.Passages) == 0 {
		WriteErrorBadRequest(w, "passages: field required and must be a non-empty array")
		return
	}

	model := req.Model
	if model == "" {
		model = "nvidia/rerank-qa-mistral-4b"
	}
	s.registerModel(model)

	promptTokens := tokenizer.Estimate(req.Query.Text)
	for _, p := range req.Passages {
		promptTokens += tokenizer.Estimate(p.Text)
	}
	if !s.checkRateLimit(w, r, "/v1/ranking", promptTokens) {
		return
	}

	rankings := make([]openai.Ranking, 0, len(req.Passages))
	for i, passage := range req.Passages {
		rankings = append(rankings, openai.Ranking{
			Index: i,
			Logit: rankingLogit(req.Query.Text, passage.Text),
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].Logit > rankings[j].Logit
	})

	elapsed := utils.NowUTC().Sub(start)
	s.models.RecordRequest(model, "/v1/ranking", "", promptTokens, 0, elapsed)
	s.prom.RecordRequest("/v1/ranking", model, http.StatusOK, elapsed)
	writeJSON(w, http.StatusOK, openai.RankingResponse{Rankings: rankings})
}
