package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/utils"
)

// moderationCategories maps category names to their keyword lists. Matching
// is on lowercased whole input, substring per keyword.
var moderationCategories = map[string][]string{
	"violence": {
		"kill", "murder", "attack", "assault", "bomb", "shoot", "stab",
		"weapon", "massacre", "torture",
	},
	"hate": {
		"hate", "racist", "bigot", "slur", "supremacist", "ethnic cleansing",
	},
	"self-harm": {
		"suicide", "self-harm", "self harm", "cut myself", "kill myself",
		"overdose", "end my life",
	},
	"sexual": {
		"sexual", "explicit", "porn", "nsfw", "erotic",
	},
}

// flagThreshold is the score at which a category is marked flagged.
const flagThreshold = 0.5

// moderateText scores one input against every category. The score grows with
// the number of matched keywords: matched/(matched+1), so a single match
// lands exactly on the flag threshold.
func moderateText(input string) openai.ModerationResult {
	lower := strings.ToLower(input)

	result := openai.ModerationResult{
		Categories:     make(map[string]bool, len(moderationCategories)),
		CategoryScores: make(map[string]float64, len(moderationCategories)),
	}
	for category, keywords := range moderationCategories {
		matched := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		score := float64(matched) / float64(matched+1)
		flagged := score >= flagThreshold
		result.Categories[category] = flagged
		result.CategoryScores[category] = score
		if flagged {
			result.Flagged = true
		}
	}
	return result
}

func (s *Server) handleModerations(w http.ResponseWriter, r *http.Request) {
	start := utils.NowUTC()
	var req openai.ModerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	inputs := req.Inputs()
	if len(inputs) == 0 {
		WriteErrorBadRequest(w, "input: field required")
		return
	}

	model := req.Model
	if model == "" {
		model = "text-moderation-latest"
	}
	s.registerModel(model)

	if !s.checkRateLimit(w, r, "/v1/moderations", len(inputs)) {
		return
	}

	resp := openai.ModerationResponse{
		ID:      "modr-" + uuid.NewString(),
		Model:   model,
		Results: make([]openai.ModerationResult, 0, len(inputs)),
	}
	for _, input := range inputs {
		resp.Results = append(resp.Results, moderateText(input))
	}

	elapsed := utils.NowUTC().Sub(start)
	s.models.RecordRequest(model, "/v1/moderations", "", 0, 0, elapsed)
	s.prom.RecordRequest("/v1/moderations", model, http.StatusOK, elapsed)
	writeJSON(w, http.StatusOK, resp)
}
