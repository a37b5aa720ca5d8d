package server

import (
	"net/http"
	"sort"

	"github.com/mixaill76/openai-sim/internal/openai"
)

// defaultModels are pre-registered so an empty server still lists a
// plausible catalog.
var defaultModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-3.5-turbo",
	"openai/gpt-oss-120b",
	"deepseek-ai/DeepSeek-R1",
	"text-embedding-3-small",
}

func (s *Server) handleModelsList(w http.ResponseWriter, r *http.Request) {
	for _, id := range defaultModels {
		s.registerModel(id)
	}

	s.modelMu.RLock()
	models := make([]openai.Model, 0, len(s.known))
	for _, m := range s.known {
		models = append(models, m)
	}
	s.modelMu.RUnlock()

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	writeJSON(w, http.StatusOK, openai.ModelsResponse{Object: "list", Data: models})
}

// handleModelGet auto-creates any first-seen id; repeated requests return
// the same object.
func (s *Server) handleModelGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorNotFound(w, "model not found")
		return
	}
	writeJSON(w, http.StatusOK, s.registerModel(id))
}
