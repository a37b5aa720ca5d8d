package server

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"

	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/textgen"
	"github.com/mixaill76/openai-sim/internal/tokenizer"
	"github.com/mixaill76/openai-sim/internal/utils"
)

const defaultEmbeddingDims = 1536

// embeddingVector generates the deterministic L2-normalized vector for one
// input. The PRNG is seeded from the input hash so identical inputs are
// bit-identical across calls.
func embeddingVector(input string, dims int) []float32 {
	rng := rand.New(rand.NewSource(textgen.Seed(input)))

	vec := make([]float32, dims)
	var sumSq float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		sumSq += v * v
	}

	norm := math.Sqrt(sumSq)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// encodeEmbeddingBase64 packs the vector as little-endian float32 bytes.
func encodeEmbeddingBase64(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	start := utils.NowUTC()
	var req openai.EmbeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	if req.Model == "" {
		WriteErrorBadRequest(w, "you must provide a model parameter")
		return
	}
	inputs := req.Inputs()
	if len(inputs) == 0 {
		WriteErrorBadRequest(w, "input: field required")
		return
	}

	dims := defaultEmbeddingDims
	if req.Dimensions != nil {
		if *req.Dimensions <= 0 {
			WriteErrorBadRequest(w, "dimensions must be a positive integer")
			return
		}
		dims = *req.Dimensions
	}
	switch req.EncodingFormat {
	case "", "float", "base64":
	default:
		WriteErrorBadRequest(w, "encoding_format must be 'float' or 'base64'")
		return
	}
	s.registerModel(req.Model)

	promptTokens := 0
	for _, input := range inputs {
		promptTokens += tokenizer.Estimate(input)
	}
	if !s.checkRateLimit(w, r, "/v1/embeddings", promptTokens) {
		return
	}

	data := make([]openai.Embedding, 0, len(inputs))
	for i, input := range inputs {
		vec := embeddingVector(input, dims)
		var payload interface{} = vec
		if req.EncodingFormat == "base64" {
			payload = encodeEmbeddingBase64(vec)
		}
		data = append(data, openai.Embedding{
			Object:    "embedding",
			Index:     i,
			Embedding: payload,
		})
	}

	resp := openai.EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  req.Model,
		Usage: &openai.Usage{
			PromptTokens: promptTokens,
			TotalTokens:  promptTokens,
		},
	}

	elapsed := utils.NowUTC().Sub(start)
	s.models.RecordRequest(req.Model, "/v1/embeddings", req.User, promptTokens, 0, elapsed)
	s.prom.RecordRequest("/v1/embeddings", req.Model, http.StatusOK, elapsed)
	s.prom.RecordTokens("/v1/embeddings", req.Model, "prompt", promptTokens)
	writeJSON(w, http.StatusOK, resp)
}
