package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/textgen"
	"github.com/mixaill76/openai-sim/internal/tokenizer"
	"github.com/mixaill76/openai-sim/internal/utils"
)

const maxImagesPerRequest = 10

// imageStore holds generated PNGs in memory until their TTL expires.
// Expired entries are dropped lazily on access.
type imageStore struct {
	mu      sync.Mutex
	entries map[string]imageEntry
	ttl     time.Duration
}

type imageEntry struct {
	data    []byte
	expires time.Time
}

func newImageStore(ttl time.Duration) *imageStore {
	return &imageStore{
		entries: make(map[string]imageEntry),
		ttl:     ttl,
	}
}

func (st *imageStore) Put(id string, data []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.entries[id] = imageEntry{data: data, expires: utils.NowUTC().Add(st.ttl)}
}

func (st *imageStore) Get(id string) ([]byte, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.entries[id]
	if !ok {
		return nil, false
	}
	if utils.NowUTC().After(entry.expires) {
		delete(st.entries, id)
		return nil, false
	}
	return entry.data, true
}

func (st *imageStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// parseImageSize parses "WxH", defaulting to 1024x1024.
func parseImageSize(size string) (int, int, error) {
	if size == "" {
		return 1024, 1024, nil
	}
	parts := strings.SplitN(strings.ToLower(size), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", size)
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 || w > 4096 || h > 4096 {
		return 0, 0, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", size)
	}
	return w, h, nil
}

// renderPNG draws a deterministic gradient with a prompt-seeded palette and
// a diagonal stripe pattern, then encodes it as PNG.
func renderPNG(prompt string, index, width, height int) ([]byte, error) {
	rng := rand.New(rand.NewSource(textgen.Seed(prompt) + int64(index)))

	base := color.NRGBA{
		R: uint8(rng.Intn(200) + 30),
		G: uint8(rng.Intn(200) + 30),
		B: uint8(rng.Intn(200) + 30),
		A: 255,
	}
	accent := color.NRGBA{
		R: 255 - base.R,
		G: 255 - base.G,
		B: 255 - base.B,
		A: 255,
	}
	stripe := 16 + rng.Intn(48)

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		// Vertical gradient toward white.
		blend := float64(y) / float64(height)
		row := color.NRGBA{
			R: uint8(float64(base.R) + (255-float64(base.R))*blend),
			G: uint8(float64(base.G) + (255-float64(base.G))*blend),
			B: uint8(float64(base.B) + (255-float64(base.B))*blend),
			A: 255,
		}
		for x := 0; x < width; x++ {
			if (x+y)/stripe%2 == 0 {
				img.SetNRGBA(x, y, row)
			} else {
				img.SetNRGBA(x, y, accent)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) handleImageGenerations(w http.ResponseWriter, r *http.Request) {
	start := utils.NowUTC()
	var req openai.ImageGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	if req.Prompt == "" {
		WriteErrorBadRequest(w, "prompt: field required")
		return
	}

	n := 1
	if req.N != nil {
		n = *req.N
	}
	if n < 1 || n > maxImagesPerRequest {
		WriteErrorBadRequest(w, fmt.Sprintf("n must be between 1 and %d", maxImagesPerRequest))
		return
	}
	width, height, err := parseImageSize(req.Size)
	if err != nil {
		WriteErrorBadRequest(w, err.Error())
		return
	}
	format := req.ResponseFormat
	if format == "" {
		format = "url"
	}
	if format != "url" && format != "b64_json" {
		WriteErrorBadRequest(w, "response_format must be 'url' or 'b64_json'")
		return
	}

	model := req.Model
	if model == "" {
		model = "dall-e-3"
	}
	s.registerModel(model)

	promptTokens := tokenizer.Estimate(req.Prompt)
	if !s.checkRateLimit(w, r, "/v1/images/generations", promptTokens) {
		return
	}

	resp := openai.ImageGenerationResponse{
		Created: utils.NowUTC().Unix(),
		Data:    make([]openai.ImageData, 0, n),
	}
	for i := 0; i < n; i++ {
		data, err := renderPNG(req.Prompt, i, width, height)
		if err != nil {
			WriteErrorInternal(w, "image generation failed")
			return
		}
		item := openai.ImageData{RevisedPrompt: req.Prompt}
		if format == "b64_json" {
			item.B64JSON = base64.StdEncoding.EncodeToString(data)
		} else {
			id := uuid.NewString()
			s.images.Put(id, data)
			item.URL = fmt.Sprintf("http://%s/images/%s.png", r.Host, id)
		}
		resp.Data = append(resp.Data, item)
	}

	elapsed := utils.NowUTC().Sub(start)
	s.models.RecordRequest(model, "/v1/images/generations", req.User, promptTokens, 0, elapsed)
	s.prom.RecordRequest("/v1/images/generations", model, http.StatusOK, elapsed)
	writeJSON(w, http.StatusOK, resp)
}

// handleImageGet serves a previously generated image until its TTL expires.
func (s *Server) handleImageGet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(r.PathValue("file"), ".png")
	data, ok := s.images.Get(id)
	if !ok {
		WriteErrorNotFound(w, "image not found or expired")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
