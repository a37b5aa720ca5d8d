package server

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"strings"

	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/textgen"
	"github.com/mixaill76/openai-sim/internal/tokenizer"
	"github.com/mixaill76/openai-sim/internal/utils"
)

const (
	speechSampleRate = 16000
	// speechWordsPerSecond converts input length to audio duration.
	speechWordsPerSecond = 2.5
)

// speechContentTypes maps requested formats to response content types. Every
// format except pcm is served a WAV container; pcm gets raw samples.
var speechContentTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"opus": "audio/opus",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"pcm":  "audio/pcm",
}

// synthesizeSamples renders 16-bit mono samples: a voice-seeded carrier tone
// with amplitude modulation so the output resembles speech cadence.
func synthesizeSamples(input, voice string, durationSeconds float64) []int16 {
	rng := rand.New(rand.NewSource(textgen.Seed(input + "|" + voice)))
	carrier := 110.0 + rng.Float64()*150 // fundamental in the speech band

	n := int(durationSeconds * speechSampleRate)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / speechSampleRate
		// 3 Hz syllable-rate envelope.
		envelope := 0.5 + 0.5*math.Sin(2*math.Pi*3*t)
		tone := math.Sin(2*math.Pi*carrier*t) + 0.3*math.Sin(2*math.Pi*carrier*2*t)
		noise := (rng.Float64()*2 - 1) * 0.05
		samples[i] = int16((tone*envelope*0.3 + noise) * math.MaxInt16)
	}
	return samples
}

// wavContainer wraps samples in a minimal PCM WAV file.
func wavContainer(samples []int16) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)                        // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:], 1)                         // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1)                         // mono
	binary.LittleEndian.PutUint32(buf[24:], speechSampleRate)          // sample rate
	binary.LittleEndian.PutUint32(buf[28:], speechSampleRate*2)        // byte rate
	binary.LittleEndian.PutUint16(buf[32:], 2)                         // block align
	binary.LittleEndian.PutUint16(buf[34:], 16)                        // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))

	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(sample))
	}
	return buf
}

func pcmBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func (s *Server) handleAudioSpeech(w http.ResponseWriter, r *http.Request) {
	start := utils.NowUTC()
	var req openai.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	if req.Model == "" {
		WriteErrorBadRequest(w, "you must provide a model parameter")
		return
	}
	if req.Input == "" {
		WriteErrorBadRequest(w, "input: field required")
		return
	}
	if req.Voice == "" {
		WriteErrorBadRequest(w, "voice: field required")
		return
	}

	format := req.ResponseFormat
	if format == "" {
		format = "mp3"
	}
	contentType, ok := speechContentTypes[format]
	if !ok {
		WriteErrorBadRequest(w, "response_format must be one of wav, mp3, opus, aac, flac, pcm")
		return
	}

	speed := 1.0
	if req.Speed != nil {
		speed = *req.Speed
	}
	if speed < 0.25 || speed > 4.0 {
		WriteErrorBadRequest(w, "speed must be between 0.25 and 4.0")
		return
	}
	s.registerModel(req.Model)

	promptTokens := tokenizer.Estimate(req.Input)
	if !s.checkRateLimit(w, r, "/v1/audio/speech", promptTokens) {
		return
	}

	words := len(strings.Fields(req.Input))
	duration := float64(words) / speechWordsPerSecond / speed
	if duration < 0.1 {
		duration = 0.1
	}

	samples := synthesizeSamples(req.Input, req.Voice, duration)
	var payload []byte
	if format == "pcm" {
		payload = pcmBytes(samples)
	} else {
		payload = wavContainer(samples)
	}

	elapsed := utils.NowUTC().Sub(start)
	s.models.RecordRequest(req.Model, "/v1/audio/speech", "", promptTokens, 0, elapsed)
	s.prom.RecordRequest("/v1/audio/speech", req.Model, http.StatusOK, elapsed)

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
