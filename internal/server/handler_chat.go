package server

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mixaill76/openai-sim/internal/contextwin"
	"github.com/mixaill76/openai-sim/internal/kvcache"
	"github.com/mixaill76/openai-sim/internal/openai"
	"github.com/mixaill76/openai-sim/internal/promptcache"
	"github.com/mixaill76/openai-sim/internal/streaming"
	"github.com/mixaill76/openai-sim/internal/structured"
	"github.com/mixaill76/openai-sim/internal/textgen"
	"github.com/mixaill76/openai-sim/internal/tokenizer"
	"github.com/mixaill76/openai-sim/internal/toolcall"
	"github.com/mixaill76/openai-sim/internal/utils"
)

const (
	chatEndpoint        = "/v1/chat/completions"
	completionsEndpoint = "/v1/completions"

	// naturalMinTokens/naturalMaxTokens bound the answer length a prompt
	// produces when the caller does not cap max_tokens.
	naturalMinTokens = 30
	naturalMaxTokens = 120

	// assumedVideoSeconds is charged for video attachments whose duration
	// cannot be recovered from a URL.
	assumedVideoSeconds = 10
)

// chatPlan is everything computed up front for one chat request: token
// accounting, routing decision and the streaming session to run.
type chatPlan struct {
	session      *streaming.Session
	fingerprint  string
	promptTokens int
	outputTokens int
	decision     *kvcache.Decision
}

// naturalTokens derives the uncapped answer length from the prompt seed so
// identical prompts answer at identical length.
func naturalTokens(seed int64) int {
	span := int64(naturalMaxTokens - naturalMinTokens + 1)
	offset := seed % span
	if offset < 0 {
		offset += span
	}
	return naturalMinTokens + int(offset)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	if req.Model == "" {
		WriteErrorBadRequest(w, "you must provide a model parameter")
		return
	}
	if len(req.Messages) == 0 {
		WriteErrorBadRequest(w, "messages: field required and must be a non-empty array")
		return
	}
	s.registerModel(req.Model)

	plan, ok := s.planChat(w, r, &req)
	if !ok {
		return
	}

	if req.Stream {
		s.streamChat(w, r, &req, plan)
	} else {
		s.respondChat(w, r, &req, plan)
	}
}

// planChat validates the request and builds the generation plan. On failure
// the error response is already written and ok is false.
func (s *Server) planChat(w http.ResponseWriter, r *http.Request, req *openai.ChatCompletionRequest) (*chatPlan, bool) {
	promptTokens, promptText := s.countPrompt(req)

	limit := -1 // -1 means the caller did not cap the answer
	if req.MaxCompletionTokens != nil {
		limit = *req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		limit = *req.MaxTokens
	}
	if limit < -1 {
		WriteErrorBadRequest(w, "max_tokens must be a non-negative integer")
		return nil, false
	}

	var seed int64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = textgen.Seed(promptText)
	}

	natural := naturalTokens(seed)
	contentTokens := natural
	finish := "stop"
	if limit >= 0 && natural > limit {
		contentTokens = limit
		finish = "length"
	}

	// Output budget for window validation and the TPM debit.
	budget := contentTokens
	if limit >= 0 {
		budget = limit
	}

	if s.cfg.Safety.ContextValidation {
		if err := contextwin.Validate(req.Model, promptTokens, budget); err != nil {
			var exceeded *contextwin.ExceededError
			if errors.As(err, &exceeded) {
				WriteErrorBadRequestCode(w, exceeded.Error(), exceeded.Code())
				return nil, false
			}
			WriteErrorBadRequest(w, err.Error())
			return nil, false
		}
	}

	if !s.checkRateLimit(w, r, chatEndpoint, promptTokens+budget) {
		return nil, false
	}

	session := &streaming.Session{
		ID:                "chatcmpl-" + uuid.NewString(),
		Model:             req.Model,
		Seed:              seed,
		Object:            "chat.completion.chunk",
		SystemFingerprint: systemFingerprint(req.Model),
		FinishReason:      finish,
		IncludeUsage:      req.StreamOptions != nil && req.StreamOptions.IncludeUsage,
	}

	reasoningTokens := 0
	if textgen.IsReasoningModel(req.Model) && limit != 0 {
		session.ReasoningUnits = textgen.ReasoningUnits(seed)
		reasoningTokens = len(session.ReasoningUnits)
	}

	completionTokens := contentTokens
	switch {
	case s.refusePrompt(promptText):
		refusal := refusalMessage
		session.ReasoningUnits = nil
		reasoningTokens = 0
		session.ContentUnits = []string{refusal}
		session.FinishReason = "content_filter"
		completionTokens = tokenizer.Estimate(refusal)

	case limit == 0:
		// Zero budget: role chunk and final chunk only.
		session.FinishReason = "length"
		completionTokens = 0

	case req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema" && req.ResponseFormat.JSONSchema != nil:
		spec := req.ResponseFormat.JSONSchema
		if spec.Strict != nil && *spec.Strict {
			if err := structured.ValidateStrict(spec.Schema, req.ParallelToolCallsEnabled()); err != nil {
				WriteErrorBadRequest(w, "Invalid schema for response_format '"+spec.Name+"': "+err.Error())
				return nil, false
			}
		}
		body, err := structured.NewGenerator(seed).GenerateJSON(spec.Schema)
		if err != nil {
			WriteErrorBadRequest(w, "Invalid schema for response_format '"+spec.Name+"': "+err.Error())
			return nil, false
		}
		session.StructuredJSON = body
		session.FinishReason = "stop"
		completionTokens = tokenizer.Estimate(body)

	case req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object":
		body, _ := json.Marshal(map[string]string{"response": textgen.Text(seed, contentTokens)})
		session.StructuredJSON = string(body)
		completionTokens = tokenizer.Estimate(string(body))

	case len(req.Tools) > 0:
		decision, forced, err := toolcall.Resolve(req)
		if err != nil {
			WriteErrorBadRequest(w, err.Error())
			return nil, false
		}
		if decision == toolcall.EmitCalls {
			calls, err := toolcall.Synthesize(req, forced, seed)
			if err != nil {
				WriteErrorBadRequest(w, err.Error())
				return nil, false
			}
			session.ToolCalls = calls
			session.ToolDeltas = toolcall.Deltas(calls)
			session.FinishReason = "tool_calls"
			completionTokens = 0
			for _, call := range calls {
				completionTokens += tokenizer.Estimate(call.Function.Name) + tokenizer.Estimate(call.Function.Arguments)
			}
			break
		}
		session.ContentUnits = textgen.Units(seed, contentTokens)

	default:
		session.ContentUnits = textgen.Units(seed, contentTokens)
	}

	fingerprint := promptcache.Fingerprint(req)
	cachedTokens := s.cache.Get(fingerprint)
	if cachedTokens > promptTokens {
		cachedTokens = promptTokens
	}

	var decision *kvcache.Decision
	if s.router != nil {
		decision = s.router.Route(promptText, promptTokens, budget)
		s.prom.RecordKVCacheRoute(decision.CachedTokens(), promptTokens-decision.CachedTokens())
	}

	usage := &openai.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	if cachedTokens > 0 {
		usage.PromptTokensDetails = &openai.PromptTokensDetails{CachedTokens: cachedTokens}
	}
	if reasoningTokens > 0 {
		usage.CompletionTokensDetails = &openai.CompletionTokensDetails{ReasoningTokens: reasoningTokens}
	}
	session.Usage = usage

	return &chatPlan{
		session:      session,
		fingerprint:  fingerprint,
		promptTokens: promptTokens,
		outputTokens: completionTokens,
		decision:     decision,
	}, true
}

// countPrompt estimates prompt tokens across text and multimodal parts and
// returns the flattened prompt text used for seeding and routing.
func (s *Server) countPrompt(req *openai.ChatCompletionRequest) (int, string) {
	texts := make([]string, 0, len(req.Messages)+1)
	if s.cfg.Safety.SafetyFeatures && s.cfg.Safety.PrependSafetyMessage {
		texts = append(texts, safetySystemMessage)
	}

	extra := 0
	var prompt strings.Builder
	for i := range req.Messages {
		m := &req.Messages[i]
		text := m.TextContent()
		texts = append(texts, text)
		if prompt.Len() > 0 {
			prompt.WriteByte('\n')
		}
		prompt.WriteString(text)

		for _, part := range m.ContentParts() {
			switch part.Type {
			case "image_url":
				if part.ImageURL != nil {
					extra += tokenizer.EstimateImage(part.ImageURL.Detail, 0, 0)
				}
			case "input_audio":
				if part.InputAudio != nil {
					// 16 kHz 16-bit mono: base64 payload length back to seconds.
					bytes := float64(len(part.InputAudio.Data)) * 3 / 4
					extra += tokenizer.EstimateAudio(bytes / 32000)
				}
			case "video_url":
				if part.VideoURL != nil {
					extra += tokenizer.EstimateVideo(assumedVideoSeconds)
				}
			}
		}
	}
	return tokenizer.EstimateMessages(texts) + extra, prompt.String()
}

// finishChat records the completed request in every metrics surface and
// releases the routed worker.
func (s *Server) finishChat(endpoint string, req *openai.ChatCompletionRequest, plan *chatPlan, start time.Time, status int) {
	if plan.decision != nil {
		s.router.Complete(plan.decision, plan.outputTokens)
	}
	if s.cache != nil && plan.fingerprint != "" {
		matched := 0
		if plan.decision != nil {
			matched = plan.decision.CachedTokens()
		}
		s.cache.Put(plan.fingerprint, plan.promptTokens, matched)
	}

	elapsed := utils.NowUTC().Sub(start)
	s.models.RecordRequest(req.Model, endpoint, req.User, plan.promptTokens, plan.outputTokens, elapsed)
	s.registry.RecordTokens(endpoint, plan.outputTokens)
	s.prom.RecordRequest(endpoint, req.Model, status, elapsed)
	s.prom.RecordTokens(endpoint, req.Model, "prompt", plan.promptTokens)
	s.prom.RecordTokens(endpoint, req.Model, "completion", plan.outputTokens)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *openai.ChatCompletionRequest, plan *chatPlan) {
	start := utils.NowUTC()
	sink, err := streaming.NewSSESink(w)
	if err != nil {
		WriteErrorInternal(w, "streaming is not supported on this connection")
		return
	}

	runErr := s.engine.Run(r.Context(), plan.session, sink)
	s.finishChat(chatEndpoint, req, plan, start, http.StatusOK)
	if runErr != nil {
		s.logger.Debug("chat stream ended early", "stream_id", plan.session.ID, "err", runErr)
	}
}

func (s *Server) respondChat(w http.ResponseWriter, r *http.Request, req *openai.ChatCompletionRequest, plan *chatPlan) {
	start := utils.NowUTC()
	if err := s.responseDelay(r); err != nil {
		return // client went away during the simulated delay
	}

	collector := streaming.NewCollector()
	engine := s.engine.WithTiming(streaming.Timing{Disabled: true})
	if err := engine.Run(r.Context(), plan.session, collector); err != nil {
		s.finishChat(chatEndpoint, req, plan, start, http.StatusInternalServerError)
		WriteErrorInternal(w, "The server had an error processing your request.")
		return
	}

	resp := openai.ChatCompletion{
		ID:                plan.session.ID,
		Object:            "chat.completion",
		Created:           utils.NowUTC().Unix(),
		Model:             req.Model,
		SystemFingerprint: plan.session.SystemFingerprint,
		Choices: []openai.Choice{
			{Index: 0, Message: collector.Message(), FinishReason: collector.FinishReason},
		},
		Usage: plan.session.Usage,
	}
	s.finishChat(chatEndpoint, req, plan, start, http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

// responseDelay simulates fixed non-streaming processing latency.
func (s *Server) responseDelay(r *http.Request) error {
	d := s.cfg.Timing.ResponseDelay
	if d <= 0 {
		return nil
	}
	if s.cfg.Timing.RandomDelay && s.cfg.Timing.MaxVariance > 0 {
		factor := 1 + (rand.Float64()*2-1)*s.cfg.Timing.MaxVariance
		d = time.Duration(float64(d) * factor)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.Context().Done():
		return r.Context().Err()
	case <-timer.C:
		return nil
	}
}

// Legacy text completions. The plan is a reduced chat plan: no tools, no
// structured output, no reasoning, default cap from configuration.

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorBadRequest(w, "We could not parse the JSON body of your request: "+err.Error())
		return
	}
	if req.Model == "" {
		WriteErrorBadRequest(w, "you must provide a model parameter")
		return
	}
	prompt := req.PromptText()
	if prompt == "" {
		WriteErrorBadRequest(w, "prompt: field required")
		return
	}
	s.registerModel(req.Model)

	promptTokens := tokenizer.Estimate(prompt)
	limit := s.cfg.Timing.DefaultMaxTok
	if req.MaxTokens != nil {
		limit = *req.MaxTokens
	}
	if limit < 0 {
		WriteErrorBadRequest(w, "max_tokens must be a non-negative integer")
		return
	}

	seed := textgen.Seed(prompt)
	natural := naturalTokens(seed)
	contentTokens := natural
	finish := "stop"
	if natural > limit {
		contentTokens = limit
		finish = "length"
	}

	if s.cfg.Safety.ContextValidation {
		if err := contextwin.Validate(req.Model, promptTokens, limit); err != nil {
			var exceeded *contextwin.ExceededError
			if errors.As(err, &exceeded) {
				WriteErrorBadRequestCode(w, exceeded.Error(), exceeded.Code())
				return
			}
			WriteErrorBadRequest(w, err.Error())
			return
		}
	}
	if !s.checkRateLimit(w, r, completionsEndpoint, promptTokens+limit) {
		return
	}

	session := &streaming.Session{
		ID:                "cmpl-" + uuid.NewString(),
		Model:             req.Model,
		Seed:              seed,
		Object:            "chat.completion.chunk",
		SystemFingerprint: systemFingerprint(req.Model),
		ContentUnits:      textgen.Units(seed, contentTokens),
		FinishReason:      finish,
		Usage: &openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: contentTokens,
			TotalTokens:      promptTokens + contentTokens,
		},
	}
	var decision *kvcache.Decision
	if s.router != nil {
		decision = s.router.Route(prompt, promptTokens, limit)
		s.prom.RecordKVCacheRoute(decision.CachedTokens(), promptTokens-decision.CachedTokens())
	}

	start := utils.NowUTC()
	finishUp := func(status int) {
		if decision != nil {
			s.router.Complete(decision, contentTokens)
		}
		elapsed := utils.NowUTC().Sub(start)
		s.models.RecordRequest(req.Model, completionsEndpoint, req.User, promptTokens, contentTokens, elapsed)
		s.registry.RecordTokens(completionsEndpoint, contentTokens)
		s.prom.RecordRequest(completionsEndpoint, req.Model, status, elapsed)
		s.prom.RecordTokens(completionsEndpoint, req.Model, "prompt", promptTokens)
		s.prom.RecordTokens(completionsEndpoint, req.Model, "completion", contentTokens)
	}

	if req.Stream {
		sse, err := streaming.NewSSESink(w)
		if err != nil {
			WriteErrorInternal(w, "streaming is not supported on this connection")
			return
		}
		sink := &completionStreamSink{sse: sse, id: session.ID, model: req.Model}
		runErr := s.engine.Run(r.Context(), session, sink)
		finishUp(http.StatusOK)
		if runErr != nil {
			s.logger.Debug("completion stream ended early", "stream_id", session.ID, "err", runErr)
		}
		return
	}

	if err := s.responseDelay(r); err != nil {
		return
	}
	collector := streaming.NewCollector()
	engine := s.engine.WithTiming(streaming.Timing{Disabled: true})
	if err := engine.Run(r.Context(), session, collector); err != nil {
		finishUp(http.StatusInternalServerError)
		WriteErrorInternal(w, "The server had an error processing your request.")
		return
	}

	resp := openai.Completion{
		ID:      session.ID,
		Object:  "text_completion",
		Created: utils.NowUTC().Unix(),
		Model:   req.Model,
		Choices: []openai.CompletionChoice{
			{Index: 0, Text: collector.Content.String(), FinishReason: collector.FinishReason},
		},
		Usage: session.Usage,
	}
	finishUp(http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

// completionStreamSink rewraps engine chunks into the legacy text_completion
// stream shape before handing them to the SSE writer.
type completionStreamSink struct {
	sse   *streaming.SSESink
	id    string
	model string
}

func (c *completionStreamSink) WriteChunk(chunk *openai.ChatCompletionChunk) error {
	out := openai.Completion{
		ID:      c.id,
		Object:  "text_completion",
		Created: chunk.Created,
		Model:   c.model,
		Usage:   chunk.Usage,
	}
	for _, choice := range chunk.Choices {
		text := ""
		if choice.Delta.Content != nil {
			text = *choice.Delta.Content
		}
		finish := ""
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}
		out.Choices = append(out.Choices, openai.CompletionChoice{
			Index:        choice.Index,
			Text:         text,
			FinishReason: finish,
		})
	}
	return c.sse.WriteJSON(out)
}

func (c *completionStreamSink) WriteComment(text string) error { return c.sse.WriteComment(text) }
func (c *completionStreamSink) WriteDone() error               { return c.sse.WriteDone() }
