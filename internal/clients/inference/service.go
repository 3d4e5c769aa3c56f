/*-------------------------------------------------------------------------
 *
 * service.go
 *    LLM inference client
 *
 * Wraps a langchaingo model. Structured calls run in JSON mode and the
 * reply is validated against a compiled schema before it is decoded;
 * output that fails validation is a hard error for the calling step.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/inference/service.go
 *
 *-------------------------------------------------------------------------
 */

package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rakshittt/grow/internal/config"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/reliability"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	ErrMalformedOutput = errors.New("malformed model output")
	ErrEmptyResponse   = errors.New("empty model response")
)

/* Input is what the optimizer hands over for a proposal */
type Input struct {
	Rule      db.Rule
	Campaigns []model.Campaign
	Ads       []model.Ad
}

type Service interface {
	Propose(ctx context.Context, in Input) ([]model.ProposedAction, error)
	AnalyzeAds(ctx context.Context, ads []model.ScrapedAd, competitor string) (model.SpyReport, error)
	Summarize(ctx context.Context, report model.SpyReport, competitor string) (string, error)
}

type LLMService struct {
	model       llms.Model
	temperature float64
	maxTokens   int
	schemas     *schemas
	breaker     *reliability.CircuitBreaker
}

/* NewOpenAIModel builds the langchaingo OpenAI model from configuration */
func NewOpenAIModel(cfg config.InferenceConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("inference api key is required: provider='%s'", cfg.Provider)
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client creation failed: error=%w", err)
	}
	return client, nil
}

func NewLLMService(m llms.Model, cfg config.InferenceConfig) (*LLMService, error) {
	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &LLMService{
		model:       m,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		schemas:     compiled,
		breaker:     reliability.NewCircuitBreaker("inference", 5, time.Minute),
	}, nil
}

/* Propose asks for actions and drops no_action entries */
func (s *LLMService) Propose(ctx context.Context, in Input) ([]model.ProposedAction, error) {
	raw, err := s.generate(ctx, "propose", optimizerSystemPrompt, proposalPrompt(in), true)
	if err != nil {
		return nil, err
	}

	var out struct {
		Actions []model.ProposedAction `json:"actions"`
		Summary string                 `json:"summary"`
	}
	if err := decodeValidated(raw, s.schemas.proposals.Validate, normalizeProposals, &out); err != nil {
		return nil, err
	}

	actions := make([]model.ProposedAction, 0, len(out.Actions))
	for _, a := range out.Actions {
		if a.Kind == model.ActionNoAction {
			continue
		}
		actions = append(actions, a)
	}
	metrics.DebugWithContext(ctx, "Inference proposed actions", map[string]interface{}{
		"rule_id":  in.Rule.ID.String(),
		"proposed": len(out.Actions),
		"kept":     len(actions),
		"summary":  out.Summary,
	})
	return actions, nil
}

func (s *LLMService) AnalyzeAds(ctx context.Context, ads []model.ScrapedAd, competitor string) (model.SpyReport, error) {
	raw, err := s.generate(ctx, "analyze_ads", spySystemPrompt, analysisPrompt(ads, competitor), true)
	if err != nil {
		return model.SpyReport{}, err
	}
	var report model.SpyReport
	if err := decodeValidated(raw, s.schemas.report.Validate, nil, &report); err != nil {
		return model.SpyReport{}, err
	}
	return report, nil
}

func (s *LLMService) Summarize(ctx context.Context, report model.SpyReport, competitor string) (string, error) {
	text, err := s.generate(ctx, "summarize", "", narrativePrompt(report, competitor), false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *LLMService) generate(ctx context.Context, op, system, prompt string, jsonMode bool) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{
		llms.WithTemperature(s.temperature),
		llms.WithMaxTokens(s.maxTokens),
	}
	if jsonMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	var resp *llms.ContentResponse
	err := s.breaker.Execute(ctx, func() error {
		var err error
		resp, err = s.model.GenerateContent(ctx, messages, callOpts...)
		return err
	})
	metrics.RecordExternalCall("inference", op, err)
	if err != nil {
		return "", fmt.Errorf("inference %s failed: error=%w", op, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("inference %s failed: error=%w", op, ErrEmptyResponse)
	}
	return resp.Choices[0].Content, nil
}

/*
 * decodeValidated parses raw into a generic value, optionally normalizes
 * it, validates it and only then decodes it into out.
 */
func decodeValidated(raw string, validate func(interface{}) error, normalize func(interface{}), out interface{}) error {
	raw = stripFences(raw)

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: invalid json: %v", ErrMalformedOutput, err)
	}
	if normalize != nil {
		normalize(doc)
	}
	if err := validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

/* normalizeProposals lowercases action kinds and folds the long pause/resume names */
func normalizeProposals(doc interface{}) {
	root, ok := doc.(map[string]interface{})
	if !ok {
		return
	}
	actions, ok := root["actions"].([]interface{})
	if !ok {
		return
	}
	for _, item := range actions {
		action, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		kind, ok := action["action_type"].(string)
		if !ok {
			continue
		}
		kind = strings.ToLower(kind)
		switch kind {
		case "pause_ad":
			kind = string(model.ActionPause)
		case "resume_ad":
			kind = string(model.ActionResume)
		}
		action["action_type"] = kind
	}
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}
