package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package llm implements the correlation engine backed by an OpenAI-compatible
// chat completion API.
//
// Responsibilities:
//   - Render a language-specific prompt from the query, the ranked documents
//     and the action outputs
//   - Call the chat completion endpoint (any OpenAI-compatible base URL)
//   - Parse the reply into summary, findings, recommendations and the
//     self-reported confidence
//
// Reply format (requested by the system prompt):
//
//   <answer paragraph>
//   Findings:
//   - ...
//   Recommendations:
//   - ...
//   Confidence: NN%
//
// A reply without a confidence line gets the configured default confidence.

const maxSummaryRunes = 600

var confidenceLine = regexp.MustCompile(`(?i)^\**\s*(?:confidence|신뢰도)\s*\**\s*[:：]\s*\**\s*(\d{1,3}(?:\.\d+)?)\s*%`)

// Options configures the engine.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Confidence  float64 // used when the reply carries no confidence line
}

// OptionsFromConfig builds engine options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	l := cfg.Engines.LLM
	return Options{
		BaseURL:     l.BaseURL,
		APIKey:      l.APIKey,
		Model:       l.Model,
		MaxTokens:   l.MaxTokens,
		Temperature: l.Temperature,
		Confidence:  l.Confidence,
	}
}

// Engine is the LLM engine.
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu     sync.RWMutex
	client *openai.Client
}

// New creates the engine. The API client is built by Initialize.
func New(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Confidence <= 0 {
		opts.Confidence = 0.7
	}
	return &Engine{opts: opts, logger: logger}
}

func (e *Engine) Name() string { return config.EngineLLM }

func (e *Engine) Initialize(ctx context.Context) error {
	if e.opts.APIKey == "" {
		return engines.NotConfigured(e.Name(), "engines.llm.api_key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	clientConfig := openai.DefaultConfig(e.opts.APIKey)
	if e.opts.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(e.opts.BaseURL, "/")
	}

	e.mu.Lock()
	e.client = openai.NewClientWithConfig(clientConfig)
	e.mu.Unlock()

	e.logger.Info("llm engine initialized", zap.String("model", e.opts.Model), zap.String("base_url", clientConfig.BaseURL))
	return nil
}

func (e *Engine) Dispose(context.Context) error {
	e.mu.Lock()
	e.client = nil
	e.mu.Unlock()
	return nil
}

func (e *Engine) Analyze(ctx context.Context, req *engines.Request) (*models.EngineResult, error) {
	if req == nil || req.Query == nil || strings.TrimSpace(req.Query.Original) == "" {
		return nil, engines.ErrNotApplicable
	}
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%s: client not initialized: %w", e.Name(), engines.ErrNotConfigured)
	}

	start := time.Now()
	prompt, err := renderUserPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Korean())},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   e.opts.MaxTokens,
		Temperature: float32(e.opts.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("chat completion returned an empty message")
	}

	res := parseReply(content, e.opts.Confidence)
	res.Engine = e.Name()
	res.Latency = time.Since(start)
	res.Data = map[string]interface{}{
		"model":             resp.Model,
		"finish_reason":     string(resp.Choices[0].FinishReason),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}
	e.logger.Debug("llm analysis complete",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Float64("confidence", res.Confidence))
	return res, nil
}

// ─── Reply parsing ────────────────────────────────────────────────────────────

type section int

const (
	sectionAnswer section = iota
	sectionFindings
	sectionRecommendations
)

// parseReply splits a reply into summary, findings and recommendations.
// Bullets outside a recommendations block count as findings.
func parseReply(content string, defaultConfidence float64) *models.EngineResult {
	res := &models.EngineResult{Confidence: engines.ClampConfidence(defaultConfidence)}
	current := sectionAnswer
	var summary []string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := confidenceLine.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				res.Confidence = engines.ClampConfidence(v / 100)
			}
			continue
		}
		if s, ok := sectionHeader(line); ok {
			current = s
			continue
		}
		if item, ok := bullet(line); ok {
			if current == sectionRecommendations {
				res.Recommendations = append(res.Recommendations, item)
			} else {
				res.Findings = append(res.Findings, item)
			}
			continue
		}
		if current == sectionAnswer {
			summary = append(summary, strings.TrimLeft(line, "#* "))
		}
	}

	res.Summary = engines.Excerpt(strings.Join(summary, " "), maxSummaryRunes)
	if res.Summary == "" && len(res.Findings) > 0 {
		res.Summary = res.Findings[0]
	}
	return res
}

func sectionHeader(line string) (section, bool) {
	l := strings.ToLower(strings.Trim(line, "#*: ："))
	switch l {
	case "findings", "finding", "발견 사항", "발견사항":
		return sectionFindings, true
	case "recommendations", "recommendation", "next steps", "권장 사항", "권장사항":
		return sectionRecommendations, true
	}
	return sectionAnswer, false
}

func bullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			item := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			return item, item != ""
		}
	}
	return "", false
}
