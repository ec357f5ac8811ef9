package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kubilitics/kubilitics-insight/internal/config"
)

// Package actions runs named data-collection actions against the external
// action-execution service.
//
// Responsibilities:
//   - Executor: POST {base}/actions/{id} with the action parameters
//   - Rate limit outbound calls with a token bucket
//   - Runner: run a query's required actions concurrently within a time
//     budget and turn every failure into an "action failed" result
//
// The service replies with {"output": "..."} or with plain text.

const maxOutputBytes = 1 << 20

// Executor runs one named action.
type Executor interface {
	Execute(ctx context.Context, id string, params map[string]string) (string, error)
}

// Options configures the HTTP executor.
type Options struct {
	BaseURL            string
	Timeout            time.Duration
	RateLimitPerSecond float64
	Burst              int
}

// OptionsFromConfig builds executor options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	a := cfg.Actions
	return Options{
		BaseURL:            a.BaseURL,
		Timeout:            time.Duration(a.TimeoutSeconds) * time.Second,
		RateLimitPerSecond: a.RateLimitPerSecond,
		Burst:              a.Burst,
	}
}

// HTTPExecutor is an Executor backed by the action-execution service.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPExecutor creates an executor. A non-positive rate disables limiting.
func NewHTTPExecutor(opts Options, logger *zap.Logger) (*HTTPExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid action service url %q: %w", opts.BaseURL, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimitPerSecond > 0 {
		limit = rate.Limit(opts.RateLimitPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger,
	}, nil
}

func (e *HTTPExecutor) Execute(ctx context.Context, id string, params map[string]string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{"params": params})
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	endpoint := e.baseURL + "/actions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("action %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return "", fmt.Errorf("action %s: failed to read response: %w", id, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("action %s: service returned %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeOutput(resp.Header.Get("Content-Type"), body), nil
}

func decodeOutput(contentType string, body []byte) string {
	if strings.HasPrefix(contentType, "application/json") {
		var out struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal(body, &out); err == nil && out.Output != "" {
			return out.Output
		}
	}
	return strings.TrimSpace(string(body))
}
