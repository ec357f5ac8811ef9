package pipeline

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package pipeline is the single entry point that turns an operator question
// into an answer.
//
// Query lifecycle:
//
//   1. Analyze    - QueryAnalyzer produces the SmartQuery (never fails)
//   2. Mode       - ModeManager selects basic or advanced, honouring an override
//   3. Retrieve   - hybrid search plus the documents the query names,
//                   capped at ModeConfig.MaxContextSize
//   4. Actions    - required actions run concurrently within
//                   actions.budget_fraction of the mode budget
//   5. Analyze    - the orchestrator runs the required engines
//   6. Synthesize - the synthesizer merges everything into one answer
//
// The whole query is bounded by ModeConfig.MaxProcessingTime plus a small
// grace period. ProcessQuery never panics and never returns nil: a panic in
// any stage produces the fallback response with confidence 0.
//
// Observability:
//   - one OpenTelemetry span per stage under "pipeline.query"
//   - Prometheus query counters, duration and confidence histograms
//   - audit events query.received, query.completed and query.degraded
//   - per-session statistics (Stats) and, when configured, one interaction
//     row per query in the interaction store

// Status labels of a processed query.
const (
	StatusSuccess  = "success"  // at least one engine contributed
	StatusDegraded = "degraded" // answered from documents or the fallback text
	StatusFailed   = "failed"   // a stage panicked
)

// DefaultSessionID buckets queries sent without a session.
const DefaultSessionID = "default"

// Pipeline processes operator questions.
type Pipeline interface {
	// ProcessQuery answers text. It always returns a response.
	ProcessQuery(ctx context.Context, text, sessionID string, opts ...QueryOption) *models.QueryResponse

	// Stats returns per-session statistics.
	Stats() Stats
}

// QueryOption adjusts a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	mode models.Mode
}

// WithMode forces the processing mode. An empty mode lets the selector decide.
func WithMode(mode models.Mode) QueryOption {
	return func(o *queryOptions) { o.mode = mode }
}

// SessionStats aggregates the queries of one session.
type SessionStats struct {
	SessionID         string    `json:"session_id"`
	Queries           int64     `json:"queries"`
	Successful        int64     `json:"successful"`
	AverageConfidence float64   `json:"average_confidence"`
	LastQuery         time.Time `json:"last_query"`
}

// Stats aggregates every session the pipeline currently tracks.
type Stats struct {
	TotalQueries      int64          `json:"total_queries"`
	AverageConfidence float64        `json:"average_confidence"`
	Sessions          []SessionStats `json:"sessions"`
}

// Options tunes the pipeline.
type Options struct {
	// ActionBudgetFraction is the share of the mode budget actions may use.
	ActionBudgetFraction float64

	// Grace is added to the mode budget for the whole-query deadline.
	Grace time.Duration

	// MaxSessions bounds the session table; the least recently active
	// session is evicted first.
	MaxSessions int
}

// DefaultOptions returns the default pipeline options.
func DefaultOptions() Options {
	return Options{ActionBudgetFraction: 0.3, Grace: 250 * time.Millisecond, MaxSessions: 1000}
}

// OptionsFromConfig builds pipeline options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.ActionBudgetFraction = cfg.Actions.BudgetFraction
	return opts
}
