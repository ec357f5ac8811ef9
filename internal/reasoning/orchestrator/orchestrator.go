package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package orchestrator runs the analysis engines a query needs and merges
// their results.
//
// Responsibilities:
//   - Own the engine registry and each engine's lifecycle
//     (uninitialized → initializing → ready | failed)
//   - Initialize eager engines up front and warm deferred engines in the
//     background; a query that needs a cold engine waits for it within its
//     own time budget
//   - Dispatch the required engines concurrently, each bounded by the mode's
//     processing budget; a hung engine is abandoned and its late result dropped
//   - Keep per-engine statistics (success, error, skipped, running average latency)
//   - Aggregate: equal-weight mean confidence of the successful engines,
//     capped at models.MaxConfidence
//
// Dispatch set:
//   required engines ∩ registered engines
//     − engines whose feature the mode disables
//     − failed engines (until Restart)
//
// engines.ErrNotApplicable counts as skipped, never as failed.

// ErrUnknownEngine is returned for operations on an unregistered engine.
var ErrUnknownEngine = errors.New("unknown engine")

// Feature ties an engine to a mode switch.
type Feature string

const (
	FeatureNone        Feature = ""
	FeaturePredictive  Feature = "predictive"  // needs ModeConfig.EnablePredictive
	FeatureCorrelation Feature = "correlation" // needs ModeConfig.EnableCorrelation
)

// Options describes how an engine is managed.
type Options struct {
	Deferred bool
	Feature  Feature
}

// Config configures the orchestrator.
type Config struct {
	InitTimeout time.Duration
}

// ConfigFromConfig builds orchestrator settings from service configuration.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{InitTimeout: time.Duration(cfg.Engines.InitTimeoutSeconds) * time.Second}
}

// Health summarizes engine availability.
type Health struct {
	Healthy bool                          `json:"healthy"`
	Ready   int                           `json:"ready"`
	Total   int                           `json:"total"`
	Engines map[string]models.EngineState `json:"engines"`
}

// Orchestrator coordinates the analysis engines.
type Orchestrator interface {
	// Register adds an engine. Registering a name twice is an error.
	Register(engine engines.Engine, opts Options) error

	// Initialize initializes eager engines and starts deferred warm-up.
	// Engine failures are reported but never prevent startup.
	Initialize(ctx context.Context) error

	// EnsureReady initializes the engine if needed and reports whether it is ready.
	EnsureReady(ctx context.Context, name string) bool

	// RunAnalysis dispatches the query's required engines and merges their results.
	RunAnalysis(ctx context.Context, q *models.SmartQuery, docs []models.ScoredDocument,
		actions []models.ActionResult, cfg models.ModeConfig) *models.HybridAnalysisResult

	// Restart disposes and re-initializes an engine, clearing a failed state.
	Restart(ctx context.Context, name string) error

	// Stats returns per-engine statistics ordered by name.
	Stats() []models.EngineStats

	// Health summarizes engine availability.
	Health() Health

	// Dispose releases every engine.
	Dispose(ctx context.Context) error
}
