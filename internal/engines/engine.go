package engines

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package engines defines the contract shared by all analysis engines.
//
// An engine is an independently failing analysis capability. The orchestrator
// treats every engine uniformly through four methods:
//
//   Name()        stable identifier used in configuration, stats and results
//   Initialize()  one-time setup; an error marks the engine failed until restart
//   Analyze()     per-query analysis; must honour ctx cancellation
//   Dispose()     release resources; called once at shutdown or before restart
//
// Errors:
//   ErrNotApplicable  the engine has nothing to contribute for this request
//                     (counted as skipped, not failed)
//   ErrNotConfigured  the engine lacks the configuration it needs
//                     (returned from Initialize)

var (
	// ErrNotApplicable means the engine skipped the request.
	ErrNotApplicable = errors.New("engine not applicable to request")

	// ErrNotConfigured means the engine cannot run with the current configuration.
	ErrNotConfigured = errors.New("engine not configured")
)

// Request is the input to one engine invocation. It is shared read-only
// between concurrently running engines.
type Request struct {
	Query     *models.SmartQuery
	Documents []models.ScoredDocument
	Actions   []models.ActionResult
	Config    models.ModeConfig
}

// Engine is a pluggable analysis capability.
type Engine interface {
	Name() string
	Initialize(ctx context.Context) error
	Analyze(ctx context.Context, req *Request) (*models.EngineResult, error)
	Dispose(ctx context.Context) error
}

// Korean reports whether the request should be answered in Korean.
func (r *Request) Korean() bool {
	return r != nil && r.Query != nil && r.Query.Language == models.LanguageKorean
}

// ClampConfidence bounds an engine's self-reported confidence to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// NotConfigured wraps ErrNotConfigured with the missing setting.
func NotConfigured(engine, setting string) error {
	return fmt.Errorf("%s: %s is not set: %w", engine, setting, ErrNotConfigured)
}

// Excerpt returns the first max runes of s on a whole-word boundary.
func Excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	cut := string(r[:max])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
