package mode

import (
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package mode selects the processing mode for an analyzed query.
//
// Decision rule:
//   advanced  iff  SmartQuery.ModeDetection.Score >= threshold
//   basic     otherwise
//
// A valid caller override forces the mode. A configured default of "basic" or
// "advanced" pins every non-overridden query to that mode; "auto" (or empty)
// uses the score.
//
// History:
//   The last N decisions are kept in a ring buffer for Stats(). History is
//   observability only; it never feeds back into later decisions.

// Decision is the outcome of a mode selection.
type Decision struct {
	Mode       models.Mode       `json:"mode"`
	Config     models.ModeConfig `json:"config"`
	Reasoning  string            `json:"reasoning"`
	Score      int               `json:"score"`
	Confidence int               `json:"confidence"` // 0-100
	Forced     bool              `json:"forced"`
}

// Stats summarizes recent decisions.
type Stats struct {
	Total             int                 `json:"total"`
	Window            int                 `json:"window"`
	Distribution      map[models.Mode]int `json:"distribution"`
	AverageConfidence float64             `json:"average_confidence"`
	Forced            int                 `json:"forced"`
	LastDecision      time.Time           `json:"last_decision,omitempty"`
}

// Manager selects modes and reports statistics.
type Manager interface {
	// SelectMode decides the mode for q. An empty override means "decide".
	SelectMode(q *models.SmartQuery, override models.Mode) Decision

	// Config returns the budget bundle for a mode.
	Config(mode models.Mode) models.ModeConfig

	// Stats summarizes the decision history window.
	Stats() Stats
}

// Options configures the manager.
type Options struct {
	Basic       models.ModeConfig
	Advanced    models.ModeConfig
	Threshold   int
	HistorySize int
	Default     string
}

// OptionsFromConfig builds manager options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Basic:       cfg.Modes.Basic.ModeConfig(),
		Advanced:    cfg.Modes.Advanced.ModeConfig(),
		Threshold:   cfg.Modes.Threshold,
		HistorySize: cfg.Modes.HistorySize,
		Default:     cfg.Modes.Default,
	}
}
