package synthesis

import (
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package synthesis turns an orchestrated analysis into the answer an operator reads.
//
// Responsibilities:
//   - Render intent- and language-specific sections from, in priority order:
//     the highest-confidence engine result, the other engine results
//     (detailed depth only), related documents, collected action output and
//     intent advice
//   - Compute the answer confidence from engine confidence and document support
//   - Append a low-confidence notice and halve the length budget when the
//     confidence falls below the quality threshold
//   - Enforce the mode's response length by dropping the lowest-priority
//     sections first, then cutting the last kept section at a word boundary
//   - Never return an empty answer
//
// Confidence:
//   min(0.95, 0.8·engine + 0.2·docSupport) when at least one engine succeeded,
//   0 otherwise. docSupport is the mean similarity of the top documents.

// Synthesizer merges engine results, documents and action output into one answer.
type Synthesizer interface {
	// Synthesize always returns a non-nil answer with non-empty text.
	Synthesize(q *models.SmartQuery, docs []models.ScoredDocument, result *models.HybridAnalysisResult,
		cfg models.ModeConfig, actions []models.ActionResult) *models.Answer
}

// Options configures the synthesizer.
type Options struct {
	// QualityThreshold is the confidence below which the low-confidence
	// notice is appended and the length budget halved.
	QualityThreshold float64
}

// OptionsFromConfig builds synthesizer options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{QualityThreshold: cfg.Synthesis.QualityThreshold}
}
