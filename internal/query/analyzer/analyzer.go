package analyzer

import (
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package analyzer turns a raw operator question into a SmartQuery.
//
// Responsibilities:
//   - Normalize text (NFC, whitespace, punctuation) while preserving Hangul
//   - Detect the query language from the Hangul ratio of non-space characters
//   - Tokenize, strip Korean particles and drop stop-words
//   - Score trigger categories and classify intent
//   - Compute the mode signal (score, confidence, matched triggers)
//   - Derive required documents, actions and engines from static tables
//
// Intent Classification:
//   Each category score is weight × number of distinct trigger phrases matched.
//   The highest-scoring category wins; ties resolve by priority
//   (incident > report > prediction > correlation > optimization > generic).
//   An all-zero score yields intent "search".
//
//   Category          Intent
//   incident      →   troubleshooting
//   report        →   analysis
//   prediction    →   prediction
//   correlation   →   analysis
//   optimization  →   optimization
//   generic       →   search
//
// Mode Signal:
//   Score = sum of category scores + long-query bonus + question-mark bonus.
//   The mode manager compares it against the advanced threshold.
//
// Failure Semantics:
//   Analyze never fails. An empty query or an internal panic yields the
//   fallback SmartQuery: naive tokens, intent "search", best-effort language.

// Analyzer classifies queries.
type Analyzer interface {
	// Analyze returns the analyzed form of query. It never returns nil.
	Analyze(query string) *models.SmartQuery
}

// Options tunes the analyzer.
type Options struct {
	PrimaryLanguage      models.Language
	ScriptRatioThreshold float64
	Weights              config.TriggerWeights
	LongQueryRunes       int
	AdvancedThreshold    int
	MaxKeywords          int
}

// OptionsFromConfig builds analyzer options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PrimaryLanguage:      cfg.PrimaryLanguage(),
		ScriptRatioThreshold: cfg.Analyzer.ScriptRatioThreshold,
		Weights:              cfg.Modes.Weights,
		LongQueryRunes:       cfg.Modes.LongQueryRunes,
		AdvancedThreshold:    cfg.Modes.Threshold,
		MaxKeywords:          15,
	}
}

// DefaultOptions returns options matching the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}
