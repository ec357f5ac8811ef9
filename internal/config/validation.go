package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ModeConfig converts the budget into the runtime form used by the pipeline.
func (b ModeBudget) ModeConfig() models.ModeConfig {
	return models.ModeConfig{
		MaxProcessingTime: time.Duration(b.MaxProcessingMs) * time.Millisecond,
		MaxContextSize:    b.MaxContextSize,
		ResponseDepth:     models.ResponseDepth(strings.ToLower(b.ResponseDepth)),
		EnablePredictive:  b.EnablePredictive,
		EnableCorrelation: b.EnableCorrelation,
		MaxResponseLength: b.MaxResponseLength,
	}
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "must not be negative, got %d", c.Server.RateLimitPerMinute)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	// Validate tracing configuration
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "sampling_rate must be between 0 and 1, got %.2f", c.Tracing.SamplingRate)
	}

	// Validate source configuration
	if c.Sources.HTTP.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Sources.HTTP.BaseURL); err != nil {
			add("sources.http.base_url", "invalid URL: %v", err)
		}
	}
	if c.Sources.SQLite.Enabled && c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required when sources.sqlite.enabled is true")
	}

	// Validate index configuration
	if c.Index.MaxContentChars < 1 {
		add("index.max_content_chars", "must be at least 1, got %d", c.Index.MaxContentChars)
	}
	if c.Index.MaxKeywords < 1 {
		add("index.max_keywords", "must be at least 1, got %d", c.Index.MaxKeywords)
	}
	if c.Index.EmbeddingDimension < 8 {
		add("index.embedding_dimension", "must be at least 8, got %d", c.Index.EmbeddingDimension)
	}
	if c.Index.RefreshIntervalMinutes < 0 {
		add("index.refresh_interval_minutes", "cannot be negative, got %d", c.Index.RefreshIntervalMinutes)
	}

	// Validate search configuration
	for field, w := range map[string]float64{
		"search.vector_weight":    c.Search.VectorWeight,
		"search.keyword_weight":   c.Search.KeywordWeight,
		"search.relevance_weight": c.Search.RelevanceWeight,
	} {
		if w < 0 {
			add(field, "weight cannot be negative, got %.2f", w)
		}
	}
	if c.Search.VectorWeight+c.Search.KeywordWeight+c.Search.RelevanceWeight <= 0 {
		add("search", "at least one fusion weight must be positive")
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		add("search.min_similarity", "must be between 0 and 1, got %.2f", c.Search.MinSimilarity)
	}
	if c.Search.Limit < 1 {
		add("search.limit", "must be at least 1, got %d", c.Search.Limit)
	}

	// Validate analyzer configuration
	if _, err := parseLanguage(c.Analyzer.PrimaryLanguage); err != nil {
		add("analyzer.primary_language", "%v", err)
	}
	if c.Analyzer.ScriptRatioThreshold <= 0 || c.Analyzer.ScriptRatioThreshold >= 1 {
		add("analyzer.script_ratio_threshold", "must be between 0 and 1 (exclusive), got %.2f", c.Analyzer.ScriptRatioThreshold)
	}

	// Validate mode configuration
	if _, err := models.ParseMode(c.Modes.Default); err != nil {
		add("modes.default", "%v", err)
	}
	if c.Modes.Threshold < 1 {
		add("modes.threshold", "must be at least 1, got %d", c.Modes.Threshold)
	}
	if c.Modes.HistorySize < 1 {
		add("modes.history_size", "must be at least 1, got %d", c.Modes.HistorySize)
	}
	w := c.Modes.Weights
	for field, v := range map[string]int{
		"incident":     w.Incident,
		"report":       w.Report,
		"prediction":   w.Prediction,
		"correlation":  w.Correlation,
		"optimization": w.Optimization,
		"generic":      w.Generic,
		"long_query":   w.LongQuery,
		"question":     w.Question,
	} {
		if v < 0 {
			add("modes.weights."+field, "cannot be negative, got %d", v)
		}
	}
	errs = append(errs, validateBudget("modes.basic", c.Modes.Basic)...)
	errs = append(errs, validateBudget("modes.advanced", c.Modes.Advanced)...)
	errs = append(errs, ValidateModeBudgets(c.Modes.Basic.ModeConfig(), c.Modes.Advanced.ModeConfig())...)

	// Validate engine configuration
	known := make(map[string]bool, len(KnownEngines))
	for _, name := range KnownEngines {
		known[name] = true
	}
	seen := make(map[string]string)
	for field, names := range map[string][]string{"engines.eager": c.Engines.Eager, "engines.deferred": c.Engines.Deferred} {
		for _, name := range names {
			if !known[name] {
				add(field, "unknown engine '%s', must be one of: %s", name, strings.Join(KnownEngines, ", "))
				continue
			}
			if other, dup := seen[name]; dup && other != field {
				add(field, "engine '%s' is listed as both eager and deferred", name)
			}
			seen[name] = field
		}
	}
	if c.Engines.InitTimeoutSeconds < 1 {
		add("engines.init_timeout_seconds", "must be at least 1, got %d", c.Engines.InitTimeoutSeconds)
	}
	if c.Engines.LLM.Confidence < 0 || c.Engines.LLM.Confidence > 1 {
		add("engines.llm.confidence", "must be between 0 and 1, got %.2f", c.Engines.LLM.Confidence)
	}

	// Validate action configuration
	if c.Actions.BudgetFraction <= 0 || c.Actions.BudgetFraction >= 1 {
		add("actions.budget_fraction", "must be between 0 and 1 (exclusive), got %.2f", c.Actions.BudgetFraction)
	}
	if c.Actions.RateLimitPerSecond <= 0 {
		add("actions.rate_limit_per_second", "must be positive, got %.2f", c.Actions.RateLimitPerSecond)
	}

	// Validate synthesis configuration
	if c.Synthesis.QualityThreshold < 0 || c.Synthesis.QualityThreshold > 1 {
		add("synthesis.quality_threshold", "must be between 0 and 1, got %.2f", c.Synthesis.QualityThreshold)
	}

	return errs
}

func validateBudget(prefix string, b ModeBudget) []error {
	var errs []error
	if b.MaxProcessingMs < 1 {
		errs = append(errs, &ValidationError{Field: prefix + ".max_processing_ms", Message: fmt.Sprintf("must be at least 1, got %d", b.MaxProcessingMs)})
	}
	if b.MaxContextSize < 1 {
		errs = append(errs, &ValidationError{Field: prefix + ".max_context_size", Message: fmt.Sprintf("must be at least 1, got %d", b.MaxContextSize)})
	}
	if b.MaxResponseLength < 1 {
		errs = append(errs, &ValidationError{Field: prefix + ".max_response_length", Message: fmt.Sprintf("must be at least 1, got %d", b.MaxResponseLength)})
	}
	switch models.ResponseDepth(strings.ToLower(b.ResponseDepth)) {
	case models.DepthSummary, models.DepthDetailed:
	default:
		errs = append(errs, &ValidationError{Field: prefix + ".response_depth", Message: fmt.Sprintf("invalid depth '%s', must be one of: summary, detailed", b.ResponseDepth)})
	}
	return errs
}

// ValidateModeBudgets checks that every advanced budget is at least the basic one.
func ValidateModeBudgets(basic, advanced models.ModeConfig) []error {
	var errs []error
	check := func(field string, ok bool) {
		if !ok {
			errs = append(errs, &ValidationError{Field: "modes.advanced." + field, Message: "advanced budget must be greater than or equal to basic"})
		}
	}
	check("max_processing_ms", advanced.MaxProcessingTime >= basic.MaxProcessingTime)
	check("max_context_size", advanced.MaxContextSize >= basic.MaxContextSize)
	check("max_response_length", advanced.MaxResponseLength >= basic.MaxResponseLength)
	check("response_depth", !(basic.ResponseDepth == models.DepthDetailed && advanced.ResponseDepth == models.DepthSummary))
	check("enable_predictive", advanced.EnablePredictive || !basic.EnablePredictive)
	check("enable_correlation", advanced.EnableCorrelation || !basic.EnableCorrelation)
	return errs
}

func parseLanguage(lang string) (models.Language, error) {
	switch models.Language(strings.ToLower(lang)) {
	case models.LanguageKorean:
		return models.LanguageKorean, nil
	case models.LanguageEnglish:
		return models.LanguageEnglish, nil
	}
	return "", fmt.Errorf("invalid language '%s', must be one of: ko, en", lang)
}

// PrimaryLanguage returns the configured primary language, defaulting to Korean.
func (c *Config) PrimaryLanguage() models.Language {
	lang, err := parseLanguage(c.Analyzer.PrimaryLanguage)
	if err != nil {
		return models.LanguageKorean
	}
	return lang
}
