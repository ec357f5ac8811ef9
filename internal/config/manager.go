package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "KUBILITICS_INSIGHT"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	}
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	m.setDefaults()

	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return JoinValidationErrors(m.Get(ctx).Validate())
}

// JoinValidationErrors combines validation errors into a single error, or nil.
func JoinValidationErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Watch watches for configuration changes and reloads.
// Only configurations that pass validation are published.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.viper == nil || m.configPath == "" {
		return m.watchChan
	}
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		cfg := m.Get(ctx)
		if len(cfg.Validate()) > 0 {
			return
		}
		select {
		case m.watchChan <- *cfg:
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if err := m.readConfigFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

// readConfigFile reads the YAML file. A missing file is not an error.
func (m *viperConfigManager) readConfigFile() error {
	if m.configPath == "" {
		return nil
	}
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	d := DefaultConfig()
	v := m.viper

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout_seconds", d.Server.ReadTimeoutSeconds)
	v.SetDefault("server.write_timeout_seconds", d.Server.WriteTimeoutSeconds)
	v.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.app_log_path", d.Logging.AppLogPath)
	v.SetDefault("logging.audit_log_path", d.Logging.AuditLogPath)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.console", d.Logging.Console)

	// Tracing defaults
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	// Database defaults
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)

	// Source defaults
	v.SetDefault("sources.timeout_seconds", d.Sources.TimeoutSeconds)
	v.SetDefault("sources.http.base_url", d.Sources.HTTP.BaseURL)
	v.SetDefault("sources.http.token", d.Sources.HTTP.Token)
	v.SetDefault("sources.kubernetes.enabled", d.Sources.Kubernetes.Enabled)
	v.SetDefault("sources.kubernetes.kubeconfig", d.Sources.Kubernetes.Kubeconfig)
	v.SetDefault("sources.kubernetes.namespace", d.Sources.Kubernetes.Namespace)
	v.SetDefault("sources.kubernetes.label_selector", d.Sources.Kubernetes.LabelSelector)
	v.SetDefault("sources.sqlite.enabled", d.Sources.SQLite.Enabled)

	// Index defaults
	v.SetDefault("index.max_content_chars", d.Index.MaxContentChars)
	v.SetDefault("index.max_keywords", d.Index.MaxKeywords)
	v.SetDefault("index.embedding_dimension", d.Index.EmbeddingDimension)
	v.SetDefault("index.enable_embeddings", d.Index.EnableEmbeddings)
	v.SetDefault("index.build_timeout_seconds", d.Index.BuildTimeoutSeconds)
	v.SetDefault("index.refresh_interval_minutes", d.Index.RefreshIntervalMinutes)

	// Search defaults
	v.SetDefault("search.vector_weight", d.Search.VectorWeight)
	v.SetDefault("search.keyword_weight", d.Search.KeywordWeight)
	v.SetDefault("search.relevance_weight", d.Search.RelevanceWeight)
	v.SetDefault("search.min_similarity", d.Search.MinSimilarity)
	v.SetDefault("search.limit", d.Search.Limit)
	v.SetDefault("search.enable_semantic", d.Search.EnableSemantic)
	v.SetDefault("search.embedding_cache_ttl_seconds", d.Search.EmbeddingCacheTTLSeconds)

	// Analyzer defaults
	v.SetDefault("analyzer.primary_language", d.Analyzer.PrimaryLanguage)
	v.SetDefault("analyzer.script_ratio_threshold", d.Analyzer.ScriptRatioThreshold)

	// Mode defaults
	v.SetDefault("modes.default", d.Modes.Default)
	v.SetDefault("modes.threshold", d.Modes.Threshold)
	v.SetDefault("modes.long_query_runes", d.Modes.LongQueryRunes)
	v.SetDefault("modes.history_size", d.Modes.HistorySize)
	v.SetDefault("modes.weights.incident", d.Modes.Weights.Incident)
	v.SetDefault("modes.weights.report", d.Modes.Weights.Report)
	v.SetDefault("modes.weights.prediction", d.Modes.Weights.Prediction)
	v.SetDefault("modes.weights.correlation", d.Modes.Weights.Correlation)
	v.SetDefault("modes.weights.optimization", d.Modes.Weights.Optimization)
	v.SetDefault("modes.weights.generic", d.Modes.Weights.Generic)
	v.SetDefault("modes.weights.long_query", d.Modes.Weights.LongQuery)
	v.SetDefault("modes.weights.question", d.Modes.Weights.Question)
	setBudgetDefaults(v, "modes.basic", d.Modes.Basic)
	setBudgetDefaults(v, "modes.advanced", d.Modes.Advanced)

	// Engine defaults
	v.SetDefault("engines.eager", d.Engines.Eager)
	v.SetDefault("engines.deferred", d.Engines.Deferred)
	v.SetDefault("engines.init_timeout_seconds", d.Engines.InitTimeoutSeconds)
	v.SetDefault("engines.predictive.prometheus_url", d.Engines.Predictive.PrometheusURL)
	v.SetDefault("engines.predictive.lookback_minutes", d.Engines.Predictive.LookbackMinutes)
	v.SetDefault("engines.predictive.step_seconds", d.Engines.Predictive.StepSeconds)
	v.SetDefault("engines.predictive.failure_threshold", d.Engines.Predictive.FailureThreshold)
	v.SetDefault("engines.predictive.queries", d.Engines.Predictive.Queries)
	v.SetDefault("engines.llm.base_url", d.Engines.LLM.BaseURL)
	v.SetDefault("engines.llm.api_key", d.Engines.LLM.APIKey)
	v.SetDefault("engines.llm.model", d.Engines.LLM.Model)
	v.SetDefault("engines.llm.max_tokens", d.Engines.LLM.MaxTokens)
	v.SetDefault("engines.llm.temperature", d.Engines.LLM.Temperature)
	v.SetDefault("engines.llm.confidence", d.Engines.LLM.Confidence)

	// Action defaults
	v.SetDefault("actions.base_url", d.Actions.BaseURL)
	v.SetDefault("actions.timeout_seconds", d.Actions.TimeoutSeconds)
	v.SetDefault("actions.rate_limit_per_second", d.Actions.RateLimitPerSecond)
	v.SetDefault("actions.burst", d.Actions.Burst)
	v.SetDefault("actions.budget_fraction", d.Actions.BudgetFraction)

	// Synthesis defaults
	v.SetDefault("synthesis.quality_threshold", d.Synthesis.QualityThreshold)
}

func setBudgetDefaults(v *viper.Viper, prefix string, b ModeBudget) {
	v.SetDefault(prefix+".max_processing_ms", b.MaxProcessingMs)
	v.SetDefault(prefix+".max_context_size", b.MaxContextSize)
	v.SetDefault(prefix+".response_depth", b.ResponseDepth)
	v.SetDefault(prefix+".enable_predictive", b.EnablePredictive)
	v.SetDefault(prefix+".enable_correlation", b.EnableCorrelation)
	v.SetDefault(prefix+".max_response_length", b.MaxResponseLength)
}

func getBudget(v *viper.Viper, prefix string) ModeBudget {
	return ModeBudget{
		MaxProcessingMs:   v.GetInt(prefix + ".max_processing_ms"),
		MaxContextSize:    v.GetInt(prefix + ".max_context_size"),
		ResponseDepth:     v.GetString(prefix + ".response_depth"),
		EnablePredictive:  v.GetBool(prefix + ".enable_predictive"),
		EnableCorrelation: v.GetBool(prefix + ".enable_correlation"),
		MaxResponseLength: v.GetInt(prefix + ".max_response_length"),
	}
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}
	v := m.viper

	// Server
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.ReadTimeoutSeconds = v.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = v.GetInt("server.write_timeout_seconds")
	cfg.Server.RateLimitPerMinute = v.GetInt("server.rate_limit_per_minute")

	// Logging
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.AppLogPath = v.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = v.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = v.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = v.GetInt("logging.max_age_days")
	cfg.Logging.Compress = v.GetBool("logging.compress")
	cfg.Logging.Console = v.GetBool("logging.console")

	// Tracing
	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")
	cfg.Tracing.ServiceName = v.GetString("tracing.service_name")

	// Database
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")

	// Sources
	cfg.Sources.TimeoutSeconds = v.GetInt("sources.timeout_seconds")
	cfg.Sources.HTTP.BaseURL = v.GetString("sources.http.base_url")
	cfg.Sources.HTTP.Token = v.GetString("sources.http.token")
	cfg.Sources.Kubernetes.Enabled = v.GetBool("sources.kubernetes.enabled")
	cfg.Sources.Kubernetes.Kubeconfig = v.GetString("sources.kubernetes.kubeconfig")
	cfg.Sources.Kubernetes.Namespace = v.GetString("sources.kubernetes.namespace")
	cfg.Sources.Kubernetes.LabelSelector = v.GetString("sources.kubernetes.label_selector")
	cfg.Sources.SQLite.Enabled = v.GetBool("sources.sqlite.enabled")

	// Index
	cfg.Index.MaxContentChars = v.GetInt("index.max_content_chars")
	cfg.Index.MaxKeywords = v.GetInt("index.max_keywords")
	cfg.Index.EmbeddingDimension = v.GetInt("index.embedding_dimension")
	cfg.Index.EnableEmbeddings = v.GetBool("index.enable_embeddings")
	cfg.Index.BuildTimeoutSeconds = v.GetInt("index.build_timeout_seconds")
	cfg.Index.RefreshIntervalMinutes = v.GetInt("index.refresh_interval_minutes")

	// Search
	cfg.Search.VectorWeight = v.GetFloat64("search.vector_weight")
	cfg.Search.KeywordWeight = v.GetFloat64("search.keyword_weight")
	cfg.Search.RelevanceWeight = v.GetFloat64("search.relevance_weight")
	cfg.Search.MinSimilarity = v.GetFloat64("search.min_similarity")
	cfg.Search.Limit = v.GetInt("search.limit")
	cfg.Search.EnableSemantic = v.GetBool("search.enable_semantic")
	cfg.Search.EmbeddingCacheTTLSeconds = v.GetInt("search.embedding_cache_ttl_seconds")

	// Analyzer
	cfg.Analyzer.PrimaryLanguage = v.GetString("analyzer.primary_language")
	cfg.Analyzer.ScriptRatioThreshold = v.GetFloat64("analyzer.script_ratio_threshold")

	// Modes
	cfg.Modes.Default = v.GetString("modes.default")
	cfg.Modes.Threshold = v.GetInt("modes.threshold")
	cfg.Modes.LongQueryRunes = v.GetInt("modes.long_query_runes")
	cfg.Modes.HistorySize = v.GetInt("modes.history_size")
	cfg.Modes.Weights = TriggerWeights{
		Incident:     v.GetInt("modes.weights.incident"),
		Report:       v.GetInt("modes.weights.report"),
		Prediction:   v.GetInt("modes.weights.prediction"),
		Correlation:  v.GetInt("modes.weights.correlation"),
		Optimization: v.GetInt("modes.weights.optimization"),
		Generic:      v.GetInt("modes.weights.generic"),
		LongQuery:    v.GetInt("modes.weights.long_query"),
		Question:     v.GetInt("modes.weights.question"),
	}
	cfg.Modes.Basic = getBudget(v, "modes.basic")
	cfg.Modes.Advanced = getBudget(v, "modes.advanced")

	// Engines
	cfg.Engines.Eager = v.GetStringSlice("engines.eager")
	cfg.Engines.Deferred = v.GetStringSlice("engines.deferred")
	cfg.Engines.InitTimeoutSeconds = v.GetInt("engines.init_timeout_seconds")
	cfg.Engines.Predictive.PrometheusURL = v.GetString("engines.predictive.prometheus_url")
	cfg.Engines.Predictive.LookbackMinutes = v.GetInt("engines.predictive.lookback_minutes")
	cfg.Engines.Predictive.StepSeconds = v.GetInt("engines.predictive.step_seconds")
	cfg.Engines.Predictive.FailureThreshold = v.GetFloat64("engines.predictive.failure_threshold")
	cfg.Engines.Predictive.Queries = v.GetStringMapString("engines.predictive.queries")
	cfg.Engines.LLM.BaseURL = v.GetString("engines.llm.base_url")
	cfg.Engines.LLM.APIKey = v.GetString("engines.llm.api_key")
	cfg.Engines.LLM.Model = v.GetString("engines.llm.model")
	cfg.Engines.LLM.MaxTokens = v.GetInt("engines.llm.max_tokens")
	cfg.Engines.LLM.Temperature = v.GetFloat64("engines.llm.temperature")
	cfg.Engines.LLM.Confidence = v.GetFloat64("engines.llm.confidence")

	// Actions
	cfg.Actions.BaseURL = v.GetString("actions.base_url")
	cfg.Actions.TimeoutSeconds = v.GetInt("actions.timeout_seconds")
	cfg.Actions.RateLimitPerSecond = v.GetFloat64("actions.rate_limit_per_second")
	cfg.Actions.Burst = v.GetInt("actions.burst")
	cfg.Actions.BudgetFraction = v.GetFloat64("actions.budget_fraction")

	// Synthesis
	cfg.Synthesis.QualityThreshold = v.GetFloat64("synthesis.quality_threshold")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperConfigManager) applyEnvOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// OpenAI-compatible API key from environment
	if m.config.Engines.LLM.APIKey == "" {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			m.config.Engines.LLM.APIKey = apiKey
		}
	}

	// Prometheus URL shared with other kubilitics components
	if m.config.Engines.Predictive.PrometheusURL == "" {
		if url := os.Getenv("PROMETHEUS_URL"); url != "" {
			m.config.Engines.Predictive.PrometheusURL = url
		}
	}

	// Comma-separated engine lists are accepted from the environment
	m.config.Engines.Eager = splitList(m.config.Engines.Eager)
	m.config.Engines.Deferred = splitList(m.config.Engines.Deferred)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
