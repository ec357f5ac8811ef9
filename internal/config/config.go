package config

import "context"

// Package config provides configuration management for kubilitics-insight.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and built-in defaults
//   - Validate configuration on startup (the only place a fatal error may occur)
//   - Provide runtime access to all configuration
//   - Watch the configuration file for changes
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (KUBILITICS_INSIGHT_* prefix)
//   2. YAML config file (default: /etc/kubilitics/insight.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server       - HTTP listen address and timeouts
//   2. Logging      - level, rotation (lumberjack) and audit trail paths
//   3. Tracing      - OTLP gRPC endpoint and sampling
//   4. Database     - SQLite path for knowledge documents and the interaction log
//   5. Sources      - document sources: HTTP knowledge service, Kubernetes ConfigMaps, SQLite
//   6. Index        - content cap, keyword cap, embedding dimension, refresh interval
//   7. Search       - fusion weights, similarity floor, result limit
//   8. Analyzer     - primary language and script-ratio threshold
//   9. Modes        - trigger weights, advanced threshold, basic/advanced budgets
//  10. Engines      - eager/deferred sets, predictive metric source, LLM provider
//  11. Actions      - action-execution service endpoint, rate limit, budget share
//  12. Synthesis    - quality threshold for fallback text

// ModeBudget is the YAML form of a ModeConfig.
type ModeBudget struct {
	MaxProcessingMs   int
	MaxContextSize    int
	ResponseDepth     string
	EnablePredictive  bool
	EnableCorrelation bool
	MaxResponseLength int
}

// TriggerWeights are the per-category scores used by the analyzer.
type TriggerWeights struct {
	Incident     int
	Report       int
	Prediction   int
	Correlation  int
	Optimization int
	Generic      int
	LongQuery    int
	Question     int
}

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host                string
		Port                int
		ReadTimeoutSeconds  int
		WriteTimeoutSeconds int
		RateLimitPerMinute  int
	}

	// Logging configuration
	Logging struct {
		Level        string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
		Console      bool
	}

	// Tracing configuration
	Tracing struct {
		Endpoint     string
		SamplingRate float64
		ServiceName  string
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Document source configuration
	Sources struct {
		TimeoutSeconds int
		HTTP           struct {
			BaseURL string
			Token   string
		}
		Kubernetes struct {
			Enabled       bool
			Kubeconfig    string
			Namespace     string
			LabelSelector string
		}
		SQLite struct {
			Enabled bool
		}
	}

	// Index configuration
	Index struct {
		MaxContentChars        int
		MaxKeywords            int
		EmbeddingDimension     int
		EnableEmbeddings       bool
		BuildTimeoutSeconds    int
		RefreshIntervalMinutes int
	}

	// Search configuration
	Search struct {
		VectorWeight             float64
		KeywordWeight            float64
		RelevanceWeight          float64
		MinSimilarity            float64
		Limit                    int
		EnableSemantic           bool
		EmbeddingCacheTTLSeconds int
	}

	// Analyzer configuration
	Analyzer struct {
		PrimaryLanguage      string
		ScriptRatioThreshold float64
	}

	// Mode configuration
	Modes struct {
		Default        string
		Threshold      int
		LongQueryRunes int
		HistorySize    int
		Weights        TriggerWeights
		Basic          ModeBudget
		Advanced       ModeBudget
	}

	// Engine configuration
	Engines struct {
		Eager              []string
		Deferred           []string
		InitTimeoutSeconds int
		Predictive         struct {
			PrometheusURL    string
			LookbackMinutes  int
			StepSeconds      int
			FailureThreshold float64
			Queries          map[string]string
		}
		LLM struct {
			BaseURL     string
			APIKey      string
			Model       string
			MaxTokens   int
			Temperature float64
			Confidence  float64
		}
	}

	// Action-execution service configuration
	Actions struct {
		BaseURL            string
		TimeoutSeconds     int
		RateLimitPerSecond float64
		Burst              int
		BudgetFraction     float64
	}

	// Synthesis configuration
	Synthesis struct {
		QualityThreshold float64
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/kubilitics/insight.yaml")
}
