package config

// Engine names known to the application wiring.
const (
	EngineNLU        = "nlu"
	EngineSemantic   = "semantic"
	EnginePredictive = "predictive"
	EngineLLM        = "llm"
)

// KnownEngines lists every engine the application can register.
var KnownEngines = []string{EngineNLU, EngineSemantic, EnginePredictive, EngineLLM}

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.ReadTimeoutSeconds = 30
	cfg.Server.WriteTimeoutSeconds = 30
	cfg.Server.RateLimitPerMinute = 120

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.AppLogPath = "logs/insight.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true
	cfg.Logging.Console = true

	// Tracing defaults (disabled until an endpoint is set)
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1.0
	cfg.Tracing.ServiceName = "kubilitics-insight"

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/kubilitics/insight.db"

	// Source defaults
	cfg.Sources.TimeoutSeconds = 10
	cfg.Sources.Kubernetes.Enabled = false
	cfg.Sources.Kubernetes.LabelSelector = "insight.kubilitics.io/knowledge=true"
	cfg.Sources.SQLite.Enabled = true

	// Index defaults
	cfg.Index.MaxContentChars = 5000
	cfg.Index.MaxKeywords = 20
	cfg.Index.EmbeddingDimension = 384
	cfg.Index.EnableEmbeddings = true
	cfg.Index.BuildTimeoutSeconds = 30
	cfg.Index.RefreshIntervalMinutes = 0

	// Search defaults
	cfg.Search.VectorWeight = 0.4
	cfg.Search.KeywordWeight = 0.4
	cfg.Search.RelevanceWeight = 0.2
	cfg.Search.MinSimilarity = 0.1
	cfg.Search.Limit = 5
	cfg.Search.EnableSemantic = true
	cfg.Search.EmbeddingCacheTTLSeconds = 300

	// Analyzer defaults
	cfg.Analyzer.PrimaryLanguage = "ko"
	cfg.Analyzer.ScriptRatioThreshold = 0.3

	// Mode defaults
	cfg.Modes.Default = "auto"
	cfg.Modes.Threshold = 6
	cfg.Modes.LongQueryRunes = 100
	cfg.Modes.HistorySize = 100
	cfg.Modes.Weights = TriggerWeights{
		Incident:     10,
		Report:       8,
		Prediction:   7,
		Correlation:  6,
		Optimization: 4,
		Generic:      1,
		LongQuery:    6,
		Question:     1,
	}
	cfg.Modes.Basic = ModeBudget{
		MaxProcessingMs:   5000,
		MaxContextSize:    3,
		ResponseDepth:     "summary",
		EnablePredictive:  false,
		EnableCorrelation: false,
		MaxResponseLength: 800,
	}
	cfg.Modes.Advanced = ModeBudget{
		MaxProcessingMs:   15000,
		MaxContextSize:    8,
		ResponseDepth:     "detailed",
		EnablePredictive:  true,
		EnableCorrelation: true,
		MaxResponseLength: 2400,
	}

	// Engine defaults
	cfg.Engines.Eager = []string{EngineNLU}
	cfg.Engines.Deferred = []string{EngineSemantic, EnginePredictive, EngineLLM}
	cfg.Engines.InitTimeoutSeconds = 20
	cfg.Engines.Predictive.PrometheusURL = ""
	cfg.Engines.Predictive.LookbackMinutes = 360
	cfg.Engines.Predictive.StepSeconds = 300
	cfg.Engines.Predictive.FailureThreshold = 90
	cfg.Engines.Predictive.Queries = map[string]string{
		"cpu":    `100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle",instance=~"%s.*"}[5m])) * 100)`,
		"memory": `100 * (1 - node_memory_MemAvailable_bytes{instance=~"%s.*"} / node_memory_MemTotal_bytes{instance=~"%s.*"})`,
		"disk":   `100 * (1 - node_filesystem_avail_bytes{mountpoint="/",instance=~"%s.*"} / node_filesystem_size_bytes{mountpoint="/",instance=~"%s.*"})`,
	}
	cfg.Engines.LLM.Model = "gpt-4o-mini"
	cfg.Engines.LLM.MaxTokens = 1024
	cfg.Engines.LLM.Temperature = 0.2
	cfg.Engines.LLM.Confidence = 0.75

	// Action defaults
	cfg.Actions.TimeoutSeconds = 5
	cfg.Actions.RateLimitPerSecond = 5
	cfg.Actions.Burst = 10
	cfg.Actions.BudgetFraction = 0.3

	// Synthesis defaults
	cfg.Synthesis.QualityThreshold = 0.3

	return cfg
}
