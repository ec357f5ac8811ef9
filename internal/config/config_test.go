package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8090, cfg.Server.Port)

	// Test search defaults
	assert.Equal(t, 0.4, cfg.Search.VectorWeight)
	assert.Equal(t, 0.4, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.2, cfg.Search.RelevanceWeight)
	assert.Equal(t, 5, cfg.Search.Limit)

	// Test index defaults
	assert.Equal(t, 5000, cfg.Index.MaxContentChars)
	assert.Equal(t, 20, cfg.Index.MaxKeywords)
	assert.Equal(t, 384, cfg.Index.EmbeddingDimension)

	// Test mode defaults
	assert.Equal(t, 6, cfg.Modes.Threshold)
	assert.Equal(t, 10, cfg.Modes.Weights.Incident)
	assert.Equal(t, 100, cfg.Modes.HistorySize)

	// Test engine defaults
	assert.Equal(t, []string{EngineNLU}, cfg.Engines.Eager)
	assert.Contains(t, cfg.Engines.Deferred, EngineSemantic)

	// Test primary language
	assert.Equal(t, models.LanguageKorean, cfg.PrimaryLanguage())

	assert.Empty(t, cfg.Validate(), "default configuration must be valid")
}

func TestModeBudgetConversion(t *testing.T) {
	cfg := DefaultConfig()

	basic := cfg.Modes.Basic.ModeConfig()
	assert.Equal(t, 5*time.Second, basic.MaxProcessingTime)
	assert.Equal(t, models.DepthSummary, basic.ResponseDepth)
	assert.False(t, basic.EnablePredictive)

	advanced := cfg.Modes.Advanced.ModeConfig()
	assert.Equal(t, 15*time.Second, advanced.MaxProcessingTime)
	assert.Equal(t, models.DepthDetailed, advanced.ResponseDepth)
	assert.True(t, advanced.EnableCorrelation)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port - too low",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid port - too high",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "invalid" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "unknown default mode",
			modifyFn:  func(cfg *Config) { cfg.Modes.Default = "turbo" },
			wantError: true,
			errorMsg:  "unknown mode",
		},
		{
			name:      "negative trigger weight",
			modifyFn:  func(cfg *Config) { cfg.Modes.Weights.Incident = -1 },
			wantError: true,
			errorMsg:  "modes.weights.incident",
		},
		{
			name:      "advanced budget below basic",
			modifyFn:  func(cfg *Config) { cfg.Modes.Advanced.MaxProcessingMs = 100 },
			wantError: true,
			errorMsg:  "advanced budget must be greater than or equal to basic",
		},
		{
			name:      "advanced context below basic",
			modifyFn:  func(cfg *Config) { cfg.Modes.Advanced.MaxContextSize = 1 },
			wantError: true,
			errorMsg:  "modes.advanced.max_context_size",
		},
		{
			name:      "invalid response depth",
			modifyFn:  func(cfg *Config) { cfg.Modes.Basic.ResponseDepth = "verbose" },
			wantError: true,
			errorMsg:  "invalid depth",
		},
		{
			name:      "unknown engine",
			modifyFn:  func(cfg *Config) { cfg.Engines.Deferred = append(cfg.Engines.Deferred, "quantum") },
			wantError: true,
			errorMsg:  "unknown engine 'quantum'",
		},
		{
			name: "engine both eager and deferred",
			modifyFn: func(cfg *Config) {
				cfg.Engines.Eager = []string{EngineNLU, EngineSemantic}
			},
			wantError: true,
			errorMsg:  "both eager and deferred",
		},
		{
			name:      "negative fusion weight",
			modifyFn:  func(cfg *Config) { cfg.Search.VectorWeight = -1 },
			wantError: true,
			errorMsg:  "weight cannot be negative",
		},
		{
			name: "all fusion weights zero",
			modifyFn: func(cfg *Config) {
				cfg.Search.VectorWeight = 0
				cfg.Search.KeywordWeight = 0
				cfg.Search.RelevanceWeight = 0
			},
			wantError: true,
			errorMsg:  "at least one fusion weight must be positive",
		},
		{
			name:      "invalid primary language",
			modifyFn:  func(cfg *Config) { cfg.Analyzer.PrimaryLanguage = "fr" },
			wantError: true,
			errorMsg:  "invalid language",
		},
		{
			name:      "budget fraction out of range",
			modifyFn:  func(cfg *Config) { cfg.Actions.BudgetFraction = 1.5 },
			wantError: true,
			errorMsg:  "actions.budget_fraction",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Sources.SQLite.Enabled = true
				cfg.Database.SQLitePath = ""
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name:      "invalid http source url",
			modifyFn:  func(cfg *Config) { cfg.Sources.HTTP.BaseURL = "::not a url" },
			wantError: true,
			errorMsg:  "sources.http.base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if !tt.wantError {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
				return
			}
			require.NotEmpty(t, errs, "expected validation errors but got none")
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.errorMsg) {
					found = true
					break
				}
			}
			assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
		})
	}
}

func TestConfigManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "insight.yaml")

	configContent := `
server:
  port: 9090

logging:
  level: "debug"

modes:
  threshold: 8
  default: advanced
  weights:
    incident: 12
  basic:
    max_processing_ms: 2000

engines:
  eager: ["nlu", "semantic"]
  deferred: ["llm"]
  llm:
    model: "gpt-4o"

search:
  limit: 7
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Modes.Threshold)
	assert.Equal(t, "advanced", cfg.Modes.Default)
	assert.Equal(t, 12, cfg.Modes.Weights.Incident)
	assert.Equal(t, 8, cfg.Modes.Weights.Report, "unset weights keep their defaults")
	assert.Equal(t, 2000, cfg.Modes.Basic.MaxProcessingMs)
	assert.Equal(t, 3, cfg.Modes.Basic.MaxContextSize)
	assert.Equal(t, []string{"nlu", "semantic"}, cfg.Engines.Eager)
	assert.Equal(t, []string{"llm"}, cfg.Engines.Deferred)
	assert.Equal(t, "gpt-4o", cfg.Engines.LLM.Model)
	assert.Equal(t, 7, cfg.Search.Limit)

	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("KUBILITICS_INSIGHT_SERVER_PORT", "7070")
	t.Setenv("KUBILITICS_INSIGHT_ENGINES_DEFERRED", "semantic,llm")
	t.Setenv("OPENAI_API_KEY", "env-openai-key")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "insight.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8081\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)

	assert.Equal(t, 7070, cfg.Server.Port, "port should be overridden by environment variable")
	assert.Equal(t, []string{"semantic", "llm"}, cfg.Engines.Deferred)
	assert.Equal(t, "env-openai-key", cfg.Engines.LLM.APIKey)
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().Modes.Advanced, cfg.Modes.Advanced)
}

func TestConfigManagerValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "insight.yaml")

	configContent := `
server:
  port: 99999

modes:
  default: "turbo"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "modes.default")
}

func TestConfigManagerReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "insight.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("search:\n  limit: 3\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 3, mgr.Get(ctx).Search.Limit)

	require.NoError(t, os.WriteFile(configPath, []byte("search:\n  limit: 9\n"), 0644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 9, mgr.Get(ctx).Search.Limit)
}
