package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/orchestrator"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "insight.db")
	cfg.Sources.SQLite.Enabled = true
	cfg.Index.RefreshIntervalMinutes = 0
	cfg.Engines.InitTimeoutSeconds = 2
	return cfg
}

func TestAppAnswersFromStoredKnowledge(t *testing.T) {
	rec := audit.NewRecorder(nil)
	a, err := New(context.Background(), testConfig(t), WithAuditLogger(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	require.NotNil(t, a.Store)

	require.NoError(t, a.Store.UpsertDocument(context.Background(), models.SourceDocument{
		Path:    "runbooks/etcd-latency.md",
		Title:   "etcd latency runbook",
		Content: "# etcd latency\nWhen etcd latency rises check disk fsync duration and compaction.",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	_, ok := a.Index.Get("runbooks/etcd-latency.md")
	assert.True(t, ok, "stored documents are indexed")

	resp := a.Pipeline.ProcessQuery(context.Background(), "etcd latency runbook", "cli")
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Answer)
	assert.Contains(t, resp.Sources, "runbooks/etcd-latency.md")
	assert.LessOrEqual(t, resp.Confidence, models.MaxConfidence)

	recs, err := a.Store.RecentInteractions(context.Background(), "cli", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, resp.QueryID, recs[0].QueryID)

	assert.Equal(t, 1, rec.Count(audit.EventQueryReceived))
}

func TestAppRegistersConfiguredEngines(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), WithAuditLogger(audit.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	a.Start(context.Background())

	stats := map[string]models.EngineStats{}
	for _, s := range a.Orchestrator.Stats() {
		stats[s.Name] = s
	}
	require.Len(t, stats, 4)
	assert.False(t, stats[config.EngineNLU].Deferred)
	assert.True(t, stats[config.EngineSemantic].Deferred)

	// Deferred warm-up runs in the background.
	assert.Eventually(t, func() bool {
		return a.Orchestrator.Health().Engines[config.EngineSemantic] == models.EngineReady
	}, 2*time.Second, 10*time.Millisecond)

	// Without Prometheus or an API key these engines cannot start.
	assert.False(t, a.Orchestrator.EnsureReady(context.Background(), config.EnginePredictive))
	assert.False(t, a.Orchestrator.EnsureReady(context.Background(), config.EngineLLM))
	assert.True(t, a.Orchestrator.Health().Healthy)
}

func TestAppRejectsUnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engines.Deferred = append(cfg.Engines.Deferred, "quantum")
	_, err := New(context.Background(), cfg, WithAuditLogger(audit.NewNopLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
}

func TestAppRejectsInvalidModes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Modes.Default = "turbo"
	_, err := New(context.Background(), cfg, WithAuditLogger(audit.NewNopLogger()))
	assert.Error(t, err)
}

func TestAppSurvivesMissingStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "missing", "dir", "insight.db")
	a, err := New(context.Background(), cfg, WithAuditLogger(audit.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	assert.Nil(t, a.Store)

	a.Start(context.Background())
	resp := a.Pipeline.ProcessQuery(context.Background(), "CPU 사용률이 높은 서버를 찾아주세요", "")
	assert.NotEmpty(t, resp.Answer)
}

func TestFeatureOf(t *testing.T) {
	assert.Equal(t, orchestrator.FeaturePredictive, featureOf(config.EnginePredictive))
	assert.Equal(t, orchestrator.FeatureCorrelation, featureOf(config.EngineLLM))
	assert.Equal(t, orchestrator.FeatureNone, featureOf(config.EngineNLU))
}
