package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/app"
	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/memory/index"
	"github.com/kubilitics/kubilitics-insight/internal/middleware"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/pipeline"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *app.App) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "insight.db")
	cfg.Sources.SQLite.Enabled = true
	cfg.Index.RefreshIntervalMinutes = 0
	cfg.Engines.InitTimeoutSeconds = 2
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.New(context.Background(), cfg, app.WithAuditLogger(audit.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	require.NotNil(t, a.Store)
	require.NoError(t, a.Store.UpsertDocument(context.Background(), models.SourceDocument{
		Path:    "runbooks/node-cpu.md",
		Title:   "Node CPU saturation",
		Content: "# Node CPU saturation\nWhen CPU usage on a node stays high, list the top pods and check throttling.",
	}))
	a.Start(context.Background())

	s, err := NewServer(ConfigFromConfig(cfg), Deps{
		Pipeline:     a.Pipeline,
		Orchestrator: a.Orchestrator,
		Index:        a.Index,
		Modes:        a.Modes,
	})
	require.NoError(t, err)
	t.Cleanup(s.limiter.Stop)
	return s, a
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/query", QueryRequest{
		Query:     "node CPU saturation runbook",
		SessionID: "ops",
		Mode:      "basic",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var resp models.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ops", resp.SessionID)
	assert.Equal(t, models.ModeBasic, resp.Mode)
	assert.Contains(t, resp.Sources, "runbooks/node-cpu.md")
	assert.NotEmpty(t, resp.Answer)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalQueries)
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "ops", stats.Sessions[0].SessionID)
}

func TestQueryEndpointRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query": `},
		{"unknown mode", `{"query": "cpu usage", "mode": "turbo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(tt.body))
			req.Header.Set(middleware.RequestIDHeader, "req-42")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, "req-42", body.RequestID)
		})
	}
}

func TestQueryEndpointMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/query", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIndexEndpoints(t *testing.T) {
	s, a := newTestServer(t, nil)

	require.NoError(t, a.Store.UpsertDocument(context.Background(), models.SourceDocument{
		Path:    "runbooks/dns.md",
		Title:   "CoreDNS errors",
		Content: "# CoreDNS errors\nCheck the coredns pods and upstream resolvers.",
	}))

	rec := do(t, s, http.MethodPost, "/api/v1/index/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report index.BuildReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Documents)

	rec = do(t, s, http.MethodGet, "/api/v1/index/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats index.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Documents)
	assert.GreaterOrEqual(t, stats.Builds, int64(2))
}

func TestEngineEndpoints(t *testing.T) {
	s, a := newTestServer(t, nil)
	require.Eventually(t, func() bool {
		return a.Orchestrator.Health().Engines[config.EngineSemantic] == models.EngineReady
	}, 2*time.Second, 10*time.Millisecond)

	rec := do(t, s, http.MethodGet, "/api/v1/engines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var engines EnginesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &engines))
	assert.Len(t, engines.Engines, 4)
	assert.True(t, engines.Health.Healthy)

	tests := []struct {
		engine string
		status int
	}{
		{config.EngineNLU, http.StatusOK},
		{config.EngineLLM, http.StatusServiceUnavailable},
		{"quantum", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/engines/"+tt.engine+"/restart", nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestModeStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/v1/query", QueryRequest{Query: "why is the api server slow", Mode: "advanced"})

	rec := do(t, s, http.MethodGet, "/api/v1/modes/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["total"])
	assert.EqualValues(t, 1, stats["forced"])
}

func TestProbes(t *testing.T) {
	s, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/ready", nil).Code)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kubilitics_insight_http_requests_total")
}

type emptyIndex struct{ index.Manager }

func (emptyIndex) Size() int { return 0 }

func TestReadyWithoutDocuments(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.deps.Index = emptyIndex{s.deps.Index}

	rec := do(t, s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

func TestAPIRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) { cfg.Server.RateLimitPerMinute = 1 })

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/engines", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/api/v1/engines", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code, "probes are not limited")
}

func TestServerLifecycle(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = 0
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(), "double start")

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop(context.Background()))
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, Deps{})
	assert.Error(t, err)
	_, err = NewServer(&Config{}, Deps{})
	assert.Error(t, err)
}
