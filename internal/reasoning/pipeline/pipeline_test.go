package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/db"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/integration/actions"
	"github.com/kubilitics/kubilitics-insight/internal/memory/vector"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
	"github.com/kubilitics/kubilitics-insight/internal/query/mode"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/orchestrator"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/synthesis"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type staticDocs []models.DocumentContext

func (s staticDocs) Documents() []models.DocumentContext { return s }

func (s staticDocs) Get(id string) (models.DocumentContext, bool) {
	for _, d := range s {
		if d.ID == id {
			return d, true
		}
	}
	return models.DocumentContext{}, false
}

type fakeEngine struct {
	name       string
	confidence float64
	delay      time.Duration
	err        error
	initErr    error
}

func (f *fakeEngine) Name() string                     { return f.name }
func (f *fakeEngine) Initialize(context.Context) error { return f.initErr }
func (f *fakeEngine) Dispose(context.Context) error    { return nil }

func (f *fakeEngine) Analyze(ctx context.Context, req *engines.Request) (*models.EngineResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.EngineResult{Summary: f.name + " found elevated usage", Confidence: f.confidence}, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []string
	params map[string]string
}

func (f *fakeExecutor) Execute(_ context.Context, id string, params map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.params = params
	return "cpu=93%", nil
}

type fakeSearch []models.ScoredDocument

func (f fakeSearch) Search(context.Context, *models.SmartQuery, vector.SearchOptions) []models.ScoredDocument {
	return append([]models.ScoredDocument(nil), f...)
}

type panicSynth struct{}

func (panicSynth) Synthesize(*models.SmartQuery, []models.ScoredDocument, *models.HybridAnalysisResult,
	models.ModeConfig, []models.ActionResult) *models.Answer {
	panic("template exploded")
}

var knowledge = staticDocs{
	{
		ID:             "fallback/cpu-high-usage",
		Title:          "CPU 사용률 급증 대응",
		Content:        "CPU 사용률이 높은 서버는 top 으로 프로세스를 확인합니다.",
		Keywords:       []string{"cpu", "사용률", "서버"},
		RelevanceScore: 3,
	},
	{
		ID:       "guides/memory.md",
		Title:    "Memory guide",
		Content:  "Investigate memory pressure with kubectl top.",
		Keywords: []string{"memory"},
	},
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type fixture struct {
	pipeline Pipeline
	audit    *audit.Recorder
	executor *fakeExecutor
}

type fixtureOption func(*Deps)

func newFixture(t *testing.T, basicBudget time.Duration, list []*fakeEngine, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()

	modeOpts := mode.OptionsFromConfig(cfg)
	if basicBudget > 0 {
		modeOpts.Basic.MaxProcessingTime = basicBudget
		modeOpts.Advanced.MaxProcessingTime = 2 * basicBudget
	}
	modes, err := mode.NewManager(modeOpts, nil)
	require.NoError(t, err)

	o := orchestrator.NewOrchestrator(orchestrator.Config{InitTimeout: time.Second}, nil, nil)
	broken := false
	for _, e := range list {
		require.NoError(t, o.Register(e, orchestrator.Options{}))
		broken = broken || e.initErr != nil
	}
	if err := o.Initialize(context.Background()); broken {
		require.Error(t, err)
	} else {
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = o.Dispose(context.Background()) })

	rec := audit.NewRecorder(nil)
	exec := &fakeExecutor{}
	deps := Deps{
		Analyzer:      analyzer.NewAnalyzer(analyzer.DefaultOptions(), nil),
		Modes:         modes,
		Documents:     knowledge,
		Search:        vector.NewSearchService(knowledge, nil, nil, nil),
		SearchOptions: vector.DefaultSearchOptions(),
		Orchestrator:  o,
		Actions:       actions.NewRunner(exec, rec, nil),
		Synthesizer:   synthesis.NewSynthesizer(synthesis.OptionsFromConfig(cfg), nil),
		AuditLog:      rec,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	p, err := New(deps, OptionsFromConfig(cfg))
	require.NoError(t, err)
	return &fixture{pipeline: p, audit: rec, executor: exec}
}

func healthyEngines() []*fakeEngine {
	return []*fakeEngine{
		{name: config.EngineNLU, confidence: 0.6},
		{name: config.EngineSemantic, confidence: 0.8},
	}
}

func assertConfidenceRange(t *testing.T, c float64) {
	t.Helper()
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, models.MaxConfidence)
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestProcessQueryKoreanCPU(t *testing.T) {
	f := newFixture(t, 0, healthyEngines())

	resp := f.pipeline.ProcessQuery(context.Background(), "CPU 사용률이 높은 서버를 찾아주세요", "s1")

	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.QueryID)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, models.LanguageKorean, resp.Language)
	assert.Equal(t, models.IntentSearch, resp.Intent)
	assert.Equal(t, models.ModeBasic, resp.Mode)
	assert.Equal(t, models.EngineUsedHybrid, resp.EngineUsed)
	assert.True(t, strings.HasPrefix(resp.Answer, "답변: semantic found elevated usage"), resp.Answer)
	assert.Contains(t, resp.Answer, "수집된 데이터:\n- collect_server_metrics: cpu=93%")
	assert.Contains(t, resp.Sources, "fallback/cpu-high-usage")
	assert.Greater(t, resp.Confidence, 0.5)
	assertConfidenceRange(t, resp.Confidence)
	assert.NotEmpty(t, resp.Reasoning)

	f.executor.mu.Lock()
	assert.Equal(t, []string{analyzer.ActionCollectServerMetrics}, f.executor.calls)
	assert.Equal(t, "ko", f.executor.params["language"])
	f.executor.mu.Unlock()

	assert.Equal(t, 1, f.audit.Count(audit.EventQueryReceived))
	assert.Equal(t, 1, f.audit.Count(audit.EventQueryCompleted))
	assert.Equal(t, 1, f.audit.Count(audit.EventActionExecuted))
}

func TestProcessQueryPassesInstanceToActions(t *testing.T) {
	f := newFixture(t, 0, healthyEngines())
	f.pipeline.ProcessQuery(context.Background(), "web-01 서버 CPU 사용률 분석", "")

	f.executor.mu.Lock()
	defer f.executor.mu.Unlock()
	require.NotEmpty(t, f.executor.calls)
	assert.Equal(t, "web-01", f.executor.params["instance"])
}

func TestProcessQueryTimeBound(t *testing.T) {
	budget := 200 * time.Millisecond
	f := newFixture(t, budget, []*fakeEngine{
		{name: config.EngineNLU, confidence: 0.6},
		{name: config.EngineSemantic, confidence: 0.9, delay: 10 * time.Second},
	})

	start := time.Now()
	resp := f.pipeline.ProcessQuery(context.Background(), "memory usage report", "")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, budget+DefaultOptions().Grace+time.Second)
	assert.Equal(t, config.EngineNLU, resp.EngineUsed)
	assert.Contains(t, resp.Reasoning, "engines failed: semantic")
	assertConfidenceRange(t, resp.Confidence)
}

func TestProcessQueryAllEnginesFail(t *testing.T) {
	down := errors.New("down")
	f := newFixture(t, 0, []*fakeEngine{
		{name: config.EngineNLU, err: down},
		{name: config.EngineSemantic, err: down},
	})

	resp := f.pipeline.ProcessQuery(context.Background(), "why is the payment service slow", "s2")
	assert.True(t, resp.Success)
	assert.Zero(t, resp.Confidence)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, models.EngineUsedNone, resp.EngineUsed)
	assert.Equal(t, 1, f.audit.Count(audit.EventQueryDegraded))
	assert.Zero(t, f.audit.Count(audit.EventQueryCompleted))

	st := f.pipeline.Stats()
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, int64(1), st.Sessions[0].Queries)
	assert.Zero(t, st.Sessions[0].Successful)
}

func TestProcessQueryAllEnginesFailInitialize(t *testing.T) {
	refused := errors.New("connection refused")
	f := newFixture(t, 0, []*fakeEngine{
		{name: config.EngineNLU, confidence: 0.6, initErr: refused},
		{name: config.EngineSemantic, confidence: 0.8, initErr: refused},
	})

	resp := f.pipeline.ProcessQuery(context.Background(), "why is the payment service slow", "")
	assert.True(t, resp.Success)
	assert.Zero(t, resp.Confidence)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, models.EngineUsedNone, resp.EngineUsed)
	assert.Equal(t, 1, f.audit.Count(audit.EventQueryDegraded))
}

func TestProcessQueryNoEnginesRegistered(t *testing.T) {
	f := newFixture(t, 0, nil)
	resp := f.pipeline.ProcessQuery(context.Background(), "CPU 사용률이 높은 서버를 찾아주세요", "")
	assert.Zero(t, resp.Confidence)
	assert.True(t, strings.HasPrefix(resp.Answer, "문서 기준:"), resp.Answer)
}

func TestProcessQueryEmpty(t *testing.T) {
	f := newFixture(t, 0, healthyEngines())
	for _, text := range []string{"", "   ", "?!"} {
		resp := f.pipeline.ProcessQuery(context.Background(), text, "")
		require.NotNil(t, resp, "input %q", text)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.Answer)
		assert.Equal(t, models.IntentSearch, resp.Intent)
		assertConfidenceRange(t, resp.Confidence)
	}
}

func TestProcessQueryForcedMode(t *testing.T) {
	f := newFixture(t, 0, healthyEngines())
	resp := f.pipeline.ProcessQuery(context.Background(), "list pods", "", WithMode(models.ModeAdvanced))
	assert.Equal(t, models.ModeAdvanced, resp.Mode)

	resp = f.pipeline.ProcessQuery(context.Background(), "list pods", "", WithMode(""), nil)
	assert.Equal(t, models.ModeBasic, resp.Mode)
}

func TestProcessQueryRecoversPanic(t *testing.T) {
	f := newFixture(t, 0, healthyEngines(), func(d *Deps) { d.Synthesizer = panicSynth{} })

	resp := f.pipeline.ProcessQuery(context.Background(), "CPU 사용률이 높은 서버를 찾아주세요", "s3")
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Zero(t, resp.Confidence)
	assert.Equal(t, fallbackText[models.LanguageKorean], resp.Answer)
	assert.Equal(t, models.ModeBasic, resp.Mode)
	assert.Equal(t, 1, f.audit.Count(audit.EventQueryDegraded))
	assert.Equal(t, int64(1), f.pipeline.Stats().TotalQueries)
}

func TestProcessQueryRecordsInteraction(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := newFixture(t, 0, healthyEngines(), func(d *Deps) { d.Recorder = store })
	resp := f.pipeline.ProcessQuery(context.Background(), "show memory usage", "s4")

	recs, err := store.RecentInteractions(context.Background(), "s4", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, resp.QueryID, recs[0].QueryID)
	assert.Equal(t, "show memory usage", recs[0].Query)
	assert.Equal(t, string(resp.Mode), recs[0].Mode)
	assert.True(t, recs[0].Success)
	assert.InDelta(t, resp.Confidence, recs[0].Confidence, 1e-9)
}

func TestRetrieveKeepsNamedDocuments(t *testing.T) {
	searched := fakeSearch{
		{Document: models.DocumentContext{ID: "a"}, Result: models.VectorSearchResult{DocumentID: "a", Similarity: 0.9}},
		{Document: models.DocumentContext{ID: "b"}, Result: models.VectorSearchResult{DocumentID: "b", Similarity: 0.8}},
		{Document: models.DocumentContext{ID: "c"}, Result: models.VectorSearchResult{DocumentID: "c", Similarity: 0.7}},
	}
	f := newFixture(t, 0, healthyEngines(), func(d *Deps) { d.Search = searched })
	p := f.pipeline.(*pipeline)

	q := &models.SmartQuery{RequiredDocuments: []string{"fallback/cpu-high-usage", "missing", "b"}}
	docs := p.retrieve(context.Background(), q, models.ModeConfig{MaxContextSize: 3})

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.Document.ID)
	}
	assert.Equal(t, []string{"a", "b", "fallback/cpu-high-usage"}, ids)
	assert.Equal(t, models.SearchTypeKeyword, docs[2].Result.SearchType)

	docs = p.retrieve(context.Background(), q, models.ModeConfig{MaxContextSize: 2})
	ids = ids[:0]
	for _, d := range docs {
		ids = append(ids, d.Document.ID)
	}
	assert.Equal(t, []string{"b", "fallback/cpu-high-usage"}, ids)
}

func TestStatsBySession(t *testing.T) {
	f := newFixture(t, 0, healthyEngines())
	f.pipeline.ProcessQuery(context.Background(), "show memory usage", "beta")
	f.pipeline.ProcessQuery(context.Background(), "show memory usage", "alpha")
	f.pipeline.ProcessQuery(context.Background(), "show memory usage", "alpha")
	f.pipeline.ProcessQuery(context.Background(), "show memory usage", "")

	st := f.pipeline.Stats()
	assert.Equal(t, int64(4), st.TotalQueries)
	require.Len(t, st.Sessions, 3)
	assert.Equal(t, "alpha", st.Sessions[0].SessionID)
	assert.Equal(t, int64(2), st.Sessions[0].Queries)
	assert.Equal(t, int64(2), st.Sessions[0].Successful)
	assert.Equal(t, DefaultSessionID, st.Sessions[2].SessionID)
	assertConfidenceRange(t, st.AverageConfidence)
	assert.Greater(t, st.AverageConfidence, 0.0)
}

func TestSessionTableIsBounded(t *testing.T) {
	p := &pipeline{opts: Options{MaxSessions: 2}, sessions: map[string]*sessionBucket{}}
	p.recordSession("a", true, 0.5)
	time.Sleep(time.Millisecond)
	p.recordSession("b", true, 0.5)
	time.Sleep(time.Millisecond)
	p.recordSession("c", true, 0.5)

	st := p.Stats()
	assert.Equal(t, int64(3), st.TotalQueries)
	require.Len(t, st.Sessions, 2)
	assert.Equal(t, "b", st.Sessions[0].SessionID)
	assert.Equal(t, "c", st.Sessions[1].SessionID)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultOptions())
	assert.Error(t, err)
}
