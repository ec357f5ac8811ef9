package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/db"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/integration/actions"
	"github.com/kubilitics/kubilitics-insight/internal/memory/vector"
	"github.com/kubilitics/kubilitics-insight/internal/metrics"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
	"github.com/kubilitics/kubilitics-insight/internal/query/mode"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/orchestrator"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/synthesis"
	"github.com/kubilitics/kubilitics-insight/internal/tracing"
)

const recordTimeout = 2 * time.Second

var errPanicked = errors.New("query processing panicked")

var fallbackText = map[models.Language]string{
	models.LanguageEnglish: "The question could not be processed right now. Please try again.",
	models.LanguageKorean:  "지금은 질문을 처리할 수 없습니다. 잠시 후 다시 시도해 주세요.",
}

// DocumentLookup resolves documents a query names explicitly.
// index.Manager satisfies it.
type DocumentLookup interface {
	Get(id string) (models.DocumentContext, bool)
}

// Deps are the collaborators of the pipeline. Analyzer, Modes, Orchestrator
// and Synthesizer are required.
type Deps struct {
	Analyzer      analyzer.Analyzer
	Modes         mode.Manager
	Documents     DocumentLookup
	Search        vector.SearchService
	SearchOptions vector.SearchOptions
	Orchestrator  orchestrator.Orchestrator
	Actions       *actions.Runner
	Synthesizer   synthesis.Synthesizer
	Recorder      db.InteractionStore
	AuditLog      audit.Logger
	Logger        *zap.Logger
}

type sessionBucket struct {
	queries       int64
	successful    int64
	confidenceSum float64
	last          time.Time
}

type pipeline struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	audit  audit.Logger

	mu            sync.Mutex
	sessions      map[string]*sessionBucket
	total         int64
	confidenceSum float64
}

// New creates a pipeline.
func New(deps Deps, opts Options) (Pipeline, error) {
	switch {
	case deps.Analyzer == nil:
		return nil, errors.New("pipeline: analyzer is required")
	case deps.Modes == nil:
		return nil, errors.New("pipeline: mode manager is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("pipeline: orchestrator is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auditLog := deps.AuditLog
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultOptions().MaxSessions
	}
	if opts.Grace < 0 {
		opts.Grace = 0
	}
	return &pipeline{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		audit:    auditLog,
		sessions: make(map[string]*sessionBucket),
	}, nil
}

func (p *pipeline) ProcessQuery(ctx context.Context, text, sessionID string, opts ...QueryOption) (resp *models.QueryResponse) {
	start := time.Now()
	var o queryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	queryID := uuid.NewString()
	if audit.GetCorrelationID(ctx) == "" {
		ctx = audit.WithCorrelationID(ctx, queryID)
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.query",
		attribute.String("query.id", queryID),
		attribute.String("session.id", sessionID),
	)
	_ = p.audit.LogQueryReceived(ctx, queryID, sessionID, utf8.RuneCountInString(text))

	var (
		q        *models.SmartQuery
		decision mode.Decision
		status   = StatusFailed
	)
	defer func() {
		var err error
		if r := recover(); r != nil {
			p.logger.Error("query processing panicked",
				zap.String("query_id", queryID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("%w: %v", errPanicked, r)
			status = StatusFailed
			resp = fallbackResponse(queryID, sessionID, q, decision.Mode)
		}
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()
		p.finish(ctx, q, resp, status, time.Since(start))
		span.SetAttributes(
			attribute.String("query.status", status),
			attribute.String("query.mode", string(resp.Mode)),
			attribute.Float64("query.confidence", resp.Confidence),
		)
		tracing.EndSpan(span, err)
	}()

	q = p.analyze(ctx, text)
	decision = p.selectMode(ctx, q, o.mode)
	cfg := decision.Config

	qctx := ctx
	if cfg.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, cfg.MaxProcessingTime+p.opts.Grace)
		defer cancel()
	}

	docs := p.retrieve(qctx, q, cfg)
	actionResults := p.runActions(qctx, queryID, q, cfg)
	result := p.runEngines(qctx, q, docs, actionResults, cfg)
	answer := p.synthesize(qctx, q, docs, result, cfg, actionResults)

	status = StatusDegraded
	if len(result.Results) > 0 {
		status = StatusSuccess
	}
	return &models.QueryResponse{
		QueryID:    queryID,
		SessionID:  sessionID,
		Success:    true,
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		Sources:    answer.Sources,
		EngineUsed: result.EngineUsed,
		Mode:       decision.Mode,
		Intent:     q.Intent,
		Language:   q.Language,
		Reasoning:  answer.Reasoning,
	}
}

// ─── Stages ──────────────────────────────────────────────────────────────────

func (p *pipeline) analyze(ctx context.Context, text string) *models.SmartQuery {
	_, span := tracing.StartSpan(ctx, "pipeline.analyze")
	defer span.End()

	q := p.deps.Analyzer.Analyze(text)
	span.SetAttributes(
		attribute.String("query.intent", string(q.Intent)),
		attribute.String("query.language", string(q.Language)),
		attribute.Bool("query.fallback", q.Fallback),
	)
	return q
}

func (p *pipeline) selectMode(ctx context.Context, q *models.SmartQuery, override models.Mode) mode.Decision {
	_, span := tracing.StartSpan(ctx, "pipeline.mode")
	defer span.End()

	d := p.deps.Modes.SelectMode(q, override)
	span.SetAttributes(
		attribute.String("mode", string(d.Mode)),
		attribute.Bool("mode.forced", d.Forced),
		attribute.Int("mode.score", d.Score),
	)
	return d
}

// retrieve runs hybrid search and adds the documents the query names. The
// result is capped at cfg.MaxContextSize; named documents are kept in
// preference to searched ones.
func (p *pipeline) retrieve(ctx context.Context, q *models.SmartQuery, cfg models.ModeConfig) []models.ScoredDocument {
	ctx, span := tracing.StartSpan(ctx, "pipeline.retrieve")
	defer span.End()

	var docs []models.ScoredDocument
	if p.deps.Search != nil {
		docs = p.deps.Search.Search(ctx, q, p.deps.SearchOptions)
	}

	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		seen[d.Document.ID] = true
	}
	required := make(map[string]bool, len(q.RequiredDocuments))
	for _, id := range q.RequiredDocuments {
		required[id] = true
		if seen[id] || p.deps.Documents == nil {
			continue
		}
		doc, ok := p.deps.Documents.Get(id)
		if !ok {
			continue
		}
		seen[id] = true
		docs = append(docs, models.ScoredDocument{
			Document: doc,
			Result: models.VectorSearchResult{
				DocumentID:     doc.ID,
				RelevanceScore: doc.RelevanceScore,
				SearchType:     models.SearchTypeKeyword,
			},
		})
	}

	for limit := cfg.MaxContextSize; limit > 0 && len(docs) > limit; {
		drop := len(docs) - 1
		for i := len(docs) - 1; i >= 0; i-- {
			if !required[docs[i].Document.ID] {
				drop = i
				break
			}
		}
		docs = append(docs[:drop], docs[drop+1:]...)
	}

	span.SetAttributes(attribute.Int("documents", len(docs)))
	return docs
}

func (p *pipeline) runActions(ctx context.Context, queryID string, q *models.SmartQuery, cfg models.ModeConfig) []models.ActionResult {
	if len(q.RequiredActions) == 0 || !p.deps.Actions.Enabled() {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "pipeline.actions", attribute.StringSlice("actions", q.RequiredActions))
	defer span.End()

	params := map[string]string{
		"query":    q.Original,
		"language": string(q.Language),
		"intent":   string(q.Intent),
	}
	if instance := engines.ExtractEntities(q.Normalized).Instance(); instance != "" {
		params["instance"] = instance
	}
	budget := time.Duration(float64(cfg.MaxProcessingTime) * p.opts.ActionBudgetFraction)
	return p.deps.Actions.Run(ctx, queryID, q.RequiredActions, params, budget)
}

func (p *pipeline) runEngines(ctx context.Context, q *models.SmartQuery, docs []models.ScoredDocument,
	actionResults []models.ActionResult, cfg models.ModeConfig) *models.HybridAnalysisResult {
	ctx, span := tracing.StartSpan(ctx, "pipeline.engines")
	defer span.End()

	result := p.deps.Orchestrator.RunAnalysis(ctx, q, docs, actionResults, cfg)
	if result == nil {
		result = &models.HybridAnalysisResult{EngineUsed: models.EngineUsedNone}
	}
	span.SetAttributes(
		attribute.String("engine_used", result.EngineUsed),
		attribute.StringSlice("engines.failed", result.Failed),
		attribute.Float64("confidence", result.Confidence),
	)
	return result
}

func (p *pipeline) synthesize(ctx context.Context, q *models.SmartQuery, docs []models.ScoredDocument,
	result *models.HybridAnalysisResult, cfg models.ModeConfig, actionResults []models.ActionResult) *models.Answer {
	_, span := tracing.StartSpan(ctx, "pipeline.synthesize")
	defer span.End()

	return p.deps.Synthesizer.Synthesize(q, docs, result, cfg, actionResults)
}

// ─── Bookkeeping ─────────────────────────────────────────────────────────────

func (p *pipeline) finish(ctx context.Context, q *models.SmartQuery, resp *models.QueryResponse, status string, elapsed time.Duration) {
	intent := models.IntentSearch
	if q != nil {
		intent = q.Intent
	}
	metrics.QueriesTotal.WithLabelValues(string(intent), string(resp.Mode), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(resp.Mode)).Observe(elapsed.Seconds())
	metrics.QueryConfidence.Observe(resp.Confidence)

	if status == StatusSuccess {
		_ = p.audit.LogQueryCompleted(ctx, resp.QueryID, resp.EngineUsed, resp.Confidence, elapsed)
	} else {
		_ = p.audit.LogQueryDegraded(ctx, resp.QueryID, degradedReason(status, resp))
	}

	p.recordSession(resp.SessionID, status == StatusSuccess, resp.Confidence)
	p.recordInteraction(ctx, q, resp, status)

	p.logger.Info("query processed",
		zap.String("query_id", resp.QueryID),
		zap.String("session_id", resp.SessionID),
		zap.String("status", status),
		zap.String("intent", string(intent)),
		zap.String("mode", string(resp.Mode)),
		zap.String("engine_used", resp.EngineUsed),
		zap.Float64("confidence", resp.Confidence),
		zap.Duration("elapsed", elapsed),
	)
}

func degradedReason(status string, resp *models.QueryResponse) string {
	if status == StatusFailed {
		return errPanicked.Error()
	}
	if len(resp.Sources) > 0 {
		return "no engine produced a result; answered from documents"
	}
	return "no engine produced a result and no documents matched"
}

func (p *pipeline) recordSession(sessionID string, success bool, confidence float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total++
	p.confidenceSum += confidence

	b, ok := p.sessions[sessionID]
	if !ok {
		if len(p.sessions) >= p.opts.MaxSessions {
			p.evictOldestLocked()
		}
		b = &sessionBucket{}
		p.sessions[sessionID] = b
	}
	b.queries++
	if success {
		b.successful++
	}
	b.confidenceSum += confidence
	b.last = time.Now()
}

func (p *pipeline) evictOldestLocked() {
	var oldest string
	var at time.Time
	for id, b := range p.sessions {
		if oldest == "" || b.last.Before(at) {
			oldest, at = id, b.last
		}
	}
	delete(p.sessions, oldest)
}

func (p *pipeline) recordInteraction(ctx context.Context, q *models.SmartQuery, resp *models.QueryResponse, status string) {
	if p.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	rec := &db.InteractionRecord{
		QueryID:      resp.QueryID,
		SessionID:    resp.SessionID,
		Language:     string(resp.Language),
		Intent:       string(resp.Intent),
		Mode:         string(resp.Mode),
		EngineUsed:   resp.EngineUsed,
		Confidence:   resp.Confidence,
		Success:      status == StatusSuccess,
		ProcessingMs: resp.ProcessingTimeMs,
		Answer:       resp.Answer,
	}
	if q != nil {
		rec.Query = q.Original
	}
	if err := p.deps.Recorder.RecordInteraction(ctx, rec); err != nil {
		p.logger.Warn("failed to record interaction", zap.String("query_id", resp.QueryID), zap.Error(err))
	}
}

func (p *pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{TotalQueries: p.total, Sessions: make([]SessionStats, 0, len(p.sessions))}
	if p.total > 0 {
		st.AverageConfidence = p.confidenceSum / float64(p.total)
	}
	for id, b := range p.sessions {
		s := SessionStats{SessionID: id, Queries: b.queries, Successful: b.successful, LastQuery: b.last}
		if b.queries > 0 {
			s.AverageConfidence = b.confidenceSum / float64(b.queries)
		}
		st.Sessions = append(st.Sessions, s)
	}
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].SessionID < st.Sessions[j].SessionID })
	return st
}

func fallbackResponse(queryID, sessionID string, q *models.SmartQuery, m models.Mode) *models.QueryResponse {
	resp := &models.QueryResponse{
		QueryID:    queryID,
		SessionID:  sessionID,
		Success:    false,
		Answer:     fallbackText[models.LanguageEnglish],
		EngineUsed: models.EngineUsedNone,
		Mode:       m,
		Intent:     models.IntentSearch,
		Language:   models.LanguageEnglish,
		Sources:    []string{},
		Reasoning:  []string{"processing failed; fallback response returned"},
	}
	if q != nil {
		resp.Intent, resp.Language = q.Intent, q.Language
		if text, ok := fallbackText[q.Language]; ok {
			resp.Answer = text
		}
	}
	return resp
}
