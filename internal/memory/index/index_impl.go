package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/memory/vector"
	"github.com/kubilitics/kubilitics-insight/internal/metrics"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

const defaultSourceName = "source"

var (
	errNoSource    = errors.New("no document source configured")
	errEmptySource = errors.New("document source returned no documents")
)

// snapshot is an immutable published index.
type snapshot struct {
	docs   []models.DocumentContext
	byID   map[string]int
	report BuildReport
}

var emptySnapshot = &snapshot{byID: map[string]int{}}

type indexManager struct {
	source   Source
	embedder vector.Embedder
	opts     Options
	logger   *zap.Logger
	audit    audit.Logger

	current atomic.Pointer[snapshot]
	group   singleflight.Group
	builds  atomic.Int64
	started atomic.Bool
}

// NewManager creates an index manager. source and embedder may be nil: a nil
// source always yields the fallback knowledge set, a nil embedder leaves
// entries without embeddings.
func NewManager(source Source, embedder vector.Embedder, opts Options, logger *zap.Logger, auditLog audit.Logger) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	m := &indexManager{
		source:   source,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		audit:    auditLog,
	}
	m.current.Store(emptySnapshot)
	return m
}

// Build detaches from the caller's cancellation: a caller that gives up must
// not replace a good snapshot with the fallback set. The build timeout still applies.
func (m *indexManager) Build(ctx context.Context) BuildReport {
	ctx = context.WithoutCancel(ctx)
	v, _, shared := m.group.Do("build", func() (interface{}, error) {
		return m.build(ctx), nil
	})
	if shared {
		m.logger.Debug("joined in-flight index build")
	}
	return v.(BuildReport)
}

func (m *indexManager) build(ctx context.Context) BuildReport {
	start := time.Now()
	report := BuildReport{}

	srcDocs, err := m.list(ctx)
	if err == nil && len(srcDocs) == 0 {
		err = errEmptySource
	}

	var docs []models.DocumentContext
	if err == nil {
		docs, report.Failed, report.Skipped = m.analyzeAll(srcDocs)
		if len(docs) == 0 {
			err = errEmptySource
		}
	}
	if err != nil {
		report.Fallback = true
		report.SourceError = err.Error()
		report.Failed, report.Skipped = 0, 0
		docs, err = fallbackContexts(m.opts)
		if err != nil {
			// The embedded set is validated by tests; an empty index is the last resort.
			m.logger.Error("failed to load fallback knowledge", zap.Error(err))
			docs = nil
		}
	}

	m.embed(ctx, docs)
	now := time.Now()
	byID := resolveLinks(docs)
	for i := range docs {
		docs[i].IndexedAt = now
	}

	report.Documents = len(docs)
	report.Duration = time.Since(start)
	report.BuiltAt = now
	m.current.Store(&snapshot{docs: docs, byID: byID, report: report})
	m.builds.Add(1)

	m.observe(ctx, report)
	return report
}

// list fetches source documents within the build timeout. A panicking source
// is treated like a failing one.
func (m *indexManager) list(ctx context.Context) (docs []models.SourceDocument, err error) {
	if m.source == nil {
		return nil, errNoSource
	}
	if m.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.BuildTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("document source panicked: %v", r)
		}
	}()
	return m.source.ListDocuments(ctx)
}

// analyzeAll analyzes documents in parallel and preserves source order.
// Entries without a path or with a duplicate path are skipped.
func (m *indexManager) analyzeAll(src []models.SourceDocument) ([]models.DocumentContext, int, int) {
	unique := make([]models.SourceDocument, 0, len(src))
	seen := make(map[string]bool, len(src))
	skipped := 0
	for _, d := range src {
		d.Path = strings.TrimSpace(d.Path)
		if d.Path == "" || seen[d.Path] {
			skipped++
			continue
		}
		seen[d.Path] = true
		unique = append(unique, d)
	}

	sourceName := defaultSourceName
	if n, ok := m.source.(interface{ Name() string }); ok && n.Name() != "" {
		sourceName = n.Name()
	}

	docs := make([]models.DocumentContext, len(unique))
	okFlags := make([]bool, len(unique))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range unique {
		g.Go(func() error {
			docs[i], okFlags[i] = m.analyzeOne(unique[i])
			docs[i].Source = sourceName
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, ok := range okFlags {
		if !ok {
			failed++
		}
	}
	if skipped > 0 {
		m.logger.Warn("skipped documents without a unique path", zap.Int("skipped", skipped))
	}
	return docs, failed, skipped
}

func (m *indexManager) analyzeOne(src models.SourceDocument) (dc models.DocumentContext, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("document analysis panicked, keeping minimal record",
				zap.String("document", src.Path),
				zap.Any("panic", r),
			)
			dc, ok = minimalDocument(src, m.opts), false
		}
	}()
	dc, err := analyzeDocument(src, m.opts)
	if err != nil {
		m.logger.Warn("document analysis failed, keeping minimal record",
			zap.String("document", src.Path),
			zap.Error(err),
		)
		return minimalDocument(src, m.opts), false
	}
	return dc, true
}

// embed attaches embeddings. A failing embedding leaves the entry lexical-only.
func (m *indexManager) embed(ctx context.Context, docs []models.DocumentContext) {
	if !m.opts.EnableEmbeddings || m.embedder == nil {
		return
	}
	for i := range docs {
		v, err := m.embedder.Embed(ctx, docs[i].Title+"\n"+docs[i].Content)
		if err != nil {
			m.logger.Debug("document embedding failed",
				zap.String("document", docs[i].ID),
				zap.Error(err),
			)
			continue
		}
		docs[i].Embedding = v
	}
}

// resolveLinks keeps only links that name another indexed document and
// returns the ID lookup table.
func resolveLinks(docs []models.DocumentContext) map[string]int {
	byID := make(map[string]int, len(docs))
	for i := range docs {
		byID[docs[i].ID] = i
	}
	for i := range docs {
		if len(docs[i].Links) == 0 {
			continue
		}
		kept := docs[i].Links[:0]
		for _, l := range docs[i].Links {
			if _, ok := byID[l]; ok {
				kept = append(kept, l)
			}
		}
		docs[i].Links = kept
	}
	return byID
}

func (m *indexManager) observe(ctx context.Context, r BuildReport) {
	metrics.IndexDocuments.Set(float64(r.Documents))
	metrics.IndexBuildDuration.Observe(r.Duration.Seconds())

	if r.Fallback {
		metrics.IndexBuilds.WithLabelValues("fallback").Inc()
		m.logger.Warn("index built from fallback knowledge",
			zap.Int("documents", r.Documents),
			zap.String("cause", r.SourceError),
		)
		_ = m.audit.LogIndexFallback(ctx, r.Documents, errors.New(r.SourceError))
		return
	}

	result := "success"
	if r.Failed > 0 {
		result = "partial"
	}
	metrics.IndexBuilds.WithLabelValues(result).Inc()
	m.logger.Info("index rebuilt",
		zap.Int("documents", r.Documents),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Duration("duration", r.Duration),
	)
	_ = m.audit.LogIndexRebuilt(ctx, r.Documents, r.Failed, r.Duration)
}

func (m *indexManager) Get(id string) (models.DocumentContext, bool) {
	s := m.current.Load()
	i, ok := s.byID[id]
	if !ok {
		return models.DocumentContext{}, false
	}
	return s.docs[i], true
}

func (m *indexManager) Documents() []models.DocumentContext {
	s := m.current.Load()
	out := make([]models.DocumentContext, len(s.docs))
	copy(out, s.docs)
	return out
}

func (m *indexManager) Size() int {
	return len(m.current.Load().docs)
}

func (m *indexManager) Stats() Stats {
	s := m.current.Load()
	return Stats{
		Documents: len(s.docs),
		Fallback:  s.report.Fallback,
		Builds:    m.builds.Load(),
		LastBuild: s.report,
	}
}

func (m *indexManager) Start(ctx context.Context) {
	if m.opts.RefreshInterval <= 0 || !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ticker := time.NewTicker(m.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Build(ctx)
			}
		}
	}()
}
