package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/cache"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/db"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/engines/llm"
	"github.com/kubilitics/kubilitics-insight/internal/engines/nlu"
	"github.com/kubilitics/kubilitics-insight/internal/engines/predictive"
	"github.com/kubilitics/kubilitics-insight/internal/engines/semantic"
	"github.com/kubilitics/kubilitics-insight/internal/integration/actions"
	"github.com/kubilitics/kubilitics-insight/internal/integration/docsource"
	"github.com/kubilitics/kubilitics-insight/internal/integration/prometheus"
	"github.com/kubilitics/kubilitics-insight/internal/memory/index"
	"github.com/kubilitics/kubilitics-insight/internal/memory/vector"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
	"github.com/kubilitics/kubilitics-insight/internal/query/mode"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/orchestrator"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/pipeline"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/synthesis"
	"github.com/kubilitics/kubilitics-insight/internal/tracing"
)

// Package app wires the insight service together from configuration.
//
// Construction order:
//   audit logger → tracing → store → document sources → index → search →
//   analyzer → modes → engines → orchestrator → actions → synthesizer → pipeline
//
// Only configuration errors fail New. An unreachable store, Kubernetes API
// or Prometheus server degrades the affected component and is logged.

const embeddingCacheEntries = 1024

// App holds the wired components.
type App struct {
	Config       *config.Config
	Audit        audit.Logger
	Logger       *zap.Logger
	Store        *db.SQLiteStore
	Index        index.Manager
	Modes        mode.Manager
	Orchestrator orchestrator.Orchestrator
	Pipeline     pipeline.Pipeline

	shutdownTracing func(context.Context) error
	ownsAudit       bool
}

// Option customizes construction.
type Option func(*options)

type options struct {
	auditLog audit.Logger
}

// WithAuditLogger uses auditLog instead of the rotated file logger.
func WithAuditLogger(auditLog audit.Logger) Option {
	return func(o *options) { o.auditLog = auditLog }
}

// AuditConfig maps logging configuration onto the audit logger.
func AuditConfig(cfg *config.Config) *audit.Config {
	return &audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		LogLevel:     cfg.Logging.Level,
		Console:      cfg.Logging.Console,
	}
}

// New builds the application. Call Start before serving queries and Close when done.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Audit: o.auditLog}
	if a.Audit == nil {
		auditLog, err := audit.NewLogger(AuditConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
		a.Audit, a.ownsAudit = auditLog, true
	}
	a.Logger = a.Audit.App()
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	shutdown, err := tracing.Init(ctx, tracing.Options{
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	a.shutdownTracing = shutdown

	if path := cfg.Database.SQLitePath; path != "" {
		store, err := db.NewSQLiteStore(path)
		if err != nil {
			logger.Warn("sqlite store unavailable; interactions will not be recorded",
				zap.String("path", path), zap.Error(err))
		} else {
			a.Store = store
		}
	}

	// Retrieval
	embedder := vector.NewHashingEmbedder(cfg.Index.EmbeddingDimension)
	a.Index = index.NewManager(a.documentSource(), embedder, index.OptionsFromConfig(cfg), logger, a.Audit)
	queryCache := cache.NewTTLCache[[]float32]("query_embedding",
		time.Duration(cfg.Search.EmbeddingCacheTTLSeconds)*time.Second, embeddingCacheEntries)
	search := vector.NewSearchService(a.Index, embedder, queryCache, logger)

	// Query understanding
	qa := analyzer.NewAnalyzer(analyzer.OptionsFromConfig(cfg), logger)
	a.Modes, err = mode.NewManager(mode.OptionsFromConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("mode manager: %w", err)
	}

	// Engines
	a.Orchestrator = orchestrator.NewOrchestrator(orchestrator.ConfigFromConfig(cfg), a.Audit, logger)
	available := a.engines(embedder)
	for _, group := range []struct {
		names    []string
		deferred bool
	}{{cfg.Engines.Eager, false}, {cfg.Engines.Deferred, true}} {
		for _, name := range group.names {
			e, ok := available[name]
			if !ok {
				return fmt.Errorf("unknown engine %q", name)
			}
			if err := a.Orchestrator.Register(e, orchestrator.Options{Deferred: group.deferred, Feature: featureOf(name)}); err != nil {
				return err
			}
		}
	}

	// Actions
	var executor actions.Executor
	if cfg.Actions.BaseURL != "" {
		httpExec, err := actions.NewHTTPExecutor(actions.OptionsFromConfig(cfg), logger)
		if err != nil {
			return fmt.Errorf("action executor: %w", err)
		}
		executor = httpExec
	}

	var recorder db.InteractionStore
	if a.Store != nil {
		recorder = a.Store
	}

	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Analyzer:      qa,
		Modes:         a.Modes,
		Documents:     a.Index,
		Search:        search,
		SearchOptions: vector.OptionsFromConfig(cfg),
		Orchestrator:  a.Orchestrator,
		Actions:       actions.NewRunner(executor, a.Audit, logger),
		Synthesizer:   synthesis.NewSynthesizer(synthesis.OptionsFromConfig(cfg), logger),
		Recorder:      recorder,
		AuditLog:      a.Audit,
		Logger:        logger,
	}, pipeline.OptionsFromConfig(cfg))
	return err
}

// documentSource combines every configured document source.
func (a *App) documentSource() index.Source {
	cfg, logger := a.Config, a.Logger
	timeout := time.Duration(cfg.Sources.TimeoutSeconds) * time.Second

	var sources []docsource.Source
	if cfg.Sources.HTTP.BaseURL != "" {
		sources = append(sources, docsource.NewHTTPSource(cfg.Sources.HTTP.BaseURL, cfg.Sources.HTTP.Token, timeout, logger))
	}
	if k := cfg.Sources.Kubernetes; k.Enabled {
		src, err := docsource.NewKubernetesSourceFromKubeconfig(k.Kubeconfig, k.Namespace, k.LabelSelector, logger)
		if err != nil {
			logger.Warn("kubernetes document source unavailable", zap.Error(err))
		} else {
			sources = append(sources, src)
		}
	}
	if cfg.Sources.SQLite.Enabled && a.Store != nil {
		sources = append(sources, a.Store)
	}
	return docsource.NewMultiSource(logger, sources...)
}

// engines builds every known engine by name.
func (a *App) engines(embedder vector.Embedder) map[string]engines.Engine {
	cfg, logger := a.Config, a.Logger

	var metrics prometheus.MetricSource
	if url := cfg.Engines.Predictive.PrometheusURL; url != "" {
		client, err := prometheus.NewClient(url, logger)
		if err != nil {
			logger.Warn("prometheus client unavailable", zap.Error(err))
		} else {
			metrics = client
		}
	}

	return map[string]engines.Engine{
		config.EngineNLU:        nlu.New(logger),
		config.EngineSemantic:   semantic.New(embedder, logger),
		config.EnginePredictive: predictive.New(metrics, predictive.OptionsFromConfig(cfg), logger),
		config.EngineLLM:        llm.New(llm.OptionsFromConfig(cfg), logger),
	}
}

func featureOf(engine string) orchestrator.Feature {
	switch engine {
	case config.EnginePredictive:
		return orchestrator.FeaturePredictive
	case config.EngineLLM:
		return orchestrator.FeatureCorrelation
	}
	return orchestrator.FeatureNone
}

// Start builds the initial index, starts periodic rebuilds and initializes
// the engines. Engine failures are logged, never returned.
func (a *App) Start(ctx context.Context) {
	report := a.Index.Build(ctx)
	a.Logger.Info("document index ready",
		zap.Int("documents", report.Documents),
		zap.Bool("fallback", report.Fallback),
		zap.Duration("duration", report.Duration),
	)
	a.Index.Start(ctx)

	if err := a.Orchestrator.Initialize(ctx); err != nil {
		a.Logger.Warn("some engines failed to initialize", zap.Error(err))
	}
}

// Close releases every component. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Orchestrator != nil {
		errs = append(errs, a.Orchestrator.Dispose(ctx))
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Sync())
		if a.ownsAudit {
			errs = append(errs, a.Audit.Close())
		}
	}
	return errors.Join(errs...)
}
