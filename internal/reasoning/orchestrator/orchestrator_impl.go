package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/metrics"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

const defaultInitTimeout = 30 * time.Second

var (
	errEngineNotReady = errors.New("engine not ready")
	errEngineTimeout  = errors.New("engine timed out")
)

// slot is one registered engine with its lifecycle and statistics.
type slot struct {
	engine engines.Engine
	opts   Options

	mu    sync.Mutex
	stats models.EngineStats
	done  chan struct{} // closed when the current initialization finishes
}

func (s *slot) state() models.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.State
}

type orchestrator struct {
	cfg      Config
	auditLog audit.Logger
	logger   *zap.Logger

	mu    sync.RWMutex
	slots map[string]*slot

	warmup sync.WaitGroup
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator(cfg Config, auditLog audit.Logger, logger *zap.Logger) Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	return &orchestrator{cfg: cfg, auditLog: auditLog, logger: logger, slots: make(map[string]*slot)}
}

func (o *orchestrator) Register(engine engines.Engine, opts Options) error {
	if engine == nil {
		return errors.New("engine is nil")
	}
	name := engine.Name()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.slots[name]; exists {
		return fmt.Errorf("engine %q already registered", name)
	}
	o.slots[name] = &slot{
		engine: engine,
		opts:   opts,
		stats:  models.EngineStats{Name: name, State: models.EngineUninitialized, Deferred: opts.Deferred},
	}
	metrics.EngineState.WithLabelValues(name).Set(metrics.EngineStateValue(string(models.EngineUninitialized)))
	return nil
}

func (o *orchestrator) lookup(name string) (*slot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.slots[name]
	return s, ok
}

func (o *orchestrator) sortedSlots() []*slot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*slot, 0, len(o.slots))
	for _, s := range o.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].engine.Name() < out[j].engine.Name() })
	return out
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

func (o *orchestrator) Initialize(ctx context.Context) error {
	var failures []error
	var mu sync.Mutex
	var g errgroup.Group
	for _, s := range o.sortedSlots() {
		if s.opts.Deferred {
			o.warmup.Add(1)
			go func() {
				defer o.warmup.Done()
				<-o.startInit(s)
			}()
			continue
		}
		g.Go(func() error {
			select {
			case <-o.startInit(s):
			case <-ctx.Done():
				return ctx.Err()
			}
			if st := s.state(); st != models.EngineReady {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %s", s.engine.Name(), s.lastError()))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(failures...)
}

func (s *slot) lastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.LastError
}

// startInit begins initialization unless it already ran or is running, and
// returns a channel closed when the engine leaves the initializing state.
func (o *orchestrator) startInit(s *slot) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.stats.State {
	case models.EngineInitializing:
		return s.done
	case models.EngineReady, models.EngineFailed:
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	s.stats.State = models.EngineInitializing
	s.done = make(chan struct{})
	metrics.EngineState.WithLabelValues(s.stats.Name).Set(metrics.EngineStateValue(string(models.EngineInitializing)))
	go o.initialize(s, s.done)
	return s.done
}

func (o *orchestrator) initialize(s *slot, done chan struct{}) {
	defer close(done)
	name := s.engine.Name()
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.InitTimeout)
	defer cancel()

	start := time.Now()
	err := safeCall(func() error { return s.engine.Initialize(ctx) })

	s.mu.Lock()
	if err != nil {
		s.stats.State = models.EngineFailed
		s.stats.Initialized = false
		s.stats.LastError = err.Error()
	} else {
		s.stats.State = models.EngineReady
		s.stats.Initialized = true
		s.stats.LastError = ""
	}
	state := s.stats.State
	s.mu.Unlock()

	metrics.EngineState.WithLabelValues(name).Set(metrics.EngineStateValue(string(state)))
	if err != nil {
		o.logger.Warn("engine initialization failed", zap.String("engine", name), zap.Error(err))
		_ = o.auditLog.LogEngineFailed(ctx, name, err)
		return
	}
	o.logger.Info("engine ready", zap.String("engine", name), zap.Duration("duration", time.Since(start)))
	_ = o.auditLog.LogEngineReady(ctx, name, time.Since(start))
}

func (o *orchestrator) EnsureReady(ctx context.Context, name string) bool {
	s, ok := o.lookup(name)
	if !ok {
		return false
	}
	select {
	case <-o.startInit(s):
	case <-ctx.Done():
		return false
	}
	return s.state() == models.EngineReady
}

func (o *orchestrator) Restart(ctx context.Context, name string) error {
	s, ok := o.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}

	// Let a running initialization finish before tearing the engine down.
	s.mu.Lock()
	if s.stats.State == models.EngineInitializing {
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	wasInitialized := s.stats.Initialized
	s.stats.State = models.EngineUninitialized
	s.stats.Initialized = false
	s.mu.Unlock()

	if wasInitialized {
		if err := safeCall(func() error { return s.engine.Dispose(ctx) }); err != nil {
			o.logger.Warn("engine dispose failed during restart", zap.String("engine", name), zap.Error(err))
		}
	}
	_ = o.auditLog.LogEngineRestarted(ctx, name)

	select {
	case <-o.startInit(s):
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.state() != models.EngineReady {
		return fmt.Errorf("engine %s failed to initialize: %s", name, s.lastError())
	}
	return nil
}

func (o *orchestrator) Dispose(ctx context.Context) error {
	o.warmup.Wait()
	var errs []error
	for _, s := range o.sortedSlots() {
		s.mu.Lock()
		initialized := s.stats.Initialized
		s.stats.Initialized = false
		s.stats.State = models.EngineUninitialized
		s.mu.Unlock()
		if !initialized {
			continue
		}
		if err := safeCall(func() error { return s.engine.Dispose(ctx) }); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.engine.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ─── Analysis ─────────────────────────────────────────────────────────────────

type outcome struct {
	name    string
	result  *models.EngineResult
	err     error
	latency time.Duration
}

func (o *orchestrator) RunAnalysis(ctx context.Context, q *models.SmartQuery, docs []models.ScoredDocument,
	actions []models.ActionResult, cfg models.ModeConfig) *models.HybridAnalysisResult {

	start := time.Now()
	result := &models.HybridAnalysisResult{
		Results:    make(map[string]*models.EngineResult),
		EngineUsed: models.EngineUsedNone,
	}
	if q == nil {
		return result
	}

	dispatch, disabled := o.dispatchSet(q, cfg)
	result.Skipped = append(result.Skipped, disabled...)
	if len(dispatch) == 0 {
		result.ProcessingTime = time.Since(start)
		return result
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.MaxProcessingTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.MaxProcessingTime)
	}
	defer cancel()

	req := &engines.Request{Query: q, Documents: docs, Actions: actions, Config: cfg}
	// Buffered so abandoned engines never block on send.
	ch := make(chan outcome, len(dispatch))
	for _, s := range dispatch {
		result.Attempted = append(result.Attempted, s.engine.Name())
		go func() {
			ch <- o.invoke(runCtx, s, req)
		}()
	}

	pending := make(map[string]*slot, len(dispatch))
	for _, s := range dispatch {
		pending[s.engine.Name()] = s
	}
collect:
	for len(pending) > 0 {
		select {
		case out := <-ch:
			delete(pending, out.name)
			o.record(o.slotFor(dispatch, out.name), out, result)
		case <-runCtx.Done():
			break collect
		}
	}
	// Engines still running are abandoned.
	for name, s := range pending {
		o.record(s, outcome{name: name, err: errEngineTimeout, latency: time.Since(start)}, result)
	}

	sort.Strings(result.Failed)
	sort.Strings(result.Skipped)
	aggregate(result)
	result.ProcessingTime = time.Since(start)
	return result
}

func (o *orchestrator) slotFor(dispatch []*slot, name string) *slot {
	for _, s := range dispatch {
		if s.engine.Name() == name {
			return s
		}
	}
	return nil
}

// dispatchSet returns the engines to run, in required order, and the
// required engines the mode disables.
func (o *orchestrator) dispatchSet(q *models.SmartQuery, cfg models.ModeConfig) ([]*slot, []string) {
	var dispatch []*slot
	var disabled []string
	seen := make(map[string]bool)
	for _, name := range q.RequiredEngines {
		if seen[name] {
			continue
		}
		seen[name] = true
		s, ok := o.lookup(name)
		if !ok {
			continue
		}
		if !featureEnabled(s.opts.Feature, cfg) {
			disabled = append(disabled, name)
			continue
		}
		if s.state() == models.EngineFailed {
			o.logger.Debug("skipping failed engine", zap.String("engine", name))
			continue
		}
		dispatch = append(dispatch, s)
	}
	return dispatch, disabled
}

func featureEnabled(f Feature, cfg models.ModeConfig) bool {
	switch f {
	case FeaturePredictive:
		return cfg.EnablePredictive
	case FeatureCorrelation:
		return cfg.EnableCorrelation
	}
	return true
}

// invoke waits for the engine to be ready, then runs it. Panics become errors.
func (o *orchestrator) invoke(ctx context.Context, s *slot, req *engines.Request) outcome {
	name := s.engine.Name()
	start := time.Now()
	if !o.EnsureReady(ctx, name) {
		err := errEngineNotReady
		if ctx.Err() != nil {
			err = errEngineTimeout
		}
		return outcome{name: name, err: err, latency: time.Since(start)}
	}

	var res *models.EngineResult
	err := safeCall(func() error {
		var err error
		res, err = s.engine.Analyze(ctx, req)
		return err
	})
	switch {
	case err != nil && ctx.Err() != nil && !errors.Is(err, engines.ErrNotApplicable):
		err = errEngineTimeout
	case err == nil && res == nil:
		err = errors.New("engine returned no result")
	}
	return outcome{name: name, result: res, err: err, latency: time.Since(start)}
}

// record classifies an outcome into the result and updates the engine's stats.
func (o *orchestrator) record(s *slot, out outcome, result *models.HybridAnalysisResult) {
	status := "success"
	switch {
	case out.err == nil:
		// Engines may hand back shared results; normalize a copy.
		r := new(models.EngineResult)
		*r = *out.result
		if r.Engine == "" {
			r.Engine = out.name
		}
		r.Confidence = engines.ClampConfidence(r.Confidence)
		if r.Latency == 0 {
			r.Latency = out.latency
		}
		result.Results[out.name] = r
	case errors.Is(out.err, engines.ErrNotApplicable):
		status = "skipped"
		result.Skipped = append(result.Skipped, out.name)
	case errors.Is(out.err, errEngineNotReady):
		// Initialization failure is already recorded on the engine.
		result.Failed = append(result.Failed, out.name)
		metrics.EngineInvocations.WithLabelValues(out.name, "not_ready").Inc()
		return
	default:
		status = "error"
		result.Failed = append(result.Failed, out.name)
		o.logger.Warn("engine analysis failed", zap.String("engine", out.name), zap.Error(out.err))
	}

	metrics.EngineInvocations.WithLabelValues(out.name, status).Inc()
	metrics.EngineLatency.WithLabelValues(out.name).Observe(out.latency.Seconds())
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastUsed = time.Now()
	switch status {
	case "success":
		s.stats.SuccessCount++
	case "skipped":
		s.stats.SkippedCount++
		return
	default:
		s.stats.ErrorCount++
		s.stats.LastError = out.err.Error()
	}
	// Running average over successful and failed invocations.
	n := s.stats.SuccessCount + s.stats.ErrorCount
	s.stats.AvgLatency += (out.latency - s.stats.AvgLatency) / time.Duration(n)
}

// aggregate sets confidence and EngineUsed from the successful results.
func aggregate(result *models.HybridAnalysisResult) {
	switch len(result.Results) {
	case 0:
		result.EngineUsed = models.EngineUsedNone
		result.Confidence = 0
		return
	case 1:
		for name := range result.Results {
			result.EngineUsed = name
		}
	default:
		result.EngineUsed = models.EngineUsedHybrid
	}
	var sum float64
	for _, r := range result.Results {
		sum += r.Confidence
	}
	result.Confidence = sum / float64(len(result.Results))
	if result.Confidence > models.MaxConfidence {
		result.Confidence = models.MaxConfidence
	}
}

// ─── Introspection ────────────────────────────────────────────────────────────

func (o *orchestrator) Stats() []models.EngineStats {
	slots := o.sortedSlots()
	out := make([]models.EngineStats, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.stats)
		s.mu.Unlock()
	}
	return out
}

func (o *orchestrator) Health() Health {
	h := Health{Engines: make(map[string]models.EngineState)}
	eagerFailed := false
	for _, s := range o.sortedSlots() {
		s.mu.Lock()
		st := s.stats.State
		deferred := s.opts.Deferred
		s.mu.Unlock()
		h.Engines[s.engine.Name()] = st
		h.Total++
		if st == models.EngineReady {
			h.Ready++
		}
		if st == models.EngineFailed && !deferred {
			eagerFailed = true
		}
	}
	h.Healthy = h.Ready > 0 && !eagerFailed
	return h
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return fn()
}
