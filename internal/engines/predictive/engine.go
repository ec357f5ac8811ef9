package predictive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-insight/internal/analytics"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/integration/prometheus"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package predictive implements the failure-risk engine.
//
// For every resource the question mentions (cpu, memory, disk; all of them
// when none is named) it pulls the recent metric history for the referenced
// instance, detects anomalous samples, fits a trend and projects when the
// failure threshold is crossed. The overall risk is the worst per-resource risk.

const defaultHorizon = 24 * time.Hour

var riskOrder = map[string]int{"low": 0, "medium": 1, "high": 2, "critical": 3}

var riskLabels = map[string]string{"low": "낮음", "medium": "보통", "high": "높음", "critical": "매우 높음"}

// resourceTerms maps query keywords to metric kinds.
var resourceTerms = map[string]analytics.MetricKind{
	"cpu": analytics.MetricCPU, "사용률": analytics.MetricCPU, "load": analytics.MetricCPU, "부하": analytics.MetricCPU,
	"memory": analytics.MetricMemory, "메모리": analytics.MetricMemory, "oom": analytics.MetricMemory,
	"disk": analytics.MetricDisk, "디스크": analytics.MetricDisk, "storage": analytics.MetricDisk, "용량": analytics.MetricDisk,
}

// Options configures the engine.
type Options struct {
	Lookback         time.Duration
	Step             time.Duration
	Horizon          time.Duration
	FailureThreshold float64
	Queries          map[string]string // metric kind -> PromQL with %s instance placeholders
}

// OptionsFromConfig builds engine options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Engines.Predictive
	return Options{
		Lookback:         time.Duration(p.LookbackMinutes) * time.Minute,
		Step:             time.Duration(p.StepSeconds) * time.Second,
		Horizon:          defaultHorizon,
		FailureThreshold: p.FailureThreshold,
		Queries:          p.Queries,
	}
}

// Engine is the predictive engine.
type Engine struct {
	source   prometheus.MetricSource
	opts     Options
	analyzer *analytics.Analyzer
	logger   *zap.Logger
	now      func() time.Time
}

// New creates the predictive engine. A nil source leaves the engine unconfigured.
func New(source prometheus.MetricSource, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Horizon <= 0 {
		opts.Horizon = defaultHorizon
	}
	if opts.Step <= 0 {
		opts.Step = 5 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 6 * time.Hour
	}
	return &Engine{
		source:   source,
		opts:     opts,
		analyzer: analytics.NewAnalyzer(3.0),
		logger:   logger,
		now:      time.Now,
	}
}

func (e *Engine) Name() string { return config.EnginePredictive }

func (e *Engine) Initialize(ctx context.Context) error {
	if e.source == nil {
		return engines.NotConfigured(e.Name(), "engines.predictive.prometheus_url")
	}
	if len(e.opts.Queries) == 0 {
		return engines.NotConfigured(e.Name(), "engines.predictive.queries")
	}
	return e.source.Ping(ctx)
}

func (e *Engine) Dispose(context.Context) error { return nil }

type metricOutcome struct {
	kind      analytics.MetricKind
	stats     analytics.Statistics
	anomalies []analytics.Anomaly
	forecast  analytics.Forecast
	risk      string
}

func (e *Engine) Analyze(ctx context.Context, req *engines.Request) (*models.EngineResult, error) {
	if req == nil || req.Query == nil {
		return nil, engines.ErrNotApplicable
	}
	start := time.Now()
	kinds := e.selectKinds(req.Query.Keywords)
	if len(kinds) == 0 {
		return nil, engines.ErrNotApplicable
	}
	instance := engines.ExtractEntities(req.Query.Normalized).Instance()

	end := e.now()
	begin := end.Add(-e.opts.Lookback)

	var mu sync.Mutex
	var outcomes []metricOutcome
	var failures []error
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			query := strings.ReplaceAll(e.opts.Queries[string(kind)], "%s", regexp.QuoteMeta(instance))
			points, err := e.source.QueryRange(gctx, query, begin, end, e.opts.Step)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Debug("metric query failed", zap.String("metric", string(kind)), zap.Error(err))
				failures = append(failures, fmt.Errorf("%s: %w", kind, err))
				return nil
			}
			if o, ok := e.analyzeSeries(kind, points); ok {
				outcomes = append(outcomes, o)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(outcomes) == 0 {
		if len(failures) == len(kinds) {
			return nil, fmt.Errorf("all metric queries failed: %w", errors.Join(failures...))
		}
		return nil, fmt.Errorf("%w: not enough metric history", engines.ErrNotApplicable)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].kind < outcomes[j].kind })

	res := e.buildResult(outcomes, instance, req.Korean())
	res.Latency = time.Since(start)
	return res, nil
}

func (e *Engine) selectKinds(keywords []string) []analytics.MetricKind {
	seen := map[analytics.MetricKind]bool{}
	var kinds []analytics.MetricKind
	for _, kw := range keywords {
		if k, ok := resourceTerms[kw]; ok && !seen[k] {
			if _, configured := e.opts.Queries[string(k)]; configured {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	if len(kinds) > 0 {
		return kinds
	}
	for name := range e.opts.Queries {
		kinds = append(kinds, analytics.MetricKind(name))
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (e *Engine) analyzeSeries(kind analytics.MetricKind, points []analytics.DataPoint) (metricOutcome, bool) {
	if len(points) < analytics.MinPoints {
		return metricOutcome{}, false
	}
	stats, err := e.analyzer.Statistics(points)
	if err != nil {
		return metricOutcome{}, false
	}
	forecast, err := e.analyzer.Forecast(points, e.opts.FailureThreshold, e.opts.Horizon)
	if err != nil {
		return metricOutcome{}, false
	}
	return metricOutcome{
		kind:      kind,
		stats:     stats,
		anomalies: e.analyzer.Anomalies(points),
		forecast:  forecast,
		risk:      analytics.RiskLevel(forecast),
	}, true
}

func (e *Engine) buildResult(outcomes []metricOutcome, instance string, ko bool) *models.EngineResult {
	worst := outcomes[0]
	var r2 float64
	metrics := make(map[string]interface{}, len(outcomes))
	res := &models.EngineResult{Engine: e.Name()}

	for _, o := range outcomes {
		if riskOrder[o.risk] > riskOrder[worst.risk] {
			worst = o
		}
		r2 += o.forecast.Confidence
		metrics[string(o.kind)] = map[string]interface{}{
			"current":     o.stats.Last,
			"mean":        o.stats.Mean,
			"p95":         o.stats.P95,
			"trend":       o.forecast.Trend.Direction,
			"slope":       o.forecast.Trend.SlopePerHour,
			"will_breach": o.forecast.WillBreach,
			"breach_in":   o.forecast.BreachIn.String(),
			"risk":        o.risk,
			"anomalies":   len(o.anomalies),
		}
		res.Findings = append(res.Findings, e.finding(o, ko))
		if rec := e.recommendation(o, instance, ko); rec != "" {
			res.Recommendations = append(res.Recommendations, rec)
		}
	}

	res.Confidence = engines.ClampConfidence(0.35 + 0.55*r2/float64(len(outcomes)))
	res.Data = map[string]interface{}{
		"risk":      worst.risk,
		"instance":  instance,
		"threshold": e.opts.FailureThreshold,
		"metrics":   metrics,
	}

	target := instance
	if target == "" {
		target = "all instances"
		if ko {
			target = "전체 인스턴스"
		}
	}
	switch {
	case ko && worst.forecast.WillBreach:
		res.Summary = fmt.Sprintf("%s의 장애 위험도는 %s입니다. %s 사용률이 %s 내에 %.0f%%에 도달할 것으로 예측됩니다.",
			target, riskLabels[worst.risk], worst.kind, roundDuration(worst.forecast.BreachIn), e.opts.FailureThreshold)
	case ko:
		res.Summary = fmt.Sprintf("%s의 장애 위험도는 %s입니다. %s 시간 내 임계치 도달은 예상되지 않습니다.",
			target, riskLabels[worst.risk], roundDuration(e.opts.Horizon))
	case worst.forecast.WillBreach:
		res.Summary = fmt.Sprintf("Failure risk for %s is %s: %s is projected to reach %.0f%% within %s.",
			target, worst.risk, worst.kind, e.opts.FailureThreshold, roundDuration(worst.forecast.BreachIn))
	default:
		res.Summary = fmt.Sprintf("Failure risk for %s is %s: no resource is projected to reach %.0f%% within %s.",
			target, worst.risk, e.opts.FailureThreshold, roundDuration(e.opts.Horizon))
	}
	return res
}

func (e *Engine) finding(o metricOutcome, ko bool) string {
	t := o.forecast.Trend
	var s string
	if ko {
		s = fmt.Sprintf("%s: 현재 %.1f%%, 평균 %.1f%%, 추세 %s (시간당 %+.2f)", o.kind, o.stats.Last, o.stats.Mean, t.Direction, t.SlopePerHour)
		if len(o.anomalies) > 0 {
			s += fmt.Sprintf(", 이상치 %d건", len(o.anomalies))
		}
		return s
	}
	s = fmt.Sprintf("%s: current %.1f%%, mean %.1f%%, trend %s (%+.2f/h, R² %.2f)", o.kind, o.stats.Last, o.stats.Mean, t.Direction, t.SlopePerHour, t.RSquared)
	if len(o.anomalies) > 0 {
		s += fmt.Sprintf(", %d anomalous samples", len(o.anomalies))
	}
	return s
}

func (e *Engine) recommendation(o metricOutcome, instance string, ko bool) string {
	where := ""
	if instance != "" {
		where = " on " + instance
	}
	switch o.risk {
	case "critical":
		if ko {
			return fmt.Sprintf("%s 자원을 즉시 확보하거나 부하를 분산하세요.", o.kind)
		}
		return fmt.Sprintf("Free or add %s capacity%s now; the %.0f%% threshold is imminent.", o.kind, where, e.opts.FailureThreshold)
	case "high":
		if ko {
			return fmt.Sprintf("%s 용량 증설 계획을 하루 안에 수립하세요.", o.kind)
		}
		return fmt.Sprintf("Plan %s capacity%s within the next day.", o.kind, where)
	case "medium":
		if ko {
			return fmt.Sprintf("%s 사용률 증가 추세를 계속 관찰하세요.", o.kind)
		}
		return fmt.Sprintf("Keep watching the rising %s trend%s.", o.kind, where)
	}
	return ""
}

// roundDuration renders d as whole hours, or whole minutes below an hour.
func roundDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh", int(d.Round(time.Hour)/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d.Round(time.Minute)/time.Minute))
}
