package predictive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/analytics"
	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	series  map[string][]analytics.DataPoint // keyed by a substring of the query
	err     error
	pingErr error
	queries []string
}

func (f *fakeSource) Ping(context.Context) error { return f.pingErr }

func (f *fakeSource) QueryRange(_ context.Context, query string, _, _ time.Time, _ time.Duration) ([]analytics.DataPoint, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for key, s := range f.series {
		if strings.Contains(query, key) {
			return s, nil
		}
	}
	return nil, nil
}

func hourly(values ...float64) []analytics.DataPoint {
	points := make([]analytics.DataPoint, len(values))
	start := now.Add(-time.Duration(len(values)-1) * time.Hour)
	for i, v := range values {
		points[i] = analytics.DataPoint{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: v}
	}
	return points
}

func newEngine(src *fakeSource) *Engine {
	e := New(src, OptionsFromConfig(config.DefaultConfig()), nil)
	e.now = func() time.Time { return now }
	return e
}

func request(text string) *engines.Request {
	return &engines.Request{Query: analyzer.NewAnalyzer(analyzer.DefaultOptions(), nil).Analyze(text)}
}

func TestInitialize(t *testing.T) {
	assert.ErrorIs(t, New(nil, OptionsFromConfig(config.DefaultConfig()), nil).Initialize(context.Background()), engines.ErrNotConfigured)
	assert.ErrorIs(t, New(&fakeSource{}, Options{}, nil).Initialize(context.Background()), engines.ErrNotConfigured)
	assert.Error(t, newEngine(&fakeSource{pingErr: errors.New("refused")}).Initialize(context.Background()))
	assert.NoError(t, newEngine(&fakeSource{}).Initialize(context.Background()))
}

func TestAnalyzeProjectsBreach(t *testing.T) {
	src := &fakeSource{series: map[string][]analytics.DataPoint{
		"node_filesystem": hourly(72, 74, 76, 78, 80),
	}}
	e := newEngine(src)

	res, err := e.Analyze(context.Background(), request("predict disk failure risk for web-01"))
	require.NoError(t, err)

	require.Len(t, src.queries, 1, "only the named resource is queried")
	assert.Contains(t, src.queries[0], `instance=~"web-01.*"`)

	assert.Equal(t, "predictive", res.Engine)
	assert.Equal(t, "critical", res.Data["risk"])
	assert.Contains(t, res.Summary, "disk")
	assert.Contains(t, res.Summary, "5h")
	require.Len(t, res.Findings, 1)
	assert.Contains(t, res.Findings[0], "increasing")
	require.Len(t, res.Recommendations, 1)
	assert.Contains(t, res.Recommendations[0], "web-01")
	assert.InDelta(t, 0.9, res.Confidence, 1e-6)
}

func TestAnalyzeAllResourcesWhenNoneNamed(t *testing.T) {
	flat := hourly(40, 40, 40, 40)
	src := &fakeSource{series: map[string][]analytics.DataPoint{
		"node_cpu":        flat,
		"node_memory":     flat,
		"node_filesystem": flat,
	}}
	res, err := newEngine(src).Analyze(context.Background(), request("forecast the risk trend"))
	require.NoError(t, err)
	assert.Len(t, src.queries, 3)
	assert.Equal(t, "low", res.Data["risk"])
	assert.Len(t, res.Findings, 3)
	assert.Empty(t, res.Recommendations)
	assert.Contains(t, res.Summary, "all instances")
}

func TestAnalyzeKoreanSummary(t *testing.T) {
	src := &fakeSource{series: map[string][]analytics.DataPoint{
		"node_memory": hourly(50, 60, 70, 80),
	}}
	res, err := newEngine(src).Analyze(context.Background(), request("메모리 사용률 추세 예측"))
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "장애 위험도")
}

func TestAnalyzeFailures(t *testing.T) {
	_, err := newEngine(&fakeSource{err: errors.New("timeout")}).Analyze(context.Background(), request("predict cpu"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, engines.ErrNotApplicable)

	src := &fakeSource{series: map[string][]analytics.DataPoint{"node_cpu": hourly(10, 20)}}
	_, err = newEngine(src).Analyze(context.Background(), request("predict cpu"))
	assert.ErrorIs(t, err, engines.ErrNotApplicable)
}

func TestRoundDuration(t *testing.T) {
	assert.Equal(t, "5h", roundDuration(5*time.Hour+10*time.Minute))
	assert.Equal(t, "45m", roundDuration(45*time.Minute))
	assert.Equal(t, "0m", roundDuration(0))
}
