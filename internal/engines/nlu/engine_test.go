package nlu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
)

func analyze(text string) *models.SmartQuery {
	return analyzer.NewAnalyzer(analyzer.DefaultOptions(), nil).Analyze(text)
}

func TestAnalyzeEnglish(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.Initialize(context.Background()))

	res, err := e.Analyze(context.Background(), &engines.Request{
		Query: analyze("web-01 outage: cpu above 95% for 10m"),
		Documents: []models.ScoredDocument{
			{Document: models.DocumentContext{ID: "runbooks/cpu.md", Title: "CPU runbook"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "nlu", res.Engine)
	assert.Contains(t, res.Summary, "troubleshooting")
	assert.Contains(t, res.Findings, "Hosts: web-01")
	assert.Contains(t, res.Findings, "Thresholds: 95%")
	assert.Contains(t, res.Findings, "Time windows: 10m")
	assert.Contains(t, res.Findings, "Most relevant document: CPU runbook")
	assert.Greater(t, res.Confidence, 0.5)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestAnalyzeKorean(t *testing.T) {
	res, err := New(nil).Analyze(context.Background(), &engines.Request{
		Query: analyze("CPU 사용률이 높은 서버를 찾아주세요"),
	})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "검색")
	assert.Contains(t, res.Summary, "cpu")
}

func TestAnalyzeNotApplicable(t *testing.T) {
	e := New(nil)

	_, err := e.Analyze(context.Background(), &engines.Request{Query: analyze("")})
	assert.ErrorIs(t, err, engines.ErrNotApplicable)

	_, err = e.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, engines.ErrNotApplicable)
}

func TestAnalyzeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Analyze(ctx, &engines.Request{Query: analyze("cpu usage")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfidenceFallbackIsLower(t *testing.T) {
	q := &models.SmartQuery{Keywords: []string{"cpu"}, Intent: models.IntentSearch}
	normal := confidence(q, engines.Entities{}, 0)
	q.Fallback = true
	assert.Less(t, confidence(q, engines.Entities{}, 0), normal)
	assert.InDelta(t, 0.5, normal, 1e-9)
}
