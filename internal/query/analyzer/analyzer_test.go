package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

func newTestAnalyzer() Analyzer {
	return NewAnalyzer(DefaultOptions(), nil)
}

func TestAnalyzeKoreanCPUQuery(t *testing.T) {
	q := newTestAnalyzer().Analyze("CPU 사용률이 높은 서버를 찾아주세요")

	require.NotNil(t, q)
	assert.False(t, q.Fallback)
	assert.Equal(t, models.LanguageKorean, q.Language)
	assert.Equal(t, models.IntentSearch, q.Intent, "no incident trigger matched, so intent stays search")
	assert.Equal(t, "cpu 사용률이 높은 서버를 찾아주세요", q.Normalized)
	assert.Equal(t, []string{"cpu", "사용률", "서버", "높은"}, q.Keywords)
	assert.NotContains(t, q.Keywords, "찾아주세요")
	assert.Contains(t, q.RequiredActions, ActionCollectServerMetrics)
	assert.Contains(t, q.RequiredDocuments, "fallback/cpu-high-usage")
	assert.Equal(t, []string{engineNLU, engineSemantic}, q.RequiredEngines)
	assert.Equal(t, 3, q.ModeDetection.Score)
	assert.Less(t, q.ModeDetection.Score, DefaultOptions().AdvancedThreshold)
}

func TestAnalyzeEmptyQuery(t *testing.T) {
	for _, input := range []string{"", "   ", "?!..."} {
		q := newTestAnalyzer().Analyze(input)
		require.NotNil(t, q)
		assert.True(t, q.Fallback, "input %q", input)
		assert.Equal(t, models.IntentSearch, q.Intent)
		assert.Equal(t, 0, q.ModeDetection.Score)
		assert.Equal(t, models.LanguageKorean, q.Language)
		assert.NotContains(t, q.Keywords, "")
	}

	q := newTestAnalyzer().Analyze("")
	assert.Empty(t, q.Keywords)
	assert.NotNil(t, q.Keywords)
}

func TestAnalyzeEnglishIncident(t *testing.T) {
	q := newTestAnalyzer().Analyze("Critical outage on payment service, check error logs")

	assert.Equal(t, models.LanguageEnglish, q.Language)
	assert.Equal(t, models.IntentTroubleshooting, q.Intent)
	assert.Equal(t, 30, q.CategoryScores[models.CategoryIncident])
	assert.Equal(t, 2, q.CategoryScores[models.CategoryGeneric])
	assert.Equal(t, 32, q.ModeDetection.Score)
	assert.Contains(t, q.ModeDetection.Triggers, "incident:outage")
	assert.Equal(t, []string{"critical", "outage", "service", "error", "logs", "payment", "check"}, q.Keywords)
	assert.Equal(t, []string{ActionQueryRecentLogs, ActionListActiveAlerts}, q.RequiredActions)
	assert.Contains(t, q.RequiredEngines, engineLLM)
	assert.NotContains(t, q.RequiredEngines, enginePredictive)
	assert.Contains(t, q.RequiredDocuments, "fallback/incident-response")
}

func TestAnalyzePrediction(t *testing.T) {
	q := newTestAnalyzer().Analyze("predict disk usage trend for next week")

	assert.Equal(t, models.IntentPrediction, q.Intent)
	assert.Equal(t, 14, q.CategoryScores[models.CategoryPrediction])
	assert.Contains(t, q.RequiredEngines, enginePredictive)
	assert.NotContains(t, q.RequiredEngines, engineLLM)
	assert.Contains(t, q.RequiredActions, ActionCollectServerMetrics)
	assert.GreaterOrEqual(t, q.ModeDetection.Score, 6)
}

func TestAnalyzeKoreanPrediction(t *testing.T) {
	q := newTestAnalyzer().Analyze("다음 주 디스크 사용량 추세를 예측해줘")

	assert.Equal(t, models.LanguageKorean, q.Language)
	assert.Equal(t, models.IntentPrediction, q.Intent)
	assert.Contains(t, q.Keywords, "디스크")
	assert.Contains(t, q.RequiredEngines, enginePredictive)
}

func TestIntentTieBreaksByPriority(t *testing.T) {
	opts := DefaultOptions()
	opts.Weights.Report = 7
	opts.Weights.Prediction = 7
	a := NewAnalyzer(opts, nil)

	q := a.Analyze("analyze and forecast")
	assert.Equal(t, q.CategoryScores[models.CategoryReport], q.CategoryScores[models.CategoryPrediction])
	assert.Equal(t, models.IntentAnalysis, q.Intent, "report outranks prediction on ties")
}

func TestCorrelationRequiresLLM(t *testing.T) {
	q := newTestAnalyzer().Analyze("correlation between latency and traffic")
	assert.Equal(t, models.IntentAnalysis, q.Intent)
	assert.Contains(t, q.RequiredEngines, engineLLM)
}

func TestHangulTriggersMatchWordBoundaries(t *testing.T) {
	tests := []struct {
		query    string
		incident bool
	}{
		{"서버 다운", true},
		{"서버가 다운됐어요", true},
		{"결제서버다운 원인", true},
		{"로그 파일 다운로드 방법", false},
		{"다운그레이드 절차", false},
		{"에러로그 정리", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q := newTestAnalyzer().Analyze(tt.query)
			if tt.incident {
				assert.Positive(t, q.CategoryScores[models.CategoryIncident])
				return
			}
			assert.Zero(t, q.CategoryScores[models.CategoryIncident])
			assert.NotContains(t, q.ModeDetection.Triggers, "incident:다운")
		})
	}
}

func TestLanguageWithoutScriptMarkers(t *testing.T) {
	q := newTestAnalyzer().Analyze("12345 678")
	assert.Equal(t, models.LanguageKorean, q.Language)
	assert.Equal(t, []string{"12345", "678"}, q.Keywords)

	opts := DefaultOptions()
	opts.PrimaryLanguage = models.LanguageEnglish
	q = NewAnalyzer(opts, nil).Analyze("12345 678")
	assert.Equal(t, models.LanguageEnglish, q.Language)
}

func TestLanguageMixedScript(t *testing.T) {
	// 2 Hangul runes out of 16 non-space runes is below the 0.3 threshold.
	q := newTestAnalyzer().Analyze("kubernetes node 상태")
	assert.Equal(t, models.LanguageEnglish, q.Language)

	q = newTestAnalyzer().Analyze("노드 상태 check")
	assert.Equal(t, models.LanguageKorean, q.Language)
}

func TestLongQueryBonus(t *testing.T) {
	long := "please look at the payment gateway and the checkout frontend and tell me whether anything looks unusual compared with yesterday"
	q := newTestAnalyzer().Analyze(long)
	assert.Contains(t, q.ModeDetection.Triggers, "complexity:long_query")
	assert.GreaterOrEqual(t, q.ModeDetection.Score, DefaultOptions().Weights.LongQuery)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CPU 사용률이 90%!!  높은 서버는?", "cpu 사용률이 90% 높은 서버는"},
		{"node-exporter v1.2 (prod)", "node-exporter v1.2 prod"},
		{"  --hello--  ", "hello"},
		{"disk_usage, mem.", "disk_usage mem"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestTokenizeStripsParticles(t *testing.T) {
	assert.Equal(t, []string{"서버", "메모리", "로그"}, Tokenize("서버를 메모리가 로그에서"))
	assert.Equal(t, []string{"높은"}, Tokenize("높은 좀"), "stems shorter than two runes keep their ending")
	assert.Equal(t, []string{"memory", "pressure"}, Tokenize("the memory pressure"))
}

func TestModeConfidence(t *testing.T) {
	assert.Equal(t, 60, ModeConfidence(6, 6))
	assert.Equal(t, 80, ModeConfidence(10, 6))
	assert.Equal(t, 84, ModeConfidence(3, 6))
	assert.Equal(t, 100, ModeConfidence(40, 6))
	assert.Equal(t, 100, ModeConfidence(0, 6))
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := newTestAnalyzer()
	first := a.Analyze("장애 원인 분석과 메모리 상태 보고서")
	second := a.Analyze("장애 원인 분석과 메모리 상태 보고서")
	assert.Equal(t, first, second)
	assert.Equal(t, models.IntentAnalysis, first.Intent, "two report triggers outscore one incident trigger")
}
