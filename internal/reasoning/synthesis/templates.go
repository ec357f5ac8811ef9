package synthesis

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// labels holds the language-specific wording of an answer.
type labels struct {
	Lead         map[models.Intent]string
	DocLead      string
	NextSteps    string
	OtherEngines string
	Documents    string
	Actions      string
	Advice       map[models.Intent]string
	LowQuality   string
	Insufficient string
	Keywords     string
	NoKeywords   string
}

var english = labels{
	Lead: map[models.Intent]string{
		models.IntentTroubleshooting: "Likely cause:",
		models.IntentAnalysis:        "Analysis:",
		models.IntentPrediction:      "Forecast:",
		models.IntentOptimization:    "Optimization opportunities:",
		models.IntentSearch:          "Answer:",
	},
	DocLead:      "From the documentation:",
	NextSteps:    "Next steps:",
	OtherEngines: "Additional analysis:",
	Documents:    "Related documents:",
	Actions:      "Collected data:",
	Advice: map[models.Intent]string{
		models.IntentTroubleshooting: "Tip: check recent deployments and events for the affected workload first.",
		models.IntentAnalysis:        "Tip: compare against the same window last week to spot regressions.",
		models.IntentPrediction:      "Tip: forecasts assume the current trend continues; re-check after scaling changes.",
		models.IntentOptimization:    "Tip: apply resource changes gradually and compare utilization before and after.",
		models.IntentSearch:          "Tip: name a service, node or namespace to narrow the search.",
	},
	LowQuality:   "Confidence in this answer is low. Verify it against live cluster data before acting on it.",
	Insufficient: "There is not enough information to answer this question reliably.",
	Keywords:     "Detected keywords:",
	NoKeywords:   "none",
}

var korean = labels{
	Lead: map[models.Intent]string{
		models.IntentTroubleshooting: "추정 원인:",
		models.IntentAnalysis:        "분석 결과:",
		models.IntentPrediction:      "예측:",
		models.IntentOptimization:    "최적화 기회:",
		models.IntentSearch:          "답변:",
	},
	DocLead:      "문서 기준:",
	NextSteps:    "다음 조치:",
	OtherEngines: "추가 분석:",
	Documents:    "관련 문서:",
	Actions:      "수집된 데이터:",
	Advice: map[models.Intent]string{
		models.IntentTroubleshooting: "팁: 영향받은 워크로드의 최근 배포와 이벤트를 먼저 확인하세요.",
		models.IntentAnalysis:        "팁: 지난주 같은 시간대와 비교하면 성능 저하를 찾기 쉽습니다.",
		models.IntentPrediction:      "팁: 예측은 현재 추세가 유지된다고 가정합니다. 스케일 변경 후 다시 확인하세요.",
		models.IntentOptimization:    "팁: 리소스 변경은 단계적으로 적용하고 전후 사용률을 비교하세요.",
		models.IntentSearch:          "팁: 서비스, 노드 또는 네임스페이스 이름을 지정하면 검색 범위를 좁힐 수 있습니다.",
	},
	LowQuality:   "이 답변의 신뢰도가 낮습니다. 조치하기 전에 실제 클러스터 데이터로 확인하세요.",
	Insufficient: "이 질문에 신뢰성 있게 답할 정보가 부족합니다.",
	Keywords:     "감지된 키워드:",
	NoKeywords:   "없음",
}

func labelsFor(lang models.Language) labels {
	if lang == models.LanguageKorean {
		return korean
	}
	return english
}

func (l labels) lead(intent models.Intent) string {
	if s, ok := l.Lead[intent]; ok {
		return s
	}
	return l.Lead[models.IntentSearch]
}

func (l labels) advice(intent models.Intent) string {
	if s, ok := l.Advice[intent]; ok {
		return s
	}
	return l.Advice[models.IntentSearch]
}

// ─── Templates ───────────────────────────────────────────────────────────────

type headlineData struct {
	Lead      string
	NextSteps string
	Result    *models.EngineResult
}

type docHeadlineData struct {
	Lead    string
	Title   string
	ID      string
	Excerpt string
}

type othersData struct {
	Header  string
	Results []*models.EngineResult
}

type docLine struct {
	Title   string
	ID      string
	Excerpt string
}

type docsData struct {
	Header string
	Docs   []docLine
}

type actionsData struct {
	Header  string
	Actions []models.ActionResult
}

type insufficientData struct {
	Message  string
	Label    string
	Keywords string
}

var sections = template.Must(template.New("sections").Funcs(template.FuncMap{
	"percent": func(c float64) string { return fmt.Sprintf("%.0f%%", c*100) },
	"oneline": func(s string) string { return strings.Join(strings.Fields(s), " ") },
}).Parse(`
{{- define "headline" -}}
{{.Lead}} {{.Result.Summary}}
{{- range .Result.Findings}}
- {{.}}
{{- end}}
{{- if .Result.Recommendations}}
{{.NextSteps}}
{{- range .Result.Recommendations}}
- {{.}}
{{- end}}
{{- end}}
{{- end -}}

{{- define "doc_headline" -}}
{{.Lead}} {{.Title}} ({{.ID}})
{{.Excerpt}}
{{- end -}}

{{- define "others" -}}
{{.Header}}
{{- range .Results}}
- [{{.Engine}} {{percent .Confidence}}] {{oneline .Summary}}
{{- end}}
{{- end -}}

{{- define "documents" -}}
{{.Header}}
{{- range .Docs}}
- {{.Title}} ({{.ID}}): {{.Excerpt}}
{{- end}}
{{- end -}}

{{- define "actions" -}}
{{.Header}}
{{- range .Actions}}
- {{.ID}}: {{oneline .Output}}
{{- end}}
{{- end -}}

{{- define "insufficient" -}}
{{.Message}}
{{.Label}} {{.Keywords}}
{{- end -}}
`))

// render executes a named section template. Template errors only arise from
// programming mistakes, so they degrade to an empty section.
func render(name string, data interface{}) string {
	var b strings.Builder
	if err := sections.ExecuteTemplate(&b, name, data); err != nil {
		return ""
	}
	return strings.TrimSpace(b.String())
}
