package llm

import (
	"strings"
	"text/template"

	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// ─── System prompts ───────────────────────────────────────────────────────────

const systemPromptEN = `You are Kubilitics Insight, an infrastructure operations analyst.

ROLE:
- Answer the operator's question using only the reference documents and action outputs provided
- Say plainly when the material does not contain the answer
- Quote specific hosts, metrics and thresholds

OUTPUT FORMAT:
- Start with a one-paragraph answer
- List findings as "- " bullet lines under a "Findings:" line
- List concrete next steps as "- " bullet lines under a "Recommendations:" line
- End with a line "Confidence: NN%"`

const systemPromptKO = `당신은 인프라 운영 분석가 Kubilitics Insight입니다.

역할:
- 제공된 참고 문서와 작업 결과만을 근거로 운영자의 질문에 답하세요
- 자료에 답이 없으면 그렇다고 분명히 말하세요
- 호스트, 지표, 임계값을 구체적으로 인용하세요

출력 형식:
- 한 문단 답변으로 시작하세요
- "발견 사항:" 줄 아래에 "- " 목록으로 발견 사항을 적으세요
- "권장 사항:" 줄 아래에 "- " 목록으로 다음 조치를 적으세요
- 마지막 줄은 "신뢰도: NN%" 형식으로 적으세요`

func systemPrompt(ko bool) string {
	if ko {
		return systemPromptKO
	}
	return systemPromptEN
}

// ─── User prompt ──────────────────────────────────────────────────────────────

const (
	maxPromptDocuments = 4
	maxDocumentRunes   = 800
	maxActionRunes     = 400
)

var taskByIntent = map[models.Intent]string{
	models.IntentTroubleshooting: "Identify the most likely cause and how to confirm it.",
	models.IntentAnalysis:        "Analyze the current state and call out anything abnormal.",
	models.IntentPrediction:      "Assess the risk ahead and when it is likely to materialize.",
	models.IntentOptimization:    "Propose the changes with the best cost-to-benefit ratio.",
	models.IntentSearch:          "Point to the most relevant guidance.",
}

var taskByIntentKO = map[models.Intent]string{
	models.IntentTroubleshooting: "가장 가능성 높은 원인과 확인 방법을 제시하세요.",
	models.IntentAnalysis:        "현재 상태를 분석하고 비정상적인 부분을 짚어 주세요.",
	models.IntentPrediction:      "앞으로의 위험과 발생 시점을 평가하세요.",
	models.IntentOptimization:    "효과 대비 비용이 가장 좋은 변경안을 제안하세요.",
	models.IntentSearch:          "가장 관련 있는 안내를 알려 주세요.",
}

var userPrompt = template.Must(template.New("user").Parse(`## {{.Heading}}

{{.Question}}

{{.TaskLabel}} {{.Task}}
{{- if .Keywords}}
{{.KeywordsLabel}} {{.Keywords}}
{{- end}}
{{- range .Documents}}

### {{.Title}} ({{.ID}})
{{.Content}}
{{- end}}
{{- range .Actions}}

### {{$.ActionLabel}} {{.ID}}
{{.Output}}
{{- end}}
`))

type promptDocument struct {
	ID, Title, Content string
}

type promptAction struct {
	ID, Output string
}

type promptData struct {
	Heading, Question, TaskLabel, Task, KeywordsLabel, Keywords, ActionLabel string
	Documents                                                               []promptDocument
	Actions                                                                 []promptAction
}

// renderUserPrompt lays out the question with the top documents and the
// successful action outputs.
func renderUserPrompt(req *engines.Request) (string, error) {
	ko := req.Korean()
	q := req.Query
	data := promptData{
		Heading:       "Question",
		Question:      q.Original,
		TaskLabel:     "Task:",
		Task:          taskByIntent[q.Intent],
		KeywordsLabel: "Keywords:",
		Keywords:      strings.Join(q.Keywords, ", "),
		ActionLabel:   "Action output:",
	}
	if ko {
		data.Heading, data.TaskLabel, data.KeywordsLabel, data.ActionLabel = "질문", "요청:", "키워드:", "작업 결과:"
		data.Task = taskByIntentKO[q.Intent]
	}
	if data.Task == "" {
		data.Task = taskByIntent[models.IntentSearch]
	}

	for i, d := range req.Documents {
		if i == maxPromptDocuments {
			break
		}
		data.Documents = append(data.Documents, promptDocument{
			ID:      d.Document.ID,
			Title:   d.Document.Title,
			Content: engines.Excerpt(d.Document.Content, maxDocumentRunes),
		})
	}
	for _, a := range req.Actions {
		if a.Success {
			data.Actions = append(data.Actions, promptAction{ID: a.ID, Output: engines.Excerpt(a.Output, maxActionRunes)})
		}
	}

	var b strings.Builder
	if err := userPrompt.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
