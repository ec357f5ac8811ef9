package nlu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package nlu implements the language-understanding engine.
//
// It turns the analyzer's SmartQuery into a structured interpretation:
// intent, subjects (keywords), concrete entities (hosts, IPs, thresholds,
// time windows) and the best supporting document. It needs no external
// service, so it is the eager baseline engine.

const maxKeywordsInSummary = 5

var intentLabels = map[models.Intent][2]string{
	models.IntentAnalysis:        {"analysis", "분석"},
	models.IntentSearch:          {"search", "검색"},
	models.IntentPrediction:      {"prediction", "예측"},
	models.IntentOptimization:    {"optimization", "최적화"},
	models.IntentTroubleshooting: {"troubleshooting", "장애 대응"},
}

// Engine is the NLU engine.
type Engine struct {
	logger *zap.Logger
}

// New creates the NLU engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

func (e *Engine) Name() string { return config.EngineNLU }

func (e *Engine) Initialize(ctx context.Context) error { return ctx.Err() }

func (e *Engine) Dispose(context.Context) error { return nil }

func (e *Engine) Analyze(ctx context.Context, req *engines.Request) (*models.EngineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Query == nil || len(req.Query.Keywords) == 0 {
		return nil, engines.ErrNotApplicable
	}
	start := time.Now()
	q := req.Query
	ko := req.Korean()
	entities := engines.ExtractEntities(q.Normalized)

	keywords := q.Keywords
	if len(keywords) > maxKeywordsInSummary {
		keywords = keywords[:maxKeywordsInSummary]
	}
	label := intentLabel(q.Intent, ko)

	res := &models.EngineResult{
		Engine: e.Name(),
		Data: map[string]interface{}{
			"intent":   string(q.Intent),
			"language": string(q.Language),
			"entities": entities,
			"keywords": q.Keywords,
		},
	}
	if ko {
		res.Summary = fmt.Sprintf("질의 의도는 %s이며 핵심 키워드는 %s입니다.", label, strings.Join(keywords, ", "))
	} else {
		res.Summary = fmt.Sprintf("The question asks for %s about %s.", label, strings.Join(keywords, ", "))
	}
	res.Findings = entityFindings(entities, ko)
	if len(req.Documents) > 0 {
		top := req.Documents[0].Document
		title := top.Title
		if title == "" {
			title = top.ID
		}
		if ko {
			res.Findings = append(res.Findings, fmt.Sprintf("가장 관련 있는 문서: %s", title))
		} else {
			res.Findings = append(res.Findings, fmt.Sprintf("Most relevant document: %s", title))
		}
	}
	res.Confidence = engines.ClampConfidence(confidence(q, entities, len(req.Documents)))
	res.Latency = time.Since(start)
	return res, nil
}

// confidence grows with the amount of structure recognised in the query.
//
//	base                          0.40
//	per keyword (max 3)          +0.10
//	non-default intent           +0.10
//	any entity                   +0.05
//	supporting documents         +0.05
//	fallback query               ×0.5
func confidence(q *models.SmartQuery, entities engines.Entities, docs int) float64 {
	c := 0.4
	n := len(q.Keywords)
	if n > 3 {
		n = 3
	}
	c += 0.1 * float64(n)
	if q.Intent != models.IntentSearch {
		c += 0.1
	}
	if !entities.Empty() {
		c += 0.05
	}
	if docs > 0 {
		c += 0.05
	}
	if q.Fallback {
		c *= 0.5
	}
	return c
}

func entityFindings(e engines.Entities, ko bool) []string {
	var out []string
	add := func(en, kr string, items []string) {
		if len(items) == 0 {
			return
		}
		label := en
		if ko {
			label = kr
		}
		out = append(out, fmt.Sprintf("%s: %s", label, strings.Join(items, ", ")))
	}
	add("Hosts", "대상 호스트", e.Hosts)
	add("IP addresses", "IP 주소", e.IPs)
	add("Thresholds", "임계치", e.Percentages)
	add("Time windows", "기간", e.Windows)
	return out
}

func intentLabel(intent models.Intent, ko bool) string {
	labels, ok := intentLabels[intent]
	if !ok {
		return string(intent)
	}
	if ko {
		return labels[1]
	}
	return labels[0]
}
