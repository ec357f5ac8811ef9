package synthesis

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

const (
	engineWeight = 0.8
	docWeight    = 0.2

	// supportDocs is how many top documents contribute to document support.
	supportDocs = 3

	summaryDocs  = 3
	detailedDocs = 5

	docExcerptRunes      = 240
	headlineExcerptRunes = 400
	actionExcerptRunes   = 300

	// minLength keeps very small budgets from cutting an answer to nothing.
	minLength = 80
	minNotice = 24

	sectionSeparator = "\n\n"
)

type synthesizer struct {
	opts   Options
	logger *zap.Logger
}

// NewSynthesizer creates a response synthesizer.
func NewSynthesizer(opts Options, logger *zap.Logger) Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QualityThreshold < 0 {
		opts.QualityThreshold = 0
	}
	return &synthesizer{opts: opts, logger: logger}
}

func (s *synthesizer) Synthesize(
	q *models.SmartQuery,
	docs []models.ScoredDocument,
	result *models.HybridAnalysisResult,
	cfg models.ModeConfig,
	actions []models.ActionResult,
) *models.Answer {
	if q == nil {
		q = &models.SmartQuery{Intent: models.IntentSearch, Language: models.LanguageEnglish}
	}
	l := labelsFor(q.Language)
	best := result.Best()
	confidence := answerConfidence(result, docs)

	// Sections in priority order; the first is never dropped.
	var body []string
	listed := docs
	grounded := true
	switch {
	case best != nil:
		body = append(body, render("headline", headlineData{Lead: l.lead(q.Intent), NextSteps: l.NextSteps, Result: best}))
	case len(docs) > 0:
		top := docs[0].Document
		body = append(body, render("doc_headline", docHeadlineData{
			Lead:    l.DocLead,
			Title:   titleOf(top),
			ID:      top.ID,
			Excerpt: engines.Excerpt(top.Content, headlineExcerptRunes),
		}))
		listed = docs[1:]
	default:
		grounded = false
		body = append(body, insufficient(q, l))
	}

	if cfg.ResponseDepth == models.DepthDetailed {
		if others := otherResults(result, best); len(others) > 0 {
			body = append(body, render("others", othersData{Header: l.OtherEngines, Results: others}))
		}
	}
	if lines := docLines(listed, cfg.ResponseDepth); len(lines) > 0 {
		body = append(body, render("documents", docsData{Header: l.Documents, Docs: lines}))
	}
	if collected := collectedActions(actions); len(collected) > 0 {
		body = append(body, render("actions", actionsData{Header: l.Actions, Actions: collected}))
	}
	body = append(body, l.advice(q.Intent))

	limit := cfg.MaxResponseLength
	lowQuality := grounded && confidence < s.opts.QualityThreshold
	if lowQuality && limit > 0 {
		limit /= 2
	}
	notice := ""
	if lowQuality {
		notice = l.LowQuality
	}
	bodyLimit, notice := budget(limit, notice)

	text, kept := fit(nonEmpty(body), bodyLimit)
	if notice != "" {
		text += sectionSeparator + notice
	}
	if strings.TrimSpace(text) == "" {
		text = insufficient(q, l)
	}
	if limit > 0 {
		text = cutWords(text, limit)
	}

	answer := &models.Answer{
		Text:       text,
		Confidence: confidence,
		Reasoning:  reasoning(q, docs, result, best, actions, confidence, lowQuality, kept, len(nonEmpty(body))),
		Sources:    sources(docs),
	}

	s.logger.Debug("answer synthesized",
		zap.String("intent", string(q.Intent)),
		zap.Float64("confidence", confidence),
		zap.Int("sections", kept),
		zap.Bool("low_quality", lowQuality),
		zap.Int("length", runeLen(text)),
	)
	return answer
}

// ─── Confidence ──────────────────────────────────────────────────────────────

func answerConfidence(result *models.HybridAnalysisResult, docs []models.ScoredDocument) float64 {
	if result == nil || len(result.Results) == 0 {
		return 0
	}
	c := engineWeight*engines.ClampConfidence(result.Confidence) + docWeight*docSupport(docs)
	if c > models.MaxConfidence {
		c = models.MaxConfidence
	}
	return c
}

// docSupport is the mean similarity of the top documents.
func docSupport(docs []models.ScoredDocument) float64 {
	n := len(docs)
	if n > supportDocs {
		n = supportDocs
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs[:n] {
		sum += engines.ClampConfidence(d.Result.Similarity)
	}
	return sum / float64(n)
}

// ─── Sections ────────────────────────────────────────────────────────────────

func insufficient(q *models.SmartQuery, l labels) string {
	keywords := l.NoKeywords
	if len(q.Keywords) > 0 {
		keywords = strings.Join(q.Keywords, ", ")
	}
	return render("insufficient", insufficientData{Message: l.Insufficient, Label: l.Keywords, Keywords: keywords})
}

// otherResults returns every successful result except best, highest confidence first.
func otherResults(result *models.HybridAnalysisResult, best *models.EngineResult) []*models.EngineResult {
	if result == nil {
		return nil
	}
	var out []*models.EngineResult
	for _, r := range result.Results {
		if r != nil && r != best {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Engine < out[j].Engine
	})
	return out
}

func docLines(docs []models.ScoredDocument, depth models.ResponseDepth) []docLine {
	limit := summaryDocs
	if depth == models.DepthDetailed {
		limit = detailedDocs
	}
	var lines []docLine
	for _, d := range docs {
		if len(lines) == limit {
			break
		}
		lines = append(lines, docLine{
			Title:   titleOf(d.Document),
			ID:      d.Document.ID,
			Excerpt: engines.Excerpt(d.Document.Content, docExcerptRunes),
		})
	}
	return lines
}

func collectedActions(actions []models.ActionResult) []models.ActionResult {
	var out []models.ActionResult
	for _, a := range actions {
		if !a.Success || strings.TrimSpace(a.Output) == "" {
			continue
		}
		a.Output = engines.Excerpt(a.Output, actionExcerptRunes)
		out = append(out, a)
	}
	return out
}

func titleOf(d models.DocumentContext) string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	return d.ID
}

// ─── Length ──────────────────────────────────────────────────────────────────

// budget splits limit between the body and the low-confidence notice. The
// body keeps at least min(minLength, limit) runes; the notice is shortened,
// or dropped when less than minNotice runes remain for it. limit ≤ 0 means unlimited.
func budget(limit int, notice string) (int, string) {
	if limit <= 0 || notice == "" {
		return limit, notice
	}
	overhead := runeLen(sectionSeparator)
	bodyLimit := limit - runeLen(notice) - overhead
	floor := min(minLength, limit)
	if bodyLimit >= floor {
		return bodyLimit, notice
	}
	room := limit - floor - overhead
	if room < minNotice {
		return limit, ""
	}
	return floor, cutWords(notice, room)
}

// fit joins sections within limit runes. Trailing sections are dropped first;
// if the first section alone is too long it is cut at a word boundary.
// It returns the text and the number of sections kept. limit ≤ 0 means unlimited.
func fit(secs []string, limit int) (string, int) {
	if limit <= 0 {
		return strings.Join(secs, sectionSeparator), len(secs)
	}
	for len(secs) > 1 && runeLen(strings.Join(secs, sectionSeparator)) > limit {
		secs = secs[:len(secs)-1]
	}
	text := strings.Join(secs, sectionSeparator)
	if runeLen(text) > limit {
		text = cutWords(text, limit)
	}
	return text, len(secs)
}

// cutWords shortens s to at most limit runes, ending on a whole word.
func cutWords(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	cut := r[:limit-1]
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + "…"
}

func nonEmpty(secs []string) []string {
	out := secs[:0:0]
	for _, s := range secs {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }

// ─── Trace ───────────────────────────────────────────────────────────────────

func reasoning(
	q *models.SmartQuery,
	docs []models.ScoredDocument,
	result *models.HybridAnalysisResult,
	best *models.EngineResult,
	actions []models.ActionResult,
	confidence float64,
	lowQuality bool,
	kept, total int,
) []string {
	trace := []string{fmt.Sprintf("intent: %s (language %s)", q.Intent, q.Language)}
	if q.ModeDetection.Reasoning != "" {
		trace = append(trace, "mode: "+q.ModeDetection.Reasoning)
	}
	if result != nil {
		if len(result.Attempted) > 0 {
			trace = append(trace, "engines attempted: "+strings.Join(result.Attempted, ", "))
		}
		if len(result.Failed) > 0 {
			trace = append(trace, "engines failed: "+strings.Join(result.Failed, ", "))
		}
		if len(result.Skipped) > 0 {
			trace = append(trace, "engines skipped: "+strings.Join(result.Skipped, ", "))
		}
	}
	if best != nil {
		trace = append(trace, fmt.Sprintf("primary engine: %s (%.0f%%)", best.Engine, best.Confidence*100))
	} else {
		trace = append(trace, "no engine produced a result")
	}
	if len(docs) > 0 {
		trace = append(trace, fmt.Sprintf("documents: %d (top %s)", len(docs), docs[0].Document.ID))
	} else {
		trace = append(trace, "documents: 0")
	}
	if len(actions) > 0 {
		ok := 0
		for _, a := range actions {
			if a.Success {
				ok++
			}
		}
		trace = append(trace, fmt.Sprintf("actions: %d/%d succeeded", ok, len(actions)))
	}
	trace = append(trace, fmt.Sprintf("confidence: %.2f", confidence))
	if lowQuality {
		trace = append(trace, "low-confidence fallback applied")
	}
	if kept < total {
		trace = append(trace, fmt.Sprintf("response shortened: %d of %d sections kept", kept, total))
	}
	return trace
}

func sources(docs []models.ScoredDocument) []string {
	out := make([]string, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Document.ID == "" || seen[d.Document.ID] {
			continue
		}
		seen[d.Document.ID] = true
		out = append(out, d.Document.ID)
	}
	return out
}
