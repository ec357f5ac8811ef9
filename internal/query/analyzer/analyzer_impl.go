package analyzer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Engine names assigned to required-engine sets.
const (
	engineNLU        = config.EngineNLU
	engineSemantic   = config.EngineSemantic
	enginePredictive = config.EnginePredictive
	engineLLM        = config.EngineLLM
)

type queryAnalyzer struct {
	opts   Options
	logger *zap.Logger
}

// NewAnalyzer creates a new query analyzer.
func NewAnalyzer(opts Options, logger *zap.Logger) Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PrimaryLanguage == "" {
		opts.PrimaryLanguage = models.LanguageKorean
	}
	if opts.ScriptRatioThreshold <= 0 {
		opts.ScriptRatioThreshold = 0.3
	}
	if opts.AdvancedThreshold <= 0 {
		opts.AdvancedThreshold = 6
	}
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = 15
	}
	return &queryAnalyzer{opts: opts, logger: logger}
}

func (a *queryAnalyzer) Analyze(query string) (q *models.SmartQuery) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("query analysis panicked, using fallback",
				zap.Any("panic", r),
				zap.Int("query_runes", utf8.RuneCountInString(query)),
			)
			q = a.fallback(query)
		}
	}()

	normalized := Normalize(query)
	if normalized == "" {
		return a.fallback(query)
	}

	lang := a.detectLanguage(query)
	tokens := Tokenize(normalized)
	scores, triggers := a.scoreCategories(normalized, tokens)
	intent := pickIntent(scores)

	q = &models.SmartQuery{
		Original:       query,
		Normalized:     normalized,
		Language:       lang,
		Intent:         intent,
		Keywords:       a.rankKeywords(tokens),
		CategoryScores: scores,
	}
	q.ModeDetection = a.modeDetection(query, scores, triggers)
	q.RequiredDocuments = requiredDocuments(tokens, intent)
	q.RequiredActions = requiredActions(tokens, intent)
	q.RequiredEngines = requiredEngines(intent, scores)
	return q
}

// ─── Normalization ────────────────────────────────────────────────────────────

// Normalize applies NFC, lower-cases Latin letters, strips punctuation and
// collapses whitespace. Hangul, letters and digits are kept; '-', '_' and '.'
// survive between word characters and '%' survives after a digit.
func Normalize(text string) string {
	runes := []rune(norm.NFC.String(strings.TrimSpace(text)))
	var b strings.Builder
	b.Grow(len(runes))
	space := false
	for i, r := range runes {
		switch {
		case isWordRune(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		case r == '%' && i > 0 && unicode.IsDigit(runes[i-1]):
			b.WriteRune(r)
		case (r == '-' || r == '_' || r == '.') && i > 0 && i < len(runes)-1 &&
			isWordRune(runes[i-1]) && isWordRune(runes[i+1]):
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isHangul(r rune) bool {
	return unicode.Is(unicode.Hangul, r)
}

func isLatin(r rune) bool {
	return unicode.Is(unicode.Latin, r)
}

// detectLanguage measures the Hangul share of non-space runes.
func (a *queryAnalyzer) detectLanguage(text string) models.Language {
	var total, hangul int
	latin := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isHangul(r) {
			hangul++
		} else if isLatin(r) {
			latin = true
		}
	}
	switch {
	case total > 0 && float64(hangul)/float64(total) > a.opts.ScriptRatioThreshold:
		return models.LanguageKorean
	case latin:
		return models.LanguageEnglish
	case hangul > 0:
		return models.LanguageKorean
	}
	return a.opts.PrimaryLanguage
}

// Tokenize splits normalized text, strips Korean particles and drops
// stop-words and tokens that carry no meaning on their own.
func Tokenize(normalized string) []string {
	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-_.")
		if containsHangul(f) {
			f = stripParticle(f)
		}
		if f == "" || isStopWord(f) || !meaningful(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// isStopWord checks both languages since mixed-script queries are common.
func isStopWord(token string) bool {
	return stopWords[models.LanguageKorean][token] || stopWords[models.LanguageEnglish][token]
}

// meaningful reports whether a token has at least two runes or a digit.
func meaningful(token string) bool {
	if utf8.RuneCountInString(token) >= 2 {
		return true
	}
	for _, r := range token {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func containsHangul(s string) bool {
	for _, r := range s {
		if isHangul(r) {
			return true
		}
	}
	return false
}

// stripParticle removes one trailing particle when at least two runes remain.
func stripParticle(token string) string {
	for _, p := range koreanParticles {
		if strings.HasSuffix(token, p) {
			stem := strings.TrimSuffix(token, p)
			if utf8.RuneCountInString(stem) >= 2 {
				return stem
			}
		}
	}
	return token
}

// ─── Scoring ──────────────────────────────────────────────────────────────────

func (a *queryAnalyzer) weight(c models.TriggerCategory) int {
	w := a.opts.Weights
	switch c {
	case models.CategoryIncident:
		return w.Incident
	case models.CategoryReport:
		return w.Report
	case models.CategoryPrediction:
		return w.Prediction
	case models.CategoryCorrelation:
		return w.Correlation
	case models.CategoryOptimization:
		return w.Optimization
	case models.CategoryGeneric:
		return w.Generic
	}
	return 0
}

// scoreCategories returns per-category scores and "category:phrase" labels,
// both in priority order.
func (a *queryAnalyzer) scoreCategories(normalized string, tokens []string) (map[models.TriggerCategory]int, []string) {
	tokenSet := toSet(tokens...)
	words := strings.Fields(normalized)
	// Latin phrases also match unstripped words of the normalized text.
	for _, f := range words {
		tokenSet[f] = true
	}
	padded := " " + normalized + " "

	scores := make(map[models.TriggerCategory]int, len(models.CategoryPriority))
	var triggers []string
	for _, category := range models.CategoryPriority {
		matched := 0
		for _, phrase := range triggerPhrases[category] {
			var hit bool
			switch {
			case containsHangul(phrase):
				hit = hangulTrigger(words, phrase)
			case strings.Contains(phrase, " "):
				hit = strings.Contains(padded, " "+phrase+" ")
			default:
				hit = tokenSet[phrase]
			}
			if hit {
				matched++
				triggers = append(triggers, string(category)+":"+phrase)
			}
		}
		scores[category] = matched * a.weight(category)
	}
	return scores, triggers
}

// pickIntent selects the top category, breaking ties by priority.
// hangulTrigger reports whether a word starts with phrase or has a stem ending
// in it, ignoring words listed in triggerExclusions.
func hangulTrigger(words []string, phrase string) bool {
	for _, w := range words {
		w = strings.Trim(w, "-_.")
		if excluded(w, phrase) {
			continue
		}
		if strings.HasPrefix(w, phrase) || strings.HasSuffix(stripParticle(w), phrase) {
			return true
		}
	}
	return false
}

func excluded(word, phrase string) bool {
	for _, x := range triggerExclusions[phrase] {
		if strings.HasPrefix(word, x) {
			return true
		}
	}
	return false
}

func pickIntent(scores map[models.TriggerCategory]int) models.Intent {
	best := models.TriggerCategory("")
	for _, category := range models.CategoryPriority {
		if scores[category] > 0 && (best == "" || scores[category] > scores[best]) {
			best = category
		}
	}
	if best == "" {
		return models.IntentSearch
	}
	return categoryIntent[best]
}

func (a *queryAnalyzer) modeDetection(original string, scores map[models.TriggerCategory]int, triggers []string) models.ModeDetection {
	score := 0
	for _, s := range scores {
		score += s
	}
	if a.opts.LongQueryRunes > 0 && utf8.RuneCountInString(original) >= a.opts.LongQueryRunes {
		score += a.opts.Weights.LongQuery
		triggers = append(triggers, "complexity:long_query")
	}
	if strings.ContainsAny(original, "?？") {
		score += a.opts.Weights.Question
		triggers = append(triggers, "complexity:question")
	}

	threshold := a.opts.AdvancedThreshold
	var reasoning string
	if score >= threshold {
		reasoning = fmt.Sprintf("trigger score %d meets advanced threshold %d", score, threshold)
	} else {
		reasoning = fmt.Sprintf("trigger score %d below advanced threshold %d", score, threshold)
	}
	if len(triggers) > 0 {
		reasoning += " (" + strings.Join(triggers, ", ") + ")"
	}

	return models.ModeDetection{
		Score:      score,
		Confidence: ModeConfidence(score, threshold),
		Triggers:   triggers,
		Reasoning:  reasoning,
	}
}

// ModeConfidence grows with the distance between score and threshold, 0-100.
func ModeConfidence(score, threshold int) int {
	var c int
	if score >= threshold {
		c = 60 + (score-threshold)*5
	} else {
		c = 60 + (threshold-score)*8
	}
	if c > 100 {
		c = 100
	}
	return c
}

// ─── Keywords and requirements ────────────────────────────────────────────────

// rankKeywords orders technical and trigger terms first, then the rest, deduplicated.
func (a *queryAnalyzer) rankKeywords(tokens []string) []string {
	var primary, secondary []string
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if technicalTerms[t] || isTrigger(t) {
			primary = append(primary, t)
		} else {
			secondary = append(secondary, t)
		}
	}
	keywords := append(primary, secondary...)
	if len(keywords) > a.opts.MaxKeywords {
		keywords = keywords[:a.opts.MaxKeywords]
	}
	if keywords == nil {
		keywords = []string{}
	}
	return keywords
}

func isTrigger(token string) bool {
	for _, phrases := range triggerPhrases {
		for _, p := range phrases {
			if p == token {
				return true
			}
		}
	}
	return false
}

func requiredDocuments(tokens []string, intent models.Intent) []string {
	var docs []string
	for _, t := range tokens {
		docs = append(docs, documentTable[t]...)
	}
	docs = append(docs, intentDocuments[intent]...)
	return dedupe(docs)
}

func requiredActions(tokens []string, intent models.Intent) []string {
	var actions []string
	for _, t := range tokens {
		if action, ok := actionTable[t]; ok {
			actions = append(actions, action)
		}
	}
	if intent == models.IntentTroubleshooting {
		actions = append(actions, ActionListActiveAlerts)
	}
	return dedupe(actions)
}

func requiredEngines(intent models.Intent, scores map[models.TriggerCategory]int) []string {
	engines := []string{engineNLU, engineSemantic}
	if intent == models.IntentPrediction || scores[models.CategoryPrediction] > 0 {
		engines = append(engines, enginePredictive)
	}
	switch {
	case intent == models.IntentAnalysis,
		intent == models.IntentTroubleshooting,
		intent == models.IntentOptimization,
		scores[models.CategoryCorrelation] > 0:
		engines = append(engines, engineLLM)
	}
	return engines
}

func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

// fallback builds the minimal SmartQuery used for empty input and internal errors.
func (a *queryAnalyzer) fallback(query string) *models.SmartQuery {
	fields := strings.Fields(strings.ToLower(query))
	keywords := dedupe(fields)
	if len(keywords) > a.opts.MaxKeywords {
		keywords = keywords[:a.opts.MaxKeywords]
	}

	lang := a.opts.PrimaryLanguage
	if !containsHangul(query) && strings.IndexFunc(query, isLatin) >= 0 {
		lang = models.LanguageEnglish
	}

	threshold := a.opts.AdvancedThreshold
	return &models.SmartQuery{
		Original:        query,
		Normalized:      strings.Join(fields, " "),
		Language:        lang,
		Intent:          models.IntentSearch,
		Keywords:        keywords,
		RequiredEngines: []string{engineNLU, engineSemantic},
		ModeDetection: models.ModeDetection{
			Score:      0,
			Confidence: ModeConfidence(0, threshold),
			Triggers:   []string{},
			Reasoning:  "fallback analysis: no trigger scoring",
		},
		CategoryScores: map[models.TriggerCategory]int{},
		Fallback:       true,
	}
}
