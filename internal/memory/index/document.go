package index

import (
	"errors"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
)

const maxRelevance = 5.0

var (
	errEmptyContent = errors.New("document has no content")

	markdownLink = regexp.MustCompile(`\[[^\]]*\]\(([^)\s#]+)`)
	pathLike     = regexp.MustCompile(`(?:[\w.-]+/)+[\w.-]+\.(?:md|markdown|txt|ya?ml)`)
	urlLike      = regexp.MustCompile(`[a-zA-Z][\w+.-]*://\S+`)

	priorityPathHints = []string{"runbook", "playbook", "troubleshoot", "incident", "guide", "sop"}
	secondaryHints    = []string{"readme", "docs/", "faq", "howto"}
)

// analyzeDocument turns a raw source document into an index entry.
// Embedding and link resolution happen later in the build.
func analyzeDocument(src models.SourceDocument, opts Options) (models.DocumentContext, error) {
	content := truncateRunes(src.Content, opts.MaxContentChars)
	if strings.TrimSpace(content) == "" {
		return models.DocumentContext{}, errEmptyContent
	}
	tokens := analyzer.Tokenize(analyzer.Normalize(content))

	return models.DocumentContext{
		ID:             src.Path,
		Title:          documentTitle(src, content),
		Category:       documentCategory(src),
		Content:        content,
		Keywords:       extractKeywords(tokens, opts.MaxKeywords),
		RelevanceScore: relevanceScore(src.Path, content, tokens, opts.PrimaryLanguage),
		Links:          extractLinks(content, src.Path),
	}, nil
}

// minimalDocument is the record kept for a document whose analysis failed.
func minimalDocument(src models.SourceDocument, opts Options) models.DocumentContext {
	return models.DocumentContext{
		ID:       src.Path,
		Title:    path.Base(src.Path),
		Category: documentCategory(src),
		Content:  truncateRunes(src.Content, opts.MaxContentChars),
		Keywords: []string{},
	}
}

// extractKeywords ranks tokens by frequency, ties by first occurrence.
// Tokens without a letter (plain numbers) are not keywords.
func extractKeywords(tokens []string, limit int) []string {
	type kw struct {
		token string
		count int
		first int
	}
	seen := make(map[string]*kw)
	var order []*kw
	for i, t := range tokens {
		if !hasLetter(t) {
			continue
		}
		if k, ok := seen[t]; ok {
			k.count++
			continue
		}
		k := &kw{token: t, count: 1, first: i}
		seen[t] = k
		order = append(order, k)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]string, len(order))
	for i, k := range order {
		out[i] = k.token
	}
	return out
}

// relevanceScore rates how useful a document is likely to be, in [0,5].
//
//	path hints          up to 1.5
//	length              up to 1.0
//	technical density   up to 1.5
//	structure/language  up to 1.0
func relevanceScore(docPath, content string, tokens []string, primary models.Language) float64 {
	var score float64
	lower := strings.ToLower(docPath)
	switch {
	case containsAny(lower, priorityPathHints):
		score += 1.5
	case containsAny(lower, secondaryHints):
		score += 0.75
	}
	if ext := path.Ext(lower); ext == ".md" || ext == ".markdown" {
		score += 0.25
	}

	score += minFloat(1.0, float64(utf8.RuneCountInString(content))/2000)

	if len(tokens) > 0 {
		technical := 0
		for _, t := range tokens {
			if analyzer.IsTechnicalTerm(t) {
				technical++
			}
		}
		score += minFloat(1.5, float64(technical)/float64(len(tokens))*5)
	}

	if hasHeading(content) {
		score += 0.25
	}
	if primary == models.LanguageKorean && strings.ContainsFunc(content, isHangul) {
		score += 0.5
	} else if primary == models.LanguageEnglish && !strings.ContainsFunc(content, isHangul) {
		score += 0.5
	}

	return minFloat(maxRelevance, score)
}

// extractLinks returns referenced document paths in order of first appearance.
func extractLinks(content, self string) []string {
	var links []string
	seen := map[string]bool{self: true}
	add := func(l string) {
		l = strings.TrimPrefix(strings.TrimSpace(l), "./")
		if l == "" || seen[l] || strings.Contains(l, "://") {
			return
		}
		seen[l] = true
		links = append(links, l)
	}
	for _, m := range markdownLink.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range pathLike.FindAllString(urlLike.ReplaceAllString(content, " "), -1) {
		add(m)
	}
	return links
}

func documentTitle(src models.SourceDocument, content string) string {
	if src.Title != "" {
		return src.Title
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				return t
			}
		}
	}
	return path.Base(src.Path)
}

func documentCategory(src models.SourceDocument) string {
	if src.Category != "" {
		return src.Category
	}
	if i := strings.Index(src.Path, "/"); i > 0 {
		return src.Path[:i]
	}
	return "general"
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func hasLetter(s string) bool {
	return strings.ContainsFunc(s, unicode.IsLetter)
}

func isHangul(r rune) bool {
	return unicode.Is(unicode.Hangul, r)
}

func hasHeading(content string) bool {
	return strings.HasPrefix(content, "#") || strings.Contains(content, "\n#")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
