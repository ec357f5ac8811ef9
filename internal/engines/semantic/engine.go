package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/engines"
	"github.com/kubilitics/kubilitics-insight/internal/memory/vector"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package semantic implements the embedding engine.
//
// It embeds the query and every sentence of the retrieved documents and
// reports the passages closest to the question. Confidence follows the best
// sentence similarity.

const (
	maxPassages        = 3
	maxSentencesPerDoc = 40
	minSentenceRunes   = 12
	minSimilarity      = 0.05
)

// Engine is the semantic engine.
type Engine struct {
	embedder vector.Embedder
	logger   *zap.Logger
}

// New creates the semantic engine around an embedder.
func New(embedder vector.Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, logger: logger}
}

func (e *Engine) Name() string { return config.EngineSemantic }

// Initialize checks that the embedder produces vectors of the advertised size.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.embedder == nil {
		return engines.NotConfigured(e.Name(), "embedder")
	}
	v, err := e.embedder.Embed(ctx, "cpu memory disk health check")
	if err != nil {
		return fmt.Errorf("embedder probe failed: %w", err)
	}
	if len(v) != e.embedder.Dimension() {
		return fmt.Errorf("embedder returned %d dimensions, expected %d", len(v), e.embedder.Dimension())
	}
	return nil
}

func (e *Engine) Dispose(context.Context) error { return nil }

type passage struct {
	docID string
	title string
	text  string
	sim   float64
}

func (e *Engine) Analyze(ctx context.Context, req *engines.Request) (*models.EngineResult, error) {
	if req == nil || req.Query == nil || len(req.Documents) == 0 {
		return nil, engines.ErrNotApplicable
	}
	start := time.Now()

	text := req.Query.Normalized
	if text == "" {
		text = strings.Join(req.Query.Keywords, " ")
	}
	if strings.TrimSpace(text) == "" {
		return nil, engines.ErrNotApplicable
	}
	qvec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	docs := req.Documents
	if n := req.Config.MaxContextSize; n > 0 && len(docs) > n {
		docs = docs[:n]
	}

	var passages []passage
	for _, sd := range docs {
		for _, s := range sentences(sd.Document.Content) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := e.embedder.Embed(ctx, s)
			if err != nil {
				return nil, fmt.Errorf("failed to embed passage from %s: %w", sd.Document.ID, err)
			}
			sim := vector.Cosine(qvec, v)
			if sim < minSimilarity {
				continue
			}
			passages = append(passages, passage{docID: sd.Document.ID, title: sd.Document.Title, text: s, sim: sim})
		}
	}
	if len(passages) == 0 {
		return nil, engines.ErrNotApplicable
	}

	sort.SliceStable(passages, func(i, j int) bool { return passages[i].sim > passages[j].sim })
	if len(passages) > maxPassages {
		passages = passages[:maxPassages]
	}
	best := passages[0]
	title := best.title
	if title == "" {
		title = best.docID
	}

	res := &models.EngineResult{
		Engine:     e.Name(),
		Confidence: engines.ClampConfidence(0.3 + 0.6*best.sim),
		Data: map[string]interface{}{
			"best_similarity": best.sim,
			"best_document":   best.docID,
		},
	}
	if req.Korean() {
		res.Summary = fmt.Sprintf("질문과 가장 가까운 내용은 '%s' 문서에 있습니다 (유사도 %.2f).", title, best.sim)
	} else {
		res.Summary = fmt.Sprintf("The closest guidance is in %q (similarity %.2f).", title, best.sim)
	}
	for _, p := range passages {
		res.Findings = append(res.Findings, engines.Excerpt(p.text, 200))
	}
	res.Latency = time.Since(start)
	return res, nil
}

// sentences splits content into candidate passages. Markdown headings and
// very short fragments are dropped.
func sentences(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimLeft(line, "-*0123456789. ")
		for _, s := range splitSentences(line) {
			if utf8.RuneCountInString(s) < minSentenceRunes {
				continue
			}
			out = append(out, s)
			if len(out) == maxSentencesPerDoc {
				return out
			}
		}
	}
	return out
}

func splitSentences(line string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(line)
	for i, r := range runes {
		b.WriteRune(r)
		end := r == '!' || r == '?' || r == '。'
		if r == '.' && (i+1 == len(runes) || runes[i+1] == ' ') {
			end = true
		}
		if end {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
