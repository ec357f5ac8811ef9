package vector

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/cache"
	"github.com/kubilitics/kubilitics-insight/internal/metrics"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

const (
	exactMatchScore   = 1.0
	partialMatchScore = 0.5
	contentMatchScore = 0.25

	// candidatePoolFactor bounds the semantic pass to limit×factor entries before fusion.
	candidatePoolFactor = 4
	defaultLimit        = 5
)

// searchService implements SearchService over a DocumentProvider.
type searchService struct {
	docs     DocumentProvider
	embedder Embedder
	cache    *cache.TTLCache[[]float32]
	logger   *zap.Logger
}

// NewSearchService creates a hybrid search service. embedder and queryCache
// may be nil; without an embedder every search is lexical only.
func NewSearchService(docs DocumentProvider, embedder Embedder, queryCache *cache.TTLCache[[]float32], logger *zap.Logger) SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &searchService{
		docs:     docs,
		embedder: embedder,
		cache:    queryCache,
		logger:   logger,
	}
}

type hit struct {
	doc     *models.DocumentContext
	vector  float64
	keyword float64
	matched []string
	byVec   bool
	byKw    bool
}

func (s *searchService) Search(ctx context.Context, q *models.SmartQuery, opts SearchOptions) []models.ScoredDocument {
	if q == nil || s.docs == nil {
		return []models.ScoredDocument{}
	}
	docs := s.docs.Documents()
	if len(docs) == 0 {
		return []models.ScoredDocument{}
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	wv, wk, wr := normalizeWeights(opts.Weights)

	hits := make(map[string]*hit)
	get := func(d *models.DocumentContext) *hit {
		h, ok := hits[d.ID]
		if !ok {
			h = &hit{doc: d}
			hits[d.ID] = h
		}
		return h
	}

	if opts.EnableSemantic && s.embedder != nil {
		for _, c := range s.semanticPass(ctx, q, docs, opts) {
			h := get(c.doc)
			if c.score > h.vector {
				h.vector = c.score
			}
			h.byVec = true
		}
	}

	for i := range docs {
		score, matched := lexicalScore(q.Keywords, &docs[i])
		if score <= 0 {
			continue
		}
		h := get(&docs[i])
		if score > h.keyword {
			h.keyword = score
			h.matched = matched
		}
		h.byKw = true
	}

	out := make([]models.ScoredDocument, 0, len(hits))
	for id, h := range hits {
		fused := clamp01(wv*h.vector + wk*h.keyword + wr*clamp01(h.doc.RelevanceScore/5))
		st := models.SearchTypeKeyword
		switch {
		case h.byVec && h.byKw:
			st = models.SearchTypeHybrid
		case h.byVec:
			st = models.SearchTypeVector
		}
		matched := h.matched
		if matched == nil {
			matched = []string{}
		}
		out = append(out, models.ScoredDocument{
			Document: *h.doc,
			Result: models.VectorSearchResult{
				DocumentID:      id,
				Similarity:      fused,
				RelevanceScore:  h.doc.RelevanceScore,
				MatchedKeywords: matched,
				SearchType:      st,
			},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Result.Similarity != out[j].Result.Similarity {
			return out[i].Result.Similarity > out[j].Result.Similarity
		}
		return out[i].Result.DocumentID < out[j].Result.DocumentID
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	metrics.SearchResults.WithLabelValues(boolLabel(opts.EnableSemantic && s.embedder != nil)).Observe(float64(len(out)))
	return out
}

type candidate struct {
	doc   *models.DocumentContext
	score float64
}

// semanticPass returns the top candidates by cosine similarity. Any embedding
// failure degrades to an empty pass.
func (s *searchService) semanticPass(ctx context.Context, q *models.SmartQuery, docs []models.DocumentContext, opts SearchOptions) []candidate {
	text := q.Normalized
	if text == "" {
		text = strings.Join(q.Keywords, " ")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	qvec, err := s.queryEmbedding(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed, continuing with lexical search", zap.Error(err))
		return nil
	}

	var cands []candidate
	for i := range docs {
		if len(docs[i].Embedding) == 0 {
			continue
		}
		sim := Cosine(qvec, docs[i].Embedding)
		if sim <= 0 || sim < opts.MinSimilarity {
			continue
		}
		cands = append(cands, candidate{doc: &docs[i], score: sim})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].doc.ID < cands[j].doc.ID
	})
	if pool := opts.Limit * candidatePoolFactor; len(cands) > pool {
		cands = cands[:pool]
	}
	return cands
}

func (s *searchService) queryEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(text); ok {
			return v, nil
		}
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(text, v)
	}
	return v, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// lexicalScore scores doc against the query keywords. The result is in [0,1].
func lexicalScore(keywords []string, doc *models.DocumentContext) (float64, []string) {
	if len(keywords) == 0 {
		return 0, nil
	}
	var content string
	var total float64
	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		switch {
		case containsExact(doc.Keywords, kw):
			total += exactMatchScore
			matched = append(matched, kw)
		case containsPartial(doc.Keywords, kw):
			total += partialMatchScore
			matched = append(matched, kw)
		default:
			if content == "" {
				content = strings.ToLower(doc.Content)
			}
			if strings.Contains(content, kw) {
				total += contentMatchScore
				matched = append(matched, kw)
			}
		}
	}
	return clamp01(total / float64(len(keywords))), matched
}

func containsExact(list []string, kw string) bool {
	for _, k := range list {
		if k == kw {
			return true
		}
	}
	return false
}

func containsPartial(list []string, kw string) bool {
	for _, k := range list {
		if len(k) < 2 {
			continue
		}
		if strings.Contains(k, kw) || strings.Contains(kw, k) {
			return true
		}
	}
	return false
}

// normalizeWeights scales the weights to sum 1. Negative weights count as zero
// and an all-zero set falls back to 0.4/0.4/0.2.
func normalizeWeights(w Weights) (float64, float64, float64) {
	v, k, r := nonNegative(w.Vector), nonNegative(w.Keyword), nonNegative(w.Relevance)
	sum := v + k + r
	if sum == 0 {
		return 0.4, 0.4, 0.2
	}
	return v / sum, k / sum, r / sum
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
