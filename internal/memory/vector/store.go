package vector

import (
	"context"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package vector provides hybrid (semantic + lexical) search over the document index.
//
// Responsibilities:
//   - Embed queries and documents with a deterministic, fixed-dimension embedder
//   - Rank index entries by cosine similarity (semantic pass)
//   - Rank index entries by keyword overlap (lexical pass, always runs)
//   - Fuse both passes with configurable weights and tag the origin of each hit
//   - Deduplicate by document ID and truncate to the requested limit
//
// Scoring:
//
//   Lexical, per query keyword:
//     exact match against a document keyword      1.00
//     partial (substring) keyword match           0.50
//     raw content substring hit                   0.25
//   summed and divided by the number of query keywords.
//
//   Fused:
//     w_v·vector + w_k·keyword + w_r·(relevance/5), weights normalized to sum 1.
//
// Graceful Degradation:
//   - No embedder, semantic disabled, or an embedding error: lexical only
//   - Zero query keywords: lexical score is 0 for every document
//   - Empty index: empty result, never an error

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// DocumentProvider exposes the current search-eligible index snapshot.
type DocumentProvider interface {
	Documents() []models.DocumentContext
}

// Weights are the fusion weights. They are normalized before use.
type Weights struct {
	Vector    float64 `json:"vector"`
	Keyword   float64 `json:"keyword"`
	Relevance float64 `json:"relevance"`
}

// SearchOptions controls a single search.
type SearchOptions struct {
	Limit          int     `json:"limit"`
	EnableSemantic bool    `json:"enable_semantic"`
	MinSimilarity  float64 `json:"min_similarity"`
	Weights        Weights `json:"weights"`
}

// SearchService performs hybrid search.
type SearchService interface {
	// Search returns up to opts.Limit documents ranked by fused score, highest first.
	Search(ctx context.Context, q *models.SmartQuery, opts SearchOptions) []models.ScoredDocument
}

// DefaultSearchOptions returns the default search options.
func DefaultSearchOptions() SearchOptions {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig builds search options from service configuration.
func OptionsFromConfig(cfg *config.Config) SearchOptions {
	return SearchOptions{
		Limit:          cfg.Search.Limit,
		EnableSemantic: cfg.Search.EnableSemantic,
		MinSimilarity:  cfg.Search.MinSimilarity,
		Weights: Weights{
			Vector:    cfg.Search.VectorWeight,
			Keyword:   cfg.Search.KeywordWeight,
			Relevance: cfg.Search.RelevanceWeight,
		},
	}
}
