package vector

import (
	"context"
	"hash/fnv"
	"math"
	"unicode"

	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
)

// DefaultDimension is the embedding dimension used when none is configured.
const DefaultDimension = 384

const bigramWeight = 0.5

// HashingEmbedder is a deterministic feature-hashing embedder. Each token
// and each Hangul character bigram is hashed (FNV-1a) into a signed bucket;
// the result is L2-normalized.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder with the given dimension.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Dimension() int { return e.dim }

// Embed never fails for valid input; an empty text yields the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dim)
	for _, tok := range analyzer.Tokenize(analyzer.Normalize(text)) {
		e.add(vec, "w:"+tok, 1)
		runes := []rune(tok)
		for i := 0; i+1 < len(runes); i++ {
			if unicode.Is(unicode.Hangul, runes[i]) && unicode.Is(unicode.Hangul, runes[i+1]) {
				e.add(vec, "b:"+string(runes[i:i+2]), bigramWeight)
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dim)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *HashingEmbedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

// Cosine returns the cosine similarity of a and b clamped to [0,1].
// Vectors of different length or zero norm score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01(sim)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
