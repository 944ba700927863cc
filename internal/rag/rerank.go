package rag

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// FallbackScore is assigned to a chunk whose embedding could not be
// computed. Low enough to sink below real matches, non-zero so the
// chunk still participates in the output set.
const FallbackScore = 0.01

// Embedder is the embedding capability the reranker consumes. Vectors
// are returned aligned to the input texts; a nil vector marks a per-text
// failure without failing the batch.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// RankedChunk pairs a chunk with its relevance score in [0,1].
type RankedChunk struct {
	Chunk Chunk
	Score float64
}

// Reranker orders chunks by cosine similarity between the query
// embedding and each chunk embedding. Ranking degrades, it never blocks
// the answer: a dead embedding backend yields a deterministic default
// ordering instead of an error.
type Reranker struct {
	embedder Embedder
	logger   *logrus.Logger
}

// NewReranker creates a reranker over the given embedding backend.
func NewReranker(embedder Embedder, logger *logrus.Logger) *Reranker {
	return &Reranker{embedder: embedder, logger: logger}
}

// Rerank scores chunks against the query and returns them sorted by
// score descending, ties broken by input order. The output always has
// exactly as many entries as the input.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []Chunk) []RankedChunk {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, query)
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) || vectors[0] == nil {
		if err != nil {
			r.logger.WithError(err).Warn("Embedding backend unavailable, using degraded ranking")
		} else {
			r.logger.Warn("Embedding response unusable, using degraded ranking")
		}
		return degradedRanking(chunks)
	}

	queryVec := vectors[0]
	ranked := make([]RankedChunk, len(chunks))
	for i, c := range chunks {
		vec := vectors[i+1]
		score := FallbackScore
		if vec != nil {
			score = CosineSimilarity(queryVec, vec)
		}
		ranked[i] = RankedChunk{Chunk: c, Score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// degradedRanking preserves input order with monotonically decreasing
// scores so downstream citation numbering stays deterministic.
func degradedRanking(chunks []Chunk) []RankedChunk {
	n := float64(len(chunks))
	ranked := make([]RankedChunk, len(chunks))
	for i, c := range chunks {
		ranked[i] = RankedChunk{Chunk: c, Score: 1 - float64(i)/n}
	}
	return ranked
}

// CosineSimilarity computes dot(a,b)/(|a||b|) clamped to [0,1]. A
// zero-norm vector yields 0 rather than a division failure.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
