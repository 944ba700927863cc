package rag

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors [][]float64
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testChunks(n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = Chunk{
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Text:    fmt.Sprintf("chunk %d", i),
			Ordinal: i,
		}
	}
	return chunks
}

func TestRerankOrdersByDescendingSimilarity(t *testing.T) {
	// Query vector matches the second chunk best, the first worst.
	embedder := &fakeEmbedder{vectors: [][]float64{
		{1, 0},   // query
		{0, 1},   // orthogonal
		{1, 0},   // identical
		{1, 0.5}, // in between
	}}
	r := NewReranker(embedder, testLogger())

	ranked := r.Rerank(context.Background(), "q", testChunks(3))
	require.Len(t, ranked, 3)
	assert.Equal(t, "chunk 1", ranked[0].Chunk.Text)
	assert.Equal(t, "chunk 2", ranked[1].Chunk.Text)
	assert.Equal(t, "chunk 0", ranked[2].Chunk.Text)
	assert.Equal(t, 1, embedder.calls)
}

func TestRerankBatchesQueryWithChunks(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{{1}, {1}, {1}}}
	r := NewReranker(embedder, testLogger())

	r.Rerank(context.Background(), "q", testChunks(2))
	assert.Equal(t, 1, embedder.calls, "query and chunks must share one embedding call")
}

func TestRerankNilChunkVectorGetsFallbackScore(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{
		{1, 0},
		{1, 0},
		nil,
	}}
	r := NewReranker(embedder, testLogger())

	ranked := r.Rerank(context.Background(), "q", testChunks(2))
	require.Len(t, ranked, 2)
	assert.Equal(t, "chunk 0", ranked[0].Chunk.Text)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.Equal(t, "chunk 1", ranked[1].Chunk.Text)
	assert.Equal(t, FallbackScore, ranked[1].Score)
}

func TestRerankDegradesOnBackendFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("backend down")}
	r := NewReranker(embedder, testLogger())

	ranked := r.Rerank(context.Background(), "q", testChunks(4))
	require.Len(t, ranked, 4)
	for i, rc := range ranked {
		assert.Equal(t, i, rc.Chunk.Ordinal, "degraded ranking must preserve input order")
		if i > 0 {
			assert.Less(t, rc.Score, ranked[i-1].Score)
		}
	}
}

func TestRerankDegradesOnNilQueryVector(t *testing.T) {
	embedder := &fakeEmbedder{vectors: [][]float64{nil, {1}, {1}}}
	r := NewReranker(embedder, testLogger())

	ranked := r.Rerank(context.Background(), "q", testChunks(2))
	require.Len(t, ranked, 2)
	assert.Equal(t, 0, ranked[0].Chunk.Ordinal)
	assert.Equal(t, 1, ranked[1].Chunk.Ordinal)
}

func TestRerankEmptyInput(t *testing.T) {
	embedder := &fakeEmbedder{}
	r := NewReranker(embedder, testLogger())

	assert.Nil(t, r.Rerank(context.Background(), "q", nil))
	assert.Equal(t, 0, embedder.calls)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	// Opposed vectors clamp to zero rather than going negative.
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}))
}
