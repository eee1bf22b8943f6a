package service

import (
	"context"
	"errors"
	"testing"

	"grantdraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed vector and provider tag
type stubEmbedder struct {
	vector   []float64
	provider string
	err      error
	calls    int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, dim int) ([]float64, string, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return s.vector, s.provider, nil
}

func chunk(doc string, page int, text string, embedding []float64, provider string) models.Chunk {
	return models.Chunk{
		DocumentID:        doc,
		FileName:          doc,
		Page:              page,
		Text:              text,
		Embedding:         embedding,
		EmbeddingProvider: provider,
	}
}

func TestRankChunksOrdersByCosineSimilarity(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "gemini-embedding-001"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "orthogonal", []float64{0, 1}, "gemini-embedding-001"),
		chunk("b.txt", 2, "aligned", []float64{1, 0}, "gemini-embedding-001"),
		chunk("c.txt", 3, "between", []float64{0.6, 0.8}, "gemini-embedding-001"),
	}

	ranked, warnings, err := ranker.RankChunks(context.Background(), chunks, "query", 10)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b.txt", ranked[0].DocumentID)
	assert.Equal(t, "c.txt", ranked[1].DocumentID)
	assert.Equal(t, "a.txt", ranked[2].DocumentID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.InDelta(t, 0.6, ranked[1].Score, 1e-9)
}

func TestRankChunksIsDeterministic(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{0.8, 0.6}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	// Tied scores keep input order
	chunks := []models.Chunk{
		chunk("first.txt", 1, "one", []float64{1, 0}, "p"),
		chunk("second.txt", 1, "two", []float64{1, 0}, "p"),
		chunk("third.txt", 1, "three", []float64{0, 1}, "p"),
	}

	for i := 0; i < 5; i++ {
		ranked, _, err := ranker.RankChunks(context.Background(), chunks, "query", 10)
		require.NoError(t, err)
		require.Len(t, ranked, 3)
		assert.Equal(t, "first.txt", ranked[0].DocumentID)
		assert.Equal(t, "second.txt", ranked[1].DocumentID)
		assert.Equal(t, "third.txt", ranked[2].DocumentID)
	}
}

func TestRankChunksTruncatesToTopK(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "a", []float64{0.9, 0.1}, "p"),
		chunk("b.txt", 1, "b", []float64{0.5, 0.5}, "p"),
		chunk("c.txt", 1, "c", []float64{0.1, 0.9}, "p"),
	}

	ranked, _, err := ranker.RankChunks(context.Background(), chunks, "query", 2)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "a.txt", ranked[0].DocumentID)
}

func TestRankChunksEmptyInputs(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	ranked, warnings, err := ranker.RankChunks(context.Background(), nil, "query", 5)
	require.NoError(t, err)
	assert.Nil(t, ranked)
	assert.Nil(t, warnings)

	// Chunks without embeddings count as empty
	ranked, warnings, err = ranker.RankChunks(context.Background(), []models.Chunk{
		chunk("a.txt", 1, "no vector", nil, ""),
	}, "query", 5)
	require.NoError(t, err)
	assert.Nil(t, ranked)
	assert.Nil(t, warnings)
	assert.Zero(t, embedder.calls, "embedder must not be called with nothing to rank")

	// topK below 1 short-circuits
	ranked, _, err = ranker.RankChunks(context.Background(), []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0}, "p"),
	}, "query", 0)
	require.NoError(t, err)
	assert.Nil(t, ranked)
}

func TestRankChunksEmbedderFailureIsHardError(t *testing.T) {
	embedder := &stubEmbedder{err: ErrEmbeddingProvider}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	_, _, err := ranker.RankChunks(context.Background(), []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0}, "p"),
	}, "query", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmbeddingProvider))
}

func TestRankChunksDimensionFallbackWarning(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder), RankerWithEmbeddingDim(768))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0}, "p"),
		chunk("b.txt", 1, "b", []float64{0, 1}, "p"),
	}

	ranked, warnings, err := ranker.RankChunks(context.Background(), chunks, "query", 5)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnDimensionFallback, warnings[0].Code)
	assert.Equal(t, 768, warnings[0].Details["configured_dim"])
	assert.Equal(t, 2, warnings[0].Details["fallback_dim"])
}

func TestRankChunksQueryDimensionMismatchRetargets(t *testing.T) {
	// Chunks are 3-dim, the provider answers with a 2-dim query vector:
	// ranking re-targets to 2 and drops every chunk
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0, 0}, "p"),
	}

	ranked, warnings, err := ranker.RankChunks(context.Background(), chunks, "query", 5)
	require.NoError(t, err)
	assert.Empty(t, ranked)

	codes := warningCodes(warnings)
	assert.Contains(t, codes, WarnQueryDimMismatch)
	assert.Contains(t, codes, WarnChunksDropped)
}

func TestRankChunksDropsMismatchedDimensions(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0}, "p"),
		chunk("b.txt", 1, "b", []float64{0, 1}, "p"),
		chunk("c.txt", 1, "c", []float64{1, 0, 0}, "p"),
	}

	ranked, warnings, err := ranker.RankChunks(context.Background(), chunks, "query", 5)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)

	require.Len(t, warnings, 1)
	assert.Equal(t, WarnChunksDropped, warnings[0].Code)
	assert.Equal(t, 1, warnings[0].Details["dropped"])
	assert.Equal(t, 2, warnings[0].Details["kept"])
}

func TestRankChunksProviderDriftWarnings(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "provider-c"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0}, "provider-a"),
		chunk("b.txt", 1, "b", []float64{0, 1}, "provider-b"),
	}

	_, warnings, err := ranker.RankChunks(context.Background(), chunks, "query", 5)
	require.NoError(t, err)

	codes := warningCodes(warnings)
	assert.Contains(t, codes, WarnProviderDrift)
	assert.Contains(t, codes, WarnQueryProviderDrift)
}

func TestRankChunksNoDriftForMatchingProvider(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0}, provider: "p"}
	ranker := NewChunkRanker(RankerWithEmbedder(embedder))

	chunks := []models.Chunk{
		chunk("a.txt", 1, "a", []float64{1, 0}, "p"),
		chunk("b.txt", 1, "b", []float64{0, 1}, "p"),
	}

	_, warnings, err := ranker.RankChunks(context.Background(), chunks, "query", 5)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func warningCodes(warnings []models.DriftWarning) []string {
	codes := make([]string, 0, len(warnings))
	for _, w := range warnings {
		codes = append(codes, w.Code)
	}
	return codes
}
