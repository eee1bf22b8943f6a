package service

import (
	"context"
	"fmt"
	"sort"

	"grantdraft-backend/models"
)

// Embedder turns text into a vector using an external embedding
// provider. Implementations must return unit-length vectors and the
// provider tag they embedded with.
type Embedder interface {
	Embed(ctx context.Context, text string, dim int) (vector []float64, provider string, err error)
}

// Drift warning codes emitted by the ranker
const (
	WarnDimensionFallback  = "dimension_fallback"
	WarnQueryDimMismatch   = "query_dimension_mismatch"
	WarnChunksDropped      = "chunks_dropped"
	WarnProviderDrift      = "provider_drift"
	WarnQueryProviderDrift = "query_provider_drift"
)

// ChunkRanker scores indexed chunks against a query via cosine
// similarity over unit-length embeddings
type ChunkRanker struct {
	embedder     Embedder
	embeddingDim int // configured dimension, 0 when unset
}

// ChunkRankerOption is a functional option for ChunkRanker
type ChunkRankerOption func(*ChunkRanker)

// RankerWithEmbedder sets the embedding provider
func RankerWithEmbedder(e Embedder) ChunkRankerOption {
	return func(r *ChunkRanker) {
		r.embedder = e
	}
}

// RankerWithEmbeddingDim sets the configured embedding dimension
func RankerWithEmbeddingDim(dim int) ChunkRankerOption {
	return func(r *ChunkRanker) {
		r.embeddingDim = dim
	}
}

// NewChunkRanker creates a new chunk ranker
func NewChunkRanker(opts ...ChunkRankerOption) *ChunkRanker {
	r := &ChunkRanker{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RankChunks scores chunks against the query and returns the top-k by
// descending cosine similarity, plus any drift warnings. Embedding
// provider failure is a hard error: retrieval without a usable query
// vector is meaningless.
func (r *ChunkRanker) RankChunks(
	ctx context.Context,
	chunks []models.Chunk,
	query string,
	topK int,
) ([]models.RankedChunk, []models.DriftWarning, error) {
	var warnings []models.DriftWarning

	embedded := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			embedded = append(embedded, c)
		}
	}
	if len(embedded) == 0 || topK < 1 {
		return nil, nil, nil
	}

	targetDim := r.resolveTargetDim(embedded, &warnings)

	if r.embedder == nil {
		return nil, warnings, fmt.Errorf("embedder not set: %w", ErrEmbeddingProvider)
	}

	queryVec, queryProvider, err := r.embedder.Embed(ctx, query, targetDim)
	if err != nil {
		return nil, warnings, fmt.Errorf("failed to embed query: %w", err)
	}

	// The provider decides the dimension it actually returns; re-target
	// rather than comparing vectors of unequal length
	if len(queryVec) != targetDim {
		warnings = append(warnings, models.DriftWarning{
			Code:    WarnQueryDimMismatch,
			Message: "query embedding dimension differs from chunk dimension, re-targeting",
			Details: map[string]interface{}{
				"chunk_dim": targetDim,
				"query_dim": len(queryVec),
			},
		})
		targetDim = len(queryVec)
	}

	kept := make([]models.Chunk, 0, len(embedded))
	for _, c := range embedded {
		if len(c.Embedding) == targetDim {
			kept = append(kept, c)
		}
	}
	if dropped := len(embedded) - len(kept); dropped > 0 {
		warnings = append(warnings, models.DriftWarning{
			Code:    WarnChunksDropped,
			Message: "chunks with mismatched embedding dimensions were excluded from ranking",
			Details: map[string]interface{}{
				"dropped":    dropped,
				"kept":       len(kept),
				"target_dim": targetDim,
			},
		})
	}

	warnings = append(warnings, providerDrift(kept, queryProvider)...)

	ranked := make([]models.RankedChunk, 0, len(kept))
	for _, c := range kept {
		ranked = append(ranked, models.RankedChunk{
			DocumentID: c.DocumentID,
			FileName:   c.FileName,
			Page:       c.Page,
			Text:       c.Text,
			Score:      dotProduct(queryVec, c.Embedding),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	return ranked, warnings, nil
}

// resolveTargetDim picks the dimension to rank in: the configured
// dimension if any chunk uses it, else the most frequent dimension
// among chunks (ties broken by the smallest dimension)
func (r *ChunkRanker) resolveTargetDim(chunks []models.Chunk, warnings *[]models.DriftWarning) int {
	counts := make(map[int]int)
	for _, c := range chunks {
		counts[len(c.Embedding)]++
	}

	if r.embeddingDim > 0 && counts[r.embeddingDim] > 0 {
		return r.embeddingDim
	}

	dims := make([]int, 0, len(counts))
	for dim := range counts {
		dims = append(dims, dim)
	}
	sort.Ints(dims)

	best := dims[0]
	for _, dim := range dims[1:] {
		if counts[dim] > counts[best] {
			best = dim
		}
	}

	if r.embeddingDim > 0 {
		*warnings = append(*warnings, models.DriftWarning{
			Code:    WarnDimensionFallback,
			Message: "no chunk uses the configured embedding dimension, falling back to the most frequent",
			Details: map[string]interface{}{
				"configured_dim": r.embeddingDim,
				"fallback_dim":   best,
			},
		})
	}

	return best
}

// providerDrift reports mixed chunk providers and a query provider
// unknown to the chunk set; both are re-indexing signals
func providerDrift(chunks []models.Chunk, queryProvider string) []models.DriftWarning {
	seen := make(map[string]bool)
	providers := make([]string, 0, 2)
	for _, c := range chunks {
		if c.EmbeddingProvider == "" || seen[c.EmbeddingProvider] {
			continue
		}
		seen[c.EmbeddingProvider] = true
		providers = append(providers, c.EmbeddingProvider)
	}

	var warnings []models.DriftWarning
	if len(providers) > 1 {
		warnings = append(warnings, models.DriftWarning{
			Code:    WarnProviderDrift,
			Message: "multiple embedding providers present in chunk set, re-indexing recommended",
			Details: map[string]interface{}{"providers": providers},
		})
	}
	if queryProvider != "" && len(providers) > 0 && !seen[queryProvider] {
		warnings = append(warnings, models.DriftWarning{
			Code:    WarnQueryProviderDrift,
			Message: "query embedding provider differs from all chunk providers, re-indexing recommended",
			Details: map[string]interface{}{
				"query_provider":  queryProvider,
				"chunk_providers": providers,
			},
		})
	}
	return warnings
}

func dotProduct(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
