package service

import (
	"testing"

	"grantdraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankCacheKeyNormalizesQuery(t *testing.T) {
	cache := NewRankCache()
	chunks := []models.Chunk{
		{DocumentID: "impact.txt", Page: 1, Text: "served 500 families"},
	}

	a := cache.Key("Need Statement  Community Grant", chunks, 8)
	b := cache.Key("need statement community grant", chunks, 8)
	assert.Equal(t, a, b)
}

func TestRankCacheKeyDiscriminates(t *testing.T) {
	cache := NewRankCache()
	chunks := []models.Chunk{
		{DocumentID: "impact.txt", Page: 1, Text: "served 500 families"},
	}

	base := cache.Key("need statement", chunks, 8)

	assert.NotEqual(t, base, cache.Key("budget narrative", chunks, 8))
	assert.NotEqual(t, base, cache.Key("need statement", chunks, 16))

	edited := []models.Chunk{
		{DocumentID: "impact.txt", Page: 1, Text: "served 600 families"},
	}
	assert.NotEqual(t, base, cache.Key("need statement", edited, 8))

	moved := []models.Chunk{
		{DocumentID: "impact.txt", Page: 2, Text: "served 500 families"},
	}
	assert.NotEqual(t, base, cache.Key("need statement", moved, 8))
}

func TestRankCacheKeyIgnoresEmbeddingIdentity(t *testing.T) {
	cache := NewRankCache()

	a := cache.Key("q", []models.Chunk{
		{DocumentID: "a.txt", Page: 1, Text: "same text", Embedding: []float64{1, 0}},
	}, 8)
	b := cache.Key("q", []models.Chunk{
		{DocumentID: "a.txt", Page: 1, Text: "same text", Embedding: []float64{0, 1}},
	}, 8)
	assert.Equal(t, a, b, "key is content-addressed by document, page and text")
}

func TestRankCacheGetPut(t *testing.T) {
	cache := NewRankCache()
	key := cache.Key("q", nil, 8)

	_, _, ok := cache.Get(key)
	assert.False(t, ok)

	ranked := []models.RankedChunk{{DocumentID: "impact.txt", Page: 1, Score: 0.9}}
	warnings := []models.DriftWarning{{Code: WarnProviderDrift, Message: "m"}}
	cache.Put(key, ranked, warnings)

	gotRanked, gotWarnings, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, ranked, gotRanked)
	assert.Equal(t, warnings, gotWarnings)
}
