package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"grantdraft-backend/models"
)

// RankCache avoids re-ranking the same evidence set across sections
// within one multi-section run. Keys are content hashes of the
// normalized query plus the chunk set, never object identity. The
// cache lives for one orchestration call and must not be shared across
// requests; it is not safe for concurrent use.
type RankCache struct {
	entries map[string]rankCacheEntry
}

type rankCacheEntry struct {
	ranked   []models.RankedChunk
	warnings []models.DriftWarning
}

// NewRankCache creates an empty request-scoped ranking cache
func NewRankCache() *RankCache {
	return &RankCache{entries: make(map[string]rankCacheEntry)}
}

// Key derives a stable cache key from the normalized query, the chunk
// set's contents and the requested top-k
func (c *RankCache) Key(query string, chunks []models.Chunk, topK int) string {
	h := sha256.New()
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	for _, chunk := range chunks {
		h.Write([]byte{0})
		h.Write([]byte(chunk.DocumentID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(chunk.Page)))
		h.Write([]byte{0})
		h.Write([]byte(chunk.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached ranking, if any
func (c *RankCache) Get(key string) ([]models.RankedChunk, []models.DriftWarning, bool) {
	entry, ok := c.entries[key]
	return entry.ranked, entry.warnings, ok
}

// Put stores a ranking under its key
func (c *RankCache) Put(key string, ranked []models.RankedChunk, warnings []models.DriftWarning) {
	c.entries[key] = rankCacheEntry{ranked: ranked, warnings: warnings}
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
