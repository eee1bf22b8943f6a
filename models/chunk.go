package models

import (
	"github.com/google/uuid"
)

// Chunk represents a bounded slice of a parsed document's text,
// carrying page provenance and an embedding vector
type Chunk struct {
	ID                uuid.UUID  `json:"id"`
	ProjectID         uuid.UUID  `json:"project_id"`
	BatchID           *uuid.UUID `json:"batch_id,omitempty"`
	DocumentID        string     `json:"document_id"`
	FileName          string     `json:"file_name"`
	Page              int        `json:"page"` // always >= 1
	Text              string     `json:"text"`
	Embedding         []float64  `json:"embedding,omitempty"`
	EmbeddingProvider string     `json:"embedding_provider,omitempty"`
	Distance          float64    `json:"distance,omitempty"` // vector similarity distance (pgvector path)
}

// RankedChunk is a chunk paired with its cosine similarity score.
// Derived per query, never persisted.
type RankedChunk struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	Page       int     `json:"page"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// DriftWarning is a structured, non-fatal retrieval warning with enough
// detail (counts, dims, providers) for an operator to decide whether to
// re-index
type DriftWarning struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
