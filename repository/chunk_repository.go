package repository

import (
	"context"
	"fmt"
	"strings"

	"grantdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChunkRepository handles database operations for evidence chunks
type ChunkRepository struct {
	db *pgxpool.Pool
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Create inserts a single chunk. The embedding may be absent; the
// build-embeddings tool fills it in later.
func (r *ChunkRepository) Create(ctx context.Context, chunk *models.Chunk) error {
	query := `
		INSERT INTO chunks (
			project_id, batch_id, document_id, file_name, page, chunk_text,
			embedding, embedding_provider
		) VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
		RETURNING id`

	var vector interface{}
	if len(chunk.Embedding) > 0 {
		vector = formatVector(chunk.Embedding)
	}

	return r.db.QueryRow(
		ctx, query,
		chunk.ProjectID,
		chunk.BatchID,
		chunk.DocumentID,
		chunk.FileName,
		chunk.Page,
		chunk.Text,
		vector,
		chunk.EmbeddingProvider,
	).Scan(&chunk.ID)
}

// ListMissingEmbeddings returns chunks awaiting an embedding
func (r *ChunkRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]models.Chunk, error) {
	query := `
		SELECT id, project_id, batch_id, document_id, file_name, page,
			chunk_text, embedding_provider
		FROM chunks
		WHERE embedding IS NULL
		ORDER BY id
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.ProjectID,
			&chunk.BatchID,
			&chunk.DocumentID,
			&chunk.FileName,
			&chunk.Page,
			&chunk.Text,
			&chunk.EmbeddingProvider,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// UpdateEmbedding stores the embedding and provider tag for a chunk
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding []float64, provider string) error {
	query := `UPDATE chunks SET embedding = $2::vector, embedding_provider = $3 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, formatVector(embedding), provider)
	return err
}

// ListByProject loads every chunk of a project's active batch, embedding
// included, for in-memory ranking. Chunks without a batch belong to
// every batch.
func (r *ChunkRepository) ListByProject(ctx context.Context, projectID uuid.UUID, batchID *uuid.UUID) ([]models.Chunk, error) {
	query := `
		SELECT id, project_id, batch_id, document_id, file_name, page,
			chunk_text, embedding::float8[], embedding_provider
		FROM chunks
		WHERE project_id = $1`

	args := []interface{}{projectID}
	if batchID != nil {
		query += " AND (batch_id = $2 OR batch_id IS NULL)"
		args = append(args, *batchID)
	}
	query += " ORDER BY file_name, page, id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.ProjectID,
			&chunk.BatchID,
			&chunk.DocumentID,
			&chunk.FileName,
			&chunk.Page,
			&chunk.Text,
			&chunk.Embedding,
			&chunk.EmbeddingProvider,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return chunks, nil
}

// Search performs a vector similarity search within one project
func (r *ChunkRepository) Search(
	ctx context.Context,
	projectID uuid.UUID,
	embedding []float64,
	limit int,
) ([]models.Chunk, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is empty")
	}

	vectorStr := formatVector(embedding)

	query := `
		SELECT
			id, project_id, batch_id, document_id, file_name, page,
			chunk_text, embedding_provider,
			embedding <=> $2::vector AS distance
		FROM chunks
		WHERE project_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, projectID, vectorStr, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.ProjectID,
			&chunk.BatchID,
			&chunk.DocumentID,
			&chunk.FileName,
			&chunk.Page,
			&chunk.Text,
			&chunk.EmbeddingProvider,
			&chunk.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return chunks, nil
}

// DeleteByDocument removes every chunk extracted from one document
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, projectID uuid.UUID, documentID string) error {
	query := `DELETE FROM chunks WHERE project_id = $1 AND document_id = $2`
	_, err := r.db.Exec(ctx, query, projectID, documentID)
	return err
}
