package repository

import (
	"context"

	"grantdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository handles database operations for uploaded documents
type DocumentRepository struct {
	db *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document record
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (
			project_id, batch_id, file_name, mime_type, size, storage_path, page_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.db.QueryRow(
		ctx, query,
		doc.ProjectID,
		doc.BatchID,
		doc.FileName,
		doc.MimeType,
		doc.Size,
		doc.StoragePath,
		doc.PageCount,
	).Scan(&doc.ID, &doc.CreatedAt)

	return err
}

// GetByID retrieves a document by ID
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc := &models.Document{}
	query := `
		SELECT id, project_id, batch_id, file_name, mime_type, size, storage_path, page_count, created_at
		FROM documents
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.ProjectID,
		&doc.BatchID,
		&doc.FileName,
		&doc.MimeType,
		&doc.Size,
		&doc.StoragePath,
		&doc.PageCount,
		&doc.CreatedAt,
	)

	if err != nil {
		return nil, err
	}

	return doc, nil
}

// ListByProjectID retrieves all documents for a project
func (r *DocumentRepository) ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*models.Document, error) {
	query := `
		SELECT id, project_id, batch_id, file_name, mime_type, size, storage_path, page_count, created_at
		FROM documents
		WHERE project_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc := &models.Document{}
		err := rows.Scan(
			&doc.ID,
			&doc.ProjectID,
			&doc.BatchID,
			&doc.FileName,
			&doc.MimeType,
			&doc.Size,
			&doc.StoragePath,
			&doc.PageCount,
			&doc.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// UpdatePageCount records the page count reported by extraction
func (r *DocumentRepository) UpdatePageCount(ctx context.Context, id uuid.UUID, pageCount int) error {
	query := `UPDATE documents SET page_count = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, pageCount)
	return err
}

// Delete deletes a document record
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM documents WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
