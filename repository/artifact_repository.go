package repository

import (
	"context"
	"encoding/json"

	"grantdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtifactRepository handles database operations for versioned pipeline
// artifacts. Artifacts are append-only: Create always writes the next
// version for its (project, kind, section) slot.
type ArtifactRepository struct {
	db *pgxpool.Pool
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *pgxpool.Pool) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create appends a new artifact version. The version number is assigned
// inside the insert so concurrent runs never collide.
func (r *ArtifactRepository) Create(ctx context.Context, artifact *models.Artifact) error {
	query := `
		INSERT INTO artifacts (
			project_id, batch_id, kind, section_key, version, payload
		) VALUES (
			$1, $2, $3, $4,
			COALESCE((
				SELECT MAX(version) FROM artifacts
				WHERE project_id = $1 AND kind = $3
					AND section_key IS NOT DISTINCT FROM $4
			), 0) + 1,
			$5
		)
		RETURNING id, version, created_at`

	return r.db.QueryRow(
		ctx, query,
		artifact.ProjectID,
		artifact.BatchID,
		artifact.Kind,
		artifact.SectionKey,
		artifact.Payload,
	).Scan(&artifact.ID, &artifact.Version, &artifact.CreatedAt)
}

// GetLatest retrieves the newest artifact version for a slot
func (r *ArtifactRepository) GetLatest(
	ctx context.Context,
	projectID uuid.UUID,
	kind models.ArtifactKind,
	sectionKey *string,
) (*models.Artifact, error) {
	artifact := &models.Artifact{}
	query := `
		SELECT id, project_id, batch_id, kind, section_key, version, payload, created_at
		FROM artifacts
		WHERE project_id = $1 AND kind = $2
			AND section_key IS NOT DISTINCT FROM $3
		ORDER BY version DESC
		LIMIT 1`

	err := r.db.QueryRow(ctx, query, projectID, kind, sectionKey).Scan(
		&artifact.ID,
		&artifact.ProjectID,
		&artifact.BatchID,
		&artifact.Kind,
		&artifact.SectionKey,
		&artifact.Version,
		&artifact.Payload,
		&artifact.CreatedAt,
	)

	if err != nil {
		return nil, err
	}

	return artifact, nil
}

// ListLatestByKind retrieves the newest version of every section slot of
// one kind, ordered by section key
func (r *ArtifactRepository) ListLatestByKind(
	ctx context.Context,
	projectID uuid.UUID,
	kind models.ArtifactKind,
) ([]*models.Artifact, error) {
	query := `
		SELECT DISTINCT ON (section_key)
			id, project_id, batch_id, kind, section_key, version, payload, created_at
		FROM artifacts
		WHERE project_id = $1 AND kind = $2
		ORDER BY section_key, version DESC`

	rows, err := r.db.Query(ctx, query, projectID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		artifact := &models.Artifact{}
		err := rows.Scan(
			&artifact.ID,
			&artifact.ProjectID,
			&artifact.BatchID,
			&artifact.Kind,
			&artifact.SectionKey,
			&artifact.Version,
			&artifact.Payload,
			&artifact.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	return artifacts, rows.Err()
}

// LatestDrafts decodes the newest draft artifact of every section
func (r *ArtifactRepository) LatestDrafts(ctx context.Context, projectID uuid.UUID) ([]models.DraftArtifact, error) {
	artifacts, err := r.ListLatestByKind(ctx, projectID, models.ArtifactDraft)
	if err != nil {
		return nil, err
	}

	drafts := make([]models.DraftArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		var draft models.DraftArtifact
		if err := json.Unmarshal(a.Payload, &draft); err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}
