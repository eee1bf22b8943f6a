package repository

import (
	"context"
	"fmt"

	"grantdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectRepository handles database operations for projects
type ProjectRepository struct {
	db *pgxpool.Pool
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create creates a new project
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (
			user_id, status, title, funder_name, program_name,
			requested_sections, prompt_context, active_batch_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		) RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		project.UserID,
		project.Status,
		project.Title,
		project.FunderName,
		project.ProgramName,
		project.RequestedSections,
		project.PromptContext,
		project.ActiveBatchID,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)

	return err
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	project := &models.Project{}
	query := `
		SELECT id, user_id, status, title, funder_name, program_name,
			requested_sections, prompt_context, active_batch_id,
			created_at, updated_at, completed_at
		FROM projects
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&project.ID,
		&project.UserID,
		&project.Status,
		&project.Title,
		&project.FunderName,
		&project.ProgramName,
		&project.RequestedSections,
		&project.PromptContext,
		&project.ActiveBatchID,
		&project.CreatedAt,
		&project.UpdatedAt,
		&project.CompletedAt,
	)

	if err != nil {
		return nil, err
	}

	return project, nil
}

// Update updates a project
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects SET
			status = $2,
			title = $3,
			funder_name = $4,
			program_name = $5,
			requested_sections = $6,
			prompt_context = $7,
			active_batch_id = $8,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(
		ctx, query,
		project.ID,
		project.Status,
		project.Title,
		project.FunderName,
		project.ProgramName,
		project.RequestedSections,
		project.PromptContext,
		project.ActiveBatchID,
	).Scan(&project.UpdatedAt)

	return err
}

// UpdateStatus updates only the project status
func (r *ProjectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error {
	query := `
		UPDATE projects SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// ListByUserID retrieves all projects for a user
func (r *ProjectRepository) ListByUserID(ctx context.Context, userID uuid.UUID, status *models.ProjectStatus, limit, offset int) ([]*models.Project, error) {
	query := `
		SELECT id, user_id, status, title, funder_name, program_name,
			requested_sections, prompt_context, active_batch_id,
			created_at, updated_at, completed_at
		FROM projects
		WHERE user_id = $1`

	args := []interface{}{userID}
	argIndex := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project := &models.Project{}
		err := rows.Scan(
			&project.ID,
			&project.UserID,
			&project.Status,
			&project.Title,
			&project.FunderName,
			&project.ProgramName,
			&project.RequestedSections,
			&project.PromptContext,
			&project.ActiveBatchID,
			&project.CreatedAt,
			&project.UpdatedAt,
			&project.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	return projects, rows.Err()
}

// Delete deletes a project
func (r *ProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM projects WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
