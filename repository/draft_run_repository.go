package repository

import (
	"context"
	"time"

	"grantdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DraftRunRepository handles database operations for drafting runs
type DraftRunRepository struct {
	db *pgxpool.Pool
}

// NewDraftRunRepository creates a new draft run repository
func NewDraftRunRepository(db *pgxpool.Pool) *DraftRunRepository {
	return &DraftRunRepository{db: db}
}

// Create creates a new draft run
func (r *DraftRunRepository) Create(ctx context.Context, run *models.DraftRun) error {
	query := `
		INSERT INTO draft_runs (
			project_id, status, current_step, steps, error_message
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		run.ProjectID,
		run.Status,
		run.CurrentStep,
		run.Steps,
		run.ErrorMessage,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)

	return err
}

// GetByID retrieves a draft run by ID
func (r *DraftRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DraftRun, error) {
	run := &models.DraftRun{}
	query := `
		SELECT id, project_id, status, current_step, steps, error_message,
			created_at, updated_at, completed_at
		FROM draft_runs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.ProjectID,
		&run.Status,
		&run.CurrentStep,
		&run.Steps,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)

	if err != nil {
		return nil, err
	}

	// Safeguard in case Scan didn't handle NULL properly
	if run.Steps == nil {
		run.Steps = make(models.RunSteps, 0)
	}

	return run, nil
}

// GetByProjectID retrieves the latest draft run for a project
func (r *DraftRunRepository) GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.DraftRun, error) {
	run := &models.DraftRun{}
	query := `
		SELECT id, project_id, status, current_step, steps, error_message,
			created_at, updated_at, completed_at
		FROM draft_runs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.QueryRow(ctx, query, projectID).Scan(
		&run.ID,
		&run.ProjectID,
		&run.Status,
		&run.CurrentStep,
		&run.Steps,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)

	if err != nil {
		return nil, err
	}

	if run.Steps == nil {
		run.Steps = make(models.RunSteps, 0)
	}

	return run, nil
}

// UpdateStatus updates the status of a draft run
func (r *DraftRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DraftRunStatus) error {
	query := `
		UPDATE draft_runs SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, status)
	return err
}

// UpdateProgress updates the progress of a draft run
func (r *DraftRunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.RunSteps) error {
	query := `
		UPDATE draft_runs SET
			current_step = $2,
			steps = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, currentStep, steps)
	return err
}

// Complete marks a draft run as completed
func (r *DraftRunRepository) Complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	query := `
		UPDATE draft_runs SET
			status = $2,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusCompleted, now)
	return err
}

// Fail marks a draft run as failed
func (r *DraftRunRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE draft_runs SET
			status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.RunStatusFailed, errorMessage)
	return err
}
