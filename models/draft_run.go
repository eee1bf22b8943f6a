package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DraftRunStatus represents the status of a section drafting run
type DraftRunStatus string

const (
	RunStatusPending    DraftRunStatus = "pending"
	RunStatusInProgress DraftRunStatus = "in_progress"
	RunStatusCompleted  DraftRunStatus = "completed"
	RunStatusFailed     DraftRunStatus = "failed"
)

// RunStep represents a step in the drafting pipeline
type RunStep struct {
	Name        string `json:"name"`
	Status      string `json:"status"` // "pending", "in_progress", "completed", "failed"
	Description string `json:"description,omitempty"`
}

// RunSteps represents a list of run steps
type RunSteps []RunStep

// Value implements driver.Valuer for JSONB
func (r RunSteps) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *RunSteps) Scan(value interface{}) error {
	if value == nil {
		*r = make(RunSteps, 0)
		return nil
	}

	// Handle different types that pgx might return for JSONB
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*r = make(RunSteps, 0)
		return nil
	}

	if len(bytes) == 0 {
		*r = make(RunSteps, 0)
		return nil
	}

	return json.Unmarshal(bytes, r)
}

// DraftRun represents one background drafting run over a project's
// requested sections
type DraftRun struct {
	ID           uuid.UUID      `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	Status       DraftRunStatus `json:"status"`
	CurrentStep  *string        `json:"current_step,omitempty"`
	Steps        RunSteps       `json:"steps"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}
