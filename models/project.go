package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus represents the status of a grant project
type ProjectStatus string

const (
	StatusDraft      ProjectStatus = "draft"
	StatusInProgress ProjectStatus = "in_progress"
	StatusCompleted  ProjectStatus = "completed"
	StatusArchived   ProjectStatus = "archived"
)

// PromptContext carries free-form generation context per section
type PromptContext map[string]interface{}

// Value implements driver.Valuer for JSONB
func (p PromptContext) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *PromptContext) Scan(value interface{}) error {
	if value == nil {
		*p = make(PromptContext)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		*p = make(PromptContext)
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// Project represents a grant application project
type Project struct {
	ID     uuid.UUID     `json:"id"`
	UserID uuid.UUID     `json:"user_id"`
	Status ProjectStatus `json:"status"`

	Title      string `json:"title"`
	FunderName string `json:"funder_name"`
	ProgramName string `json:"program_name"`

	// Sections the applicant wants drafted, in render order
	RequestedSections []string      `json:"requested_sections"`
	PromptContext     PromptContext `json:"prompt_context"`

	// Scoping unit for retrieval/extraction runs
	ActiveBatchID *uuid.UUID `json:"active_batch_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
