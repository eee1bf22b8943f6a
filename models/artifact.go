package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ArtifactKind identifies what a stored artifact payload contains
type ArtifactKind string

const (
	ArtifactRequirements ArtifactKind = "requirements"
	ArtifactDraft        ArtifactKind = "draft"
	ArtifactCoverage     ArtifactKind = "coverage"
	ArtifactExport       ArtifactKind = "export"
)

// Artifact is a versioned, immutable pipeline output. New runs append
// new versions; nothing overwrites a prior version.
type Artifact struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ProjectID  uuid.UUID       `json:"project_id" db:"project_id"`
	BatchID    *uuid.UUID      `json:"batch_id,omitempty" db:"batch_id"`
	Kind       ArtifactKind    `json:"kind" db:"kind"`
	SectionKey *string         `json:"section_key,omitempty" db:"section_key"`
	Version    int             `json:"version" db:"version"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
