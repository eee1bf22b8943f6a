package models

import (
	"time"

	"github.com/google/uuid"
)

// Document represents an uploaded grant/RFP source document
type Document struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	BatchID     *uuid.UUID `json:"batch_id,omitempty"`
	FileName    string     `json:"file_name"`
	MimeType    string     `json:"mime_type"`
	Size        int64      `json:"size"`
	StoragePath string     `json:"storage_path"`
	// Highest page the parser reported; nil until extraction completes
	PageCount *int      `json:"page_count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
