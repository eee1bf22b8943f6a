package models

import (
	"encoding/json"
	"time"
)

// ExportVersion is the literal bundle-shape version callers use to
// detect compatibility
const ExportVersion = "grantdraft-export/1"

// QualityGates reports the export gate outcome. Passed is true exactly
// when Reasons is empty; Warnings degrade scores but never block.
type QualityGates struct {
	Passed   bool     `json:"passed"`
	Reasons  []string `json:"reasons"`
	Warnings []string `json:"warnings"`
}

// ExportSummary carries coverage totals and confidence metrics
type ExportSummary struct {
	TotalRequirements int     `json:"total_requirements"`
	Met               int     `json:"met"`
	Partial           int     `json:"partial"`
	Missing           int     `json:"missing"`
	CompletionScore   float64 `json:"completion_score"`
	ReadinessScore    float64 `json:"readiness_score"`

	UnsupportedClaims     int `json:"unsupported_claims_count"`
	CitationMismatches    int `json:"citation_mismatch_count"`
	SourceConflicts       int `json:"source_conflict_count"`
	EmptyRequiredSections int `json:"empty_required_sections_count"`
}

// ExportFiles holds the rendered bundle variants
type ExportFiles struct {
	JSON     json.RawMessage   `json:"json"`
	Markdown map[string]string `json:"markdown"`
}

// ExportBundle is the immutable result of one export call
type ExportBundle struct {
	ExportVersion string                 `json:"export_version"`
	GeneratedAt   time.Time              `json:"generated_at"`
	Project       string                 `json:"project"`
	Bundle        ExportFiles            `json:"bundle"`
	Summary       ExportSummary          `json:"summary"`
	QualityGates  QualityGates           `json:"quality_gates"`
	Provenance    map[string]interface{} `json:"provenance"`
}
