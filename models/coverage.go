package models

// CoverageStatus is the per-requirement judgment. Persisted values are
// lowercase and exact; the ordering missing < partial < met is total.
type CoverageStatus string

const (
	CoverageMissing CoverageStatus = "missing"
	CoveragePartial CoverageStatus = "partial"
	CoverageMet     CoverageStatus = "met"
)

// Rank returns the position of a status under missing < partial < met.
// Unknown statuses rank below missing so malformed input never wins a
// reconciliation merge.
func (s CoverageStatus) Rank() int {
	switch s {
	case CoverageMissing:
		return 1
	case CoveragePartial:
		return 2
	case CoverageMet:
		return 3
	default:
		return 0
	}
}

// MaxCoverageStatus returns the higher of two statuses under the total
// order missing < partial < met
func MaxCoverageStatus(a, b CoverageStatus) CoverageStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CoverageItem is the authoritative judgment for one requirement.
// InternalID and OriginalID are alternate identifiers external
// classifiers attach for provenance tracking; reconciliation consults
// them when requirement_id matches no known definition.
type CoverageItem struct {
	RequirementID string         `json:"requirement_id"`
	InternalID    string         `json:"internal_id,omitempty"`
	OriginalID    string         `json:"original_id,omitempty"`
	Status        CoverageStatus `json:"status"`
	Notes         string         `json:"notes"`
	EvidenceRefs  []string       `json:"evidence_refs"`
}
