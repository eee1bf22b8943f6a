package models

// MaxSnippetLen bounds citation snippets persisted with drafts
const MaxSnippetLen = 240

// UnsupportedMarker is appended to paragraph text when composing
// unsupported claims for human reading
const UnsupportedMarker = "[UNSUPPORTED]"

// Citation points a claim at real document text
type Citation struct {
	DocID   string `json:"doc_id"`
	Page    int    `json:"page"` // always >= 1
	Snippet string `json:"snippet"`
}

// Paragraph is one grounded paragraph of a section draft
type Paragraph struct {
	Text        string     `json:"text"`
	Citations   []Citation `json:"citations"`
	Confidence  float64    `json:"confidence"`
	Unsupported bool       `json:"unsupported,omitempty"`
}

// MissingEvidence names a claim the generator could not support and
// what upload would fix it
type MissingEvidence struct {
	Claim           string `json:"claim"`
	SuggestedUpload string `json:"suggested_upload"`
}

// DraftArtifact is one section's grounded draft, persisted as an
// immutable artifact version per (project, section, upload batch)
type DraftArtifact struct {
	SectionKey      string            `json:"section_key"`
	Paragraphs      []Paragraph       `json:"paragraphs"`
	MissingEvidence []MissingEvidence `json:"missing_evidence"`
}

// GroundingStats reports what grounding did to a draft; exported
// uncertainty scoring depends on these counts
type GroundingStats struct {
	Paragraphs             int `json:"paragraphs"`
	CitationsBefore        int `json:"citations_before"`
	CitationsAfter         int `json:"citations_after"`
	InlineCitationsParsed  int `json:"inline_citations_parsed"`
	FallbackCitationsAdded int `json:"fallback_citations_added"`
	CitationsDropped       int `json:"citations_dropped"`
}
