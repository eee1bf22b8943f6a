package models

// RequirementKind classifies where a requirement definition came from
type RequirementKind string

const (
	RequirementNarrative      RequirementKind = "narrative"
	RequirementAttachment     RequirementKind = "attachment"
	RequirementEligibility    RequirementKind = "eligibility"
	RequirementRubric         RequirementKind = "rubric"
	RequirementDisallowedCost RequirementKind = "disallowed_cost"
)

// NarrativeQuestion is one narrative prompt extracted from the RFP
type NarrativeQuestion struct {
	ID              string `json:"id"`
	Prompt          string `json:"prompt"`
	WordLimit       int    `json:"word_limit,omitempty"`
	ExpectedSection string `json:"expected_section,omitempty"`
}

// RequirementsArtifact is the structured requirements extraction for a
// project, persisted as an immutable artifact version
type RequirementsArtifact struct {
	Questions       []NarrativeQuestion `json:"questions"`
	Attachments     []string            `json:"attachments"`
	Eligibility     []string            `json:"eligibility"`
	Rubric          []string            `json:"rubric"`
	DisallowedCosts []string            `json:"disallowed_costs"`
}

// RequirementDefinition is the flattened, id-addressable form used by
// coverage reconciliation and export. Synthetic ids are prefixed by
// kind: A (attachments), E (eligibility), R (rubric), D (disallowed)
type RequirementDefinition struct {
	ID              string          `json:"id"`
	Kind            RequirementKind `json:"kind"`
	Text            string          `json:"text"`
	WordLimit       int             `json:"word_limit,omitempty"`
	ExpectedSection string          `json:"expected_section,omitempty"`
}
