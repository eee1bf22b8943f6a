package service

import (
	"fmt"
	"regexp"
	"strings"

	"grantdraft-backend/models"
)

// sectionKeywords maps prompt phrasing to the canonical section title a
// narrative answer is expected to live under. Checked in order; the
// first match wins.
var sectionKeywords = []struct {
	pattern *regexp.Regexp
	section string
}{
	{regexp.MustCompile(`(?i)\b(need|problem|gap|crisis)\b`), "Need Statement"},
	{regexp.MustCompile(`(?i)\b(goal|objective|outcome)s?\b`), "Goals and Objectives"},
	{regexp.MustCompile(`(?i)\b(method|approach|activit|implement|workplan|work plan)`), "Project Description"},
	{regexp.MustCompile(`(?i)\b(evaluat|measur|monitor|assess)`), "Evaluation Plan"},
	{regexp.MustCompile(`(?i)\b(budget|cost|funding|expense)`), "Budget Narrative"},
	{regexp.MustCompile(`(?i)\b(organization|capacity|history|staff|experience)`), "Organizational Capacity"},
	{regexp.MustCompile(`(?i)\b(sustain|continuation|long.term)`), "Sustainability"},
}

// inferExpectedSection returns the canonical section title a narrative
// prompt maps to, or "" when no keyword matches
func inferExpectedSection(prompt string) string {
	for _, kw := range sectionKeywords {
		if kw.pattern.MatchString(prompt) {
			return kw.section
		}
	}
	return ""
}

// DeriveRequirementDefinitions flattens a requirements artifact into
// id-addressable definitions: one per narrative question plus synthetic
// entries for attachment, eligibility, rubric and disallowed-cost lines
func DeriveRequirementDefinitions(artifact *models.RequirementsArtifact) []models.RequirementDefinition {
	if artifact == nil {
		return nil
	}

	defs := make([]models.RequirementDefinition, 0,
		len(artifact.Questions)+len(artifact.Attachments)+len(artifact.Eligibility)+
			len(artifact.Rubric)+len(artifact.DisallowedCosts))

	for i, q := range artifact.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			id = fmt.Sprintf("Q%d", i+1)
		}
		expected := q.ExpectedSection
		if expected == "" {
			expected = inferExpectedSection(q.Prompt)
		}
		defs = append(defs, models.RequirementDefinition{
			ID:              id,
			Kind:            models.RequirementNarrative,
			Text:            q.Prompt,
			WordLimit:       q.WordLimit,
			ExpectedSection: expected,
		})
	}

	synthetic := []struct {
		prefix string
		kind   models.RequirementKind
		lines  []string
	}{
		{"A", models.RequirementAttachment, artifact.Attachments},
		{"E", models.RequirementEligibility, artifact.Eligibility},
		{"R", models.RequirementRubric, artifact.Rubric},
		{"D", models.RequirementDisallowedCost, artifact.DisallowedCosts},
	}
	for _, group := range synthetic {
		for i, line := range group.lines {
			defs = append(defs, models.RequirementDefinition{
				ID:   fmt.Sprintf("%s%d", group.prefix, i+1),
				Kind: group.kind,
				Text: line,
			})
		}
	}

	return defs
}
