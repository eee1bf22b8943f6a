package service

import (
	"strings"
	"testing"

	"grantdraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// substantiveDraft builds a section that clears the substantive floor:
// two paragraphs, well over eighty words, each carrying a citation
func substantiveDraft(sectionKey, docID string) models.DraftArtifact {
	para := func(text string, page int) models.Paragraph {
		return models.Paragraph{
			Text:       text,
			Confidence: 0.9,
			Citations:  []models.Citation{{DocID: docID, Page: page, Snippet: "snippet"}},
		}
	}
	long := strings.Repeat("Families across the county face persistent food insecurity and rising costs. ", 5)
	return models.DraftArtifact{
		SectionKey: sectionKey,
		Paragraphs: []models.Paragraph{
			para(long, 1),
			para(long, 2),
		},
	}
}

func thinDraft(sectionKey string) models.DraftArtifact {
	return models.DraftArtifact{
		SectionKey: sectionKey,
		Paragraphs: []models.Paragraph{
			{Text: "Too short.", Confidence: 0.9},
		},
	}
}

func requirementsFixture() *models.RequirementsArtifact {
	return &models.RequirementsArtifact{
		Questions: []models.NarrativeQuestion{
			{ID: "Q1", Prompt: "Describe the need your project addresses.", ExpectedSection: "Need Statement"},
		},
		Attachments: []string{"Letters of support"},
	}
}

func coverageByID(items []models.CoverageItem) map[string]models.CoverageItem {
	m := make(map[string]models.CoverageItem, len(items))
	for _, item := range items {
		m[item.RequirementID] = item
	}
	return m
}

func TestReconcileCoverageMetForSubstantiveCitedSection(t *testing.T) {
	drafts := []models.DraftArtifact{substantiveDraft("Need Statement", "impact.txt")}

	items := ReconcileCoverage(requirementsFixture(), nil, drafts)
	byID := coverageByID(items)

	q1 := byID["Q1"]
	assert.Equal(t, models.CoverageMet, q1.Status)
	assert.Contains(t, q1.EvidenceRefs, "section:Need Statement")
	assert.Contains(t, q1.EvidenceRefs, "impact.txt#p1")
}

func TestReconcileCoverageUncitedSectionIsPartial(t *testing.T) {
	draft := substantiveDraft("Need Statement", "impact.txt")
	for i := range draft.Paragraphs {
		draft.Paragraphs[i].Citations = nil
	}

	items := ReconcileCoverage(requirementsFixture(), nil, []models.DraftArtifact{draft})
	q1 := coverageByID(items)["Q1"]
	assert.Equal(t, models.CoveragePartial, q1.Status)
	assert.Contains(t, q1.Notes, "no citations")
}

func TestReconcileCoverageWordLimitExceededIsPartial(t *testing.T) {
	artifact := requirementsFixture()
	artifact.Questions[0].WordLimit = 50

	items := ReconcileCoverage(artifact, nil, []models.DraftArtifact{substantiveDraft("Need Statement", "impact.txt")})
	q1 := coverageByID(items)["Q1"]
	assert.Equal(t, models.CoveragePartial, q1.Status)
	assert.Contains(t, q1.Notes, "word limit")
}

func TestReconcileCoverageThinSectionIsMissing(t *testing.T) {
	items := ReconcileCoverage(requirementsFixture(), nil, []models.DraftArtifact{thinDraft("Need Statement")})
	q1 := coverageByID(items)["Q1"]
	assert.Equal(t, models.CoverageMissing, q1.Status)
	assert.Contains(t, q1.Notes, "not substantive")
}

func TestReconcileCoverageTokenOverlapWithoutExpectedSection(t *testing.T) {
	artifact := &models.RequirementsArtifact{
		Rubric: []string{"Applicant demonstrates measurable community impact outcomes"},
	}

	draft := models.DraftArtifact{
		SectionKey: "Project Description",
		Paragraphs: []models.Paragraph{
			{
				Text:       "Our applicant organization demonstrates measurable community impact outcomes through quarterly reporting.",
				Confidence: 0.9,
				Citations:  []models.Citation{{DocID: "impact.txt", Page: 1}},
			},
		},
	}

	items := ReconcileCoverage(artifact, nil, []models.DraftArtifact{draft})
	r1 := coverageByID(items)["R1"]
	assert.Equal(t, models.CoverageMet, r1.Status)
	assert.Contains(t, r1.EvidenceRefs, "section:Project Description")
}

func TestReconcileCoverageNoMatchIsMissing(t *testing.T) {
	artifact := &models.RequirementsArtifact{
		Rubric: []string{"Audited financial statements demonstrate fiscal controls"},
	}

	draft := models.DraftArtifact{
		SectionKey: "Project Description",
		Paragraphs: []models.Paragraph{
			{Text: "Volunteers deliver groceries weekly.", Confidence: 0.9},
		},
	}

	items := ReconcileCoverage(artifact, nil, []models.DraftArtifact{draft})
	r1 := coverageByID(items)["R1"]
	assert.Equal(t, models.CoverageMissing, r1.Status)
	assert.Empty(t, r1.EvidenceRefs)
}

func TestReconcileCoverageNeverDowngrades(t *testing.T) {
	// External says met, inference finds nothing: met wins
	external := []models.CoverageItem{
		{RequirementID: "Q1", Status: models.CoverageMet, Notes: "Reviewer confirmed", EvidenceRefs: []string{"impact.txt#p1"}},
	}

	items := ReconcileCoverage(requirementsFixture(), external, nil)
	q1 := coverageByID(items)["Q1"]
	assert.Equal(t, models.CoverageMet, q1.Status)
	assert.Equal(t, "Reviewer confirmed", q1.Notes)

	// Inference says met, external says missing: met wins and carries
	// the inferred evidence
	external = []models.CoverageItem{
		{RequirementID: "Q1", Status: models.CoverageMissing},
	}
	items = ReconcileCoverage(requirementsFixture(), external, []models.DraftArtifact{substantiveDraft("Need Statement", "impact.txt")})
	q1 = coverageByID(items)["Q1"]
	assert.Equal(t, models.CoverageMet, q1.Status)
	assert.Contains(t, q1.EvidenceRefs, "section:Need Statement")
}

func TestReconcileCoverageAttachmentDowngrade(t *testing.T) {
	// "met" from narrative-only evidence cannot certify an attachment
	external := []models.CoverageItem{
		{RequirementID: "A1", Status: models.CoverageMet, EvidenceRefs: []string{"budget.pdf#p2"}},
	}

	items := ReconcileCoverage(requirementsFixture(), external, nil)
	a1 := coverageByID(items)["A1"]
	assert.Equal(t, models.CoveragePartial, a1.Status)
	assert.Contains(t, a1.Notes, "Downgraded")

	// No evidence at all goes to missing
	external = []models.CoverageItem{
		{RequirementID: "A1", Status: models.CoverageMet},
	}
	items = ReconcileCoverage(requirementsFixture(), external, nil)
	a1 = coverageByID(items)["A1"]
	assert.Equal(t, models.CoverageMissing, a1.Status)
}

func TestReconcileCoverageAttachmentEvidenceAccepted(t *testing.T) {
	cases := []struct {
		name string
		refs []string
	}{
		{"named attachment", []string{"attachment_3_letters.pdf#p1"}},
		{"appendix", []string{"appendix-b.pdf#p1"}},
		{"token overlap", []string{"letters_of_support.pdf#p1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			external := []models.CoverageItem{
				{RequirementID: "A1", Status: models.CoverageMet, EvidenceRefs: tc.refs},
			}
			items := ReconcileCoverage(requirementsFixture(), external, nil)
			assert.Equal(t, models.CoverageMet, coverageByID(items)["A1"].Status)
		})
	}
}

func TestReconcileCoveragePassesThroughUnknownExternalItems(t *testing.T) {
	external := []models.CoverageItem{
		{RequirementID: "X9", Status: models.CoveragePartial, Notes: "External only"},
		{RequirementID: "X9", Status: models.CoverageMet}, // duplicate, dropped
	}

	items := ReconcileCoverage(requirementsFixture(), external, nil)
	byID := coverageByID(items)

	var x9Count int
	for _, item := range items {
		if item.RequirementID == "X9" {
			x9Count++
		}
	}
	assert.Equal(t, 1, x9Count)
	assert.Equal(t, models.CoveragePartial, byID["X9"].Status)
	assert.NotNil(t, byID["X9"].EvidenceRefs)
}

func TestReconcileCoverageMatchesAlternateIDs(t *testing.T) {
	// The external classifier tracks Q1 under its own id and reports the
	// definition's id through original_id
	external := []models.CoverageItem{
		{
			RequirementID: "int-007",
			OriginalID:    "Q1",
			Status:        models.CoverageMet,
			Notes:         "Tracked under classifier id",
			EvidenceRefs:  []string{"impact.txt#p1"},
		},
	}

	items := ReconcileCoverage(requirementsFixture(), external, nil)
	byID := coverageByID(items)

	q1, ok := byID["Q1"]
	require.True(t, ok)
	assert.Equal(t, models.CoverageMet, q1.Status)
	assert.Equal(t, "Tracked under classifier id", q1.Notes)
	assert.Contains(t, q1.EvidenceRefs, "impact.txt#p1")

	_, passedThrough := byID["int-007"]
	assert.False(t, passedThrough, "an item merged through its alternate id is not a pass-through row")
	assert.Len(t, items, 2) // Q1 and the A1 attachment, nothing duplicated

	// internal_id works the same way
	external = []models.CoverageItem{
		{RequirementID: "trk-99", InternalID: "Q1", Status: models.CoveragePartial, Notes: "Internal tracker"},
	}
	items = ReconcileCoverage(requirementsFixture(), external, nil)
	q1 = coverageByID(items)["Q1"]
	assert.Equal(t, models.CoveragePartial, q1.Status)
	assert.Equal(t, "Internal tracker", q1.Notes)
}

func TestReconcileCoverageRequirementIDWinsOverAlternateID(t *testing.T) {
	external := []models.CoverageItem{
		{RequirementID: "int-007", OriginalID: "Q1", Status: models.CoverageMet, Notes: "Alternate"},
		{RequirementID: "Q1", Status: models.CoveragePartial, Notes: "Direct"},
	}

	items := ReconcileCoverage(requirementsFixture(), external, nil)
	byID := coverageByID(items)

	assert.Equal(t, models.CoveragePartial, byID["Q1"].Status)
	assert.Equal(t, "Direct", byID["Q1"].Notes)

	// The alternate-id item still resolved to a known definition, so it
	// never becomes an unknown-requirement row
	_, passedThrough := byID["int-007"]
	assert.False(t, passedThrough)
}

func TestReconcileCoverageEveryDefinitionGetsAnItem(t *testing.T) {
	artifact := &models.RequirementsArtifact{
		Questions:       []models.NarrativeQuestion{{ID: "Q1", Prompt: "Describe the need."}},
		Attachments:     []string{"Letters of support"},
		Eligibility:     []string{"501(c)(3) status"},
		Rubric:          []string{"Clear outcomes"},
		DisallowedCosts: []string{"Capital construction"},
	}

	items := ReconcileCoverage(artifact, nil, nil)
	byID := coverageByID(items)
	require.Len(t, items, 5)
	for _, id := range []string{"Q1", "A1", "E1", "R1", "D1"} {
		item, ok := byID[id]
		require.True(t, ok, "missing item for %s", id)
		assert.Equal(t, models.CoverageMissing, item.Status)
		assert.NotEmpty(t, item.Notes)
		assert.NotNil(t, item.EvidenceRefs)
	}
}

func TestMaxCoverageStatusTotalOrder(t *testing.T) {
	assert.Equal(t, models.CoverageMet, models.MaxCoverageStatus(models.CoverageMet, models.CoveragePartial))
	assert.Equal(t, models.CoverageMet, models.MaxCoverageStatus(models.CoverageMissing, models.CoverageMet))
	assert.Equal(t, models.CoveragePartial, models.MaxCoverageStatus(models.CoveragePartial, models.CoverageMissing))
	assert.Equal(t, models.CoveragePartial, models.MaxCoverageStatus(models.CoverageStatus("bogus"), models.CoveragePartial))
}
