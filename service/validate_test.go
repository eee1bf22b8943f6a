package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"grantdraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDraftStrictPass(t *testing.T) {
	payload := map[string]interface{}{
		"section_key": "need_statement",
		"paragraphs": []interface{}{
			map[string]interface{}{
				"text":       "We served 500 families.",
				"confidence": 0.9,
				"citations": []interface{}{
					map[string]interface{}{"doc_id": "impact.txt", "page": float64(1), "snippet": "served 500 families"},
				},
			},
		},
		"missing_evidence": []interface{}{
			map[string]interface{}{"claim": "Audited financials", "suggested_upload": "Most recent audit"},
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindDraft, payload)
	require.NotNil(t, validated)
	assert.False(t, repaired)
	assert.Empty(t, errs)

	draft, ok := validated.(*models.DraftArtifact)
	require.True(t, ok)
	assert.Equal(t, "need_statement", draft.SectionKey)
	require.Len(t, draft.Paragraphs, 1)
	assert.Equal(t, 1, draft.Paragraphs[0].Citations[0].Page)
	require.Len(t, draft.MissingEvidence, 1)
}

func TestValidateDraftRepairsMalformedEntries(t *testing.T) {
	payload := map[string]interface{}{
		"section_key": "budget_narrative",
		"paragraphs": []interface{}{
			map[string]interface{}{
				"text":       "The budget totals $120,000.",
				"confidence": 1.7, // out of range, clamped in repair
				"citations": []interface{}{
					map[string]interface{}{"doc_id": "budget.pdf", "page": float64(0)}, // page < 1, floored in repair
					map[string]interface{}{"page": float64(2)},                         // no doc_id, dropped
				},
			},
			"not an object", // dropped
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindDraft, payload)
	require.NotNil(t, validated)
	assert.True(t, repaired)
	assert.NotEmpty(t, errs)

	draft := validated.(*models.DraftArtifact)
	require.Len(t, draft.Paragraphs, 1)
	assert.Equal(t, 1.0, draft.Paragraphs[0].Confidence)
	require.Len(t, draft.Paragraphs[0].Citations, 1)
	assert.Equal(t, 1, draft.Paragraphs[0].Citations[0].Page)
}

func TestValidateDraftRepairAccumulatesBothPhases(t *testing.T) {
	payload := map[string]interface{}{
		"paragraphs": []interface{}{
			map[string]interface{}{"confidence": 0.5}, // no text at all
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindDraft, payload)
	require.NotNil(t, validated)
	assert.True(t, repaired)

	joined := strings.Join(errs, "; ")
	assert.Contains(t, joined, "section_key")
	assert.Contains(t, joined, "text")
}

func TestValidateDraftEmptyPayloadGetsSyntheticMissingEvidence(t *testing.T) {
	validated, repaired, _ := ValidateWithRepair(KindDraft, map[string]interface{}{})
	require.NotNil(t, validated)
	assert.True(t, repaired)

	draft := validated.(*models.DraftArtifact)
	assert.Equal(t, "unknown", draft.SectionKey)
	assert.Empty(t, draft.Paragraphs)
	require.Len(t, draft.MissingEvidence, 1)
	assert.Contains(t, draft.MissingEvidence[0].Claim, "unknown")
}

func TestValidateDraftSnippetTruncated(t *testing.T) {
	long := strings.Repeat("x", models.MaxSnippetLen+50)
	payload := map[string]interface{}{
		"section_key": "need_statement",
		"paragraphs": []interface{}{
			map[string]interface{}{
				"text":       "Claim.",
				"confidence": 0.8,
				"citations": []interface{}{
					map[string]interface{}{"doc_id": "impact.txt", "page": float64(1), "snippet": long},
				},
			},
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindDraft, payload)
	require.NotNil(t, validated)
	assert.True(t, repaired)
	assert.NotEmpty(t, errs)

	draft := validated.(*models.DraftArtifact)
	assert.Len(t, draft.Paragraphs[0].Citations[0].Snippet, models.MaxSnippetLen)
}

func TestValidateDraftSnippetTruncationStaysValidUTF8(t *testing.T) {
	// The byte limit falls mid-rune; truncation must not split it
	long := "a" + strings.Repeat("€", 100)
	payload := map[string]interface{}{
		"section_key": "need_statement",
		"paragraphs": []interface{}{
			map[string]interface{}{
				"text":       "Claim.",
				"confidence": 0.8,
				"citations": []interface{}{
					map[string]interface{}{"doc_id": "impact.txt", "page": float64(1), "snippet": long},
				},
			},
		},
	}

	validated, _, _ := ValidateWithRepair(KindDraft, payload)
	require.NotNil(t, validated)

	snippet := validated.(*models.DraftArtifact).Paragraphs[0].Citations[0].Snippet
	assert.True(t, utf8.ValidString(snippet))
	assert.LessOrEqual(t, len(snippet), models.MaxSnippetLen)
}

func TestValidateRequirementsStrictPass(t *testing.T) {
	payload := map[string]interface{}{
		"questions": []interface{}{
			map[string]interface{}{
				"id":               "Q1",
				"prompt":           "Describe the need your project addresses.",
				"word_limit":       float64(500),
				"expected_section": "Need Statement",
			},
		},
		"attachments": []interface{}{"Letters of support"},
		"eligibility": []interface{}{"501(c)(3) status"},
	}

	validated, repaired, errs := ValidateWithRepair(KindRequirements, payload)
	require.NotNil(t, validated)
	assert.False(t, repaired)
	assert.Empty(t, errs)

	reqs := validated.(*models.RequirementsArtifact)
	require.Len(t, reqs.Questions, 1)
	assert.Equal(t, 500, reqs.Questions[0].WordLimit)
	assert.Len(t, reqs.Attachments, 1)
	assert.Empty(t, reqs.Rubric)
}

func TestValidateRequirementsRepairFillsIDsAndDropsEmptyPrompts(t *testing.T) {
	payload := map[string]interface{}{
		"questions": []interface{}{
			map[string]interface{}{"prompt": "Describe your evaluation plan."},
			map[string]interface{}{"prompt": "   "},
		},
		"attachments": []interface{}{"Budget spreadsheet", float64(42), ""},
	}

	validated, repaired, errs := ValidateWithRepair(KindRequirements, payload)
	require.NotNil(t, validated)
	assert.True(t, repaired)
	assert.NotEmpty(t, errs)

	reqs := validated.(*models.RequirementsArtifact)
	require.Len(t, reqs.Questions, 1)
	assert.Equal(t, "Q1", reqs.Questions[0].ID)
	assert.Equal(t, []string{"Budget spreadsheet", "42"}, reqs.Attachments)
}

func TestValidateCoverageStrictPass(t *testing.T) {
	payload := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{
				"requirement_id": "Q1",
				"status":         "met",
				"notes":          "Covered by Need Statement",
				"evidence_refs":  []interface{}{"impact.txt#p1"},
			},
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindCoverage, payload)
	require.NotNil(t, validated)
	assert.False(t, repaired)
	assert.Empty(t, errs)

	items := validated.([]models.CoverageItem)
	require.Len(t, items, 1)
	assert.Equal(t, models.CoverageMet, items[0].Status)
	assert.Equal(t, []string{"impact.txt#p1"}, items[0].EvidenceRefs)
}

func TestValidateCoverageParsesAlternateIDs(t *testing.T) {
	payload := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{
				"requirement_id": "int-007",
				"internal_id":    "trk-99",
				"original_id":    "Q1",
				"status":         "met",
			},
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindCoverage, payload)
	require.NotNil(t, validated)
	assert.False(t, repaired)
	assert.Empty(t, errs)

	items := validated.([]models.CoverageItem)
	require.Len(t, items, 1)
	assert.Equal(t, "int-007", items[0].RequirementID)
	assert.Equal(t, "trk-99", items[0].InternalID)
	assert.Equal(t, "Q1", items[0].OriginalID)
}

func TestValidateCoverageRepairsUnknownStatus(t *testing.T) {
	payload := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"requirement_id": "Q1", "status": "done"},
			map[string]interface{}{"status": "met"}, // no requirement_id, dropped
		},
	}

	validated, repaired, errs := ValidateWithRepair(KindCoverage, payload)
	require.NotNil(t, validated)
	assert.True(t, repaired)
	assert.NotEmpty(t, errs)

	items := validated.([]models.CoverageItem)
	require.Len(t, items, 1)
	assert.Equal(t, models.CoverageMissing, items[0].Status)
}

func TestValidateCoverageMissingItemsList(t *testing.T) {
	validated, repaired, errs := ValidateWithRepair(KindCoverage, map[string]interface{}{})
	require.NotNil(t, validated)
	assert.True(t, repaired)
	assert.NotEmpty(t, errs)
	assert.Empty(t, validated.([]models.CoverageItem))
}

func TestValidateUnknownKindIsNil(t *testing.T) {
	validated, _, errs := ValidateWithRepair(PayloadKind("mystery"), map[string]interface{}{})
	assert.Nil(t, validated)
	assert.NotEmpty(t, errs)
}

func TestValidateRepairIsMonotonic(t *testing.T) {
	// Anything that passes strict validation round-trips through repair
	// mode unchanged
	payload := map[string]interface{}{
		"section_key": "sustainability",
		"paragraphs": []interface{}{
			map[string]interface{}{
				"text":       "Funding continues through county contracts.",
				"confidence": 0.75,
				"citations": []interface{}{
					map[string]interface{}{"doc_id": "contract.pdf", "page": float64(2), "snippet": "county contracts"},
				},
			},
		},
	}

	strict, _ := parseDraft(payload, true)
	relaxed, _ := parseDraft(payload, false)
	assert.Equal(t, strict, relaxed)
}
