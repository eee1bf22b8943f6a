package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"grantdraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evidencePool() []models.RankedChunk {
	return []models.RankedChunk{
		{
			DocumentID: "impact.txt",
			FileName:   "impact.txt",
			Page:       1,
			Text:       "Our program served 500 families across three counties in 2024, with 92% reporting improved food security.",
			Score:      0.91,
		},
		{
			DocumentID: "budget.pdf",
			FileName:   "budget.pdf",
			Page:       3,
			Text:       "Total project costs are $120,000, of which $45,000 covers personnel and $20,000 covers direct client services.",
			Score:      0.74,
		},
	}
}

func TestGroundDraftParsesInlineCitations(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:       "We served 500 families last year (doc_id: impact.txt, page: 1) and demand keeps growing.",
				Confidence: 0.9,
			},
		},
	}

	grounded, stats := GroundDraft(draft, evidencePool())
	require.Len(t, grounded.Paragraphs, 1)

	para := grounded.Paragraphs[0]
	assert.Equal(t, "We served 500 families last year and demand keeps growing.", para.Text)
	require.Len(t, para.Citations, 1)
	assert.Equal(t, "impact.txt", para.Citations[0].DocID)
	assert.Equal(t, 1, para.Citations[0].Page)
	assert.False(t, para.Unsupported)

	assert.Equal(t, 1, stats.InlineCitationsParsed)
	assert.Equal(t, 1, stats.CitationsAfter)
	assert.Zero(t, stats.FallbackCitationsAdded)
}

func TestGroundDraftMatchesByNormalizedDocKey(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "budget_narrative",
		Paragraphs: []models.Paragraph{
			{
				Text:       "The total budget is $120,000.",
				Confidence: 0.8,
				Citations: []models.Citation{
					// Path, casing and extension differ from the evidence pool
					{DocID: "uploads/Budget.PDF", Page: 3},
				},
			},
		},
	}

	grounded, _ := GroundDraft(draft, evidencePool())
	require.Len(t, grounded.Paragraphs[0].Citations, 1)
	assert.Equal(t, "budget.pdf", grounded.Paragraphs[0].Citations[0].DocID)
	assert.False(t, grounded.Paragraphs[0].Unsupported)
}

func TestGroundDraftDropsUnverifiableCitationWithoutFallback(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:       "A claim citing a document nobody uploaded.",
				Confidence: 0.9,
				Citations: []models.Citation{
					{DocID: "phantom.docx", Page: 99, Snippet: "made up"},
				},
			},
		},
	}

	grounded, stats := GroundDraft(draft, evidencePool())
	para := grounded.Paragraphs[0]

	// Rejected candidates never earn the fallback citation
	assert.Empty(t, para.Citations)
	assert.True(t, para.Unsupported)
	assert.Equal(t, 1, stats.CitationsDropped)
	assert.Zero(t, stats.FallbackCitationsAdded)
}

func TestGroundDraftFallbackOnlyWhenUncited(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{Text: "A paragraph the generator left entirely uncited.", Confidence: 0.7},
		},
	}

	grounded, stats := GroundDraft(draft, evidencePool())
	para := grounded.Paragraphs[0]

	require.Len(t, para.Citations, 1)
	assert.Equal(t, "impact.txt", para.Citations[0].DocID, "fallback must come from the top-ranked chunk")
	assert.Equal(t, 1, stats.FallbackCitationsAdded)
	assert.False(t, para.Unsupported)
}

func TestGroundDraftReplacesUnverifiedSnippet(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:       "Families served.",
				Confidence: 0.9,
				Citations: []models.Citation{
					{DocID: "impact.txt", Page: 1, Snippet: "text that does not appear in the chunk"},
				},
			},
		},
	}

	grounded, _ := GroundDraft(draft, evidencePool())
	cit := grounded.Paragraphs[0].Citations[0]
	assert.True(t, strings.HasPrefix(evidencePool()[0].Text, cit.Snippet))
	assert.LessOrEqual(t, len(cit.Snippet), models.MaxSnippetLen)
}

func TestGroundDraftDeduplicatesCitations(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:       "One claim, one source, cited twice (doc_id: impact.txt, page: 1).",
				Confidence: 0.9,
				Citations: []models.Citation{
					{DocID: "impact.txt", Page: 1},
				},
			},
		},
	}

	grounded, _ := GroundDraft(draft, evidencePool())
	assert.Len(t, grounded.Paragraphs[0].Citations, 1)
}

func TestGroundDraftLowConfidenceIsUnsupported(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:       "A weakly supported claim.",
				Confidence: SupportThreshold - 0.01,
				Citations: []models.Citation{
					{DocID: "impact.txt", Page: 1},
				},
			},
		},
	}

	grounded, _ := GroundDraft(draft, evidencePool())
	para := grounded.Paragraphs[0]
	assert.Len(t, para.Citations, 1)
	assert.True(t, para.Unsupported)
}

func TestGroundDraftUnsupportedFlagIsSticky(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:        "Previously flagged claim.",
				Confidence:  0.9,
				Unsupported: true,
				Citations: []models.Citation{
					{DocID: "impact.txt", Page: 1},
				},
			},
		},
	}

	grounded, _ := GroundDraft(draft, evidencePool())
	assert.True(t, grounded.Paragraphs[0].Unsupported, "unsupported must survive re-grounding even with valid citations")
}

func TestGroundDraftIsIdempotent(t *testing.T) {
	draft := &models.DraftArtifact{
		SectionKey: "need_statement",
		Paragraphs: []models.Paragraph{
			{
				Text:       "We served 500 families (doc_id: impact.txt, page: 1).",
				Confidence: 0.9,
			},
			{
				Text:       "An uncited paragraph.",
				Confidence: 0.8,
			},
			{
				Text:       "The budget totals $120,000.",
				Confidence: 0.85,
				Citations: []models.Citation{
					{DocID: "budget.pdf", Page: 3},
				},
			},
		},
	}

	once, _ := GroundDraft(draft, evidencePool())
	twice, _ := GroundDraft(once, evidencePool())

	require.Len(t, twice.Paragraphs, len(once.Paragraphs))
	for i := range once.Paragraphs {
		assert.Equal(t, once.Paragraphs[i].Text, twice.Paragraphs[i].Text)
		assert.Equal(t, once.Paragraphs[i].Citations, twice.Paragraphs[i].Citations)
		assert.Equal(t, once.Paragraphs[i].Unsupported, twice.Paragraphs[i].Unsupported)
	}
}

func TestTruncateSnippetKeepsRuneBoundary(t *testing.T) {
	// 1 ASCII byte + 80 three-byte runes = 241 bytes; a byte-index cut at
	// 240 would land inside the final rune
	long := "a" + strings.Repeat("€", 80)
	got := truncateSnippet(long)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), models.MaxSnippetLen)
	assert.Equal(t, 238, len(got))

	short := "é stays untouched"
	assert.Equal(t, short, truncateSnippet(short))

	aligned := strings.Repeat("€", 80) // exactly 240 bytes
	assert.Equal(t, aligned, truncateSnippet(aligned))
}

func TestNormalizeDocKey(t *testing.T) {
	assert.Equal(t, "impactreport", normalizeDocKey("uploads/Impact Report.PDF"))
	assert.Equal(t, "impactreport", normalizeDocKey("impact_report"))
	assert.Equal(t, "budget2024", normalizeDocKey("Budget-2024.xlsx"))
	assert.Equal(t, "", normalizeDocKey("   "))
}
