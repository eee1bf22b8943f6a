package service

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"grantdraft-backend/models"
)

// SupportThreshold is the minimum paragraph confidence below which a
// paragraph is marked unsupported even when cited
const SupportThreshold = 0.35

// inlineCitationPattern matches citation hints generators leave in
// prose, e.g. "(doc_id: impact.txt, page: 1)" or "(source: rfp.pdf, page: 3)"
var inlineCitationPattern = regexp.MustCompile(`(?i)\(\s*(?:doc(?:_id)?|source)\s*:\s*([^,()]+?)\s*,\s*page\s*:\s*(\d+)\s*\)`)

// citationCandidate is a citation before it has been verified against
// the evidence pool
type citationCandidate struct {
	docID   string
	docKey  string
	page    int
	snippet string
	inline  bool
}

// evidenceIndex resolves citation candidates to ranked chunks
type evidenceIndex struct {
	byKeyPage map[string]models.RankedChunk
	byKey     map[string]models.RankedChunk
	byPage    map[int]models.RankedChunk
	best      *models.RankedChunk
}

func buildEvidenceIndex(evidence []models.RankedChunk) *evidenceIndex {
	idx := &evidenceIndex{
		byKeyPage: make(map[string]models.RankedChunk),
		byKey:     make(map[string]models.RankedChunk),
		byPage:    make(map[int]models.RankedChunk),
	}
	for i, chunk := range evidence {
		if i == 0 {
			c := chunk
			idx.best = &c
		}
		key := normalizeDocKey(chunk.DocumentID)
		if key == "" {
			key = normalizeDocKey(chunk.FileName)
		}
		// First (highest-ranked) chunk wins each slot
		if _, ok := idx.byKeyPage[key+"#"+strconv.Itoa(chunk.Page)]; !ok {
			idx.byKeyPage[key+"#"+strconv.Itoa(chunk.Page)] = chunk
		}
		if _, ok := idx.byKey[key]; !ok {
			idx.byKey[key] = chunk
		}
		if _, ok := idx.byPage[chunk.Page]; !ok {
			idx.byPage[chunk.Page] = chunk
		}
	}
	return idx
}

// match resolves a candidate by (doc_key, page), else doc_key alone,
// else page alone
func (idx *evidenceIndex) match(c citationCandidate) (models.RankedChunk, bool) {
	if chunk, ok := idx.byKeyPage[c.docKey+"#"+strconv.Itoa(c.page)]; ok {
		return chunk, true
	}
	if chunk, ok := idx.byKey[c.docKey]; ok {
		return chunk, true
	}
	if chunk, ok := idx.byPage[c.page]; ok {
		return chunk, true
	}
	return models.RankedChunk{}, false
}

// normalizeDocKey strips path, extension and non-alphanumerics so
// "uploads/Impact Report.PDF" and "impact_report" compare equal
func normalizeDocKey(docID string) string {
	base := filepath.Base(strings.TrimSpace(docID))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GroundDraft rewrites and verifies every paragraph's citations against
// the evidence chunks used to produce the draft. It never invents a
// citation except the single-fallback case: a paragraph the generator
// left entirely uncited receives one citation from the top-ranked
// chunk. A paragraph whose candidates were all rejected stays uncited.
func GroundDraft(draft *models.DraftArtifact, evidence []models.RankedChunk) (*models.DraftArtifact, models.GroundingStats) {
	stats := models.GroundingStats{Paragraphs: len(draft.Paragraphs)}
	idx := buildEvidenceIndex(evidence)

	grounded := &models.DraftArtifact{
		SectionKey:      draft.SectionKey,
		Paragraphs:      make([]models.Paragraph, 0, len(draft.Paragraphs)),
		MissingEvidence: draft.MissingEvidence,
	}

	for _, para := range draft.Paragraphs {
		stats.CitationsBefore += len(para.Citations)

		text, hints := extractInlineCitations(para.Text)
		stats.InlineCitationsParsed += len(hints)

		candidates := make([]citationCandidate, 0, len(para.Citations)+len(hints))
		for _, cit := range para.Citations {
			candidates = append(candidates, citationCandidate{
				docID:   strings.TrimSpace(cit.DocID),
				docKey:  normalizeDocKey(cit.DocID),
				page:    cit.Page,
				snippet: cit.Snippet,
			})
		}
		candidates = append(candidates, hints...)

		var citations []models.Citation
		seen := make(map[string]bool)
		inlineDropped := 0
		for _, cand := range candidates {
			chunk, ok := idx.match(cand)
			if !ok {
				stats.CitationsDropped++
				if cand.inline {
					inlineDropped++
				}
				continue
			}

			snippet := cand.snippet
			if snippet == "" || !strings.Contains(strings.ToLower(chunk.Text), strings.ToLower(snippet)) {
				snippet = truncateSnippet(chunk.Text)
			}

			cit := models.Citation{
				DocID:   chunk.DocumentID,
				Page:    chunk.Page,
				Snippet: snippet,
			}
			key := dedupKey(cit)
			if seen[key] {
				continue
			}
			seen[key] = true
			citations = append(citations, cit)
		}

		if len(citations) == 0 && len(candidates) == 0 && idx.best != nil {
			citations = append(citations, models.Citation{
				DocID:   idx.best.DocumentID,
				Page:    idx.best.Page,
				Snippet: truncateSnippet(idx.best.Text),
			})
			stats.FallbackCitationsAdded++
		}

		stats.CitationsAfter += len(citations)

		grounded.Paragraphs = append(grounded.Paragraphs, models.Paragraph{
			Text:        text,
			Citations:   citations,
			Confidence:  para.Confidence,
			// Sticky: a paragraph marked unsupported stays that way
			// across re-grounding runs
			Unsupported: para.Unsupported || len(citations) == 0 || para.Confidence < SupportThreshold || inlineDropped > 0,
		})
	}

	return grounded, stats
}

// extractInlineCitations parses citation hints out of paragraph text
// and returns the text with the hints stripped
func extractInlineCitations(text string) (string, []citationCandidate) {
	matches := inlineCitationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	hints := make([]citationCandidate, 0, len(matches))
	for _, m := range matches {
		page, err := strconv.Atoi(m[2])
		if err != nil || page < 1 {
			page = 1
		}
		docID := strings.TrimSpace(m[1])
		hints = append(hints, citationCandidate{
			docID:  docID,
			docKey: normalizeDocKey(docID),
			page:   page,
			inline: true,
		})
	}

	stripped := inlineCitationPattern.ReplaceAllString(text, "")
	stripped = strings.Join(strings.Fields(stripped), " ")
	return stripped, hints
}

// truncateSnippet caps a snippet at MaxSnippetLen bytes, backing the
// cut up to a rune boundary so truncation never produces invalid UTF-8
func truncateSnippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= models.MaxSnippetLen {
		return text
	}
	cut := models.MaxSnippetLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func dedupKey(c models.Citation) string {
	snippet := c.Snippet
	if len(snippet) > 60 {
		snippet = snippet[:60]
	}
	return c.DocID + "|" + strconv.Itoa(c.Page) + "|" + snippet
}
