package service

import (
	"fmt"
	"regexp"
	"strings"

	"grantdraft-backend/models"
)

// Token-overlap thresholds for requirements with no natural section
const (
	overlapMetThreshold     = 0.2
	overlapPartialThreshold = 0.08
)

// Substantive-section floor: a section this thin cannot certify a
// narrative requirement
const (
	substantiveMinParagraphs = 2
	substantiveMinWords      = 80
)

var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "are": true, "was": true, "will": true, "has": true,
	"have": true, "must": true, "all": true, "any": true, "your": true,
	"you": true, "our": true, "its": true, "their": true, "from": true,
	"not": true, "can": true, "may": true, "shall": true, "should": true,
	"than": true, "each": true, "per": true, "into": true, "such": true,
	"other": true, "been": true, "being": true, "which": true, "what": true,
	"how": true, "who": true, "when": true, "where": true, "why": true,
	"does": true, "describe": true, "please": true, "provide": true,
	"include": true,
}

// tokenize lowercases, strips punctuation and drops stopwords
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range tokenSplitPattern.Split(strings.ToLower(text), -1) {
		if len(t) < 2 || stopwords[t] {
			continue
		}
		tokens[t] = true
	}
	return tokens
}

// tokenOverlap returns |a ∩ b| / |a|
func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	var hits int
	for t := range a {
		if b[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

// sectionStats is computed once per draft section and reused across
// every requirement
type sectionStats struct {
	draft       *models.DraftArtifact
	words       int
	citations   int
	paragraphs  int // non-empty paragraph count
	substantive bool
	titleKey    string
	order       int
}

func computeSectionStats(drafts []models.DraftArtifact) []sectionStats {
	stats := make([]sectionStats, 0, len(drafts))
	for i := range drafts {
		d := &drafts[i]
		s := sectionStats{draft: d, titleKey: normalizeDocKey(d.SectionKey), order: i}
		for _, p := range d.Paragraphs {
			if strings.TrimSpace(p.Text) == "" {
				continue
			}
			s.paragraphs++
			s.words += len(strings.Fields(p.Text))
			s.citations += len(p.Citations)
		}
		s.substantive = s.paragraphs >= substantiveMinParagraphs && s.words >= substantiveMinWords
		stats = append(stats, s)
	}
	return stats
}

// findExpectedSection locates the draft section a requirement expects:
// exact normalized-title match first, then containment either way.
// Candidate ties break by substantiveness, citation count, word count,
// then section order.
func findExpectedSection(expected string, sections []sectionStats) *sectionStats {
	want := normalizeDocKey(expected)
	if want == "" {
		return nil
	}

	var candidates []*sectionStats
	for i := range sections {
		if sections[i].titleKey == want {
			candidates = append(candidates, &sections[i])
		}
	}
	if len(candidates) == 0 {
		for i := range sections {
			key := sections[i].titleKey
			if key == "" {
				continue
			}
			if strings.Contains(key, want) || strings.Contains(want, key) {
				candidates = append(candidates, &sections[i])
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if betterSection(c, best) {
			best = c
		}
	}
	return best
}

func betterSection(a, b *sectionStats) bool {
	if a.substantive != b.substantive {
		return a.substantive
	}
	if a.citations != b.citations {
		return a.citations > b.citations
	}
	if a.words != b.words {
		return a.words > b.words
	}
	return false
}

// evidenceRef renders a citation as a stable evidence reference string
func evidenceRef(docID string, page int) string {
	return fmt.Sprintf("%s#p%d", docID, page)
}

// evidenceRefDoc recovers the document part of an evidence reference
func evidenceRefDoc(ref string) string {
	if i := strings.LastIndex(ref, "#p"); i > 0 {
		return ref[:i]
	}
	return ref
}

func sectionEvidenceRefs(s *sectionStats) []string {
	refs := []string{"section:" + s.draft.SectionKey}
	seen := make(map[string]bool)
	for _, p := range s.draft.Paragraphs {
		for _, c := range p.Citations {
			ref := evidenceRef(c.DocID, c.Page)
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// inferCoverage derives a coverage judgment for one requirement from
// the grounded drafts alone
func inferCoverage(def models.RequirementDefinition, sections []sectionStats) models.CoverageItem {
	item := models.CoverageItem{
		RequirementID: def.ID,
		Status:        models.CoverageMissing,
		EvidenceRefs:  []string{},
	}

	if def.ExpectedSection != "" {
		section := findExpectedSection(def.ExpectedSection, sections)
		if section == nil || !section.substantive {
			item.Notes = fmt.Sprintf("Expected section %q is absent or not substantive", def.ExpectedSection)
			return item
		}

		withinLimit := def.WordLimit == 0 || section.words <= def.WordLimit
		if section.citations >= 1 && withinLimit {
			item.Status = models.CoverageMet
			item.Notes = fmt.Sprintf("Expected section %q is drafted with %d citations across %d words",
				def.ExpectedSection, section.citations, section.words)
		} else {
			item.Status = models.CoveragePartial
			switch {
			case section.citations < 1:
				item.Notes = fmt.Sprintf("Expected section %q is drafted but carries no citations", def.ExpectedSection)
			default:
				item.Notes = fmt.Sprintf("Expected section %q exceeds the %d-word limit (%d words)",
					def.ExpectedSection, def.WordLimit, section.words)
			}
		}
		item.EvidenceRefs = sectionEvidenceRefs(section)
		return item
	}

	// No natural section: token-overlap match against every paragraph
	reqTokens := tokenize(def.Text)
	var bestOverlap float64
	var bestPara *models.Paragraph
	var bestSection *sectionStats
	for i := range sections {
		for j := range sections[i].draft.Paragraphs {
			p := &sections[i].draft.Paragraphs[j]
			overlap := tokenOverlap(reqTokens, tokenize(p.Text))
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestPara = p
				bestSection = &sections[i]
			}
		}
	}

	switch {
	case bestPara != nil && bestOverlap >= overlapMetThreshold && len(bestPara.Citations) >= 1:
		item.Status = models.CoverageMet
	case bestPara != nil && bestOverlap >= overlapPartialThreshold:
		item.Status = models.CoveragePartial
	default:
		item.Notes = "No draft content matches this requirement"
		return item
	}

	item.Notes = fmt.Sprintf("Matched draft content in section %q with %.0f%% token overlap",
		bestSection.draft.SectionKey, bestOverlap*100)
	item.EvidenceRefs = append(item.EvidenceRefs, "section:"+bestSection.draft.SectionKey)
	for _, c := range bestPara.Citations {
		item.EvidenceRefs = append(item.EvidenceRefs, evidenceRef(c.DocID, c.Page))
	}
	return item
}

// ReconcileCoverage merges an externally supplied coverage judgment
// with one inferred from the grounded drafts and produces the
// authoritative per-requirement list. Reconciliation only ever moves a
// status up under missing < partial < met; the single exception is the
// attachment-evidence rule, which can downgrade a "met" that rests on
// narrative-only citations.
func ReconcileCoverage(
	artifact *models.RequirementsArtifact,
	external []models.CoverageItem,
	drafts []models.DraftArtifact,
) []models.CoverageItem {
	defs := DeriveRequirementDefinitions(artifact)
	sections := computeSectionStats(drafts)

	// External items are looked up by requirement id first, then by the
	// alternate provenance ids some classifiers report under
	externalByID := make(map[string]models.CoverageItem, len(external))
	externalByAltID := make(map[string]models.CoverageItem)
	for _, item := range external {
		if _, ok := externalByID[item.RequirementID]; !ok {
			externalByID[item.RequirementID] = item
		}
		for _, alt := range []string{item.InternalID, item.OriginalID} {
			if alt == "" {
				continue
			}
			if _, ok := externalByAltID[alt]; !ok {
				externalByAltID[alt] = item
			}
		}
	}

	known := make(map[string]bool, len(defs))
	result := make([]models.CoverageItem, 0, len(defs))

	for _, def := range defs {
		known[def.ID] = true

		inferred := inferCoverage(def, sections)
		ext, hasExt := externalByID[def.ID]
		if !hasExt {
			ext, hasExt = externalByAltID[def.ID]
		}
		if !hasExt {
			ext = models.CoverageItem{RequirementID: def.ID, Status: models.CoverageMissing}
		}

		final := models.CoverageItem{
			RequirementID: def.ID,
			Status:        models.MaxCoverageStatus(ext.Status, inferred.Status),
			EvidenceRefs:  []string{},
		}

		// Notes and evidence follow whichever source won the merge
		if inferred.Status.Rank() > ext.Status.Rank() {
			final.Notes = inferred.Notes
			final.EvidenceRefs = inferred.EvidenceRefs
		} else {
			final.Notes = ext.Notes
			final.EvidenceRefs = ext.EvidenceRefs
			if final.Notes == "" {
				final.Notes = inferred.Notes
			}
			if len(final.EvidenceRefs) == 0 {
				final.EvidenceRefs = inferred.EvidenceRefs
			}
		}
		if final.Status == models.CoverageMissing && final.Notes == "" {
			final.Notes = "No coverage found for this requirement"
		}
		if final.EvidenceRefs == nil {
			final.EvidenceRefs = []string{}
		}

		if def.Kind == models.RequirementAttachment && final.Status == models.CoverageMet {
			final = enforceAttachmentEvidence(def, final)
		}

		result = append(result, final)
	}

	// External judgments for requirements we have no definition for
	// pass through unchanged, deduplicated by id. An item whose
	// requirement id or alternate id matched a definition was merged
	// above and is not a pass-through.
	seen := make(map[string]bool)
	for _, item := range external {
		if known[item.RequirementID] || known[item.InternalID] || known[item.OriginalID] || seen[item.RequirementID] {
			continue
		}
		seen[item.RequirementID] = true
		if item.EvidenceRefs == nil {
			item.EvidenceRefs = []string{}
		}
		result = append(result, item)
	}

	return result
}

var attachmentNumberPattern = regexp.MustCompile(`\d+`)

// enforceAttachmentEvidence downgrades an attachment requirement whose
// "met" rests entirely on narrative evidence: at least one evidence
// reference must name an attachment/appendix, carry the attachment's
// own number, or lexically overlap the requirement text
func enforceAttachmentEvidence(def models.RequirementDefinition, item models.CoverageItem) models.CoverageItem {
	num := attachmentNumberPattern.FindString(def.ID)
	reqTokens := tokenize(def.Text)

	for _, ref := range item.EvidenceRefs {
		lower := strings.ToLower(ref)
		if strings.Contains(lower, "attachment") || strings.Contains(lower, "appendix") {
			return item
		}
		if num != "" && strings.Contains(evidenceRefDoc(lower), num) {
			return item
		}
		refTokens := tokenize(evidenceRefDoc(ref))
		if len(refTokens) > 0 && tokenOverlap(refTokens, reqTokens) >= 0.5 {
			return item
		}
	}

	if len(item.EvidenceRefs) > 0 {
		item.Status = models.CoveragePartial
		item.Notes = "Downgraded from met: evidence does not reference an attachment; narrative citations cannot certify attachment requirements"
	} else {
		item.Status = models.CoverageMissing
		item.Notes = "Downgraded from met: no attachment-grounded evidence was found"
	}
	return item
}
