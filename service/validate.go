package service

import (
	"fmt"
	"strconv"
	"strings"

	"grantdraft-backend/models"
)

// PayloadKind selects the schema a generated payload is validated
// against
type PayloadKind string

const (
	KindRequirements PayloadKind = "requirements"
	KindDraft        PayloadKind = "draft"
	KindCoverage     PayloadKind = "coverage"
)

const defaultConfidence = 0.5

// ValidateWithRepair applies the two-phase validation contract to an
// untrusted generated payload: strict validation first, then one
// kind-specific structural repair and a re-validation. The returned
// errors accumulate across both phases. A nil validated result is a
// hard failure the caller must surface; this function never panics on
// payload shape.
func ValidateWithRepair(kind PayloadKind, payload map[string]interface{}) (interface{}, bool, []string) {
	switch kind {
	case KindDraft:
		return validateDraftWithRepair(payload)
	case KindRequirements:
		return validateRequirementsWithRepair(payload)
	case KindCoverage:
		return validateCoverageWithRepair(payload)
	default:
		return nil, false, []string{fmt.Sprintf("unknown payload kind: %s", kind)}
	}
}

// --- draft ---

func validateDraftWithRepair(payload map[string]interface{}) (interface{}, bool, []string) {
	draft, errs := parseDraft(payload, true)
	if len(errs) == 0 {
		return draft, false, nil
	}

	repaired, repairErrs := parseDraft(payload, false)
	errs = append(errs, repairErrs...)
	if repaired == nil {
		return nil, true, errs
	}
	return repaired, true, errs
}

// parseDraft reads a draft payload. In strict mode any shape problem is
// an error; in repair mode wrong types are coerced, malformed entries
// dropped, and defaults filled.
func parseDraft(payload map[string]interface{}, strict bool) (*models.DraftArtifact, []string) {
	var errs []string

	sectionKey, ok := payload["section_key"].(string)
	if !ok || strings.TrimSpace(sectionKey) == "" {
		if strict {
			errs = append(errs, "section_key must be a non-empty string")
		}
		sectionKey = strings.TrimSpace(coerceString(payload["section_key"]))
		if sectionKey == "" {
			sectionKey = "unknown"
		}
	}

	draft := &models.DraftArtifact{
		SectionKey:      sectionKey,
		Paragraphs:      []models.Paragraph{},
		MissingEvidence: []models.MissingEvidence{},
	}

	rawParas, ok := payload["paragraphs"].([]interface{})
	if !ok && payload["paragraphs"] != nil && strict {
		errs = append(errs, "paragraphs must be a list")
	}
	for i, rp := range rawParas {
		pm, ok := rp.(map[string]interface{})
		if !ok {
			if strict {
				errs = append(errs, fmt.Sprintf("paragraphs[%d] must be an object", i))
			}
			continue
		}
		para, paraErrs := parseParagraph(pm, i, strict)
		if strict {
			errs = append(errs, paraErrs...)
		}
		if para != nil {
			draft.Paragraphs = append(draft.Paragraphs, *para)
		}
	}

	rawMissing, ok := payload["missing_evidence"].([]interface{})
	if !ok && payload["missing_evidence"] != nil && strict {
		errs = append(errs, "missing_evidence must be a list")
	}
	for i, rm := range rawMissing {
		mm, ok := rm.(map[string]interface{})
		if !ok {
			if strict {
				errs = append(errs, fmt.Sprintf("missing_evidence[%d] must be an object", i))
			}
			continue
		}
		claim := strings.TrimSpace(coerceString(mm["claim"]))
		if claim == "" {
			if strict {
				errs = append(errs, fmt.Sprintf("missing_evidence[%d].claim must be a non-empty string", i))
			}
			continue
		}
		draft.MissingEvidence = append(draft.MissingEvidence, models.MissingEvidence{
			Claim:           claim,
			SuggestedUpload: strings.TrimSpace(coerceString(mm["suggested_upload"])),
		})
	}

	// A draft with nothing in it would silently vanish downstream;
	// surface the gap as a missing-evidence entry naming the section
	if !strict && len(draft.Paragraphs) == 0 && len(draft.MissingEvidence) == 0 {
		draft.MissingEvidence = append(draft.MissingEvidence, models.MissingEvidence{
			Claim:           fmt.Sprintf("No draft content was produced for section %q", sectionKey),
			SuggestedUpload: "Supporting documents for this section",
		})
	}

	if strict && len(errs) > 0 {
		return nil, errs
	}
	return draft, errs
}

func parseParagraph(pm map[string]interface{}, i int, strict bool) (*models.Paragraph, []string) {
	var errs []string

	text, ok := pm["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		errs = append(errs, fmt.Sprintf("paragraphs[%d].text must be a non-empty string", i))
		text = strings.TrimSpace(coerceString(pm["text"]))
		if text == "" {
			return nil, errs
		}
	}

	confidence, ok := coerceFloat(pm["confidence"])
	if !ok {
		errs = append(errs, fmt.Sprintf("paragraphs[%d].confidence must be a number", i))
		confidence = defaultConfidence
	}
	if confidence < 0 || confidence > 1 {
		errs = append(errs, fmt.Sprintf("paragraphs[%d].confidence must be within [0,1]", i))
		confidence = clamp01(confidence)
	}

	para := &models.Paragraph{Text: strings.TrimSpace(text), Confidence: confidence}

	rawCits, ok := pm["citations"].([]interface{})
	if !ok && pm["citations"] != nil {
		errs = append(errs, fmt.Sprintf("paragraphs[%d].citations must be a list", i))
	}
	for j, rc := range rawCits {
		cm, ok := rc.(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Sprintf("paragraphs[%d].citations[%d] must be an object", i, j))
			continue
		}
		docID := strings.TrimSpace(coerceString(cm["doc_id"]))
		if docID == "" {
			errs = append(errs, fmt.Sprintf("paragraphs[%d].citations[%d].doc_id must be a non-empty string", i, j))
			continue
		}
		page, pageOK := coerceInt(cm["page"])
		if !pageOK || page < 1 {
			errs = append(errs, fmt.Sprintf("paragraphs[%d].citations[%d].page must be an integer >= 1", i, j))
			if strict {
				continue
			}
			page = 1
		}
		snippet := coerceString(cm["snippet"])
		if len(snippet) > models.MaxSnippetLen {
			errs = append(errs, fmt.Sprintf("paragraphs[%d].citations[%d].snippet exceeds %d characters", i, j, models.MaxSnippetLen))
			snippet = truncateSnippet(snippet)
		}
		para.Citations = append(para.Citations, models.Citation{DocID: docID, Page: page, Snippet: snippet})
	}

	if strict && len(errs) > 0 {
		return nil, errs
	}
	return para, errs
}

// --- requirements ---

func validateRequirementsWithRepair(payload map[string]interface{}) (interface{}, bool, []string) {
	reqs, errs := parseRequirements(payload, true)
	if len(errs) == 0 {
		return reqs, false, nil
	}

	repaired, repairErrs := parseRequirements(payload, false)
	errs = append(errs, repairErrs...)
	if repaired == nil {
		return nil, true, errs
	}
	return repaired, true, errs
}

func parseRequirements(payload map[string]interface{}, strict bool) (*models.RequirementsArtifact, []string) {
	var errs []string
	artifact := &models.RequirementsArtifact{
		Questions:       []models.NarrativeQuestion{},
		Attachments:     []string{},
		Eligibility:     []string{},
		Rubric:          []string{},
		DisallowedCosts: []string{},
	}

	rawQuestions, ok := payload["questions"].([]interface{})
	if !ok && payload["questions"] != nil && strict {
		errs = append(errs, "questions must be a list")
	}
	for i, rq := range rawQuestions {
		qm, ok := rq.(map[string]interface{})
		if !ok {
			if strict {
				errs = append(errs, fmt.Sprintf("questions[%d] must be an object", i))
			}
			continue
		}
		q := models.NarrativeQuestion{
			ID:              strings.TrimSpace(coerceString(qm["id"])),
			Prompt:          strings.TrimSpace(coerceString(qm["prompt"])),
			ExpectedSection: strings.TrimSpace(coerceString(qm["expected_section"])),
		}
		if id, idOK := qm["id"].(string); !idOK || strings.TrimSpace(id) == "" {
			if strict {
				errs = append(errs, fmt.Sprintf("questions[%d].id must be a non-empty string", i))
			}
			if q.ID == "" {
				q.ID = fmt.Sprintf("Q%d", i+1)
			}
		}
		if q.Prompt == "" {
			if strict {
				errs = append(errs, fmt.Sprintf("questions[%d].prompt must be a non-empty string", i))
			}
			continue
		}
		if wl, wlOK := coerceInt(qm["word_limit"]); wlOK && wl > 0 {
			q.WordLimit = wl
		} else if qm["word_limit"] != nil && strict && !wlOK {
			errs = append(errs, fmt.Sprintf("questions[%d].word_limit must be an integer", i))
		}
		artifact.Questions = append(artifact.Questions, q)
	}

	lists := []struct {
		field string
		dst   *[]string
	}{
		{"attachments", &artifact.Attachments},
		{"eligibility", &artifact.Eligibility},
		{"rubric", &artifact.Rubric},
		{"disallowed_costs", &artifact.DisallowedCosts},
	}
	for _, l := range lists {
		raw, ok := payload[l.field].([]interface{})
		if !ok && payload[l.field] != nil && strict {
			errs = append(errs, fmt.Sprintf("%s must be a list", l.field))
		}
		for i, rv := range raw {
			s, sOK := rv.(string)
			if !sOK {
				if strict {
					errs = append(errs, fmt.Sprintf("%s[%d] must be a string", l.field, i))
					continue
				}
				s = coerceString(rv)
			}
			s = strings.TrimSpace(s)
			if s == "" {
				if strict {
					errs = append(errs, fmt.Sprintf("%s[%d] must be a non-empty string", l.field, i))
				}
				continue
			}
			*l.dst = append(*l.dst, s)
		}
	}

	if strict && len(errs) > 0 {
		return nil, errs
	}
	return artifact, errs
}

// --- coverage ---

func validateCoverageWithRepair(payload map[string]interface{}) (interface{}, bool, []string) {
	items, errs := parseCoverage(payload, true)
	if len(errs) == 0 {
		return items, false, nil
	}

	repaired, repairErrs := parseCoverage(payload, false)
	errs = append(errs, repairErrs...)
	if repaired == nil {
		return nil, true, errs
	}
	return repaired, true, errs
}

func parseCoverage(payload map[string]interface{}, strict bool) ([]models.CoverageItem, []string) {
	var errs []string

	rawItems, ok := payload["items"].([]interface{})
	if !ok {
		if strict {
			errs = append(errs, "items must be a list")
			return nil, errs
		}
		return []models.CoverageItem{}, errs
	}

	items := make([]models.CoverageItem, 0, len(rawItems))
	for i, ri := range rawItems {
		im, ok := ri.(map[string]interface{})
		if !ok {
			if strict {
				errs = append(errs, fmt.Sprintf("items[%d] must be an object", i))
			}
			continue
		}

		reqID := strings.TrimSpace(coerceString(im["requirement_id"]))
		if reqID == "" {
			if strict {
				errs = append(errs, fmt.Sprintf("items[%d].requirement_id must be a non-empty string", i))
			}
			continue
		}

		status := models.CoverageStatus(strings.ToLower(strings.TrimSpace(coerceString(im["status"]))))
		if status.Rank() == 0 {
			if strict {
				errs = append(errs, fmt.Sprintf("items[%d].status must be one of met, partial, missing", i))
				continue
			}
			status = models.CoverageMissing
		}

		item := models.CoverageItem{
			RequirementID: reqID,
			InternalID:    strings.TrimSpace(coerceString(im["internal_id"])),
			OriginalID:    strings.TrimSpace(coerceString(im["original_id"])),
			Status:        status,
			Notes:         strings.TrimSpace(coerceString(im["notes"])),
			EvidenceRefs:  []string{},
		}

		rawRefs, refsOK := im["evidence_refs"].([]interface{})
		if !refsOK && im["evidence_refs"] != nil && strict {
			errs = append(errs, fmt.Sprintf("items[%d].evidence_refs must be a list", i))
		}
		for _, rr := range rawRefs {
			if ref := strings.TrimSpace(coerceString(rr)); ref != "" {
				item.EvidenceRefs = append(item.EvidenceRefs, ref)
			}
		}

		items = append(items, item)
	}

	if strict && len(errs) > 0 {
		return nil, errs
	}
	return items, errs
}

// --- coercion helpers ---

func coerceString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func coerceFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
