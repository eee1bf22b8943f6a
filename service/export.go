package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"grantdraft-backend/models"
)

// CompositionError is the blocking export failure. It carries every
// gate reason at once so the caller can present all problems together
// instead of one at a time.
type CompositionError struct {
	Reasons []string
}

func (e *CompositionError) Error() string {
	return "export composition failed: " + strings.Join(e.Reasons, "; ")
}

// ExportInput is everything one export call consumes
type ExportInput struct {
	ProjectName       string
	Documents         []models.Document
	Requirements      *models.RequirementsArtifact
	Drafts            []models.DraftArtifact
	Coverage          []models.CoverageItem
	RequestedSections []string
	IncludeMarkdown   bool
	RunMetadata       map[string]interface{}
}

// documentRegistry validates citations against the project's known
// documents
type documentRegistry struct {
	maxPage map[string]int // normalized doc key -> known max page, 0 when unknown
	names   map[string]string
}

func buildDocumentRegistry(docs []models.Document) *documentRegistry {
	reg := &documentRegistry{
		maxPage: make(map[string]int, len(docs)),
		names:   make(map[string]string, len(docs)),
	}
	for _, d := range docs {
		key := normalizeDocKey(d.FileName)
		if key == "" {
			continue
		}
		pages := 0
		if d.PageCount != nil {
			pages = *d.PageCount
		}
		if _, ok := reg.maxPage[key]; !ok {
			reg.maxPage[key] = pages
			reg.names[key] = d.FileName
		}
	}
	return reg
}

func (r *documentRegistry) lookup(docID string) (maxPage int, known bool) {
	maxPage, known = r.maxPage[normalizeDocKey(docID)]
	return maxPage, known
}

// requirementRow is one renderable line of the machine-readable bundle
type requirementRow struct {
	RequirementID string                  `json:"requirement_id"`
	Kind          models.RequirementKind  `json:"kind,omitempty"`
	Text          string                  `json:"text,omitempty"`
	Status        models.CoverageStatus   `json:"status"`
	Notes         string                  `json:"notes"`
	EvidenceRefs  []string                `json:"evidence_refs"`
}

// ComposeExportBundle assembles the versioned export bundle and runs
// the quality gates. The bundle is always returned so callers can show
// the gate outcome; a non-nil *CompositionError means the caller must
// reject the export, never deliver it partially.
func ComposeExportBundle(input ExportInput) (*models.ExportBundle, error) {
	registry := buildDocumentRegistry(input.Documents)

	var reasons, warnings []string

	// Drafts may have been persisted under different grounding settings
	// than today's; normalize once more at export time
	normalized, unsupportedCount, mismatchCount, unknownDocs := normalizeForExport(input.Drafts, registry)
	for _, doc := range unknownDocs {
		reasons = append(reasons, fmt.Sprintf("citation document %q not found in project documents", doc))
	}

	sections := computeSectionStats(normalized)
	defs := DeriveRequirementDefinitions(input.Requirements)

	// Hard gate: every requested section must exist in some draft
	byKey := make(map[string]*sectionStats, len(sections))
	for i := range sections {
		byKey[sections[i].titleKey] = &sections[i]
	}
	for _, want := range input.RequestedSections {
		if _, ok := byKey[normalizeDocKey(want)]; !ok {
			reasons = append(reasons, fmt.Sprintf("requested section %q missing from available drafts", want))
		}
	}

	emptySections := countEmptyExpectedSections(defs, sections, &warnings)
	conflicts := countSourceConflicts(input.Coverage, &warnings)

	rows := buildRequirementRows(defs, input.Coverage)
	if len(defs) > 0 && len(rows) == 0 {
		reasons = append(reasons, "requirements exist but no renderable requirement rows were produced")
	}

	summary := buildSummary(input.Coverage, unsupportedCount, mismatchCount, conflicts, emptySections)

	var markdown map[string]string
	if input.IncludeMarkdown {
		markdown = renderMarkdown(input.ProjectName, normalized, rows, summary)
		if len(markdown) == 0 {
			reasons = append(reasons, "markdown output was requested but no files were produced")
		}
	}

	jsonBundle, err := json.Marshal(map[string]interface{}{
		"project":      input.ProjectName,
		"requirements": rows,
		"sections":     normalized,
		"summary":      summary,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}

	bundle := &models.ExportBundle{
		ExportVersion: models.ExportVersion,
		GeneratedAt:   time.Now().UTC(),
		Project:       input.ProjectName,
		Bundle: models.ExportFiles{
			JSON:     jsonBundle,
			Markdown: markdown,
		},
		Summary: summary,
		QualityGates: models.QualityGates{
			Passed:   len(reasons) == 0,
			Reasons:  append([]string{}, reasons...),
			Warnings: append([]string{}, warnings...),
		},
		Provenance: buildProvenance(input),
	}

	if len(reasons) > 0 {
		return bundle, &CompositionError{Reasons: reasons}
	}
	return bundle, nil
}

// normalizeForExport strips leftover inline hints and drops citations
// the registry cannot verify. Returns the normalized drafts, the
// unsupported-claim and citation-mismatch counts, and any document ids
// unknown to the project.
func normalizeForExport(drafts []models.DraftArtifact, registry *documentRegistry) ([]models.DraftArtifact, int, int, []string) {
	var unsupported, mismatches int
	unknownSet := make(map[string]bool)

	out := make([]models.DraftArtifact, 0, len(drafts))
	for _, d := range drafts {
		nd := models.DraftArtifact{
			SectionKey:      d.SectionKey,
			Paragraphs:      make([]models.Paragraph, 0, len(d.Paragraphs)),
			MissingEvidence: d.MissingEvidence,
		}
		for _, p := range d.Paragraphs {
			text, hints := extractInlineCitations(p.Text)
			var kept []models.Citation
			for _, c := range p.Citations {
				maxPage, known := registry.lookup(c.DocID)
				if !known {
					unknownSet[c.DocID] = true
					continue
				}
				if maxPage > 0 && c.Page > maxPage {
					mismatches++
					continue
				}
				kept = append(kept, c)
			}
			np := models.Paragraph{
				Text:        text,
				Citations:   kept,
				Confidence:  p.Confidence,
				Unsupported: p.Unsupported || len(kept) == 0 || p.Confidence < SupportThreshold || len(hints) > 0,
			}
			if np.Unsupported {
				unsupported++
			}
			nd.Paragraphs = append(nd.Paragraphs, np)
		}
		out = append(out, nd)
	}

	unknown := make([]string, 0, len(unknownSet))
	for doc := range unknownSet {
		unknown = append(unknown, doc)
	}
	sort.Strings(unknown)
	return out, unsupported, mismatches, unknown
}

// countEmptyExpectedSections counts expected sections that are absent
// or not substantive; these degrade readiness but do not block
func countEmptyExpectedSections(defs []models.RequirementDefinition, sections []sectionStats, warnings *[]string) int {
	var count int
	seen := make(map[string]bool)
	for _, def := range defs {
		if def.ExpectedSection == "" || seen[def.ExpectedSection] {
			continue
		}
		seen[def.ExpectedSection] = true
		section := findExpectedSection(def.ExpectedSection, sections)
		if section == nil || !section.substantive {
			count++
			*warnings = append(*warnings, fmt.Sprintf("expected section %q is absent or not substantive", def.ExpectedSection))
		}
	}
	return count
}

// countSourceConflicts flags narrative requirements whose evidence
// spans two or more distinct documents. Multi-sourcing is often
// desirable; the warning is a review cue, not a defect claim.
func countSourceConflicts(coverage []models.CoverageItem, warnings *[]string) int {
	var count int
	for _, item := range coverage {
		if !strings.HasPrefix(item.RequirementID, "Q") || item.Status == models.CoverageMissing {
			continue
		}
		docs := make(map[string]bool)
		for _, ref := range item.EvidenceRefs {
			if strings.HasPrefix(ref, "section:") {
				continue
			}
			docs[evidenceRefDoc(ref)] = true
		}
		if len(docs) >= 2 {
			count++
			*warnings = append(*warnings, fmt.Sprintf("requirement %s draws evidence from multiple sources (%d documents)", item.RequirementID, len(docs)))
		}
	}
	return count
}

func buildRequirementRows(defs []models.RequirementDefinition, coverage []models.CoverageItem) []requirementRow {
	defByID := make(map[string]models.RequirementDefinition, len(defs))
	for _, d := range defs {
		defByID[d.ID] = d
	}

	rows := make([]requirementRow, 0, len(coverage))
	for _, item := range coverage {
		row := requirementRow{
			RequirementID: item.RequirementID,
			Status:        item.Status,
			Notes:         item.Notes,
			EvidenceRefs:  item.EvidenceRefs,
		}
		if def, ok := defByID[item.RequirementID]; ok {
			row.Kind = def.Kind
			row.Text = def.Text
		}
		rows = append(rows, row)
	}
	return rows
}

func buildSummary(coverage []models.CoverageItem, unsupported, mismatches, conflicts, emptySections int) models.ExportSummary {
	summary := models.ExportSummary{
		TotalRequirements:     len(coverage),
		UnsupportedClaims:     unsupported,
		CitationMismatches:    mismatches,
		SourceConflicts:       conflicts,
		EmptyRequiredSections: emptySections,
	}
	for _, item := range coverage {
		switch item.Status {
		case models.CoverageMet:
			summary.Met++
		case models.CoveragePartial:
			summary.Partial++
		default:
			summary.Missing++
		}
	}

	if summary.TotalRequirements == 0 {
		return summary
	}

	total := float64(summary.TotalRequirements)
	completion := (float64(summary.Met) + 0.5*float64(summary.Partial)) / total * 100

	penalty := (float64(unsupported)*1.0 + float64(mismatches)*1.25 + float64(emptySections)*1.5) / total * 0.12
	if penalty > 0.6 {
		penalty = 0.6
	}

	summary.CompletionScore = completion
	summary.ReadinessScore = completion * (1 - penalty)
	return summary
}

func renderMarkdown(project string, drafts []models.DraftArtifact, rows []requirementRow, summary models.ExportSummary) map[string]string {
	files := make(map[string]string)

	for _, d := range drafts {
		var b strings.Builder
		b.WriteString("# " + sectionTitle(d.SectionKey) + "\n\n")
		for _, p := range d.Paragraphs {
			b.WriteString(p.Text)
			if p.Unsupported {
				b.WriteString(" " + models.UnsupportedMarker)
			}
			b.WriteString("\n")
			for _, c := range p.Citations {
				b.WriteString(fmt.Sprintf("> %s, p.%d: %q\n", c.DocID, c.Page, c.Snippet))
			}
			b.WriteString("\n")
		}
		if len(d.MissingEvidence) > 0 {
			b.WriteString("## Missing evidence\n\n")
			for _, m := range d.MissingEvidence {
				b.WriteString(fmt.Sprintf("- %s (suggested upload: %s)\n", m.Claim, m.SuggestedUpload))
			}
		}
		files[d.SectionKey+".md"] = b.String()
	}

	if len(rows) > 0 {
		var b strings.Builder
		b.WriteString("# Coverage: " + project + "\n\n")
		b.WriteString(fmt.Sprintf("Completion: %.1f%% | Readiness: %.1f%%\n\n", summary.CompletionScore, summary.ReadinessScore))
		b.WriteString("| Requirement | Status | Notes |\n|---|---|---|\n")
		for _, row := range rows {
			b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", row.RequirementID, row.Status, strings.ReplaceAll(row.Notes, "|", "/")))
		}
		files["coverage.md"] = b.String()
	}

	return files
}

func sectionTitle(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

var (
	credentialKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|passwd|credential|api[_-]?key|access[_-]?key|private[_-]?key)`)
	awsAccessKeyPattern  = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	pemBlockPattern      = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)
)

// redactMetadata removes credential-shaped values from run metadata
// before it enters provenance, regardless of the gate outcome
func redactMetadata(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if credentialKeyPattern.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			if awsAccessKeyPattern.MatchString(val) || pemBlockPattern.MatchString(val) {
				out[k] = "[REDACTED]"
			} else {
				out[k] = val
			}
		case map[string]interface{}:
			out[k] = redactMetadata(val)
		default:
			out[k] = v
		}
	}
	return out
}

func buildProvenance(input ExportInput) map[string]interface{} {
	docs := make([]string, 0, len(input.Documents))
	for _, d := range input.Documents {
		docs = append(docs, d.FileName)
	}
	sections := make([]string, 0, len(input.Drafts))
	for _, d := range input.Drafts {
		sections = append(sections, d.SectionKey)
	}
	return map[string]interface{}{
		"documents":    docs,
		"sections":     sections,
		"run_metadata": redactMetadata(input.RunMetadata),
	}
}
