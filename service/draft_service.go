package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"grantdraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrMissingRequiredData = errors.New("project missing required data for drafting")
	ErrRunCreationFailed   = errors.New("failed to create draft run")
	ErrRunNotFound         = errors.New("draft run not found")
	ErrRetrievalFailed     = errors.New("failed to retrieve evidence")
	ErrDraftUnusable       = errors.New("generated draft failed validation")
	ErrValidationFailed    = errors.New("payload failed validation")
)

const (
	defaultTopK       = 8
	maxRevisionRounds = 2
	coverageStepName  = "Reconciling Coverage"
)

// ProjectStore is the project lookup surface the orchestrator needs
type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error
}

// RunStore tracks draft run lifecycle and step progress
type RunStore interface {
	Create(ctx context.Context, run *models.DraftRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DraftRun, error)
	GetByProjectID(ctx context.Context, projectID uuid.UUID) (*models.DraftRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DraftRunStatus) error
	UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.RunSteps) error
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// ChunkStore loads a project's indexed evidence chunks
type ChunkStore interface {
	ListByProject(ctx context.Context, projectID uuid.UUID, batchID *uuid.UUID) ([]models.Chunk, error)
}

// ArtifactStore persists and reads versioned pipeline artifacts
type ArtifactStore interface {
	Create(ctx context.Context, artifact *models.Artifact) error
	GetLatest(ctx context.Context, projectID uuid.UUID, kind models.ArtifactKind, sectionKey *string) (*models.Artifact, error)
	LatestDrafts(ctx context.Context, projectID uuid.UUID) ([]models.DraftArtifact, error)
}

// DocumentStore lists a project's uploaded documents
type DocumentStore interface {
	ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*models.Document, error)
}

// DraftService orchestrates retrieval, generation, grounding,
// validation and coverage reconciliation for a project
type DraftService struct {
	projectStore  ProjectStore
	runStore      RunStore
	chunkStore    ChunkStore
	artifactStore ArtifactStore
	documentStore DocumentStore
	ranker        *ChunkRanker
	generator     Generator
	topK          int
}

// DraftServiceOption is a functional option for DraftService
type DraftServiceOption func(*DraftService)

// DraftWithProjectStore sets the project store
func DraftWithProjectStore(s ProjectStore) DraftServiceOption {
	return func(d *DraftService) {
		d.projectStore = s
	}
}

// DraftWithRunStore sets the draft run store
func DraftWithRunStore(s RunStore) DraftServiceOption {
	return func(d *DraftService) {
		d.runStore = s
	}
}

// DraftWithChunkStore sets the chunk store
func DraftWithChunkStore(s ChunkStore) DraftServiceOption {
	return func(d *DraftService) {
		d.chunkStore = s
	}
}

// DraftWithArtifactStore sets the artifact store
func DraftWithArtifactStore(s ArtifactStore) DraftServiceOption {
	return func(d *DraftService) {
		d.artifactStore = s
	}
}

// DraftWithDocumentStore sets the document store
func DraftWithDocumentStore(s DocumentStore) DraftServiceOption {
	return func(d *DraftService) {
		d.documentStore = s
	}
}

// DraftWithRanker sets the chunk ranker
func DraftWithRanker(r *ChunkRanker) DraftServiceOption {
	return func(d *DraftService) {
		d.ranker = r
	}
}

// DraftWithGenerator sets the generation provider
func DraftWithGenerator(g Generator) DraftServiceOption {
	return func(d *DraftService) {
		d.generator = g
	}
}

// DraftWithTopK sets the initial retrieval depth
func DraftWithTopK(k int) DraftServiceOption {
	return func(d *DraftService) {
		d.topK = k
	}
}

// NewDraftService creates a new draft service
func NewDraftService(opts ...DraftServiceOption) *DraftService {
	s := &DraftService{topK: defaultTopK}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateDraftsRequest represents a request to draft a project's sections
type GenerateDraftsRequest struct {
	ProjectID uuid.UUID
	Sections  []string // optional override of the project's requested sections
}

// GenerateDraftsResult represents the result of creating a draft run
type GenerateDraftsResult struct {
	RunID uuid.UUID
}

// GetRunStatusRequest represents a request to get run status
type GetRunStatusRequest struct {
	RunID uuid.UUID
}

// GetRunStatusResult represents the result of getting run status
type GetRunStatusResult struct {
	Run *models.DraftRun
}

// GenerateSectionDrafts creates a draft run and returns immediately.
// The heavy work happens in ProcessRun on a background goroutine.
func (s *DraftService) GenerateSectionDrafts(
	ctx context.Context,
	req GenerateDraftsRequest,
) (*GenerateDraftsResult, error) {
	if s.projectStore == nil {
		return nil, errors.New("project store not set")
	}
	if s.runStore == nil {
		return nil, errors.New("run store not set")
	}

	project, err := s.projectStore.GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, ErrProjectNotFound
	}

	sections := req.Sections
	if len(sections) == 0 {
		sections = project.RequestedSections
	}
	if len(sections) == 0 {
		return nil, ErrMissingRequiredData
	}

	run := &models.DraftRun{
		ID:        uuid.New(),
		ProjectID: req.ProjectID,
		Status:    models.RunStatusPending,
		Steps:     initializeRunSteps(sections),
	}

	if err := s.runStore.Create(ctx, run); err != nil {
		return nil, ErrRunCreationFailed
	}

	return &GenerateDraftsResult{RunID: run.ID}, nil
}

// GetRunStatus retrieves the status of a draft run
func (s *DraftService) GetRunStatus(
	ctx context.Context,
	req GetRunStatusRequest,
) (*GetRunStatusResult, error) {
	if s.runStore == nil {
		return nil, errors.New("run store not set")
	}

	run, err := s.runStore.GetByID(ctx, req.RunID)
	if err != nil {
		return nil, ErrRunNotFound
	}

	return &GetRunStatusResult{Run: run}, nil
}

// GetLatestRunForProject retrieves a project's most recent draft run
func (s *DraftService) GetLatestRunForProject(ctx context.Context, projectID uuid.UUID) (*models.DraftRun, error) {
	if s.runStore == nil {
		return nil, errors.New("run store not set")
	}

	run, err := s.runStore.GetByProjectID(ctx, projectID)
	if err != nil {
		return nil, ErrRunNotFound
	}

	return run, nil
}

// initializeRunSteps creates one drafting step per section plus the
// closing coverage reconciliation step. Description carries the section
// key so processing never has to parse it back out of the step name.
func initializeRunSteps(sections []string) models.RunSteps {
	steps := make(models.RunSteps, 0, len(sections)+1)
	for _, section := range sections {
		steps = append(steps, models.RunStep{
			Name:        "Drafting " + section,
			Status:      "pending",
			Description: section,
		})
	}
	steps = append(steps, models.RunStep{
		Name:   coverageStepName,
		Status: "pending",
	})
	return steps
}

// ProcessRun performs the drafting work in the background. One section
// failing does not abort the others; the run fails only when every
// section fails.
func (s *DraftService) ProcessRun(ctx context.Context, runID uuid.UUID) error {
	if s.runStore == nil || s.projectStore == nil || s.chunkStore == nil {
		return errors.New("draft service stores not set")
	}
	if s.ranker == nil || s.generator == nil {
		return errors.New("draft service providers not set")
	}

	run, err := s.runStore.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load draft run: %w", err)
	}

	project, err := s.projectStore.GetByID(ctx, run.ProjectID)
	if err != nil {
		s.markRunFailed(ctx, runID, "failed to load project: "+err.Error())
		return err
	}

	if err := s.runStore.UpdateStatus(ctx, runID, models.RunStatusInProgress); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	chunks, err := s.chunkStore.ListByProject(ctx, project.ID, project.ActiveBatchID)
	if err != nil {
		s.markRunFailed(ctx, runID, "failed to load evidence chunks: "+err.Error())
		return fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}
	if len(chunks) == 0 {
		s.markRunFailed(ctx, runID, "no evidence chunks indexed for this project")
		return ErrRetrievalFailed
	}

	cache := NewRankCache()

	var drafted, failed int
	for _, step := range run.Steps {
		if step.Description == "" {
			continue // coverage step, handled below
		}
		sectionKey := step.Description

		if err := s.updateStepStatus(ctx, runID, step.Name, "in_progress"); err != nil {
			s.markRunFailed(ctx, runID, "failed to update step: "+err.Error())
			return err
		}

		draft, stats, err := s.draftSection(ctx, project, sectionKey, chunks, cache)
		if err != nil {
			log.Printf("Warning: section %q failed: %v", sectionKey, err)
			failed++
			if stepErr := s.updateStepStatus(ctx, runID, step.Name, "failed"); stepErr != nil {
				s.markRunFailed(ctx, runID, "failed to update step: "+stepErr.Error())
				return stepErr
			}
			continue
		}

		if err := s.persistDraft(ctx, project, draft); err != nil {
			s.markRunFailed(ctx, runID, "failed to persist draft: "+err.Error())
			return err
		}
		drafted++

		log.Printf("Section %q drafted: %d paragraphs, %d citations (%d parsed inline, %d fallback, %d dropped)",
			sectionKey, stats.Paragraphs, stats.CitationsAfter,
			stats.InlineCitationsParsed, stats.FallbackCitationsAdded, stats.CitationsDropped)

		if err := s.updateStepStatus(ctx, runID, step.Name, "completed"); err != nil {
			s.markRunFailed(ctx, runID, "failed to update step: "+err.Error())
			return err
		}
	}

	if drafted == 0 {
		s.markRunFailed(ctx, runID, fmt.Sprintf("all %d sections failed", failed))
		return ErrDraftUnusable
	}

	if err := s.updateStepStatus(ctx, runID, coverageStepName, "in_progress"); err != nil {
		s.markRunFailed(ctx, runID, "failed to update step: "+err.Error())
		return err
	}

	if _, err := s.ReconcileProjectCoverage(ctx, project.ID); err != nil {
		// Coverage is reconcilable later from persisted drafts; a failure
		// here does not invalidate the drafted sections
		log.Printf("Warning: coverage reconciliation failed: %v", err)
		if stepErr := s.updateStepStatus(ctx, runID, coverageStepName, "failed"); stepErr != nil {
			return stepErr
		}
	} else if err := s.updateStepStatus(ctx, runID, coverageStepName, "completed"); err != nil {
		return err
	}

	if err := s.runStore.Complete(ctx, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	if err := s.projectStore.UpdateStatus(ctx, project.ID, models.StatusInProgress); err != nil {
		log.Printf("Warning: failed to update project status: %v", err)
	}

	return nil
}

// draftSection runs the retrieval → generation → validation → grounding
// loop for one section. Rounds with leftover missing-evidence entries
// retry with a doubled top-k; the attempt with the fewest entries wins.
func (s *DraftService) draftSection(
	ctx context.Context,
	project *models.Project,
	sectionKey string,
	chunks []models.Chunk,
	cache *RankCache,
) (*models.DraftArtifact, models.GroundingStats, error) {
	query := buildRetrievalQuery(project, sectionKey)
	topK := s.topK

	var best *models.DraftArtifact
	var bestStats models.GroundingStats
	var lastErrs []string

	for round := 0; round <= maxRevisionRounds; round++ {
		ranked, err := s.rankWithCache(ctx, cache, query, chunks, topK)
		if err != nil {
			return nil, models.GroundingStats{}, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
		}
		if len(ranked) == 0 {
			return nil, models.GroundingStats{}, ErrRetrievalFailed
		}

		payload, err := s.generator.GenerateSection(ctx, sectionKey, ranked, project.PromptContext)
		if err != nil {
			return nil, models.GroundingStats{}, err
		}

		validated, repaired, errs := ValidateWithRepair(KindDraft, payload)
		if validated == nil {
			lastErrs = errs
			topK *= 2
			continue
		}
		if repaired {
			log.Printf("Warning: draft for %q required repair: %s", sectionKey, strings.Join(errs, "; "))
		}

		draft := validated.(*models.DraftArtifact)
		draft.SectionKey = sectionKey

		grounded, stats := GroundDraft(draft, ranked)

		if best == nil || len(grounded.MissingEvidence) < len(best.MissingEvidence) {
			best = grounded
			bestStats = stats
		}
		if len(grounded.MissingEvidence) == 0 {
			break
		}
		topK *= 2
	}

	if best == nil {
		return nil, models.GroundingStats{}, fmt.Errorf("%w: %s", ErrDraftUnusable, strings.Join(lastErrs, "; "))
	}

	return best, bestStats, nil
}

// rankWithCache ranks through the request-scoped cache
func (s *DraftService) rankWithCache(
	ctx context.Context,
	cache *RankCache,
	query string,
	chunks []models.Chunk,
	topK int,
) ([]models.RankedChunk, error) {
	key := cache.Key(query, chunks, topK)
	if ranked, warnings, ok := cache.Get(key); ok {
		logDriftWarnings(warnings)
		return ranked, nil
	}

	ranked, warnings, err := s.ranker.RankChunks(ctx, chunks, query, topK)
	if err != nil {
		return nil, err
	}
	logDriftWarnings(warnings)
	cache.Put(key, ranked, warnings)
	return ranked, nil
}

func logDriftWarnings(warnings []models.DriftWarning) {
	for _, w := range warnings {
		log.Printf("Warning: retrieval drift [%s]: %s", w.Code, w.Message)
	}
}

// buildRetrievalQuery composes the ranking query for a section
func buildRetrievalQuery(project *models.Project, sectionKey string) string {
	parts := []string{sectionKey, project.Title}
	if project.ProgramName != "" {
		parts = append(parts, project.ProgramName)
	}
	return strings.Join(parts, " ")
}

// persistDraft appends a draft artifact version for the section
func (s *DraftService) persistDraft(ctx context.Context, project *models.Project, draft *models.DraftArtifact) error {
	if s.artifactStore == nil {
		return errors.New("artifact store not set")
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}

	sectionKey := draft.SectionKey
	return s.artifactStore.Create(ctx, &models.Artifact{
		ProjectID:  project.ID,
		BatchID:    project.ActiveBatchID,
		Kind:       models.ArtifactDraft,
		SectionKey: &sectionKey,
		Payload:    payload,
	})
}

// SaveRequirements validates an externally extracted requirements
// payload and persists it as the next requirements artifact version.
// Returns the validated artifact, whether repair ran, and the repair
// messages.
func (s *DraftService) SaveRequirements(
	ctx context.Context,
	projectID uuid.UUID,
	payload map[string]interface{},
) (*models.RequirementsArtifact, bool, []string, error) {
	if s.artifactStore == nil {
		return nil, false, nil, errors.New("artifact store not set")
	}
	if s.projectStore == nil {
		return nil, false, nil, errors.New("project store not set")
	}

	project, err := s.projectStore.GetByID(ctx, projectID)
	if err != nil {
		return nil, false, nil, ErrProjectNotFound
	}

	validated, repaired, errs := ValidateWithRepair(KindRequirements, payload)
	if validated == nil {
		return nil, false, errs, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(errs, "; "))
	}

	artifact := validated.(*models.RequirementsArtifact)

	raw, err := json.Marshal(artifact)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to marshal requirements: %w", err)
	}

	err = s.artifactStore.Create(ctx, &models.Artifact{
		ProjectID: projectID,
		BatchID:   project.ActiveBatchID,
		Kind:      models.ArtifactRequirements,
		Payload:   raw,
	})
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to persist requirements: %w", err)
	}

	return artifact, repaired, errs, nil
}

// ReconcileProjectCoverage recomputes coverage for a project from its
// latest requirements artifact and drafts, persists the result as a new
// coverage artifact version and returns the items. The external
// judgment comes from the generation provider; when that fails,
// reconciliation proceeds on the inferred side alone.
func (s *DraftService) ReconcileProjectCoverage(ctx context.Context, projectID uuid.UUID) ([]models.CoverageItem, error) {
	if s.artifactStore == nil {
		return nil, errors.New("artifact store not set")
	}

	latest, err := s.artifactStore.GetLatest(ctx, projectID, models.ArtifactRequirements, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no requirements artifact", ErrMissingRequiredData)
		}
		return nil, fmt.Errorf("failed to load requirements artifact: %w", err)
	}

	var requirements models.RequirementsArtifact
	if err := json.Unmarshal(latest.Payload, &requirements); err != nil {
		return nil, fmt.Errorf("failed to decode requirements artifact: %w", err)
	}

	drafts, err := s.artifactStore.LatestDrafts(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load drafts: %w", err)
	}

	var external []models.CoverageItem
	if s.generator != nil {
		payload, genErr := s.generator.ComputeCoverage(ctx, &requirements, drafts)
		if genErr != nil {
			log.Printf("Warning: external coverage judgment failed, reconciling from drafts only: %v", genErr)
		} else {
			validated, repaired, errs := ValidateWithRepair(KindCoverage, payload)
			if validated == nil {
				log.Printf("Warning: external coverage judgment unusable: %s", strings.Join(errs, "; "))
			} else {
				if repaired {
					log.Printf("Warning: external coverage judgment required repair: %s", strings.Join(errs, "; "))
				}
				external = validated.([]models.CoverageItem)
			}
		}
	}

	items := ReconcileCoverage(&requirements, external, drafts)

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal coverage: %w", err)
	}

	err = s.artifactStore.Create(ctx, &models.Artifact{
		ProjectID: projectID,
		BatchID:   latest.BatchID,
		Kind:      models.ArtifactCoverage,
		Payload:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist coverage: %w", err)
	}

	return items, nil
}

// BuildExport assembles the export bundle for a project from the latest
// persisted artifacts. A gate failure returns both the bundle (so the
// caller can display the reasons) and the *CompositionError.
func (s *DraftService) BuildExport(
	ctx context.Context,
	projectID uuid.UUID,
	includeMarkdown bool,
	runMetadata map[string]interface{},
) (*models.ExportBundle, error) {
	if s.projectStore == nil || s.documentStore == nil || s.artifactStore == nil {
		return nil, errors.New("draft service stores not set")
	}

	project, err := s.projectStore.GetByID(ctx, projectID)
	if err != nil {
		return nil, ErrProjectNotFound
	}

	docRows, err := s.documentStore.ListByProjectID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	documents := make([]models.Document, 0, len(docRows))
	for _, d := range docRows {
		documents = append(documents, *d)
	}

	requirements := &models.RequirementsArtifact{}
	if latest, err := s.artifactStore.GetLatest(ctx, projectID, models.ArtifactRequirements, nil); err == nil {
		if err := json.Unmarshal(latest.Payload, requirements); err != nil {
			return nil, fmt.Errorf("failed to decode requirements artifact: %w", err)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load requirements artifact: %w", err)
	}

	var coverage []models.CoverageItem
	if latest, err := s.artifactStore.GetLatest(ctx, projectID, models.ArtifactCoverage, nil); err == nil {
		if err := json.Unmarshal(latest.Payload, &coverage); err != nil {
			return nil, fmt.Errorf("failed to decode coverage artifact: %w", err)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load coverage artifact: %w", err)
	}

	drafts, err := s.artifactStore.LatestDrafts(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load drafts: %w", err)
	}

	bundle, composeErr := ComposeExportBundle(ExportInput{
		ProjectName:       project.Title,
		Documents:         documents,
		Requirements:      requirements,
		Drafts:            drafts,
		Coverage:          coverage,
		RequestedSections: project.RequestedSections,
		IncludeMarkdown:   includeMarkdown,
		RunMetadata:       runMetadata,
	})
	if composeErr != nil {
		return bundle, composeErr
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export bundle: %w", err)
	}
	err = s.artifactStore.Create(ctx, &models.Artifact{
		ProjectID: projectID,
		BatchID:   project.ActiveBatchID,
		Kind:      models.ArtifactExport,
		Payload:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist export: %w", err)
	}

	return bundle, nil
}

// updateStepStatus updates the status of a specific step in the draft run
func (s *DraftService) updateStepStatus(ctx context.Context, runID uuid.UUID, stepName, status string) error {
	run, err := s.runStore.GetByID(ctx, runID)
	if err != nil {
		return err
	}

	steps := run.Steps
	var currentStep string
	if run.CurrentStep != nil {
		currentStep = *run.CurrentStep
	}

	for i := range steps {
		if steps[i].Name == stepName {
			steps[i].Status = status
			if status == "in_progress" {
				currentStep = stepName
			}
			break
		}
	}

	return s.runStore.UpdateProgress(ctx, runID, currentStep, steps)
}

// markRunFailed marks a run as failed with an error message
func (s *DraftService) markRunFailed(ctx context.Context, runID uuid.UUID, errorMessage string) {
	if err := s.runStore.Fail(ctx, runID, errorMessage); err != nil {
		log.Printf("Warning: failed to mark run %s failed: %v", runID, err)
	}
}
