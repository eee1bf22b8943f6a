package service

import (
	"context"
	"errors"

	"grantdraft-backend/models"
	"grantdraft-backend/repository"

	"github.com/google/uuid"
)

// ProjectService handles business logic for grant projects
type ProjectService struct {
	projectRepo *repository.ProjectRepository
}

// ProjectServiceOption is a functional option for ProjectService
type ProjectServiceOption func(*ProjectService)

// WithProjectRepository sets the project repository
func WithProjectRepository(repo *repository.ProjectRepository) ProjectServiceOption {
	return func(s *ProjectService) {
		s.projectRepo = repo
	}
}

// NewProjectService creates a new project service
func NewProjectService(opts ...ProjectServiceOption) *ProjectService {
	s := &ProjectService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProjectRequest represents a request to create a project
type CreateProjectRequest struct {
	UserID            uuid.UUID
	Title             string
	FunderName        string
	ProgramName       string
	RequestedSections []string
}

// CreateProjectResult represents the result of creating a project
type CreateProjectResult struct {
	Project *models.Project
}

// CreateProject creates a new project with default values
func (s *ProjectService) CreateProject(ctx context.Context, req CreateProjectRequest) (*CreateProjectResult, error) {
	if s.projectRepo == nil {
		return nil, errors.New("project repository not set")
	}

	project := &models.Project{
		UserID:            req.UserID,
		Status:            models.StatusDraft,
		Title:             req.Title,
		FunderName:        req.FunderName,
		ProgramName:       req.ProgramName,
		RequestedSections: req.RequestedSections,
		PromptContext:     make(models.PromptContext),
	}

	if project.RequestedSections == nil {
		project.RequestedSections = []string{}
	}

	err := s.projectRepo.Create(ctx, project)
	if err != nil {
		return nil, err
	}

	return &CreateProjectResult{Project: project}, nil
}

// GetProjectRequest represents a request to get a project
type GetProjectRequest struct {
	ID uuid.UUID
}

// GetProjectResult represents the result of getting a project
type GetProjectResult struct {
	Project *models.Project
}

// GetProject retrieves a project by ID
func (s *ProjectService) GetProject(ctx context.Context, req GetProjectRequest) (*GetProjectResult, error) {
	if s.projectRepo == nil {
		return nil, errors.New("project repository not set")
	}

	project, err := s.projectRepo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	return &GetProjectResult{Project: project}, nil
}

// UpdateProjectRequest represents a request to update a project
type UpdateProjectRequest struct {
	Project *models.Project
}

// UpdateProjectResult represents the result of updating a project
type UpdateProjectResult struct {
	Project *models.Project
}

// UpdateProject updates a project
func (s *ProjectService) UpdateProject(ctx context.Context, req UpdateProjectRequest) (*UpdateProjectResult, error) {
	if s.projectRepo == nil {
		return nil, errors.New("project repository not set")
	}

	err := s.projectRepo.Update(ctx, req.Project)
	if err != nil {
		return nil, err
	}

	return &UpdateProjectResult{Project: req.Project}, nil
}

// ListProjectsRequest represents a request to list projects
type ListProjectsRequest struct {
	UserID uuid.UUID
	Status *models.ProjectStatus
	Limit  int
	Offset int
}

// ListProjectsResult represents the result of listing projects
type ListProjectsResult struct {
	Projects []*models.Project
}

// ListProjects lists projects for a user
func (s *ProjectService) ListProjects(ctx context.Context, req ListProjectsRequest) (*ListProjectsResult, error) {
	if s.projectRepo == nil {
		return nil, errors.New("project repository not set")
	}

	projects, err := s.projectRepo.ListByUserID(ctx, req.UserID, req.Status, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}

	return &ListProjectsResult{Projects: projects}, nil
}

// DeleteProject deletes a project. Dependent rows (documents, chunks,
// runs, artifacts) go with it via foreign key cascade.
func (s *ProjectService) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if s.projectRepo == nil {
		return errors.New("project repository not set")
	}
	return s.projectRepo.Delete(ctx, id)
}
