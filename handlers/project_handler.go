package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"grantdraft-backend/models"
	"grantdraft-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProjectHandler handles HTTP requests for projects and draft runs
type ProjectHandler struct {
	projectService *service.ProjectService
	draftService   *service.DraftService
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(projectService *service.ProjectService, draftService *service.DraftService) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		draftService:   draftService,
	}
}

// CreateProjectRequest represents the request body for creating a project
type CreateProjectRequest struct {
	UserID            string   `json:"user_id" binding:"required"`
	Title             string   `json:"title" binding:"required"`
	FunderName        string   `json:"funder_name"`
	ProgramName       string   `json:"program_name"`
	RequestedSections []string `json:"requested_sections"`
}

// CreateProject handles POST /api/projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_USER_ID",
				"message": "Invalid user_id format",
			},
		})
		return
	}

	result, err := h.projectService.CreateProject(c.Request.Context(), service.CreateProjectRequest{
		UserID:            userID,
		Title:             req.Title,
		FunderName:        req.FunderName,
		ProgramName:       req.ProgramName,
		RequestedSections: req.RequestedSections,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CREATE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    result.Project,
	})
}

// GetProject handles GET /api/projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid project ID format",
			},
		})
		return
	}

	result, err := h.projectService.GetProject(c.Request.Context(), service.GetProjectRequest{ID: id})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Project not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Project,
	})
}

// UpdateProjectRequest represents the request body for updating a project
type UpdateProjectRequest struct {
	Status            string                 `json:"status"`
	Title             string                 `json:"title"`
	FunderName        string                 `json:"funder_name"`
	ProgramName       string                 `json:"program_name"`
	RequestedSections []string               `json:"requested_sections"`
	PromptContext     map[string]interface{} `json:"prompt_context"`
	ActiveBatchID     *string                `json:"active_batch_id"`
}

// UpdateProject handles PUT /api/projects/:id
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid project ID format",
			},
		})
		return
	}

	result, err := h.projectService.GetProject(c.Request.Context(), service.GetProjectRequest{ID: id})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Project not found",
			},
		})
		return
	}

	project := result.Project

	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	if req.Status != "" {
		project.Status = models.ProjectStatus(req.Status)
	}
	if req.Title != "" {
		project.Title = req.Title
	}
	if req.FunderName != "" {
		project.FunderName = req.FunderName
	}
	if req.ProgramName != "" {
		project.ProgramName = req.ProgramName
	}
	if req.RequestedSections != nil {
		project.RequestedSections = req.RequestedSections
	}
	if req.PromptContext != nil {
		project.PromptContext = models.PromptContext(req.PromptContext)
	}
	if req.ActiveBatchID != nil {
		batchID, err := uuid.Parse(*req.ActiveBatchID)
		if err == nil {
			project.ActiveBatchID = &batchID
		}
	}

	updateResult, err := h.projectService.UpdateProject(c.Request.Context(), service.UpdateProjectRequest{
		Project: project,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPDATE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    updateResult.Project,
	})
}

// ListProjects handles GET /api/projects?user_id=...&status=...&limit=...&offset=...
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_USER_ID",
				"message": "user_id query parameter is required and must be a UUID",
			},
		})
		return
	}

	req := service.ListProjectsRequest{UserID: userID}
	if s := c.Query("status"); s != "" {
		status := models.ProjectStatus(s)
		req.Status = &status
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		req.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset > 0 {
		req.Offset = offset
	}

	result, err := h.projectService.ListProjects(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LIST_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Projects,
	})
}

// DeleteProject handles DELETE /api/projects/:id
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid project ID format",
			},
		})
		return
	}

	if err := h.projectService.DeleteProject(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DELETE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"id": id,
		},
	})
}

// GetProjectRun handles GET /api/projects/:id/run
func (h *ProjectHandler) GetProjectRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid project ID format",
			},
		})
		return
	}

	run, err := h.draftService.GetLatestRunForProject(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "No draft run found for this project",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// GenerateDrafts handles POST /api/projects/:id/generate
func (h *ProjectHandler) GenerateDrafts(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid project ID format",
			},
		})
		return
	}

	var reqBody struct {
		Sections []string `json:"sections"`
	}
	// JSON is optional, ignore binding errors if body is empty
	_ = c.ShouldBindJSON(&reqBody)

	result, err := h.draftService.GenerateSectionDrafts(c.Request.Context(), service.GenerateDraftsRequest{
		ProjectID: id,
		Sections:  reqBody.Sections,
	})
	if err != nil {
		status := http.StatusInternalServerError
		code := "GENERATION_FAILED"
		switch err {
		case service.ErrProjectNotFound:
			status = http.StatusNotFound
			code = "NOT_FOUND"
		case service.ErrMissingRequiredData:
			status = http.StatusUnprocessableEntity
			code = "MISSING_REQUIRED_DATA"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	// Heavy work runs detached from the request context so polling
	// clients don't cancel it
	go func() {
		bgCtx := context.Background()
		if err := h.draftService.ProcessRun(bgCtx, result.RunID); err != nil {
			log.Printf("Draft run %s failed: %v", result.RunID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"run_id":  result.RunID,
			"status":  "pending",
			"message": "Draft run created. Poll /api/runs/:id for updates.",
		},
	})
}

// GetRunStatus handles GET /api/runs/:id
func (h *ProjectHandler) GetRunStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid run ID format",
			},
		})
		return
	}

	result, err := h.draftService.GetRunStatus(c.Request.Context(), service.GetRunStatusRequest{RunID: id})
	if err != nil {
		if err == service.ErrRunNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Draft run not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result.Run,
	})
}
