package handlers

import (
	"errors"
	"net/http"

	"grantdraft-backend/repository"
	"grantdraft-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DraftHandler handles HTTP requests for requirements, coverage,
// evidence search and export
type DraftHandler struct {
	draftService *service.DraftService
	chunkRepo    *repository.ChunkRepository
	embedder     service.Embedder
}

// NewDraftHandler creates a new draft handler
func NewDraftHandler(draftService *service.DraftService, chunkRepo *repository.ChunkRepository, embedder service.Embedder) *DraftHandler {
	return &DraftHandler{
		draftService: draftService,
		chunkRepo:    chunkRepo,
		embedder:     embedder,
	}
}

// SaveRequirements handles PUT /api/projects/:id/requirements. The
// body is an untrusted extraction payload; it passes through
// validation with repair before persisting.
func (h *DraftHandler) SaveRequirements(c *gin.Context) {
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

	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	artifact, repaired, repairs, err := h.draftService.SaveRequirements(c.Request.Context(), id, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Project not found",
				},
			})
		case errors.Is(err, service.ErrValidationFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_FAILED",
					"message": err.Error(),
					"details": repairs,
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "SAVE_FAILED",
					"message": err.Error(),
				},
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"requirements": artifact,
			"repaired":     repaired,
			"repairs":      repairs,
		},
	})
}

// ReconcileCoverage handles POST /api/projects/:id/coverage
func (h *DraftHandler) ReconcileCoverage(c *gin.Context) {
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

	items, err := h.draftService.ReconcileProjectCoverage(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		code := "COVERAGE_FAILED"
		switch {
		case errors.Is(err, service.ErrMissingRequiredData):
			status = http.StatusUnprocessableEntity
			code = "MISSING_REQUIRED_DATA"
		case errors.Is(err, service.ErrGenerationProvider):
			status = http.StatusBadGateway
			code = "PROVIDER_ERROR"
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

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
	})
}

// ExportRequest represents the request body for composing an export
type ExportRequest struct {
	IncludeMarkdown bool                   `json:"include_markdown"`
	RunMetadata     map[string]interface{} `json:"run_metadata"`
}

// Export handles POST /api/projects/:id/export. A gate rejection
// returns 422 with the full reason list plus the rejected bundle's gate
// report so callers can see exactly what to fix.
func (h *DraftHandler) Export(c *gin.Context) {
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

	var req ExportRequest
	_ = c.ShouldBindJSON(&req)

	bundle, err := h.draftService.BuildExport(c.Request.Context(), id, req.IncludeMarkdown, req.RunMetadata)
	if err != nil {
		var compErr *service.CompositionError
		if errors.As(err, &compErr) {
			resp := gin.H{
				"success": false,
				"error": gin.H{
					"code":    "EXPORT_REJECTED",
					"message": compErr.Error(),
					"reasons": compErr.Reasons,
				},
			}
			if bundle != nil {
				resp["quality_gates"] = bundle.QualityGates
				resp["summary"] = bundle.Summary
			}
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		if errors.Is(err, service.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Project not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EXPORT_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    bundle,
	})
}

// SearchRequest represents the request body for evidence search
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// SearchEvidence handles POST /api/projects/:id/search. It embeds the
// query and runs a vector similarity search over the project's chunks.
func (h *DraftHandler) SearchEvidence(c *gin.Context) {
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

	var req SearchRequest
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
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}

	embedding, _, err := h.embedder.Embed(c.Request.Context(), req.Query, 0)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROVIDER_ERROR",
				"message": err.Error(),
			},
		})
		return
	}

	chunks, err := h.chunkRepo.Search(c.Request.Context(), id, embedding, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "SEARCH_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    chunks,
	})
}
