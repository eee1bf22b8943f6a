package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"grantdraft-backend/models"
	"grantdraft-backend/repository"
	"grantdraft-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DocumentHandler handles HTTP requests for document uploads and
// extracted-chunk ingestion
type DocumentHandler struct {
	documentRepo     *repository.DocumentRepository
	projectRepo      *repository.ProjectRepository
	chunkRepo        *repository.ChunkRepository
	storage          storage.Storage
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(
	documentRepo *repository.DocumentRepository,
	projectRepo *repository.ProjectRepository,
	chunkRepo *repository.ChunkRepository,
	storage storage.Storage,
) *DocumentHandler {
	return &DocumentHandler{
		documentRepo: documentRepo,
		projectRepo:  projectRepo,
		chunkRepo:    chunkRepo,
		storage:      storage,
		maxFileSize:  25 * 1024 * 1024, // 25MB
		allowedMimeTypes: map[string]bool{
			"application/pdf":    true,
			"text/plain":         true,
			"application/msword": true, // .doc
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true, // .docx
		},
	}
}

// UploadDocument handles POST /api/documents/upload
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	projectIDStr := c.PostForm("project_id")
	if projectIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_PROJECT_ID",
				"message": "project_id is required",
			},
		})
		return
	}

	projectID, err := uuid.Parse(projectIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_PROJECT_ID",
				"message": "Invalid project_id format",
			},
		})
		return
	}

	project, err := h.projectRepo.GetByID(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROJECT_NOT_FOUND",
				"message": "Project not found",
			},
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_FILE",
				"message": "File is required",
			},
		})
		return
	}

	if fileHeader.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize),
			},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_OPEN_ERROR",
				"message": err.Error(),
			},
		})
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		filename := strings.ToLower(fileHeader.Filename)
		switch {
		case strings.HasSuffix(filename, ".pdf"):
			mimeType = "application/pdf"
		case strings.HasSuffix(filename, ".txt"):
			mimeType = "text/plain"
		case strings.HasSuffix(filename, ".doc"):
			mimeType = "application/msword"
		case strings.HasSuffix(filename, ".docx"):
			mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		default:
			mimeType = "application/octet-stream"
		}
	}

	if !h.allowedMimeTypes[mimeType] && !strings.HasPrefix(mimeType, "text/") {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FILE_TYPE",
				"message": "File type not allowed. Allowed types: PDF, TXT, DOC, DOCX",
			},
		})
		return
	}

	docID := uuid.New()

	storagePath, err := h.storage.Upload(c.Request.Context(), docID, fileHeader.Filename, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPLOAD_FAILED",
				"message": fmt.Sprintf("Failed to upload file: %v", err),
			},
		})
		return
	}

	doc := &models.Document{
		ID:          docID,
		ProjectID:   projectID,
		BatchID:     project.ActiveBatchID,
		FileName:    fileHeader.Filename,
		MimeType:    mimeType,
		Size:        fileHeader.Size,
		StoragePath: storagePath,
	}

	if err := h.documentRepo.Create(c.Request.Context(), doc); err != nil {
		// Try to clean up the uploaded object
		h.storage.Delete(c.Request.Context(), storagePath)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": fmt.Sprintf("Failed to save document record: %v", err),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"id":         doc.ID,
			"file_name":  doc.FileName,
			"mime_type":  doc.MimeType,
			"size":       doc.Size,
			"created_at": doc.CreatedAt,
		},
	})
}

// GetDocument handles GET /api/documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid document ID format",
			},
		})
		return
	}

	doc, err := h.documentRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Document not found",
			},
		})
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), doc.StoragePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOWNLOAD_FAILED",
				"message": fmt.Sprintf("Failed to download file: %v", err),
			},
		})
		return
	}
	defer reader.Close()

	c.Header("Content-Type", doc.MimeType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", doc.FileName))
	c.DataFromReader(http.StatusOK, doc.Size, doc.MimeType, reader, nil)
}

// DeleteDocument handles DELETE /api/documents/:id. The stored object,
// the document row and its extracted chunks all go.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid document ID format",
			},
		})
		return
	}

	doc, err := h.documentRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Document not found",
			},
		})
		return
	}

	if err := h.chunkRepo.DeleteByDocument(c.Request.Context(), doc.ProjectID, doc.FileName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": fmt.Sprintf("Failed to delete chunks: %v", err),
			},
		})
		return
	}

	if err := h.storage.Delete(c.Request.Context(), doc.StoragePath); err != nil {
		// The row still goes; an orphaned object is recoverable, a
		// dangling row is not
		log.Printf("Warning: failed to delete stored object %s: %v", doc.StoragePath, err)
	}

	if err := h.documentRepo.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": fmt.Sprintf("Failed to delete document record: %v", err),
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

// IngestChunksRequest represents extracted page chunks posted by the
// external text extraction collaborator
type IngestChunksRequest struct {
	Chunks []struct {
		Page int    `json:"page" binding:"required"`
		Text string `json:"text" binding:"required"`
	} `json:"chunks" binding:"required"`
	PageCount int  `json:"page_count"`
	Replace   bool `json:"replace"`
}

// IngestChunks handles POST /api/documents/:id/chunks
func (h *DocumentHandler) IngestChunks(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid document ID format",
			},
		})
		return
	}

	doc, err := h.documentRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Document not found",
			},
		})
		return
	}

	var req IngestChunksRequest
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

	for i, chunk := range req.Chunks {
		if chunk.Page < 1 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_PAGE",
					"message": fmt.Sprintf("chunk %d: page must be >= 1", i),
				},
			})
			return
		}
	}

	if req.Replace {
		if err := h.chunkRepo.DeleteByDocument(c.Request.Context(), doc.ProjectID, doc.FileName); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": fmt.Sprintf("Failed to replace chunks: %v", err),
				},
			})
			return
		}
	}

	maxPage := 0
	for _, chunk := range req.Chunks {
		row := &models.Chunk{
			ProjectID:  doc.ProjectID,
			BatchID:    doc.BatchID,
			DocumentID: doc.FileName,
			FileName:   doc.FileName,
			Page:       chunk.Page,
			Text:       chunk.Text,
		}
		if err := h.chunkRepo.Create(c.Request.Context(), row); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": fmt.Sprintf("Failed to save chunk: %v", err),
				},
			})
			return
		}
		if chunk.Page > maxPage {
			maxPage = chunk.Page
		}
	}

	pageCount := req.PageCount
	if pageCount < maxPage {
		pageCount = maxPage
	}
	if pageCount > 0 {
		if err := h.documentRepo.UpdatePageCount(c.Request.Context(), doc.ID, pageCount); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": fmt.Sprintf("Failed to update page count: %v", err),
				},
			})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"document_id": doc.ID,
			"ingested":    len(req.Chunks),
			"page_count":  pageCount,
		},
	})
}
