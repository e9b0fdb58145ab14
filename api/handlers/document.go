package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/service/ingest"
	"github.com/harleven/casedocs/pkg/logger"
)

type DocumentHandler struct {
	gateway ingest.Gateway
	logger  logger.Logger
}

func NewDocumentHandler(gateway ingest.Gateway, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		gateway: gateway,
		logger:  logger,
	}
}

// Upload accepts one document for a case.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		handleError(c, h.logger, "Invalid file upload",
			&errs.ValidationError{Field: "file", Message: err.Error()})
		return
	}

	opts := ingest.UploadOptions{
		DocumentType: c.PostForm("document_type"),
		Priority:     c.PostForm("priority"),
	}
	if raw := c.PostForm("document_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			handleError(c, h.logger, "Invalid document_date, expected YYYY-MM-DD",
				&errs.ValidationError{Field: "document_date", Message: err.Error()})
			return
		}
		opts.DocumentDate = &t
	}

	result, err := h.gateway.Upload(c.Request.Context(), c.PostForm("case_id"), file, opts)
	if err != nil {
		handleError(c, h.logger, "Failed to upload document", err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// Status returns the document row with its job history.
func (h *DocumentHandler) Status(c *gin.Context) {
	status, err := h.gateway.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get document status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListByCase returns every document in a case, newest first.
func (h *DocumentHandler) ListByCase(c *gin.Context) {
	docs, err := h.gateway.List(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		handleError(c, h.logger, "Failed to list documents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// Delete removes a document, its chunks and its stored file.
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.gateway.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, "Failed to delete document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

// Reprocess runs the full pipeline again for a stored document.
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	result, err := h.gateway.Reprocess(c.Request.Context(), c.Param("id"), c.Query("priority"))
	if err != nil {
		handleError(c, h.logger, "Failed to reprocess document", err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}
