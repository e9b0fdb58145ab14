package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/search"
	"github.com/harleven/casedocs/internal/service/ingest"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/queue"
)

// ErrorResponse is the JSON error envelope for every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handlers struct {
	Document *DocumentHandler
	Job      *JobHandler
	Search   *SearchHandler
}

func NewHandlers(
	gateway ingest.Gateway,
	orchestrator *queue.Orchestrator,
	searchService *search.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(gateway, logger),
		Job:      NewJobHandler(orchestrator, logger),
		Search:   NewSearchHandler(searchService, logger),
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errs.IsValidation(err):
		return http.StatusBadRequest
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrJobActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(message,
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
	}

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
