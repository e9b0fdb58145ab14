package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/queue"
)

type JobHandler struct {
	orch   *queue.Orchestrator
	logger logger.Logger
}

func NewJobHandler(orch *queue.Orchestrator, logger logger.Logger) *JobHandler {
	return &JobHandler{
		orch:   orch,
		logger: logger,
	}
}

// Status returns the durable job record.
func (h *JobHandler) Status(c *gin.Context) {
	job, err := h.orch.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get job status", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel stops a pending job immediately or flags a running one for
// cancellation at the next stage boundary.
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.orch.Cancel(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Stats snapshots the queues.
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.orch.Stats(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, "Failed to get queue stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}
