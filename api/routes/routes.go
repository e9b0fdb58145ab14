package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/harleven/casedocs/api/handlers"
	"github.com/harleven/casedocs/api/middleware"
)

// SetupRoutes registers every endpoint under /api/v1. A nil auth
// middleware leaves the API open.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string, auth gin.HandlerFunc) {
	r.Use(middleware.CORS(allowedOrigins))

	v1 := r.Group("/api/v1")

	v1.GET("/health", handlers.HealthCheck)

	if auth != nil {
		v1.Use(auth)
	}

	docs := v1.Group("/documents")
	{
		docs.POST("/upload", h.Document.Upload)
		docs.GET("/:id/status", h.Document.Status)
		docs.GET("/case/:caseId", h.Document.ListByCase)
		docs.DELETE("/:id", h.Document.Delete)
		docs.POST("/:id/reprocess", h.Document.Reprocess)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.GET("/stats", h.Job.Stats)
		jobs.GET("/:jobId", h.Job.Status)
		jobs.DELETE("/:jobId", h.Job.Cancel)
	}

	searches := v1.Group("/search")
	{
		searches.POST("/semantic", h.Search.Semantic)
		searches.POST("/hybrid", h.Search.Hybrid)
		searches.GET("/stats/:caseId", h.Search.Stats)
	}
}
