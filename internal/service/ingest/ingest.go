// Package ingest accepts uploads, deduplicates them and hands new
// documents to the pipeline.
package ingest

import (
	"context"
	"mime/multipart"
	"time"

	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/queue"
)

// UploadOptions come from the upload form.
type UploadOptions struct {
	DocumentType string
	DocumentDate *time.Time
	Priority     string
}

// UploadResult is the synchronous answer to an upload. Duplicates carry
// the existing document id and no job.
type UploadResult struct {
	DocumentID    string `json:"document_id"`
	Duplicate     bool   `json:"duplicate"`
	JobID         string `json:"job_id,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
}

// DocumentStatus combines the document row with its job history.
type DocumentStatus struct {
	Document *models.Document `json:"document"`
	Jobs     []*models.Job    `json:"jobs"`
}

// Orchestrator is the slice of the job orchestrator the gateway needs.
type Orchestrator interface {
	Enqueue(ctx context.Context, documentID string, jobType models.JobType, priority models.Priority) (*queue.EnqueueResult, error)
	JobsFor(ctx context.Context, documentID string) ([]*models.Job, error)
}

// Gateway is the ingestion service interface.
type Gateway interface {
	Upload(ctx context.Context, caseID string, file *multipart.FileHeader, opts UploadOptions) (*UploadResult, error)
	Status(ctx context.Context, documentID string) (*DocumentStatus, error)
	List(ctx context.Context, caseID string) ([]*models.Document, error)
	Delete(ctx context.Context, documentID string) error
	Reprocess(ctx context.Context, documentID string, priority string) (*UploadResult, error)
}
