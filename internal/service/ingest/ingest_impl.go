package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/harleven/casedocs/internal/clients"
	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/internal/store"
	"github.com/harleven/casedocs/internal/utils/validator"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/storage"
)

type gatewayImpl struct {
	store     store.Store
	blobs     storage.Storage
	orch      Orchestrator
	validator *validator.DocumentValidator
	cases     clients.CaseDirectory
	tmpDir    string
	logger    logger.Logger
}

func NewGateway(st store.Store, blobs storage.Storage, orch Orchestrator, v *validator.DocumentValidator, cases clients.CaseDirectory, tmpDir string, log logger.Logger) (Gateway, error) {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &gatewayImpl{
		store:     st,
		blobs:     blobs,
		orch:      orch,
		validator: v,
		cases:     cases,
		tmpDir:    tmpDir,
		logger:    log,
	}, nil
}

func parseDocumentType(s string) models.DocumentType {
	switch models.DocumentType(s) {
	case models.DocTypeLetter, models.DocTypeReport, models.DocTypeWitnessStatement:
		return models.DocumentType(s)
	default:
		return models.DocTypeOther
	}
}

func parsePriority(s string) models.Priority {
	switch models.Priority(s) {
	case models.PriorityHigh, models.PriorityLow:
		return models.Priority(s)
	default:
		return models.PriorityNormal
	}
}

// Upload validates, deduplicates and stores the file, then enqueues a
// pipeline job. Validation and dedup answer synchronously; everything
// after the response happens in the worker.
func (g *gatewayImpl) Upload(ctx context.Context, caseID string, file *multipart.FileHeader, opts UploadOptions) (*UploadResult, error) {
	if caseID == "" {
		return nil, &errs.ValidationError{Field: "case_id", Message: "case_id is required"}
	}

	info, err := g.validator.ValidateFile(file)
	if err != nil {
		return nil, err
	}

	exists, err := g.cases.Exists(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("check case: %w", err)
	}
	if !exists {
		return nil, &errs.NotFoundError{Resource: "case", ID: caseID}
	}

	tmpPath, hash, err := g.spoolAndHash(file)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	// Same bytes in the same case: answer with the existing document.
	existing, err := g.store.FindByHash(ctx, caseID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		g.logger.Info("duplicate upload",
			logger.String("case_id", caseID),
			logger.String("document_id", existing.ID),
			logger.String("content_hash", hash),
		)
		return &UploadResult{DocumentID: existing.ID, Duplicate: true}, nil
	}

	key := fmt.Sprintf("cases/%s/%s%s", caseID, hash[:16], info.Extension)
	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open spooled file: %w", err)
	}
	storedKey, err := g.blobs.Store(ctx, f, key)
	f.Close()
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:           uuid.New().String(),
		CaseID:       caseID,
		ContentHash:  hash,
		Filename:     info.Filename,
		FilePath:     storedKey,
		MimeType:     info.MimeType,
		FileSize:     info.Size,
		DocumentType: parseDocumentType(opts.DocumentType),
		DocumentDate: opts.DocumentDate,
		Title:        info.Filename,
		Language:     "en",
	}
	if err := g.store.InsertDocument(ctx, doc); err != nil {
		// A concurrent identical upload can win the insert between the
		// hash lookup and here. Answer with the winner's document.
		if errors.Is(err, store.ErrDuplicateDocument) {
			winner, ferr := g.store.FindByHash(ctx, caseID, hash)
			if ferr == nil && winner != nil {
				g.logger.Info("duplicate upload lost insert race",
					logger.String("case_id", caseID),
					logger.String("document_id", winner.ID),
					logger.String("content_hash", hash),
				)
				return &UploadResult{DocumentID: winner.ID, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	res, err := g.orch.Enqueue(ctx, doc.ID, models.JobPipeline, parsePriority(opts.Priority))
	if err != nil {
		// The document row stays; a reprocess can pick it up later.
		g.logger.Error("enqueue after upload failed",
			logger.String("document_id", doc.ID),
			logger.Error(err),
		)
		return nil, err
	}

	g.logger.Info("document accepted",
		logger.String("case_id", caseID),
		logger.String("document_id", doc.ID),
		logger.String("job_id", res.Job.ID),
		logger.Int64("size", info.Size),
	)
	return &UploadResult{
		DocumentID:    doc.ID,
		JobID:         res.Job.ID,
		QueuePosition: res.QueuePosition,
	}, nil
}

// spoolAndHash streams the upload to a temp file while hashing, so large
// files are never buffered in memory.
func (g *gatewayImpl) spoolAndHash(file *multipart.FileHeader) (string, string, error) {
	src, err := file.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmpPath := filepath.Join(g.tmpDir, uuid.New().String())
	dst, err := os.Create(tmpPath)
	if err != nil {
		return "", "", fmt.Errorf("create spool file: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(dst, io.TeeReader(src, hasher)); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("spool upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", err
	}
	return tmpPath, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (g *gatewayImpl) Status(ctx context.Context, documentID string) (*DocumentStatus, error) {
	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	jobs, err := g.orch.JobsFor(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentStatus{Document: doc, Jobs: jobs}, nil
}

func (g *gatewayImpl) List(ctx context.Context, caseID string) ([]*models.Document, error) {
	return g.store.ListByCase(ctx, caseID)
}

// Delete removes the blob and the row; chunks cascade with the row.
func (g *gatewayImpl) Delete(ctx context.Context, documentID string) error {
	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := g.blobs.Delete(ctx, doc.FilePath); err != nil {
		g.logger.Warn("failed to delete blob",
			logger.String("document_id", documentID),
			logger.String("key", doc.FilePath),
			logger.Error(err),
		)
	}
	return g.store.DeleteDocument(ctx, documentID)
}

// Reprocess clears stage flags and runs the pipeline again from the
// stored blob.
func (g *gatewayImpl) Reprocess(ctx context.Context, documentID string, priority string) (*UploadResult, error) {
	if err := g.store.ResetStageFlags(ctx, documentID); err != nil {
		return nil, err
	}
	res, err := g.orch.Enqueue(ctx, documentID, models.JobPipeline, parsePriority(priority))
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		DocumentID:    documentID,
		JobID:         res.Job.ID,
		QueuePosition: res.QueuePosition,
	}, nil
}
