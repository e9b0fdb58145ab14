// Package pipeline runs the extraction, chunking and embedding stages
// for one document on the worker side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/harleven/casedocs/internal/chunk"
	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/extract"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/internal/store"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/storage"
)

// Extractor is the extraction stage dependency.
type Extractor interface {
	Extract(ctx context.Context, path, mimeType string) (*extract.Result, error)
}

// Embedder is the embedding stage dependency.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Recorder persists job progress. Implemented by queue.JobRecords.
type Recorder interface {
	Save(ctx context.Context, job *models.Job) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// Timeouts bounds each stage independently. OCR-heavy extraction gets
// its own deadline.
type Timeouts struct {
	Extract time.Duration
	Embed   time.Duration
}

// Service wires the stages together and implements worker.Runner.
type Service struct {
	store     store.Store
	blobs     storage.Storage
	extractor Extractor
	embedder  Embedder
	records   Recorder
	timeouts  Timeouts
	logger    logger.Logger
}

func NewService(st store.Store, blobs storage.Storage, ex Extractor, em Embedder, rec Recorder, timeouts Timeouts, log logger.Logger) *Service {
	return &Service{
		store:     st,
		blobs:     blobs,
		extractor: ex,
		embedder:  em,
		records:   rec,
		timeouts:  timeouts,
		logger:    log,
	}
}

// Run executes the job's stages in order. Stages whose document flag is
// already set are skipped, so a retried job resumes where it stopped.
// The cancel flag is honored between stages, never mid-stage.
func (s *Service) Run(ctx context.Context, job *models.Job) error {
	doc, err := s.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	runStage := func(name models.JobType) bool {
		for _, st := range job.Type.Stages() {
			if st == name {
				return true
			}
		}
		return false
	}

	if runStage(models.JobExtract) {
		if err := s.checkCancel(ctx, job); err != nil {
			return err
		}
		if !doc.ExtractionComplete {
			s.progress(ctx, job, 10, "extracting text")
			if err := s.runExtract(ctx, doc); err != nil {
				return err
			}
		}
	}

	if runStage(models.JobChunk) {
		if err := s.checkCancel(ctx, job); err != nil {
			return err
		}
		// Reload for the freshly extracted text.
		doc, err = s.store.GetDocument(ctx, job.DocumentID)
		if err != nil {
			return err
		}
		if !doc.Chunked {
			s.progress(ctx, job, 40, "chunking text")
			if err := s.runChunk(ctx, doc); err != nil {
				return err
			}
		}
	}

	if runStage(models.JobEmbed) {
		if err := s.checkCancel(ctx, job); err != nil {
			return err
		}
		doc, err = s.store.GetDocument(ctx, job.DocumentID)
		if err != nil {
			return err
		}
		if !doc.Embedded {
			s.progress(ctx, job, 70, "embedding chunks")
			if err := s.runEmbed(ctx, doc); err != nil {
				return err
			}
		}
	}

	s.progress(ctx, job, 90, "finalizing")
	doc, err = s.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if doc.ExtractionComplete && doc.Chunked && doc.Embedded {
		if err := s.store.MarkProcessed(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure implements worker.Runner.
func (s *Service) RecordFailure(ctx context.Context, documentID, message string) error {
	return s.store.SetProcessingError(ctx, documentID, message)
}

func (s *Service) checkCancel(ctx context.Context, job *models.Job) error {
	cancelled, err := s.records.CancelRequested(ctx, job.ID)
	if err != nil {
		s.logger.Warn("cancel flag check failed",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
		return nil
	}
	if cancelled {
		return errs.ErrCancelled
	}
	return nil
}

func (s *Service) progress(ctx context.Context, job *models.Job, p int, msg string) {
	job.SetProgress(p, msg)
	if err := s.records.Save(ctx, job); err != nil {
		s.logger.Warn("failed to save job progress",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
	}
}

func (s *Service) stageCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// wrapTimeout converts a deadline breach into a TimeoutError so the
// retry accounting treats it like any other failed attempt.
func wrapTimeout(stage string, d time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &errs.TimeoutError{Stage: stage, Elapsed: d.String()}
	}
	return err
}

func (s *Service) runExtract(ctx context.Context, doc *models.Document) error {
	stageCtx, cancel := s.stageCtx(ctx, s.timeouts.Extract)
	defer cancel()

	// The extractor works on local files; stage the blob first.
	path, cleanup, err := s.fetchBlob(stageCtx, doc)
	if err != nil {
		return errs.NewExtractionError(err)
	}
	defer cleanup()

	result, err := s.extractor.Extract(stageCtx, path, doc.MimeType)
	if err != nil {
		return wrapTimeout("extraction", s.timeouts.Extract, err)
	}

	if err := s.store.UpdateExtraction(ctx, doc.ID, result.Text, result.Method, result.PageCount, result.AvgConfidence); err != nil {
		return err
	}

	s.logger.Info("extraction complete",
		logger.String("document_id", doc.ID),
		logger.String("method", string(result.Method)),
		logger.Int("pages", result.PageCount),
		logger.Float64("avg_confidence", result.AvgConfidence),
		logger.Int("page_errors", len(result.PageErrors)),
	)
	return nil
}

func (s *Service) fetchBlob(ctx context.Context, doc *models.Document) (string, func(), error) {
	reader, err := s.blobs.Get(ctx, doc.FilePath)
	if err != nil {
		return "", nil, fmt.Errorf("fetch blob: %w", err)
	}
	defer reader.Close()

	dir, err := os.MkdirTemp("", "pipeline-")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, filepath.Base(doc.FilePath))
	f, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("copy blob: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func (s *Service) runChunk(ctx context.Context, doc *models.Document) error {
	chunks, err := chunk.Split(doc.ExtractedText, doc.DocumentType)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		ch.ID = uuid.New().String()
		ch.DocumentID = doc.ID
	}

	if err := s.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}

	s.logger.Info("chunking complete",
		logger.String("document_id", doc.ID),
		logger.Int("chunks", len(chunks)),
	)
	return nil
}

func (s *Service) runEmbed(ctx context.Context, doc *models.Document) error {
	stageCtx, cancel := s.stageCtx(ctx, s.timeouts.Embed)
	defer cancel()

	chunks, err := s.store.ChunksFor(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return errs.NewEmbeddingError(errors.New("document has no chunks"))
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := s.embedder.EmbedDocuments(stageCtx, texts)
	if err != nil {
		return wrapTimeout("embedding", s.timeouts.Embed, err)
	}

	byID := make(map[string][]float32, len(chunks))
	for i, ch := range chunks {
		byID[ch.ID] = vectors[i]
	}
	if err := s.store.UpdateChunkEmbeddings(ctx, doc.ID, byID); err != nil {
		return err
	}

	s.logger.Info("embedding complete",
		logger.String("document_id", doc.ID),
		logger.Int("embedded", len(vectors)),
		logger.Int("dimension", models.EmbeddingDim),
	)
	return nil
}
