package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/logger"
	"github.com/harleven/casedocs/pkg/queue"
)

// Runner executes the stages a job covers, updating the job record's
// progress as it goes. RecordFailure writes the permanent failure onto
// the document so it stays queryable.
type Runner interface {
	Run(ctx context.Context, job *models.Job) error
	RecordFailure(ctx context.Context, documentID, message string) error
}

// Records persists job state between attempts. Implemented by
// queue.JobRecords.
type Records interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Save(ctx context.Context, job *models.Job) error
}

// PipelineWorker consumes pipeline and single-stage tasks.
type PipelineWorker struct {
	BaseWorker
	runner  Runner
	records Records
}

func NewPipelineWorker(cfg *Config, runner Runner, records Records, log logger.Logger) (*PipelineWorker, error) {
	w := &PipelineWorker{
		BaseWorker: newBaseWorker(cfg, log),
		runner:     runner,
		records:    records,
	}
	w.registerHandlers()
	return w, nil
}

func (w *PipelineWorker) registerHandlers() {
	for _, taskType := range []string{
		queue.TaskTypePipeline,
		queue.TaskTypeExtract,
		queue.TaskTypeChunk,
		queue.TaskTypeEmbed,
	} {
		w.mux.HandleFunc(taskType, w.handleTask)
	}
}

func (w *PipelineWorker) handleTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal task payload",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		// A malformed payload will never succeed.
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	job, err := w.records.Get(ctx, payload.JobID)
	if err != nil {
		if errs.IsNotFound(err) {
			w.logger.Warn("job record missing, dropping task",
				logger.String("job_id", payload.JobID),
			)
			return nil
		}
		return fmt.Errorf("load job record: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}

	if job.CancelRequested {
		return w.finishCancelled(ctx, job)
	}

	now := time.Now().UTC()
	job.Status = models.JobRunning
	job.Attempts++
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.SetProgress(job.Progress, "processing")
	if err := w.records.Save(ctx, job); err != nil {
		return fmt.Errorf("save job record: %w", err)
	}

	w.logger.Info("job started",
		logger.String("job_id", job.ID),
		logger.String("document_id", job.DocumentID),
		logger.String("type", string(job.Type)),
		logger.Int("attempt", job.Attempts),
	)

	runErr := w.runner.Run(ctx, job)
	if runErr == nil {
		finished := time.Now().UTC()
		job.Status = models.JobCompleted
		job.SetProgress(100, "completed")
		job.FinishedAt = &finished
		if err := w.records.Save(ctx, job); err != nil {
			w.logger.Error("failed to save completed job", logger.Error(err))
		}
		return nil
	}

	if errors.Is(runErr, errs.ErrCancelled) {
		return w.finishCancelled(ctx, job)
	}

	// A task-level deadline expiring mid-stage surfaces as a bare context
	// error. Count it as a failed attempt like a stage timeout.
	if errors.Is(runErr, context.DeadlineExceeded) {
		runErr = &errs.TimeoutError{
			Stage:   string(job.Type),
			Elapsed: time.Since(now).Round(time.Second).String(),
		}
	}

	job.Errors = append(job.Errors, runErr.Error())

	if errs.IsRetryable(runErr) && job.Attempts < job.MaxAttempts {
		job.Status = models.JobPending
		job.Message = fmt.Sprintf("attempt %d failed, retrying", job.Attempts)
		if err := w.records.Save(ctx, job); err != nil {
			w.logger.Error("failed to save retrying job", logger.Error(err))
		}
		w.logger.Warn("job attempt failed, will retry",
			logger.String("job_id", job.ID),
			logger.Int("attempt", job.Attempts),
			logger.Error(runErr),
		)
		return runErr
	}

	finished := time.Now().UTC()
	job.Status = models.JobFailed
	job.Message = runErr.Error()
	job.FinishedAt = &finished
	if err := w.records.Save(ctx, job); err != nil {
		w.logger.Error("failed to save failed job", logger.Error(err))
	}
	if err := w.runner.RecordFailure(ctx, job.DocumentID, runErr.Error()); err != nil {
		w.logger.Error("failed to record document failure",
			logger.String("document_id", job.DocumentID),
			logger.Error(err),
		)
	}
	w.logger.Error("job failed permanently",
		logger.String("job_id", job.ID),
		logger.String("document_id", job.DocumentID),
		logger.Int("attempts", job.Attempts),
		logger.Error(runErr),
	)
	return fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
}

func (w *PipelineWorker) finishCancelled(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	job.Status = models.JobCancelled
	job.CancelRequested = true
	job.Message = "cancelled"
	job.FinishedAt = &now
	if err := w.records.Save(ctx, job); err != nil {
		return fmt.Errorf("save cancelled job: %w", err)
	}
	w.logger.Info("job cancelled", logger.String("job_id", job.ID))
	return nil
}
