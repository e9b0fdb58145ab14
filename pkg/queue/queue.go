// Package queue schedules pipeline jobs through asynq and keeps durable
// job records in Redis alongside the task queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/logger"
)

// Task type names, one per job type.
const (
	TaskTypePipeline = "document:pipeline"
	TaskTypeExtract  = "document:extract"
	TaskTypeChunk    = "document:chunk"
	TaskTypeEmbed    = "document:embed"
)

var queueNames = []string{"critical", "default", "low"}

// TaskPayload is the asynq task body. The job record in Redis is the
// source of truth; the payload only identifies it.
type TaskPayload struct {
	JobID      string         `json:"job_id"`
	DocumentID string         `json:"document_id"`
	Type       models.JobType `json:"type"`
}

// EnqueueResult reports the created job and its place in line.
type EnqueueResult struct {
	Job           *models.Job
	QueuePosition int
}

// QueueStats is a per-queue snapshot from the asynq inspector.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
}

// Orchestrator owns job creation, status, cancellation and retention.
type Orchestrator struct {
	client      *asynq.Client
	inspector   *asynq.Inspector
	records     *JobRecords
	maxAttempts int
	timeout     time.Duration
	logger      logger.Logger
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxAttempts   int
	TaskTimeout   time.Duration
}

func NewOrchestrator(cfg *Config, log logger.Logger) (*Orchestrator, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	return &Orchestrator{
		client:      asynq.NewClient(redisOpt),
		inspector:   asynq.NewInspector(redisOpt),
		records:     NewJobRecords(redisClient),
		maxAttempts: maxAttempts,
		timeout:     timeout,
		logger:      log,
	}, nil
}

// Records exposes the job record store shared with workers.
func (o *Orchestrator) Records() *JobRecords {
	return o.records
}

// QueueFor maps a job priority to an asynq queue.
func QueueFor(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return "critical"
	case models.PriorityLow:
		return "low"
	default:
		return "default"
	}
}

func taskTypeFor(t models.JobType) string {
	switch t {
	case models.JobExtract:
		return TaskTypeExtract
	case models.JobChunk:
		return TaskTypeChunk
	case models.JobEmbed:
		return TaskTypeEmbed
	default:
		return TaskTypePipeline
	}
}

// Enqueue creates a job record and schedules its task. A document can
// hold at most one live job per stage: a new job whose stage set
// overlaps a pending or running one is rejected with ErrJobActive.
func (o *Orchestrator) Enqueue(ctx context.Context, documentID string, jobType models.JobType, priority models.Priority) (*EnqueueResult, error) {
	if err := o.checkActive(ctx, documentID, jobType); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		DocumentID:  documentID,
		Type:        jobType,
		Status:      models.JobPending,
		Priority:    priority,
		MaxAttempts: o.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.records.Create(ctx, job); err != nil {
		return nil, &errs.OrchestrationError{Op: "create record", Err: err}
	}

	payload, err := json.Marshal(TaskPayload{
		JobID:      job.ID,
		DocumentID: documentID,
		Type:       jobType,
	})
	if err != nil {
		return nil, &errs.OrchestrationError{Op: "marshal payload", Err: err}
	}

	queueName := QueueFor(priority)
	position := 1
	if info, err := o.inspector.GetQueueInfo(queueName); err == nil {
		position = info.Pending + 1
	}

	task := asynq.NewTask(taskTypeFor(jobType), payload,
		asynq.TaskID(job.ID),
		asynq.Queue(queueName),
		// Retries are accounted on the job record; asynq just needs
		// enough headroom to deliver them.
		asynq.MaxRetry(o.maxAttempts-1),
		asynq.Timeout(o.timeout),
	)
	if _, err := o.client.EnqueueContext(ctx, task); err != nil {
		job.Status = models.JobFailed
		job.Errors = append(job.Errors, fmt.Sprintf("enqueue: %v", err))
		if saveErr := o.records.Save(ctx, job); saveErr != nil {
			o.logger.Error("failed to record enqueue failure",
				logger.String("job_id", job.ID),
				logger.Error(saveErr),
			)
		}
		return nil, &errs.OrchestrationError{Op: "enqueue", Err: err}
	}

	o.logger.Info("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("document_id", documentID),
		logger.String("type", string(jobType)),
		logger.String("queue", queueName),
		logger.Int("queue_position", position),
	)
	return &EnqueueResult{Job: job, QueuePosition: position}, nil
}

func (o *Orchestrator) checkActive(ctx context.Context, documentID string, jobType models.JobType) error {
	jobs, err := o.records.ListForDocument(ctx, documentID)
	if err != nil {
		return &errs.OrchestrationError{Op: "list jobs", Err: err}
	}
	newStages := stageSet(jobType)
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		for _, s := range j.Type.Stages() {
			if _, ok := newStages[s]; ok {
				return errs.ErrJobActive
			}
		}
	}
	return nil
}

func stageSet(t models.JobType) map[models.JobType]struct{} {
	set := make(map[models.JobType]struct{})
	for _, s := range t.Stages() {
		set[s] = struct{}{}
	}
	return set
}

// Status returns the durable record for a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return o.records.Get(ctx, jobID)
}

// JobsFor lists a document's jobs, oldest first.
func (o *Orchestrator) JobsFor(ctx context.Context, documentID string) ([]*models.Job, error) {
	return o.records.ListForDocument(ctx, documentID)
}

// Cancel stops a job. Pending tasks are deleted outright; running jobs
// get a cancel flag the worker honors at the next stage boundary.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.records.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if err := o.records.RequestCancel(ctx, jobID); err != nil {
		return nil, &errs.OrchestrationError{Op: "request cancel", Err: err}
	}
	job.CancelRequested = true

	if job.Status == models.JobPending {
		queueName := QueueFor(job.Priority)
		if err := o.inspector.DeleteTask(queueName, jobID); err == nil {
			now := time.Now().UTC()
			job.Status = models.JobCancelled
			job.FinishedAt = &now
			if err := o.records.Save(ctx, job); err != nil {
				return nil, &errs.OrchestrationError{Op: "save record", Err: err}
			}
			o.logger.Info("pending job cancelled", logger.String("job_id", jobID))
		}
	}
	return job, nil
}

// Stats snapshots every queue.
func (o *Orchestrator) Stats(ctx context.Context) ([]QueueStats, error) {
	out := make([]QueueStats, 0, len(queueNames))
	for _, name := range queueNames {
		info, err := o.inspector.GetQueueInfo(name)
		if err != nil {
			// Queues only exist after their first task.
			out = append(out, QueueStats{Queue: name})
			continue
		}
		out = append(out, QueueStats{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
		})
	}
	return out, nil
}

// Cleanup purges terminal job records older than window and the archived
// tasks behind them.
func (o *Orchestrator) Cleanup(ctx context.Context, window time.Duration) (int, error) {
	purged, err := o.records.CleanupBefore(ctx, time.Now().Add(-window))
	if err != nil {
		return 0, &errs.OrchestrationError{Op: "cleanup records", Err: err}
	}
	for _, name := range queueNames {
		if _, err := o.inspector.DeleteAllArchivedTasks(name); err != nil {
			o.logger.Warn("failed to purge archived tasks",
				logger.String("queue", name),
				logger.Error(err),
			)
		}
	}
	if purged > 0 {
		o.logger.Info("purged terminal job records", logger.Int("count", purged))
	}
	return purged, nil
}

func (o *Orchestrator) Close() error {
	return o.client.Close()
}
