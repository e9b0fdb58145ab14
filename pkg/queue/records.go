package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
)

const (
	jobKeyPrefix    = "job:"
	docJobsPrefix   = "docjobs:"
	cancelKeyPrefix = "cancel:"
	terminalZSet    = "jobs:terminal"
)

// JobRecords persists job state as JSON in Redis. Records are written by
// the orchestrator at creation and by the owning worker afterwards; the
// cancel flag lives in its own key so a cancel request never races the
// worker's writes.
type JobRecords struct {
	redis *redis.Client
}

func NewJobRecords(client *redis.Client) *JobRecords {
	return &JobRecords{redis: client}
}

func jobKey(id string) string     { return jobKeyPrefix + id }
func docJobsKey(id string) string { return docJobsPrefix + id }
func cancelKey(id string) string  { return cancelKeyPrefix + id }

// Create stores a fresh record and registers it against its document.
func (r *JobRecords) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.SAdd(ctx, docJobsKey(job.DocumentID), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store job record: %w", err)
	}
	return nil
}

// Get loads a record. The cancel flag is merged in so callers always see
// a pending cancel request.
func (r *JobRecords) Get(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := r.redis.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &errs.NotFoundError{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("load job record: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	if !job.CancelRequested {
		cancelled, err := r.CancelRequested(ctx, jobID)
		if err == nil && cancelled {
			job.CancelRequested = true
		}
	}
	return &job, nil
}

// Save overwrites a record. Terminal records are scored into the
// retention set so Cleanup can find them later.
func (r *JobRecords) Save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	if job.Status.Terminal() {
		pipe.ZAdd(ctx, terminalZSet, redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: job.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save job record: %w", err)
	}
	return nil
}

// ListForDocument returns the document's jobs ordered by creation time.
func (r *JobRecords) ListForDocument(ctx context.Context, documentID string) ([]*models.Job, error) {
	ids, err := r.redis.SMembers(ctx, docJobsKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list document jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if err != nil {
			if errs.IsNotFound(err) {
				// Record aged out of retention; drop the dangling ref.
				r.redis.SRem(ctx, docJobsKey(documentID), id)
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}

	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.Before(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
	return jobs, nil
}

// RequestCancel raises the cancel flag. Workers poll it at stage
// boundaries.
func (r *JobRecords) RequestCancel(ctx context.Context, jobID string) error {
	return r.redis.Set(ctx, cancelKey(jobID), "1", 0).Err()
}

// CancelRequested reports whether a cancel has been requested.
func (r *JobRecords) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	n, err := r.redis.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CleanupBefore removes terminal records older than the threshold.
// Returns the number of records purged.
func (r *JobRecords) CleanupBefore(ctx context.Context, threshold time.Time) (int, error) {
	max := fmt.Sprintf("%d", threshold.Unix())
	ids, err := r.redis.ZRangeByScore(ctx, terminalZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan terminal jobs: %w", err)
	}

	for _, id := range ids {
		job, err := r.Get(ctx, id)
		pipe := r.redis.TxPipeline()
		pipe.Del(ctx, jobKey(id), cancelKey(id))
		pipe.ZRem(ctx, terminalZSet, id)
		if err == nil {
			pipe.SRem(ctx, docJobsKey(job.DocumentID), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("purge job %s: %w", id, err)
		}
	}
	return len(ids), nil
}
