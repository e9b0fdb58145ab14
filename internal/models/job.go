package models

import (
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type JobType string

const (
	JobPipeline JobType = "pipeline"
	JobExtract  JobType = "extract"
	JobChunk    JobType = "chunk"
	JobEmbed    JobType = "embed"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Job is the durable record of one pipeline run, stored as JSON in Redis
// and updated only by the worker holding it.
type Job struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"document_id"`
	Type            JobType    `json:"type"`
	Status          JobStatus  `json:"status"`
	Priority        Priority   `json:"priority"`
	Progress        int        `json:"progress"`
	Message         string     `json:"message,omitempty"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	Errors          []string   `json:"errors,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// SetProgress advances progress. Progress never moves backwards while the
// job is running.
func (j *Job) SetProgress(p int, msg string) {
	if j.Status == JobRunning && p < j.Progress {
		return
	}
	if p > 100 {
		p = 100
	}
	j.Progress = p
	if msg != "" {
		j.Message = msg
	}
}

// Stages returns the stage set a job type covers, used by the
// duplicate-enqueue guard: two jobs for the same document conflict when
// their stage sets overlap.
func (t JobType) Stages() []JobType {
	if t == JobPipeline {
		return []JobType{JobExtract, JobChunk, JobEmbed}
	}
	return []JobType{t}
}
