// Package errs defines the error taxonomy shared by the ingestion
// gateway, the pipeline stages and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError rejects an upload before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError marks a missing resource (case, document, job, chunk).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// StageError is the base for pipeline stage failures. Retryable stage
// errors let the orchestrator schedule another attempt.
type StageError struct {
	Stage     string
	Err       error
	Retryable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewExtractionError(err error) *StageError {
	return &StageError{Stage: "extraction", Err: err, Retryable: true}
}

func NewChunkingError(err error) *StageError {
	return &StageError{Stage: "chunking", Err: err, Retryable: true}
}

func NewEmbeddingError(err error) *StageError {
	return &StageError{Stage: "embedding", Err: err, Retryable: true}
}

// OrchestrationError covers queue and job-record failures.
type OrchestrationError struct {
	Op  string
	Err error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration %s failed: %v", e.Op, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// TimeoutError marks a stage that exceeded its deadline. Counted as a
// failed attempt like any other stage error.
type TimeoutError struct {
	Stage   string
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage timed out after %s", e.Stage, e.Elapsed)
}

// ErrJobActive is returned by the enqueue guard when a conflicting job
// already exists for the document.
var ErrJobActive = errors.New("an active job already exists for this document")

// ErrCancelled is returned when a worker observes a cancel request at a
// stage boundary.
var ErrCancelled = errors.New("job cancelled")

// IsRetryable reports whether err allows another attempt.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a synchronous validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err marks a missing resource.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
