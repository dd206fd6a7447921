// Package job defines the persistent state machine for one media-processing
// request. Records are created Pending by the admission path and mutated only
// by the orchestrator for the rest of their lifetime.
package job

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the lifecycle of a processing job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrInvalidTransition is returned when a status change violates the
	// state machine (for example completing a job that is not processing).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned by stores when no record exists for an id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyFinalized is returned by stores when a finalize attempt
	// races with another delivery that already completed the job.
	ErrAlreadyFinalized = errors.New("job already finalized")
)

// LogEntry is one append-only step log line. Entries are never removed or
// reordered; across retries the log accumulates every invocation's steps.
type LogEntry struct {
	At      time.Time      `json:"at"`
	Step    string         `json:"step"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Record represents one processing request and its progress.
type Record struct {
	ID        string `json:"id"`
	Tenant    string `json:"tenant"`
	SourceRef string `json:"sourceRef"`

	// Descriptive metadata, set once by the first successful resolution.
	Title           string `json:"title,omitempty"`
	Uploader        string `json:"uploader,omitempty"`
	DurationSeconds int    `json:"durationSeconds"`

	Status       Status     `json:"status"`
	StepLog      []LogEntry `json:"stepLog"`
	RetryCount   int        `json:"retryCount"`
	MaxRetries   int        `json:"maxRetries"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	// Artifact references, each empty until produced.
	AudioKey      string `json:"audioKey,omitempty"`
	TranscriptKey string `json:"transcriptKey,omitempty"`
	IndexedDocID  string `json:"indexedDocId,omitempty"`

	// URLExpiresAt governs the validity of the most recently issued signed
	// artifact URL for this job.
	URLExpiresAt *time.Time `json:"urlExpiresAt,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// New creates a Pending record for an admitted source reference.
func New(id, tenant, sourceRef string, maxRetries int) *Record {
	now := time.Now().UTC()
	if maxRetries < 0 {
		maxRetries = 0
	}
	rec := &Record{
		ID:         id,
		Tenant:     tenant,
		SourceRef:  sourceRef,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	rec.AddLog("admission", "job accepted", map[string]any{"sourceRef": sourceRef})
	return rec
}

// MarkProcessing moves the record into Processing. Allowed from Pending and
// from Failed while a retry is still available.
func (r *Record) MarkProcessing() error {
	switch r.Status {
	case StatusPending:
	case StatusFailed:
		if r.RetryCount >= r.MaxRetries {
			return fmt.Errorf("%w: retries exhausted, %s -> %s", ErrInvalidTransition, r.Status, StatusProcessing)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusProcessing)
	}
	now := time.Now().UTC()
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.Status = StatusProcessing
	r.ErrorMessage = ""
	r.CompletedAt = nil
	r.AddLog("dispatch", "processing started", nil)
	return nil
}

// MarkCompleted moves the record into Completed. Completed is terminal; no
// further mutation is permitted afterwards.
func (r *Record) MarkCompleted() error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusCompleted)
	}
	r.AddLog("finalize", "job completed", nil)
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = StatusCompleted
	r.UpdatedAt = now
	return nil
}

// MarkFailed moves the record into Failed and records the triggering error.
func (r *Record) MarkFailed(message string) error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	r.AddLog("failure", message, nil)
	now := time.Now().UTC()
	r.ErrorMessage = message
	r.CompletedAt = &now
	r.Status = StatusFailed
	r.UpdatedAt = now
	return nil
}

// AddLog appends a step log entry. Entries on a Completed record are dropped
// so the terminal log stays immutable.
func (r *Record) AddLog(step, message string, context map[string]any) {
	if r.Status == StatusCompleted {
		return
	}
	now := time.Now().UTC()
	r.StepLog = append(r.StepLog, LogEntry{
		At:      now,
		Step:    step,
		Message: message,
		Context: context,
	})
	r.UpdatedAt = now
}

// IncrementRetry reports whether another attempt is permitted, incrementing
// the counter only when it is. At the limit it returns false and leaves the
// record unchanged; the caller must then fail the job terminally.
func (r *Record) IncrementRetry() bool {
	if r.RetryCount+1 > r.MaxRetries {
		return false
	}
	r.RetryCount++
	r.UpdatedAt = time.Now().UTC()
	return true
}

// Terminal reports whether the record can never be processed again: either
// Completed, or Failed with no retries remaining.
func (r *Record) Terminal() bool {
	if r.Status == StatusCompleted {
		return true
	}
	return r.Status == StatusFailed && r.RetryCount >= r.MaxRetries
}

// Clone returns a deep copy so stores can hand out records without sharing
// the step log backing array.
func (r *Record) Clone() *Record {
	cp := *r
	cp.StepLog = make([]LogEntry, len(r.StepLog))
	copy(cp.StepLog, r.StepLog)
	for i, e := range cp.StepLog {
		if e.Context == nil {
			continue
		}
		ctx := make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			ctx[k] = v
		}
		cp.StepLog[i].Context = ctx
	}
	if r.URLExpiresAt != nil {
		t := *r.URLExpiresAt
		cp.URLExpiresAt = &t
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
