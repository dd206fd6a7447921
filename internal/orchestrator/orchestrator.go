// Package orchestrator drives a job record through the processing pipeline:
// resolve metadata, enforce quota, extract audio, transcribe, integrate into
// the search index, finalize. It owns retry accounting and is the only
// writer of a record during its processing lifetime.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dharsanguruparan/MediaVault/internal/job"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
)

// Step names used to tag log entries.
const (
	StepResolve    = "resolve"
	StepQuota      = "quota"
	StepExtract    = "extract"
	StepTranscribe = "transcribe"
	StepIntegrate  = "integrate"
	StepFinalize   = "finalize"
)

// Metadata describes a source as reported by the resolver.
type Metadata struct {
	Title           string
	Uploader        string
	DurationSeconds int
}

// MetadataResolver looks up descriptive fields for a source reference.
type MetadataResolver interface {
	Resolve(ctx context.Context, sourceRef string) (Metadata, error)
}

// ArtifactStore produces and serves intermediate artifacts.
type ArtifactStore interface {
	ExtractAudio(ctx context.Context, jobID, sourceRef string) (string, error)
	StoreTranscript(ctx context.Context, jobID, text string) (string, error)
	LoadTranscript(ctx context.Context, key string) (string, error)
	IssueSignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// Transcriber converts an audio artifact into text. The call blocks until a
// result or terminal error is available; it enforces its own timeout.
type Transcriber interface {
	Transcribe(ctx context.Context, audioKey string) (string, error)
}

// IndexIntegration hands a transcript to the downstream search index.
type IndexIntegration interface {
	Integrate(ctx context.Context, tenant, title, text string) (string, error)
}

// WorkQueue re-dispatches a job after a backoff delay. Delivery is
// at-least-once.
type WorkQueue interface {
	Enqueue(ctx context.Context, jobID string, delay time.Duration) error
}

// JobStore persists job records. FinalizeJob must commit quota usage and
// mark the record Completed atomically, returning job.ErrAlreadyFinalized
// when a concurrent delivery won the terminal transition. On any error the
// record must be left unmodified so failure bookkeeping can still run.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*job.Record, error)
	SaveJob(ctx context.Context, rec *job.Record) error
	FinalizeJob(ctx context.Context, rec *job.Record) error
}

// Config carries the tunables; tests inject deterministic values.
type Config struct {
	// RetryBackoff is the fixed delay before a retried attempt.
	RetryBackoff time.Duration
	// RunTimeout bounds the extract/transcribe/integrate steps of one
	// invocation collectively. Exceeding it is a transient failure.
	RunTimeout time.Duration
	// SignedURLTTL is the lifetime of issued artifact URLs.
	SignedURLTTL time.Duration
}

// Orchestrator executes the pipeline for one job per Run invocation.
type Orchestrator struct {
	cfg        Config
	jobs       JobStore
	ledger     *quota.Ledger
	resolver   MetadataResolver
	artifacts  ArtifactStore
	transcribe Transcriber
	index      IndexIntegration
	queue      WorkQueue
}

// New constructs an Orchestrator.
func New(cfg Config, jobs JobStore, ledger *quota.Ledger, resolver MetadataResolver,
	artifacts ArtifactStore, transcriber Transcriber, index IndexIntegration, queue WorkQueue) *Orchestrator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		cfg:        cfg,
		jobs:       jobs,
		ledger:     ledger,
		resolver:   resolver,
		artifacts:  artifacts,
		transcribe: transcriber,
		index:      index,
		queue:      queue,
	}
}

// Run drives the job through the pipeline. It is invoked once per dequeue
// and is idempotent for terminal jobs: re-running a Completed or
// permanently-Failed record is a no-op.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	rec, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if rec.Terminal() {
		log.Printf("job %s already terminal (%s), skipping", rec.ID, rec.Status)
		return nil
	}
	// A retried job stays in Processing between attempts, so only Pending
	// and re-dispatched Failed records transition here.
	if rec.Status != job.StatusProcessing {
		if err := rec.MarkProcessing(); err != nil {
			return fmt.Errorf("job %s: %w", rec.ID, err)
		}
	} else if rec.RetryCount > 0 {
		rec.AddLog("dispatch", "retrying", map[string]any{"attempt": rec.RetryCount + 1})
	}
	if err := o.jobs.SaveJob(ctx, rec); err != nil {
		return fmt.Errorf("persist job %s: %w", rec.ID, err)
	}

	// Step 1: resolve metadata. Populated exactly once; retried attempts
	// skip the lookup when a previous attempt already resolved it.
	if rec.DurationSeconds == 0 {
		meta, err := o.resolver.Resolve(ctx, rec.SourceRef)
		if err != nil {
			return o.handleFailure(ctx, rec, StepResolve, err)
		}
		rec.Title = meta.Title
		rec.Uploader = meta.Uploader
		rec.DurationSeconds = meta.DurationSeconds
		rec.AddLog(StepResolve, "metadata resolved", map[string]any{
			"title":           meta.Title,
			"durationSeconds": meta.DurationSeconds,
		})
	} else {
		rec.AddLog(StepResolve, "metadata already resolved", nil)
	}

	// Step 2: re-validate quota with the true duration. A violation here is
	// permanent: no retry, no usage commit.
	dec, err := o.ledger.CheckAndReserve(ctx, rec.Tenant, rec.DurationSeconds)
	if err != nil {
		return o.handleFailure(ctx, rec, StepQuota, err)
	}
	if !dec.Allowed {
		return o.handleFailure(ctx, rec, StepQuota,
			Permanent(fmt.Errorf("quota exceeded: %s", dec.Reason)))
	}
	rec.AddLog(StepQuota, "quota check passed", map[string]any{"durationSeconds": rec.DurationSeconds})

	// Steps 3-5 share one wall-clock deadline; blowing it surfaces as a
	// context error and takes the transient retry path.
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	// Step 3: acquire the audio artifact and lease a signed URL for it.
	if rec.AudioKey == "" {
		audioKey, err := o.artifacts.ExtractAudio(runCtx, rec.ID, rec.SourceRef)
		if err != nil {
			return o.handleFailure(ctx, rec, StepExtract, err)
		}
		rec.AudioKey = audioKey
		_, expiresAt, err := o.artifacts.IssueSignedURL(runCtx, audioKey, o.cfg.SignedURLTTL)
		if err != nil {
			return o.handleFailure(ctx, rec, StepExtract, err)
		}
		rec.URLExpiresAt = &expiresAt
		rec.AddLog(StepExtract, "audio artifact stored", map[string]any{
			"audioKey":     audioKey,
			"urlExpiresAt": expiresAt,
		})
	}

	// Step 4: transcribe. This is the dominant latency source; it blocks
	// without holding any ledger or store lock.
	var text string
	if rec.TranscriptKey == "" {
		text, err = o.transcribe.Transcribe(runCtx, rec.AudioKey)
		if err != nil {
			return o.handleFailure(ctx, rec, StepTranscribe, err)
		}
		transcriptKey, err := o.artifacts.StoreTranscript(runCtx, rec.ID, text)
		if err != nil {
			return o.handleFailure(ctx, rec, StepTranscribe, err)
		}
		rec.TranscriptKey = transcriptKey
		rec.AddLog(StepTranscribe, "transcript stored", map[string]any{
			"transcriptKey": transcriptKey,
			"characters":    len(text),
		})
	} else {
		text, err = o.artifacts.LoadTranscript(runCtx, rec.TranscriptKey)
		if err != nil {
			return o.handleFailure(ctx, rec, StepTranscribe, err)
		}
	}

	// Step 5: integrate into the search index.
	if rec.IndexedDocID == "" {
		docID, err := o.index.Integrate(runCtx, rec.Tenant, rec.Title, text)
		if err != nil {
			return o.handleFailure(ctx, rec, StepIntegrate, err)
		}
		rec.IndexedDocID = docID
		rec.AddLog(StepIntegrate, "document indexed", map[string]any{"indexedDocId": docID})
	}

	// Step 6: commit quota usage and mark completed, atomically in the
	// store. Quota reflects completed work only, and the conditional
	// terminal transition guards against double-commit under duplicate
	// delivery.
	if err := o.jobs.FinalizeJob(ctx, rec); err != nil {
		if errors.Is(err, job.ErrAlreadyFinalized) {
			log.Printf("job %s finalized by a concurrent delivery", rec.ID)
			return nil
		}
		return o.handleFailure(ctx, rec, StepFinalize, err)
	}
	log.Printf("job %s completed (tenant=%s duration=%ds)", rec.ID, rec.Tenant, rec.DurationSeconds)
	return nil
}

// handleFailure records the step error, then either schedules a retry or
// fails the job terminally. The log entry is written before any decision so
// the audit trail survives permanent failure.
func (o *Orchestrator) handleFailure(ctx context.Context, rec *job.Record, step string, cause error) error {
	// Failure bookkeeping mutates the record, so it must still be live. A
	// record that left Processing here means the store violated its finalize
	// contract; persisting retry state over a terminal status would complete
	// the job without its quota commit. Surface the delivery error instead.
	if rec.Status != job.StatusProcessing {
		return fmt.Errorf("job %s: %s failed after terminal transition: %w", rec.ID, step, cause)
	}
	permanent := IsPermanent(cause)
	rec.AddLog(step, "step failed", map[string]any{
		"error":     cause.Error(),
		"permanent": permanent,
	})
	if permanent || !rec.IncrementRetry() {
		if err := rec.MarkFailed(cause.Error()); err != nil {
			return fmt.Errorf("job %s: %w", rec.ID, err)
		}
		if err := o.jobs.SaveJob(ctx, rec); err != nil {
			return fmt.Errorf("persist failed job %s: %w", rec.ID, err)
		}
		log.Printf("job %s failed at %s: %v (permanent=%t retries=%d)",
			rec.ID, step, cause, permanent, rec.RetryCount)
		return nil
	}
	// Status stays Processing between attempts so a duplicate dequeue is
	// distinguishable from a fresh dispatch.
	rec.AddLog(step, "retry scheduled", map[string]any{
		"retryCount": rec.RetryCount,
		"backoff":    o.cfg.RetryBackoff.String(),
	})
	if err := o.jobs.SaveJob(ctx, rec); err != nil {
		return fmt.Errorf("persist retrying job %s: %w", rec.ID, err)
	}
	if err := o.queue.Enqueue(ctx, rec.ID, o.cfg.RetryBackoff); err != nil {
		return fmt.Errorf("re-enqueue job %s: %w", rec.ID, err)
	}
	log.Printf("job %s retry %d/%d scheduled after %s (step=%s: %v)",
		rec.ID, rec.RetryCount, rec.MaxRetries, o.cfg.RetryBackoff, step, cause)
	return nil
}
