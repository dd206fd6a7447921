package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/MediaVault/internal/job"
)

// JobRepository wraps all job SQL used by the API and worker.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository constructs a repository.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// CreateJob inserts a freshly admitted record.
func (r *JobRepository) CreateJob(ctx context.Context, rec *job.Record) error {
	stepLog, err := json.Marshal(rec.StepLog)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (id, tenant, source_ref, title, uploader, duration_seconds, status,
			step_log, retry_count, max_retries, error_message, audio_key, transcript_key,
			indexed_doc_id, url_expires_at, started_at, completed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, rec.ID, rec.Tenant, rec.SourceRef, rec.Title, rec.Uploader, rec.DurationSeconds, rec.Status,
		stepLog, rec.RetryCount, rec.MaxRetries, nullString(rec.ErrorMessage), nullString(rec.AudioKey),
		nullString(rec.TranscriptKey), nullString(rec.IndexedDocID), rec.URLExpiresAt,
		rec.StartedAt, rec.CompletedAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a record by id.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*job.Record, error) {
	var (
		rec           job.Record
		stepLog       []byte
		errorMessage  sql.NullString
		audioKey      sql.NullString
		transcriptKey sql.NullString
		indexedDocID  sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant, source_ref, title, uploader, duration_seconds, status, step_log,
			retry_count, max_retries, error_message, audio_key, transcript_key, indexed_doc_id,
			url_expires_at, started_at, completed_at, created_at, updated_at
		FROM jobs WHERE id=$1
	`, id)
	if err := row.Scan(&rec.ID, &rec.Tenant, &rec.SourceRef, &rec.Title, &rec.Uploader,
		&rec.DurationSeconds, &rec.Status, &stepLog, &rec.RetryCount, &rec.MaxRetries,
		&errorMessage, &audioKey, &transcriptKey, &indexedDocID, &rec.URLExpiresAt,
		&rec.StartedAt, &rec.CompletedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	if err := json.Unmarshal(stepLog, &rec.StepLog); err != nil {
		return nil, fmt.Errorf("decode step log: %w", err)
	}
	rec.ErrorMessage = errorMessage.String
	rec.AudioKey = audioKey.String
	rec.TranscriptKey = transcriptKey.String
	rec.IndexedDocID = indexedDocID.String
	return &rec, nil
}

// SaveJob persists the mutable record state.
func (r *JobRepository) SaveJob(ctx context.Context, rec *job.Record) error {
	stepLog, err := json.Marshal(rec.StepLog)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET title=$2, uploader=$3, duration_seconds=$4, status=$5, step_log=$6,
			retry_count=$7, error_message=$8, audio_key=$9, transcript_key=$10,
			indexed_doc_id=$11, url_expires_at=$12, started_at=$13, completed_at=$14,
			updated_at=$15
		WHERE id=$1
	`, rec.ID, rec.Title, rec.Uploader, rec.DurationSeconds, rec.Status, stepLog,
		rec.RetryCount, nullString(rec.ErrorMessage), nullString(rec.AudioKey),
		nullString(rec.TranscriptKey), nullString(rec.IndexedDocID), rec.URLExpiresAt,
		rec.StartedAt, rec.CompletedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

// FinalizeJob commits one unit of quota usage and marks the record Completed
// in a single transaction. The conditional status flip guarantees that a
// duplicate delivery can never commit usage twice. The terminal transition is
// staged on a clone; rec stays untouched until the transaction commits, so a
// failed finalize leaves the record retryable.
func (r *JobRepository) FinalizeJob(ctx context.Context, rec *job.Record) error {
	cp := rec.Clone()
	if err := cp.MarkCompleted(); err != nil {
		return err
	}
	stepLog, err := json.Marshal(cp.StepLog)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET title=$2, uploader=$3, duration_seconds=$4, status=$5, step_log=$6,
			audio_key=$7, transcript_key=$8, indexed_doc_id=$9, url_expires_at=$10,
			completed_at=$11, error_message=NULL, updated_at=$12
		WHERE id=$1 AND status=$13
	`, cp.ID, cp.Title, cp.Uploader, cp.DurationSeconds, cp.Status, stepLog,
		nullString(cp.AudioKey), nullString(cp.TranscriptKey), nullString(cp.IndexedDocID),
		cp.URLExpiresAt, cp.CompletedAt, time.Now().UTC(), job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrAlreadyFinalized
	}
	if _, err := tx.Exec(ctx, `
		UPDATE quotas
		SET used_today = used_today + 1,
			used_this_month = used_this_month + 1,
			updated_at = $2
		WHERE tenant=$1
	`, cp.Tenant, time.Now().UTC()); err != nil {
		return fmt.Errorf("commit quota usage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	*rec = *cp
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
