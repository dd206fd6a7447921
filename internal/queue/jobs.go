package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskProcessMedia is scheduled for every admitted job and for every
	// retry re-dispatch.
	TaskProcessMedia = "media:process"

	// TaskQuotaReset is scheduled periodically to reset usage counters.
	TaskQuotaReset = "quota:reset"
)

// Quota reset scopes carried in the task payload.
const (
	ScopeDaily   = "daily"
	ScopeMonthly = "monthly"
)

// ProcessPayload tells the worker which job record to drive.
type ProcessPayload struct {
	JobID string `json:"job_id"`
}

// QuotaResetPayload selects which counter window to reset.
type QuotaResetPayload struct {
	Scope string `json:"scope"`
}

// deliveryMaxRetry bounds framework-level redelivery of a task whose handler
// errored before the orchestrator's retry accounting could run, such as a
// store outage while loading or persisting the record. Step failures never
// reach it: the orchestrator absorbs them and returns nil, so its RetryCount
// stays the single source of truth for pipeline retries.
const deliveryMaxRetry = 3

// Client adapts an asynq client to the orchestrator's WorkQueue contract.
// Pipeline retry accounting lives in the orchestrator, which re-enqueues with
// its own backoff delay; the framework retry only covers delivery failures.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// Enqueue schedules a processing delivery for jobID, optionally delayed.
func (c *Client) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	data, err := json.Marshal(ProcessPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskProcessMedia, data)
	if _, err := c.inner.EnqueueContext(ctx, task, enqueueOptions(delay)...); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}

func enqueueOptions(delay time.Duration) []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(deliveryMaxRetry)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return opts
}

// NewQuotaResetTask builds the periodic reset task for scheduler
// registration. A sweep that keeps failing is dropped until the next cron
// firing; lazy resets on every ledger read cover the gap.
func NewQuotaResetTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(QuotaResetPayload{Scope: scope})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskQuotaReset, data, asynq.MaxRetry(deliveryMaxRetry)), nil
}
