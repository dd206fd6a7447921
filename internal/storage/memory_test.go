package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/MediaVault/internal/job"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
)

var testLimits = quota.Limits{DailyLimit: 100, MonthlyLimit: 1000, MaxDurationSeconds: 600}

func TestGetJobNotFound(t *testing.T) {
	store := NewMemoryStore(testLimits)
	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestJobRoundTripIsCopied(t *testing.T) {
	store := NewMemoryStore(testLimits)
	ctx := context.Background()
	rec := job.New("j1", "acme", "https://media.example/watch?v=abc", 2)
	require.NoError(t, store.CreateJob(ctx, rec))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	got.Title = "mutated"
	got.AddLog("stray", "should not leak", nil)

	again, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, again.Title)
	assert.Len(t, again.StepLog, 1)
}

func TestFinalizeJobCommitsOnce(t *testing.T) {
	store := NewMemoryStore(testLimits)
	ctx := context.Background()
	rec := job.New("j1", "acme", "https://media.example/watch?v=abc", 2)
	require.NoError(t, rec.MarkProcessing())
	require.NoError(t, store.CreateJob(ctx, rec))

	first := rec.Clone()
	second := rec.Clone()
	require.NoError(t, store.FinalizeJob(ctx, first))
	assert.Equal(t, job.StatusCompleted, first.Status)
	require.ErrorIs(t, store.FinalizeJob(ctx, second), job.ErrAlreadyFinalized)
	// A failed finalize leaves the caller's record untouched.
	assert.Equal(t, job.StatusProcessing, second.Status)

	q, err := store.GetQuota(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, q.UsedToday)
	assert.Equal(t, 1, q.UsedThisMonth)

	stored, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, stored.Status)
}

func TestConcurrentIncrementUsage(t *testing.T) {
	store := NewMemoryStore(testLimits)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.IncrementUsage(ctx, "acme")
		}()
	}
	wg.Wait()
	q, err := store.GetQuota(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 40, q.UsedToday)
}

func TestListTenants(t *testing.T) {
	store := NewMemoryStore(testLimits)
	ctx := context.Background()
	_, err := store.GetQuota(ctx, "acme")
	require.NoError(t, err)
	_, err = store.GetQuota(ctx, "globex")
	require.NoError(t, err)

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme", "globex"}, tenants)
}
