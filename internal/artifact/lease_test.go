package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/MediaVault/internal/job"
)

type countingIssuer struct {
	calls int
	now   func() time.Time
}

func (c *countingIssuer) IssueSignedURL(_ context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	c.calls++
	return "https://store.example/" + key + "?sig=" + time.Duration(c.calls).String(), c.now().Add(ttl), nil
}

func TestFreshIssuesAndCaches(t *testing.T) {
	clock := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	issuer := &countingIssuer{now: func() time.Time { return clock }}
	leaser := NewLeaser(issuer, time.Hour)
	leaser.now = func() time.Time { return clock }

	lease, issued, err := leaser.Fresh(context.Background(), nil, "audio/j1.mp3")
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, clock.Add(time.Hour), lease.ExpiresAt)

	// Still valid: same lease, no reissue.
	clock = clock.Add(30 * time.Minute)
	again, issued, err := leaser.Fresh(context.Background(), nil, "audio/j1.mp3")
	require.NoError(t, err)
	assert.False(t, issued)
	assert.Equal(t, lease.URL, again.URL)
	assert.Equal(t, 1, issuer.calls)
}

func TestFreshReissuesAfterExpiry(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := start
	issuer := &countingIssuer{now: func() time.Time { return clock }}
	leaser := NewLeaser(issuer, 3600*time.Second)
	leaser.now = func() time.Time { return clock }

	first, _, err := leaser.Fresh(context.Background(), nil, "audio/j1.mp3")
	require.NoError(t, err)

	// One second past the TTL: the lease must be reissued with a new
	// expiry, not reused.
	clock = start.Add(3601 * time.Second)
	second, issued, err := leaser.Fresh(context.Background(), nil, "audio/j1.mp3")
	require.NoError(t, err)
	assert.True(t, issued)
	assert.NotEqual(t, first.URL, second.URL)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, 2, issuer.calls)
}

func TestFreshUpdatesRecordExpiry(t *testing.T) {
	clock := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	issuer := &countingIssuer{now: func() time.Time { return clock }}
	leaser := NewLeaser(issuer, time.Hour)
	leaser.now = func() time.Time { return clock }

	rec := job.New("j1", "acme", "https://media.example/watch?v=abc", 1)
	lease, _, err := leaser.Fresh(context.Background(), rec, "audio/j1.mp3")
	require.NoError(t, err)
	require.NotNil(t, rec.URLExpiresAt)
	assert.Equal(t, lease.ExpiresAt, *rec.URLExpiresAt)
}
