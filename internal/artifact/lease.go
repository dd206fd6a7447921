// Package artifact manages the lifetime of signed artifact URLs. Object
// store links are issued with a fixed TTL; an expired lease is reissued with
// a fresh expiry, never reused.
package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dharsanguruparan/MediaVault/internal/job"
)

// Issuer produces a time-limited URL for an artifact key.
type Issuer interface {
	IssueSignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// Lease is a signed URL together with its expiry.
type Lease struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Leaser caches issued leases per artifact key and reissues them once their
// TTL has elapsed.
type Leaser struct {
	issuer Issuer
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	leases map[string]Lease
}

// NewLeaser constructs a Leaser issuing URLs with the given TTL.
func NewLeaser(issuer Issuer, ttl time.Duration) *Leaser {
	return &Leaser{
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
		leases: make(map[string]Lease),
	}
}

// Fresh returns a currently valid lease for key, reissuing when none exists
// or the cached one has expired. When rec is non-nil its URLExpiresAt is
// updated to the returned lease's expiry. The second return reports whether
// a new URL was issued.
func (l *Leaser) Fresh(ctx context.Context, rec *job.Record, key string) (Lease, bool, error) {
	l.mu.Lock()
	cached, ok := l.leases[key]
	l.mu.Unlock()
	now := l.now()
	if ok && now.Before(cached.ExpiresAt) {
		if rec != nil {
			exp := cached.ExpiresAt
			rec.URLExpiresAt = &exp
		}
		return cached, false, nil
	}

	url, expiresAt, err := l.issuer.IssueSignedURL(ctx, key, l.ttl)
	if err != nil {
		return Lease{}, false, fmt.Errorf("issue signed url for %s: %w", key, err)
	}
	lease := Lease{URL: url, ExpiresAt: expiresAt}
	l.mu.Lock()
	l.leases[key] = lease
	l.mu.Unlock()
	if rec != nil {
		exp := expiresAt
		rec.URLExpiresAt = &exp
	}
	return lease, true, nil
}
