// Package admission validates incoming processing requests before any job
// record exists. The gate rejects synchronously and never mutates quota
// counters; record creation and enqueueing belong to the caller.
package admission

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/MediaVault/internal/job"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonInvalidReference Reason = "invalid_reference"
	ReasonQuotaDaily       Reason = "quota_exceeded_daily"
	ReasonQuotaMonthly     Reason = "quota_exceeded_monthly"
)

// Rejection is returned when a request cannot be admitted. It is never
// retried; callers report it synchronously.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected (%s): %s", r.Reason, r.Detail)
}

// AsRejection extracts a Rejection from an Admit error, if it is one.
func AsRejection(err error) (*Rejection, bool) {
	rej, ok := err.(*Rejection)
	return rej, ok
}

// mediaIDPattern accepts the opaque identifiers media platforms embed in
// watch URLs and short links.
var mediaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`)

// Gate performs source validation and a read-only quota pre-check.
type Gate struct {
	ledger     *quota.Ledger
	maxRetries int
}

// NewGate constructs a Gate. maxRetries is stamped onto admitted drafts so
// retry policy is fixed at admission time.
func NewGate(ledger *quota.Ledger, maxRetries int) *Gate {
	return &Gate{ledger: ledger, maxRetries: maxRetries}
}

// Admit validates the source reference and the tenant's remaining quota.
// On success it returns a Pending job draft; persisting and enqueueing it is
// the caller's responsibility. True duration is unknown here, so the quota
// check uses duration 0 as a coarse pre-filter; the orchestrator re-checks
// with the resolved duration before committing usage.
func (g *Gate) Admit(ctx context.Context, sourceRef, tenant string) (*job.Record, error) {
	normalized, err := NormalizeSource(sourceRef)
	if err != nil {
		return nil, &Rejection{Reason: ReasonInvalidReference, Detail: err.Error()}
	}
	dec, err := g.ledger.CheckAndReserve(ctx, tenant, 0)
	if err != nil {
		return nil, fmt.Errorf("quota pre-check: %w", err)
	}
	if !dec.Allowed {
		switch dec.Reason {
		case quota.DenyMonthly:
			return nil, &Rejection{Reason: ReasonQuotaMonthly, Detail: "monthly processing limit reached"}
		default:
			return nil, &Rejection{Reason: ReasonQuotaDaily, Detail: "daily processing limit reached"}
		}
	}
	return job.New(uuid.NewString(), tenant, normalized, g.maxRetries), nil
}

// NormalizeSource validates a source reference and returns its normalized
// URL form. A reference is acceptable when it is an http(s) URL from which a
// stable media identifier can be extracted.
func NormalizeSource(sourceRef string) (string, error) {
	trimmed := strings.TrimSpace(sourceRef)
	if trimmed == "" {
		return "", fmt.Errorf("empty source reference")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse source reference: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	id := extractMediaID(u)
	if id == "" {
		return "", fmt.Errorf("no stable media identifier in reference")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

// extractMediaID pulls the platform identifier out of the URL: the v query
// parameter on watch pages, otherwise the last non-empty path segment.
func extractMediaID(u *url.URL) string {
	if v := u.Query().Get("v"); v != "" && mediaIDPattern.MatchString(v) {
		return v
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := segments[i]; seg != "" && mediaIDPattern.MatchString(seg) {
			return seg
		}
	}
	return ""
}
