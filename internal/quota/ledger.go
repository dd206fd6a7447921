// Package quota implements the per-tenant usage ledger that gates job
// admission and records consumption of completed work.
package quota

import (
	"context"
	"fmt"
	"time"
)

// Limits configures a tenant's quota. Zero values mean "no allowance", not
// "unlimited"; operators set real limits per plan tier outside this core.
type Limits struct {
	DailyLimit         int `json:"dailyLimit"`
	MonthlyLimit       int `json:"monthlyLimit"`
	MaxDurationSeconds int `json:"maxDurationSeconds"`
}

// Record is one tenant's ledger row. Counters only move forward within a
// period; the reset operations zero them at period boundaries.
type Record struct {
	Tenant             string    `json:"tenant"`
	DailyLimit         int       `json:"dailyLimit"`
	MonthlyLimit       int       `json:"monthlyLimit"`
	MaxDurationSeconds int       `json:"maxDurationSeconds"`
	UsedToday          int       `json:"usedToday"`
	UsedThisMonth      int       `json:"usedThisMonth"`
	LastDailyReset     time.Time `json:"lastDailyReset"`
	LastMonthlyReset   time.Time `json:"lastMonthlyReset"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// NewRecord creates a fresh ledger row for a tenant.
func NewRecord(tenant string, limits Limits, now time.Time) *Record {
	return &Record{
		Tenant:             tenant,
		DailyLimit:         limits.DailyLimit,
		MonthlyLimit:       limits.MonthlyLimit,
		MaxDurationSeconds: limits.MaxDurationSeconds,
		LastDailyReset:     now.UTC(),
		LastMonthlyReset:   now.UTC(),
		UpdatedAt:          now.UTC(),
	}
}

// DenyReason explains a refused reservation.
type DenyReason string

const (
	DenyDaily    DenyReason = "daily_limit"
	DenyMonthly  DenyReason = "monthly_limit"
	DenyDuration DenyReason = "max_duration"
)

// Decision is the outcome of a reservation check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Store abstracts ledger persistence. GetQuota creates the row lazily on
// first reference to a tenant. IncrementUsage must be atomic with respect to
// concurrent commits for the same tenant.
type Store interface {
	GetQuota(ctx context.Context, tenant string) (*Record, error)
	SaveQuota(ctx context.Context, rec *Record) error
	IncrementUsage(ctx context.Context, tenant string) error
}

// Ledger applies quota policy over a Store. Checks never mutate counters;
// mutation happens only in Commit, so callers can re-validate after metadata
// resolution without double-booking.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// CheckAndReserve is a pure read-check of the supplied duration against the
// tenant's current counters. Period resets are applied lazily first, so a
// check at the start of a new day sees zeroed daily usage.
func (l *Ledger) CheckAndReserve(ctx context.Context, tenant string, durationSeconds int) (Decision, error) {
	rec, err := l.refresh(ctx, tenant)
	if err != nil {
		return Decision{}, err
	}
	if durationSeconds > 0 && durationSeconds > rec.MaxDurationSeconds {
		return Decision{Reason: DenyDuration}, nil
	}
	if rec.UsedToday >= rec.DailyLimit {
		return Decision{Reason: DenyDaily}, nil
	}
	if rec.UsedThisMonth >= rec.MonthlyLimit {
		return Decision{Reason: DenyMonthly}, nil
	}
	return Decision{Allowed: true}, nil
}

// Commit records one unit of completed work. The underlying increment is
// atomic per tenant; two jobs finishing simultaneously are both reflected.
func (l *Ledger) Commit(ctx context.Context, tenant string) error {
	if err := l.store.IncrementUsage(ctx, tenant); err != nil {
		return fmt.Errorf("commit usage for %s: %w", tenant, err)
	}
	return nil
}

// ResetDaily zeroes the daily counter once per calendar day. Calling it
// again on the same date is a no-op, so it is safe both as a lazy reset on
// every read and from a periodic external trigger.
func (l *Ledger) ResetDaily(ctx context.Context, tenant string) error {
	rec, err := l.store.GetQuota(ctx, tenant)
	if err != nil {
		return err
	}
	if !resetDaily(rec, l.now().UTC()) {
		return nil
	}
	return l.store.SaveQuota(ctx, rec)
}

// ResetMonthly zeroes the monthly counter once per calendar month.
func (l *Ledger) ResetMonthly(ctx context.Context, tenant string) error {
	rec, err := l.store.GetQuota(ctx, tenant)
	if err != nil {
		return err
	}
	if !resetMonthly(rec, l.now().UTC()) {
		return nil
	}
	return l.store.SaveQuota(ctx, rec)
}

// Usage returns the tenant's current ledger row after lazy resets, for the
// read-only reporting surface.
func (l *Ledger) Usage(ctx context.Context, tenant string) (*Record, error) {
	return l.refresh(ctx, tenant)
}

func (l *Ledger) refresh(ctx context.Context, tenant string) (*Record, error) {
	rec, err := l.store.GetQuota(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load quota for %s: %w", tenant, err)
	}
	now := l.now().UTC()
	changed := resetMonthly(rec, now)
	if resetDaily(rec, now) {
		changed = true
	}
	if changed {
		if err := l.store.SaveQuota(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist quota reset for %s: %w", tenant, err)
		}
	}
	return rec, nil
}

func resetDaily(rec *Record, now time.Time) bool {
	if sameDay(rec.LastDailyReset, now) {
		return false
	}
	rec.UsedToday = 0
	rec.LastDailyReset = now
	rec.UpdatedAt = now
	return true
}

func resetMonthly(rec *Record, now time.Time) bool {
	if sameMonth(rec.LastMonthlyReset, now) {
		return false
	}
	rec.UsedThisMonth = 0
	rec.LastMonthlyReset = now
	rec.UpdatedAt = now
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}
