// Package storage contains the in-memory persistence layer used by tests
// and single-process setups. It implements the same store contracts as the
// Postgres repositories.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dharsanguruparan/MediaVault/internal/job"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
)

// MemoryStore keeps job records and quota rows behind a single RWMutex. Jobs
// and quotas share the lock so FinalizeJob can flip a job terminal and
// commit usage as one atomic step, mirroring the Postgres transaction.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*job.Record
	quotas   map[string]*quota.Record
	defaults quota.Limits
	now      func() time.Time
}

// NewMemoryStore constructs a MemoryStore. Lazily created tenants receive
// the supplied default limits.
func NewMemoryStore(defaults quota.Limits) *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*job.Record),
		quotas:   make(map[string]*quota.Record),
		defaults: defaults,
		now:      time.Now,
	}
}

// CreateJob inserts a new record.
func (m *MemoryStore) CreateJob(_ context.Context, rec *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[rec.ID] = rec.Clone()
	return nil
}

// GetJob returns a deep copy of a record.
func (m *MemoryStore) GetJob(_ context.Context, id string) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return rec.Clone(), nil
}

// SaveJob persists the record state.
func (m *MemoryStore) SaveJob(_ context.Context, rec *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[rec.ID]; !ok {
		return job.ErrNotFound
	}
	m.jobs[rec.ID] = rec.Clone()
	return nil
}

// FinalizeJob commits one unit of quota usage for the job's tenant and
// persists the record as Completed, atomically. A job that is no longer
// Processing in the store has been finalized by a concurrent delivery.
func (m *MemoryStore) FinalizeJob(_ context.Context, rec *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[rec.ID]
	if !ok {
		return job.ErrNotFound
	}
	if stored.Status != job.StatusProcessing {
		return job.ErrAlreadyFinalized
	}
	cp := rec.Clone()
	if err := cp.MarkCompleted(); err != nil {
		return err
	}
	q := m.quotaLocked(rec.Tenant)
	q.UsedToday++
	q.UsedThisMonth++
	q.UpdatedAt = m.now().UTC()
	m.jobs[rec.ID] = cp.Clone()
	*rec = *cp
	return nil
}

// GetQuota returns the tenant's ledger row, creating it on first reference.
func (m *MemoryStore) GetQuota(_ context.Context, tenant string) (*quota.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.quotaLocked(tenant)
	cp := *rec
	return &cp, nil
}

// SaveQuota persists a ledger row.
func (m *MemoryStore) SaveQuota(_ context.Context, rec *quota.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.quotas[rec.Tenant] = &cp
	return nil
}

// IncrementUsage atomically bumps both usage counters for a tenant.
func (m *MemoryStore) IncrementUsage(_ context.Context, tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.quotaLocked(tenant)
	rec.UsedToday++
	rec.UsedThisMonth++
	rec.UpdatedAt = m.now().UTC()
	return nil
}

// ListTenants returns every tenant with a ledger row.
func (m *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenants := make([]string, 0, len(m.quotas))
	for tenant := range m.quotas {
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

func (m *MemoryStore) quotaLocked(tenant string) *quota.Record {
	rec, ok := m.quotas[tenant]
	if !ok {
		rec = quota.NewRecord(tenant, m.defaults, m.now().UTC())
		m.quotas[tenant] = rec
	}
	return rec
}
