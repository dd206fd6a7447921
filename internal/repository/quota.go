package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/MediaVault/internal/quota"
)

// QuotaRepository persists per-tenant ledger rows. Unknown tenants get a row
// with the configured default limits on first read.
type QuotaRepository struct {
	pool     *pgxpool.Pool
	defaults quota.Limits
}

// NewQuotaRepository constructs a repository with default limits for new
// tenants.
func NewQuotaRepository(pool *pgxpool.Pool, defaults quota.Limits) *QuotaRepository {
	return &QuotaRepository{pool: pool, defaults: defaults}
}

// GetQuota loads a tenant's ledger row, creating it lazily.
func (r *QuotaRepository) GetQuota(ctx context.Context, tenant string) (*quota.Record, error) {
	rec, err := r.scanQuota(ctx, tenant)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("select quota: %w", err)
	}

	fresh := quota.NewRecord(tenant, r.defaults, time.Now())
	// ON CONFLICT covers two requests racing to create the same tenant.
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO quotas (tenant, daily_limit, monthly_limit, max_duration_seconds,
			used_today, used_this_month, last_daily_reset, last_monthly_reset, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant) DO NOTHING
	`, fresh.Tenant, fresh.DailyLimit, fresh.MonthlyLimit, fresh.MaxDurationSeconds,
		fresh.UsedToday, fresh.UsedThisMonth, fresh.LastDailyReset, fresh.LastMonthlyReset,
		fresh.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create quota: %w", err)
	}
	rec, err = r.scanQuota(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("reload quota: %w", err)
	}
	return rec, nil
}

// SaveQuota persists limit and counter changes for an existing row.
func (r *QuotaRepository) SaveQuota(ctx context.Context, rec *quota.Record) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE quotas
		SET daily_limit=$2, monthly_limit=$3, max_duration_seconds=$4,
			used_today=$5, used_this_month=$6, last_daily_reset=$7,
			last_monthly_reset=$8, updated_at=$9
		WHERE tenant=$1
	`, rec.Tenant, rec.DailyLimit, rec.MonthlyLimit, rec.MaxDurationSeconds,
		rec.UsedToday, rec.UsedThisMonth, rec.LastDailyReset, rec.LastMonthlyReset,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update quota: %w", err)
	}
	return nil
}

// IncrementUsage bumps both counters atomically for one completed job.
func (r *QuotaRepository) IncrementUsage(ctx context.Context, tenant string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE quotas
		SET used_today = used_today + 1,
			used_this_month = used_this_month + 1,
			updated_at = $2
		WHERE tenant=$1
	`, tenant, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// ListTenants returns every tenant with a ledger row, for the periodic reset
// sweep.
func (r *QuotaRepository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant FROM quotas ORDER BY tenant`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *QuotaRepository) scanQuota(ctx context.Context, tenant string) (*quota.Record, error) {
	var rec quota.Record
	row := r.pool.QueryRow(ctx, `
		SELECT tenant, daily_limit, monthly_limit, max_duration_seconds,
			used_today, used_this_month, last_daily_reset, last_monthly_reset, updated_at
		FROM quotas WHERE tenant=$1
	`, tenant)
	if err := row.Scan(&rec.Tenant, &rec.DailyLimit, &rec.MonthlyLimit, &rec.MaxDurationSeconds,
		&rec.UsedToday, &rec.UsedThisMonth, &rec.LastDailyReset, &rec.LastMonthlyReset,
		&rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
