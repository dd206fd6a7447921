// Package worker plugs the orchestrator and quota resets into the asynq
// worker loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/MediaVault/internal/orchestrator"
	"github.com/dharsanguruparan/MediaVault/internal/queue"
	"github.com/dharsanguruparan/MediaVault/internal/quota"
)

// TenantLister enumerates tenants for the periodic quota-reset sweep.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// Processor routes queued tasks to the orchestrator and the quota ledger.
type Processor struct {
	orch    *orchestrator.Orchestrator
	ledger  *quota.Ledger
	tenants TenantLister
}

// NewProcessor constructs a worker processor.
func NewProcessor(orch *orchestrator.Orchestrator, ledger *quota.Ledger, tenants TenantLister) *Processor {
	return &Processor{orch: orch, ledger: ledger, tenants: tenants}
}

// Handler registers all task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskProcessMedia, p.handleProcess)
	mux.HandleFunc(queue.TaskQuotaReset, p.handleQuotaReset)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	// Run owns all failure handling; an error here means the record itself
	// could not be loaded or persisted.
	if err := p.orch.Run(ctx, payload.JobID); err != nil {
		log.Printf("processing delivery for %s errored: %v", payload.JobID, err)
		return err
	}
	return nil
}

func (p *Processor) handleQuotaReset(ctx context.Context, task *asynq.Task) error {
	var payload queue.QuotaResetPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	tenants, err := p.tenants.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	var failed int
	for _, tenant := range tenants {
		var err error
		switch payload.Scope {
		case queue.ScopeDaily:
			err = p.ledger.ResetDaily(ctx, tenant)
		case queue.ScopeMonthly:
			err = p.ledger.ResetMonthly(ctx, tenant)
		default:
			return fmt.Errorf("unknown reset scope %q", payload.Scope)
		}
		if err != nil {
			log.Printf("%s quota reset failed for %s: %v", payload.Scope, tenant, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%s quota reset failed for %d of %d tenants", payload.Scope, failed, len(tenants))
	}
	log.Printf("%s quota reset applied to %d tenants", payload.Scope, len(tenants))
	return nil
}
