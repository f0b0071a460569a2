package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

// ProcessSummary counts what one unattended run did.
type ProcessSummary struct {
	Checked  int
	Outcomes map[Outcome]int
	// Errors counts records whose execution or save returned an error,
	// rejected ones included.
	Errors int
}

// RecurringProcessor executes every due auto-apply record. It is the external
// trigger the engine expects: it owns no schedule and is driven by a ticker
// in cmd/recurring-worker.
type RecurringProcessor struct {
	store       ledger.RecurringRepository
	service     *RecurringService
	concurrency int
}

// NewRecurringProcessor runs at most concurrency records at once.
func NewRecurringProcessor(store ledger.RecurringRepository, service *RecurringService, concurrency int) *RecurringProcessor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RecurringProcessor{store: store, service: service, concurrency: concurrency}
}

// ProcessDue executes the auto-apply records of tenantID (all tenants when
// empty) that are due on asOf. A failing record never stops the batch; only
// listing errors and cancellation are returned.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, tenantID string, asOf core.Date) (ProcessSummary, error) {
	summary := ProcessSummary{Outcomes: map[Outcome]int{}}
	if p.store == nil || p.service == nil {
		return summary, fmt.Errorf("processor not properly initialized")
	}

	due, err := p.store.FindDueRecurrings(ctx, tenantID, asOf)
	if err != nil {
		return summary, fmt.Errorf("find due recurrings: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, r := range due {
		if !r.AutoApplyEnabled {
			continue
		}
		summary.Checked++
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := p.service.Execute(gctx, r.ID, r.TenantID, ExecuteOptions{
				AsOf:  asOf,
				Actor: "recurring-worker",
			})

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				summary.Outcomes[res.Outcome]++
			}
			if err != nil {
				summary.Errors++
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slog.WarnContext(gctx, "Recurring record not executed",
					log.FieldRecurringID, r.ID,
					log.FieldTenantID, r.TenantID,
					log.FieldError, err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.InfoContext(ctx, "Recurring processing complete",
		"checked", summary.Checked,
		"posted", summary.Outcomes[OutcomePosted],
		"skipped", summary.Outcomes[OutcomeSkipped]+summary.Outcomes[OutcomeSkipAndReschedule],
		"errors", summary.Errors,
		"as_of", asOf.String())
	return summary, err
}
