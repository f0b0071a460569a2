package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

// EntryPublisher announces posted entries, e.g. to the sheet mirror.
type EntryPublisher interface {
	PublishEntryPosted(ctx context.Context, e core.LedgerEntry) error
}

// RecurringPatch holds the editable fields of a record. Nil fields are left
// unchanged.
type RecurringPatch struct {
	Description        *string
	Amount             *decimal.NullDecimal
	NextOccurrenceDate *core.Date
	EndDate            *core.Date
	IntervalMonths     *int
	AutoApplyEnabled   *bool
	IsActive           *bool
	MaxFailedAttempts  *int
}

// RecurringService is the application layer around the executor: it loads and
// saves records, serialises executions per record and publishes what was
// posted.
type RecurringService struct {
	store     ledger.Store
	executor  *Executor
	locks     *KeyedMutex
	previews  cache.Cache[StatementPreview]
	publisher EntryPublisher
	now       func() time.Time
}

// NewRecurringService wires the service. previews and publisher may be nil.
func NewRecurringService(store ledger.Store, executor *Executor, previews cache.Cache[StatementPreview], publisher EntryPublisher) *RecurringService {
	return &RecurringService{
		store:     store,
		executor:  executor,
		locks:     NewKeyedMutex(),
		previews:  previews,
		publisher: publisher,
		now:       executor.now,
	}
}

// Validate runs the static rules without saving anything.
func (s *RecurringService) Validate(c core.Candidate) core.ValidationResult {
	return core.Validate(c)
}

// Create validates c, checks its accounts exist in the tenant and saves it.
func (s *RecurringService) Create(ctx context.Context, c core.Candidate) (core.Recurring, error) {
	r, err := core.NewRecurring(c, s.now())
	if err != nil {
		return core.Recurring{}, err
	}
	if err := s.checkAccounts(ctx, r); err != nil {
		return core.Recurring{}, err
	}
	saved, err := s.store.SaveRecurring(ctx, r)
	if err != nil {
		return core.Recurring{}, fmt.Errorf("save recurring: %w", err)
	}
	slog.InfoContext(ctx, "Recurring record created",
		log.FieldRecurringID, saved.ID,
		log.FieldTenantID, saved.TenantID,
		"type", saved.Type())
	return saved, nil
}

func (s *RecurringService) checkAccounts(ctx context.Context, r core.Recurring) error {
	var res core.ValidationResult
	check := func(field, id string) error {
		if id == "" {
			return nil
		}
		_, err := s.store.FindAccount(ctx, id, r.TenantID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			res.Errors = append(res.Errors, core.FieldError{
				Field: field, Rule: core.RuleExists, Value: id, Message: "account does not exist",
			})
			return nil
		case err != nil:
			return fmt.Errorf("find account %s: %w", id, err)
		}
		return nil
	}
	if err := check("source_account_id", r.SourceAccountID); err != nil {
		return err
	}
	if err := check("transfer_account_id", r.CounterAccountID()); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return &core.ValidationError{Result: res}
	}
	return nil
}

// Get returns a live record. Soft-deleted records are not found.
func (s *RecurringService) Get(ctx context.Context, id, tenantID string) (*core.Recurring, error) {
	r, err := s.store.FindRecurring(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if r.IsDeleted {
		return nil, fmt.Errorf("recurring %s: %w", id, ledger.ErrNotFound)
	}
	return r, nil
}

// Update applies patch and re-validates the record.
func (s *RecurringService) Update(ctx context.Context, id, tenantID string, patch RecurringPatch, actor string) (core.Recurring, error) {
	return s.mutate(ctx, id, tenantID, actor, func(r *core.Recurring) error {
		if patch.Description != nil {
			r.Description = *patch.Description
		}
		if patch.Amount != nil && r.Type() != core.TypeCreditCardPayment {
			r.Amount = *patch.Amount
		}
		if patch.NextOccurrenceDate != nil {
			r.NextOccurrenceDate = *patch.NextOccurrenceDate
			r.AnchorDay = 0
			if !r.NextOccurrenceDate.IsZero() {
				r.AnchorDay = r.NextOccurrenceDate.Day()
			}
		}
		if patch.EndDate != nil {
			r.EndDate = *patch.EndDate
		}
		if patch.IntervalMonths != nil {
			r.IntervalMonths = *patch.IntervalMonths
		}
		if patch.AutoApplyEnabled != nil {
			r.AutoApplyEnabled = *patch.AutoApplyEnabled
		}
		if patch.IsActive != nil {
			r.IsActive = *patch.IsActive
		}
		if patch.MaxFailedAttempts != nil {
			r.MaxFailedAttempts = *patch.MaxFailedAttempts
		}
		if res := core.Validate(r.Candidate()); !res.IsValid {
			return &core.ValidationError{Result: res}
		}
		return nil
	})
}

// ResetFailures clears the retry counter so unattended runs resume.
func (s *RecurringService) ResetFailures(ctx context.Context, id, tenantID, actor string) (core.Recurring, error) {
	return s.mutate(ctx, id, tenantID, actor, func(r *core.Recurring) error {
		*r = s.executor.failures.Reset(*r)
		return nil
	})
}

// Delete soft-deletes the record.
func (s *RecurringService) Delete(ctx context.Context, id, tenantID, actor string) error {
	_, err := s.mutate(ctx, id, tenantID, actor, func(r *core.Recurring) error {
		r.IsDeleted = true
		r.IsActive = false
		return nil
	})
	return err
}

func (s *RecurringService) mutate(ctx context.Context, id, tenantID, actor string, fn func(*core.Recurring) error) (core.Recurring, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.Get(ctx, id, tenantID)
	if err != nil {
		return core.Recurring{}, err
	}
	if err := fn(r); err != nil {
		return core.Recurring{}, err
	}
	r.UpdatedAt = s.now().UTC()
	if actor != "" {
		r.UpdatedBy = actor
	}
	saved, err := s.store.SaveRecurring(ctx, *r)
	if err != nil {
		return core.Recurring{}, fmt.Errorf("save recurring: %w", err)
	}
	s.invalidate(id)
	return saved, nil
}

// Execute runs one occurrence of the record and persists the outcome. The
// returned error follows Executor.Execute, plus store errors.
func (s *RecurringService) Execute(ctx context.Context, id, tenantID string, opts ExecuteOptions) (*ExecutionResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.FindRecurring(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = core.DateOf(s.now())
	}
	if occ := processedDate(*r, opts, asOf); !r.LastExecutedAt.IsZero() && occ.Equal(r.LastExecutedAt) {
		reasons := []string{"occurrence " + occ.String() + " already executed"}
		cause := fmt.Errorf("%w: %w", core.ErrAlreadyExecuted, &core.PreconditionError{RecurringID: id, Reasons: reasons})
		return &ExecutionResult{Outcome: OutcomeRejected, Recurring: *r, Reasons: reasons, Cause: cause}, cause
	}

	res, err := s.executor.ExecuteAndSave(ctx, *r, opts)
	if res.Outcome == OutcomeRejected {
		return res, err
	}
	s.invalidate(id)

	for _, e := range res.Entries {
		s.publish(ctx, e)
	}
	return res, err
}

func (s *RecurringService) publish(ctx context.Context, e core.LedgerEntry) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No publisher configured, skipping entry sync message", log.FieldEntryID, e.ID)
		return
	}
	if err := s.publisher.PublishEntryPosted(ctx, e); err != nil {
		// The mirror worker's backup scan picks the entry up later.
		slog.ErrorContext(ctx, "Failed to publish entry sync message",
			log.FieldEntryID, e.ID,
			log.FieldError, err)
	}
}

// Preview estimates the next statement payment of a card payment record.
func (s *RecurringService) Preview(ctx context.Context, id, tenantID string, asOf core.Date) (StatementPreview, error) {
	r, err := s.Get(ctx, id, tenantID)
	if err != nil {
		return StatementPreview{}, err
	}
	if asOf.IsZero() {
		asOf = core.DateOf(s.now())
	}

	key := fmt.Sprintf("%s|%d|%s", id, r.Version, asOf)
	if s.previews != nil {
		if p, ok := s.previews.Get(key); ok {
			return p, nil
		}
	}
	p, err := s.executor.PreviewStatementPayment(ctx, *r, asOf)
	if err != nil {
		return StatementPreview{}, err
	}
	if s.previews != nil {
		s.previews.Set(key, p)
	}
	return p, nil
}

// ListDue returns the tenant's records due on or before asOf.
func (s *RecurringService) ListDue(ctx context.Context, tenantID string, asOf core.Date) ([]core.Recurring, error) {
	if asOf.IsZero() {
		asOf = core.DateOf(s.now())
	}
	return s.store.FindDueRecurrings(ctx, tenantID, asOf)
}

func (s *RecurringService) invalidate(id string) {
	if s.previews != nil {
		s.previews.DeletePrefix(id + "|")
	}
}
