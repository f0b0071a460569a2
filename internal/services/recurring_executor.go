package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

// Outcome is the discriminated result of one execution attempt.
type Outcome string

const (
	OutcomePosted                  Outcome = "posted"
	OutcomeSkipped                 Outcome = "skipped"
	OutcomeRejected                Outcome = "rejected"
	OutcomeFailed                  Outcome = "failed"
	OutcomeSkipAndReschedule       Outcome = "skip_and_reschedule"
	OutcomePartialPaymentAvailable Outcome = "partial_payment_available"
	OutcomeNoFundsAvailable        Outcome = "no_funds_available"
)

// entryOffset keeps the two legs of a pair in creation order.
const entryOffset = time.Millisecond

type (
	ExecuteOptions struct {
		// OverrideAmount replaces the stored or resolved amount.
		OverrideAmount decimal.NullDecimal
		// AsOf defaults to today.
		AsOf core.Date
		// OccurrenceDate dates the entries of a date-flexible record.
		OccurrenceDate core.Date
		// AllowOverdraft skips the funds check.
		AllowOverdraft bool
		// Manual marks an interactive execution. Manual runs are not
		// blocked by an exhausted retry budget and get advisory outcomes
		// instead of consuming it.
		Manual bool
		Actor  string
	}

	// ExecutionResult is what the caller persists and reports. Recurring is
	// the record as it should be saved; for rejected runs it is unchanged.
	ExecutionResult struct {
		Outcome         Outcome
		Entries         []core.LedgerEntry
		AmountApplied   decimal.Decimal
		AvailableAmount decimal.Decimal
		Recurring       core.Recurring
		Reasons         []string
		Cause           error
	}

	StatementPreview struct {
		EstimatedAmount decimal.Decimal
		EstimatedDate   core.Date
		Warnings        []string
	}
)

// Executor runs one due occurrence of a recurring record against the ledger.
// It holds no locks: callers serialise executions of the same record.
type Executor struct {
	store    ledger.Store
	resolver *StatementResolver
	failures FailureHandler
	now      func() time.Time
}

// NewExecutor wires an executor on store. A nil clock means time.Now.
func NewExecutor(store ledger.Store, clock func() time.Time) *Executor {
	if clock == nil {
		clock = time.Now
	}
	return &Executor{
		store:    store,
		resolver: NewStatementResolver(store),
		now:      clock,
	}
}

// plan is everything needed to post once the preconditions passed.
type plan struct {
	source    core.Account
	counter   *core.Account
	processed core.Date
	asOf      core.Date
}

// Execute validates r, resolves its amount, checks funds, posts and
// reschedules. A non-nil error is returned only for rejected and failed
// outcomes; the result is always non-nil. The updated record is returned, not
// saved.
func (e *Executor) Execute(ctx context.Context, r core.Recurring, opts ExecuteOptions) (*ExecutionResult, error) {
	return e.run(ctx, r, opts, false)
}

// ExecuteAndSave is Execute followed by a version-checked save of the record.
// When entries are posted the save belongs to the posting unit of work: an
// execution racing another one on the same version is rolled back and
// rejected with ledger.ErrVersionConflict instead of posting twice. Rejected
// runs save nothing.
func (e *Executor) ExecuteAndSave(ctx context.Context, r core.Recurring, opts ExecuteOptions) (*ExecutionResult, error) {
	res, err := e.run(ctx, r, opts, true)
	if res.Outcome == OutcomeRejected || res.Outcome == OutcomePosted {
		return res, err
	}

	// Nothing was posted, only the bookkeeping changed.
	saved, saveErr := e.store.SaveRecurring(context.WithoutCancel(ctx), res.Recurring)
	if saveErr != nil {
		slog.ErrorContext(ctx, "Failed to save recurring after execution",
			log.FieldRecurringID, r.ID,
			log.FieldTenantID, r.TenantID,
			log.FieldOutcome, res.Outcome,
			log.FieldError, saveErr)
		return res, fmt.Errorf("save recurring after %s: %w", res.Outcome, saveErr)
	}
	res.Recurring = saved
	return res, err
}

func (e *Executor) run(ctx context.Context, r core.Recurring, opts ExecuteOptions, save bool) (*ExecutionResult, error) {
	res := &ExecutionResult{Recurring: r}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = core.DateOf(e.now())
	}
	unattended := r.AutoApplyEnabled && !opts.Manual

	if err := ctx.Err(); err != nil {
		return e.reject(ctx, res, []string{"cancelled"}, err)
	}

	// Validated
	if vr := core.Validate(r.Candidate()); !vr.IsValid {
		verr := &core.ValidationError{Result: vr}
		reasons := make([]string, len(vr.Errors))
		for i, fe := range vr.Errors {
			reasons[i] = fe.Field + ": " + fe.Message
		}
		return e.reject(ctx, res, reasons, verr)
	}
	if reasons := e.preconditions(r, opts, asOf); len(reasons) > 0 {
		return e.reject(ctx, res, reasons, &core.PreconditionError{RecurringID: r.ID, Reasons: reasons})
	}

	p, reasons, err := e.load(ctx, r)
	if err != nil {
		return e.fail(ctx, res, unattended, &core.PostingError{Stage: "load", Compensated: true, Err: err})
	}
	if len(reasons) > 0 {
		return e.reject(ctx, res, reasons, &core.PreconditionError{RecurringID: r.ID, Reasons: reasons})
	}
	p.asOf = asOf
	p.processed = processedDate(r, opts, asOf)

	// AmountResolved
	amount, err := e.resolveAmount(ctx, r, opts, p)
	if err != nil {
		return e.fail(ctx, res, unattended, &core.PostingError{Stage: "resolve", Compensated: true, Err: err})
	}
	if !amount.IsPositive() {
		res.Outcome = OutcomeSkipped
		res.AmountApplied = decimal.Zero
		res.Recurring = e.reschedule(r, p.processed, opts.Actor)
		slog.InfoContext(ctx, "Nothing owed, occurrence skipped",
			log.FieldRecurringID, r.ID,
			log.FieldTenantID, r.TenantID,
			"occurrence", p.processed.String())
		return res, nil
	}

	// FundsChecked, against a snapshot. The posting unit checks again.
	funds := func(source core.Account) *core.InsufficientFundsError {
		return checkFunds(r, source, amount, opts.AllowOverdraft)
	}
	if cause := funds(p.source); cause != nil {
		return e.insufficient(ctx, res, unattended, opts.Actor, cause)
	}

	// Cancellation is only honoured up to here.
	if err := ctx.Err(); err != nil {
		return e.reject(ctx, res, []string{"cancelled"}, err)
	}

	// Posted and Rescheduled
	entries, deltas := e.buildEntries(r, p, amount)
	next := e.reschedule(r, p.processed, opts.Actor)
	unit := postingUnit{
		sourceID: r.SourceAccountID,
		tenantID: r.TenantID,
		funds:    funds,
		entries:  entries,
		deltas:   deltas,
	}
	if save {
		unit.record = &next
	}
	posted, saved, err := e.post(context.WithoutCancel(ctx), unit)
	var (
		perr  *core.PostingError
		short *core.InsufficientFundsError
	)
	switch {
	case errors.As(err, &perr):
		return e.fail(ctx, res, unattended, err)
	case errors.As(err, &short):
		return e.insufficient(ctx, res, unattended, opts.Actor, short)
	case errors.Is(err, ledger.ErrVersionConflict):
		return e.reject(ctx, res, []string{"record changed by a concurrent execution"}, err)
	case err != nil:
		return e.fail(ctx, res, unattended, err)
	}
	if save {
		next = saved
	}

	res.Outcome = OutcomePosted
	res.Entries = posted
	res.AmountApplied = amount
	res.Recurring = next
	slog.InfoContext(ctx, "Recurring occurrence posted",
		log.FieldRecurringID, r.ID,
		log.FieldTenantID, r.TenantID,
		"type", r.Type(),
		log.FieldAmount, amount.StringFixed(2),
		log.FieldEntries, len(posted),
		"next_occurrence", res.Recurring.NextOccurrenceDate.String())
	return res, nil
}

// insufficient hands a failed funds check to the failure handler. Nothing is
// posted and the schedule does not move.
func (e *Executor) insufficient(ctx context.Context, res *ExecutionResult, unattended bool, actor string, cause *core.InsufficientFundsError) (*ExecutionResult, error) {
	r := res.Recurring
	outcome, updated := e.failures.InsufficientFunds(r, unattended, cause)
	res.Outcome = outcome
	res.Recurring = e.touch(updated, actor)
	res.AvailableAmount = cause.Available
	res.Cause = cause
	slog.WarnContext(ctx, "Insufficient funds for recurring execution",
		log.FieldRecurringID, r.ID,
		log.FieldTenantID, r.TenantID,
		log.FieldOutcome, outcome,
		log.FieldAccountID, cause.AccountID,
		"available", cause.Available.String(),
		"required", cause.Required.String(),
		"failed_attempts", updated.FailedAttempts)
	return res, nil
}

func (e *Executor) preconditions(r core.Recurring, opts ExecuteOptions, asOf core.Date) []string {
	var reasons []string
	if !r.IsActive {
		reasons = append(reasons, "inactive")
	}
	if r.IsDeleted {
		reasons = append(reasons, "deleted")
	}
	if !opts.Manual && r.RetriesExhausted() {
		reasons = append(reasons, fmt.Sprintf("retries exhausted (%d/%d)", r.FailedAttempts, r.MaxFailedAttempts))
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(asOf) {
		reasons = append(reasons, "expired on "+r.EndDate.String())
	}
	if opts.OverrideAmount.Valid {
		if opts.OverrideAmount.Decimal.LessThan(core.MinAmount) {
			reasons = append(reasons, "override amount must be at least "+core.MinAmount.StringFixed(2))
		}
	} else if r.Type() != core.TypeCreditCardPayment && !r.Amount.Valid {
		reasons = append(reasons, "amount not resolvable")
	}
	return reasons
}

// load fetches the accounts involved. Missing accounts are reasons, other
// store errors are returned.
func (e *Executor) load(ctx context.Context, r core.Recurring) (plan, []string, error) {
	var p plan
	var reasons []string

	src, err := e.store.FindAccount(ctx, r.SourceAccountID, r.TenantID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		reasons = append(reasons, "source account not found")
	case err != nil:
		return p, nil, fmt.Errorf("find source account: %w", err)
	default:
		p.source = *src
	}

	if counterID := r.CounterAccountID(); counterID != "" {
		c, err := e.store.FindAccount(ctx, counterID, r.TenantID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			reasons = append(reasons, "counter account not found")
		case err != nil:
			return p, nil, fmt.Errorf("find counter account: %w", err)
		default:
			p.counter = c
			if _, ok := r.Variant.(core.CreditCardPayment); ok && c.Class != core.Liability {
				reasons = append(reasons, "card account is not a liability")
			}
		}
	}
	return p, reasons, nil
}

func (e *Executor) resolveAmount(ctx context.Context, r core.Recurring, opts ExecuteOptions, p plan) (decimal.Decimal, error) {
	if opts.OverrideAmount.Valid {
		return opts.OverrideAmount.Decimal.Round(2), nil
	}
	switch r.Variant.(type) {
	case core.CreditCardPayment:
		owed, err := e.resolver.Resolve(ctx, *p.counter, p.asOf)
		if err != nil {
			return decimal.Zero, err
		}
		return owed.Round(2), nil
	default:
		return r.Amount.Decimal.Round(2), nil
	}
}

// checkFunds applies to pairs drawn from an asset account. Liability sources
// may always go further into debt.
func checkFunds(r core.Recurring, source core.Account, amount decimal.Decimal, allowOverdraft bool) *core.InsufficientFundsError {
	if allowOverdraft || source.Class != core.Asset {
		return nil
	}
	switch r.Variant.(type) {
	case core.Transfer, core.CreditCardPayment:
	default:
		return nil
	}
	if source.Balance.GreaterThanOrEqual(amount) {
		return nil
	}
	return &core.InsufficientFundsError{AccountID: source.ID, Available: source.Balance, Required: amount}
}

type balanceDelta struct {
	accountID string
	delta     decimal.Decimal
}

func (e *Executor) buildEntries(r core.Recurring, p plan, amount decimal.Decimal) ([]core.LedgerEntry, []balanceDelta) {
	created := e.now().UTC()
	base := core.LedgerEntry{
		TenantID:    r.TenantID,
		Kind:        r.Kind,
		CategoryID:  r.CategoryID(),
		Date:        p.processed,
		Description: r.Description,
		RecurringID: r.ID,
		CreatedAt:   created,
	}

	if _, ok := r.Variant.(core.Standard); ok {
		entry := base
		entry.ID = uuid.NewString()
		entry.AccountID = p.source.ID
		entry.Amount = amount.Mul(decimal.New(int64(r.Kind.Sign()), 0))
		return []core.LedgerEntry{entry}, []balanceDelta{{p.source.ID, p.source.BalanceDelta(entry.Amount)}}
	}

	debit, credit := base, base
	debit.ID, credit.ID = uuid.NewString(), uuid.NewString()
	debit.AccountID, credit.AccountID = p.source.ID, p.counter.ID
	debit.TransferAccountID, credit.TransferAccountID = p.counter.ID, p.source.ID
	debit.TransferID, credit.TransferID = credit.ID, debit.ID
	debit.Amount, credit.Amount = amount.Neg(), amount
	credit.CreatedAt = created.Add(entryOffset)

	return []core.LedgerEntry{debit, credit}, []balanceDelta{
		{p.source.ID, p.source.BalanceDelta(debit.Amount)},
		{p.counter.ID, p.counter.BalanceDelta(credit.Amount)},
	}
}

// postingUnit is everything that must become visible together.
type postingUnit struct {
	sourceID string
	tenantID string
	// funds re-runs the funds check on the balance the unit sees.
	funds   func(core.Account) *core.InsufficientFundsError
	entries []core.LedgerEntry
	deltas  []balanceDelta
	// record, when set, is saved with a version check as part of the unit.
	record *core.Recurring
}

// post applies a posting unit. Stores that support transactions run it
// atomically; otherwise applied steps are undone when a later one fails. A
// failed funds check returns the *core.InsufficientFundsError and a lost
// version race returns ledger.ErrVersionConflict, both with nothing applied.
func (e *Executor) post(ctx context.Context, u postingUnit) ([]core.LedgerEntry, core.Recurring, error) {
	if tx, ok := e.store.(ledger.Transactor); ok {
		var posted []core.LedgerEntry
		var saved core.Recurring
		stage := "funds"
		err := tx.WithinTx(ctx, func(s ledger.Store) error {
			if err := recheckFunds(ctx, s, u); err != nil {
				return err
			}
			var err error
			stage = "entries"
			if posted, err = s.PostEntries(ctx, u.entries); err != nil {
				return err
			}
			stage = "balances"
			for _, d := range u.deltas {
				if err := s.AdjustBalance(ctx, d.accountID, d.delta); err != nil {
					return err
				}
			}
			if u.record != nil {
				stage = "save"
				if saved, err = s.SaveRecurring(ctx, *u.record); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if isRaceLoss(err) {
				return nil, core.Recurring{}, err
			}
			return nil, core.Recurring{}, &core.PostingError{Stage: stage, Compensated: true, Err: err}
		}
		return posted, saved, nil
	}

	if err := recheckFunds(ctx, e.store, u); err != nil {
		if isRaceLoss(err) {
			return nil, core.Recurring{}, err
		}
		return nil, core.Recurring{}, &core.PostingError{Stage: "funds", Compensated: true, Err: err}
	}
	posted, err := e.store.PostEntries(ctx, u.entries)
	if err != nil {
		return nil, core.Recurring{}, &core.PostingError{Stage: "entries", Compensated: true, Err: err}
	}
	for i, d := range u.deltas {
		if err := e.store.AdjustBalance(ctx, d.accountID, d.delta); err != nil {
			return nil, core.Recurring{}, &core.PostingError{
				Stage:       "balances",
				Compensated: e.compensate(ctx, posted, u.deltas[:i]),
				Err:         err,
			}
		}
	}
	if u.record == nil {
		return posted, core.Recurring{}, nil
	}
	saved, err := e.store.SaveRecurring(ctx, *u.record)
	if err != nil {
		compensated := e.compensate(ctx, posted, u.deltas)
		if compensated && errors.Is(err, ledger.ErrVersionConflict) {
			return nil, core.Recurring{}, err
		}
		return nil, core.Recurring{}, &core.PostingError{Stage: "save", Compensated: compensated, Err: err}
	}
	return posted, saved, nil
}

// recheckFunds reads the source account through s and checks it again.
func recheckFunds(ctx context.Context, s ledger.AccountReader, u postingUnit) error {
	src, err := s.FindAccount(ctx, u.sourceID, u.tenantID)
	if err != nil {
		return fmt.Errorf("find source account: %w", err)
	}
	if short := u.funds(*src); short != nil {
		return short
	}
	return nil
}

// isRaceLoss reports errors that mean another writer got there first.
func isRaceLoss(err error) bool {
	var short *core.InsufficientFundsError
	return errors.As(err, &short) || errors.Is(err, ledger.ErrVersionConflict)
}

// compensate reverses applied deltas and voids posted entries. It reports
// whether every step succeeded.
func (e *Executor) compensate(ctx context.Context, posted []core.LedgerEntry, applied []balanceDelta) bool {
	ok := true
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if err := e.store.AdjustBalance(ctx, d.accountID, d.delta.Neg()); err != nil {
			slog.ErrorContext(ctx, "Failed to reverse balance delta",
				log.FieldAccountID, d.accountID,
				"delta", d.delta.String(),
				log.FieldError, err)
			ok = false
		}
	}
	ids := make([]string, len(posted))
	for i, p := range posted {
		ids[i] = p.ID
	}
	if err := e.store.VoidEntries(ctx, ids); err != nil {
		slog.ErrorContext(ctx, "Failed to void posted entries",
			"entry_ids", ids,
			log.FieldError, err)
		ok = false
	}
	return ok
}

func (e *Executor) reschedule(r core.Recurring, processed core.Date, actor string) core.Recurring {
	r.LastExecutedAt = processed
	r.FailedAttempts = 0
	if !r.NextOccurrenceDate.IsZero() {
		// Interval was validated, so this cannot fail.
		if next, err := core.NextOccurrenceFrom(processed, r.IntervalMonths, r.AnchorDay); err == nil {
			r.NextOccurrenceDate = next
		}
		if !r.EndDate.IsZero() && r.NextOccurrenceDate.After(r.EndDate) {
			r.IsActive = false
		}
	}
	return e.touch(r, actor)
}

func (e *Executor) touch(r core.Recurring, actor string) core.Recurring {
	r.UpdatedAt = e.now().UTC()
	if actor != "" {
		r.UpdatedBy = actor
	}
	return r
}

func (e *Executor) reject(ctx context.Context, res *ExecutionResult, reasons []string, cause error) (*ExecutionResult, error) {
	res.Outcome = OutcomeRejected
	res.Reasons = reasons
	res.Cause = cause
	slog.InfoContext(ctx, "Recurring execution rejected",
		log.FieldRecurringID, res.Recurring.ID,
		log.FieldTenantID, res.Recurring.TenantID,
		"reasons", reasons)
	return res, cause
}

func (e *Executor) fail(ctx context.Context, res *ExecutionResult, unattended bool, cause error) (*ExecutionResult, error) {
	res.Outcome = OutcomeFailed
	res.Cause = cause
	res.Recurring = e.failures.PostingFailed(res.Recurring, unattended)
	slog.ErrorContext(ctx, "Recurring execution failed",
		log.FieldRecurringID, res.Recurring.ID,
		log.FieldTenantID, res.Recurring.TenantID,
		"failed_attempts", res.Recurring.FailedAttempts,
		log.FieldError, cause)
	return res, cause
}

// processedDate is the occurrence being executed.
func processedDate(r core.Recurring, opts ExecuteOptions, asOf core.Date) core.Date {
	if r.IsDateFlexible && !opts.OccurrenceDate.IsZero() {
		return opts.OccurrenceDate
	}
	if !r.NextOccurrenceDate.IsZero() {
		return r.NextOccurrenceDate
	}
	return asOf
}

// PreviewStatementPayment estimates the next payment of a card payment
// record without touching the ledger.
func (e *Executor) PreviewStatementPayment(ctx context.Context, r core.Recurring, asOf core.Date) (StatementPreview, error) {
	v, ok := r.Variant.(core.CreditCardPayment)
	if !ok {
		return StatementPreview{}, fmt.Errorf("recurring %s is %s, not a card payment: %w", r.ID, r.Type(), core.ErrValidation)
	}
	if asOf.IsZero() {
		asOf = core.DateOf(e.now())
	}

	preview := StatementPreview{EstimatedDate: r.NextOccurrenceDate}
	if preview.EstimatedDate.IsZero() {
		preview.EstimatedDate = asOf
		preview.Warnings = append(preview.Warnings, "no scheduled date, estimating for today")
	} else if preview.EstimatedDate.Before(asOf) {
		preview.Warnings = append(preview.Warnings, core.DueDescription(preview.EstimatedDate, asOf))
	}
	if !r.IsActive {
		preview.Warnings = append(preview.Warnings, "record is inactive")
	}
	if r.AutoApplyEnabled && r.RetriesExhausted() {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("auto-apply paused after %d failed attempts", r.FailedAttempts))
	}

	card, err := e.store.FindAccount(ctx, v.CardAccountID, r.TenantID)
	if err != nil {
		return StatementPreview{}, fmt.Errorf("find card account: %w", err)
	}
	if card.BillingCycleDay <= 0 {
		preview.Warnings = append(preview.Warnings, "card has no billing cycle day, using the current balance")
	}

	resolveAt := preview.EstimatedDate
	if resolveAt.Before(asOf) {
		resolveAt = asOf
	}
	owed, err := e.resolver.Resolve(ctx, *card, resolveAt)
	if err != nil {
		return StatementPreview{}, err
	}
	preview.EstimatedAmount = owed.Round(2)
	if !preview.EstimatedAmount.IsPositive() {
		preview.Warnings = append(preview.Warnings, "nothing owed, the occurrence will be skipped")
		return preview, nil
	}

	src, err := e.store.FindAccount(ctx, r.SourceAccountID, r.TenantID)
	if err != nil {
		return StatementPreview{}, fmt.Errorf("find source account: %w", err)
	}
	if src.Class == core.Asset && src.Balance.LessThan(preview.EstimatedAmount) {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("source balance %s is below the estimated payment", core.FormatAmount(src.Balance)))
	}
	return preview, nil
}
