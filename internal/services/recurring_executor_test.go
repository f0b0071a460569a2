package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/ledger/memory"
)

var (
	testNow = time.Date(2024, 6, 20, 10, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func amountOf(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func fixedClock() time.Time { return testNow }

// flakyStore fails selected writes of the wrapped store. It hides WithinTx,
// so the executor has to compensate.
type flakyStore struct {
	ledger.Store
	failPost     bool
	failAdjustOn int
	adjustCalls  int
}

func (f *flakyStore) PostEntries(ctx context.Context, entries []core.LedgerEntry) ([]core.LedgerEntry, error) {
	if f.failPost {
		return nil, errBoom
	}
	return f.Store.PostEntries(ctx, entries)
}

func (f *flakyStore) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	f.adjustCalls++
	if f.adjustCalls == f.failAdjustOn {
		return errBoom
	}
	return f.Store.AdjustBalance(ctx, accountID, delta)
}

func newStore(balanceA, cardDebt string) *memory.Store {
	return memory.New(
		core.Account{ID: "A", TenantID: "t1", Name: "Checking", Class: core.Asset, Balance: dec(balanceA)},
		core.Account{ID: "B", TenantID: "t1", Name: "Savings", Class: core.Asset, Balance: decimal.Zero},
		core.Account{ID: "card", TenantID: "t1", Name: "Visa", Class: core.Liability, Balance: dec(cardDebt)},
	)
}

func newRecurring(t *testing.T, c core.Candidate) core.Recurring {
	t.Helper()
	if c.TenantID == "" {
		c.TenantID = "t1"
	}
	if c.SourceAccountID == "" {
		c.SourceAccountID = "A"
	}
	if c.NextOccurrenceDate.IsZero() && !c.IsDateFlexible {
		c.NextOccurrenceDate = core.NewDate(2024, 6, 20)
	}
	r, err := core.NewRecurring(c, testNow)
	require.NoError(t, err)
	return r
}

func transfer(t *testing.T, amount string, autoApply bool) core.Recurring {
	return newRecurring(t, core.Candidate{
		RecurringType:     core.TypeTransfer,
		TransferAccountID: "B",
		Amount:            amountOf(amount),
		AutoApplyEnabled:  autoApply,
	})
}

func balance(t *testing.T, s ledger.AccountReader, id string) decimal.Decimal {
	t.Helper()
	a, err := s.FindAccount(context.Background(), id, "t1")
	require.NoError(t, err)
	return a.Balance
}

func entriesOf(t *testing.T, s ledger.StatementReader, id string) []core.LedgerEntry {
	t.Helper()
	es, err := s.EntriesInRange(context.Background(), id, core.NewDate(2000, 1, 1), core.Date{})
	require.NoError(t, err)
	return es
}

func TestExecuteTransferPostsLinkedPair(t *testing.T) {
	store := newStore("1000", "0")
	exec := NewExecutor(store, fixedClock)
	r := transfer(t, "100", false)

	res, err := exec.Execute(context.Background(), r, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, res.Outcome)
	require.Len(t, res.Entries, 2)

	debit, credit := res.Entries[0], res.Entries[1]
	assert.Equal(t, "A", debit.AccountID)
	assert.True(t, debit.Amount.Equal(dec("-100")))
	assert.Equal(t, "B", credit.AccountID)
	assert.True(t, credit.Amount.Equal(dec("100")))
	assert.True(t, debit.Amount.Add(credit.Amount).IsZero(), "pair must sum to zero")
	assert.Equal(t, credit.ID, debit.TransferID)
	assert.Equal(t, debit.ID, credit.TransferID)
	assert.True(t, credit.CreatedAt.After(debit.CreatedAt))
	assert.Equal(t, r.ID, debit.RecurringID)

	assert.True(t, balance(t, store, "A").Equal(dec("900")))
	assert.True(t, balance(t, store, "B").Equal(dec("100")))
	assert.True(t, res.AmountApplied.Equal(dec("100")))

	updated := res.Recurring
	assert.True(t, updated.NextOccurrenceDate.Equal(core.NewDate(2024, 7, 20)))
	assert.True(t, updated.LastExecutedAt.Equal(core.NewDate(2024, 6, 20)))
	assert.Equal(t, 0, updated.FailedAttempts)
	assert.True(t, updated.IsActive)
}

func TestExecuteStandardSignFollowsKind(t *testing.T) {
	tests := []struct {
		name        string
		kind        core.TransactionKind
		wantAmount  string
		wantBalance string
	}{
		{"expense debits", core.KindExpense, "-50", "950"},
		{"income credits", core.KindIncome, "50", "1050"},
		{"refund credits", core.KindRefund, "50", "1050"},
		{"adjustment credits", core.KindAdjustment, "50", "1050"},
		{"initial credits", core.KindInitial, "50", "1050"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore("1000", "0")
			r := newRecurring(t, core.Candidate{
				RecurringType:   core.TypeStandard,
				TransactionKind: tt.kind,
				CategoryID:      "rent",
				Amount:          amountOf("50"),
			})

			res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
			require.NoError(t, err)
			require.Len(t, res.Entries, 1)
			assert.True(t, res.Entries[0].Amount.Equal(dec(tt.wantAmount)))
			assert.Equal(t, "rent", res.Entries[0].CategoryID)
			assert.False(t, res.Entries[0].IsPairLeg())
			assert.True(t, balance(t, store, "A").Equal(dec(tt.wantBalance)))
		})
	}
}

func TestExecuteCreditCardSkipsWhenNothingOwed(t *testing.T) {
	store := newStore("1000", "0")
	r := newRecurring(t, core.Candidate{
		RecurringType:     core.TypeCreditCardPayment,
		TransferAccountID: "card",
		CategoryID:        "card-payments",
	})

	res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, res.Entries)
	assert.True(t, res.AmountApplied.IsZero())
	assert.Empty(t, entriesOf(t, store, "A"))
	assert.Empty(t, entriesOf(t, store, "card"))
	assert.True(t, balance(t, store, "A").Equal(dec("1000")))
	assert.True(t, balance(t, store, "card").IsZero())
	assert.True(t, res.Recurring.NextOccurrenceDate.Equal(core.NewDate(2024, 7, 20)))
}

func TestExecuteCreditCardPaysStatementBalance(t *testing.T) {
	ctx := context.Background()
	store := newStore("1000", "250")
	require.NoError(t, store.SaveAccount(ctx, core.Account{
		ID: "card", TenantID: "t1", Class: core.Liability, Balance: dec("250"), BillingCycleDay: 15,
	}))
	// One charge inside the closed cycle [May 15, Jun 15), one after it.
	_, err := store.PostEntries(ctx, []core.LedgerEntry{
		{AccountID: "card", Amount: dec("-200"), Date: core.NewDate(2024, 5, 20), Kind: core.KindExpense},
		{AccountID: "card", Amount: dec("-50"), Date: core.NewDate(2024, 6, 16), Kind: core.KindExpense},
	})
	require.NoError(t, err)

	r := newRecurring(t, core.Candidate{
		RecurringType:     core.TypeCreditCardPayment,
		TransferAccountID: "card",
		CategoryID:        "card-payments",
	})
	res, err := NewExecutor(store, fixedClock).Execute(ctx, r, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, res.Outcome)
	assert.True(t, res.AmountApplied.Equal(dec("200")), "got %s", res.AmountApplied)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, core.KindTransfer, res.Entries[0].Kind)
	assert.True(t, balance(t, store, "A").Equal(dec("800")))
	assert.True(t, balance(t, store, "card").Equal(dec("50")))
}

func TestExecuteInsufficientFundsAutoApply(t *testing.T) {
	store := newStore("50", "0")
	r := transfer(t, "500", true)

	res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipAndReschedule, res.Outcome)
	assert.Equal(t, 1, res.Recurring.FailedAttempts)
	assert.True(t, res.Recurring.NextOccurrenceDate.Equal(r.NextOccurrenceDate))
	assert.Empty(t, res.Entries)
	assert.Empty(t, entriesOf(t, store, "A"))
	assert.True(t, balance(t, store, "A").Equal(dec("50")))

	var ife *core.InsufficientFundsError
	require.ErrorAs(t, res.Cause, &ife)
	assert.True(t, ife.Available.Equal(dec("50")))
	assert.True(t, ife.Required.Equal(dec("500")))
}

func TestExecuteInsufficientFundsManual(t *testing.T) {
	t.Run("partial payment available", func(t *testing.T) {
		store := newStore("50", "0")
		res, err := NewExecutor(store, fixedClock).Execute(context.Background(), transfer(t, "500", false), ExecuteOptions{})
		require.NoError(t, err)
		assert.Equal(t, OutcomePartialPaymentAvailable, res.Outcome)
		assert.True(t, res.AvailableAmount.Equal(dec("50")))
		assert.Equal(t, 0, res.Recurring.FailedAttempts)
	})

	t.Run("no funds available", func(t *testing.T) {
		store := newStore("0", "0")
		res, err := NewExecutor(store, fixedClock).Execute(context.Background(), transfer(t, "500", false), ExecuteOptions{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoFundsAvailable, res.Outcome)
	})

	t.Run("manual run of an auto-apply record is advisory", func(t *testing.T) {
		store := newStore("50", "0")
		res, err := NewExecutor(store, fixedClock).Execute(context.Background(), transfer(t, "500", true), ExecuteOptions{Manual: true})
		require.NoError(t, err)
		assert.Equal(t, OutcomePartialPaymentAvailable, res.Outcome)
		assert.Equal(t, 0, res.Recurring.FailedAttempts)
	})

	t.Run("partial amount can be posted with an override", func(t *testing.T) {
		store := newStore("50", "0")
		res, err := NewExecutor(store, fixedClock).Execute(context.Background(), transfer(t, "500", false),
			ExecuteOptions{OverrideAmount: amountOf("50")})
		require.NoError(t, err)
		assert.Equal(t, OutcomePosted, res.Outcome)
		assert.True(t, balance(t, store, "A").IsZero())
	})
}

func TestExecuteOverdraft(t *testing.T) {
	t.Run("explicit override", func(t *testing.T) {
		store := newStore("10", "0")
		res, err := NewExecutor(store, fixedClock).Execute(context.Background(), transfer(t, "100", true),
			ExecuteOptions{AllowOverdraft: true})
		require.NoError(t, err)
		assert.Equal(t, OutcomePosted, res.Outcome)
		assert.True(t, balance(t, store, "A").Equal(dec("-90")))
	})

	t.Run("liability source is exempt", func(t *testing.T) {
		store := newStore("0", "0")
		r := newRecurring(t, core.Candidate{
			RecurringType:     core.TypeTransfer,
			SourceAccountID:   "card",
			TransferAccountID: "B",
			Amount:            amountOf("100"),
		})
		res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
		require.NoError(t, err)
		assert.Equal(t, OutcomePosted, res.Outcome)
		assert.True(t, balance(t, store, "card").Equal(dec("100")), "debt should grow")
		assert.True(t, balance(t, store, "B").Equal(dec("100")))
	})
}

func TestExecuteRejectsExhaustedRetries(t *testing.T) {
	store := newStore("1000", "0")
	r := transfer(t, "100", true)
	r.FailedAttempts = r.MaxFailedAttempts

	res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	require.ErrorIs(t, err, core.ErrPrecondition)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, r, res.Recurring)
	assert.Empty(t, entriesOf(t, store, "A"))

	// A human running it resets the counter.
	res, err = NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, res.Outcome)
	assert.Equal(t, 0, res.Recurring.FailedAttempts)
}

func TestExecutePreconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Recurring)
		opts   ExecuteOptions
		reason string
	}{
		{"inactive", func(r *core.Recurring) { r.IsActive = false }, ExecuteOptions{}, "inactive"},
		{"deleted", func(r *core.Recurring) { r.IsDeleted = true }, ExecuteOptions{}, "deleted"},
		{"expired", func(r *core.Recurring) { r.EndDate = core.NewDate(2024, 6, 20) }, ExecuteOptions{AsOf: core.NewDate(2024, 6, 21)}, "expired on 2024-06-20"},
		{"no amount", func(r *core.Recurring) {
			r.IsAmountFlexible = true
			r.Amount = decimal.NullDecimal{}
		}, ExecuteOptions{}, "amount not resolvable"},
		{"bad override", func(r *core.Recurring) {}, ExecuteOptions{OverrideAmount: amountOf("0")}, "override amount must be at least 0.01"},
		{"missing account", func(r *core.Recurring) { r.SourceAccountID = "ghost" }, ExecuteOptions{}, "source account not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore("1000", "0")
			r := transfer(t, "100", true)
			tt.mutate(&r)

			res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, tt.opts)
			require.ErrorIs(t, err, core.ErrPrecondition)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Contains(t, res.Reasons, tt.reason)
			assert.Equal(t, r, res.Recurring, "rejected runs must not mutate the record")
			assert.True(t, balance(t, store, "A").Equal(dec("1000")))
		})
	}
}

func TestExecuteRejectsInvalidRecord(t *testing.T) {
	r := transfer(t, "100", false)
	r.IntervalMonths = 30

	res, err := NewExecutor(newStore("1000", "0"), fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Result.Has("interval_months", core.RuleRange))
	assert.Equal(t, OutcomeRejected, res.Outcome)
}

func TestExecuteCompensatesPartialPosting(t *testing.T) {
	store := &flakyStore{Store: newStore("1000", "0"), failAdjustOn: 2}
	r := transfer(t, "100", true)

	res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	require.ErrorIs(t, err, core.ErrPosting)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	var pe *core.PostingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "balances", pe.Stage)
	assert.True(t, pe.Compensated)

	assert.True(t, balance(t, store, "A").Equal(dec("1000")), "first delta must be reversed")
	assert.True(t, balance(t, store, "B").IsZero())
	assert.Empty(t, entriesOf(t, store, "A"))
	assert.Empty(t, entriesOf(t, store, "B"))

	assert.Equal(t, 1, res.Recurring.FailedAttempts)
	assert.True(t, res.Recurring.NextOccurrenceDate.Equal(r.NextOccurrenceDate))
	assert.True(t, res.Recurring.LastExecutedAt.IsZero())
}

func TestExecuteEntryFailureLeavesLedgerUntouched(t *testing.T) {
	store := &flakyStore{Store: newStore("1000", "0"), failPost: true}
	r := transfer(t, "100", false)

	res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	require.ErrorIs(t, err, core.ErrPosting)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, store.adjustCalls)
	assert.Equal(t, 0, res.Recurring.FailedAttempts, "manual records keep their counter")
}

func TestExecuteDeactivatesPastEndDate(t *testing.T) {
	r := transfer(t, "100", false)
	r.EndDate = core.NewDate(2024, 7, 1)

	res, err := NewExecutor(newStore("1000", "0"), fixedClock).Execute(context.Background(), r, ExecuteOptions{})
	require.NoError(t, err)
	assert.False(t, res.Recurring.IsActive)
}

func TestExecuteKeepsOriginalDayAcrossShortMonths(t *testing.T) {
	store := newStore("1000", "0")
	exec := NewExecutor(store, fixedClock)
	r := newRecurring(t, core.Candidate{
		RecurringType:      core.TypeStandard,
		NextOccurrenceDate: core.NewDate(2024, 1, 31),
		Amount:             amountOf("10"),
	})

	want := []core.Date{core.NewDate(2024, 2, 29), core.NewDate(2024, 3, 31), core.NewDate(2024, 4, 30)}
	for _, w := range want {
		res, err := exec.Execute(context.Background(), r, ExecuteOptions{AsOf: r.NextOccurrenceDate})
		require.NoError(t, err)
		require.True(t, res.Recurring.NextOccurrenceDate.Equal(w), "got %s want %s", res.Recurring.NextOccurrenceDate, w)
		r = res.Recurring
	}
}

func TestExecuteDateFlexibleUsesOccurrenceDate(t *testing.T) {
	store := newStore("1000", "0")
	r := newRecurring(t, core.Candidate{
		RecurringType:    core.TypeStandard,
		IsDateFlexible:   true,
		IsAmountFlexible: true,
	})

	res, err := NewExecutor(store, fixedClock).Execute(context.Background(), r, ExecuteOptions{
		OverrideAmount: amountOf("12.5"),
		OccurrenceDate: core.NewDate(2024, 6, 3),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.True(t, res.Entries[0].Date.Equal(core.NewDate(2024, 6, 3)))
	assert.True(t, res.Entries[0].Amount.Equal(dec("-12.5")))
	assert.True(t, res.Recurring.NextOccurrenceDate.IsZero(), "flexible records stay unscheduled")
	assert.True(t, res.Recurring.LastExecutedAt.Equal(core.NewDate(2024, 6, 3)))
}

func TestExecuteHonoursCancellationBeforePosting(t *testing.T) {
	store := newStore("1000", "0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewExecutor(store, fixedClock).Execute(ctx, transfer(t, "100", false), ExecuteOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Empty(t, entriesOf(t, store, "A"))
}

func TestPreviewStatementPayment(t *testing.T) {
	ctx := context.Background()
	store := newStore("100", "300")
	require.NoError(t, store.SaveAccount(ctx, core.Account{
		ID: "card", TenantID: "t1", Class: core.Liability, Balance: dec("300"),
	}))
	exec := NewExecutor(store, fixedClock)

	r := newRecurring(t, core.Candidate{
		RecurringType:      core.TypeCreditCardPayment,
		TransferAccountID:  "card",
		CategoryID:         "card-payments",
		NextOccurrenceDate: core.NewDate(2024, 6, 25),
	})
	preview, err := exec.PreviewStatementPayment(ctx, r, core.NewDate(2024, 6, 20))
	require.NoError(t, err)
	assert.True(t, preview.EstimatedAmount.Equal(dec("300")))
	assert.True(t, preview.EstimatedDate.Equal(core.NewDate(2024, 6, 25)))
	assert.Contains(t, preview.Warnings, "card has no billing cycle day, using the current balance")
	assert.Contains(t, preview.Warnings, "source balance 100.00 is below the estimated payment")

	_, err = exec.PreviewStatementPayment(ctx, transfer(t, "1", false), core.Date{})
	assert.ErrorIs(t, err, core.ErrValidation)

	// Preview never writes.
	assert.Empty(t, entriesOf(t, store, "card"))
	assert.True(t, balance(t, store, "card").Equal(dec("300")))
}
