package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

// StatementResolver computes the amount owed on a liability account at the
// last closed billing-cycle boundary. It only reads from the store.
type StatementResolver struct {
	store ledger.StatementReader
}

func NewStatementResolver(store ledger.StatementReader) *StatementResolver {
	return &StatementResolver{store: store}
}

// Resolve returns the statement balance of account as of asOf. Without a
// billing-cycle day the whole current balance is owed.
func (r *StatementResolver) Resolve(ctx context.Context, account core.Account, asOf core.Date) (decimal.Decimal, error) {
	if account.BillingCycleDay <= 0 {
		return account.Balance.Abs(), nil
	}

	start, end := CycleWindow(account.BillingCycleDay, asOf)
	opening, err := r.store.BalanceAtDate(ctx, account.ID, start)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s at %s: %w", account.ID, start, err)
	}
	entries, err := r.store.EntriesInRange(ctx, account.ID, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("entries of %s in [%s,%s): %w", account.ID, start, end, err)
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(account.BalanceDelta(e.Amount))
	}
	return opening.Add(sum).Abs(), nil
}

// CycleWindow returns the half-open window [start, end) of the last closed
// statement for a cycle that closes on anchorDay. Anchor days past the end of
// a month close on its last day.
func CycleWindow(anchorDay int, asOf core.Date) (start, end core.Date) {
	thisMonth := anchorIn(asOf.Year(), asOf.Month(), anchorDay)
	if !asOf.Before(thisMonth) {
		return anchorIn(asOf.Year(), asOf.Month()-1, anchorDay), thisMonth
	}
	return anchorIn(asOf.Year(), asOf.Month()-2, anchorDay), anchorIn(asOf.Year(), asOf.Month()-1, anchorDay)
}

func anchorIn(year, month, day int) core.Date {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	if last := core.DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}
