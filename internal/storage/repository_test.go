package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	require.NoError(t, repo.SaveAccount(ctx, core.Account{ID: "checking", TenantID: "t1", Name: "Checking", Class: core.Asset, Balance: dec("1000")}))
	require.NoError(t, repo.SaveAccount(ctx, core.Account{ID: "visa", TenantID: "t1", Name: "Visa", Class: core.Liability, Balance: dec("200"), BillingCycleDay: 15}))
	return repo
}

func entry(account, amount string, date core.Date) core.LedgerEntry {
	return core.LedgerEntry{
		TenantID:  "t1",
		AccountID: account,
		Amount:    dec(amount),
		Kind:      core.KindExpense,
		Date:      date,
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.SaveAccount(context.Background(), core.Account{ID: "a", TenantID: "t1", Class: core.Asset}))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	a, err := reopened.FindAccount(context.Background(), "a", "t1")
	require.NoError(t, err)
	assert.Equal(t, core.Asset, a.Class)
}

func TestAccounts(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	a, err := repo.FindAccount(ctx, "visa", "t1")
	require.NoError(t, err)
	assert.Equal(t, core.Liability, a.Class)
	assert.Equal(t, 15, a.BillingCycleDay)
	assert.True(t, a.Balance.Equal(dec("200")))

	_, err = repo.FindAccount(ctx, "visa", "other-tenant")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = repo.FindAccount(ctx, "missing", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, repo.AdjustBalance(ctx, "checking", dec("-12.34")))
	a, err = repo.FindAccount(ctx, "checking", "")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("987.66")), a.Balance.String())

	assert.ErrorIs(t, repo.AdjustBalance(ctx, "missing", dec("1")), ledger.ErrNotFound)
	assert.Error(t, repo.SaveAccount(ctx, core.Account{ID: "x", Class: "equity"}))
}

func TestPostEntriesIsAllOrNothing(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	day := core.NewDate(2024, 6, 1)

	_, err := repo.PostEntries(ctx, []core.LedgerEntry{
		entry("checking", "-10", day),
		entry("missing", "10", day),
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	got, err := repo.EntriesInRange(ctx, "checking", core.Date{}, core.Date{})
	require.NoError(t, err)
	assert.Empty(t, got)

	posted, err := repo.PostEntries(ctx, []core.LedgerEntry{entry("checking", "-10.50", day)})
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.NotEmpty(t, posted[0].ID)
	assert.False(t, posted[0].CreatedAt.IsZero())

	found, err := repo.FindEntry(ctx, posted[0].ID)
	require.NoError(t, err)
	assert.True(t, found.Amount.Equal(dec("-10.50")))
	assert.True(t, found.Date.Equal(day))
	assert.Equal(t, core.KindExpense, found.Kind)

	require.NoError(t, repo.VoidEntries(ctx, []string{posted[0].ID, "unknown"}))
	_, err = repo.FindEntry(ctx, posted[0].ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestEntriesInRangeIsHalfOpen(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	_, err := repo.PostEntries(ctx, []core.LedgerEntry{
		entry("visa", "-50", core.NewDate(2024, 5, 14)),
		entry("visa", "-20", core.NewDate(2024, 5, 15)),
		entry("visa", "-30", core.NewDate(2024, 6, 14)),
		entry("visa", "-40", core.NewDate(2024, 6, 15)),
	})
	require.NoError(t, err)

	got, err := repo.EntriesInRange(ctx, "visa", core.NewDate(2024, 5, 15), core.NewDate(2024, 6, 15))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Equal(dec("-20")))
	assert.True(t, got[1].Amount.Equal(dec("-30")))
}

func TestBalanceAtDate(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	// Card debt 200 already includes both charges.
	_, err := repo.PostEntries(ctx, []core.LedgerEntry{
		entry("visa", "-120", core.NewDate(2024, 3, 5)),
		entry("visa", "-20", core.NewDate(2024, 4, 2)),
	})
	require.NoError(t, err)

	b, err := repo.BalanceAtDate(ctx, "visa", core.NewDate(2024, 4, 1))
	require.NoError(t, err)
	assert.True(t, b.Equal(dec("180")), b.String())

	b, err = repo.BalanceAtDate(ctx, "visa", core.NewDate(2024, 3, 1))
	require.NoError(t, err)
	assert.True(t, b.Equal(dec("60")), b.String())
}

func testRecurring(t *testing.T, id, tenant string, next core.Date) core.Recurring {
	t.Helper()
	interval := 1
	r, err := core.NewRecurring(core.Candidate{
		ID:                 id,
		TenantID:           tenant,
		SourceAccountID:    "checking",
		Description:        "Card bill",
		RecurringType:      core.TypeCreditCardPayment,
		TransferAccountID:  "visa",
		CategoryID:         "card",
		IntervalMonths:     &interval,
		NextOccurrenceDate: next,
		EndDate:            core.NewDate(2025, 1, 1),
		AutoApplyEnabled:   true,
		CreatedBy:          "tester",
	}, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return r
}

func TestSaveRecurringRoundTripAndVersioning(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	r := testRecurring(t, "r1", "t1", core.NewDate(2024, 6, 19))
	saved, err := repo.SaveRecurring(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	got, err := repo.FindRecurring(ctx, "r1", "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TypeCreditCardPayment, got.Type())
	assert.Equal(t, "visa", got.CounterAccountID())
	assert.Equal(t, "card", got.CategoryID())
	assert.False(t, got.Amount.Valid)
	assert.True(t, got.IsAmountFlexible)
	assert.True(t, got.NextOccurrenceDate.Equal(core.NewDate(2024, 6, 19)))
	assert.True(t, got.EndDate.Equal(core.NewDate(2025, 1, 1)))
	assert.True(t, got.LastExecutedAt.IsZero())
	assert.Equal(t, 19, got.AnchorDay)
	assert.Equal(t, core.DefaultMaxFailedAttempts, got.MaxFailedAttempts)
	assert.Equal(t, "tester", got.CreatedBy)
	assert.True(t, got.CreatedAt.Equal(r.CreatedAt))

	got.FailedAttempts = 2
	updated, err := repo.SaveRecurring(ctx, *got)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// A writer holding the old version loses.
	_, err = repo.SaveRecurring(ctx, *got)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)

	ghost := testRecurring(t, "ghost", "t1", core.NewDate(2024, 6, 19))
	ghost.Version = 4
	_, err = repo.SaveRecurring(ctx, ghost)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = repo.FindRecurring(ctx, "r1", "other")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestFindDueRecurrings(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	asOf := core.NewDate(2024, 6, 20)

	for _, r := range []core.Recurring{
		testRecurring(t, "b-due", "t1", core.NewDate(2024, 6, 20)),
		testRecurring(t, "a-due", "t1", core.NewDate(2024, 6, 20)),
		testRecurring(t, "early", "t1", core.NewDate(2024, 6, 1)),
		testRecurring(t, "future", "t1", core.NewDate(2024, 6, 21)),
		testRecurring(t, "other", "t2", core.NewDate(2024, 6, 1)),
	} {
		_, err := repo.SaveRecurring(ctx, r)
		require.NoError(t, err)
	}
	inactive := testRecurring(t, "inactive", "t1", core.NewDate(2024, 6, 1))
	inactive.IsActive = false
	_, err := repo.SaveRecurring(ctx, inactive)
	require.NoError(t, err)
	deleted := testRecurring(t, "deleted", "t1", core.NewDate(2024, 6, 1))
	deleted.IsDeleted = true
	_, err = repo.SaveRecurring(ctx, deleted)
	require.NoError(t, err)

	due, err := repo.FindDueRecurrings(ctx, "t1", asOf)
	require.NoError(t, err)
	ids := make([]string, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"early", "a-due", "b-due"}, ids)

	all, err := repo.FindDueRecurrings(ctx, "", asOf)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestWithinTxRollsBack(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(s ledger.Store) error {
		if _, err := s.PostEntries(ctx, []core.LedgerEntry{entry("checking", "-100", core.NewDate(2024, 6, 1))}); err != nil {
			return err
		}
		if err := s.AdjustBalance(ctx, "checking", dec("-100")); err != nil {
			return err
		}
		return s.AdjustBalance(ctx, "missing", dec("100"))
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)

	a, err := repo.FindAccount(ctx, "checking", "")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("1000")), "balance must be rolled back, got %s", a.Balance)
	got, err := repo.EntriesInRange(ctx, "checking", core.Date{}, core.Date{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncTracking(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	posted, err := repo.PostEntries(ctx, []core.LedgerEntry{
		entry("checking", "-1", core.NewDate(2024, 6, 1)),
		entry("checking", "-2", core.NewDate(2024, 6, 2)),
		entry("checking", "-3", core.NewDate(2024, 6, 3)),
	})
	require.NoError(t, err)

	pending, err := repo.PendingSyncEntries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, repo.MarkEntrySynced(ctx, posted[0].ID))
	assert.ErrorIs(t, repo.MarkEntrySynced(ctx, "missing"), ledger.ErrNotFound)

	pending, err = repo.PendingSyncEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, posted[1].ID, pending[0].ID)
}
