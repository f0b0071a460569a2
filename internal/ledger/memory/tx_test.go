package memory

import (
	"context"
	"errors"
	"testing"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

func TestWithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New(core.Account{ID: "a", Class: core.Asset, Balance: dec("100")})

	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.PostEntries(ctx, []core.LedgerEntry{{AccountID: "a", Amount: dec("-10"), Date: core.NewDate(2024, 1, 1)}}); err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, "a", dec("-10"))
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	a, _ := s.FindAccount(ctx, "a", "")
	if !a.Balance.Equal(dec("90")) {
		t.Errorf("balance = %s, want 90", a.Balance)
	}
	if got, _ := s.EntriesInRange(ctx, "a", core.NewDate(2000, 1, 1), core.Date{}); len(got) != 1 {
		t.Errorf("entries = %d, want 1", len(got))
	}
}

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := New(core.Account{ID: "a", Class: core.Asset, Balance: dec("100")})
	r := core.Recurring{ID: "r1", TenantID: "t1"}
	saved, err := s.SaveRecurring(ctx, r)
	if err != nil {
		t.Fatalf("SaveRecurring: %v", err)
	}

	errStop := errors.New("stop")
	err = s.WithinTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.PostEntries(ctx, []core.LedgerEntry{{AccountID: "a", Amount: dec("-10"), Date: core.NewDate(2024, 1, 1)}}); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, "a", dec("-10")); err != nil {
			return err
		}
		if _, err := tx.SaveRecurring(ctx, saved); err != nil {
			return err
		}
		// Nested units join the outer one.
		return tx.(ledger.Transactor).WithinTx(ctx, func(ledger.Store) error { return errStop })
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected errStop, got %v", err)
	}

	a, _ := s.FindAccount(ctx, "a", "")
	if !a.Balance.Equal(dec("100")) {
		t.Errorf("balance = %s, want 100", a.Balance)
	}
	if got, _ := s.EntriesInRange(ctx, "a", core.NewDate(2000, 1, 1), core.Date{}); len(got) != 0 {
		t.Errorf("entries = %d, want 0", len(got))
	}
	stored, _ := s.FindRecurring(ctx, "r1", "t1")
	if stored.Version != saved.Version {
		t.Errorf("version = %d, want %d", stored.Version, saved.Version)
	}
}

func TestWithinTxVersionConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New(core.Account{ID: "a", Class: core.Asset, Balance: dec("100")})
	stale, _ := s.SaveRecurring(ctx, core.Recurring{ID: "r1"})
	if _, err := s.SaveRecurring(ctx, stale); err != nil {
		t.Fatalf("SaveRecurring: %v", err)
	}

	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		if err := tx.AdjustBalance(ctx, "a", dec("-50")); err != nil {
			return err
		}
		_, err := tx.SaveRecurring(ctx, stale)
		return err
	})
	if !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	a, _ := s.FindAccount(ctx, "a", "")
	if !a.Balance.Equal(dec("100")) {
		t.Errorf("balance = %s, want 100", a.Balance)
	}
}
