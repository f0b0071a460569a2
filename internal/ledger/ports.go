// Package ledger defines the storage ports the recurring engine talks to.
// Implementations live in internal/ledger/memory and internal/storage.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Ports for outbound adapters.
type (
	AccountReader interface {
		FindAccount(ctx context.Context, id, tenantID string) (*core.Account, error)
	}

	// EntryWriter posts ledger entries. PostEntries is all-or-nothing and
	// returns the entries as stored, with ids assigned.
	EntryWriter interface {
		PostEntries(ctx context.Context, entries []core.LedgerEntry) ([]core.LedgerEntry, error)
		// VoidEntries removes previously posted entries. Only used to
		// compensate a posting that failed half way.
		VoidEntries(ctx context.Context, ids []string) error
	}

	BalanceWriter interface {
		AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error
	}

	// StatementReader answers the questions the statement resolver asks.
	StatementReader interface {
		// EntriesInRange returns entries of the account with start <= date < end.
		EntriesInRange(ctx context.Context, accountID string, start, end core.Date) ([]core.LedgerEntry, error)
		// BalanceAtDate returns the balance before any entry dated on or after date.
		BalanceAtDate(ctx context.Context, accountID string, date core.Date) (decimal.Decimal, error)
	}

	EntryReader interface {
		FindEntry(ctx context.Context, id string) (*core.LedgerEntry, error)
	}

	// RecurringRepository persists recurring records. SaveRecurring fails
	// with ErrVersionConflict when the stored version differs from r.Version
	// and returns the record with its version bumped.
	RecurringRepository interface {
		SaveRecurring(ctx context.Context, r core.Recurring) (core.Recurring, error)
		FindRecurring(ctx context.Context, id, tenantID string) (*core.Recurring, error)
		// FindDueRecurrings lists active records due on or before asOf. An
		// empty tenantID matches every tenant.
		FindDueRecurrings(ctx context.Context, tenantID string, asOf core.Date) ([]core.Recurring, error)
	}

	// Store is everything the engine and the application services need.
	Store interface {
		AccountReader
		EntryWriter
		BalanceWriter
		StatementReader
		EntryReader
		RecurringRepository
	}

	// Transactor is implemented by stores that can run fn atomically. The
	// Store passed to fn is bound to the transaction.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(Store) error) error
	}

	// AccountWriter creates or replaces accounts; used for seeding.
	AccountWriter interface {
		SaveAccount(ctx context.Context, a core.Account) error
	}

	// SyncTracker tracks which entries were mirrored to the cloud sheet.
	SyncTracker interface {
		PendingSyncEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error)
		MarkEntrySynced(ctx context.Context, id string) error
	}
)
