package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the local embedded ledger store. It implements
// ledger.Transactor, so the engine posts entries and balances in one
// database transaction.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	// tx is set on the repository handed to WithinTx callbacks.
	tx *sql.Tx
}

var (
	_ ledger.Store         = (*SQLiteRepository)(nil)
	_ ledger.Transactor    = (*SQLiteRepository)(nil)
	_ ledger.AccountWriter = (*SQLiteRepository)(nil)
	_ ledger.SyncTracker   = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite would answer SQLITE_BUSY otherwise.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil && r.tx == nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WithinTx runs fn in a transaction. Nested calls join the outer one.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	return r.withTx(ctx, func(txRepo *SQLiteRepository) error { return fn(txRepo) })
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*SQLiteRepository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txRepo := &SQLiteRepository{db: r.db, queries: r.queries.WithTx(tx), tx: tx}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Failed to roll back transaction",
				log.FieldComponent, log.ComponentStorage,
				log.FieldError, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ledger.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

func (r *SQLiteRepository) FindAccount(ctx context.Context, id, tenantID string) (*core.Account, error) {
	a, err := r.queries.GetAccount(ctx, id)
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	if tenantID != "" && a.TenantID != tenantID {
		return nil, fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
	}
	return &a, nil
}

func (r *SQLiteRepository) SaveAccount(ctx context.Context, a core.Account) error {
	if a.ID == "" || !a.Class.Valid() {
		return fmt.Errorf("invalid account %q", a.ID)
	}
	if err := r.queries.UpsertAccount(ctx, a); err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

// AdjustBalance reads and writes the balance in one transaction.
func (r *SQLiteRepository) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	return r.withTx(ctx, func(tr *SQLiteRepository) error {
		a, err := tr.queries.GetAccount(ctx, accountID)
		if err != nil {
			return notFound(err, "account", accountID)
		}
		if _, err := tr.queries.UpdateAccountBalance(ctx, accountID, a.Balance.Add(delta)); err != nil {
			return fmt.Errorf("update balance of %s: %w", accountID, err)
		}
		return nil
	})
}

// PostEntries stores every entry or none of them.
func (r *SQLiteRepository) PostEntries(ctx context.Context, entries []core.LedgerEntry) ([]core.LedgerEntry, error) {
	out := make([]core.LedgerEntry, len(entries))
	err := r.withTx(ctx, func(tr *SQLiteRepository) error {
		for i, e := range entries {
			if e.Amount.IsZero() {
				return fmt.Errorf("entry on %s: %w", e.AccountID, core.ErrInvalidAmount)
			}
			if e.Date.IsZero() {
				return fmt.Errorf("entry on %s: %w", e.AccountID, core.ErrMissingDate)
			}
			if _, err := tr.queries.GetAccount(ctx, e.AccountID); err != nil {
				return notFound(err, "entry account", e.AccountID)
			}
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = time.Now().UTC()
			}
			if err := tr.queries.InsertEntry(ctx, e); err != nil {
				return fmt.Errorf("insert entry on %s: %w", e.AccountID, err)
			}
			out[i] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VoidEntries ignores ids it does not know.
func (r *SQLiteRepository) VoidEntries(ctx context.Context, ids []string) error {
	return r.withTx(ctx, func(tr *SQLiteRepository) error {
		for _, id := range ids {
			if err := tr.queries.DeleteEntry(ctx, id); err != nil {
				return fmt.Errorf("void entry %s: %w", id, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) FindEntry(ctx context.Context, id string) (*core.LedgerEntry, error) {
	e, err := r.queries.GetEntry(ctx, id)
	if err != nil {
		return nil, notFound(err, "entry", id)
	}
	return &e, nil
}

func (r *SQLiteRepository) EntriesInRange(ctx context.Context, accountID string, start, end core.Date) ([]core.LedgerEntry, error) {
	entries, err := r.queries.ListEntriesInRange(ctx, accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list entries of %s: %w", accountID, err)
	}
	return entries, nil
}

// BalanceAtDate walks the current balance back over entries dated on or
// after date. Amounts are summed in Go to keep decimal precision.
func (r *SQLiteRepository) BalanceAtDate(ctx context.Context, accountID string, date core.Date) (decimal.Decimal, error) {
	a, err := r.queries.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, notFound(err, "account", accountID)
	}
	later, err := r.queries.ListEntriesInRange(ctx, accountID, date, core.Date{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list entries of %s: %w", accountID, err)
	}
	balance := a.Balance
	for _, e := range later {
		balance = balance.Sub(a.BalanceDelta(e.Amount))
	}
	return balance, nil
}

// SaveRecurring inserts new records (version 0) and updates existing ones
// when the stored version matches.
func (r *SQLiteRepository) SaveRecurring(ctx context.Context, rec core.Recurring) (core.Recurring, error) {
	expected := rec.Version
	rec.Version++
	if expected == 0 {
		if err := r.queries.InsertRecurring(ctx, rec); err != nil {
			return core.Recurring{}, fmt.Errorf("insert recurring %s: %w", rec.ID, err)
		}
		return rec, nil
	}

	n, err := r.queries.UpdateRecurring(ctx, rec, expected)
	if err != nil {
		return core.Recurring{}, fmt.Errorf("update recurring %s: %w", rec.ID, err)
	}
	if n == 0 {
		current, err := r.queries.GetRecurring(ctx, rec.ID)
		if err != nil {
			return core.Recurring{}, notFound(err, "recurring", rec.ID)
		}
		return core.Recurring{}, fmt.Errorf("recurring %s at version %d, have %d: %w",
			rec.ID, current.Version, expected, ledger.ErrVersionConflict)
	}
	return rec, nil
}

func (r *SQLiteRepository) FindRecurring(ctx context.Context, id, tenantID string) (*core.Recurring, error) {
	rec, err := r.queries.GetRecurring(ctx, id)
	if err != nil {
		return nil, notFound(err, "recurring", id)
	}
	if tenantID != "" && rec.TenantID != tenantID {
		return nil, fmt.Errorf("recurring %s: %w", id, ledger.ErrNotFound)
	}
	return &rec, nil
}

func (r *SQLiteRepository) FindDueRecurrings(ctx context.Context, tenantID string, asOf core.Date) ([]core.Recurring, error) {
	due, err := r.queries.ListDueRecurring(ctx, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due recurrings: %w", err)
	}
	return due, nil
}

func (r *SQLiteRepository) PendingSyncEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	entries, err := r.queries.ListPendingSync(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sync entries: %w", err)
	}
	return entries, nil
}

func (r *SQLiteRepository) MarkEntrySynced(ctx context.Context, id string) error {
	n, err := r.queries.MarkEntrySynced(ctx, id, time.Now())
	if err != nil {
		return fmt.Errorf("mark entry %s synced: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}
