package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// dateArg renders an optional date as text; empty for the zero date.
func dateArg(d core.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// accounts

const getAccount = `SELECT id, tenant_id, name, class, balance, billing_cycle_day FROM accounts WHERE id = ?`

func (q *Queries) GetAccount(ctx context.Context, id string) (core.Account, error) {
	var a core.Account
	var class string
	err := q.db.QueryRowContext(ctx, getAccount, id).Scan(&a.ID, &a.TenantID, &a.Name, &class, &a.Balance, &a.BillingCycleDay)
	a.Class = core.AccountClass(class)
	return a, err
}

const upsertAccount = `INSERT INTO accounts (id, tenant_id, name, class, balance, billing_cycle_day)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    tenant_id = excluded.tenant_id,
    name = excluded.name,
    class = excluded.class,
    balance = excluded.balance,
    billing_cycle_day = excluded.billing_cycle_day`

func (q *Queries) UpsertAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.ExecContext(ctx, upsertAccount, a.ID, a.TenantID, a.Name, string(a.Class), a.Balance.String(), a.BillingCycleDay)
	return err
}

const updateAccountBalance = `UPDATE accounts SET balance = ? WHERE id = ?`

func (q *Queries) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateAccountBalance, balance.String(), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ledger entries

const entryColumns = `id, tenant_id, account_id, amount, kind, category_id, transfer_account_id, transfer_id, entry_date, description, recurring_id, created_at`

const insertEntry = `INSERT INTO ledger_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertEntry(ctx context.Context, e core.LedgerEntry) error {
	_, err := q.db.ExecContext(ctx, insertEntry,
		e.ID, e.TenantID, e.AccountID, e.Amount.String(), string(e.Kind), e.CategoryID,
		e.TransferAccountID, e.TransferID, e.Date.String(), e.Description, e.RecurringID,
		formatTime(e.CreatedAt))
	return err
}

const deleteEntry = `DELETE FROM ledger_entries WHERE id = ?`

func (q *Queries) DeleteEntry(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteEntry, id)
	return err
}

const getEntry = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = ?`

func (q *Queries) GetEntry(ctx context.Context, id string) (core.LedgerEntry, error) {
	return scanEntry(q.db.QueryRowContext(ctx, getEntry, id))
}

const listEntriesInRange = `SELECT ` + entryColumns + ` FROM ledger_entries
WHERE account_id = ? AND entry_date >= ? AND (? = '' OR entry_date < ?)
ORDER BY entry_date, created_at`

func (q *Queries) ListEntriesInRange(ctx context.Context, accountID string, start, end core.Date) ([]core.LedgerEntry, error) {
	endArg := dateArg(end)
	rows, err := q.db.QueryContext(ctx, listEntriesInRange, accountID, dateArg(start), endArg, endArg)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const listPendingSync = `SELECT ` + entryColumns + ` FROM ledger_entries
WHERE synced_at IS NULL
ORDER BY entry_date, created_at
LIMIT ?`

func (q *Queries) ListPendingSync(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, listPendingSync, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

const markEntrySynced = `UPDATE ledger_entries SET synced_at = ? WHERE id = ?`

func (q *Queries) MarkEntrySynced(ctx context.Context, id string, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, markEntrySynced, formatTime(at), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(row rowScanner) (core.LedgerEntry, error) {
	var e core.LedgerEntry
	var kind, createdAt string
	err := row.Scan(&e.ID, &e.TenantID, &e.AccountID, &e.Amount, &kind, &e.CategoryID,
		&e.TransferAccountID, &e.TransferID, &e.Date, &e.Description, &e.RecurringID, &createdAt)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	e.Kind = core.TransactionKind(kind)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("entry %s created_at: %w", e.ID, err)
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]core.LedgerEntry, error) {
	defer rows.Close()
	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// recurring transactions

const recurringColumns = `id, tenant_id, source_account_id, description, kind, recurring_type,
    transfer_account_id, category_id, interval_months, anchor_day, next_occurrence_date,
    end_date, last_executed_at, is_active, is_date_flexible, amount, is_amount_flexible,
    auto_apply_enabled, failed_attempts, max_failed_attempts, is_deleted, created_at,
    created_by, updated_at, updated_by, version`

const getRecurring = `SELECT ` + recurringColumns + ` FROM recurring_transactions WHERE id = ?`

func (q *Queries) GetRecurring(ctx context.Context, id string) (core.Recurring, error) {
	return scanRecurring(q.db.QueryRowContext(ctx, getRecurring, id))
}

const insertRecurring = `INSERT INTO recurring_transactions (` + recurringColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertRecurring(ctx context.Context, r core.Recurring) error {
	_, err := q.db.ExecContext(ctx, insertRecurring, recurringArgs(r)...)
	return err
}

const updateRecurring = `UPDATE recurring_transactions SET
    tenant_id = ?, source_account_id = ?, description = ?, kind = ?, recurring_type = ?,
    transfer_account_id = ?, category_id = ?, interval_months = ?, anchor_day = ?,
    next_occurrence_date = ?, end_date = ?, last_executed_at = ?, is_active = ?,
    is_date_flexible = ?, amount = ?, is_amount_flexible = ?, auto_apply_enabled = ?,
    failed_attempts = ?, max_failed_attempts = ?, is_deleted = ?, created_at = ?,
    created_by = ?, updated_at = ?, updated_by = ?, version = ?
WHERE id = ? AND version = ?`

// UpdateRecurring writes r with version r.Version if the stored version is
// expected. It reports the number of rows changed.
func (q *Queries) UpdateRecurring(ctx context.Context, r core.Recurring, expected int64) (int64, error) {
	args := recurringArgs(r)
	args = append(args[1:], r.ID, expected)
	res, err := q.db.ExecContext(ctx, updateRecurring, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listDueRecurring = `SELECT ` + recurringColumns + ` FROM recurring_transactions
WHERE is_active = 1 AND is_deleted = 0
  AND next_occurrence_date IS NOT NULL AND next_occurrence_date <= ?
  AND (? = '' OR tenant_id = ?)
ORDER BY next_occurrence_date, id`

func (q *Queries) ListDueRecurring(ctx context.Context, tenantID string, asOf core.Date) ([]core.Recurring, error) {
	rows, err := q.db.QueryContext(ctx, listDueRecurring, asOf.String(), tenantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Recurring
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func recurringArgs(r core.Recurring) []any {
	var amount any
	if r.Amount.Valid {
		amount = r.Amount.Decimal.String()
	}
	return []any{
		r.ID, r.TenantID, r.SourceAccountID, r.Description, string(r.Kind), string(r.Type()),
		r.CounterAccountID(), r.CategoryID(), r.IntervalMonths, r.AnchorDay, r.NextOccurrenceDate,
		r.EndDate, r.LastExecutedAt, r.IsActive, r.IsDateFlexible, amount, r.IsAmountFlexible,
		r.AutoApplyEnabled, r.FailedAttempts, r.MaxFailedAttempts, r.IsDeleted, formatTime(r.CreatedAt),
		r.CreatedBy, formatTime(r.UpdatedAt), r.UpdatedBy, r.Version,
	}
}

func scanRecurring(row rowScanner) (core.Recurring, error) {
	var r core.Recurring
	var kind, typ, counter, category, createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.TenantID, &r.SourceAccountID, &r.Description, &kind, &typ,
		&counter, &category, &r.IntervalMonths, &r.AnchorDay, &r.NextOccurrenceDate,
		&r.EndDate, &r.LastExecutedAt, &r.IsActive, &r.IsDateFlexible, &r.Amount, &r.IsAmountFlexible,
		&r.AutoApplyEnabled, &r.FailedAttempts, &r.MaxFailedAttempts, &r.IsDeleted, &createdAt,
		&r.CreatedBy, &updatedAt, &r.UpdatedBy, &r.Version)
	if err != nil {
		return core.Recurring{}, err
	}
	r.Kind = core.TransactionKind(kind)
	switch core.RecurringType(typ) {
	case core.TypeStandard:
		r.Variant = core.Standard{CategoryID: category}
	case core.TypeTransfer:
		r.Variant = core.Transfer{TransferAccountID: counter, CategoryID: category}
	case core.TypeCreditCardPayment:
		r.Variant = core.CreditCardPayment{CardAccountID: counter, CategoryID: category}
	default:
		return core.Recurring{}, fmt.Errorf("recurring %s: unknown type %q", r.ID, typ)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Recurring{}, fmt.Errorf("recurring %s created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Recurring{}, fmt.Errorf("recurring %s updated_at: %w", r.ID, err)
	}
	return r, nil
}
