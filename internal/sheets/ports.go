package sheets

import (
	"context"
	"errors"

	"ledger/internal/core"
)

// Ports for outbound adapters.
type (
	// EntryWriter mirrors a posted ledger entry to an external sheet.
	EntryWriter interface {
		AppendEntry(ctx context.Context, e core.LedgerEntry) (rowRef string, err error)
	}
)

var ErrMissingEntryID = errors.New("missing entry id")

// Header is the column layout of the mirror sheet.
var Header = []string{"Date", "Description", "Amount", "Account", "Kind", "Category", "Transfer", "Recurring", "Entry ID"}

// ValidateEntry rejects entries that cannot be mirrored.
func ValidateEntry(e core.LedgerEntry) error {
	if e.ID == "" {
		return ErrMissingEntryID
	}
	if e.Date.IsZero() {
		return core.ErrMissingDate
	}
	if e.Amount.IsZero() {
		return core.ErrInvalidAmount
	}
	return nil
}

// Row renders e in Header order.
func Row(e core.LedgerEntry) []any {
	return []any{
		e.Date.String(),
		e.Description,
		core.FormatAmount(e.Amount),
		e.AccountID,
		string(e.Kind),
		e.CategoryID,
		e.TransferAccountID,
		e.RecurringID,
		e.ID,
	}
}
