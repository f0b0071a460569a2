package http

import (
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/services"
)

// RecurringView is the JSON form of a recurring record.
type RecurringView struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	RecurringType      string    `json:"recurring_type"`
	TransactionKind    string    `json:"transaction_kind,omitempty"`
	Description        string    `json:"description"`
	SourceAccountID    string    `json:"source_account_id"`
	TransferAccountID  string    `json:"transfer_account_id,omitempty"`
	CategoryID         string    `json:"category_id,omitempty"`
	IntervalMonths     int       `json:"interval_months"`
	NextOccurrenceDate core.Date `json:"next_occurrence_date"`
	EndDate            core.Date `json:"end_date"`
	LastExecutedAt     core.Date `json:"last_executed_at"`
	IsDateFlexible     bool      `json:"is_date_flexible"`
	Amount             *string   `json:"amount"`
	IsAmountFlexible   bool      `json:"is_amount_flexible"`
	IsActive           bool      `json:"is_active"`
	AutoApplyEnabled   bool      `json:"auto_apply_enabled"`
	FailedAttempts     int       `json:"failed_attempts"`
	MaxFailedAttempts  int       `json:"max_failed_attempts"`
	RetriesExhausted   bool      `json:"retries_exhausted"`
	CreatedAt          time.Time `json:"created_at"`
	CreatedBy          string    `json:"created_by,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
	UpdatedBy          string    `json:"updated_by,omitempty"`
	Version            int64     `json:"version"`
}

func newRecurringView(r core.Recurring) RecurringView {
	v := RecurringView{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		RecurringType:      string(r.Type()),
		TransactionKind:    string(r.Kind),
		Description:        r.Description,
		SourceAccountID:    r.SourceAccountID,
		TransferAccountID:  r.CounterAccountID(),
		CategoryID:         r.CategoryID(),
		IntervalMonths:     r.IntervalMonths,
		NextOccurrenceDate: r.NextOccurrenceDate,
		EndDate:            r.EndDate,
		LastExecutedAt:     r.LastExecutedAt,
		IsDateFlexible:     r.IsDateFlexible,
		IsAmountFlexible:   r.IsAmountFlexible,
		IsActive:           r.IsActive,
		AutoApplyEnabled:   r.AutoApplyEnabled,
		FailedAttempts:     r.FailedAttempts,
		MaxFailedAttempts:  r.MaxFailedAttempts,
		RetriesExhausted:   r.RetriesExhausted(),
		CreatedAt:          r.CreatedAt,
		CreatedBy:          r.CreatedBy,
		UpdatedAt:          r.UpdatedAt,
		UpdatedBy:          r.UpdatedBy,
		Version:            r.Version,
	}
	if r.Amount.Valid {
		v.Amount = amountPtr(r.Amount.Decimal)
	}
	return v
}

// DueView adds the distance to the next occurrence.
type DueView struct {
	RecurringView
	DaysUntil      int    `json:"days_until"`
	DueDescription string `json:"due_description"`
}

type EntryView struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	Amount            string    `json:"amount"`
	Kind              string    `json:"kind"`
	CategoryID        string    `json:"category_id,omitempty"`
	TransferAccountID string    `json:"transfer_account_id,omitempty"`
	TransferID        string    `json:"transfer_id,omitempty"`
	Date              core.Date `json:"date"`
	Description       string    `json:"description"`
	RecurringID       string    `json:"recurring_id"`
}

func newEntryView(e core.LedgerEntry) EntryView {
	return EntryView{
		ID:                e.ID,
		AccountID:         e.AccountID,
		Amount:            core.FormatAmount(e.Amount),
		Kind:              string(e.Kind),
		CategoryID:        e.CategoryID,
		TransferAccountID: e.TransferAccountID,
		TransferID:        e.TransferID,
		Date:              e.Date,
		Description:       e.Description,
		RecurringID:       e.RecurringID,
	}
}

// ExecutionView reports one execution attempt.
type ExecutionView struct {
	Outcome         services.Outcome `json:"outcome"`
	AmountApplied   string           `json:"amount_applied"`
	AvailableAmount *string          `json:"available_amount,omitempty"`
	Entries         []EntryView      `json:"entries"`
	Reasons         []string         `json:"reasons,omitempty"`
	Error           string           `json:"error,omitempty"`
	Recurring       RecurringView    `json:"recurring"`
}

func newExecutionView(res *services.ExecutionResult) ExecutionView {
	v := ExecutionView{
		Outcome:       res.Outcome,
		AmountApplied: core.FormatAmount(res.AmountApplied),
		Entries:       make([]EntryView, 0, len(res.Entries)),
		Reasons:       res.Reasons,
		Recurring:     newRecurringView(res.Recurring),
	}
	for _, e := range res.Entries {
		v.Entries = append(v.Entries, newEntryView(e))
	}
	switch res.Outcome {
	case services.OutcomePartialPaymentAvailable, services.OutcomeNoFundsAvailable, services.OutcomeSkipAndReschedule:
		v.AvailableAmount = amountPtr(res.AvailableAmount)
	}
	if res.Cause != nil {
		v.Error = res.Cause.Error()
	}
	return v
}

type PreviewView struct {
	EstimatedAmount string    `json:"estimated_amount"`
	EstimatedDate   core.Date `json:"estimated_date"`
	Warnings        []string  `json:"warnings"`
}

func newPreviewView(p services.StatementPreview) PreviewView {
	warnings := p.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return PreviewView{
		EstimatedAmount: core.FormatAmount(p.EstimatedAmount),
		EstimatedDate:   p.EstimatedDate,
		Warnings:        warnings,
	}
}

func amountPtr(d decimal.Decimal) *string {
	s := core.FormatAmount(d)
	return &s
}
