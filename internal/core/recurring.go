package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Variant is the type-specific part of a recurring record. Only Standard,
// Transfer and CreditCardPayment implement it.
type Variant interface {
	Type() RecurringType
	isVariant()
}

type (
	// Standard posts a single entry on the source account.
	Standard struct {
		CategoryID string
	}

	// Transfer moves money from the source account to TransferAccountID.
	Transfer struct {
		TransferAccountID string
		CategoryID        string
	}

	// CreditCardPayment pays the statement balance of CardAccountID from the
	// source account.
	CreditCardPayment struct {
		CardAccountID string
		CategoryID    string
	}
)

func (Standard) Type() RecurringType          { return TypeStandard }
func (Transfer) Type() RecurringType          { return TypeTransfer }
func (CreditCardPayment) Type() RecurringType { return TypeCreditCardPayment }

func (Standard) isVariant()          {}
func (Transfer) isVariant()          {}
func (CreditCardPayment) isVariant() {}

// Recurring is a scheduled obligation.
type Recurring struct {
	ID              string
	TenantID        string
	SourceAccountID string
	Description     string
	Kind            TransactionKind
	Variant         Variant

	IntervalMonths     int
	AnchorDay          int
	NextOccurrenceDate Date
	EndDate            Date
	LastExecutedAt     Date
	IsActive           bool
	IsDateFlexible     bool

	Amount           decimal.NullDecimal
	IsAmountFlexible bool

	AutoApplyEnabled  bool
	FailedAttempts    int
	MaxFailedAttempts int

	IsDeleted bool
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
	Version   int64
}

// Type returns the recurring type of the record's variant.
func (r Recurring) Type() RecurringType {
	if r.Variant == nil {
		return ""
	}
	return r.Variant.Type()
}

// CounterAccountID returns the second account of a pair, empty for standard records.
func (r Recurring) CounterAccountID() string {
	switch v := r.Variant.(type) {
	case Transfer:
		return v.TransferAccountID
	case CreditCardPayment:
		return v.CardAccountID
	}
	return ""
}

// CategoryID returns the category applied to generated entries.
func (r Recurring) CategoryID() string {
	switch v := r.Variant.(type) {
	case Standard:
		return v.CategoryID
	case Transfer:
		return v.CategoryID
	case CreditCardPayment:
		return v.CategoryID
	}
	return ""
}

// RetriesExhausted reports whether unattended execution is blocked.
func (r Recurring) RetriesExhausted() bool {
	return r.FailedAttempts >= r.MaxFailedAttempts
}

// Candidate converts the record back to its flat input form.
func (r Recurring) Candidate() Candidate {
	interval := r.IntervalMonths
	maxAttempts := r.MaxFailedAttempts
	c := Candidate{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		SourceAccountID:    r.SourceAccountID,
		Description:        r.Description,
		RecurringType:      r.Type(),
		TransactionKind:    r.Kind,
		IntervalMonths:     &interval,
		NextOccurrenceDate: r.NextOccurrenceDate,
		EndDate:            r.EndDate,
		IsDateFlexible:     r.IsDateFlexible,
		Amount:             r.Amount,
		IsAmountFlexible:   r.IsAmountFlexible,
		TransferAccountID:  r.CounterAccountID(),
		CategoryID:         r.CategoryID(),
		AutoApplyEnabled:   r.AutoApplyEnabled,
		FailedAttempts:     r.FailedAttempts,
		MaxFailedAttempts:  &maxAttempts,
	}
	if r.Type() == TypeCreditCardPayment {
		c.Amount = decimal.NullDecimal{}
	}
	return c
}

// Candidate is the unvalidated, flat form of a recurring record as it comes
// from a form or an API request.
type Candidate struct {
	ID                 string
	TenantID           string
	SourceAccountID    string
	Description        string
	RecurringType      RecurringType
	TransactionKind    TransactionKind
	IntervalMonths     *int
	NextOccurrenceDate Date
	EndDate            Date
	IsDateFlexible     bool
	Amount             decimal.NullDecimal
	IsAmountFlexible   bool
	TransferAccountID  string
	CategoryID         string
	AutoApplyEnabled   bool
	FailedAttempts     int
	MaxFailedAttempts  *int
	CreatedBy          string
}

// NewStandard builds a standard record from c.
func NewStandard(c Candidate, now time.Time) (Recurring, error) {
	c.RecurringType = TypeStandard
	return build(c, now)
}

// NewTransfer builds a transfer record from c.
func NewTransfer(c Candidate, now time.Time) (Recurring, error) {
	c.RecurringType = TypeTransfer
	return build(c, now)
}

// NewCreditCardPayment builds a card payment record. The amount is always
// resolved from the statement at execution time.
func NewCreditCardPayment(c Candidate, now time.Time) (Recurring, error) {
	c.RecurringType = TypeCreditCardPayment
	c.IsAmountFlexible = true
	c.Amount = decimal.NullDecimal{}
	return build(c, now)
}

// NewRecurring dispatches on c.RecurringType.
func NewRecurring(c Candidate, now time.Time) (Recurring, error) {
	switch c.RecurringType {
	case TypeStandard:
		return NewStandard(c, now)
	case TypeTransfer:
		return NewTransfer(c, now)
	case TypeCreditCardPayment:
		return NewCreditCardPayment(c, now)
	}
	return Recurring{}, &ValidationError{Result: Validate(c)}
}

func build(c Candidate, now time.Time) (Recurring, error) {
	if res := Validate(c); !res.IsValid {
		return Recurring{}, &ValidationError{Result: res}
	}

	var variant Variant
	switch c.RecurringType {
	case TypeStandard:
		variant = Standard{CategoryID: c.CategoryID}
	case TypeTransfer:
		variant = Transfer{TransferAccountID: c.TransferAccountID, CategoryID: c.CategoryID}
	case TypeCreditCardPayment:
		variant = CreditCardPayment{CardAccountID: c.TransferAccountID, CategoryID: c.CategoryID}
	default:
		return Recurring{}, fmt.Errorf("unknown recurring type %q", c.RecurringType)
	}

	kind := c.TransactionKind
	if kind == "" {
		kind = KindTransfer
		if c.RecurringType == TypeStandard {
			kind = KindExpense
		}
	}

	interval := 1
	if c.IntervalMonths != nil {
		interval = *c.IntervalMonths
	}
	maxAttempts := DefaultMaxFailedAttempts
	if c.MaxFailedAttempts != nil {
		maxAttempts = *c.MaxFailedAttempts
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	r := Recurring{
		ID:                 id,
		TenantID:           c.TenantID,
		SourceAccountID:    c.SourceAccountID,
		Description:        strings.TrimSpace(c.Description),
		Kind:               kind,
		Variant:            variant,
		IntervalMonths:     interval,
		NextOccurrenceDate: c.NextOccurrenceDate,
		EndDate:            c.EndDate,
		IsActive:           true,
		IsDateFlexible:     c.IsDateFlexible,
		Amount:             c.Amount,
		IsAmountFlexible:   c.IsAmountFlexible,
		AutoApplyEnabled:   c.AutoApplyEnabled,
		FailedAttempts:     c.FailedAttempts,
		MaxFailedAttempts:  maxAttempts,
		CreatedAt:          now.UTC(),
		CreatedBy:          c.CreatedBy,
		UpdatedAt:          now.UTC(),
		UpdatedBy:          c.CreatedBy,
	}
	if !c.NextOccurrenceDate.IsZero() {
		r.AnchorDay = c.NextOccurrenceDate.Day()
	}
	return r, nil
}
