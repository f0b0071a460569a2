package core

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeStandard          RecurringType = "standard"
	TypeTransfer          RecurringType = "transfer"
	TypeCreditCardPayment RecurringType = "credit_card_payment"

	DefaultMaxFailedAttempts = 3

	dateLayout = "2006-01-02"
)

const (
	KindExpense    TransactionKind = "expense"
	KindIncome     TransactionKind = "income"
	KindTransfer   TransactionKind = "transfer"
	KindAdjustment TransactionKind = "adjustment"
	KindInitial    TransactionKind = "initial"
	KindRefund     TransactionKind = "refund"
)

const (
	Asset     AccountClass = "asset"
	Liability AccountClass = "liability"
)

// MinAmount is the smallest positive amount a fixed recurring record may carry.
var MinAmount = decimal.New(1, -2)

type (
	RecurringType   string
	TransactionKind string
	AccountClass    string

	Date struct {
		time.Time
	}

	Account struct {
		ID              string
		TenantID        string
		Name            string
		Class           AccountClass
		Balance         decimal.Decimal
		BillingCycleDay int // 0 when the account has no statement cycle
	}

	LedgerEntry struct {
		ID                string
		TenantID          string
		AccountID         string
		Amount            decimal.Decimal // negative = debit
		Kind              TransactionKind
		CategoryID        string
		TransferAccountID string
		TransferID        string // id of the opposite entry of a pair
		Date              Date
		Description       string
		RecurringID       string
		CreatedAt         time.Time
	}
)

var (
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Valid reports whether t is one of the supported recurring types.
func (t RecurringType) Valid() bool {
	switch t {
	case TypeStandard, TypeTransfer, TypeCreditCardPayment:
		return true
	}
	return false
}

func (k TransactionKind) Valid() bool {
	switch k {
	case KindExpense, KindIncome, KindTransfer, KindAdjustment, KindInitial, KindRefund:
		return true
	}
	return false
}

// Sign returns -1 for kinds that take money out of the source account. Only
// expense debits; income, transfer, adjustment, initial and refund all credit
// the source. Recurring amounts are validated positive, so a standard record
// cannot post a negative adjustment.
func (k TransactionKind) Sign() int32 {
	if k == KindExpense {
		return -1
	}
	return 1
}

func (c AccountClass) Valid() bool {
	return c == Asset || c == Liability
}

// BalanceDelta maps a signed entry amount to the change of the account balance.
// Liability balances count debt, so a credit to a card lowers its balance.
func (a Account) BalanceDelta(entryAmount decimal.Decimal) decimal.Decimal {
	if a.Class == Liability {
		return entryAmount.Neg()
	}
	return entryAmount
}

// IsPairLeg reports whether the entry belongs to a linked transfer pair.
func (e LedgerEntry) IsPairLeg() bool {
	return e.TransferID != ""
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Today returns the current calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string. The empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// IsEmpty returns true if the date is absent.
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Before compares at day precision.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After compares at day precision.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal compares at day precision.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding; empty dates are null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Date{}
		return nil
	}
	return d.UnmarshalText([]byte(strings.Trim(s, `"`)))
}

// Value stores dates as YYYY-MM-DD text, NULL when empty.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	case time.Time:
		*d = DateOf(v)
		return nil
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
