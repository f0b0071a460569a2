package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinels for errors.Is checks across the error taxonomy.
var (
	ErrValidation        = errors.New("validation failed")
	ErrPrecondition      = errors.New("precondition failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPosting           = errors.New("posting failed")

	ErrIntervalOutOfRange = errors.New("interval out of range")
	ErrMissingDate        = errors.New("missing date")
	ErrAlreadyExecuted    = errors.New("occurrence already executed")
)

// RangeError reports an integer outside its allowed bounds.
type RangeError struct {
	Field    string
	Value    int
	Min, Max int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d out of range [%d,%d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrIntervalOutOfRange }

// ValidationError carries every rule violation found on a candidate.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Result.Errors))
	for i, fe := range e.Result.Errors {
		msgs[i] = fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PreconditionError rejects an execution before any side effect.
type PreconditionError struct {
	RecurringID string
	Reasons     []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("recurring %s not executable: %s", e.RecurringID, strings.Join(e.Reasons, ", "))
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// InsufficientFundsError is advisory: the engine turns it into an outcome.
type InsufficientFundsError struct {
	AccountID string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s has %s available, %s required", e.AccountID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// PostingError reports an I/O failure while writing entries or balances.
// Compensated is false when the rollback itself failed and the ledger needs
// manual repair.
type PostingError struct {
	Stage       string
	Compensated bool
	Err         error
}

func (e *PostingError) Error() string {
	msg := fmt.Sprintf("posting failed at %s: %v", e.Stage, e.Err)
	if !e.Compensated {
		msg += " (compensation incomplete)"
	}
	return msg
}

func (e *PostingError) Unwrap() []error { return []error{ErrPosting, e.Err} }
