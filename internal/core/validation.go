package core

import (
	"fmt"
	"strings"
)

// Rule names reported in FieldError.Rule.
const (
	RuleRequired  = "required"
	RuleRange     = "range"
	RuleEnum      = "enum"
	RuleDifferent = "different"
	RuleMin       = "min"
	RuleForbidden = "forbidden"
	RuleAfter     = "after"
	RuleExists    = "exists"
)

const (
	MinMaxFailedAttempts = 1
	MaxMaxFailedAttempts = 10
)

type (
	// FieldError is one rule violation.
	FieldError struct {
		Field   string `json:"field"`
		Rule    string `json:"rule"`
		Value   any    `json:"value,omitempty"`
		Message string `json:"message"`
	}

	ValidationResult struct {
		IsValid bool         `json:"is_valid"`
		Errors  []FieldError `json:"errors"`
	}
)

// Has reports whether the result contains a violation of rule on field.
func (r ValidationResult) Has(field, rule string) bool {
	for _, e := range r.Errors {
		if e.Field == field && e.Rule == rule {
			return true
		}
	}
	return false
}

// Validate checks c against every structural and cross-field rule and
// collects all violations.
func Validate(c Candidate) ValidationResult {
	var v validator

	if c.IntervalMonths != nil {
		n := *c.IntervalMonths
		if n < MinIntervalMonths || n > MaxIntervalMonths {
			v.add("interval_months", RuleRange, n,
				fmt.Sprintf("interval must be between %d and %d months", MinIntervalMonths, MaxIntervalMonths))
		}
	}

	if !c.RecurringType.Valid() {
		v.add("recurring_type", RuleEnum, string(c.RecurringType),
			"recurring type must be one of standard, transfer, credit_card_payment")
	}
	if c.TransactionKind != "" && !c.TransactionKind.Valid() {
		v.add("transaction_kind", RuleEnum, string(c.TransactionKind), "unknown transaction kind")
	}

	if blank(c.SourceAccountID) {
		v.add("source_account_id", RuleRequired, nil, "source account is required")
	}

	switch c.RecurringType {
	case TypeStandard:
		if !blank(c.TransferAccountID) {
			v.add("transfer_account_id", RuleForbidden, c.TransferAccountID,
				"standard records have no transfer account")
		}
	case TypeTransfer:
		v.counterAccount(c, "transfer account is required for transfers")
	case TypeCreditCardPayment:
		if blank(c.CategoryID) {
			v.add("category_id", RuleRequired, nil, "category is required for credit card payments")
		}
		v.counterAccount(c, "card account is required for credit card payments")
	}

	// Card payments are always resolved from the statement.
	amountFlexible := c.IsAmountFlexible || c.RecurringType == TypeCreditCardPayment
	if !amountFlexible {
		switch {
		case !c.Amount.Valid:
			v.add("amount", RuleRequired, nil, "amount is required unless it is flexible")
		case c.Amount.Decimal.LessThan(MinAmount):
			v.add("amount", RuleMin, c.Amount.Decimal.String(),
				fmt.Sprintf("amount must be at least %s", MinAmount.StringFixed(2)))
		}
	}

	if !c.IsDateFlexible && c.NextOccurrenceDate.IsZero() {
		v.add("next_occurrence_date", RuleRequired, nil, "next occurrence date is required unless it is flexible")
	}
	if !c.EndDate.IsZero() && !c.NextOccurrenceDate.IsZero() && c.EndDate.Before(c.NextOccurrenceDate) {
		v.add("end_date", RuleAfter, c.EndDate.String(), "end date must not be before the next occurrence")
	}

	if c.MaxFailedAttempts != nil {
		n := *c.MaxFailedAttempts
		if n < MinMaxFailedAttempts || n > MaxMaxFailedAttempts {
			v.add("max_failed_attempts", RuleRange, n,
				fmt.Sprintf("max failed attempts must be between %d and %d", MinMaxFailedAttempts, MaxMaxFailedAttempts))
		}
	}
	if c.FailedAttempts < 0 {
		v.add("failed_attempts", RuleMin, c.FailedAttempts, "failed attempts cannot be negative")
	}

	return v.result()
}

// ValidateTransfer validates c as a transfer before it has an id.
func ValidateTransfer(c Candidate) ValidationResult {
	c.RecurringType = TypeTransfer
	return Validate(c)
}

// ValidateCreditCardPayment validates c as a card payment before it has an id.
func ValidateCreditCardPayment(c Candidate) ValidationResult {
	c.RecurringType = TypeCreditCardPayment
	c.IsAmountFlexible = true
	return Validate(c)
}

type validator struct {
	errs []FieldError
}

func (v *validator) add(field, rule string, value any, msg string) {
	v.errs = append(v.errs, FieldError{Field: field, Rule: rule, Value: value, Message: msg})
}

func (v *validator) counterAccount(c Candidate, missing string) {
	switch {
	case blank(c.TransferAccountID):
		v.add("transfer_account_id", RuleRequired, nil, missing)
	case strings.TrimSpace(c.TransferAccountID) == strings.TrimSpace(c.SourceAccountID):
		v.add("transfer_account_id", RuleDifferent, c.TransferAccountID,
			"transfer account must differ from the source account")
	}
}

func (v *validator) result() ValidationResult {
	return ValidationResult{IsValid: len(v.errs) == 0, Errors: v.errs}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
