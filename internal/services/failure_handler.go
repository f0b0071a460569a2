package services

import "ledger/internal/core"

// FailureHandler turns insufficient funds and posting errors into outcomes.
// It never posts; it only decides the outcome and the bookkeeping on the
// record. Unattended runs consume the retry budget, interactive runs get an
// advisory outcome instead.
type FailureHandler struct{}

// InsufficientFunds handles a failed funds check. The schedule is never
// advanced here.
func (FailureHandler) InsufficientFunds(r core.Recurring, unattended bool, cause *core.InsufficientFundsError) (Outcome, core.Recurring) {
	if unattended {
		r.FailedAttempts++
		return OutcomeSkipAndReschedule, r
	}
	if cause.Available.IsPositive() {
		return OutcomePartialPaymentAvailable, r
	}
	return OutcomeNoFundsAvailable, r
}

// PostingFailed records a failed posting attempt. The same occurrence is
// retried on the next run.
func (FailureHandler) PostingFailed(r core.Recurring, unattended bool) core.Recurring {
	if unattended {
		r.FailedAttempts++
	}
	return r
}

// Reset clears the retry counter after a human has looked at the record.
func (FailureHandler) Reset(r core.Recurring) core.Recurring {
	r.FailedAttempts = 0
	return r
}
