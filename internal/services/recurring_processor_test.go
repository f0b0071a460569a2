package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
)

func TestProcessDueRunsOnlyAutoApplyRecords(t *testing.T) {
	store := newStore("1000", "0")
	svc, _, pub := newService(store)
	ctx := context.Background()

	create := func(c core.Candidate) core.Recurring {
		r, err := svc.Create(ctx, c)
		require.NoError(t, err)
		return r
	}
	posted := create(transferCandidate("100", true))
	tooBig := create(transferCandidate("5000", true))
	create(transferCandidate("50", false))
	later := transferCandidate("10", true)
	later.NextOccurrenceDate = core.NewDate(2024, 7, 1)
	create(later)

	p := NewRecurringProcessor(store, svc, 4)
	asOf := core.NewDate(2024, 6, 20)

	summary, err := p.ProcessDue(ctx, "t1", asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Outcomes[OutcomePosted])
	assert.Equal(t, 1, summary.Outcomes[OutcomeSkipAndReschedule])
	assert.Equal(t, 0, summary.Errors)
	assert.Len(t, pub.entries, 2)

	r, err := svc.Get(ctx, posted.ID, "t1")
	require.NoError(t, err)
	assert.True(t, r.NextOccurrenceDate.Equal(core.NewDate(2024, 7, 20)))

	// The underfunded record stays due and keeps counting failures.
	summary, err = p.ProcessDue(ctx, "", asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	r, err = svc.Get(ctx, tooBig.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.FailedAttempts)
}

func TestProcessDueCountsRejections(t *testing.T) {
	store := newStore("10", "0")
	svc, _, _ := newService(store)
	ctx := context.Background()

	c := transferCandidate("100", true)
	c.FailedAttempts = 3
	_, err := svc.Create(ctx, c)
	require.NoError(t, err)

	summary, err := NewRecurringProcessor(store, svc, 0).ProcessDue(ctx, "t1", core.NewDate(2024, 6, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Outcomes[OutcomeRejected])
	assert.Equal(t, 1, summary.Errors)
}

func TestProcessDueStopsOnCancellation(t *testing.T) {
	store := newStore("1000", "0")
	svc, _, _ := newService(store)
	_, err := svc.Create(context.Background(), transferCandidate("100", true))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewRecurringProcessor(store, svc, 1).ProcessDue(ctx, "t1", core.NewDate(2024, 6, 20))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, balance(t, store, "A").Equal(dec("1000")))
}
