package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
	"ledger/internal/ledger/memory"
)

func TestCycleWindow(t *testing.T) {
	tests := []struct {
		name      string
		anchor    int
		asOf      core.Date
		wantStart core.Date
		wantEnd   core.Date
	}{
		{"on the anchor day", 15, core.NewDate(2024, 6, 15), core.NewDate(2024, 5, 15), core.NewDate(2024, 6, 15)},
		{"after the anchor day", 15, core.NewDate(2024, 6, 20), core.NewDate(2024, 5, 15), core.NewDate(2024, 6, 15)},
		{"before the anchor day", 15, core.NewDate(2024, 6, 10), core.NewDate(2024, 4, 15), core.NewDate(2024, 5, 15)},
		{"across the year", 10, core.NewDate(2024, 1, 5), core.NewDate(2023, 11, 10), core.NewDate(2023, 12, 10)},
		{"anchor past month end", 31, core.NewDate(2024, 3, 5), core.NewDate(2024, 1, 31), core.NewDate(2024, 2, 29)},
		{"clamped anchor counts as reached", 31, core.NewDate(2024, 2, 29), core.NewDate(2024, 1, 31), core.NewDate(2024, 2, 29)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := CycleWindow(tt.anchor, tt.asOf)
			assert.True(t, start.Equal(tt.wantStart), "start %s, want %s", start, tt.wantStart)
			assert.True(t, end.Equal(tt.wantEnd), "end %s, want %s", end, tt.wantEnd)
		})
	}
}

func TestResolveWithoutAnchorUsesBalance(t *testing.T) {
	r := NewStatementResolver(memory.New())
	owed, err := r.Resolve(context.Background(), core.Account{ID: "card", Class: core.Liability, Balance: dec("-42.10")}, core.NewDate(2024, 1, 1))
	require.NoError(t, err)
	assert.True(t, owed.Equal(dec("42.10")))
}

func TestResolveSumsClosedCycle(t *testing.T) {
	ctx := context.Background()
	card := core.Account{ID: "card", Class: core.Liability, Balance: dec("200"), BillingCycleDay: 1}
	store := memory.New(card)
	// Opening debt 100 on Mar 1; March brings a 120 charge and a 40 payment;
	// April has not closed yet.
	_, err := store.PostEntries(ctx, []core.LedgerEntry{
		{AccountID: "card", Amount: dec("-120"), Date: core.NewDate(2024, 3, 5)},
		{AccountID: "card", Amount: dec("40"), Date: core.NewDate(2024, 3, 20)},
		{AccountID: "card", Amount: dec("-20"), Date: core.NewDate(2024, 4, 2)},
	})
	require.NoError(t, err)

	r := NewStatementResolver(store)
	owed, err := r.Resolve(ctx, card, core.NewDate(2024, 4, 10))
	require.NoError(t, err)
	assert.True(t, owed.Equal(dec("180")), "got %s", owed)

	again, err := r.Resolve(ctx, card, core.NewDate(2024, 4, 10))
	require.NoError(t, err)
	assert.True(t, again.Equal(owed), "resolve must be idempotent")
}
