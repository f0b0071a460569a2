package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

func (s *Store) SaveAccount(_ context.Context, a core.Account) error {
	s.write.Lock()
	defer s.write.Unlock()
	return s.saveAccount(a)
}

func (s *Store) PostEntries(_ context.Context, entries []core.LedgerEntry) ([]core.LedgerEntry, error) {
	s.write.Lock()
	defer s.write.Unlock()
	return s.postEntries(entries)
}

func (s *Store) VoidEntries(_ context.Context, ids []string) error {
	s.write.Lock()
	defer s.write.Unlock()
	return s.voidEntries(ids)
}

func (s *Store) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	s.write.Lock()
	defer s.write.Unlock()
	return s.adjustBalance(accountID, delta)
}

func (s *Store) SaveRecurring(_ context.Context, r core.Recurring) (core.Recurring, error) {
	s.write.Lock()
	defer s.write.Unlock()
	return s.saveRecurring(r)
}

func (s *Store) MarkEntrySynced(_ context.Context, id string) error {
	s.write.Lock()
	defer s.write.Unlock()
	return s.markEntrySynced(id)
}

// WithinTx runs fn as one unit of work. Other writers wait until it returns;
// when fn fails every write it made is undone.
func (s *Store) WithinTx(_ context.Context, fn func(ledger.Store) error) error {
	s.write.Lock()
	defer s.write.Unlock()

	snap := s.snapshot()
	if err := fn(&txStore{Store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type state struct {
	accounts   map[string]core.Account
	entries    []core.LedgerEntry
	synced     map[string]struct{}
	recurrings map[string]core.Recurring
}

func (s *Store) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return state{
		accounts:   maps.Clone(s.accounts),
		entries:    slices.Clone(s.entries),
		synced:     maps.Clone(s.synced),
		recurrings: maps.Clone(s.recurrings),
	}
}

func (s *Store) restore(st state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = st.accounts
	s.entries = st.entries
	s.synced = st.synced
	s.recurrings = st.recurrings
}

// txStore is the view handed to WithinTx callbacks. Its writes run under the
// lock the callback already holds, and nested WithinTx calls join the unit.
type txStore struct {
	*Store
}

func (t *txStore) SaveAccount(_ context.Context, a core.Account) error {
	return t.saveAccount(a)
}

func (t *txStore) PostEntries(_ context.Context, entries []core.LedgerEntry) ([]core.LedgerEntry, error) {
	return t.postEntries(entries)
}

func (t *txStore) VoidEntries(_ context.Context, ids []string) error {
	return t.voidEntries(ids)
}

func (t *txStore) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	return t.adjustBalance(accountID, delta)
}

func (t *txStore) SaveRecurring(_ context.Context, r core.Recurring) (core.Recurring, error) {
	return t.saveRecurring(r)
}

func (t *txStore) MarkEntrySynced(_ context.Context, id string) error {
	return t.markEntrySynced(id)
}

func (t *txStore) WithinTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(t)
}
