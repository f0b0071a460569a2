// Package memory is an in-process ledger store used for the demo backend and
// in tests. It is private to one process: two binaries started with the
// memory backend each own a separate ledger.
//
// Writes are serialised per unit of work. WithinTx holds the write lock for
// the whole callback and restores a snapshot when it fails; readers outside
// the unit may observe its uncommitted writes.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

type Store struct {
	// write serialises units of work: WithinTx callbacks and single writes.
	write      sync.Mutex
	mu         sync.RWMutex
	accounts   map[string]core.Account
	entries    []core.LedgerEntry
	synced     map[string]struct{}
	recurrings map[string]core.Recurring
}

var (
	_ ledger.Store         = (*Store)(nil)
	_ ledger.AccountWriter = (*Store)(nil)
	_ ledger.SyncTracker   = (*Store)(nil)
	_ ledger.Transactor    = (*Store)(nil)
	_ ledger.Transactor    = (*txStore)(nil)
)

func New(accounts ...core.Account) *Store {
	s := &Store{
		accounts:   make(map[string]core.Account, len(accounts)),
		synced:     map[string]struct{}{},
		recurrings: map[string]core.Recurring{},
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

// NewDemo returns a store holding the demo accounts and schedules.
func NewDemo(now time.Time) *Store {
	s := New(ledger.DemoAccounts()...)
	for _, r := range ledger.DemoRecurrings(now) {
		s.recurrings[r.ID] = r
	}
	return s
}

// NewFromFiles seeds accounts from base/seed_accounts.txt, falling back to the
// demo accounts when the file is missing or empty. Demo schedules are added
// only when the fallback is used.
func NewFromFiles(base string, now time.Time) (*Store, error) {
	accounts, err := ledger.LoadAccounts(filepath.Join(base, "seed_accounts.txt"), ledger.DemoTenant)
	if err != nil {
		return nil, fmt.Errorf("load seed accounts: %w", err)
	}
	if len(accounts) == 0 {
		return NewDemo(now), nil
	}
	return New(accounts...), nil
}

func (s *Store) FindAccount(_ context.Context, id, tenantID string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok || (tenantID != "" && a.TenantID != tenantID) {
		return nil, fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
	}
	return &a, nil
}

func (s *Store) saveAccount(a core.Account) error {
	if a.ID == "" || !a.Class.Valid() {
		return fmt.Errorf("invalid account %q", a.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

// postEntries checks every entry before storing any of them.
func (s *Store) postEntries(entries []core.LedgerEntry) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.LedgerEntry, len(entries))
	for i, e := range entries {
		if _, ok := s.accounts[e.AccountID]; !ok {
			return nil, fmt.Errorf("entry account %s: %w", e.AccountID, ledger.ErrNotFound)
		}
		if e.Amount.IsZero() {
			return nil, fmt.Errorf("entry on %s: %w", e.AccountID, core.ErrInvalidAmount)
		}
		if e.Date.IsZero() {
			return nil, fmt.Errorf("entry on %s: %w", e.AccountID, core.ErrMissingDate)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		out[i] = e
	}
	s.entries = append(s.entries, out...)
	return append([]core.LedgerEntry(nil), out...), nil
}

// voidEntries ignores ids it does not know.
func (s *Store) voidEntries(ids []string) error {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if _, ok := drop[e.ID]; ok {
			delete(s.synced, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return nil
}

func (s *Store) adjustBalance(accountID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ledger.ErrNotFound)
	}
	a.Balance = a.Balance.Add(delta)
	s.accounts[accountID] = a
	return nil
}

func (s *Store) EntriesInRange(_ context.Context, accountID string, start, end core.Date) ([]core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Date.Before(start) {
			continue
		}
		if !end.IsZero() && !e.Date.Before(end) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) BalanceAtDate(_ context.Context, accountID string, date core.Date) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("account %s: %w", accountID, ledger.ErrNotFound)
	}
	balance := a.Balance
	for _, e := range s.entries {
		if e.AccountID == accountID && !e.Date.Before(date) {
			balance = balance.Sub(a.BalanceDelta(e.Amount))
		}
	}
	return balance, nil
}

func (s *Store) FindEntry(_ context.Context, id string) (*core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("entry %s: %w", id, ledger.ErrNotFound)
}

func (s *Store) saveRecurring(r core.Recurring) (core.Recurring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.recurrings[r.ID]
	switch {
	case ok && current.Version != r.Version:
		return core.Recurring{}, fmt.Errorf("recurring %s at version %d, have %d: %w",
			r.ID, current.Version, r.Version, ledger.ErrVersionConflict)
	case !ok && r.Version != 0:
		return core.Recurring{}, fmt.Errorf("recurring %s: %w", r.ID, ledger.ErrNotFound)
	}
	r.Version++
	s.recurrings[r.ID] = r
	return r, nil
}

func (s *Store) FindRecurring(_ context.Context, id, tenantID string) (*core.Recurring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recurrings[id]
	if !ok || (tenantID != "" && r.TenantID != tenantID) {
		return nil, fmt.Errorf("recurring %s: %w", id, ledger.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) FindDueRecurrings(_ context.Context, tenantID string, asOf core.Date) ([]core.Recurring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Recurring
	for _, r := range s.recurrings {
		if tenantID != "" && r.TenantID != tenantID {
			continue
		}
		if !r.IsActive || r.IsDeleted || !core.IsDue(r.NextOccurrenceDate, asOf) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextOccurrenceDate.Equal(out[j].NextOccurrenceDate) {
			return out[i].NextOccurrenceDate.Before(out[j].NextOccurrenceDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) PendingSyncEntries(_ context.Context, limit int) ([]core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if _, ok := s.synced[e.ID]; ok {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) markEntrySynced(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[id] = struct{}{}
	return nil
}

func sortEntries(es []core.LedgerEntry) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].Date.Equal(es[j].Date) {
			return es[i].Date.Before(es[j].Date)
		}
		return es[i].CreatedAt.Before(es[j].CreatedAt)
	})
}
