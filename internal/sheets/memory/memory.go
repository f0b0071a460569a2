package memory

import (
	"context"
	"fmt"
	"sync"

	"ledger/internal/core"
	ports "ledger/internal/sheets"
)

var _ ports.EntryWriter = (*Store)(nil)

// Store is an in-process sheet mirror. Rows are kept in append order and an
// entry already mirrored is not written twice.
type Store struct {
	mu   sync.Mutex
	rows [][]any
	refs map[string]string
}

func New() *Store {
	return &Store{refs: map[string]string{}}
}

// AppendEntry stores the entry row and returns a synthetic row reference.
func (s *Store) AppendEntry(_ context.Context, e core.LedgerEntry) (string, error) {
	if err := ports.ValidateEntry(e); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.refs[e.ID]; ok {
		return ref, nil
	}
	s.rows = append(s.rows, ports.Row(e))
	ref := fmt.Sprintf("mem:%d", len(s.rows))
	s.refs[e.ID] = ref
	return ref, nil
}

// Rows returns a copy of the mirrored rows.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}
