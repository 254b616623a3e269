// Package memory is an in-process TransactionExporter for tests and for
// running the export worker without a spreadsheet.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"dosmangos/internal/core"
	"dosmangos/internal/sheets"
)

var _ sheets.TransactionExporter = (*Store)(nil)

type Store struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]core.Transaction
	upserts int
	removes int
}

func New() *Store {
	return &Store{rows: make(map[uuid.UUID]core.Transaction)}
}

// Upsert stores the transaction and returns a synthetic row reference.
func (s *Store) Upsert(_ context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[t.ID] = t
	s.upserts++
	return fmt.Sprintf("mem:%s", t.ID), nil
}

// Remove deletes the row for id. Unknown ids are ignored.
func (s *Store) Remove(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	s.removes++
	return nil
}

// Get returns the exported row for id.
func (s *Store) Get(id uuid.UUID) (core.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	return t, ok
}

// Rows lists exported transactions, newest first.
func (s *Store) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0, len(s.rows))
	for _, t := range s.rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Calls reports how many upserts and removes were applied.
func (s *Store) Calls() (upserts, removes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts, s.removes
}
