// Package memory implements the record-store ports over in-process
// maps. It backs the default backend and the engine's tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"warga/internal/core"
	"warga/internal/store"
)

// Store is a mutex-guarded in-memory record store. Every read returns
// copies so callers cannot mutate the store behind its back.
type Store struct {
	mu        sync.Mutex
	residents map[string]core.Resident
	expenses  map[string]core.Expense
	dues      map[string]core.DuesPayment
	comments  map[string]core.Comment

	// FailHook, when non-nil, is consulted before every mutation with
	// the operation name and record id; a non-nil return aborts the
	// call with that error. Tests use it to force mid-restore failures.
	FailHook func(op, id string) error
}

var _ store.RecordStore = (*Store)(nil)

func New() *Store {
	return &Store{
		residents: make(map[string]core.Resident),
		expenses:  make(map[string]core.Expense),
		dues:      make(map[string]core.DuesPayment),
		comments:  make(map[string]core.Comment),
	}
}

func (s *Store) fail(op, id string) error {
	if s.FailHook != nil {
		return s.FailHook(op, id)
	}
	return nil
}

func (s *Store) ListResidents(_ context.Context) ([]core.Resident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Resident, 0, len(s.residents))
	for _, r := range s.residents {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertResident(_ context.Context, r core.Resident) error {
	if err := s.fail("upsert_resident", r.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.residents[r.ID] = r
	return nil
}

func (s *Store) DeleteResident(_ context.Context, id string) error {
	if err := s.fail("delete_resident", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.residents[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.residents, id)
	// Cascade: dues payments never outlive their resident.
	for pid, p := range s.dues {
		if p.ResidentID == id {
			delete(s.dues, pid)
		}
	}
	return nil
}

func (s *Store) ListExpenses(_ context.Context) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Expense, 0, len(s.expenses))
	for _, e := range s.expenses {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertExpense(_ context.Context, e core.Expense) error {
	if err := s.fail("upsert_expense", e.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	if err := s.fail("delete_expense", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expenses[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) ListDuesPayments(_ context.Context) ([]core.DuesPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DuesPayment, 0, len(s.dues))
	for _, p := range s.dues {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertDuesPayment(_ context.Context, p core.DuesPayment) error {
	if err := s.fail("upsert_dues", p.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dues[p.ID] = p
	return nil
}

func (s *Store) DeleteDuesPayment(_ context.Context, id string) error {
	if err := s.fail("delete_dues", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dues[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.dues, id)
	return nil
}

func (s *Store) ListComments(_ context.Context) ([]core.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Comment, 0, len(s.comments))
	for _, c := range s.comments {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertComment(_ context.Context, c core.Comment) error {
	if err := s.fail("upsert_comment", c.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
	return nil
}

func (s *Store) DeleteComment(_ context.Context, id string) error {
	if err := s.fail("delete_comment", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.comments, id)
	return nil
}
