// Package memory is an in-process mirror writer used by the memory
// backend and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"warga/internal/core"
	ports "warga/internal/sheets"
)

// Row is one appended mirror line.
type Row struct {
	Sheet  string
	Values []string
}

type Store struct {
	mu   sync.Mutex
	rows []Row
}

var _ ports.MirrorWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func (s *Store) AppendDuesPayment(_ context.Context, p core.DuesPayment, residentName string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return s.append("Dues", []string{
		p.PaidAt.Format("2006-01-02"),
		residentName,
		fmt.Sprintf("%02d/%d", p.Month, p.Year),
		core.FormatRupiah(p.Amount),
	})
}

func (s *Store) AppendExpense(_ context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	return s.append("Expenses", []string{
		e.Date.Format("2006-01-02"),
		e.Description,
		string(e.Category),
		core.FormatRupiah(e.Amount),
		e.ReceiptURL,
	})
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *Store) append(sheet string, values []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, Row{Sheet: sheet, Values: values})
	return fmt.Sprintf("mem:%s:%d", sheet, len(s.rows)), nil
}
