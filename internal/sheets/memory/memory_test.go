package memory

import (
	"context"
	"testing"
	"time"

	"warga/internal/core"
)

func TestAppendDuesPayment(t *testing.T) {
	s := New()
	p := core.DuesPayment{
		ID: "p1", ResidentID: "r1", Month: 3, Year: 2026, Amount: 50000,
		PaidAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	}

	ref, err := s.AppendDuesPayment(context.Background(), p, "Budi Santoso")
	if err != nil {
		t.Fatalf("AppendDuesPayment() = %v", err)
	}
	if ref == "" {
		t.Error("empty row reference")
	}

	rows := s.Rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows; want 1", len(rows))
	}
	want := []string{"2026-03-05", "Budi Santoso", "03/2026", "Rp50.000"}
	for i, v := range want {
		if rows[0].Values[i] != v {
			t.Errorf("column %d = %q; want %q", i, rows[0].Values[i], v)
		}
	}
}

func TestAppendExpenseRejectsInvalid(t *testing.T) {
	s := New()
	e := core.Expense{ID: "e1", Description: "gate repair", Amount: 0, Date: time.Now(), Category: core.CategoryOperational}
	if _, err := s.AppendExpense(context.Background(), e); err == nil {
		t.Fatal("AppendExpense() accepted a zero amount")
	}
	if len(s.Rows()) != 0 {
		t.Error("rejected expense was still appended")
	}
}
