// Package services orchestrates ledger and backup operations across
// the record store, the snapshot store and AMQP.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"warga/internal/amqp"
	"warga/internal/core"
	"warga/internal/store"
)

// MirrorPublisher is the slice of the AMQP client the ledger needs.
// A nil publisher disables mirroring without touching write paths.
type MirrorPublisher interface {
	PublishMirror(ctx context.Context, kind, id string) error
}

// LedgerService owns entity writes and the dashboard aggregations.
type LedgerService struct {
	store       store.RecordStore
	publisher   MirrorPublisher
	monthlyDues int64
}

func NewLedgerService(rs store.RecordStore, publisher MirrorPublisher, monthlyDues int64) *LedgerService {
	return &LedgerService{
		store:       rs,
		publisher:   publisher,
		monthlyDues: monthlyDues,
	}
}

func (s *LedgerService) ListResidents(ctx context.Context) ([]core.Resident, error) {
	return s.store.ListResidents(ctx)
}

// SaveResident validates and upserts; a missing id means create.
func (s *LedgerService) SaveResident(ctx context.Context, r core.Resident) (core.Resident, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.UpdatedAt = time.Now().UTC()
	if err := r.Validate(); err != nil {
		return core.Resident{}, fmt.Errorf("validate resident: %w", err)
	}
	if err := s.store.UpsertResident(ctx, r); err != nil {
		return core.Resident{}, fmt.Errorf("save resident: %w", err)
	}
	slog.InfoContext(ctx, "Resident saved", "id", r.ID, "block", r.BlockCode)
	return r, nil
}

func (s *LedgerService) DeleteResident(ctx context.Context, id string) error {
	if err := s.store.DeleteResident(ctx, id); err != nil {
		return fmt.Errorf("delete resident: %w", err)
	}
	slog.InfoContext(ctx, "Resident deleted", "id", id)
	return nil
}

func (s *LedgerService) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx)
}

// RecordExpense saves the expense and publishes a mirror notification.
// Mirroring is best effort: a broker failure never fails the write.
func (s *LedgerService) RecordExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("validate expense: %w", err)
	}
	if err := s.store.UpsertExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	slog.InfoContext(ctx, "Expense recorded",
		"id", e.ID,
		"amount", e.Amount,
		"category", string(e.Category))
	s.publish(ctx, amqp.KindExpense, e.ID)
	return e, nil
}

func (s *LedgerService) DeleteExpense(ctx context.Context, id string) error {
	if err := s.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	slog.InfoContext(ctx, "Expense deleted", "id", id)
	return nil
}

func (s *LedgerService) ListDuesPayments(ctx context.Context) ([]core.DuesPayment, error) {
	return s.store.ListDuesPayments(ctx)
}

// ToggleDues flips a resident's dues mark for one period. Toggling on
// creates a payment at the configured monthly amount; toggling off
// removes every payment for that period, duplicates included.
func (s *LedgerService) ToggleDues(ctx context.Context, residentID string, month, year int) (paid bool, err error) {
	if err := core.ValidateMonth(month); err != nil {
		return false, err
	}
	if err := core.ValidateYear(year); err != nil {
		return false, err
	}

	payments, err := s.store.ListDuesPayments(ctx)
	if err != nil {
		return false, fmt.Errorf("list dues payments: %w", err)
	}

	var existing []core.DuesPayment
	for _, p := range payments {
		if p.ResidentID == residentID && p.Month == month && p.Year == year {
			existing = append(existing, p)
		}
	}

	if len(existing) > 0 {
		for _, p := range existing {
			if err := s.store.DeleteDuesPayment(ctx, p.ID); err != nil {
				return true, fmt.Errorf("remove dues payment %s: %w", p.ID, err)
			}
		}
		slog.InfoContext(ctx, "Dues unmarked",
			"resident_id", residentID,
			"month", month,
			"year", year,
			"removed", len(existing))
		return false, nil
	}

	p := core.DuesPayment{
		ID:         uuid.NewString(),
		ResidentID: residentID,
		Month:      month,
		Year:       year,
		Amount:     s.monthlyDues,
		PaidAt:     time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return false, fmt.Errorf("validate dues payment: %w", err)
	}
	if err := s.store.UpsertDuesPayment(ctx, p); err != nil {
		return false, fmt.Errorf("save dues payment: %w", err)
	}
	slog.InfoContext(ctx, "Dues marked paid",
		"resident_id", residentID,
		"month", month,
		"year", year,
		"amount", p.Amount)
	s.publish(ctx, amqp.KindDuesPayment, p.ID)
	return true, nil
}

func (s *LedgerService) ListComments(ctx context.Context) ([]core.Comment, error) {
	return s.store.ListComments(ctx)
}

func (s *LedgerService) AddComment(ctx context.Context, c core.Comment) (core.Comment, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := c.Validate(); err != nil {
		return core.Comment{}, fmt.Errorf("validate comment: %w", err)
	}
	if err := s.store.UpsertComment(ctx, c); err != nil {
		return core.Comment{}, fmt.Errorf("save comment: %w", err)
	}
	return c, nil
}

func (s *LedgerService) DeleteComment(ctx context.Context, id string) error {
	if err := s.store.DeleteComment(ctx, id); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// MonthDashboard bundles the rollup with payment marks for one period.
type MonthDashboard struct {
	Rollup   core.MonthRollup        `json:"rollup"`
	Paid     map[string]bool         `json:"paid"`
	Warnings []core.IntegrityWarning `json:"warnings,omitempty"`
}

// Dashboard aggregates one month: income/expense rollup plus a paid
// mark per resident.
func (s *LedgerService) Dashboard(ctx context.Context, month, year int) (MonthDashboard, error) {
	residents, err := s.store.ListResidents(ctx)
	if err != nil {
		return MonthDashboard{}, fmt.Errorf("list residents: %w", err)
	}
	payments, err := s.store.ListDuesPayments(ctx)
	if err != nil {
		return MonthDashboard{}, fmt.Errorf("list dues payments: %w", err)
	}
	expenses, err := s.store.ListExpenses(ctx)
	if err != nil {
		return MonthDashboard{}, fmt.Errorf("list expenses: %w", err)
	}

	rollup, warnings, err := core.MonthlyRollup(month, year, payments, expenses)
	if err != nil {
		return MonthDashboard{}, err
	}

	paid := make(map[string]bool, len(residents))
	for _, r := range residents {
		ok, w := core.PaymentStatus(r.ID, month, year, payments)
		paid[r.ID] = ok
		warnings = append(warnings, w...)
	}
	for _, w := range warnings {
		slog.WarnContext(ctx, "Ledger integrity warning", "detail", w.String())
	}

	return MonthDashboard{Rollup: rollup, Paid: paid, Warnings: warnings}, nil
}

// YearSeries returns the cumulative 12-month balance series.
func (s *LedgerService) YearSeries(ctx context.Context, year int) ([]core.MonthPoint, []core.IntegrityWarning, error) {
	payments, err := s.store.ListDuesPayments(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list dues payments: %w", err)
	}
	expenses, err := s.store.ListExpenses(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list expenses: %w", err)
	}
	return core.CumulativeSeries(year, payments, expenses)
}

// VoluntaryDues totals the voluntary event dues pledges.
func (s *LedgerService) VoluntaryDues(ctx context.Context) (core.VoluntaryTotals, error) {
	residents, err := s.store.ListResidents(ctx)
	if err != nil {
		return core.VoluntaryTotals{}, fmt.Errorf("list residents: %w", err)
	}
	return core.VoluntaryDuesTotals(residents), nil
}

func (s *LedgerService) publish(ctx context.Context, kind, id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishMirror(ctx, kind, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish mirror message",
			"kind", kind,
			"id", id,
			"error", err)
	}
}
