package core

import (
	"fmt"
	"time"
)

const (
	BalanceHealthy  BalanceStatus = "healthy"
	BalanceStable   BalanceStatus = "stable"
	BalanceCritical BalanceStatus = "critical"
)

type (
	// BalanceStatus classifies a cumulative balance for display.
	BalanceStatus string

	// IntegrityWarning reports a non-fatal data problem found while
	// aggregating, e.g. a duplicate dues payment for one period.
	// Warnings surface to the caller; they never block a result.
	IntegrityWarning struct {
		ResidentID string
		Month      int
		Year       int
		Detail     string
	}

	// MonthRollup is the income/expense summary for one calendar month.
	MonthRollup struct {
		Month   int
		Year    int
		Income  int64
		Expense int64
		Balance int64
		// Expenses with a category outside the closed enum are kept out
		// of both buckets and accounted here for auditability.
		ExcludedCount  int
		ExcludedAmount int64
	}

	// MonthPoint is one entry of the cumulative year series.
	MonthPoint struct {
		Month             int
		Income            int64
		Expense           int64
		CumulativeBalance int64
		Status            BalanceStatus
	}

	// VoluntaryTotals summarizes voluntary event dues across residents.
	VoluntaryTotals struct {
		Total            int64
		ContributorCount int
		Average          int64
	}
)

func (w IntegrityWarning) String() string {
	if w.ResidentID != "" {
		return fmt.Sprintf("%s (resident=%s period=%d/%d)", w.Detail, w.ResidentID, w.Month, w.Year)
	}
	return w.Detail
}

// PaymentStatus reports whether a resident has paid dues for the given
// period. Any matching payment counts as paid; more than one match
// violates the uniqueness assumption and is reported as a warning.
// The result does not depend on the ordering of payments.
func PaymentStatus(residentID string, month, year int, payments []DuesPayment) (bool, []IntegrityWarning) {
	matches := 0
	for _, p := range payments {
		if p.ResidentID == residentID && p.Month == month && p.Year == year {
			matches++
		}
	}
	var warnings []IntegrityWarning
	if matches > 1 {
		warnings = append(warnings, IntegrityWarning{
			ResidentID: residentID,
			Month:      month,
			Year:       year,
			Detail:     fmt.Sprintf("duplicate dues payments: %d records for one period", matches),
		})
	}
	return matches > 0, warnings
}

// MonthlyRollup sums dues income and operational expenses for one
// calendar month. Income counts at most one payment per resident for
// the period even if the store holds duplicates; duplicates are
// reported as warnings. Malformed records yield an error, never a
// silently coerced result.
func MonthlyRollup(month, year int, payments []DuesPayment, expenses []Expense) (MonthRollup, []IntegrityWarning, error) {
	if err := ValidateMonth(month); err != nil {
		return MonthRollup{}, nil, err
	}
	if err := ValidateYear(year); err != nil {
		return MonthRollup{}, nil, err
	}

	rollup := MonthRollup{Month: month, Year: year}
	var warnings []IntegrityWarning

	seen := make(map[string]bool)
	for _, p := range payments {
		if p.Month != month || p.Year != year {
			continue
		}
		if err := p.Validate(); err != nil {
			return MonthRollup{}, nil, fmt.Errorf("dues payment %s: %w", p.ID, err)
		}
		if seen[p.ResidentID] {
			warnings = append(warnings, IntegrityWarning{
				ResidentID: p.ResidentID,
				Month:      month,
				Year:       year,
				Detail:     "duplicate dues payment skipped",
			})
			continue
		}
		seen[p.ResidentID] = true
		rollup.Income += p.Amount
	}

	for _, e := range expenses {
		if e.Date.Year() != year || int(e.Date.Month()) != month {
			continue
		}
		if e.Amount <= 0 {
			return MonthRollup{}, nil, fmt.Errorf("expense %s: %w", e.ID, ErrInvalidAmount)
		}
		switch e.Category {
		case CategoryOperational:
			rollup.Expense += e.Amount
		case CategoryEvent, CategoryOther:
			// known categories outside the operational rollup
		default:
			rollup.ExcludedCount++
			rollup.ExcludedAmount += e.Amount
			warnings = append(warnings, IntegrityWarning{
				Month:  month,
				Year:   year,
				Detail: fmt.Sprintf("expense %s has unrecognized category %q", e.ID, e.Category),
			})
		}
	}

	rollup.Balance = rollup.Income - rollup.Expense
	return rollup, warnings, nil
}

// CumulativeSeries builds the twelve-month series for a year. Months
// run 1..12 in order and the balance accumulates across months; it is
// never reset per month.
func CumulativeSeries(year int, payments []DuesPayment, expenses []Expense) ([]MonthPoint, []IntegrityWarning, error) {
	if err := ValidateYear(year); err != nil {
		return nil, nil, err
	}

	series := make([]MonthPoint, 0, 12)
	var warnings []IntegrityWarning
	var running int64

	for month := 1; month <= 12; month++ {
		rollup, w, err := MonthlyRollup(month, year, payments, expenses)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, w...)

		running += rollup.Income - rollup.Expense
		series = append(series, MonthPoint{
			Month:             month,
			Income:            rollup.Income,
			Expense:           rollup.Expense,
			CumulativeBalance: running,
			Status:            classifyBalance(running),
		})
	}
	return series, warnings, nil
}

// VoluntaryDuesTotals sums voluntary event dues. The average divides
// by the number of contributors (residents with a positive amount),
// not the total resident count; zero contributors yields zero.
func VoluntaryDuesTotals(residents []Resident) VoluntaryTotals {
	var totals VoluntaryTotals
	for _, r := range residents {
		if r.EventDuesAmount > 0 {
			totals.Total += r.EventDuesAmount
			totals.ContributorCount++
		}
	}
	if totals.ContributorCount > 0 {
		totals.Average = totals.Total / int64(totals.ContributorCount)
	}
	return totals
}

func classifyBalance(balance int64) BalanceStatus {
	switch {
	case balance > 0:
		return BalanceHealthy
	case balance < 0:
		return BalanceCritical
	default:
		return BalanceStable
	}
}

// MonthOf is a convenience for building expense dates at day 1.
func MonthOf(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}
