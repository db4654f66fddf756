// Package backup implements the portable backup document and the
// export/restore orchestration over a record store.
package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"warga/internal/core"
)

// SchemaVersion tags documents produced by this engine. Restore
// accepts only versions listed in supportedSchemas.
const SchemaVersion = "1.0"

var supportedSchemas = map[string]bool{
	"1.0": true,
}

type (
	Metadata struct {
		SchemaVersion string    `json:"schemaVersion"`
		ExportedAt    time.Time `json:"exportedAt"`
		Label         string    `json:"label,omitempty"`
	}

	Data struct {
		Residents    []core.Resident    `json:"residents"`
		Expenses     []core.Expense     `json:"expenses"`
		DuesPayments []core.DuesPayment `json:"duesPayments"`
		Comments     []core.Comment     `json:"comments"`
	}

	// Stats are computed at export time for display and verification.
	// They are informational: on import they are cross-checked against
	// the data arrays and a mismatch surfaces as a warning, never an
	// error.
	Stats struct {
		ResidentCount  int   `json:"residentCount"`
		ExpenseCount   int   `json:"expenseCount"`
		PaymentCount   int   `json:"paymentCount"`
		CommentCount   int   `json:"commentCount"`
		TotalEventDues int64 `json:"totalEventDues"`
		TotalExpenses  int64 `json:"totalExpenses"`
	}

	// Document is a point-in-time export of the whole record store.
	// It is a value object: once constructed it is never mutated.
	Document struct {
		Metadata Metadata `json:"metadata"`
		Data     Data     `json:"data"`
		Stats    Stats    `json:"stats"`
	}
)

// NewDocument wraps the given collections with metadata and freshly
// computed stats.
func NewDocument(label string, data Data) *Document {
	return &Document{
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			ExportedAt:    time.Now().UTC(),
			Label:         label,
		},
		Data:  data,
		Stats: computeStats(data),
	}
}

func computeStats(data Data) Stats {
	stats := Stats{
		ResidentCount: len(data.Residents),
		ExpenseCount:  len(data.Expenses),
		PaymentCount:  len(data.DuesPayments),
		CommentCount:  len(data.Comments),
	}
	for _, r := range data.Residents {
		stats.TotalEventDues += r.EventDuesAmount
	}
	for _, e := range data.Expenses {
		stats.TotalExpenses += e.Amount
	}
	return stats
}

// RecordCount is the total number of records across all collections.
func (d *Document) RecordCount() int {
	return len(d.Data.Residents) + len(d.Data.Expenses) + len(d.Data.DuesPayments) + len(d.Data.Comments)
}

// Validate performs the fail-fast structural check that gates a
// restore: schema version and per-record shape. It never touches a
// store.
func (d *Document) Validate() error {
	if d == nil {
		return &ValidationError{Reason: "nil document"}
	}
	if !supportedSchemas[d.Metadata.SchemaVersion] {
		return &ValidationError{Reason: fmt.Sprintf("unsupported schema version %q", d.Metadata.SchemaVersion)}
	}
	for _, r := range d.Data.Residents {
		if r.ID == "" {
			return &ValidationError{Reason: "resident without id"}
		}
		if err := r.Validate(); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("resident %s", r.ID), Err: err}
		}
	}
	for _, e := range d.Data.Expenses {
		if e.ID == "" {
			return &ValidationError{Reason: "expense without id"}
		}
		if err := e.Validate(); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("expense %s", e.ID), Err: err}
		}
	}
	for _, p := range d.Data.DuesPayments {
		if p.ID == "" {
			return &ValidationError{Reason: "dues payment without id"}
		}
		if err := p.Validate(); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("dues payment %s", p.ID), Err: err}
		}
	}
	for _, c := range d.Data.Comments {
		if c.ID == "" {
			return &ValidationError{Reason: "comment without id"}
		}
		if err := c.Validate(); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("comment %s", c.ID), Err: err}
		}
	}
	return nil
}

// CrossCheckStats compares the embedded stats against the data arrays
// and reports every mismatch as a warning.
func (d *Document) CrossCheckStats() []core.IntegrityWarning {
	actual := computeStats(d.Data)
	if actual == d.Stats {
		return nil
	}
	var warnings []core.IntegrityWarning
	check := func(field string, declared, computed int64) {
		if declared != computed {
			warnings = append(warnings, core.IntegrityWarning{
				Detail: fmt.Sprintf("stats mismatch: %s declared %d, data holds %d", field, declared, computed),
			})
		}
	}
	check("residentCount", int64(d.Stats.ResidentCount), int64(actual.ResidentCount))
	check("expenseCount", int64(d.Stats.ExpenseCount), int64(actual.ExpenseCount))
	check("paymentCount", int64(d.Stats.PaymentCount), int64(actual.PaymentCount))
	check("commentCount", int64(d.Stats.CommentCount), int64(actual.CommentCount))
	check("totalEventDues", d.Stats.TotalEventDues, actual.TotalEventDues)
	check("totalExpenses", d.Stats.TotalExpenses, actual.TotalExpenses)
	return warnings
}

// Parse decodes a portable document from JSON bytes.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Reason: "malformed document", Err: err}
	}
	return &doc, nil
}

// ValidationError reports a problem that was caught before any state
// change: nothing happened to the store.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid backup document: %s: %v", e.Reason, e.Err)
	}
	return "invalid backup document: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RecordOperationError reports a single failed store call during the
// apply phase.
type RecordOperationError struct {
	Op  string
	ID  string
	Err error
}

func (e *RecordOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *RecordOperationError) Unwrap() error { return e.Err }
