package backup

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"warga/internal/core"
)

func sampleData() Data {
	return Data{
		Residents: []core.Resident{
			{ID: "r1", FullName: "Budi Santoso", BlockCode: "A-01", Status: core.StatusSettled, EventDuesAmount: 25000, UpdatedAt: time.Now()},
			{ID: "r2", FullName: "Siti Rahma", BlockCode: "A-02", Status: core.StatusTenant, UpdatedAt: time.Now()},
		},
		Expenses: []core.Expense{
			{ID: "e1", Description: "Security salary", Amount: 500000, Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Category: core.CategoryOperational},
		},
		DuesPayments: []core.DuesPayment{
			{ID: "p1", ResidentID: "r1", Month: 3, Year: 2026, Amount: 50000, PaidAt: time.Now()},
		},
		Comments: []core.Comment{
			{ID: "c1", Author: "Budi Santoso", Content: "Gate light fixed", CreatedAt: time.Now()},
		},
	}
}

func TestNewDocumentStats(t *testing.T) {
	doc := NewDocument("march", sampleData())

	if doc.Metadata.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %q; want %q", doc.Metadata.SchemaVersion, SchemaVersion)
	}
	if doc.Metadata.Label != "march" {
		t.Errorf("label = %q; want march", doc.Metadata.Label)
	}
	if doc.Metadata.ExportedAt.IsZero() {
		t.Error("exported-at timestamp not set")
	}
	want := Stats{ResidentCount: 2, ExpenseCount: 1, PaymentCount: 1, CommentCount: 1, TotalEventDues: 25000, TotalExpenses: 500000}
	if doc.Stats != want {
		t.Errorf("stats = %+v; want %+v", doc.Stats, want)
	}
	if got := doc.RecordCount(); got != 5 {
		t.Errorf("record count = %d; want 5", got)
	}
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{
			name:   "valid document passes",
			mutate: func(*Document) {},
		},
		{
			name:    "unsupported schema version",
			mutate:  func(d *Document) { d.Metadata.SchemaVersion = "9.9" },
			wantErr: "unsupported schema version",
		},
		{
			name:    "resident without id",
			mutate:  func(d *Document) { d.Data.Residents[0].ID = "" },
			wantErr: "resident without id",
		},
		{
			name:    "resident with empty name",
			mutate:  func(d *Document) { d.Data.Residents[1].FullName = "  " },
			wantErr: "resident r2",
		},
		{
			name:    "expense with zero amount",
			mutate:  func(d *Document) { d.Data.Expenses[0].Amount = 0 },
			wantErr: "expense e1",
		},
		{
			name:    "dues payment with month out of range",
			mutate:  func(d *Document) { d.Data.DuesPayments[0].Month = 13 },
			wantErr: "dues payment p1",
		},
		{
			name:    "comment without content",
			mutate:  func(d *Document) { d.Data.Comments[0].Content = "" },
			wantErr: "comment c1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument("", sampleData())
			tt.mutate(doc)

			err := doc.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v; want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil; want error")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Validate() error type = %T; want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q; want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNilDocument(t *testing.T) {
	var doc *Document
	if err := doc.Validate(); err == nil {
		t.Fatal("nil document validated without error")
	}
}

func TestCrossCheckStats(t *testing.T) {
	doc := NewDocument("", sampleData())
	if warnings := doc.CrossCheckStats(); len(warnings) != 0 {
		t.Fatalf("clean document produced warnings: %v", warnings)
	}

	doc.Stats.ResidentCount = 99
	doc.Stats.TotalExpenses = 1

	warnings := doc.CrossCheckStats()
	if len(warnings) != 2 {
		t.Fatalf("got %d warnings; want 2: %v", len(warnings), warnings)
	}
	for _, w := range warnings {
		if !strings.Contains(w.Detail, "stats mismatch") {
			t.Errorf("warning %q does not mention the mismatch", w.Detail)
		}
	}
}

func TestParse(t *testing.T) {
	original := NewDocument("roundtrip", sampleData())
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if doc.Metadata.Label != "roundtrip" {
		t.Errorf("label = %q; want roundtrip", doc.Metadata.Label)
	}
	if doc.RecordCount() != original.RecordCount() {
		t.Errorf("record count = %d; want %d", doc.RecordCount(), original.RecordCount())
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("parsed document failed validation: %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	if err == nil {
		t.Fatal("Parse() accepted malformed input")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Parse() error type = %T; want *ValidationError", err)
	}
}
