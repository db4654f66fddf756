package backup

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"warga/internal/store/memory"
)

type stubSnapshots struct {
	saved []*Document
	err   error
}

func (s *stubSnapshots) SaveRollback(_ context.Context, doc *Document) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, doc)
	return fmt.Sprintf("rollback-%d", len(s.saved)), nil
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	data := sampleData()
	for _, r := range data.Residents {
		if err := st.UpsertResident(ctx, r); err != nil {
			t.Fatalf("seed resident: %v", err)
		}
	}
	for _, e := range data.Expenses {
		if err := st.UpsertExpense(ctx, e); err != nil {
			t.Fatalf("seed expense: %v", err)
		}
	}
	for _, p := range data.DuesPayments {
		if err := st.UpsertDuesPayment(ctx, p); err != nil {
			t.Fatalf("seed dues payment: %v", err)
		}
	}
	for _, c := range data.Comments {
		if err := st.UpsertComment(ctx, c); err != nil {
			t.Fatalf("seed comment: %v", err)
		}
	}
	return st
}

// storeData re-exports the store's full contents for comparison.
func storeData(t *testing.T, o *Orchestrator) Data {
	t.Helper()
	doc, err := o.Export(context.Background(), "")
	if err != nil {
		t.Fatalf("export for comparison: %v", err)
	}
	return doc.Data
}

func TestExport(t *testing.T) {
	st := seededStore(t)
	o := NewOrchestrator(st, &stubSnapshots{})

	doc, err := o.Export(context.Background(), "nightly")
	if err != nil {
		t.Fatalf("Export() = %v", err)
	}
	if doc.Metadata.Label != "nightly" {
		t.Errorf("label = %q; want nightly", doc.Metadata.Label)
	}
	if got := doc.RecordCount(); got != 5 {
		t.Errorf("record count = %d; want 5", got)
	}
	if doc.Stats.ResidentCount != 2 || doc.Stats.TotalExpenses != 500000 {
		t.Errorf("stats = %+v", doc.Stats)
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("exported document failed validation: %v", err)
	}

	// Export must not mutate anything.
	after, err := o.Export(context.Background(), "again")
	if err != nil {
		t.Fatalf("second Export() = %v", err)
	}
	if !reflect.DeepEqual(doc.Data, after.Data) {
		t.Error("export mutated the store")
	}
}

func TestRestoreCommit(t *testing.T) {
	st := seededStore(t)
	snaps := &stubSnapshots{}
	o := NewOrchestrator(st, snaps)

	incoming := NewDocument("", sampleData())
	// Shrink the incoming set: r2 and c1 are absent and must be
	// deleted, the rest replaced in place.
	incoming.Data.Residents = incoming.Data.Residents[:1]
	incoming.Data.Comments = incoming.Data.Comments[:0]
	incoming.Data.Residents[0].FullName = "Budi S."
	incoming.Stats = computeStats(incoming.Data)

	res := o.Restore(context.Background(), incoming, true)
	if !res.Success || res.Outcome != OutcomeCommitted {
		t.Fatalf("restore = %+v; want committed", res)
	}
	want := Counts{Residents: 1, Expenses: 1, DuesPayments: 1}
	if res.RestoredCounts != want {
		t.Errorf("restored counts = %+v; want %+v", res.RestoredCounts, want)
	}
	if res.RollbackSnapshot == "" {
		t.Error("committed restore did not report its rollback snapshot")
	}
	if len(snaps.saved) != 1 {
		t.Fatalf("saved %d rollback snapshots; want 1", len(snaps.saved))
	}

	got := storeData(t, o)
	if !reflect.DeepEqual(got, incoming.Data) {
		t.Errorf("store after restore = %+v; want %+v", got, incoming.Data)
	}
	if o.State() != StateIdle {
		t.Errorf("state after restore = %s; want idle", o.State())
	}
}

func TestRestoreUnconfirmed(t *testing.T) {
	st := seededStore(t)
	snaps := &stubSnapshots{}
	o := NewOrchestrator(st, snaps)
	before := storeData(t, o)

	res := o.Restore(context.Background(), NewDocument("", Data{}), false)
	if res.Success || res.Outcome != OutcomeValidationFailed {
		t.Fatalf("restore = %+v; want validation_failed", res)
	}
	if !errors.Is(res.Err, ErrConfirmationRequired) {
		t.Errorf("err = %v; want ErrConfirmationRequired", res.Err)
	}
	if len(snaps.saved) != 0 {
		t.Error("unconfirmed restore captured a snapshot")
	}
	if got := storeData(t, o); !reflect.DeepEqual(got, before) {
		t.Error("unconfirmed restore mutated the store")
	}
}

func TestRestoreInvalidDocument(t *testing.T) {
	st := seededStore(t)
	o := NewOrchestrator(st, &stubSnapshots{})
	before := storeData(t, o)

	doc := NewDocument("", sampleData())
	doc.Metadata.SchemaVersion = "0.1"

	res := o.Restore(context.Background(), doc, true)
	if res.Outcome != OutcomeValidationFailed {
		t.Fatalf("outcome = %s; want validation_failed", res.Outcome)
	}
	var vErr *ValidationError
	if !errors.As(res.Err, &vErr) {
		t.Errorf("err type = %T; want *ValidationError", res.Err)
	}
	if got := storeData(t, o); !reflect.DeepEqual(got, before) {
		t.Error("invalid restore mutated the store")
	}
}

func TestRestoreSnapshotFailure(t *testing.T) {
	st := seededStore(t)
	snaps := &stubSnapshots{err: errors.New("disk full")}
	o := NewOrchestrator(st, snaps)
	before := storeData(t, o)

	res := o.Restore(context.Background(), NewDocument("", sampleData()), true)
	if res.Success || res.Outcome != OutcomeSnapshotFailed {
		t.Fatalf("restore = %+v; want snapshot_failed", res)
	}
	if got := storeData(t, o); !reflect.DeepEqual(got, before) {
		t.Error("aborted restore mutated the store")
	}
}

func TestRestoreRollsBackOnRecordFailure(t *testing.T) {
	st := seededStore(t)
	o := NewOrchestrator(st, &stubSnapshots{})
	before := storeData(t, o)

	incoming := NewDocument("", sampleData())
	incoming.Data.DuesPayments = append(incoming.Data.DuesPayments,
		sampleData().DuesPayments[0])
	incoming.Data.DuesPayments[1].ID = "p-poison"
	incoming.Stats = computeStats(incoming.Data)

	// Only the new payment's upsert fails; the rollback replay never
	// touches that id, so the replay itself succeeds.
	st.FailHook = func(op, id string) error {
		if op == "upsert_dues" && id == "p-poison" {
			return errors.New("constraint violation")
		}
		return nil
	}

	res := o.Restore(context.Background(), incoming, true)
	if res.Success {
		t.Fatal("failed restore reported success")
	}
	if res.Outcome != OutcomeRolledBack {
		t.Fatalf("outcome = %s; want rolled_back", res.Outcome)
	}
	if res.FailedRecords != 1 {
		t.Errorf("failed records = %d; want 1", res.FailedRecords)
	}
	if res.Err == nil {
		t.Error("rolled-back restore carries no error")
	}

	st.FailHook = nil
	if got := storeData(t, o); !reflect.DeepEqual(got, before) {
		t.Errorf("store after rollback = %+v; want pre-restore state %+v", got, before)
	}
}

func TestRestoreRollbackFailureIsNeverSuccess(t *testing.T) {
	st := seededStore(t)
	o := NewOrchestrator(st, &stubSnapshots{})

	incoming := NewDocument("", sampleData())
	incoming.Data.Comments = append(incoming.Data.Comments,
		sampleData().Comments[0])
	incoming.Data.Comments[1].ID = "c-poison"
	incoming.Stats = computeStats(incoming.Data)

	// The apply fails on the new comment, and the rollback replay
	// fails on a record the snapshot needs back.
	st.FailHook = func(op, id string) error {
		if op == "upsert_comment" && id == "c-poison" {
			return errors.New("constraint violation")
		}
		if op == "upsert_resident" && id == "r1" {
			return errors.New("resident table locked")
		}
		return nil
	}

	res := o.Restore(context.Background(), incoming, true)
	if res.Success {
		t.Fatal("restore with a failed rollback reported success")
	}
	if res.Outcome != OutcomeRollbackFailed {
		t.Fatalf("outcome = %s; want rollback_failed", res.Outcome)
	}
	if res.RollbackSnapshot == "" {
		t.Error("failed rollback did not point at the surviving snapshot")
	}
}

func TestRestoreCarriesStatsWarnings(t *testing.T) {
	st := seededStore(t)
	o := NewOrchestrator(st, &stubSnapshots{})

	doc := NewDocument("", sampleData())
	doc.Stats.PaymentCount = 42

	res := o.Restore(context.Background(), doc, true)
	if !res.Success {
		t.Fatalf("restore = %+v; want committed despite stats mismatch", res)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings; want 1: %v", len(res.Warnings), res.Warnings)
	}
}

func TestOrchestratorStartsIdle(t *testing.T) {
	o := NewOrchestrator(memory.New(), &stubSnapshots{})
	if o.State() != StateIdle {
		t.Errorf("initial state = %s; want idle", o.State())
	}
}

func TestRestoreEmptyIntoEmpty(t *testing.T) {
	o := NewOrchestrator(memory.New(), &stubSnapshots{})
	res := o.Restore(context.Background(), NewDocument("", Data{}), true)
	if !res.Success || res.Outcome != OutcomeCommitted {
		t.Fatalf("restore = %+v; want committed", res)
	}
	if res.RestoredCounts.Total() != 0 {
		t.Errorf("restored counts = %+v; want zero", res.RestoredCounts)
	}
}
