package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"warga/internal/core"
	"warga/internal/store"
)

// State is the restore state machine position.
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateSnapshotCaptured State = "snapshot_captured"
	StateApplying         State = "applying"
	StateCommitted        State = "committed"
	StateRolledBack       State = "rolled_back"
)

// Outcome distinguishes "nothing happened" from "rolled back" from
// "rollback itself failed" from a clean commit.
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeSnapshotFailed   Outcome = "snapshot_failed"
	OutcomeRolledBack       Outcome = "rolled_back"
	OutcomeRollbackFailed   Outcome = "rollback_failed"
)

// ErrConfirmationRequired gates destructive restores behind an
// explicit confirmation from the caller.
var ErrConfirmationRequired = errors.New("restore requires explicit confirmation")

type (
	Counts struct {
		Residents    int `json:"residents"`
		Expenses     int `json:"expenses"`
		DuesPayments int `json:"duesPayments"`
		Comments     int `json:"comments"`
	}

	RestoreResult struct {
		Success          bool                    `json:"success"`
		Outcome          Outcome                 `json:"outcome"`
		RestoredCounts   Counts                  `json:"restoredCounts"`
		FailedRecords    int                     `json:"failedRecords"`
		RollbackSnapshot string                  `json:"rollbackSnapshot,omitempty"`
		Warnings         []core.IntegrityWarning `json:"warnings,omitempty"`
		Err              error                   `json:"-"`
	}

	// SnapshotSaver persists the pre-restore state so a failed apply
	// can be investigated after the fact. The in-memory capture drives
	// the rollback itself.
	SnapshotSaver interface {
		SaveRollback(ctx context.Context, doc *Document) (name string, err error)
	}
)

func (c Counts) Total() int {
	return c.Residents + c.Expenses + c.DuesPayments + c.Comments
}

// Orchestrator produces backup documents from the record store and
// applies them back with snapshot-then-apply-then-rollback semantics.
// The record store is injected; the orchestrator holds no globals.
type Orchestrator struct {
	store     store.RecordStore
	snapshots SnapshotSaver

	mu    sync.Mutex
	state State
}

func NewOrchestrator(rs store.RecordStore, snapshots SnapshotSaver) *Orchestrator {
	return &Orchestrator{
		store:     rs,
		snapshots: snapshots,
		state:     StateIdle,
	}
}

// State returns the current restore state machine position.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(ctx context.Context, s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	slog.DebugContext(ctx, "Restore state changed", "state", string(s))
}

// Export reads all four collections and wraps them as a portable
// document. It never mutates the store. The four reads run
// concurrently; each collection is still read in one call.
func (o *Orchestrator) Export(ctx context.Context, label string) (*Document, error) {
	var data Data

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := o.store.ListResidents(gctx)
		if err != nil {
			return fmt.Errorf("list residents: %w", err)
		}
		data.Residents = rs
		return nil
	})
	g.Go(func() error {
		es, err := o.store.ListExpenses(gctx)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		data.Expenses = es
		return nil
	})
	g.Go(func() error {
		ps, err := o.store.ListDuesPayments(gctx)
		if err != nil {
			return fmt.Errorf("list dues payments: %w", err)
		}
		data.DuesPayments = ps
		return nil
	})
	g.Go(func() error {
		cs, err := o.store.ListComments(gctx)
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}
		data.Comments = cs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	doc := NewDocument(label, data)
	slog.InfoContext(ctx, "Exported backup document",
		"label", label,
		"residents", doc.Stats.ResidentCount,
		"expenses", doc.Stats.ExpenseCount,
		"payments", doc.Stats.PaymentCount,
		"comments", doc.Stats.CommentCount)
	return doc, nil
}

// Restore applies an incoming document with full-replace semantics.
//
// The store is never left observably between the pre-restore state and
// the fully-applied state: a pre-restore snapshot is captured before
// any mutation, and any per-record failure during apply triggers a
// full re-apply of that snapshot. Once Applying begins the operation
// runs to completion; there is no mid-restore cancellation.
func (o *Orchestrator) Restore(ctx context.Context, doc *Document, confirm bool) RestoreResult {
	defer o.setState(ctx, StateIdle)

	// Validating: fail fast, nothing happens.
	o.setState(ctx, StateValidating)
	if err := doc.Validate(); err != nil {
		slog.WarnContext(ctx, "Restore rejected during validation", "error", err)
		return RestoreResult{Outcome: OutcomeValidationFailed, Err: err}
	}
	if !confirm {
		slog.WarnContext(ctx, "Restore rejected: not confirmed")
		return RestoreResult{Outcome: OutcomeValidationFailed, Err: ErrConfirmationRequired}
	}
	warnings := doc.CrossCheckStats()
	for _, w := range warnings {
		slog.WarnContext(ctx, "Backup document integrity warning", "detail", w.String())
	}

	// SnapshotCaptured: the current state must be safely held before
	// the first mutation.
	current, err := o.Export(ctx, "pre-restore")
	if err != nil {
		slog.ErrorContext(ctx, "Pre-restore snapshot capture failed", "error", err)
		return RestoreResult{Outcome: OutcomeSnapshotFailed, Warnings: warnings, Err: fmt.Errorf("capture pre-restore state: %w", err)}
	}
	snapName, err := o.snapshots.SaveRollback(ctx, current)
	if err != nil {
		slog.ErrorContext(ctx, "Pre-restore snapshot save failed", "error", err)
		return RestoreResult{Outcome: OutcomeSnapshotFailed, Warnings: warnings, Err: fmt.Errorf("save pre-restore snapshot: %w", err)}
	}
	o.setState(ctx, StateSnapshotCaptured)
	slog.InfoContext(ctx, "Pre-restore snapshot captured", "snapshot", snapName, "records", current.RecordCount())

	// Applying: fixed phase order, per-record failures skipped and
	// counted, any failure forces a rollback.
	o.setState(ctx, StateApplying)
	counts, failed := o.applyDocument(ctx, doc)
	if failed > 0 {
		slog.ErrorContext(ctx, "Restore apply failed, rolling back",
			"failed_records", failed,
			"snapshot", snapName)
		_, rollbackFailed := o.applyDocument(ctx, current)
		if rollbackFailed > 0 {
			o.setState(ctx, StateRolledBack)
			slog.ErrorContext(ctx, "Rollback incomplete",
				"failed_records", rollbackFailed,
				"snapshot", snapName)
			return RestoreResult{
				Outcome:          OutcomeRollbackFailed,
				FailedRecords:    failed,
				RollbackSnapshot: snapName,
				Warnings:         warnings,
				Err:              fmt.Errorf("rollback incomplete: %d records failed; snapshot %s holds the pre-restore state", rollbackFailed, snapName),
			}
		}
		o.setState(ctx, StateRolledBack)
		return RestoreResult{
			Outcome:          OutcomeRolledBack,
			FailedRecords:    failed,
			RollbackSnapshot: snapName,
			Warnings:         warnings,
			Err:              fmt.Errorf("restore failed on %d records; store rolled back to pre-restore state", failed),
		}
	}

	o.setState(ctx, StateCommitted)
	slog.InfoContext(ctx, "Restore committed",
		"residents", counts.Residents,
		"expenses", counts.Expenses,
		"payments", counts.DuesPayments,
		"comments", counts.Comments,
		"snapshot", snapName)
	return RestoreResult{
		Success:          true,
		Outcome:          OutcomeCommitted,
		RestoredCounts:   counts,
		RollbackSnapshot: snapName,
		Warnings:         warnings,
	}
}

// applyDocument makes the store equal to the document: per collection,
// records absent from the document are deleted, then every incoming
// record is upserted. Phases run in dependency order (dues payments
// after the residents they reference). Each store call is independent;
// failures are logged, skipped and counted.
func (o *Orchestrator) applyDocument(ctx context.Context, doc *Document) (Counts, int) {
	var counts Counts
	failed := 0

	fail := func(op, id string, err error) {
		failed++
		slog.ErrorContext(ctx, "Record operation failed",
			"error", &RecordOperationError{Op: op, ID: id, Err: err})
	}

	// Residents.
	if current, err := o.store.ListResidents(ctx); err != nil {
		fail("list residents", "", err)
	} else {
		incoming := make(map[string]bool, len(doc.Data.Residents))
		for _, r := range doc.Data.Residents {
			incoming[r.ID] = true
		}
		for _, r := range current {
			if incoming[r.ID] {
				continue
			}
			if err := o.store.DeleteResident(ctx, r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				fail("delete resident", r.ID, err)
			}
		}
	}
	for _, r := range doc.Data.Residents {
		if err := o.store.UpsertResident(ctx, r); err != nil {
			fail("upsert resident", r.ID, err)
			continue
		}
		counts.Residents++
	}

	// Expenses.
	if current, err := o.store.ListExpenses(ctx); err != nil {
		fail("list expenses", "", err)
	} else {
		incoming := make(map[string]bool, len(doc.Data.Expenses))
		for _, e := range doc.Data.Expenses {
			incoming[e.ID] = true
		}
		for _, e := range current {
			if incoming[e.ID] {
				continue
			}
			if err := o.store.DeleteExpense(ctx, e.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				fail("delete expense", e.ID, err)
			}
		}
	}
	for _, e := range doc.Data.Expenses {
		if err := o.store.UpsertExpense(ctx, e); err != nil {
			fail("upsert expense", e.ID, err)
			continue
		}
		counts.Expenses++
	}

	// Dues payments, after the residents they reference.
	if current, err := o.store.ListDuesPayments(ctx); err != nil {
		fail("list dues payments", "", err)
	} else {
		incoming := make(map[string]bool, len(doc.Data.DuesPayments))
		for _, p := range doc.Data.DuesPayments {
			incoming[p.ID] = true
		}
		for _, p := range current {
			if incoming[p.ID] {
				continue
			}
			if err := o.store.DeleteDuesPayment(ctx, p.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				fail("delete dues payment", p.ID, err)
			}
		}
	}
	for _, p := range doc.Data.DuesPayments {
		if err := o.store.UpsertDuesPayment(ctx, p); err != nil {
			fail("upsert dues payment", p.ID, err)
			continue
		}
		counts.DuesPayments++
	}

	// Comments.
	if current, err := o.store.ListComments(ctx); err != nil {
		fail("list comments", "", err)
	} else {
		incoming := make(map[string]bool, len(doc.Data.Comments))
		for _, c := range doc.Data.Comments {
			incoming[c.ID] = true
		}
		for _, c := range current {
			if incoming[c.ID] {
				continue
			}
			if err := o.store.DeleteComment(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				fail("delete comment", c.ID, err)
			}
		}
	}
	for _, c := range doc.Data.Comments {
		if err := o.store.UpsertComment(ctx, c); err != nil {
			fail("upsert comment", c.ID, err)
			continue
		}
		counts.Comments++
	}

	return counts, failed
}
