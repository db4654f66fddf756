// Package worker consumes ledger change notifications and appends the
// matching rows to the transparency mirror.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"warga/internal/amqp"
	"warga/internal/core"
	"warga/internal/sheets"
	"warga/internal/store"
)

// MirrorWorker resolves notification ids against the record store and
// writes mirror rows. It never writes to the record store.
type MirrorWorker struct {
	store  store.RecordStore
	mirror sheets.MirrorWriter

	// Full remirrors pace themselves to stay under the Sheets API
	// write quota: after batchSize appends the worker pauses.
	batchSize int
	pause     time.Duration
}

func NewMirrorWorker(rs store.RecordStore, mirror sheets.MirrorWriter, batchSize int, pause time.Duration) *MirrorWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &MirrorWorker{
		store:     rs,
		mirror:    mirror,
		batchSize: batchSize,
		pause:     pause,
	}
}

// throttle sleeps between remirror batches, honoring cancellation.
func (w *MirrorWorker) throttle(ctx context.Context, appended int) error {
	if w.pause <= 0 || appended == 0 || appended%w.batchSize != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.pause):
		return nil
	}
}

// HandleMirrorMessage processes one notification. A record that no
// longer exists is dropped, not retried: the deletion already
// superseded the notification.
func (w *MirrorWorker) HandleMirrorMessage(ctx context.Context, msg *amqp.MirrorMessage) error {
	switch msg.Kind {
	case amqp.KindDuesPayment:
		return w.mirrorDuesPayment(ctx, msg.ID)
	case amqp.KindExpense:
		return w.mirrorExpense(ctx, msg.ID)
	case amqp.KindRestore:
		return w.RemirrorAll(ctx)
	default:
		slog.WarnContext(ctx, "Unknown mirror message kind", "kind", msg.Kind, "id", msg.ID)
		return nil
	}
}

func (w *MirrorWorker) mirrorDuesPayment(ctx context.Context, id string) error {
	payments, err := w.store.ListDuesPayments(ctx)
	if err != nil {
		return fmt.Errorf("list dues payments: %w", err)
	}
	var payment *core.DuesPayment
	for i := range payments {
		if payments[i].ID == id {
			payment = &payments[i]
			break
		}
	}
	if payment == nil {
		slog.WarnContext(ctx, "Dues payment vanished before mirroring", "id", id)
		return nil
	}

	name, err := w.residentName(ctx, payment.ResidentID)
	if err != nil {
		return err
	}
	ref, err := w.mirror.AppendDuesPayment(ctx, *payment, name)
	if err != nil {
		return fmt.Errorf("append dues payment %s: %w", id, err)
	}
	slog.InfoContext(ctx, "Mirrored dues payment", "id", id, "row", ref)
	return nil
}

func (w *MirrorWorker) mirrorExpense(ctx context.Context, id string) error {
	expenses, err := w.store.ListExpenses(ctx)
	if err != nil {
		return fmt.Errorf("list expenses: %w", err)
	}
	for _, e := range expenses {
		if e.ID != id {
			continue
		}
		ref, err := w.mirror.AppendExpense(ctx, e)
		if err != nil {
			return fmt.Errorf("append expense %s: %w", id, err)
		}
		slog.InfoContext(ctx, "Mirrored expense", "id", id, "row", ref)
		return nil
	}
	slog.WarnContext(ctx, "Expense vanished before mirroring", "id", id)
	return nil
}

func (w *MirrorWorker) residentName(ctx context.Context, residentID string) (string, error) {
	residents, err := w.store.ListResidents(ctx)
	if err != nil {
		return "", fmt.Errorf("list residents: %w", err)
	}
	for _, r := range residents {
		if r.ID == residentID {
			return r.FullName, nil
		}
	}
	// Fall back to the id so the row still lands.
	return residentID, nil
}

// RemirrorAll appends every dues payment and expense. Called after a
// restore, when the incremental trail no longer matches the store.
func (w *MirrorWorker) RemirrorAll(ctx context.Context) error {
	residents, err := w.store.ListResidents(ctx)
	if err != nil {
		return fmt.Errorf("list residents: %w", err)
	}
	names := make(map[string]string, len(residents))
	for _, r := range residents {
		names[r.ID] = r.FullName
	}

	payments, err := w.store.ListDuesPayments(ctx)
	if err != nil {
		return fmt.Errorf("list dues payments: %w", err)
	}
	expenses, err := w.store.ListExpenses(ctx)
	if err != nil {
		return fmt.Errorf("list expenses: %w", err)
	}

	mirrored := 0
	for _, p := range payments {
		name := names[p.ResidentID]
		if name == "" {
			name = p.ResidentID
		}
		if _, err := w.mirror.AppendDuesPayment(ctx, p, name); err != nil {
			return fmt.Errorf("append dues payment %s: %w", p.ID, err)
		}
		mirrored++
		if err := w.throttle(ctx, mirrored); err != nil {
			return err
		}
	}
	for _, e := range expenses {
		if _, err := w.mirror.AppendExpense(ctx, e); err != nil {
			return fmt.Errorf("append expense %s: %w", e.ID, err)
		}
		mirrored++
		if err := w.throttle(ctx, mirrored); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "Remirrored ledger after restore", "rows", mirrored)
	return nil
}
