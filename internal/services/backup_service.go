package services

import (
	"context"
	"fmt"
	"log/slog"

	"warga/internal/amqp"
	"warga/internal/backup"
	"warga/internal/snapshot"
)

// BackupService fronts the orchestrator and the snapshot store for
// the admin surface.
type BackupService struct {
	orchestrator *backup.Orchestrator
	snapshots    *snapshot.Store
	publisher    MirrorPublisher
}

func NewBackupService(orchestrator *backup.Orchestrator, snapshots *snapshot.Store, publisher MirrorPublisher) *BackupService {
	return &BackupService{
		orchestrator: orchestrator,
		snapshots:    snapshots,
		publisher:    publisher,
	}
}

// Export produces a portable backup document without mutating anything.
func (s *BackupService) Export(ctx context.Context, label string) (*backup.Document, error) {
	return s.orchestrator.Export(ctx, label)
}

// Restore applies an uploaded document. A committed restore notifies
// the mirror worker so the spreadsheet can be rebuilt.
func (s *BackupService) Restore(ctx context.Context, doc *backup.Document, confirm bool) backup.RestoreResult {
	result := s.orchestrator.Restore(ctx, doc, confirm)
	if result.Success && s.publisher != nil {
		if err := s.publisher.PublishMirror(ctx, amqp.KindRestore, result.RollbackSnapshot); err != nil {
			slog.ErrorContext(ctx, "Failed to publish restore notification", "error", err)
		}
	}
	return result
}

// State exposes the restore state machine position.
func (s *BackupService) State() backup.State {
	return s.orchestrator.State()
}

// CreateSnapshot exports the current state and stores it under the
// given name.
func (s *BackupService) CreateSnapshot(ctx context.Context, name string) (snapshot.Meta, error) {
	doc, err := s.orchestrator.Export(ctx, name)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("export for snapshot: %w", err)
	}
	return s.snapshots.Create(ctx, name, doc)
}

func (s *BackupService) ListSnapshots(ctx context.Context) ([]snapshot.Meta, error) {
	return s.snapshots.List(ctx)
}

func (s *BackupService) DeleteSnapshot(ctx context.Context, name string) error {
	return s.snapshots.Delete(ctx, name)
}

// RestoreSnapshot loads a stored snapshot and applies it like an
// uploaded document, same confirmation gate included.
func (s *BackupService) RestoreSnapshot(ctx context.Context, name string, confirm bool) (backup.RestoreResult, error) {
	doc, err := s.snapshots.Load(ctx, name)
	if err != nil {
		return backup.RestoreResult{}, err
	}
	return s.Restore(ctx, doc, confirm), nil
}
