// Package backend selects and constructs the record-store adapter.
package backend

import (
	"fmt"
	"log/slog"

	"warga/internal/config"
	"warga/internal/storage"
	"warga/internal/store"
	"warga/internal/store/memory"
)

type Type string

const (
	MemoryBackend Type = "memory"
	SQLiteBackend Type = "sqlite"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case MemoryBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases backend resources at shutdown.
type CleanupFunc func() error

// Result holds the constructed store and its cleanup, nil when the
// backend holds nothing to release.
type Result struct {
	Store   store.RecordStore
	Cleanup CleanupFunc
}

// Open builds the record store named by the configuration.
func Open(cfg *config.Config, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	t := Type(cfg.DataBackend)
	switch t {
	case MemoryBackend:
		logger.Info("Initialized memory backend")
		return &Result{Store: memory.New()}, nil

	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite backend: %w", err)
		}
		logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return &Result{Store: repo, Cleanup: repo.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported data backend %q", cfg.DataBackend)
	}
}
