package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"warga/internal/backup"
)

const (
	// RollbackLimit bounds how many automatic pre-restore snapshots are
	// kept on disk. The oldest is evicted when a new one arrives.
	RollbackLimit = 3

	// DefaultNamedLimit bounds caller-named snapshots. Named snapshots
	// are never evicted: the caller gets ErrCapacity and decides what
	// to delete.
	DefaultNamedLimit = 20

	rollbackPrefix = "rollback-"
	fileExt        = ".json"
)

var (
	ErrNotFound = errors.New("snapshot not found")
	ErrExists   = errors.New("snapshot already exists")

	// ErrCapacity is returned when a named snapshot would exceed the
	// configured limit.
	ErrCapacity = errors.New("snapshot store at capacity")

	validName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Meta describes a stored snapshot without loading its document.
type Meta struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	Rollback   bool      `json:"rollback"`
	ApproxSize int64     `json:"approxSize"`
}

// Store keeps snapshots as one JSON file each under a data directory.
// Rollback snapshots rotate FIFO at RollbackLimit; named snapshots are
// capped but never silently evicted.
type Store struct {
	dir        string
	namedLimit int
	mu         sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{dir: dir, namedLimit: DefaultNamedLimit}, nil
}

// Create stores a caller-named snapshot. Names must be filesystem-safe
// and must not collide with the rollback prefix.
func (s *Store) Create(ctx context.Context, name string, doc *backup.Document) (Meta, error) {
	if !validName.MatchString(name) {
		return Meta{}, fmt.Errorf("invalid snapshot name %q", name)
	}
	if strings.HasPrefix(name, rollbackPrefix) {
		return Meta{}, fmt.Errorf("snapshot name %q: prefix %q is reserved", name, rollbackPrefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.list()
	if err != nil {
		return Meta{}, err
	}
	named := 0
	for _, m := range metas {
		if m.Name == name {
			return Meta{}, fmt.Errorf("snapshot %q: %w", name, ErrExists)
		}
		if !m.Rollback {
			named++
		}
	}
	if named >= s.namedLimit {
		return Meta{}, fmt.Errorf("named snapshot limit %d reached: %w", s.namedLimit, ErrCapacity)
	}

	meta, err := s.write(name, doc)
	if err != nil {
		return Meta{}, err
	}
	slog.InfoContext(ctx, "Snapshot created", "snapshot", name, "bytes", meta.ApproxSize)
	return meta, nil
}

// SaveRollback stores a pre-restore snapshot under a generated name
// and evicts the oldest rollback snapshots beyond RollbackLimit.
func (s *Store) SaveRollback(ctx context.Context, doc *backup.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s%s", rollbackPrefix, time.Now().UTC().Format("20060102T150405.000000000"))
	meta, err := s.write(name, doc)
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "Rollback snapshot saved", "snapshot", name, "bytes", meta.ApproxSize)

	metas, err := s.list()
	if err != nil {
		return name, err
	}
	var rollbacks []Meta
	for _, m := range metas {
		if m.Rollback {
			rollbacks = append(rollbacks, m)
		}
	}
	// list() is newest-first, so everything past the limit is oldest.
	for _, m := range rollbacks[min(len(rollbacks), RollbackLimit):] {
		if err := os.Remove(s.path(m.Name)); err != nil {
			slog.WarnContext(ctx, "Rollback snapshot eviction failed", "snapshot", m.Name, "error", err)
			continue
		}
		slog.InfoContext(ctx, "Rollback snapshot evicted", "snapshot", m.Name)
	}
	return name, nil
}

// Load reads a snapshot back as a document.
func (s *Store) Load(ctx context.Context, name string) (*backup.Document, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid snapshot name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	doc, err := backup.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot %q: %w", name, err)
	}
	return doc, nil
}

// List returns all snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Delete removes a snapshot by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid snapshot name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete snapshot %q: %w", name, err)
	}
	slog.InfoContext(ctx, "Snapshot deleted", "snapshot", name)
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *Store) write(name string, doc *backup.Document) (Meta, error) {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("encode snapshot %q: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), raw, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write snapshot %q: %w", name, err)
	}
	return Meta{
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		Rollback:   strings.HasPrefix(name, rollbackPrefix),
		ApproxSize: int64(len(raw)),
	}, nil
}

// list reads directory entries under the lock, newest first.
func (s *Store) list() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		metas = append(metas, Meta{
			Name:       name,
			CreatedAt:  info.ModTime().UTC(),
			Rollback:   strings.HasPrefix(name, rollbackPrefix),
			ApproxSize: info.Size(),
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].Name > metas[j].Name
	})
	return metas, nil
}
