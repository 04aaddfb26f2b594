package incremental

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"covhook/scan-runner/internal/model"
)

// Snapshot is the last coverage recorded for a service.
type Snapshot struct {
	CommitID   string                `json:"commit_id"`
	Report     *model.CoverageReport `json:"report"`
	RecordedAt time.Time             `json:"recorded_at"`
}

// Store persists one snapshot per service.
type Store interface {
	Load(ctx context.Context, service string) (Snapshot, bool, error)
	Save(ctx context.Context, service string, snap Snapshot) error
}

type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: map[string]Snapshot{}}
}

func (m *MemoryStore) Load(_ context.Context, service string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[service]
	return snap, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, service string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[service] = snap
	return nil
}

// FileStore keeps each service's snapshot as a JSON file in dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (f *FileStore) path(service string) string {
	return filepath.Join(f.dir, unsafeName.ReplaceAllString(service, "_")+".json")
}

func (f *FileStore) Load(_ context.Context, service string) (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path(service))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decoding snapshot for %s: %w", service, err)
	}
	return snap, true, nil
}

func (f *FileStore) Save(_ context.Context, service string, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path(service) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(service))
}
