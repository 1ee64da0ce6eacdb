package mlexport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// watermarkKey identifies one delivered-up-to marker.
type watermarkKey struct {
	runID string
	name  string
}

// WatermarkSnapshot is the persistable form of the tracker state, keyed
// run ID → metric name → last delivered step.
type WatermarkSnapshot map[string]map[string]int64

// WatermarkStore persists watermark snapshots across process restarts.
type WatermarkStore interface {
	// Load reads the last saved snapshot. A store with no prior state returns an
	// empty snapshot and no error.
	Load() (WatermarkSnapshot, error)

	// Save persists a snapshot, replacing any previous one.
	Save(WatermarkSnapshot) error
}

// WatermarkTracker remembers, per (run, metric), the latest step already
// delivered to every required sink. Advancement is monotonic: replays and
// out-of-order confirmations are no-ops.
type WatermarkTracker struct {
	mu    sync.RWMutex
	marks map[watermarkKey]int64
	store WatermarkStore
}

// NewWatermarkTracker creates a tracker backed by the given store, hydrated
// from the store's last saved snapshot.
func NewWatermarkTracker(store WatermarkStore) (*WatermarkTracker, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	snapshot, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load watermarks: %w", err)
	}
	marks := make(map[watermarkKey]int64)
	for runID, byName := range snapshot {
		for name, step := range byName {
			marks[watermarkKey{runID: runID, name: name}] = step
		}
	}
	return &WatermarkTracker{marks: marks, store: store}, nil
}

// Get returns the last delivered step for (runID, name). The second return is
// false when the pair has never been delivered.
func (t *WatermarkTracker) Get(runID, name string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	step, ok := t.marks[watermarkKey{runID: runID, name: name}]
	return step, ok
}

// Advance moves the watermark for (runID, name) to step. A step at or below
// the stored value is a no-op, making Advance idempotent under at-least-once
// retries. Returns true if the watermark moved.
func (t *WatermarkTracker) Advance(runID, name string, step int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := watermarkKey{runID: runID, name: name}
	if current, ok := t.marks[key]; ok && step <= current {
		return false
	}
	t.marks[key] = step
	return true
}

// Snapshot returns a copy of the current state in persistable form.
func (t *WatermarkTracker) Snapshot() WatermarkSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make(WatermarkSnapshot)
	for key, step := range t.marks {
		byName := snapshot[key.runID]
		if byName == nil {
			byName = make(map[string]int64)
			snapshot[key.runID] = byName
		}
		byName[key.name] = step
	}
	return snapshot
}

// Flush persists the current state to the backing store.
func (t *WatermarkTracker) Flush() error {
	return t.store.Save(t.Snapshot())
}

//
// Stores
//

// MemoryStore keeps watermarks in process memory only. Used when no watermark
// path is configured, and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	snapshot WatermarkSnapshot
}

// NewMemoryStore returns an empty in-memory watermark store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshot: make(WatermarkSnapshot)}
}

// Load implements WatermarkStore.
func (s *MemoryStore) Load() (WatermarkSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

// Save implements WatermarkStore.
func (s *MemoryStore) Save(snapshot WatermarkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}

// FileStore persists watermarks as a JSON document on disk. Writes go through
// a temp file and rename so a crash mid-save cannot truncate the snapshot.
type FileStore struct {
	path string
}

// NewFileStore returns a watermark store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements WatermarkStore. A missing file yields an empty snapshot.
func (s *FileStore) Load() (WatermarkSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(WatermarkSnapshot), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark file: %w", err)
	}
	var snapshot WatermarkSnapshot
	if err := sonic.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse watermark file: %w", err)
	}
	if snapshot == nil {
		snapshot = make(WatermarkSnapshot)
	}
	return snapshot, nil
}

// Save implements WatermarkStore.
func (s *FileStore) Save(snapshot WatermarkSnapshot) error {
	data, err := sonic.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal watermarks: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create watermark dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write watermark file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace watermark file: %w", err)
	}
	return nil
}

// NewStoreForPath selects a watermark store implementation from a configured
// path: empty means in-memory, a .db or .sqlite suffix selects SQLite, and
// anything else a JSON file.
func NewStoreForPath(path string) (WatermarkStore, error) {
	switch {
	case path == "":
		return NewMemoryStore(), nil
	case strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite"):
		return NewSQLiteStore(path)
	default:
		return NewFileStore(path), nil
	}
}
