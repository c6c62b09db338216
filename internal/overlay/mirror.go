package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Snapshot is the serialized shape of the index: period -> owner -> id -> record.
type Snapshot map[string]map[string]map[string]*Record

// Len returns the number of records in the snapshot.
func (s Snapshot) Len() int {
	n := 0
	for _, owners := range s {
		for _, recs := range owners {
			n += len(recs)
		}
	}
	return n
}

// Mirror loads and saves whole snapshots. Implementations hold no business
// logic; an absent or empty backing document loads as an empty snapshot.
type Mirror interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// EncodeSnapshot renders snap as indented JSON.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("overlay: encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeSnapshot parses a mirror document. Whitespace-only input is an empty
// snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("overlay: decode snapshot: %w", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	for period, owners := range snap {
		for owner, recs := range owners {
			for id, rec := range recs {
				if rec == nil {
					delete(recs, id)
				}
			}
			if len(recs) == 0 {
				delete(owners, owner)
			}
		}
		if len(owners) == 0 {
			delete(snap, period)
		}
	}
	return snap, nil
}

// FileMirror stores the snapshot as a JSON document on local disk. Writes go
// to a sibling temp file which is renamed over the target.
type FileMirror struct {
	path string
	// lastSaved is the digest of the last document this mirror wrote; zero
	// before the first save.
	lastSaved atomic.Uint64
}

// NewFileMirror constructs a mirror backed by path.
func NewFileMirror(path string) *FileMirror {
	return &FileMirror{path: path}
}

// Path returns the backing file location.
func (m *FileMirror) Path() string { return m.path }

// Load reads the mirror file.
func (m *FileMirror) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("overlay: read mirror: %w", err)
	}
	return DecodeSnapshot(data)
}

// Save replaces the mirror file with snap.
func (m *FileMirror) Save(_ context.Context, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("overlay: create mirror dir: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(m.path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("overlay: write mirror: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("overlay: replace mirror: %w", err)
	}
	m.lastSaved.Store(xxhash.Sum64(data))
	return nil
}

// WrittenBySelf reports whether the file on disk is the document this mirror
// saved last. An unreadable file is treated as foreign.
func (m *FileMirror) WrittenBySelf() bool {
	want := m.lastSaved.Load()
	if want == 0 {
		return false
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false
	}
	return xxhash.Sum64(data) == want
}

// MemoryMirror keeps the encoded snapshot in memory. Useful for tests and for
// running without a writable disk.
type MemoryMirror struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	failErr error
}

// NewMemoryMirror returns an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{}
}

// Load decodes the last saved document.
func (m *MemoryMirror) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	data := bytes.Clone(m.data)
	m.mu.Unlock()
	return DecodeSnapshot(data)
}

// Save encodes snap, or returns the injected failure.
func (m *MemoryMirror) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

// SetBytes replaces the stored document verbatim.
func (m *MemoryMirror) SetBytes(data []byte) {
	m.mu.Lock()
	m.data = bytes.Clone(data)
	m.mu.Unlock()
}

// Bytes returns the stored document.
func (m *MemoryMirror) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.data)
}

// Saves reports how many successful saves happened.
func (m *MemoryMirror) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes subsequent saves return err. Pass nil to recover.
func (m *MemoryMirror) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}
