package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pengxiaoo/caddie/internal/domain"
)

const snapshotVersion = 1

type snapshot struct {
	Version int             `json:"version"`
	Entries []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	DocID    string    `json:"doc_id"`
	Question string    `json:"question"`
	Vector   []float32 `json:"vector"`
}

// Persist writes the full index state to the snapshot path. The write goes
// through a temp file plus rename so a crash never leaves a torn snapshot.
func (idx *SemanticIndex) Persist(path string) error {
	idx.mu.RLock()
	snap := snapshot{
		Version: snapshotVersion,
		Entries: make([]snapshotEntry, 0, len(idx.entries)),
	}
	for id, e := range idx.entries {
		snap.Entries = append(snap.Entries, snapshotEntry{
			DocID:    id,
			Question: e.Question,
			Vector:   e.Vector,
		})
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load replaces the index state from a snapshot file. A missing file leaves
// the index empty and is not an error; unreadable content maps to
// domain.ErrIndexCorrupt.
func (idx *SemanticIndex) Load(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexCorrupt, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", domain.ErrIndexCorrupt, snap.Version)
	}

	entries := make(map[string]entry, len(snap.Entries))
	for _, e := range snap.Entries {
		entries[e.DocID] = entry{Question: e.Question, Vector: e.Vector}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()
	return nil
}
