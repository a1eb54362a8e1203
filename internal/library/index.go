package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediabridge/internal/domain"
)

// key is the mapping-file key format: "<provider>:<externalId>".
func key(provider, externalID string) string {
	return provider + ":" + externalID
}

// Index is the persistent (provider, externalId) -> local path map
// described in §4.2. It is safe for concurrent use; the whole document is
// rewritten via write-to-temp-then-rename on every mutation.
type Index struct {
	mu       sync.Mutex
	path     string
	loaded   bool
	mappings map[string]domain.LibraryMapping
}

// NewIndex returns an Index backed by ".mappings.json" under root. The
// document is not read until the first operation (memoized lazy load).
func NewIndex(root string) *Index {
	return &Index{path: filepath.Join(root, ".mappings.json")}
}

func (idx *Index) ensureLoaded() error {
	if idx.loaded {
		return nil
	}
	idx.mappings = make(map[string]domain.LibraryMapping)
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			idx.loaded = true
			return nil
		}
		return err
	}
	if len(data) == 0 {
		idx.loaded = true
		return nil
	}
	if err := json.Unmarshal(data, &idx.mappings); err != nil {
		return err
	}
	idx.loaded = true
	return nil
}

// Lookup returns the local path for (provider, externalID), or "" if there
// is no mapping or the mapped file no longer exists on disk. A mapping
// whose file is missing is treated as absent but is not removed here;
// callers that want pruning should use Forget explicitly (e.g. the GC
// sweeper).
func (idx *Index) Lookup(provider, externalID string) (string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.ensureLoaded(); err != nil {
		return "", err
	}
	m, ok := idx.mappings[key(provider, externalID)]
	if !ok {
		return "", nil
	}
	if _, err := os.Stat(m.LocalPath); err != nil {
		return "", nil
	}
	return m.LocalPath, nil
}

// Register idempotently upserts a mapping for song keyed by
// (song.ExternalProvider, song.ExternalID). It is a no-op when either is
// absent.
func (idx *Index) Register(song domain.Song, localPath string) error {
	if song.ExternalProvider == "" || song.ExternalID == "" {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.ensureLoaded(); err != nil {
		return err
	}
	idx.mappings[key(song.ExternalProvider, song.ExternalID)] = domain.LibraryMapping{
		Provider:     song.ExternalProvider,
		ExternalID:   song.ExternalID,
		LocalPath:    localPath,
		Title:        song.Title,
		Artist:       song.Artist,
		Album:        song.Album,
		DownloadedAt: time.Now(),
	}
	return idx.persistLocked()
}

// Forget removes a mapping best-effort; used by GC. Missing keys are not an
// error.
func (idx *Index) Forget(provider, externalID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.ensureLoaded(); err != nil {
		return err
	}
	delete(idx.mappings, key(provider, externalID))
	return idx.persistLocked()
}

// All returns a snapshot copy of every persisted mapping, used by the GC
// sweeper to decide what to prune.
func (idx *Index) All() (map[string]domain.LibraryMapping, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.LibraryMapping, len(idx.mappings))
	for k, v := range idx.mappings {
		out[k] = v
	}
	return out, nil
}

// persistLocked must be called with idx.mu held. It rewrites the whole
// document via write-to-temp-then-rename for crash safety.
func (idx *Index) persistLocked() error {
	data, err := json.MarshalIndent(idx.mappings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return err
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.path)
}
