package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Cache memoizes artifact manifests on disk. The key is the artifact
// path; an entry is valid only while the artifact keeps the same size
// and modification time. A Lookup hit means the artifact was not
// re-scanned this run, which is what carry-forward of derived
// requirements is based on.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]cached
	dirty   bool
}

type cached struct {
	Size    int64   `json:"size"`
	MTime   int64   `json:"mtime"` // unix nanoseconds
	Entries []Entry `json:"entries"`
}

// LoadCache reads the cache file at path. A missing or corrupt file is
// not an error, the cache just starts fresh.
func LoadCache(path string) *Cache {
	c := &Cache{path: path, entries: map[string]cached{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.entries = map[string]cached{}
	}
	return c
}

// Lookup returns the memoized manifest for the artifact if its identity
// still matches.
func (c *Cache) Lookup(path string, size int64, mtime time.Time) ([]Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || e.Size != size || e.MTime != mtime.UnixNano() {
		return nil, false
	}
	return e.Entries, true
}

// Store memoizes the manifest under the artifact's current identity.
func (c *Cache) Store(path string, size int64, mtime time.Time, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cached{Size: size, MTime: mtime.UnixNano(), Entries: entries}
	c.dirty = true
}

// Invalidate drops the memoized manifest for path, if any.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.dirty = true
	}
}

// ListCached returns the artifact's manifest, from the cache when the
// identity matches, extracting and memoizing otherwise. carried is true
// on a cache hit.
func (c *Cache) ListCached(path string) (entries []Entry, carried bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if entries, ok := c.Lookup(path, fi.Size(), fi.ModTime()); ok {
		return entries, true, nil
	}
	entries, err = List(path)
	if err != nil {
		return nil, false, err
	}
	c.Store(path, fi.Size(), fi.ModTime(), entries)
	return entries, false, nil
}

// Save writes the cache back to its file when anything changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest cache %s: %w", c.path, err)
	}
	c.dirty = false
	return nil
}
