package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	cacheExt     = ".jpg"
	fallbackName = "fallback.png"
)

// Cache stores one immutable file per CacheKey under a single directory.
// Presence of a readable file is the only existence check.
type Cache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// Stats describes current cache usage.
type Stats struct {
	Dir        string
	Entries    int
	TotalBytes int64
	PerBackend map[Backend]int
	Oldest     time.Time
	Newest     time.Time
}

// NewCache opens (and creates) the cache directory. ttl of zero disables
// expiry.
func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("asset cache: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("asset cache: create dir: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file path for key whether or not it exists.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key+cacheExt)
}

// Lookup returns the entry for key when it exists, has not expired and
// decodes. Unreadable entries count as a miss.
func (c *Cache) Lookup(key string) (string, bool) {
	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(info.ModTime()) > c.ttl {
		return "", false
	}
	if !readableImage(path) {
		return "", false
	}
	return path, true
}

// Commit validates data and stores it under key. If a readable entry
// already exists it is kept and data is discarded.
func (c *Cache) Commit(key string, data []byte) (string, error) {
	normalized, err := normalizeJPEG(data)
	if err != nil {
		return "", err
	}
	if path, ok := c.Lookup(key); ok {
		return path, nil
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("asset cache: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(normalized); err != nil {
		tmp.Close()
		return "", fmt.Errorf("asset cache: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("asset cache: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("asset cache: close: %w", err)
	}

	final := c.Path(key)
	// Link fails when another worker finished first; keep theirs if it reads.
	if err := os.Link(tmpPath, final); err == nil {
		return final, nil
	}
	if path, ok := c.Lookup(key); ok {
		return path, nil
	}
	// Stale, expired or corrupt entry (or no hard links on this filesystem).
	if err := os.Rename(tmpPath, final); err != nil {
		return "", fmt.Errorf("asset cache: commit: %w", err)
	}
	return final, nil
}

// Stats walks the cache directory.
func (c *Cache) Stats() (Stats, error) {
	st := Stats{Dir: c.dir, PerBackend: map[Backend]int{}}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return st, fmt.Errorf("asset cache: read dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, cacheExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Entries++
		st.TotalBytes += info.Size()
		if b, _, ok := strings.Cut(name, "-"); ok {
			st.PerBackend[Backend(b)]++
		}
		mod := info.ModTime()
		if st.Oldest.IsZero() || mod.Before(st.Oldest) {
			st.Oldest = mod
		}
		if mod.After(st.Newest) {
			st.Newest = mod
		}
	}
	return st, nil
}
