package cache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"
)

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Cache provides file-based caching for provider responses. Entries older
// than maxAge are stale but still readable so callers can fall back to
// them when the provider is over budget.
type Cache struct {
	dir    string
	maxAge time.Duration
	clock  clockwork.Clock
}

// New creates a cache in dir. A nil clock uses the wall clock.
func New(dir string, maxAge time.Duration, clock clockwork.Clock) *Cache {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("cache: could not create %s: %v", dir, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{dir: dir, maxAge: maxAge, clock: clock}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, unsafeKey.ReplaceAllString(key, "_")+".json")
}

// Get returns a fresh entry.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, age, ok := c.read(key)
	if !ok || age > c.maxAge {
		return nil, false
	}
	return data, true
}

// GetStale returns an entry regardless of age.
func (c *Cache) GetStale(key string) ([]byte, bool) {
	data, _, ok := c.read(key)
	return data, ok
}

func (c *Cache) read(key string) ([]byte, time.Duration, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, false
	}
	return data, c.clock.Since(info.ModTime()), true
}

// Set stores data under key, stamping it with the cache clock.
func (c *Cache) Set(key string, data []byte) error {
	path := c.path(key)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write cache %s: %w", key, err)
	}
	now := c.clock.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("stamp cache %s: %w", key, err)
	}
	return nil
}

// Keys lists cached keys in their sanitised form.
func (c *Cache) Keys() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			name := entry.Name()
			keys = append(keys, name[:len(name)-len(".json")])
		}
	}
	return keys
}
