package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/terrainfetch/internal/log"
	"go.uber.org/zap"
)

// CacheFile is the location of the expected size cache, relatively to the work root
const CacheFile = "ImageDownloader/expected_sizes.json"

// SizeCache records the size of every file downloaded successfully, by url.
// An entry is never updated once written.
type SizeCache struct {
	path  string
	mu    sync.RWMutex
	sizes map[string]int64
}

// NewSizeCache creates an empty cache persisted to path. If path is empty, the cache is not persisted.
func NewSizeCache(path string) *SizeCache {
	return &SizeCache{path: path, sizes: map[string]int64{}}
}

// LoadSizeCache loads the cache persisted at path. A missing file is an empty cache.
func LoadSizeCache(path string) (*SizeCache, error) {
	c := NewSizeCache(path)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load replaces the content of the cache by the persisted one
func (c *SizeCache) Load() error {
	if c.path == "" {
		return nil
	}
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("SizeCache.Load: %w", err)
	}
	sizes := map[string]int64{}
	if err := json.Unmarshal(b, &sizes); err != nil {
		return fmt.Errorf("SizeCache.Load[%s]: %w", c.path, err)
	}
	c.mu.Lock()
	c.sizes = sizes
	c.mu.Unlock()
	return nil
}

// Get returns the expected size of url, if known
func (c *SizeCache) Get(url string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sizes[url]
	return s, ok
}

// Set records the size of url and persists the cache. The first value set is kept.
func (c *SizeCache) Set(ctx context.Context, url string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sizes[url]; ok {
		return nil
	}
	c.sizes[url] = size
	if err := c.save(); err != nil {
		log.Logger(ctx).Warn("failed to persist the size cache", zap.String("file", c.path), zap.Error(err))
		return err
	}
	return nil
}

// Len returns the number of entries
func (c *SizeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sizes)
}

// Entries returns a copy of the cache content
func (c *SizeCache) Entries() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make(map[string]int64, len(c.sizes))
	for k, v := range c.sizes {
		res[k] = v
	}
	return res
}

// Clear empties the cache and removes the persisted file
func (c *SizeCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizes = map[string]int64{}
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("SizeCache.Clear: %w", err)
	}
	return nil
}

// save must be called with the lock held
func (c *SizeCache) save() error {
	if c.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(c.sizes, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

var (
	defaultCache     *SizeCache
	defaultCacheErr  error
	defaultCacheOnce sync.Once
)

// DefaultCache returns the process-wide cache, loaded once from <root>/ImageDownloader/expected_sizes.json.
// The root of the first call is used.
func DefaultCache(root string) (*SizeCache, error) {
	defaultCacheOnce.Do(func() {
		defaultCache, defaultCacheErr = LoadSizeCache(filepath.Join(root, CacheFile))
	})
	return defaultCache, defaultCacheErr
}
