package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Index tracks cached entries and their sizes so the cache can evict the
// least recently used file once the byte limit is exceeded.
type Index interface {
	CacheTouch(ctx context.Context, hash string, size int64, created bool) error
	CacheRemove(ctx context.Context, hash string) error
	CacheTotalBytes(ctx context.Context) (int64, error)
	CacheOldest(ctx context.Context) (string, error)
}

// FileCache stores decoded clip audio on disk keyed by a hash of its source.
type FileCache struct {
	dir   string
	limit int64
	index Index
	mu    sync.Mutex
}

func NewFileCache(dir string, limit int64, index Index) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir, limit: limit, index: index}, nil
}

func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *FileCache) pathFor(hash string) string {
	return filepath.Join(c.dir, hash)
}

// Open returns a reader for the cached entry under key.
func (c *FileCache) Open(ctx context.Context, key string) (io.ReadCloser, bool) {
	hash := HashKey(key)
	f, err := os.Open(c.pathFor(hash))
	if err != nil {
		_ = c.index.CacheRemove(ctx, hash)
		return nil, false
	}
	if err := c.index.CacheTouch(ctx, hash, 0, false); err != nil {
		slog.Debug("cache touch failed", "hash", hash, "err", err)
	}
	return f, true
}

// Put copies src into the cache under key. Empty payloads are not stored.
func (c *FileCache) Put(ctx context.Context, key string, src io.Reader) error {
	hash := HashKey(key)
	tmp := filepath.Join(c.dir, "tmp", hash)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return nil
	}
	if err := os.Rename(tmp, c.pathFor(hash)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := c.index.CacheTouch(ctx, hash, n, true); err != nil {
		return err
	}
	return c.evictIfNeeded(ctx)
}

func (c *FileCache) evictIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, err := c.index.CacheTotalBytes(ctx)
	if err != nil {
		return err
	}
	for total > c.limit {
		oldest, err := c.index.CacheOldest(ctx)
		if err != nil {
			return err
		}
		if err := os.Remove(c.pathFor(oldest)); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("cache evict failed", "hash", oldest, "err", err)
		}
		if err := c.index.CacheRemove(ctx, oldest); err != nil {
			return err
		}
		total, err = c.index.CacheTotalBytes(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
