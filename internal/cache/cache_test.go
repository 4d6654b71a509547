package cache

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

type memIndex struct {
	mu    sync.Mutex
	order []string
	sizes map[string]int64
}

func newMemIndex() *memIndex { return &memIndex{sizes: map[string]int64{}} }

func (m *memIndex) CacheTouch(_ context.Context, hash string, size int64, created bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.order {
		if h == hash {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, hash)
	if created {
		m.sizes[hash] = size
	}
	return nil
}

func (m *memIndex) CacheRemove(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.order {
		if h == hash {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	delete(m.sizes, hash)
	return nil
}

func (m *memIndex) CacheTotalBytes(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t int64
	for _, s := range m.sizes {
		t += s
	}
	return t, nil
}

func (m *memIndex) CacheOldest(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return "", errors.New("empty")
	}
	return m.order[0], nil
}

func TestPutThenOpen(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir(), 1<<20, newMemIndex())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Open(ctx, "clip"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := c.Put(ctx, "clip", strings.NewReader("pcm-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, ok := c.Open(ctx, "clip")
	if !ok {
		t.Fatal("expected cache hit")
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "pcm-bytes" {
		t.Errorf("got %q", b)
	}
}

func TestEvictsOldestOverLimit(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir(), 10, newMemIndex())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "a", strings.NewReader("123456")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "b", strings.NewReader("789012")); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Open(ctx, "a"); ok {
		t.Error("a should have been evicted")
	}
	if rc, ok := c.Open(ctx, "b"); !ok {
		t.Error("b should still be cached")
	} else {
		rc.Close()
	}
}

func TestEmptyPayloadNotStored(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir(), 10, newMemIndex())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "empty", strings.NewReader("")); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Open(ctx, "empty"); ok {
		t.Error("empty payload should not be cached")
	}
}
