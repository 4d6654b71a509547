package player

import (
	"sync"
	"testing"
	"time"
)

func TestRegistryGetOrCreateIsAtomic(t *testing.T) {
	r := NewRegistry()
	deps := &sessionDeps{bus: NewEventBus(8), registry: r}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		seen    = map[*Session]bool{}
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, ok := r.GetOrCreate("g", func() *Session {
				return newSession("g", nil, deps, 1, time.Minute)
			})
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			seen[s] = true
		}()
	}
	wg.Wait()
	if created != 1 || len(seen) != 1 {
		t.Errorf("created=%d distinct=%d, want 1 and 1", created, len(seen))
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	deps := &sessionDeps{bus: NewEventBus(8), registry: r}
	s, _ := r.GetOrCreate("g", func() *Session { return newSession("g", nil, deps, 1, time.Minute) })

	other := newSession("g", nil, deps, 1, time.Minute)
	r.removeIf("g", other)
	if r.Get("g") != s {
		t.Fatal("removeIf removed a different session's entry")
	}
	r.Remove("g")
	r.Remove("g")
	if r.Get("g") != nil || r.Len() != 0 {
		t.Error("entry still present after Remove")
	}
}
