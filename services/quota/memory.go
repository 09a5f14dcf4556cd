package quota

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	identity string
	start    int64
}

type memoryEntry struct {
	count   int64
	expires time.Time
}

// MemoryCounter keeps counters in process. It is only correct for a single
// instance deployment.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[memoryKey]memoryEntry
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[memoryKey]memoryEntry)}
}

func (c *MemoryCounter) Incr(_ context.Context, identity string, w Window) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := memoryKey{identity: identity, start: w.Start.Unix()}
	e := c.entries[k]
	e.count++
	e.expires = w.End
	c.entries[k] = e
	return e.count, nil
}

func (c *MemoryCounter) Get(_ context.Context, identity string, w Window) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[memoryKey{identity: identity, start: w.Start.Unix()}].count, nil
}

func (c *MemoryCounter) Prune(_ context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k, e := range c.entries {
		if !e.expires.After(before) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}
