package worker

import (
	"context"
	"sync"
	"time"
)

// AttemptCounter counts handler failures per message. Implementations shared
// between processes let competing consumers see each other's attempts.
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Forget(ctx context.Context, key string) error
}

const (
	memoryCounterTTL     = time.Hour
	memoryCounterMaxKeys = 10000
)

type memoryEntry struct {
	count int64
	seen  time.Time
}

// MemoryCounter is a process-local AttemptCounter. Entries for messages
// that were requeued and then taken by another consumer expire after an
// hour.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= memoryCounterMaxKeys {
		c.sweep(now)
	}

	e := c.entries[key]
	e.count++
	e.seen = now
	c.entries[key] = e
	return e.count, nil
}

func (c *MemoryCounter) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCounter) sweep(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.seen) > memoryCounterTTL {
			delete(c.entries, k)
		}
	}
}
