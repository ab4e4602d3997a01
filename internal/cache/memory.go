package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// DefaultTTL is the lifetime of memory cache entries when none is configured.
const DefaultTTL = 60 * time.Second

type entry struct {
	value any
	gen   uint64
	timer *time.Timer
}

// MemoryCacher keeps results in process memory, each entry evicted TTL after
// it was stored.
type MemoryCacher struct {
	ttl   time.Duration
	total counter

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

// MemoryOption configures a MemoryCacher.
type MemoryOption func(*MemoryCacher)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryCacher) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMemoryMetrics counts hits and misses on vec (labels: cacher, result).
func WithMemoryMetrics(vec *prometheus.CounterVec) MemoryOption {
	return func(c *MemoryCacher) { c.total.vec = vec }
}

// NewMemory creates a MemoryCacher.
func NewMemory(opts ...MemoryOption) *MemoryCacher {
	c := &MemoryCacher{
		ttl:     DefaultTTL,
		total:   counter{cacher: "memory"},
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *MemoryCacher) TTL() time.Duration { return c.ttl }

// GenerateQueryID implements ResultCacher.
func (c *MemoryCacher) GenerateQueryID(name string, params body.Params) string {
	return GenerateQueryID(name, params)
}

// Fetch returns a copy of the cached value, or loads, stores and returns a
// fresh one. Errors from source are returned as-is and nothing is stored.
func (c *MemoryCacher) Fetch(ctx context.Context, id string, source DataSource) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && e.value != nil {
		v := body.DeepCopy(e.value)
		c.mu.Unlock()
		c.total.inc("hit")
		return v, nil
	}
	c.mu.Unlock()
	c.total.inc("miss")

	v, err := source(ctx)
	if err != nil {
		return nil, err
	}
	c.store(id, body.DeepCopy(v))
	return v, nil
}

func (c *MemoryCacher) store(id string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	c.gen++
	gen := c.gen
	e := &entry{value: v, gen: gen}
	e.timer = time.AfterFunc(c.ttl, func() { c.evict(id, gen) })
	c.entries[id] = e
}

// evict removes id only when it still holds generation gen.
func (c *MemoryCacher) evict(id string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && e.gen == gen {
		delete(c.entries, id)
	}
}

// Expire removes one entry. Unknown ids are ignored.
func (c *MemoryCacher) Expire(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(id)
	return nil
}

// ExpireAll removes every entry generated for name.
func (c *MemoryCacher) ExpireAll(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if belongsTo(id, name) {
			c.remove(id)
		}
	}
	return nil
}

func (c *MemoryCacher) remove(id string) {
	if e, ok := c.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, id)
	}
}

// Len returns the number of live entries.
func (c *MemoryCacher) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
