package collection

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/engine"
)

// Registry holds every collection of a process, keyed by name.
type Registry struct {
	source engine.Source
	graph  *engine.Graph
	now    func() time.Time
	logger *zap.Logger

	mu     sync.RWMutex
	byName map[string]*Collection
}

var _ engine.Catalog = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry over source.
func NewRegistry(source engine.Source, opts ...Option) *Registry {
	r := &Registry{
		source: source,
		now:    time.Now,
		logger: zap.NewNop(),
		byName: make(map[string]*Collection),
	}
	for _, o := range opts {
		o(r)
	}
	r.graph = engine.NewGraph(source, r, r.logger)
	return r
}

// Add registers a collection. Links may name collections added later.
func (r *Registry) Add(cfg Config) (*Collection, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	for name, l := range cfg.Links {
		if l.Collection == "" {
			return nil, fmt.Errorf("collection %s: link %s has no target", cfg.Name, name)
		}
		if !l.IsInverse() && l.Field == "" {
			return nil, fmt.Errorf("collection %s: link %s needs a field or inversedBy", cfg.Name, name)
		}
	}

	c, err := newCollection(r, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[cfg.Name]; exists {
		return nil, fmt.Errorf("collection %s: %w", cfg.Name, domain.ErrAlreadyRegistered)
	}
	r.byName[cfg.Name] = c
	return c, nil
}

// MustAdd is Add for static declarations.
func (r *Registry) MustAdd(cfg Config) *Collection {
	c, err := r.Add(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the named collection.
func (r *Registry) Get(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return c, nil
}

// Schema implements engine.Catalog.
func (r *Registry) Schema(name string) (engine.Schema, bool) {
	c, err := r.Get(name)
	if err != nil {
		return nil, false
	}
	return c, true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Graph returns the resolver over this registry.
func (r *Registry) Graph() *engine.Graph { return r.graph }
