// Package namedquery keeps reusable queries addressable by name, and serves
// them as remote methods once exposed.
package namedquery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/cache"
	"github.com/kailas-cloud/nova/internal/collection"
	"github.com/kailas-cloud/nova/internal/compiler"
	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/metrics"
	"github.com/kailas-cloud/nova/internal/ratelimit"
	"github.com/kailas-cloud/nova/internal/transport/rpc"
)

// Registrar is the method table exposed queries are registered on.
type Registrar interface {
	Has(name string) bool
	Register(name string, h rpc.Handler) error
	AddRateLimit(rule ratelimit.Rule, methods ...string) error
}

// CacheFactory builds the cacher of an exposed query. ttl is zero when the
// exposure leaves it to the cacher's default.
type CacheFactory func(ttl time.Duration) cache.ResultCacher

// MemoryCaches is the default CacheFactory.
func MemoryCaches(ttl time.Duration) cache.ResultCacher {
	return cache.NewMemory(cache.WithTTL(ttl), cache.WithMemoryMetrics(metrics.CacheTotal))
}

// Store holds the named queries of a process. A store without a Registrar is
// in client mode: queries can run locally but not be exposed.
type Store struct {
	server   Registrar
	compiler *compiler.Compiler
	caches   CacheFactory
	logger   *zap.Logger

	mu      sync.RWMutex
	queries map[string]*NamedQuery
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithServer puts the store in server mode.
func WithServer(r Registrar) StoreOption {
	return func(s *Store) { s.server = r }
}

// WithCompiler sets the body compiler shared by every query.
func WithCompiler(c *compiler.Compiler) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.compiler = c
		}
	}
}

// WithCacheFactory sets how exposure builds result caches.
func WithCacheFactory(f CacheFactory) StoreOption {
	return func(s *Store) {
		if f != nil {
			s.caches = f
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		compiler: compiler.New(),
		caches:   MemoryCaches,
		logger:   zap.NewNop(),
		queries:  make(map[string]*NamedQuery),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IsServer reports whether queries of this store can be exposed.
func (s *Store) IsServer() bool { return s.server != nil }

// New builds an unregistered query over coll.
func (s *Store) New(name string, coll *collection.Collection, b *body.Object, opts Options) *NamedQuery {
	if b == nil {
		b = body.NewObject()
	}
	return s.newQuery(name, coll, b.Clone(), nil, opts)
}

// NewResolver builds an unregistered resolver query.
func (s *Store) NewResolver(name string, fn ResolverFunc, opts Options) *NamedQuery {
	return s.newQuery(name, nil, nil, fn, opts)
}

func (s *Store) newQuery(name string, coll *collection.Collection, b *body.Object, fn ResolverFunc, opts Options) *NamedQuery {
	opts.Params = opts.Params.Clone()
	return &NamedQuery{
		store:     s,
		queryName: name,
		coll:      coll,
		body:      b,
		resolver:  fn,
		params:    opts.Params,
		opts:      opts,
		logger:    s.logger.With(zap.String("query", name)),
	}
}

// Get returns the registered query.
func (s *Store) Get(name string) (*NamedQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrQueryNotFound, name)
	}
	return q, nil
}

// Add registers q under name.
func (s *Store) Add(name string, q *NamedQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queries[name]; exists {
		return fmt.Errorf("named query %s: %w", name, domain.ErrAlreadyRegistered)
	}
	s.queries[name] = q
	return nil
}

// Names returns the registered names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.queries))
	for n := range s.queries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Create registers a query on the first call for name. Later calls ignore
// coll and b and return a clone of the registered query with opts.Params
// merged in.
func (s *Store) Create(name string, coll *collection.Collection, b *body.Object, opts Options) *NamedQuery {
	return s.getOrCreate(name, opts.Params, func() *NamedQuery {
		return s.New(name, coll, b, opts)
	})
}

// CreateResolver is Create for resolver queries.
func (s *Store) CreateResolver(name string, fn ResolverFunc, opts Options) *NamedQuery {
	return s.getOrCreate(name, opts.Params, func() *NamedQuery {
		return s.NewResolver(name, fn, opts)
	})
}

func (s *Store) getOrCreate(name string, params body.Params, build func() *NamedQuery) *NamedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queries[name]; ok {
		return q.Clone(params)
	}
	q := build()
	s.queries[name] = q
	return q
}
