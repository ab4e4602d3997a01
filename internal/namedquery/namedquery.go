package namedquery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/nova/internal/cache"
	"github.com/kailas-cloud/nova/internal/collection"
	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
	"github.com/kailas-cloud/nova/internal/metrics"
	"github.com/kailas-cloud/nova/internal/query"
	"github.com/kailas-cloud/nova/internal/security"
)

// MethodPrefix prefixes the remote method of every named query.
const MethodPrefix = "named_query_"

// CountSuffix names the count companion of a fetch method.
const CountSuffix = ".count"

// ResolverFunc computes the result of a resolver query. The caller, when
// there is one, is available through CallerFromContext.
type ResolverFunc func(ctx context.Context, params body.Params) (any, error)

// Caller identifies who runs a query remotely. A nil *Caller means a trusted
// server-side call: firewalls are skipped.
type Caller struct {
	UserID string
}

type callerKey struct{}

// ContextWithCaller attaches c to ctx.
func ContextWithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller attached to ctx.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(*Caller)
	return c, ok && c != nil
}

// NamedQuery is a reusable query definition: a body over a collection or a
// resolver function.
type NamedQuery struct {
	store     *Store
	queryName string
	coll      *collection.Collection
	body      *body.Object
	resolver  ResolverFunc
	params    body.Params
	opts      Options
	logger    *zap.Logger
	exposed   bool

	// Shared with every clone.
	cacher cache.ResultCacher
	expose *ExposeConfig
}

// QueryName returns the registered name.
func (q *NamedQuery) QueryName() string { return q.queryName }

// Name returns the remote method name.
func (q *NamedQuery) Name() string { return MethodPrefix + q.queryName }

// IsResolver reports whether the query is computed by a function.
func (q *NamedQuery) IsResolver() bool { return q.resolver != nil }

// IsExposed reports whether Expose succeeded on this instance.
func (q *NamedQuery) IsExposed() bool { return q.exposed }

// Collection returns the queried collection; nil for resolvers.
func (q *NamedQuery) Collection() *collection.Collection { return q.coll }

// Body returns the uncompiled body; nil for resolvers.
func (q *NamedQuery) Body() *body.Object { return q.body }

// Params returns the current params.
func (q *NamedQuery) Params() body.Params { return q.params }

// Options returns the query options.
func (q *NamedQuery) Options() Options { return q.opts }

// Cacher returns the result cache, if any.
func (q *NamedQuery) Cacher() cache.ResultCacher { return q.cacher }

// ExposeConfig returns the exposure configuration, nil before exposure.
func (q *NamedQuery) ExposeConfig() *ExposeConfig { return q.expose }

// Clone returns a copy with params merged on top. The body is deep-copied;
// the resolver, cacher and exposure configuration are shared.
func (q *NamedQuery) Clone(params body.Params) *NamedQuery {
	opts := q.opts
	opts.Params = q.params.With(params)

	c := q.store.newQuery(q.queryName, q.coll, nil, q.resolver, opts)
	if q.body != nil {
		c.body = q.body.Clone()
	}
	c.cacher = q.cacher
	c.expose = q.expose
	return c
}

// SetParams merges params into the current ones.
func (q *NamedQuery) SetParams(params body.Params) *NamedQuery {
	q.params = q.params.With(params)
	return q
}

// Resolve replaces the resolver function.
func (q *NamedQuery) Resolve(fn ResolverFunc) error {
	if !q.IsResolver() {
		return fmt.Errorf("resolve %s: %w", q.Name(), domain.ErrNotResolver)
	}
	q.resolver = fn
	return nil
}

// CacheResults enables result caching. A nil cacher means an in-memory cache
// with DefaultCacheTTL.
func (q *NamedQuery) CacheResults(c cache.ResultCacher) {
	if c == nil {
		c = q.store.caches(DefaultCacheTTL)
	}
	q.cacher = c
}

// Fetch runs the query. A non-nil caller runs the firewalls of an exposed query.
func (q *NamedQuery) Fetch(ctx context.Context, caller *Caller) (any, error) {
	if err := q.checkSecurity(ctx, caller); err != nil {
		return nil, err
	}
	if q.IsResolver() {
		return q.fetchResolver(ctx, caller)
	}

	if q.coll == nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Name(), domain.ErrCollectionNotFound)
	}
	b := q.body.Clone()
	if client := q.params.Map(body.ParamBody); client != nil {
		b = security.Intersect(b, client)
	}
	if err := q.embody(b); err != nil {
		return nil, err
	}

	qq := query.New(q.coll, b, q.params, query.WithCompiler(q.store.compiler))
	source := func(ctx context.Context) (any, error) {
		docs, err := qq.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return docs, nil
	}
	if q.cacher == nil {
		return source(ctx)
	}
	return q.cacher.Fetch(ctx, q.cacher.GenerateQueryID(q.queryName, q.params), source)
}

// FetchOne returns the first result of Fetch, or nil.
func (q *NamedQuery) FetchOne(ctx context.Context, caller *Caller) (any, error) {
	out, err := q.Fetch(ctx, caller)
	if err != nil {
		return nil, err
	}
	list := engine.Flatten(out)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// Count counts the documents the query would return, ignoring pagination.
func (q *NamedQuery) Count(ctx context.Context, caller *Caller) (int64, error) {
	if err := q.checkSecurity(ctx, caller); err != nil {
		return 0, err
	}
	if q.IsResolver() {
		return 0, fmt.Errorf("count %s: %w", q.Name(), errors.ErrUnsupported)
	}
	if q.coll == nil {
		return 0, fmt.Errorf("count %s: %w", q.Name(), domain.ErrCollectionNotFound)
	}

	b := q.body.Clone()
	if err := q.embody(b); err != nil {
		return 0, err
	}
	qq := query.New(q.coll, b, q.params, query.WithCompiler(q.store.compiler))
	source := func(ctx context.Context) (any, error) {
		return qq.Count(ctx)
	}
	if q.cacher == nil {
		return qq.Count(ctx)
	}

	out, err := q.cacher.Fetch(ctx, cache.CountPrefix+q.cacher.GenerateQueryID(q.queryName, q.params), source)
	if err != nil {
		return 0, err
	}
	n, ok := body.ToFloat(out)
	if !ok {
		return 0, fmt.Errorf("count %s: cached value is %T", q.Name(), out)
	}
	return int64(n), nil
}

// InvalidateQueries expires the cached result for params (the current params
// when nil).
func (q *NamedQuery) InvalidateQueries(ctx context.Context, params body.Params) error {
	if q.cacher == nil {
		return nil
	}
	if params == nil {
		params = q.params
	}
	return q.cacher.Expire(ctx, q.cacher.GenerateQueryID(q.queryName, params))
}

// InvalidateAllQueries expires every cached result of the query.
func (q *NamedQuery) InvalidateAllQueries(ctx context.Context) error {
	if q.cacher == nil {
		return nil
	}
	return q.cacher.ExpireAll(ctx, q.queryName)
}

// ValidateParams checks params against the schema, or else the validator.
func (q *NamedQuery) ValidateParams(params body.Params) error {
	if params == nil {
		params = q.params
	}
	var err error
	switch {
	case q.opts.Schema != nil:
		err = q.opts.Schema.Validate(map[string]any(params), "Query schema validation error")
	case q.opts.Validator != nil:
		err = q.opts.Validator(params)
	}
	if err != nil {
		q.logger.Warn("Invalid parameters supplied to the query", zap.Error(err))
	}
	return err
}

func (q *NamedQuery) checkSecurity(ctx context.Context, caller *Caller) error {
	if caller != nil && q.expose != nil {
		if err := q.callFirewall(ctx, caller.UserID); err != nil {
			metrics.FirewallRejectionsTotal.WithLabelValues(q.queryName).Inc()
			return &domain.SecurityError{Query: q.Name(), Err: err}
		}
	}
	return q.ValidateParams(q.params)
}

// callFirewall runs every firewall concurrently and reports the first
// rejection once all of them returned.
func (q *NamedQuery) callFirewall(ctx context.Context, userID string) error {
	var g errgroup.Group
	for _, fw := range q.expose.Firewall {
		params := q.params.Clone()
		g.Go(func() error {
			return fw(ctx, userID, params)
		})
	}
	return g.Wait()
}

func (q *NamedQuery) fetchResolver(ctx context.Context, caller *Caller) (any, error) {
	if caller != nil {
		ctx = ContextWithCaller(ctx, caller)
	}
	source := func(ctx context.Context) (any, error) {
		return q.resolver(ctx, q.params.Clone())
	}
	if q.cacher == nil {
		return source(ctx)
	}
	return q.cacher.Fetch(ctx, q.cacher.GenerateQueryID(q.queryName, q.params), source)
}

// embody applies the exposure transform. Queries that were never exposed are
// left untouched.
func (q *NamedQuery) embody(b *body.Object) error {
	if q.expose == nil || q.expose.Embody == nil {
		return nil
	}
	e := q.expose.Embody
	if e.Func != nil {
		e.Func(b, q.params)
		return nil
	}
	if err := b.Merge(e.Fragment); err != nil {
		return fmt.Errorf("embody %s: %w", q.Name(), err)
	}
	return nil
}
