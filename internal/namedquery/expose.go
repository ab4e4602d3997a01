package namedquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/collection"
	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/metrics"
	"github.com/kailas-cloud/nova/internal/transport/rpc"
)

// Expose serves the query remotely as Name() and, for body queries, Name()+".count".
// It can be called once, and only on a server-mode store.
func (q *NamedQuery) Expose(cfg ExposeConfig) error {
	if !q.store.IsServer() {
		return fmt.Errorf("expose %s: %w", q.Name(), domain.ErrInvalidEnvironment)
	}
	if q.exposed {
		return fmt.Errorf("expose %s: %w", q.Name(), domain.ErrAlreadyExposed)
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("expose %s: %w", q.Name(), err)
	}
	if !q.IsResolver() && !cfg.MethodEnabled() {
		return fmt.Errorf("expose %s: %w", q.Name(), domain.ErrNoAccessSurface)
	}

	methods := []string{q.Name()}
	if !q.IsResolver() {
		methods = append(methods, q.Name()+CountSuffix)
	}
	for _, m := range methods {
		if q.store.server.Has(m) {
			return fmt.Errorf("expose %s: method %s: %w", q.Name(), m, domain.ErrAlreadyRegistered)
		}
	}

	if cfg.Validator != nil {
		q.opts.Validator = cfg.Validator
	}
	if cfg.Schema != nil {
		q.opts.Schema = cfg.Schema
	}
	if cfg.Cache != nil {
		q.opts.Cache = cfg.Cache
	}
	q.expose = &cfg

	if err := q.store.server.Register(q.Name(), q.handler(kindFetch)); err != nil {
		q.expose = nil
		return fmt.Errorf("expose %s: %w", q.Name(), err)
	}
	if !q.IsResolver() {
		if err := q.store.server.Register(q.Name()+CountSuffix, q.handler(kindCount)); err != nil {
			q.expose = nil
			return fmt.Errorf("expose %s: %w", q.Name(), err)
		}
	}

	q.setCache()
	if cfg.RateLimit != nil {
		if err := q.store.server.AddRateLimit(*cfg.RateLimit, methods...); err != nil {
			return fmt.Errorf("expose %s: %w", q.Name(), err)
		}
	}

	q.exposed = true
	q.logger.Info("Named query exposed",
		zap.Strings("methods", methods),
		zap.Int("firewalls", len(cfg.Firewall)),
		zap.Bool("cached", cfg.Cache != nil),
		zap.Bool("rate_limited", cfg.RateLimit != nil),
	)
	return nil
}

type callKind string

const (
	kindFetch callKind = "fetch"
	kindCount callKind = "count"
)

func (q *NamedQuery) handler(kind callKind) rpc.Handler {
	return func(ctx context.Context, params body.Params) (any, error) {
		start := time.Now()
		caller := &Caller{}
		if inv, ok := rpc.InvocationFromContext(ctx); ok {
			if q.expose.UnblockEnabled() {
				inv.Unblock()
			}
			caller.UserID = inv.UserID
		}

		var (
			out any
			err error
		)
		c := q.Clone(params)
		if kind == kindCount {
			out, err = c.Count(ctx, caller)
		} else {
			out, err = c.Fetch(ctx, caller)
		}

		metrics.QueryCallsTotal.WithLabelValues(q.queryName, string(kind), callStatus(err)).Inc()
		metrics.QueryCallDuration.WithLabelValues(q.queryName, string(kind)).Observe(time.Since(start).Seconds())
		return out, err
	}
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

// setCache installs the exposure cache and, for body queries, the write
// hooks that invalidate it.
func (q *NamedQuery) setCache() {
	cfg := q.expose.Cache
	if cfg == nil {
		return
	}
	q.cacher = q.store.caches(cfg.TTL)
	if q.coll == nil {
		return
	}

	invalidate := func(ctx context.Context, e collection.Event) {
		var err error
		switch {
		case cfg.kind() == CacheList:
			err = q.InvalidateAllQueries(ctx)
		case e.Op != collection.OpInsert:
			err = q.InvalidateQueries(ctx, body.Params{"_id": e.Doc["_id"]})
		}
		if err != nil {
			q.logger.Warn("Failed to invalidate cached results",
				zap.String("op", string(e.Op)), zap.Error(err))
		}
	}
	q.coll.OnInsert(invalidate)
	q.coll.OnUpdate(invalidate)
	q.coll.OnRemove(invalidate)
}
