package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/cache"
	"github.com/kailas-cloud/nova/internal/collection"
	"github.com/kailas-cloud/nova/internal/compiler"
	"github.com/kailas-cloud/nova/internal/config"
	"github.com/kailas-cloud/nova/internal/db"
	dbRedis "github.com/kailas-cloud/nova/internal/db/redis"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
	"github.com/kailas-cloud/nova/internal/engine/memory"
	"github.com/kailas-cloud/nova/internal/engine/mongo"
	"github.com/kailas-cloud/nova/internal/firewall"
	"github.com/kailas-cloud/nova/internal/metrics"
	"github.com/kailas-cloud/nova/internal/namedquery"
	"github.com/kailas-cloud/nova/internal/ratelimit"
	chiTransport "github.com/kailas-cloud/nova/internal/transport/chi"
	"github.com/kailas-cloud/nova/internal/transport/rpc"
	"github.com/kailas-cloud/nova/internal/validation"
)

// runtime is the composition root of a serving process.
type runtime struct {
	registry *collection.Registry
	queries  *namedquery.Store
	methods  *rpc.Server
	checks   map[string]chiTransport.Pinger
	closers  []func(ctx context.Context) error
}

func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i](ctx)
	}
}

// newRuntime connects the configured backends and registers every declared
// collection and query.
func newRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{checks: make(map[string]chiTransport.Pinger)}
	readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second

	source, err := connectSource(ctx, rt, cfg.Database, readiness)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	var limiterOpts []ratelimit.Option
	caches := namedquery.MemoryCaches
	if cfg.Cache.Driver == "redis" {
		kv, err := connectCache(ctx, rt, cfg.Cache, readiness)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		limiterOpts = append(limiterOpts, ratelimit.WithStore(kv))
		caches = func(ttl time.Duration) cache.ResultCacher {
			return cache.NewRedis(kv, ttl, metrics.CacheTotal, logger)
		}
	}
	limiterOpts = append(limiterOpts, ratelimit.WithLogger(logger))

	rt.methods = rpc.NewServer(ratelimit.New(limiterOpts...), logger)
	rt.registry = collection.NewRegistry(source, collection.WithLogger(logger))
	if err := addCollections(rt.registry, cfg.Collections); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.queries = namedquery.NewStore(
		namedquery.WithServer(rt.methods),
		namedquery.WithCompiler(compiler.New(
			compiler.WithSearchEnv(cfg.Search.Env),
			compiler.WithLogger(logger),
		)),
		namedquery.WithCacheFactory(caches),
		namedquery.WithLogger(logger),
	)
	if err := addQueries(rt.queries, rt.registry, cfg.Queries); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func connectSource(ctx context.Context, rt *runtime, cfg config.DatabaseConfig, readiness time.Duration) (engine.Source, error) {
	switch cfg.Driver {
	case "mongo":
		src, err := mongo.Connect(ctx, mongo.Config{URI: cfg.URI, Database: cfg.Name})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		rt.closers = append(rt.closers, src.Close)
		if err := src.WaitForReady(ctx, readiness); err != nil {
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		rt.checks["database"] = src
		return src, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func connectCache(ctx context.Context, rt *runtime, cfg config.CacheConfig, readiness time.Duration) (db.Store, error) {
	kv, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect cache: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error {
		kv.Close()
		return nil
	})
	if err := kv.WaitForReady(ctx, readiness); err != nil {
		return nil, fmt.Errorf("cache not ready: %w", err)
	}
	rt.checks["cache"] = kv
	return kv, nil
}

func addCollections(reg *collection.Registry, cfgs []config.CollectionConfig) error {
	for _, c := range cfgs {
		links := make(map[string]engine.Link, len(c.Links))
		for name, l := range c.Links {
			links[name] = engine.Link{
				Collection:   l.Collection,
				Field:        l.Field,
				ForeignField: l.ForeignField,
				Many:         l.Many,
				Unique:       l.Unique,
				InversedBy:   l.InversedBy,
			}
		}
		_, err := reg.Add(collection.Config{
			Name:       c.Name,
			SoftDelete: c.SoftDelete,
			WithDates:  c.WithDates,
			Links:      links,
			Schema:     c.Schema,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func addQueries(store *namedquery.Store, reg *collection.Registry, cfgs []config.QueryConfig) error {
	for _, qc := range cfgs {
		coll, err := reg.Get(qc.Collection)
		if err != nil {
			return fmt.Errorf("query %s: %w", qc.Name, err)
		}
		b, err := body.Parse(qc.Body)
		if err != nil {
			return fmt.Errorf("query %s: %w", qc.Name, err)
		}
		opts := namedquery.Options{Params: body.Params(qc.Params)}
		if qc.Schema != "" {
			if opts.Schema, err = validation.NewSchema(qc.Schema); err != nil {
				return fmt.Errorf("query %s: %w", qc.Name, err)
			}
		}

		q := store.New(qc.Name, coll, b, opts)
		if err := store.Add(qc.Name, q); err != nil {
			return err
		}
		if qc.Expose == nil {
			continue
		}
		expose, err := exposeConfig(qc.Expose)
		if err != nil {
			return fmt.Errorf("query %s: %w", qc.Name, err)
		}
		if err := q.Expose(expose); err != nil {
			return err
		}
	}
	return nil
}

func exposeConfig(ec *config.ExposeConfig) (namedquery.ExposeConfig, error) {
	out := namedquery.ExposeConfig{
		Method:  ec.Method,
		Unblock: ec.Unblock,
	}
	for _, expr := range ec.Firewall {
		fw, err := firewall.CEL(expr)
		if err != nil {
			return out, err
		}
		out.Firewall = append(out.Firewall, fw)
	}
	if ec.Schema != "" {
		s, err := validation.NewSchema(ec.Schema)
		if err != nil {
			return out, err
		}
		out.Schema = s
	}
	if rl := ec.RateLimit; rl != nil {
		out.RateLimit = &ratelimit.Rule{
			Limit:   rl.Limit,
			Time:    time.Duration(rl.WindowSec) * time.Second,
			Message: rl.Message,
		}
	}
	if ch := ec.Cache; ch != nil {
		out.Cache = &namedquery.CacheConfig{
			TTL:  time.Duration(ch.TTLSec) * time.Second,
			Type: namedquery.CacheType(ch.Type),
		}
	}
	if len(ec.Embody) > 0 {
		out.Embody = &namedquery.Embody{Fragment: ec.Embody}
	}
	return out, nil
}
