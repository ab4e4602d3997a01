// Package collection wraps an engine source with per-collection metadata:
// links, reducers, soft delete, timestamps, write schemas and write hooks.
package collection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/compiler"
	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
	"github.com/kailas-cloud/nova/internal/validation"
)

// Timestamp and soft-delete fields maintained by writes.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldIsDeleted = compiler.SoftDeleteField
	FieldDeletedAt = "deletedAt"
)

// Op names a write operation.
type Op string

// Write operations reported to hooks.
const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Event describes one written document.
type Event struct {
	Op  Op
	Doc body.Document
}

// Hook observes writes after they succeeded.
type Hook func(ctx context.Context, e Event)

// Config declares a collection.
type Config struct {
	Name       string
	SoftDelete bool
	WithDates  bool
	Links      map[string]engine.Link
	Reducers   map[string]engine.Reducer
	// Schema is a JSON Schema applied to inserted documents and, with
	// required fields relaxed, to update modifiers.
	Schema string
}

// Collection is the handle used for queries and writes.
type Collection struct {
	cfg      Config
	registry *Registry
	source   engine.Source
	schema   *validation.Schema
	partial  *validation.Schema
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.RWMutex
	hooks map[Op][]Hook
}

var (
	_ compiler.Meta = (*Collection)(nil)
	_ engine.Schema = (*Collection)(nil)
)

func newCollection(r *Registry, cfg Config) (*Collection, error) {
	c := &Collection{
		cfg:      cfg,
		registry: r,
		source:   r.source,
		now:      r.now,
		logger:   r.logger.With(zap.String("collection", cfg.Name)),
		hooks:    make(map[Op][]Hook),
	}
	if cfg.Schema != "" {
		s, err := validation.NewSchema(cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
		p, err := s.Partial()
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
		c.schema, c.partial = s, p
	}
	return c, nil
}

// Name implements engine.Schema.
func (c *Collection) Name() string { return c.cfg.Name }

// Config returns the declaration the collection was built from.
func (c *Collection) Config() Config { return c.cfg }

// SoftDeleteEnabled implements compiler.Meta.
func (c *Collection) SoftDeleteEnabled() bool { return c.cfg.SoftDelete }

// Related implements compiler.Meta by following links.
func (c *Collection) Related(field string) (compiler.Meta, bool) {
	l, ok := c.cfg.Links[field]
	if !ok {
		return nil, false
	}
	target, err := c.registry.Get(l.Collection)
	if err != nil {
		return nil, false
	}
	return target, true
}

// Link implements engine.Schema.
func (c *Collection) Link(name string) (engine.Link, bool) {
	l, ok := c.cfg.Links[name]
	return l, ok
}

// Reducer implements engine.Schema.
func (c *Collection) Reducer(name string) (engine.Reducer, bool) {
	r, ok := c.cfg.Reducers[name]
	return r, ok
}

// Source returns the engine source backing the collection.
func (c *Collection) Source() engine.Source { return c.source }

// Graph returns a resolver rooted in the collection's registry.
func (c *Collection) Graph() *engine.Graph { return c.registry.graph }

// OnInsert registers a hook called after each inserted document.
func (c *Collection) OnInsert(h Hook) { c.on(OpInsert, h) }

// OnUpdate registers a hook called after each updated document.
func (c *Collection) OnUpdate(h Hook) { c.on(OpUpdate, h) }

// OnRemove registers a hook called after each removed document.
func (c *Collection) OnRemove(h Hook) { c.on(OpRemove, h) }

func (c *Collection) on(op Op, h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[op] = append(c.hooks[op], h)
}

func (c *Collection) fire(ctx context.Context, op Op, docs []body.Document) {
	c.mu.RLock()
	hooks := append([]Hook(nil), c.hooks[op]...)
	c.mu.RUnlock()

	for _, doc := range docs {
		for _, h := range hooks {
			h(ctx, Event{Op: op, Doc: doc})
		}
	}
}

// Insert validates and stores doc and returns its id.
func (c *Collection) Insert(ctx context.Context, doc body.Document) (any, error) {
	stored := body.CloneMap(doc)
	if stored == nil {
		stored = body.Document{}
	}
	if c.cfg.WithDates {
		now := c.now()
		stored[FieldCreatedAt] = now
		stored[FieldUpdatedAt] = now
	}
	if _, set := stored[FieldIsDeleted]; c.cfg.SoftDelete && !set {
		stored[FieldIsDeleted] = false
	}
	if c.schema != nil {
		if err := c.schema.Validate(stored, "Collection schema validation error"); err != nil {
			return nil, err
		}
	}

	id, err := c.source.Insert(ctx, c.cfg.Name, stored)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", c.cfg.Name, err)
	}
	stored[engine.IDField] = id

	c.fire(ctx, OpInsert, []body.Document{stored})
	return id, nil
}

// Update applies modifier to every document matching filters and returns the
// number of matched documents.
func (c *Collection) Update(ctx context.Context, filters, modifier map[string]any) (int64, error) {
	mod := body.CloneMap(modifier)
	if mod == nil {
		mod = map[string]any{}
	}
	if c.cfg.WithDates {
		set, _ := mod["$set"].(map[string]any)
		if set == nil {
			set = map[string]any{}
		}
		set[FieldUpdatedAt] = c.now()
		mod["$set"] = set
	}
	if c.partial != nil {
		if set, ok := mod["$set"].(map[string]any); ok {
			if err := c.partial.Validate(set, "Collection schema validation error"); err != nil {
				return 0, err
			}
		}
	}
	return c.update(ctx, filters, mod, OpUpdate)
}

// Remove deletes matching documents, or flags them when soft delete is on.
func (c *Collection) Remove(ctx context.Context, filters map[string]any) (int64, error) {
	if c.cfg.SoftDelete {
		return c.update(ctx, filters, map[string]any{
			"$set": map[string]any{FieldIsDeleted: true, FieldDeletedAt: c.now()},
		}, OpRemove)
	}

	docs, err := c.matching(ctx, filters)
	if err != nil {
		return 0, err
	}
	n, err := c.source.Delete(ctx, c.cfg.Name, filters)
	if err != nil {
		return 0, fmt.Errorf("remove from %s: %w", c.cfg.Name, err)
	}
	c.fire(ctx, OpRemove, docs)
	return n, nil
}

// Recover restores soft-deleted documents.
func (c *Collection) Recover(ctx context.Context, filters map[string]any) (int64, error) {
	if !c.cfg.SoftDelete {
		return 0, fmt.Errorf("recover %s: %w", c.cfg.Name, domain.ErrSoftDeleteDisabled)
	}
	return c.update(ctx, filters, map[string]any{
		"$set":   map[string]any{FieldIsDeleted: false},
		"$unset": map[string]any{FieldDeletedAt: true},
	}, OpUpdate)
}

func (c *Collection) update(ctx context.Context, filters, modifier map[string]any, op Op) (int64, error) {
	before, err := c.matching(ctx, filters)
	if err != nil {
		return 0, err
	}
	n, err := c.source.Update(ctx, c.cfg.Name, filters, modifier)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", c.cfg.Name, err)
	}
	if len(before) == 0 {
		return n, nil
	}

	ids := make([]any, len(before))
	for i, d := range before {
		ids[i] = d[engine.IDField]
	}
	after, err := c.source.Find(ctx, c.cfg.Name, engine.Query{
		Filters: map[string]any{engine.IDField: map[string]any{"$in": ids}},
	})
	if err != nil {
		c.logger.Warn("Failed to reload updated documents", zap.Error(err))
		after = before
	}
	c.fire(ctx, op, after)
	return n, nil
}

func (c *Collection) matching(ctx context.Context, filters map[string]any) ([]body.Document, error) {
	docs, err := c.source.Find(ctx, c.cfg.Name, engine.Query{Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.cfg.Name, err)
	}
	return docs, nil
}
