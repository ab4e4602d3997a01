// Package query runs a body against one collection: compile, then resolve.
package query

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/nova/internal/compiler"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
	"github.com/kailas-cloud/nova/internal/validation"
)

// Collection is what a query needs from its collection.
type Collection interface {
	compiler.Meta
	engine.Schema
	Graph() *engine.Graph
}

// Query is a body bound to a collection and params.
type Query struct {
	coll      Collection
	body      *body.Object
	params    body.Params
	compiler  *compiler.Compiler
	validator validation.Validator
}

// Option configures a Query.
type Option func(*Query)

// WithCompiler sets the compiler. Defaults to compiler.New().
func WithCompiler(c *compiler.Compiler) Option {
	return func(q *Query) {
		if c != nil {
			q.compiler = c
		}
	}
}

// WithValidator sets a params check run by ValidateParams.
func WithValidator(v validation.Validator) Option {
	return func(q *Query) { q.validator = v }
}

// New creates a query. b is cloned.
func New(coll Collection, b *body.Object, params body.Params, opts ...Option) *Query {
	if b == nil {
		b = body.NewObject()
	}
	q := &Query{
		coll:   coll,
		body:   b.Clone(),
		params: params.Clone(),
	}
	for _, o := range opts {
		o(q)
	}
	if q.compiler == nil {
		q.compiler = compiler.New()
	}
	return q
}

// Collection returns the queried collection.
func (q *Query) Collection() Collection { return q.coll }

// Body returns the uncompiled body.
func (q *Query) Body() *body.Object { return q.body }

// Params returns the current params.
func (q *Query) Params() body.Params { return q.params }

// Clone returns an independent copy with params merged on top.
func (q *Query) Clone(params body.Params) *Query {
	return &Query{
		coll:      q.coll,
		body:      q.body.Clone(),
		params:    q.params.With(params),
		compiler:  q.compiler,
		validator: q.validator,
	}
}

// SetParams merges params into the current ones.
func (q *Query) SetParams(params body.Params) {
	if q.params == nil {
		q.params = body.Params{}
	}
	for k, v := range params {
		q.params[k] = v
	}
}

// ValidateParams runs the configured validator, if any.
func (q *Query) ValidateParams() error {
	if q.validator == nil {
		return nil
	}
	return q.validator(q.params)
}

// Compile prepares the body for execution.
func (q *Query) Compile() (*body.Object, error) {
	out, err := q.compiler.Prepare(q.coll, q.body, q.params)
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %w", q.coll.Name(), err)
	}
	return out, nil
}

// Fetch returns every matching document shaped by the body.
func (q *Query) Fetch(ctx context.Context) ([]body.Document, error) {
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}
	return q.coll.Graph().Fetch(ctx, q.coll, compiled, q.params)
}

// FetchOne returns the first matching document, or nil.
func (q *Query) FetchOne(ctx context.Context) (body.Document, error) {
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}
	if compiled.Compiled == nil {
		compiled.Compiled = &body.Compiled{}
	}
	if compiled.Compiled.Options == nil {
		compiled.Compiled.Options = map[string]any{}
	}
	compiled.Compiled.Options["limit"] = 1

	docs, err := q.coll.Graph().Fetch(ctx, q.coll, compiled, q.params)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count counts documents matching the compiled root filters.
func (q *Query) Count(ctx context.Context) (int64, error) {
	compiled, err := q.Compile()
	if err != nil {
		return 0, err
	}
	var filters map[string]any
	if compiled.Compiled != nil {
		filters = compiled.Compiled.Filters
	}
	return q.coll.Graph().Count(ctx, q.coll, filters)
}
