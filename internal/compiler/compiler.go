// Package compiler turns a query body plus caller params into the compiled
// shape handed to an engine.
package compiler

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// DefaultSearchEnv prefixes external search index names when no env is configured.
const DefaultSearchEnv = "BETA"

// SoftDeleteField is the flag injected for soft-delete collections.
const SoftDeleteField = "isDeleted"

// Meta describes the collection a body node reads from.
type Meta interface {
	SoftDeleteEnabled() bool
	Related(field string) (Meta, bool)
}

// Compiler runs the fixed normalisation pipeline.
type Compiler struct {
	env    string
	logger *zap.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithSearchEnv sets the environment prefix of external search indexes.
func WithSearchEnv(env string) Option {
	return func(c *Compiler) {
		if env != "" {
			c.env = env
		}
	}
}

// WithLogger sets the logger receiving compilation warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{env: DefaultSearchEnv, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Prepare compiles b against params. Neither argument is modified. meta may be
// nil, in which case soft-delete injection is skipped.
func (c *Compiler) Prepare(meta Meta, b *body.Object, params body.Params) (*body.Object, error) {
	out := b.Clone()
	p := params.Clone()

	adhoc := applyFiltering(out, p)
	applyPagination(out, p)
	applyFilterRecursive(out, p, true, adhoc)
	applySoftDelete(meta, out)
	if err := c.applySearchRecursive(out, p); err != nil {
		return nil, err
	}
	c.fixBody(out, "root", true)

	return out, nil
}

// applyFiltering injects params.filters when the root carries $filtering.
func applyFiltering(o *body.Object, p body.Params) bool {
	if !o.Filtering {
		return false
	}
	o.Filtering = false

	filters := o.EnsureFilters()
	for key, v := range p.Map(body.ParamFilters) {
		list, ok := asList(v)
		if !ok {
			filters[key] = v
			continue
		}
		switch len(list) {
		case 0:
		case 1:
			filters[key] = list[0]
		default:
			filters[key] = map[string]any{"$in": list}
		}
	}
	return true
}

func applyPagination(o *body.Object, p body.Params) {
	if !o.Paginate {
		return
	}
	o.Paginate = false

	opts := o.EnsureOptions()
	if limit, ok := p.Int(body.ParamLimit); ok && limit != 0 {
		opts["limit"] = limit
	}
	if skip, ok := p.Int(body.ParamSkip); ok && skip != 0 {
		opts["skip"] = skip
	}
}

func applyFilterRecursive(o *body.Object, p body.Params, isRoot, adhoc bool) {
	if isRoot && len(o.Filter) == 0 && o.Compiled == nil {
		o.Filter = []body.FilterFunc{defaultFilter(!adhoc)}
	}

	if len(o.Filter) > 0 {
		args := body.FilterArgs{
			Filters: o.EnsureFilters(),
			Options: o.EnsureOptions(),
			Params:  p,
		}
		for _, fn := range o.Filter {
			fn(args)
		}
		o.Filter = nil
	}

	for _, child := range o.Relations() {
		applyFilterRecursive(child, p, false, adhoc)
	}
}

// defaultFilter merges params.filters and params.options into the root.
// Filters already injected by $filtering are not merged a second time.
func defaultFilter(mergeFilters bool) body.FilterFunc {
	return func(args body.FilterArgs) {
		if mergeFilters {
			for k, v := range args.Params.Map(body.ParamFilters) {
				args.Filters[k] = v
			}
		}
		for k, v := range args.Params.Map(body.ParamOptions) {
			args.Options[k] = v
		}
	}
}

func applySoftDelete(meta Meta, o *body.Object) {
	if meta == nil {
		return
	}
	if meta.SoftDeleteEnabled() && !o.HasFilter(SoftDeleteField) {
		o.EnsureFilters()[SoftDeleteField] = false
	}
	for name, child := range o.Relations() {
		if related, ok := meta.Related(name); ok {
			applySoftDelete(related, child)
		}
	}
}

func (c *Compiler) applySearchRecursive(o *body.Object, p body.Params) error {
	if err := c.applySearch(o, p); err != nil {
		return err
	}
	for _, child := range o.Relations() {
		if err := c.applySearchRecursive(child, p); err != nil {
			return err
		}
	}
	return nil
}

// fixBody folds $filters and $options into the compiled block.
func (c *Compiler) fixBody(o *body.Object, key string, isRoot bool) {
	if o.Filters != nil || o.Options != nil {
		if o.Compiled == nil {
			o.Compiled = &body.Compiled{}
		}
		if o.Filters != nil {
			o.Compiled.Filters = assign(o.Compiled.Filters, o.Filters)
			o.Filters = nil
		}
		if o.Options != nil {
			o.Compiled.Options = assign(o.Compiled.Options, o.Options)
			o.Options = nil
		}
	}

	if !isRoot && o.Compiled != nil {
		if limit, ok := o.Compiled.Options["limit"]; ok && limit != nil {
			c.logger.Warn("limit in a link will make the query slower", zap.String("link", key))
		}
	}

	for name, child := range o.Relations() {
		c.fixBody(child, name, false)
	}
}

func assign(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// asList reports whether v is a list (other than a byte slice) and returns its items.
func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
