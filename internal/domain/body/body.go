// Package body defines the query body tree: field selection, relations and
// compile-time directives, resolved once at parse time.
package body

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/nova/internal/domain"
)

// Directive keys recognised at any node.
const (
	KeyFilters     = "$filters"
	KeyOptions     = "$options"
	KeyFilter      = "$filter"
	KeySearch      = "$search"
	KeyPaginate    = "$paginate"
	KeyFiltering   = "$filtering"
	KeyPostFilters = "$postFilters"
	KeyPostOptions = "$postOptions"
	KeyPostFilter  = "$postFilter"
	KeyCompiled    = "$"
)

var postKeys = []string{KeyPostFilters, KeyPostOptions, KeyPostFilter}

// IsDirective reports whether key is reserved for directives rather than fields.
func IsDirective(key string) bool {
	return strings.HasPrefix(key, "$")
}

// Node is one entry of a body tree: either a *Object or a Leaf.
type Node interface {
	isNode()
}

// Leaf is a plain field selection (usually 1 or true).
type Leaf struct {
	Value any
}

func (Leaf) isNode() {}

// FilterArgs is handed to every $filter function. Filters and Options are
// mutated in place.
type FilterArgs struct {
	Filters map[string]any
	Options map[string]any
	Params  Params
}

// FilterFunc is a compile-time filter strategy.
type FilterFunc func(args FilterArgs)

// Compiled holds the folded filters and options of a node after compilation.
type Compiled struct {
	Filters map[string]any
	Options map[string]any
}

// Object is a root or relation node.
type Object struct {
	Fields map[string]Node

	Filters   map[string]any
	Options   map[string]any
	Filter    []FilterFunc
	Search    *SearchSpec
	Paginate  bool
	Filtering bool
	// Post carries $postFilters, $postOptions and $postFilter verbatim.
	Post     map[string]any
	Compiled *Compiled
}

func (*Object) isNode() {}

// NewObject returns an empty node.
func NewObject() *Object {
	return &Object{Fields: map[string]Node{}}
}

// Parse converts a loosely typed tree (decoded JSON or YAML, or a Go literal)
// into a typed body.
func Parse(m map[string]any) (*Object, error) {
	return parseObject(m, "")
}

// MustParse is Parse for literals known to be valid.
func MustParse(m map[string]any) *Object {
	o, err := Parse(m)
	if err != nil {
		panic(err)
	}
	return o
}

func parseObject(m map[string]any, path string) (*Object, error) {
	o := NewObject()
	for key, raw := range m {
		at := joinPath(path, key)
		if !IsDirective(key) {
			n, err := parseNode(raw, at)
			if err != nil {
				return nil, err
			}
			o.Fields[key] = n
			continue
		}
		if err := o.setDirective(key, raw, at); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func parseNode(raw any, path string) (Node, error) {
	switch v := raw.(type) {
	case *Object:
		return v, nil
	case Leaf:
		return v, nil
	case map[string]any:
		return parseObject(v, path)
	default:
		return Leaf{Value: raw}, nil
	}
}

func (o *Object) setDirective(key string, raw any, path string) error {
	switch key {
	case KeyFilters:
		m, err := asMap(raw, path)
		if err != nil {
			return err
		}
		o.Filters = m
	case KeyOptions:
		m, err := asMap(raw, path)
		if err != nil {
			return err
		}
		o.Options = m
	case KeyFilter:
		fns, err := asFilterFuncs(raw, path)
		if err != nil {
			return err
		}
		o.Filter = fns
	case KeySearch:
		s, err := ParseSearch(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrInvalidBody, path, err)
		}
		o.Search = s
	case KeyPaginate:
		o.Paginate = truthy(raw)
	case KeyFiltering:
		o.Filtering = truthy(raw)
	case KeyPostFilters, KeyPostOptions, KeyPostFilter:
		if o.Post == nil {
			o.Post = map[string]any{}
		}
		o.Post[key] = DeepCopy(raw)
	case KeyCompiled:
		m, err := asMap(raw, path)
		if err != nil {
			return err
		}
		c := &Compiled{}
		if f, ok := m["filters"].(map[string]any); ok {
			c.Filters = f
		}
		if opt, ok := m["options"].(map[string]any); ok {
			c.Options = opt
		}
		o.Compiled = c
	default:
		return fmt.Errorf("%w: %s: unknown directive", domain.ErrInvalidBody, path)
	}
	return nil
}

func asMap(raw any, path string) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %s: expected an object, got %T", domain.ErrInvalidBody, path, raw)
	}
}

func asFilterFuncs(raw any, path string) ([]FilterFunc, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case FilterFunc:
		return []FilterFunc{v}, nil
	case func(FilterArgs):
		return []FilterFunc{v}, nil
	case []FilterFunc:
		return append([]FilterFunc(nil), v...), nil
	case []any:
		fns := make([]FilterFunc, 0, len(v))
		for i, item := range v {
			switch fn := item.(type) {
			case FilterFunc:
				fns = append(fns, fn)
			case func(FilterArgs):
				fns = append(fns, fn)
			default:
				return nil, fmt.Errorf("%w: %s[%d]: expected a filter function, got %T",
					domain.ErrInvalidBody, path, i, item)
			}
		}
		return fns, nil
	default:
		return nil, fmt.Errorf("%w: %s: expected a filter function, got %T", domain.ErrInvalidBody, path, raw)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	default:
		f, ok := ToFloat(v)
		return !ok || f != 0
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// Relations returns the child objects of o, keyed by field name.
func (o *Object) Relations() map[string]*Object {
	out := make(map[string]*Object)
	for k, n := range o.Fields {
		if child, ok := n.(*Object); ok {
			out[k] = child
		}
	}
	return out
}

// FieldNames returns the selected field names in sorted order.
func (o *Object) FieldNames() []string {
	names := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// EnsureFilters returns o.Filters, creating it when absent.
func (o *Object) EnsureFilters() map[string]any {
	if o.Filters == nil {
		o.Filters = map[string]any{}
	}
	return o.Filters
}

// EnsureOptions returns o.Options, creating it when absent.
func (o *Object) EnsureOptions() map[string]any {
	if o.Options == nil {
		o.Options = map[string]any{}
	}
	return o.Options
}

// HasFilter reports whether key is set either in $filters or in the compiled block.
func (o *Object) HasFilter(key string) bool {
	if _, ok := o.Filters[key]; ok {
		return true
	}
	if o.Compiled != nil {
		if _, ok := o.Compiled.Filters[key]; ok {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Filter functions are shared.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{
		Fields:    make(map[string]Node, len(o.Fields)),
		Filters:   cloneMap(o.Filters),
		Options:   cloneMap(o.Options),
		Search:    o.Search.Clone(),
		Paginate:  o.Paginate,
		Filtering: o.Filtering,
		Post:      cloneMap(o.Post),
	}
	if o.Filter != nil {
		c.Filter = append([]FilterFunc(nil), o.Filter...)
	}
	if o.Compiled != nil {
		c.Compiled = &Compiled{
			Filters: cloneMap(o.Compiled.Filters),
			Options: cloneMap(o.Compiled.Options),
		}
	}
	for k, n := range o.Fields {
		switch v := n.(type) {
		case *Object:
			c.Fields[k] = v.Clone()
		case Leaf:
			c.Fields[k] = Leaf{Value: DeepCopy(v.Value)}
		}
	}
	return c
}

// Map renders the tree back into plain maps. Filter functions are not
// representable and are omitted.
func (o *Object) Map() map[string]any {
	out := make(map[string]any, len(o.Fields)+4)
	for k, n := range o.Fields {
		switch v := n.(type) {
		case *Object:
			out[k] = v.Map()
		case Leaf:
			out[k] = DeepCopy(v.Value)
		}
	}
	if o.Filters != nil {
		out[KeyFilters] = cloneMap(o.Filters)
	}
	if o.Options != nil {
		out[KeyOptions] = cloneMap(o.Options)
	}
	if o.Search != nil {
		out[KeySearch] = o.Search.Map()
	}
	if o.Paginate {
		out[KeyPaginate] = true
	}
	if o.Filtering {
		out[KeyFiltering] = true
	}
	for _, k := range postKeys {
		if v, ok := o.Post[k]; ok {
			out[k] = DeepCopy(v)
		}
	}
	if o.Compiled != nil {
		c := map[string]any{}
		if o.Compiled.Filters != nil {
			c["filters"] = cloneMap(o.Compiled.Filters)
		}
		if o.Compiled.Options != nil {
			c["options"] = cloneMap(o.Compiled.Options)
		}
		out[KeyCompiled] = c
	}
	return out
}

// Merge deep-merges a fragment into o. Objects merge recursively; anything
// else overwrites.
func (o *Object) Merge(fragment map[string]any) error {
	src, err := Parse(fragment)
	if err != nil {
		return err
	}
	mergeObject(o, src)
	return nil
}

func mergeObject(dst, src *Object) {
	for k, sv := range src.Fields {
		so, srcIsObj := sv.(*Object)
		do, dstIsObj := dst.Fields[k].(*Object)
		if srcIsObj && dstIsObj {
			mergeObject(do, so)
			continue
		}
		dst.Fields[k] = sv
	}
	if src.Filters != nil {
		dst.Filters = MergeDeep(dst.Filters, src.Filters)
	}
	if src.Options != nil {
		dst.Options = MergeDeep(dst.Options, src.Options)
	}
	if src.Post != nil {
		dst.Post = MergeDeep(dst.Post, src.Post)
	}
	if len(src.Filter) > 0 {
		dst.Filter = src.Filter
	}
	if src.Search != nil {
		dst.Search = src.Search
	}
	dst.Paginate = dst.Paginate || src.Paginate
	dst.Filtering = dst.Filtering || src.Filtering
	if src.Compiled != nil {
		if dst.Compiled == nil {
			dst.Compiled = &Compiled{}
		}
		if src.Compiled.Filters != nil {
			dst.Compiled.Filters = MergeDeep(dst.Compiled.Filters, src.Compiled.Filters)
		}
		if src.Compiled.Options != nil {
			dst.Compiled.Options = MergeDeep(dst.Compiled.Options, src.Compiled.Options)
		}
	}
}
