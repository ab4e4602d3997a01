package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
)

// Graph resolves a compiled body: one query for the root, then one batched
// $in query per relation and level.
type Graph struct {
	source  Source
	catalog Catalog
	logger  *zap.Logger
}

// NewGraph creates a resolver over source. logger may be nil.
func NewGraph(source Source, catalog Catalog, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{source: source, catalog: catalog, logger: logger}
}

// Source returns the underlying document source.
func (g *Graph) Source() Source { return g.source }

// Fetch runs root against the collection described by s.
func (g *Graph) Fetch(ctx context.Context, s Schema, root *body.Object, params body.Params) ([]body.Document, error) {
	p, err := g.plan(s, root, false)
	if err != nil {
		return nil, err
	}

	q := p.query()
	docs, err := g.source.Find(ctx, s.Name(), q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", s.Name(), err)
	}
	if err := g.complete(ctx, p, docs, params); err != nil {
		return nil, err
	}
	p.prune(docs)
	return docs, nil
}

// Count counts documents of s matching filters.
func (g *Graph) Count(ctx context.Context, s Schema, filters map[string]any) (int64, error) {
	n, err := g.source.Count(ctx, s.Name(), filters)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.Name(), err)
	}
	return n, nil
}

type relation struct {
	name  string
	link  Link
	via   Link // the target's direct link, for inverse relations
	child *plan
}

type plan struct {
	schema    Schema
	exec      *body.Object
	keep      map[string]bool
	all       bool
	fields    []string
	relations []relation
	reducers  []string
}

func (g *Graph) plan(s Schema, o *body.Object, all bool) (*plan, error) {
	p := &plan{schema: s, all: all, keep: map[string]bool{IDField: true}}
	if o == nil {
		o = body.NewObject()
	}
	for name := range o.Fields {
		p.keep[name] = true
	}

	exec, reducers, err := expandReducers(s, o)
	if err != nil {
		return nil, err
	}
	p.exec = exec
	p.reducers = reducers

	fields := map[string]bool{IDField: true}
	for _, name := range exec.FieldNames() {
		node := exec.Fields[name]
		link, isLink := s.Link(name)
		if !isLink {
			addProjection(fields, name, node)
			continue
		}

		var child *body.Object
		childAll := false
		switch n := node.(type) {
		case *body.Object:
			child = n
		case body.Leaf:
			if !body.IsSelectAll(n.Value) {
				continue
			}
			childAll = true
		}

		rel, err := g.relation(s, name, link, child, childAll)
		if err != nil {
			return nil, err
		}
		if link.IsInverse() {
			fields[rel.via.Foreign()] = true
		} else {
			fields[link.Field] = true
		}
		p.relations = append(p.relations, rel)
	}

	if !all {
		p.fields = make([]string, 0, len(fields))
		for f := range fields {
			p.fields = append(p.fields, f)
		}
		sort.Strings(p.fields)
	}
	return p, nil
}

func (g *Graph) relation(s Schema, name string, link Link, child *body.Object, all bool) (relation, error) {
	target, ok := g.catalog.Schema(link.Collection)
	if !ok {
		return relation{}, fmt.Errorf("link %s.%s: %w: %s", s.Name(), name, domain.ErrCollectionNotFound, link.Collection)
	}
	rel := relation{name: name, link: link}
	if link.IsInverse() {
		via, ok := target.Link(link.InversedBy)
		if !ok || via.IsInverse() {
			return relation{}, fmt.Errorf("link %s.%s: %s has no direct link %q",
				s.Name(), name, target.Name(), link.InversedBy)
		}
		rel.via = via
	}
	cp, err := g.plan(target, child, all)
	if err != nil {
		return relation{}, err
	}
	rel.child = cp
	return rel, nil
}

// expandReducers replaces reducer fields with their dependencies.
func expandReducers(s Schema, o *body.Object) (*body.Object, []string, error) {
	exec := o.Clone()
	seen := map[string]bool{}
	var names []string

	for {
		var pending []string
		for name := range exec.Fields {
			if _, ok := s.Reducer(name); ok && !seen[name] {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			break
		}
		sort.Strings(pending)
		for _, name := range pending {
			seen[name] = true
			names = append(names, name)
			r, _ := s.Reducer(name)
			delete(exec.Fields, name)
			if r.Dependency == nil {
				continue
			}
			if err := exec.Merge(r.Dependency); err != nil {
				return nil, nil, fmt.Errorf("reducer %s.%s: %w", s.Name(), name, err)
			}
		}
	}
	// Dependencies may have re-added a reducer name as a plain field.
	for _, name := range names {
		delete(exec.Fields, name)
	}
	return exec, names, nil
}

func addProjection(fields map[string]bool, name string, node body.Node) {
	switch n := node.(type) {
	case body.Leaf:
		if body.IsSelectAll(n.Value) {
			fields[name] = true
		}
	case *body.Object:
		if len(n.Fields) == 0 {
			fields[name] = true
			return
		}
		for _, sub := range n.FieldNames() {
			addProjection(fields, name+"."+sub, n.Fields[sub])
		}
	}
}

func (p *plan) query() Query {
	q := Query{Fields: p.fields}
	if c := p.exec.Compiled; c != nil {
		q.Filters = body.CloneMap(c.Filters)
		q.Sort = body.SortOf(c.Options["sort"])
		opts := body.Params(c.Options)
		q.Limit, _ = opts.Int("limit")
		q.Skip, _ = opts.Int("skip")
	}
	return q
}

func (g *Graph) complete(ctx context.Context, p *plan, docs []body.Document, params body.Params) error {
	if len(docs) == 0 {
		return nil
	}
	for _, rel := range p.relations {
		if err := g.resolve(ctx, rel, docs, params); err != nil {
			return err
		}
	}
	for _, name := range p.reducers {
		r, _ := p.schema.Reducer(name)
		if r.Reduce == nil {
			continue
		}
		for _, doc := range docs {
			v, err := r.Reduce(ctx, doc, params)
			if err != nil {
				return fmt.Errorf("reducer %s.%s: %w", p.schema.Name(), name, err)
			}
			doc[name] = v
		}
	}
	return nil
}

func (p *plan) prune(docs []body.Document) {
	if p.all {
		return
	}
	for _, doc := range docs {
		for k := range doc {
			if !p.keep[k] {
				delete(doc, k)
			}
		}
	}
}

func (g *Graph) resolve(ctx context.Context, rel relation, parents []body.Document, params body.Params) error {
	// Parent side key and child side key of the join.
	parentKey, childKey := rel.link.Field, rel.link.Foreign()
	if rel.link.IsInverse() {
		parentKey, childKey = rel.via.Foreign(), rel.via.Field
	}

	values := collect(parents, parentKey)
	children, err := g.fetchChildren(ctx, rel, childKey, values, params)
	if err != nil {
		return err
	}

	// Index children by every key they can be joined on.
	byKey := make(map[string][]int)
	for i, doc := range children {
		v, _ := Lookup(doc, childKey)
		for _, k := range uniqueKeys(Flatten(v)) {
			byKey[k] = append(byKey[k], i)
		}
	}
	rel.child.prune(children)

	single := !rel.link.Many
	if rel.link.IsInverse() {
		single = rel.link.Unique
	}
	opts := body.Params(nil)
	if c := rel.child.exec.Compiled; c != nil {
		opts = body.Params(c.Options)
	}
	limit, _ := opts.Int("limit")
	skip, _ := opts.Int("skip")

	for _, parent := range parents {
		v, _ := Lookup(parent, parentKey)
		matched := matchChildren(children, byKey, Flatten(v))
		if single {
			if len(matched) > 0 {
				parent[rel.name] = matched[0]
			}
			continue
		}
		parent[rel.name] = paginate(matched, skip, limit)
	}
	return nil
}

func (g *Graph) fetchChildren(
	ctx context.Context, rel relation, childKey string, values []any, params body.Params,
) ([]body.Document, error) {
	if len(values) == 0 {
		return nil, nil
	}
	q := rel.child.query()
	q.Skip, q.Limit = 0, 0

	join := map[string]any{"$in": values}
	if q.Filters == nil {
		q.Filters = map[string]any{}
	}
	if _, clash := q.Filters[childKey]; clash {
		q.Filters = map[string]any{"$and": []any{q.Filters, map[string]any{childKey: join}}}
	} else {
		q.Filters[childKey] = join
	}
	if q.Fields != nil {
		q.Fields = append(append([]string(nil), q.Fields...), childKey)
	}

	collection := rel.child.schema.Name()
	docs, err := g.source.Find(ctx, collection, q)
	if err != nil {
		return nil, fmt.Errorf("find %s for %s: %w", collection, rel.name, err)
	}
	if err := g.complete(ctx, rel.child, docs, params); err != nil {
		return nil, err
	}
	return docs, nil
}

// matchChildren returns the children joined to any of keys, in result order.
func matchChildren(children []body.Document, byKey map[string][]int, keys []any) []body.Document {
	if len(keys) == 0 {
		return []body.Document{}
	}
	idx := map[int]bool{}
	for _, k := range uniqueKeys(keys) {
		for _, i := range byKey[k] {
			idx[i] = true
		}
	}
	order := make([]int, 0, len(idx))
	for i := range idx {
		order = append(order, i)
	}
	sort.Ints(order)

	out := make([]body.Document, len(order))
	for j, i := range order {
		out[j] = children[i]
	}
	return out
}

func paginate(docs []body.Document, skip, limit int64) []body.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return []body.Document{}
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

func collect(docs []body.Document, path string) []any {
	seen := map[string]bool{}
	var out []any
	for _, doc := range docs {
		v, _ := Lookup(doc, path)
		for _, item := range Flatten(v) {
			k := KeyOf(item)
			if !seen[k] {
				seen[k] = true
				out = append(out, item)
			}
		}
	}
	return out
}

func uniqueKeys(values []any) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		k := KeyOf(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
