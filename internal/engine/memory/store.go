// Package memory is an in-process engine.Source used by tests and by the
// memory database driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
)

var _ engine.Source = (*Store)(nil)

// Store keeps documents per collection in insertion order.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]body.Document
}

// New creates an empty Store.
func New() *Store {
	return &Store{collections: make(map[string][]body.Document)}
}

// Find implements engine.Source.
func (s *Store) Find(_ context.Context, collection string, q engine.Query) ([]body.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.filter(collection, q.Filters)
	if err != nil {
		return nil, err
	}
	sortDocuments(matched, q.Sort)

	if q.Skip > 0 {
		if q.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && q.Limit < int64(len(matched)) {
		matched = matched[:q.Limit]
	}

	out := make([]body.Document, len(matched))
	for i, doc := range matched {
		out[i] = engine.Project(body.CloneMap(doc), q.Fields)
	}
	return out, nil
}

// Count implements engine.Source.
func (s *Store) Count(_ context.Context, collection string, filters map[string]any) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.filter(collection, filters)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Insert implements engine.Source. Documents without _id get a UUID.
func (s *Store) Insert(_ context.Context, collection string, doc body.Document) (any, error) {
	stored := body.CloneMap(doc)
	if stored == nil {
		stored = body.Document{}
	}
	id, ok := stored[engine.IDField]
	if !ok || id == nil {
		id = uuid.NewString()
		stored[engine.IDField] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collections[collection] {
		if equal(existing[engine.IDField], id) {
			return nil, fmt.Errorf("insert %s: duplicate _id %v", collection, id)
		}
	}
	s.collections[collection] = append(s.collections[collection], stored)
	return id, nil
}

// Update implements engine.Source. The modifier is either an operator
// document ($set, $unset, $inc) or a replacement.
func (s *Store) Update(_ context.Context, collection string, filters, modifier map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i, doc := range s.collections[collection] {
		ok, err := match(doc, filters)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		updated, err := applyModifier(doc, modifier)
		if err != nil {
			return n, fmt.Errorf("update %s: %w", collection, err)
		}
		s.collections[collection][i] = updated
		n++
	}
	return n, nil
}

// Delete implements engine.Source.
func (s *Store) Delete(_ context.Context, collection string, filters map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	kept := docs[:0]
	var n int64
	for _, doc := range docs {
		ok, err := match(doc, filters)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return n, nil
}

func (s *Store) filter(collection string, filters map[string]any) ([]body.Document, error) {
	var out []body.Document
	for _, doc := range s.collections[collection] {
		ok, err := match(doc, filters)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", collection, err)
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func applyModifier(doc body.Document, modifier map[string]any) (body.Document, error) {
	if _, ok := operatorDoc(modifier); !ok {
		replaced := body.CloneMap(modifier)
		if replaced == nil {
			replaced = body.Document{}
		}
		replaced[engine.IDField] = doc[engine.IDField]
		return replaced, nil
	}

	out := body.CloneMap(doc)
	for op, arg := range modifier {
		fields, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s expects an object, got %T", op, arg)
		}
		for path, v := range fields {
			switch op {
			case "$set":
				setPath(out, path, body.DeepCopy(v))
			case "$unset":
				unsetPath(out, path)
			case "$inc":
				cur, _ := engine.Lookup(out, path)
				a, _ := body.ToFloat(cur)
				b, ok := body.ToFloat(v)
				if !ok {
					return nil, fmt.Errorf("$inc %s: not a number", path)
				}
				setPath(out, path, a+b)
			default:
				return nil, fmt.Errorf("unsupported update operator %s", op)
			}
		}
	}
	return out, nil
}

func setPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func unsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// sortDocuments orders docs in place. Entries whose order is not a plain
// direction ($meta scores) are ignored.
func sortDocuments(docs []body.Document, spec body.Sort) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range spec {
			dir := f.Direction()
			if dir == 0 {
				continue
			}
			a, _ := engine.Lookup(docs[i], f.Field)
			b, _ := engine.Lookup(docs[j], f.Field)
			if c := compareValues(a, b); c != 0 {
				return c*dir < 0
			}
		}
		return false
	})
}
