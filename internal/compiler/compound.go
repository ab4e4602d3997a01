package compiler

import (
	"slices"
	"sort"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// Compound holds the structured clauses of an external search stage.
type Compound struct {
	Filter  []any
	MustNot []any
}

var rangeBounds = []struct{ op, name string }{
	{"$gt", "gt"},
	{"$gte", "gte"},
	{"$lt", "lt"},
	{"$lte", "lte"},
}

// ToCompound translates the predicates it recognises into search clauses and
// deletes them from filters. Anything else is left in place. Keys are visited
// in sorted order so the output is deterministic.
func ToCompound(filters map[string]any) Compound {
	out := Compound{Filter: []any{}, MustNot: []any{}}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if body.IsDirective(key) {
			continue
		}
		clause, negate, ok := translate(key, filters[key])
		if !ok {
			continue
		}
		if negate {
			out.MustNot = append(out.MustNot, clause)
		} else {
			out.Filter = append(out.Filter, clause)
		}
		delete(filters, key)
	}
	return out
}

func translate(path string, v any) (clause map[string]any, negate, ok bool) {
	if body.IsScalar(v) {
		return equals(path, v), false, true
	}

	ops, isMap := v.(map[string]any)
	if !isMap || len(ops) == 0 {
		return nil, false, false
	}

	if onlyKeys(ops, "$gt", "$gte", "$lt", "$lte") {
		r := map[string]any{"path": path}
		for _, b := range rangeBounds {
			if bound, present := ops[b.op]; present {
				r[b.name] = bound
			}
		}
		return map[string]any{"range": r}, false, true
	}
	if len(ops) != 1 {
		return nil, false, false
	}

	switch {
	case has(ops, "$in"):
		if list, isList := asList(ops["$in"]); isList {
			return in(path, list), false, true
		}
	case has(ops, "$nin"):
		if list, isList := asList(ops["$nin"]); isList {
			return in(path, list), true, true
		}
	case has(ops, "$exists"):
		if exists, isBool := ops["$exists"].(bool); isBool {
			return map[string]any{"exists": map[string]any{"path": path}}, !exists, true
		}
	case has(ops, "$ne"):
		if body.IsScalar(ops["$ne"]) {
			return equals(path, ops["$ne"]), true, true
		}
	case has(ops, "$eq"):
		if body.IsScalar(ops["$eq"]) {
			return equals(path, ops["$eq"]), false, true
		}
	}
	return nil, false, false
}

func equals(path string, v any) map[string]any {
	return map[string]any{"equals": map[string]any{"value": v, "path": path}}
}

func in(path string, values []any) map[string]any {
	return map[string]any{"in": map[string]any{"path": path, "value": values}}
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func onlyKeys(m map[string]any, allowed ...string) bool {
	for k := range m {
		if !slices.Contains(allowed, k) {
			return false
		}
	}
	return true
}
