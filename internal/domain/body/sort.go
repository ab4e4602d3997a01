package body

import "sort"

// SortField is one key of an ordered sort specification.
type SortField struct {
	Field string
	Order any
}

// Sort is an ordered sort specification.
type Sort []SortField

// SortOf normalises a sort option. Mappings have no order of their own and are
// sorted by key; lists of single-key mappings keep their order.
func SortOf(v any) Sort {
	switch s := v.(type) {
	case nil:
		return nil
	case Sort:
		return s
	case []SortField:
		return Sort(s)
	case map[string]any:
		return sortedMap(s)
	case []any:
		var out Sort
		for _, item := range s {
			if m, ok := item.(map[string]any); ok {
				out = append(out, sortedMap(m)...)
			}
		}
		return out
	case []map[string]any:
		var out Sort
		for _, m := range s {
			out = append(out, sortedMap(m)...)
		}
		return out
	default:
		return nil
	}
}

func sortedMap(m map[string]any) Sort {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Sort, 0, len(keys))
	for _, k := range keys {
		out = append(out, SortField{Field: k, Order: m[k]})
	}
	return out
}

// Prepend returns a new sort with f first, dropping any later entry for the same field.
func (s Sort) Prepend(f SortField) Sort {
	out := Sort{f}
	for _, sf := range s {
		if sf.Field != f.Field {
			out = append(out, sf)
		}
	}
	return out
}

// Direction returns 1 or -1 for plain ascending/descending entries and 0 otherwise.
func (f SortField) Direction() int {
	n, ok := ToFloat(f.Order)
	if !ok {
		return 0
	}
	if n < 0 {
		return -1
	}
	return 1
}
