package body

import (
	"encoding/json"
	"time"
)

// Document is a row returned by an engine.
type Document = map[string]any

// DeepCopy copies maps, slices and bodies recursively. Functions and other
// scalars are returned as-is.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = DeepCopy(item)
		}
		return out
	case []map[string]any:
		if x == nil {
			return x
		}
		out := make([]map[string]any, len(x))
		for i, item := range x {
			out[i] = cloneMap(item)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case Sort:
		out := make(Sort, len(x))
		for i, f := range x {
			out[i] = SortField{Field: f.Field, Order: DeepCopy(f.Order)}
		}
		return out
	case Params:
		return Params(cloneMap(x))
	case *Object:
		return x.Clone()
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

// CloneMap deep-copies a plain mapping.
func CloneMap(m map[string]any) map[string]any {
	return cloneMap(m)
}

// MergeDeep merges src into dst and returns dst (allocated when nil). Nested
// mappings merge recursively; lists, functions and scalars overwrite.
func MergeDeep(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, sv := range src {
		sm, ok := sv.(map[string]any)
		if !ok {
			dst[k] = DeepCopy(sv)
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok {
			dm = nil
		}
		dst[k] = MergeDeep(dm, sm)
	}
	return dst
}

// ToFloat converts any Go or JSON number to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// IsSelectAll reports whether v is the "everything" selection: 1 or true.
func IsSelectAll(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	f, ok := ToFloat(v)
	return ok && f == 1
}

// IsScalar reports whether v is a string, bool, number or timestamp.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, time.Time:
		return true
	}
	_, ok := ToFloat(v)
	return ok
}
