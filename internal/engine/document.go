package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// Lookup resolves a dotted path inside doc. Lists along the path are fanned
// out, so "tags.name" over a list of objects yields a list of names.
func Lookup(doc map[string]any, path string) (any, bool) {
	return lookup(doc, strings.Split(path, "."))
}

func lookup(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	switch x := v.(type) {
	case map[string]any:
		next, ok := x[parts[0]]
		if !ok {
			return nil, false
		}
		return lookup(next, parts[1:])
	case []any:
		var out []any
		for _, item := range x {
			if got, ok := lookup(item, parts); ok {
				out = append(out, got)
			}
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// Project keeps only the given dotted paths of doc (plus _id).
func Project(doc map[string]any, fields []string) map[string]any {
	if fields == nil {
		return doc
	}
	out := make(map[string]any, len(fields)+1)
	if id, ok := doc[IDField]; ok {
		out[IDField] = id
	}
	for _, f := range fields {
		copyPath(out, doc, strings.Split(f, "."))
	}
	return out
}

func copyPath(dst, src map[string]any, parts []string) {
	v, ok := src[parts[0]]
	if !ok {
		return
	}
	if len(parts) == 1 {
		dst[parts[0]] = v
		return
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return
	}
	target, ok := dst[parts[0]].(map[string]any)
	if !ok {
		target = map[string]any{}
		dst[parts[0]] = target
	}
	copyPath(target, nested, parts[1:])
}

// Flatten turns a value into the list of scalars it holds: lists are
// expanded, nil is dropped.
func Flatten(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		var out []any
		for _, item := range l {
			out = append(out, Flatten(item)...)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, Flatten(rv.Index(i).Interface())...)
		}
		return out
	}
	return []any{v}
}

// KeyOf returns a comparable identity for a join value. Numbers of any Go
// type compare by value.
func KeyOf(v any) string {
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	if f, ok := body.ToFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return fmt.Sprintf("%T:%s", v, s.String())
	}
	return fmt.Sprintf("%T:%v", v, v)
}
