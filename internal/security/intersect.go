// Package security narrows client-requested bodies to what the server allows.
package security

import (
	"github.com/kailas-cloud/nova/internal/domain/body"
)

// Intersect returns the largest body that is a structural subset of allowed
// and was requested by client. Directives are never taken from the client;
// the allowed body's directives are kept instead.
func Intersect(allowed *body.Object, client map[string]any) *body.Object {
	out := intersectFields(allowed, client)
	copyDirectives(out, allowed)
	return out
}

// IntersectMap is Intersect over plain maps.
func IntersectMap(allowed, client map[string]any) (map[string]any, error) {
	a, err := body.Parse(allowed)
	if err != nil {
		return nil, err
	}
	return Intersect(a, client).Map(), nil
}

func intersectFields(allowed *body.Object, client map[string]any) *body.Object {
	out := body.NewObject()

	for field, clientValue := range client {
		if body.IsDirective(field) {
			continue
		}

		switch serverValue := allowed.Fields[field].(type) {
		case body.Leaf:
			if body.IsSelectAll(serverValue.Value) && isValidClientValue(clientValue) {
				out.Fields[field] = selection(clientValue)
			}
		case *body.Object:
			if cm, ok := clientValue.(map[string]any); ok {
				child := intersectFields(serverValue, cm)
				copyDirectives(child, serverValue)
				out.Fields[field] = child
			} else if body.IsSelectAll(clientValue) {
				out.Fields[field] = serverValue.Clone()
			}
		}
	}
	return out
}

// copyDirectives carries a permitted sub-relation's own constraints over, so
// narrowing a relation never drops the server's filters on it.
func copyDirectives(dst, src *body.Object) {
	dst.Filters = body.CloneMap(src.Filters)
	dst.Options = body.CloneMap(src.Options)
	dst.Search = src.Search.Clone()
	dst.Paginate = src.Paginate
	dst.Filtering = src.Filtering
	dst.Post = body.CloneMap(src.Post)
	if src.Filter != nil {
		dst.Filter = append([]body.FilterFunc(nil), src.Filter...)
	}
	if src.Compiled != nil {
		dst.Compiled = &body.Compiled{
			Filters: body.CloneMap(src.Compiled.Filters),
			Options: body.CloneMap(src.Compiled.Options),
		}
	}
}

// isValidClientValue accepts 1/true, or an object of plain field names whose
// every leaf is valid.
func isValidClientValue(v any) bool {
	if m, ok := v.(map[string]any); ok {
		for k, nested := range m {
			if body.IsDirective(k) || !isValidClientValue(nested) {
				return false
			}
		}
		return true
	}
	return body.IsSelectAll(v)
}

func selection(v any) body.Node {
	m, ok := v.(map[string]any)
	if !ok {
		return body.Leaf{Value: v}
	}
	o := body.NewObject()
	for k, nested := range m {
		o.Fields[k] = selection(nested)
	}
	return o
}
