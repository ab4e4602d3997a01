package nova

import (
	"context"
	"maps"
)

// Document is one result row.
type Document = map[string]any

// NamedQuery is a client handle on an exposed named query. Params set on it
// are sent with every call.
type NamedQuery struct {
	client *Client
	name   string
	params map[string]any
}

// Name returns the query name.
func (q *NamedQuery) Name() string { return q.name }

// Params returns a copy of the current params.
func (q *NamedQuery) Params() map[string]any { return maps.Clone(q.params) }

// Clone returns an independent handle with params merged on top.
func (q *NamedQuery) Clone(params map[string]any) *NamedQuery {
	c := &NamedQuery{client: q.client, name: q.name, params: maps.Clone(q.params)}
	maps.Copy(c.params, params)
	return c
}

// SetParams merges params into the current ones.
func (q *NamedQuery) SetParams(params map[string]any) *NamedQuery {
	maps.Copy(q.params, params)
	return q
}

// Select narrows the returned fields; the server intersects it with the
// query's own body.
func (q *NamedQuery) Select(fields map[string]any) *NamedQuery {
	q.params["$body"] = fields
	return q
}

// Fetch runs the query and returns its documents.
func (q *NamedQuery) Fetch(ctx context.Context) ([]Document, error) {
	var out []Document
	if err := q.FetchInto(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchInto decodes the raw result into out. Use it for resolver queries or
// typed results.
func (q *NamedQuery) FetchInto(ctx context.Context, out any) error {
	return q.client.call(ctx, "fetch", q.name, methodPrefix+q.name, q.params, out)
}

// FetchOne returns the first document, or nil when there is none.
func (q *NamedQuery) FetchOne(ctx context.Context) (Document, error) {
	docs, err := q.Fetch(ctx)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count returns how many documents the query matches, ignoring pagination.
func (q *NamedQuery) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.client.call(ctx, "count", q.name, methodPrefix+q.name+countSuffix, q.params, &n)
	return n, err
}
