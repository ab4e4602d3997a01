// Package engine executes compiled bodies against a document source,
// resolving relations between collections.
package engine

import (
	"context"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// IDField is the primary key of every document.
const IDField = "_id"

// SearchStage is the filter key carrying an external search stage.
const SearchStage = "$search"

// Query is a single-collection read.
type Query struct {
	Filters map[string]any
	Sort    body.Sort
	Skip    int64
	Limit   int64
	// Fields restricts the returned fields (dotted paths allowed). Nil returns everything.
	Fields []string
}

// Source is the storage boundary: a document database reached through a driver.
type Source interface {
	Find(ctx context.Context, collection string, q Query) ([]body.Document, error)
	Count(ctx context.Context, collection string, filters map[string]any) (int64, error)
	Insert(ctx context.Context, collection string, doc body.Document) (any, error)
	Update(ctx context.Context, collection string, filters, modifier map[string]any) (int64, error)
	Delete(ctx context.Context, collection string, filters map[string]any) (int64, error)
}

// Link connects documents of one collection to another.
//
// A direct link stores the related key(s) in Field and matches them against
// ForeignField (default _id) of Collection. An inverse link names the direct
// link on Collection that points back through InversedBy.
type Link struct {
	Collection   string
	Field        string
	ForeignField string
	Many         bool
	Unique       bool
	InversedBy   string
}

// IsInverse reports whether l is resolved through the target's link.
func (l Link) IsInverse() bool { return l.InversedBy != "" }

// Foreign returns ForeignField, defaulting to _id.
func (l Link) Foreign() string {
	if l.ForeignField == "" {
		return IDField
	}
	return l.ForeignField
}

// ReduceFunc computes a virtual field from a fetched document.
type ReduceFunc func(ctx context.Context, doc body.Document, params body.Params) (any, error)

// Reducer is a virtual field. Dependency is the body fragment fetched so that
// Reduce has what it needs; it may reach into links.
type Reducer struct {
	Dependency map[string]any
	Reduce     ReduceFunc
}

// Schema describes one collection to the resolver.
type Schema interface {
	Name() string
	Link(name string) (Link, bool)
	Reducer(name string) (Reducer, bool)
}

// Catalog looks up collection schemas by name.
type Catalog interface {
	Schema(name string) (Schema, bool)
}
