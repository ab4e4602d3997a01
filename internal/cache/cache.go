// Package cache stores named-query results keyed by query name and params.
package cache

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// CountPrefix namespaces count results of a named query.
const CountPrefix = "count::"

// DataSource produces a fresh value on a cache miss.
type DataSource func(ctx context.Context) (any, error)

// ResultCacher is the caching contract shared by named queries.
type ResultCacher interface {
	GenerateQueryID(name string, params body.Params) string
	Fetch(ctx context.Context, id string, source DataSource) (any, error)
	Expire(ctx context.Context, id string) error
	ExpireAll(ctx context.Context, name string) error
}

// belongsTo reports whether id was generated for the query name, including
// its count:: variant.
func belongsTo(id, name string) bool {
	prefix := name + "::"
	return strings.HasPrefix(id, prefix) || strings.HasPrefix(id, CountPrefix+prefix)
}

type counter struct {
	vec    *prometheus.CounterVec
	cacher string
}

func (c counter) inc(result string) {
	if c.vec != nil {
		c.vec.WithLabelValues(c.cacher, result).Inc()
	}
}
