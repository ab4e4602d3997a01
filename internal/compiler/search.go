package compiler

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
)

// unsupportedOperators cannot be expressed inside an external search stage.
var unsupportedOperators = map[string]struct{}{
	"$nor": {}, "$type": {}, "$expr": {}, "$regex": {}, "$jsonSchema": {}, "$mod": {},
	"$and": {}, "$or": {}, "$text": {}, "$where": {},
	"$geoIntersects": {}, "$geoWithin": {}, "$near": {}, "$nearSphere": {},
	"$all": {}, "$elemMatch": {}, "$size": {},
	"$bitsAllClear": {}, "$bitsAllSet": {}, "$bitsAnyClear": {}, "$bitsAnySet": {},
}

// applySearch compiles the $search directive of o into its filters and
// options. The directive is always removed.
func (c *Compiler) applySearch(o *body.Object, p body.Params) error {
	spec := o.Search
	o.Search = nil

	text := p.SearchText()
	if spec == nil || text == "" {
		return nil
	}
	if spec.Index == "" {
		return domain.ErrMissingSearchIndex
	}

	o.EnsureFilters()
	o.EnsureOptions()

	switch spec.Index {
	case body.IndexText:
		searchWithTextIndex(o, spec, text)
	case body.IndexRegex:
		searchWithRegex(o, spec, text)
	default:
		c.searchWithIndex(o, spec, text)
	}
	return nil
}

func searchWithTextIndex(o *body.Object, spec *body.SearchSpec, text string) {
	clause := map[string]any{"$search": text}
	if spec.Language != "" {
		clause["$language"] = spec.Language
	}
	if spec.CaseSensitive != nil {
		clause["$caseSensitive"] = *spec.CaseSensitive
	}
	if spec.DiacriticSensitive != nil {
		clause["$diacriticSensitive"] = *spec.DiacriticSensitive
	}
	o.Filters["$text"] = clause

	score := body.SortField{Field: "score", Order: map[string]any{"$meta": "textScore"}}
	o.Options["sort"] = body.SortOf(o.Options["sort"]).Prepend(score)
}

func searchWithRegex(o *body.Object, spec *body.SearchSpec, text string) {
	if len(spec.Path) == 0 {
		return
	}

	pattern := regexp.QuoteMeta(text)
	number, numErr := strconv.ParseFloat(strings.TrimSpace(text), 64)

	or := make([]any, 0, len(spec.Path)*2)
	for _, field := range spec.Path {
		or = append(or, map[string]any{field: map[string]any{"$regex": pattern, "$options": "i"}})
		if numErr == nil {
			or = append(or, map[string]any{field: number})
		}
	}

	// An $or already present is kept by moving both alternatives under $and.
	if existing, ok := o.Filters["$or"]; ok {
		delete(o.Filters, "$or")
		and, _ := o.Filters["$and"].([]any)
		o.Filters["$and"] = append(and,
			map[string]any{"$or": existing},
			map[string]any{"$or": or},
		)
		return
	}
	o.Filters["$or"] = or
}

func (c *Compiler) searchWithIndex(o *body.Object, spec *body.SearchSpec, text string) {
	unsupported := unsupportedKeys(o.Filters)
	if len(unsupported) > 0 {
		c.logger.Warn("unsupported operators in $search",
			zap.String("index", spec.Index),
			zap.Strings("operators", unsupported),
		)
	}

	textClause := map[string]any{
		"query": text,
		"path":  searchPath(spec.Path),
	}
	stage := map[string]any{
		"index": c.env + "_" + spec.Index,
		"sort": body.SortOf(o.Options["sort"]).Prepend(body.SortField{
			Field: "score",
			Order: map[string]any{"$meta": "searchScore"},
		}),
	}

	if spec.IsCompound && len(unsupported) == 0 {
		compound := ToCompound(o.Filters)
		stage["compound"] = map[string]any{
			"must":    []any{map[string]any{"text": textClause}},
			"mustNot": compound.MustNot,
			"filter":  compound.Filter,
		}
	} else {
		stage["text"] = textClause
	}

	o.Filters["$search"] = stage
}

func searchPath(paths []string) any {
	switch len(paths) {
	case 0:
		return map[string]any{"wildcard": "*"}
	case 1:
		return paths[0]
	default:
		out := make([]any, len(paths))
		for i, p := range paths {
			out[i] = p
		}
		return out
	}
}

func unsupportedKeys(filters map[string]any) []string {
	var keys []string
	for k := range filters {
		if _, ok := unsupportedOperators[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
