package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
)

func TestSearch_NoSearchTextIsNoop(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":    1,
		"$search": map[string]any{"index": "users"},
	})

	out, err := New().Prepare(nil, in, body.Params{})
	require.NoError(t, err)

	assert.Nil(t, out.Search)
	assert.NotContains(t, out.Compiled.Filters, "$search")
}

func TestSearch_MissingIndex(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":    1,
		"$search": map[string]any{"path": "name"},
	})

	_, err := New().Prepare(nil, in, body.Params{"searchText": "john"})
	assert.ErrorIs(t, err, domain.ErrMissingSearchIndex)
}

func TestSearch_TextIndex(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":     1,
		"$search":  map[string]any{"index": "$text", "language": "en", "caseSensitive": false},
		"$options": map[string]any{"sort": map[string]any{"createdAt": -1}},
	})

	out, err := New().Prepare(nil, in, body.Params{"searchText": "john"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"$search":        "john",
		"$language":      "en",
		"$caseSensitive": false,
	}, out.Compiled.Filters["$text"])
	assert.Equal(t, body.Sort{
		{Field: "score", Order: map[string]any{"$meta": "textScore"}},
		{Field: "createdAt", Order: -1},
	}, out.Compiled.Options["sort"])
}

func TestSearch_Regex(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":    1,
		"$search": map[string]any{"index": "$regex", "path": []any{"username", "email"}},
	})

	out, err := New().Prepare(nil, in, body.Params{"searchText": "jo.n"})
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"username": map[string]any{"$regex": `jo\.n`, "$options": "i"}},
		map[string]any{"email": map[string]any{"$regex": `jo\.n`, "$options": "i"}},
	}, out.Compiled.Filters["$or"])
}

func TestSearch_RegexNumericFallback(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":    1,
		"$search": map[string]any{"index": "$regex", "path": "age"},
	})

	out, err := New().Prepare(nil, in, body.Params{"searchText": "42"})
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"age": map[string]any{"$regex": "42", "$options": "i"}},
		map[string]any{"age": float64(42)},
	}, out.Compiled.Filters["$or"])
}

func TestSearch_RegexWithoutPathIsNoop(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":    1,
		"$search": map[string]any{"index": "$regex"},
	})

	out, err := New().Prepare(nil, in, body.Params{"searchText": "x"})
	require.NoError(t, err)

	assert.NotContains(t, out.Compiled.Filters, "$or")
}

func TestSearch_RegexKeepsExistingOr(t *testing.T) {
	existing := []any{map[string]any{"owner": "u1"}, map[string]any{"public": true}}
	in := body.MustParse(map[string]any{
		"name":     1,
		"$filters": map[string]any{"$or": existing},
		"$search":  map[string]any{"index": "$regex", "path": "name"},
	})

	out, err := New().Prepare(nil, in, body.Params{"searchText": "ann"})
	require.NoError(t, err)

	f := out.Compiled.Filters
	assert.NotContains(t, f, "$or")
	require.Len(t, f["$and"], 2)
	assert.Equal(t, map[string]any{"$or": existing}, f["$and"].([]any)[0])
}

func TestSearch_SimpleIndex(t *testing.T) {
	in := body.MustParse(map[string]any{
		"name":    1,
		"$search": map[string]any{"index": "users"},
	})

	out, err := New(WithSearchEnv("PROD")).Prepare(nil, in, body.Params{"searchText": "john"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"index": "PROD_users",
		"text": map[string]any{
			"query": "john",
			"path":  map[string]any{"wildcard": "*"},
		},
		"sort": body.Sort{{Field: "score", Order: map[string]any{"$meta": "searchScore"}}},
	}, out.Compiled.Filters["$search"])
}

func TestSearch_CompoundIndex(t *testing.T) {
	meta := &fakeMeta{soft: true}
	in := body.MustParse(map[string]any{
		"name": 1,
		"$search": map[string]any{
			"index":      "users",
			"path":       []any{"username", "bio"},
			"isCompound": true,
		},
		"$filters": map[string]any{
			"isActive": true,
			"age":      map[string]any{"$gte": 18},
			"role":     map[string]any{"$ne": "bot"},
			"custom":   map[string]any{"$elemMatch": map[string]any{"x": 1}},
		},
		"$options": map[string]any{"sort": map[string]any{"username": 1}},
	})

	out, err := New().Prepare(meta, in, body.Params{"searchText": "john"})
	require.NoError(t, err)

	f := out.Compiled.Filters
	stage, ok := f["$search"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BETA_users", stage["index"])
	assert.Equal(t, map[string]any{
		"must": []any{map[string]any{"text": map[string]any{
			"query": "john",
			"path":  []any{"username", "bio"},
		}}},
		"filter": []any{
			map[string]any{"range": map[string]any{"path": "age", "gte": 18}},
			map[string]any{"equals": map[string]any{"value": true, "path": "isActive"}},
			map[string]any{"equals": map[string]any{"value": false, "path": "isDeleted"}},
		},
		"mustNot": []any{
			map[string]any{"equals": map[string]any{"value": "bot", "path": "role"}},
		},
	}, stage["compound"])
	assert.Equal(t, body.Sort{
		{Field: "score", Order: map[string]any{"$meta": "searchScore"}},
		{Field: "username", Order: 1},
	}, stage["sort"])

	// Untranslatable predicates stay behind as plain filters.
	assert.Contains(t, f, "custom")
	assert.NotContains(t, f, "age")
	assert.NotContains(t, f, "isDeleted")
}

func TestSearch_CompoundFallsBackWithUnsupportedOperators(t *testing.T) {
	c, logs := newObserved()
	in := body.MustParse(map[string]any{
		"name":     1,
		"$search":  map[string]any{"index": "users", "isCompound": true},
		"$filters": map[string]any{"$or": []any{map[string]any{"a": 1}}, "b": 2},
	})

	out, err := c.Prepare(nil, in, body.Params{"searchText": "john"})
	require.NoError(t, err)

	stage := out.Compiled.Filters["$search"].(map[string]any)
	assert.Contains(t, stage, "text")
	assert.NotContains(t, stage, "compound")
	assert.Equal(t, 2, out.Compiled.Filters["b"])
	assert.Equal(t, 1, logs.FilterMessage("unsupported operators in $search").Len())
}
