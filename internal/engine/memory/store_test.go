package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
)

func seed(t *testing.T, s *Store, collection string, docs ...body.Document) {
	t.Helper()
	for _, d := range docs {
		_, err := s.Insert(context.Background(), collection, d)
		require.NoError(t, err)
	}
}

func ids(docs []body.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["_id"]
	}
	return out
}

func TestStore_FindSortSkipLimit(t *testing.T) {
	s := New()
	seed(t, s, "posts",
		body.Document{"_id": "a", "n": 25},
		body.Document{"_id": "b", "n": 30},
		body.Document{"_id": "c", "n": 35},
	)

	docs, err := s.Find(context.Background(), "posts", engine.Query{
		Sort:  body.Sort{{Field: "n", Order: -1}},
		Skip:  1,
		Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, ids(docs))
}

func TestStore_SortIgnoresMetaScores(t *testing.T) {
	s := New()
	seed(t, s, "users", body.Document{"_id": "1", "name": "b"}, body.Document{"_id": "2", "name": "a"})

	docs, err := s.Find(context.Background(), "users", engine.Query{Sort: body.Sort{
		{Field: "score", Order: map[string]any{"$meta": "textScore"}},
		{Field: "name", Order: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"2", "1"}, ids(docs))
}

func TestStore_Projection(t *testing.T) {
	s := New()
	seed(t, s, "users", body.Document{
		"_id": "1", "name": "ann", "password": "x",
		"profile": map[string]any{"bio": "hi", "secret": 1},
	})

	docs, err := s.Find(context.Background(), "users", engine.Query{Fields: []string{"name", "profile.bio"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, body.Document{
		"_id":     "1",
		"name":    "ann",
		"profile": map[string]any{"bio": "hi"},
	}, docs[0])
}

func TestStore_FindReturnsCopies(t *testing.T) {
	s := New()
	seed(t, s, "users", body.Document{"_id": "1", "name": "ann"})

	docs, _ := s.Find(context.Background(), "users", engine.Query{})
	docs[0]["name"] = "changed"

	again, _ := s.Find(context.Background(), "users", engine.Query{})
	assert.Equal(t, "ann", again[0]["name"])
}

func TestStore_InsertAssignsID(t *testing.T) {
	s := New()
	id, err := s.Insert(context.Background(), "users", body.Document{"name": "ann"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.Insert(context.Background(), "users", body.Document{"_id": id})
	assert.Error(t, err)
}

func TestStore_UpdateOperators(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "users", body.Document{"_id": "1", "n": 1, "deletedAt": "yesterday"})

	n, err := s.Update(ctx, "users", map[string]any{"_id": "1"}, map[string]any{
		"$set":   map[string]any{"isDeleted": false, "meta.by": "me"},
		"$unset": map[string]any{"deletedAt": true},
		"$inc":   map[string]any{"n": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	docs, _ := s.Find(ctx, "users", engine.Query{})
	assert.Equal(t, body.Document{
		"_id": "1", "n": float64(3), "isDeleted": false, "meta": map[string]any{"by": "me"},
	}, docs[0])
}

func TestStore_UpdateReplacementKeepsID(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "users", body.Document{"_id": "1", "a": 1})

	_, err := s.Update(ctx, "users", map[string]any{"_id": "1"}, map[string]any{"b": 2})
	require.NoError(t, err)

	docs, _ := s.Find(ctx, "users", engine.Query{})
	assert.Equal(t, body.Document{"_id": "1", "b": 2}, docs[0])
}

func TestStore_DeleteAndCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "users",
		body.Document{"_id": "1", "role": "a"},
		body.Document{"_id": "2", "role": "b"},
		body.Document{"_id": "3", "role": "a"},
	)

	n, err := s.Delete(ctx, "users", map[string]any{"role": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
