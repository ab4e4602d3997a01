package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToCompound(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		value       any
		wantFilter  []any
		wantMustNot []any
		consumed    bool
	}{
		{
			name:       "string equals",
			value:      "x",
			wantFilter: []any{map[string]any{"equals": map[string]any{"value": "x", "path": "f"}}},
			consumed:   true,
		},
		{
			name:       "time equals",
			value:      at,
			wantFilter: []any{map[string]any{"equals": map[string]any{"value": at, "path": "f"}}},
			consumed:   true,
		},
		{
			name:  "range with two bounds",
			value: map[string]any{"$gt": 1, "$lte": 9},
			wantFilter: []any{map[string]any{"range": map[string]any{
				"path": "f", "gt": 1, "lte": 9,
			}}},
			consumed: true,
		},
		{
			name:       "zero bound is kept",
			value:      map[string]any{"$gte": 0},
			wantFilter: []any{map[string]any{"range": map[string]any{"path": "f", "gte": 0}}},
			consumed:   true,
		},
		{
			name:       "in",
			value:      map[string]any{"$in": []any{"a", "b"}},
			wantFilter: []any{map[string]any{"in": map[string]any{"path": "f", "value": []any{"a", "b"}}}},
			consumed:   true,
		},
		{
			name:       "exists true",
			value:      map[string]any{"$exists": true},
			wantFilter: []any{map[string]any{"exists": map[string]any{"path": "f"}}},
			consumed:   true,
		},
		{
			name:        "exists false",
			value:       map[string]any{"$exists": false},
			wantMustNot: []any{map[string]any{"exists": map[string]any{"path": "f"}}},
			consumed:    true,
		},
		{
			name:        "ne",
			value:       map[string]any{"$ne": 3},
			wantMustNot: []any{map[string]any{"equals": map[string]any{"value": 3, "path": "f"}}},
			consumed:    true,
		},
		{
			name:        "nin",
			value:       map[string]any{"$nin": []string{"a"}},
			wantMustNot: []any{map[string]any{"in": map[string]any{"path": "f", "value": []any{"a"}}}},
			consumed:    true,
		},
		{
			name:       "eq uses its own value",
			value:      map[string]any{"$eq": "v"},
			wantFilter: []any{map[string]any{"equals": map[string]any{"value": "v", "path": "f"}}},
			consumed:   true,
		},
		{name: "regex untouched", value: map[string]any{"$regex": "x"}},
		{name: "mixed operators untouched", value: map[string]any{"$gt": 1, "$ne": 5}},
		{name: "ne null untouched", value: map[string]any{"$ne": nil}},
		{name: "null untouched", value: nil},
		{name: "nested document untouched", value: map[string]any{"city": "Paris"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			filters := map[string]any{"f": tc.value}
			got := ToCompound(filters)

			want := Compound{Filter: []any{}, MustNot: []any{}}
			if tc.wantFilter != nil {
				want.Filter = tc.wantFilter
			}
			if tc.wantMustNot != nil {
				want.MustNot = tc.wantMustNot
			}
			assert.Equal(t, want, got)

			_, present := filters["f"]
			assert.Equal(t, !tc.consumed, present)
		})
	}
}

func TestToCompound_SkipsOperatorKeys(t *testing.T) {
	filters := map[string]any{"$search": map[string]any{}, "a": 1}
	got := ToCompound(filters)

	assert.Len(t, got.Filter, 1)
	assert.Contains(t, filters, "$search")
}
