package body

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/nova/internal/domain"
)

func TestParse_FieldsAndDirectives(t *testing.T) {
	called := false
	o, err := Parse(map[string]any{
		"name":      1,
		"$filters":  map[string]any{"status": "active"},
		"$options":  map[string]any{"limit": 10},
		"$paginate": true,
		"$filter":   func(FilterArgs) { called = true },
		"$search":   map[string]any{"index": "$regex", "path": "name"},
		"author": map[string]any{
			"username": true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := o.Fields["name"].(Leaf); !ok {
		t.Errorf("name: expected leaf, got %T", o.Fields["name"])
	}
	author, ok := o.Fields["author"].(*Object)
	if !ok {
		t.Fatalf("author: expected object, got %T", o.Fields["author"])
	}
	if _, ok := author.Fields["username"]; !ok {
		t.Error("author.username missing")
	}
	if o.Filters["status"] != "active" {
		t.Errorf("filters: got %v", o.Filters)
	}
	if !o.Paginate {
		t.Error("expected paginate flag")
	}
	if len(o.Filter) != 1 {
		t.Fatalf("expected one filter func, got %d", len(o.Filter))
	}
	o.Filter[0](FilterArgs{})
	if !called {
		t.Error("filter func not preserved")
	}
	if o.Search == nil || o.Search.Index != IndexRegex || !reflect.DeepEqual(o.Search.Path, []string{"name"}) {
		t.Errorf("search: got %+v", o.Search)
	}
}

func TestParse_RejectsMalformedDirectives(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
	}{
		{"filters not object", map[string]any{"$filters": []any{1}}},
		{"filter not func", map[string]any{"$filter": "nope"}},
		{"filter list with junk", map[string]any{"$filter": []any{func(FilterArgs) {}, 3}}},
		{"search not object", map[string]any{"$search": 42}},
		{"search path junk", map[string]any{"$search": map[string]any{"index": "x", "path": 3}}},
		{"unknown directive", map[string]any{"$bogus": 1}},
		{"nested bad", map[string]any{"posts": map[string]any{"$options": "x"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.in)
			if !errors.Is(err, domain.ErrInvalidBody) {
				t.Errorf("expected ErrInvalidBody, got %v", err)
			}
		})
	}
}

func TestClone_IsIndependent(t *testing.T) {
	o := MustParse(map[string]any{
		"$filters": map[string]any{"tags": map[string]any{"$in": []any{"a", "b"}}},
		"posts":    map[string]any{"title": 1},
	})
	c := o.Clone()

	c.Filters["tags"].(map[string]any)["$in"].([]any)[0] = "z"
	c.Relations()["posts"].Fields["body"] = Leaf{Value: 1}

	if o.Filters["tags"].(map[string]any)["$in"].([]any)[0] != "a" {
		t.Error("clone shares filter lists with the original")
	}
	if _, ok := o.Relations()["posts"].Fields["body"]; ok {
		t.Error("clone shares relation nodes with the original")
	}
}

func TestMap_RendersCompiledBlock(t *testing.T) {
	o := MustParse(map[string]any{
		"name": 1,
		"$":    map[string]any{"filters": map[string]any{"a": 1}},
	})
	got := o.Map()
	want := map[string]any{
		"name": 1,
		"$":    map[string]any{"filters": map[string]any{"a": 1}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestMergeDeep_ListsReplaced(t *testing.T) {
	dst := map[string]any{
		"tags":  []any{"a", "b"},
		"inner": map[string]any{"x": 1, "y": 2},
		"keep":  true,
	}
	src := map[string]any{
		"tags":  []any{"c"},
		"inner": map[string]any{"y": 3},
		"new":   map[string]any{"z": 1},
	}
	got := MergeDeep(dst, src)
	want := map[string]any{
		"tags":  []any{"c"},
		"inner": map[string]any{"x": 1, "y": 3},
		"keep":  true,
		"new":   map[string]any{"z": 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}

	src["new"].(map[string]any)["z"] = 2
	if got["new"].(map[string]any)["z"] != 1 {
		t.Error("merge kept a reference into src")
	}
}

func TestMergeDeep_NilDestination(t *testing.T) {
	got := MergeDeep(nil, map[string]any{"a": 1})
	if got["a"] != 1 {
		t.Errorf("got %v", got)
	}
}

func TestObjectMerge_Embodiment(t *testing.T) {
	o := MustParse(map[string]any{
		"name":     1,
		"$filters": map[string]any{"a": 1},
		"posts":    map[string]any{"title": 1},
	})
	err := o.Merge(map[string]any{
		"$filters": map[string]any{"b": 2},
		"posts":    map[string]any{"$filters": map[string]any{"published": true}},
		"email":    1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(o.Filters, map[string]any{"a": 1, "b": 2}) {
		t.Errorf("filters: got %v", o.Filters)
	}
	posts := o.Relations()["posts"]
	if _, ok := posts.Fields["title"]; !ok {
		t.Error("posts.title lost during merge")
	}
	if posts.Filters["published"] != true {
		t.Errorf("posts filters: got %v", posts.Filters)
	}
	if _, ok := o.Fields["email"]; !ok {
		t.Error("email not merged")
	}
}

func TestSortOf(t *testing.T) {
	got := SortOf(map[string]any{"b": -1, "a": 1})
	want := Sort{{Field: "a", Order: 1}, {Field: "b", Order: -1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("map: got %v, want %v", got, want)
	}

	got = SortOf([]any{map[string]any{"b": -1}, map[string]any{"a": 1}})
	want = Sort{{Field: "b", Order: -1}, {Field: "a", Order: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("list: got %v, want %v", got, want)
	}

	score := SortField{Field: "score", Order: map[string]any{"$meta": "searchScore"}}
	got = want.Prepend(score)
	if got[0].Field != "score" || len(got) != 3 {
		t.Errorf("prepend: got %v", got)
	}
}

func TestIsSelectAll(t *testing.T) {
	for _, v := range []any{1, int64(1), 1.0, true} {
		if !IsSelectAll(v) {
			t.Errorf("IsSelectAll(%#v) = false", v)
		}
	}
	for _, v := range []any{0, 2, false, "1", nil, map[string]any{}} {
		if IsSelectAll(v) {
			t.Errorf("IsSelectAll(%#v) = true", v)
		}
	}
}

func TestParams_With(t *testing.T) {
	base := Params{"filters": map[string]any{"a": 1}, "limit": 10}
	next := base.With(Params{"limit": 5})

	next.Map("filters")["a"] = 2
	if base.Map("filters")["a"] != 1 {
		t.Error("With must deep-copy the base params")
	}
	if n, _ := next.Int("limit"); n != 5 {
		t.Errorf("limit: got %d", n)
	}
	if n, _ := base.Int("limit"); n != 10 {
		t.Errorf("base limit changed: %d", n)
	}
}
