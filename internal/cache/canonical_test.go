package cache

import (
	"testing"
	"time"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

func TestGenerateQueryID_StableAcrossKeyOrder(t *testing.T) {
	a := body.Params{"b": 2, "a": map[string]any{"y": 1, "x": "é"}}
	b := body.Params{"a": map[string]any{"x": "é", "y": 1.0}, "b": int64(2)}

	if GenerateQueryID("q", a) != GenerateQueryID("q", b) {
		t.Fatalf("ids differ:\n%s\n%s", GenerateQueryID("q", a), GenerateQueryID("q", b))
	}
}

func TestGenerateQueryID_Format(t *testing.T) {
	tests := []struct {
		name   string
		params body.Params
		want   string
	}{
		{"nil params", nil, "users::{}"},
		{"sorted keys", body.Params{"z": true, "a": "<b>"}, `users::{"a":"<b>","z":true}`},
		{"fractions kept", body.Params{"n": 1.5}, `users::{"n":1.5}`},
		{"lists", body.Params{"ids": []string{"x", "y"}}, `users::{"ids":["x","y"]}`},
		{
			"times",
			body.Params{"at": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
			`users::{"at":"2024-01-02T03:04:05Z"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := GenerateQueryID("users", tc.params); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestGenerateQueryID_DistinguishesValues(t *testing.T) {
	if GenerateQueryID("q", body.Params{"a": 1}) == GenerateQueryID("q", body.Params{"a": "1"}) {
		t.Fatal("number and string must produce different ids")
	}
}
