package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/nova/internal/config"
	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/transport/rpc"
)

func testConfig() config.Config {
	cfg := config.Config{
		HTTP: config.HTTPConfig{Port: 8080},
		Collections: []config.CollectionConfig{
			{Name: "users", SoftDelete: true},
		},
		Queries: []config.QueryConfig{
			{
				Name:       "adults",
				Collection: "users",
				Body: map[string]any{
					"name":     1,
					"$filters": map[string]any{"age": map[string]any{"$gte": 18}},
					"$options": map[string]any{"sort": map[string]any{"name": 1}},
				},
				Expose: &config.ExposeConfig{
					Firewall:  []string{`userId != ""`},
					RateLimit: &config.RateLimitConfig{Limit: 2, WindowSec: 3600, Message: "easy"},
				},
			},
			{Name: "internal", Collection: "users", Body: map[string]any{"name": 1}},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestNewRuntime_ServesDeclaredQueries(t *testing.T) {
	ctx := context.Background()
	rt, err := newRuntime(ctx, testConfig(), nil)
	require.NoError(t, err)
	defer rt.Close(ctx)

	users, err := rt.registry.Get("users")
	require.NoError(t, err)
	for _, doc := range []body.Document{
		{"name": "ann", "age": 30},
		{"name": "kid", "age": 9},
		{"name": "bob", "age": 40},
	} {
		_, err := users.Insert(ctx, doc)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"named_query_adults", "named_query_adults.count"}, rt.methods.Methods())
	assert.Equal(t, []string{"adults", "internal"}, rt.queries.Names())

	out, err := rt.methods.Call(ctx, rpc.Call{Method: "named_query_adults", ConnID: "c1", UserID: "u1"})
	require.NoError(t, err)
	docs, ok := out.([]body.Document)
	require.True(t, ok, "got %T", out)
	require.Len(t, docs, 2)
	assert.Equal(t, "ann", docs[0]["name"])
	assert.Equal(t, "bob", docs[1]["name"])

	n, err := rt.methods.Call(ctx, rpc.Call{Method: "named_query_adults.count", ConnID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = rt.methods.Call(ctx, rpc.Call{Method: "named_query_adults", ConnID: "c1", UserID: "u1"})
	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "easy", rle.Message)
}

func TestNewRuntime_FirewallRejectsAnonymous(t *testing.T) {
	ctx := context.Background()
	rt, err := newRuntime(ctx, testConfig(), nil)
	require.NoError(t, err)
	defer rt.Close(ctx)

	_, err = rt.methods.Call(ctx, rpc.Call{Method: "named_query_adults", ConnID: "c2"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestNewRuntime_BadFirewall(t *testing.T) {
	cfg := testConfig()
	cfg.Queries[0].Expose.Firewall = []string{"userId +"}

	_, err := newRuntime(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewRuntime_BadQueryBody(t *testing.T) {
	cfg := testConfig()
	cfg.Queries[1].Body = map[string]any{"$unknown": 1}

	_, err := newRuntime(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidBody), "got %v", err)
}

func TestRunCompile(t *testing.T) {
	dir := t.TempDir()
	bodyPath := filepath.Join(dir, "body.json")
	paramsPath := filepath.Join(dir, "params.json")
	require.NoError(t, os.WriteFile(bodyPath, []byte(`{"name":1,"$paginate":true}`), 0o600))
	require.NoError(t, os.WriteFile(paramsPath, []byte(`{"limit":5,"skip":10}`), 0o600))

	var buf bytes.Buffer
	opts := &CompileOptions{RootOptions: &RootOptions{}, Collection: "users", ParamsPath: paramsPath}
	require.NoError(t, runCompile(&buf, testConfig(), opts, bodyPath))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	compiled, ok := out["$"].(map[string]any)
	require.True(t, ok, "compiled block missing: %s", buf.String())

	options, _ := compiled["options"].(map[string]any)
	assert.EqualValues(t, 5, options["limit"])
	assert.EqualValues(t, 10, options["skip"])

	filters, _ := compiled["filters"].(map[string]any)
	assert.Contains(t, filters, "isDeleted")
}

func TestRunCompile_UnknownCollection(t *testing.T) {
	dir := t.TempDir()
	bodyPath := filepath.Join(dir, "body.json")
	require.NoError(t, os.WriteFile(bodyPath, []byte(`{"name":1}`), 0o600))

	opts := &CompileOptions{RootOptions: &RootOptions{}, Collection: "ghosts"}
	err := runCompile(&bytes.Buffer{}, testConfig(), opts, bodyPath)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestSampleConfig_Boots(t *testing.T) {
	t.Setenv("NOVA_DB_DRIVER", "memory")
	t.Setenv("NOVA_CACHE_DRIVER", "memory")

	cfg, err := config.LoadFile(filepath.Join("..", "..", "config", "local.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, nil)
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.Equal(t, []string{"posts", "users"}, rt.registry.Names())
	assert.True(t, rt.methods.Has("named_query_users_list"))
	assert.True(t, rt.methods.Has("named_query_users_list.count"))
}
