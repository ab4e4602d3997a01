package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRedis_MissThenHit(t *testing.T) {
	ms := newMockStore()
	c := NewRedis(ms, time.Minute, nil, zap.NewNop())
	ctx := context.Background()
	src, calls := countingSource([]any{map[string]any{"name": "ann"}})

	if _, err := c.Fetch(ctx, "users::{}", src); err != nil {
		t.Fatal(err)
	}
	if ms.ttls[KeyPrefix+"users::{}"] != time.Minute {
		t.Fatalf("expected value stored with TTL, got %v", ms.ttls)
	}

	got, err := c.Fetch(ctx, "users::{}", src)
	if err != nil {
		t.Fatal(err)
	}
	if *calls != 1 {
		t.Fatalf("expected a hit on the second fetch, got %d calls", *calls)
	}
	rows, ok := got.([]any)
	if !ok || len(rows) != 1 || rows[0].(map[string]any)["name"] != "ann" {
		t.Fatalf("unexpected cached value: %#v", got)
	}
}

func TestRedis_BackendErrorDegradesToMiss(t *testing.T) {
	ms := newMockStore()
	ms.getErr = errors.New("connection refused")
	ms.setErr = errors.New("connection refused")
	c := NewRedis(ms, 0, nil, nil)
	src, calls := countingSource(42)

	v, err := c.Fetch(context.Background(), "id", src)
	if err != nil {
		t.Fatalf("backend errors must not fail the fetch: %v", err)
	}
	if v != 42 || *calls != 1 {
		t.Fatalf("expected fresh value, got %v after %d calls", v, *calls)
	}
}

func TestRedis_ExpireAll(t *testing.T) {
	ms := newMockStore()
	c := NewRedis(ms, time.Minute, nil, nil)
	ctx := context.Background()
	src, _ := countingSource(1)

	_, _ = c.Fetch(ctx, "users::{}", src)
	_, _ = c.Fetch(ctx, CountPrefix+"users::{}", src)
	_, _ = c.Fetch(ctx, "posts::{}", src)

	if err := c.ExpireAll(ctx, "users"); err != nil {
		t.Fatal(err)
	}
	if len(ms.data) != 1 {
		t.Fatalf("expected only posts to survive, got %v", ms.data)
	}
	if _, ok := ms.data[KeyPrefix+"posts::{}"]; !ok {
		t.Fatal("posts entry was removed")
	}
}

func TestRedis_ExpireAllMatchesWholeName(t *testing.T) {
	ms := newMockStore()
	c := NewRedis(ms, time.Minute, nil, nil)
	ctx := context.Background()
	src, _ := countingSource(1)

	_, _ = c.Fetch(ctx, "active_users::{}", src)
	_, _ = c.Fetch(ctx, "users::{}", src)
	_, _ = c.Fetch(ctx, CountPrefix+"users::{}", src)

	if err := c.ExpireAll(ctx, "users"); err != nil {
		t.Fatal(err)
	}
	if _, ok := ms.data[KeyPrefix+"active_users::{}"]; !ok || len(ms.data) != 1 {
		t.Fatalf("expected only active_users to survive, got %v", ms.data)
	}
}

func TestRedis_Expire(t *testing.T) {
	ms := newMockStore()
	c := NewRedis(ms, time.Minute, nil, nil)
	ctx := context.Background()
	src, calls := countingSource("v")

	_, _ = c.Fetch(ctx, "id", src)
	if err := c.Expire(ctx, "id"); err != nil {
		t.Fatal(err)
	}
	_, _ = c.Fetch(ctx, "id", src)
	if *calls != 2 {
		t.Fatalf("expected reload after expire, got %d calls", *calls)
	}
}
