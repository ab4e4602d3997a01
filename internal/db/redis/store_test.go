package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/nova/internal/db"
)

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	if err := NewStoreWithClient(c).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	if err := NewStoreWithClient(c).Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "nova:cache:q::{}")).
		Return(mock.Result(mock.RedisBlobString(`[{"_id":"a"}]`)))

	data, err := NewStoreWithClient(c).Get(context.Background(), "nova:cache:q::{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `[{"_id":"a"}]` {
		t.Errorf("unexpected data: %s", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "missing")).
		Return(mock.Result(mock.RedisNil()))

	_, err := NewStoreWithClient(c).Get(context.Background(), "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestGet_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	_, err := NewStoreWithClient(c).Get(context.Background(), "k")
	if errors.Is(err, db.ErrKeyNotFound) {
		t.Error("network errors must not look like a missing key")
	}
	if !isDBError(err) {
		t.Errorf("expected db.Error, got %T", err)
	}
}

func TestSetWithTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v", "EX", "60")).
		Return(mock.Result(mock.RedisString("OK")))

	if err := NewStoreWithClient(c).SetWithTTL(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSet(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v")).
		Return(mock.Result(mock.RedisString("OK")))

	if err := NewStoreWithClient(c).Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDel(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "k")).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := NewStoreWithClient(c).Del(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScan_MultiPage(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	first := true
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "SCAN"
		})).
		DoAndReturn(func(_ context.Context, _ rueidis.Completed) rueidis.RedisResult {
			if first {
				first = false
				return mock.Result(mock.RedisArray(
					mock.RedisInt64(42),
					mock.RedisArray(mock.RedisString("nova:cache:q::1")),
				))
			}
			return mock.Result(mock.RedisArray(
				mock.RedisInt64(0),
				mock.RedisArray(mock.RedisString("nova:cache:q::2")),
			))
		}).Times(2)

	keys, err := NewStoreWithClient(c).Scan(context.Background(), "nova:cache:*q::*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestIncrBy(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("INCRBY", "counter", "1")).
		Return(mock.Result(mock.RedisInt64(3)))

	n, err := NewStoreWithClient(c).IncrBy(context.Background(), "counter", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}

func TestExpire_WithNX(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("EXPIRE", "counter", "10", "NX")).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := NewStoreWithClient(c).Expire(context.Background(), "counter", 10*time.Second, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}
