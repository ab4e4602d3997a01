// Package db declares the key-value backend shared by the result cache and
// the distributed rate limiter.
package db

import (
	"context"
	"time"
)

// Store is the backend facade. Consumers depend on the narrow sub-interfaces.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}
