package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/db"
	"github.com/kailas-cloud/nova/internal/domain/body"
)

// KeyPrefix namespaces cache entries in a shared key-value store.
const KeyPrefix = "nova:cache:"

// store is the consumer interface for the shared cache backend.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) error
}

// RedisCacher keeps JSON-encoded results in Redis or Valkey. Values come back
// decoded into fresh maps and slices, so callers never share state.
type RedisCacher struct {
	store  store
	ttl    time.Duration
	total  counter
	logger *zap.Logger
}

// NewRedis creates a RedisCacher. cacheTotal may be nil.
func NewRedis(s store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *RedisCacher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCacher{
		store:  s,
		ttl:    ttl,
		total:  counter{vec: cacheTotal, cacher: "redis"},
		logger: logger,
	}
}

// GenerateQueryID implements ResultCacher.
func (c *RedisCacher) GenerateQueryID(name string, params body.Params) string {
	return GenerateQueryID(name, params)
}

// Fetch implements ResultCacher. Backend failures degrade to a miss.
func (c *RedisCacher) Fetch(ctx context.Context, id string, source DataSource) (any, error) {
	key := KeyPrefix + id

	if v, ok := c.get(ctx, key); ok {
		c.total.inc("hit")
		return v, nil
	}
	c.total.inc("miss")

	v, err := source(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode cached result", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache result", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (c *RedisCacher) get(ctx context.Context, key string) (any, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached result", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("Failed to parse cached result", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

// Expire implements ResultCacher.
func (c *RedisCacher) Expire(ctx context.Context, id string) error {
	if err := c.store.Del(ctx, KeyPrefix+id); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("expire %s: %w", id, err)
	}
	return nil
}

// ExpireAll implements ResultCacher.
func (c *RedisCacher) ExpireAll(ctx context.Context, name string) error {
	keys, err := c.store.Scan(ctx, KeyPrefix+"*"+escapeGlob(name)+"::*")
	if err != nil {
		return fmt.Errorf("expire all %s: %w", name, err)
	}
	for _, key := range keys {
		if !belongsTo(strings.TrimPrefix(key, KeyPrefix), name) {
			continue
		}
		if err := c.store.Del(ctx, key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
			return fmt.Errorf("expire all %s: %w", name, err)
		}
	}
	return nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
