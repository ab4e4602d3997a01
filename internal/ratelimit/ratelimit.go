// Package ratelimit throttles remote method calls per connection.
//
// Each rule covers a set of methods and allows Limit calls per Time window
// for every connection. Without a backend store the limiter keeps token
// buckets in memory; with one it counts fixed windows in Redis so that
// every replica shares the same budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/nova/internal/db"
	"github.com/kailas-cloud/nova/internal/domain"
)

// DefaultMessage is returned when a rule has no message of its own.
const DefaultMessage = "Error, too many requests. Please slow down."

// KeyPrefix namespaces fixed-window counters in the backend store.
const KeyPrefix = "nova:ratelimit:"

// Rule allows Limit calls per Time for each connection.
type Rule struct {
	Limit   int
	Time    time.Duration
	Message string
}

// Validate checks that the rule describes a positive rate.
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("rate limit: limit must be positive, got %d", r.Limit)
	}
	if r.Time <= 0 {
		return fmt.Errorf("rate limit: time must be positive, got %s", r.Time)
	}
	return nil
}

func (r Rule) message() string {
	if r.Message == "" {
		return DefaultMessage
	}
	return r.Message
}

type rule struct {
	Rule
	id      string
	methods map[string]bool

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func (r *rule) bucket(connID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[connID]
	if !ok {
		b = rate.NewLimiter(rate.Every(r.Time/time.Duration(r.Limit)), r.Limit)
		r.buckets[connID] = b
	}
	return b
}

// Limiter evaluates rules for method calls.
type Limiter struct {
	store  db.KVStore
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	rules []*rule
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore counts calls in fixed windows on a shared backend.
func WithStore(s db.KVStore) Option {
	return func(l *Limiter) { l.store = s }
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter with no rules.
func New(opts ...Option) *Limiter {
	l := &Limiter{now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// AddRule applies r to every call of the given methods and returns the rule id.
func (l *Limiter) AddRule(r Rule, methods ...string) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	if len(methods) == 0 {
		return "", errors.New("rate limit: at least one method is required")
	}

	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := strconv.Itoa(len(l.rules))
	l.rules = append(l.rules, &rule{
		Rule:    r,
		id:      id,
		methods: set,
		buckets: make(map[string]*rate.Limiter),
	})
	return id, nil
}

// Allow consumes one call of method for connID. It returns a
// *domain.RateLimitError for the first rule that is exhausted.
func (l *Limiter) Allow(ctx context.Context, method, connID string) error {
	l.mu.RLock()
	rules := make([]*rule, 0, len(l.rules))
	for _, r := range l.rules {
		if r.methods[method] {
			rules = append(rules, r)
		}
	}
	l.mu.RUnlock()

	for _, r := range rules {
		if !l.allow(ctx, r, connID) {
			return &domain.RateLimitError{Method: method, Message: r.message()}
		}
	}
	return nil
}

// Forget drops in-memory state kept for a closed connection.
func (l *Limiter) Forget(connID string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.rules {
		r.mu.Lock()
		delete(r.buckets, connID)
		r.mu.Unlock()
	}
}

func (l *Limiter) allow(ctx context.Context, r *rule, connID string) bool {
	if l.store == nil {
		return r.bucket(connID).AllowN(l.now(), 1)
	}

	window := l.now().UnixNano() / int64(r.Time)
	key := KeyPrefix + r.id + ":" + connID + ":" + strconv.FormatInt(window, 10)

	n, err := l.store.IncrBy(ctx, key, 1)
	if err != nil {
		// Fail open.
		l.logger.Warn("Rate limit counter unavailable, allowing call",
			zap.String("key", key), zap.Error(err))
		return true
	}
	if n == 1 {
		if err := l.store.Expire(ctx, key, r.Time, true); err != nil {
			l.logger.Warn("Failed to set rate limit window expiry",
				zap.String("key", key), zap.Error(err))
		}
	}
	return n <= int64(r.Limit)
}
