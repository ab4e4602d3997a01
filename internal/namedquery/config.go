package namedquery

import (
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/firewall"
	"github.com/kailas-cloud/nova/internal/ratelimit"
	"github.com/kailas-cloud/nova/internal/validation"
)

// DefaultCacheTTL is used by CacheResults when no cacher is given.
const DefaultCacheTTL = 5 * time.Minute

// CacheType selects how writes invalidate cached results.
type CacheType string

const (
	// CacheList results are dropped on every write to the collection.
	CacheList CacheType = "list"
	// CacheSingle results are keyed by {_id} and dropped when that document
	// is updated or removed.
	CacheSingle CacheType = "single"
)

// CacheConfig enables result caching on exposure.
type CacheConfig struct {
	TTL  time.Duration
	Type CacheType
}

func (c *CacheConfig) kind() CacheType {
	if c == nil || c.Type == "" {
		return CacheList
	}
	return c.Type
}

// EmbodyFunc edits the body in place right before execution.
type EmbodyFunc func(b *body.Object, params body.Params)

// Embody is a late transform: a fragment deep-merged into the body, or a function.
type Embody struct {
	Fragment map[string]any
	Func     EmbodyFunc
}

// Options are carried by every clone of a named query.
type Options struct {
	Params    body.Params
	Validator validation.Validator
	Schema    *validation.Schema
	Cache     *CacheConfig
}

// ExposeConfig describes how a named query is served remotely. Nil Method and
// Unblock default to true.
type ExposeConfig struct {
	Method    *bool
	Unblock   *bool
	Firewall  []firewall.Func
	Embody    *Embody
	Schema    *validation.Schema
	Validator validation.Validator
	RateLimit *ratelimit.Rule
	Cache     *CacheConfig
}

// Bool returns a pointer to b, for ExposeConfig literals.
func Bool(b bool) *bool { return &b }

// MethodEnabled reports whether the fetch method is registered.
func (c *ExposeConfig) MethodEnabled() bool { return c.Method == nil || *c.Method }

// UnblockEnabled reports whether calls release their connection early.
func (c *ExposeConfig) UnblockEnabled() bool { return c.Unblock == nil || *c.Unblock }

func (c ExposeConfig) withDefaults() ExposeConfig {
	if c.Method == nil {
		c.Method = Bool(true)
	}
	if c.Unblock == nil {
		c.Unblock = Bool(true)
	}
	return c
}

func (c *ExposeConfig) validate() error {
	var errs []error
	for i, fw := range c.Firewall {
		if fw == nil {
			errs = append(errs, fmt.Errorf("firewall[%d] is nil", i))
		}
	}
	if e := c.Embody; e != nil {
		switch {
		case e.Func != nil && e.Fragment != nil:
			errs = append(errs, errors.New("embody takes either a fragment or a function"))
		case e.Func == nil && e.Fragment == nil:
			errs = append(errs, errors.New("embody is empty"))
		case e.Fragment != nil:
			if _, err := body.Parse(e.Fragment); err != nil {
				errs = append(errs, fmt.Errorf("embody: %w", err))
			}
		}
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Cache != nil {
		if c.Cache.TTL < 0 {
			errs = append(errs, errors.New("cache ttl must not be negative"))
		}
		if t := c.Cache.Type; t != "" && t != CacheList && t != CacheSingle {
			errs = append(errs, fmt.Errorf("unknown cache type %q", t))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidExposeConfig, errors.Join(errs...))
	}
	return nil
}
