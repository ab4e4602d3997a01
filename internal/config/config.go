package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the nova server configuration.
type Config struct {
	HTTP        HTTPConfig         `yaml:"http"`
	Auth        AuthConfig         `yaml:"auth"`
	Database    DatabaseConfig     `yaml:"database"`
	Cache       CacheConfig        `yaml:"cache"`
	Search      SearchConfig       `yaml:"search"`
	Logging     LoggingConfig      `yaml:"logging"`
	Collections []CollectionConfig `yaml:"collections"`
	Queries     []QueryConfig      `yaml:"queries"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig maps API keys to the user ids calls run as.
type AuthConfig struct {
	APIKeys map[string]string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds document store settings.
type DatabaseConfig struct {
	Driver           string `yaml:"driver"` // memory, mongo (default: memory)
	URI              string `yaml:"uri"`
	Name             string `yaml:"name"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
}

// CacheConfig holds the result cache backend.
type CacheConfig struct {
	Driver   string   `yaml:"driver"` // memory, redis (default: memory)
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// SearchConfig holds text search settings.
type SearchConfig struct {
	// Env selects <ENV>_ATLAS_SEARCH_INDEX and <ENV>_ATLAS_SEARCH_ENABLED.
	Env string `yaml:"env"`
}

// CollectionConfig declares a collection.
type CollectionConfig struct {
	Name       string                `yaml:"name"`
	SoftDelete bool                  `yaml:"soft_delete"`
	WithDates  bool                  `yaml:"with_dates"`
	Schema     string                `yaml:"schema"`
	Links      map[string]LinkConfig `yaml:"links"`
}

// LinkConfig declares a relation to another collection.
type LinkConfig struct {
	Collection   string `yaml:"collection"`
	Field        string `yaml:"field"`
	ForeignField string `yaml:"foreign_field"`
	Many         bool   `yaml:"many"`
	Unique       bool   `yaml:"unique"`
	InversedBy   string `yaml:"inversed_by"`
}

// QueryConfig declares a named query over a collection.
type QueryConfig struct {
	Name       string         `yaml:"name"`
	Collection string         `yaml:"collection"`
	Body       map[string]any `yaml:"body"`
	Params     map[string]any `yaml:"params"`
	Schema     string         `yaml:"schema"`
	Expose     *ExposeConfig  `yaml:"expose"`
}

// ExposeConfig makes a named query callable remotely.
type ExposeConfig struct {
	Method    *bool             `yaml:"method"`
	Unblock   *bool             `yaml:"unblock"`
	Firewall  []string          `yaml:"firewall"` // CEL expressions over userId and params
	Schema    string            `yaml:"schema"`
	RateLimit *RateLimitConfig  `yaml:"rate_limit"`
	Cache     *QueryCacheConfig `yaml:"cache"`
	Embody    map[string]any    `yaml:"embody"`
}

// RateLimitConfig allows Limit calls per WindowSec per connection.
type RateLimitConfig struct {
	Limit     int    `yaml:"limit"`
	WindowSec int    `yaml:"window_sec"`
	Message   string `yaml:"message"`
}

// QueryCacheConfig caches exposed results.
type QueryCacheConfig struct {
	TTLSec int    `yaml:"ttl_sec"`
	Type   string `yaml:"type"` // list, single (default: list)
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 300
	}
	if c.Search.Env == "" {
		c.Search.Env = "BETA"
	}
	for i := range c.Queries {
		e := c.Queries[i].Expose
		if e == nil || e.Cache == nil {
			continue
		}
		if e.Cache.TTLSec <= 0 {
			e.Cache.TTLSec = c.Cache.TTLSec
		}
		if e.Cache.Type == "" {
			e.Cache.Type = "list"
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mongo":
		if c.Database.URI == "" || c.Database.Name == "" {
			return errors.New("database.uri and database.name are required for the mongo driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"memory\" or \"mongo\", got %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if len(c.Cache.Addrs) == 0 {
			return errors.New("cache.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.driver must be \"memory\" or \"redis\", got %q", c.Cache.Driver)
	}

	collections := make(map[string]struct{}, len(c.Collections))
	for i, coll := range c.Collections {
		if coll.Name == "" {
			return fmt.Errorf("collections[%d].name is required", i)
		}
		if _, dup := collections[coll.Name]; dup {
			return fmt.Errorf("collection %q declared twice", coll.Name)
		}
		collections[coll.Name] = struct{}{}
	}
	for _, coll := range c.Collections {
		for name, l := range coll.Links {
			if _, ok := collections[l.Collection]; !ok {
				return fmt.Errorf("collections.%s.links.%s: unknown collection %q", coll.Name, name, l.Collection)
			}
			if l.Field == "" && l.InversedBy == "" {
				return fmt.Errorf("collections.%s.links.%s: field or inversed_by is required", coll.Name, name)
			}
		}
	}

	queries := make(map[string]struct{}, len(c.Queries))
	for i, q := range c.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d].name is required", i)
		}
		if _, dup := queries[q.Name]; dup {
			return fmt.Errorf("query %q declared twice", q.Name)
		}
		queries[q.Name] = struct{}{}
		if _, ok := collections[q.Collection]; !ok {
			return fmt.Errorf("queries.%s: unknown collection %q", q.Name, q.Collection)
		}
		if len(q.Body) == 0 {
			return fmt.Errorf("queries.%s.body is required", q.Name)
		}
		if err := q.Expose.validate(); err != nil {
			return fmt.Errorf("queries.%s.expose: %w", q.Name, err)
		}
	}
	return nil
}

func (e *ExposeConfig) validate() error {
	if e == nil {
		return nil
	}
	if rl := e.RateLimit; rl != nil && (rl.Limit <= 0 || rl.WindowSec <= 0) {
		return errors.New("rate_limit.limit and rate_limit.window_sec must be positive")
	}
	if ch := e.Cache; ch != nil && ch.Type != "list" && ch.Type != "single" {
		return fmt.Errorf("cache.type must be \"list\" or \"single\", got %q", ch.Type)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
