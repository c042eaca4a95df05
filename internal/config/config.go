// Package config loads throttle configuration.
//
// Values are layered: built-in defaults, then a JSON or YAML file, then
// THROTTLE_* environment variables. Command-line flags are applied last by the
// CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/Throttle/internal/logging"
)

// Environment variables read by ApplyEnv.
const (
	EnvAddr            = "THROTTLE_ADDR"
	EnvStoreURL        = "THROTTLE_STORE_URL"
	EnvStoreToken      = "THROTTLE_STORE_TOKEN"
	EnvStoreKeyPrefix  = "THROTTLE_STORE_KEY_PREFIX"
	EnvStoreTimeout    = "THROTTLE_STORE_TIMEOUT"
	EnvCleanupInterval = "THROTTLE_CLEANUP_INTERVAL"
	EnvTrustRemoteAddr = "THROTTLE_TRUST_REMOTE_ADDR"
	EnvLogLevel        = "THROTTLE_LOG_LEVEL"
	EnvLogFormat       = "THROTTLE_LOG_FORMAT"
)

// Config is the top-level configuration for a throttle process.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Memory   MemoryConfig
	Log      LogConfig
	Policies []limiter.Policy // overrides and additions to the built-in policies
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	// TrustRemoteAddr keys requests without X-Forwarded-For by the
	// connection's remote host instead of one shared "unknown" bucket.
	TrustRemoteAddr bool
}

// StoreConfig holds shared store settings.
type StoreConfig struct {
	URL         string
	Token       string
	KeyPrefix   string
	Timeout     time.Duration
	DialTimeout time.Duration
	PoolSize    int
	MaxRetries  int
}

// Shared reports whether both URL and Token are set, selecting shared mode.
func (s StoreConfig) Shared() bool {
	return s.URL != "" && s.Token != ""
}

// Partial reports whether exactly one of URL and Token is set.
func (s StoreConfig) Partial() bool {
	return (s.URL == "") != (s.Token == "")
}

type MemoryConfig struct {
	CleanupInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			TrustRemoteAddr: true,
		},
		Store: StoreConfig{
			KeyPrefix:   "ratelimit:",
			Timeout:     500 * time.Millisecond,
			DialTimeout: 2 * time.Second,
			PoolSize:    20,
			MaxRetries:  3,
		},
		Memory: MemoryConfig{
			CleanupInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive, got %s", c.Store.Timeout)
	}
	if c.Store.DialTimeout <= 0 {
		return fmt.Errorf("store.dial_timeout must be positive, got %s", c.Store.DialTimeout)
	}
	if c.Store.PoolSize <= 0 {
		return fmt.Errorf("store.pool_size must be positive, got %d", c.Store.PoolSize)
	}
	if c.Store.MaxRetries <= 0 {
		return fmt.Errorf("store.max_retries must be positive, got %d", c.Store.MaxRetries)
	}
	if c.Store.URL != "" && !strings.HasPrefix(c.Store.URL, "redis://") && !strings.HasPrefix(c.Store.URL, "rediss://") {
		return fmt.Errorf("store.url must use redis:// or rediss://")
	}
	if c.Memory.CleanupInterval <= 0 {
		return fmt.Errorf("memory.cleanup_interval must be positive, got %s", c.Memory.CleanupInterval)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("policies: %w", err)
	}
	return nil
}

// Registry builds the policy registry: the built-in policies with entries
// from Policies replacing those of the same name, plus any new ones.
func (c Config) Registry() (*limiter.Registry, error) {
	policies := limiter.DefaultPolicies()
	index := make(map[string]int, len(policies))
	for i, p := range policies {
		index[p.Name] = i
	}
	seen := make(map[string]bool, len(c.Policies))
	for _, p := range c.Policies {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate policy %q", p.Name)
		}
		seen[p.Name] = true
		if i, ok := index[p.Name]; ok {
			policies[i] = p
			continue
		}
		policies = append(policies, p)
	}
	return limiter.NewRegistry(policies...)
}

// LoadFile reads a JSON or YAML config file, chosen by extension, and merges
// it over defaults. Fields not specified in the file keep their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return cfg, fmt.Errorf("unsupported config file extension %q (want .json, .yaml or .yml)", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if err := raw.apply(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays THROTTLE_* variables found by lookup (os.LookupEnv in
// production). Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := get(EnvStoreURL); ok {
		c.Store.URL = v
	}
	if v, ok := get(EnvStoreToken); ok {
		c.Store.Token = v
	}
	if v, ok := get(EnvStoreKeyPrefix); ok {
		c.Store.KeyPrefix = v
	}
	if v, ok := get(EnvStoreTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvStoreTimeout, err)
		}
		c.Store.Timeout = d
	}
	if v, ok := get(EnvCleanupInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvCleanupInterval, err)
		}
		c.Memory.CleanupInterval = d
	}
	if v, ok := get(EnvTrustRemoteAddr); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvTrustRemoteAddr, err)
		}
		c.Server.TrustRemoteAddr = b
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		c.Log.Format = v
	}
	return nil
}

// WriteExample writes an example YAML config file to path. It holds the
// defaults and the built-in policies; the store token is left to the
// environment.
func WriteExample(path string) error {
	cfg := Default()
	cfg.Store.URL = "redis://localhost:6379/0"
	cfg.Policies = limiter.DefaultPolicies()

	data, err := yaml.Marshal(toRaw(cfg))
	if err != nil {
		return fmt.Errorf("encoding example config: %w", err)
	}
	header := "# throttle configuration. Set THROTTLE_STORE_TOKEN to enable the shared store.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
