package config

import (
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
)

// rawConfig is the file representation, with string durations.
type rawConfig struct {
	Server struct {
		Addr            string `json:"addr,omitempty" yaml:"addr,omitempty"`
		ShutdownTimeout string `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
		TrustRemoteAddr *bool  `json:"trust_remote_addr,omitempty" yaml:"trust_remote_addr,omitempty"`
	} `json:"server" yaml:"server"`
	Store struct {
		URL         string `json:"url,omitempty" yaml:"url,omitempty"`
		Token       string `json:"token,omitempty" yaml:"token,omitempty"`
		KeyPrefix   string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
		Timeout     string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
		DialTimeout string `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
		PoolSize    int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
		MaxRetries  int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	} `json:"store" yaml:"store"`
	Memory struct {
		CleanupInterval string `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
	} `json:"memory" yaml:"memory"`
	Log struct {
		Level  string `json:"level,omitempty" yaml:"level,omitempty"`
		Format string `json:"format,omitempty" yaml:"format,omitempty"`
	} `json:"log" yaml:"log"`
	Policies []rawPolicy `json:"policies,omitempty" yaml:"policies,omitempty"`
}

type rawPolicy struct {
	Name   string `json:"name" yaml:"name"`
	Limit  int    `json:"limit" yaml:"limit"`
	Window string `json:"window" yaml:"window"`
}

func (raw *rawConfig) apply(cfg *Config) error {
	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if err := setDuration(&cfg.Server.ShutdownTimeout, raw.Server.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
		return err
	}
	if raw.Server.TrustRemoteAddr != nil {
		cfg.Server.TrustRemoteAddr = *raw.Server.TrustRemoteAddr
	}

	if raw.Store.URL != "" {
		cfg.Store.URL = raw.Store.URL
	}
	if raw.Store.Token != "" {
		cfg.Store.Token = raw.Store.Token
	}
	if raw.Store.KeyPrefix != "" {
		cfg.Store.KeyPrefix = raw.Store.KeyPrefix
	}
	if err := setDuration(&cfg.Store.Timeout, raw.Store.Timeout, "store.timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Store.DialTimeout, raw.Store.DialTimeout, "store.dial_timeout"); err != nil {
		return err
	}
	if raw.Store.PoolSize > 0 {
		cfg.Store.PoolSize = raw.Store.PoolSize
	}
	if raw.Store.MaxRetries > 0 {
		cfg.Store.MaxRetries = raw.Store.MaxRetries
	}

	if err := setDuration(&cfg.Memory.CleanupInterval, raw.Memory.CleanupInterval, "memory.cleanup_interval"); err != nil {
		return err
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	if raw.Log.Format != "" {
		cfg.Log.Format = raw.Log.Format
	}

	for i, rp := range raw.Policies {
		window, err := time.ParseDuration(rp.Window)
		if err != nil {
			return fmt.Errorf("parsing policies[%d].window: %w", i, err)
		}
		cfg.Policies = append(cfg.Policies, limiter.Policy{Name: rp.Name, Limit: rp.Limit, Window: window})
	}
	return nil
}

func setDuration(dst *time.Duration, s, field string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = d
	return nil
}

func toRaw(cfg Config) rawConfig {
	var raw rawConfig
	trust := cfg.Server.TrustRemoteAddr
	raw.Server.Addr = cfg.Server.Addr
	raw.Server.ShutdownTimeout = cfg.Server.ShutdownTimeout.String()
	raw.Server.TrustRemoteAddr = &trust
	raw.Store.URL = cfg.Store.URL
	raw.Store.KeyPrefix = cfg.Store.KeyPrefix
	raw.Store.Timeout = cfg.Store.Timeout.String()
	raw.Store.DialTimeout = cfg.Store.DialTimeout.String()
	raw.Store.PoolSize = cfg.Store.PoolSize
	raw.Store.MaxRetries = cfg.Store.MaxRetries
	raw.Memory.CleanupInterval = cfg.Memory.CleanupInterval.String()
	raw.Log.Level = cfg.Log.Level
	raw.Log.Format = cfg.Log.Format
	for _, p := range cfg.Policies {
		raw.Policies = append(raw.Policies, rawPolicy{Name: p.Name, Limit: p.Limit, Window: p.Window.String()})
	}
	return raw
}
