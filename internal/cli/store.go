package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
	"github.com/SmitUplenchwar2687/Throttle/internal/config"
	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/Throttle/internal/storage"
)

const storeReadyAttempts = 3

type storeOptions struct {
	url             string
	token           string
	timeout         time.Duration
	cleanupInterval time.Duration
}

func (o *storeOptions) addFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().StringVar(&o.url, "store-url", "", "shared store URL (redis:// or rediss://)")
	cmd.Flags().StringVar(&o.token, "store-token", "", "shared store token; with --store-url enables shared mode")
	cmd.Flags().DurationVar(&o.timeout, "store-timeout", def.Store.Timeout, "timeout for each shared store operation")
	cmd.Flags().DurationVar(&o.cleanupInterval, "cleanup-interval", def.Memory.CleanupInterval, "interval between sweeps of expired local counters")
}

// applyIfChanged overrides cfg with flags set on the command line.
func (o *storeOptions) applyIfChanged(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("store-url") {
		cfg.Store.URL = o.url
	}
	if flags.Changed("store-token") {
		cfg.Store.Token = o.token
	}
	if flags.Changed("store-timeout") {
		cfg.Store.Timeout = o.timeout
	}
	if flags.Changed("cleanup-interval") {
		cfg.Memory.CleanupInterval = o.cleanupInterval
	}
}

type limiterDeps struct {
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *limiter.Metrics
	onDecision func(limiter.Event)
}

// buildLimiter creates the stores cfg selects and the limiter over them.
// An unreachable shared store is logged, not fatal: checks fall back to local
// counters until it recovers.
func buildLimiter(ctx context.Context, cfg config.Config, deps limiterDeps) (*limiter.Limiter, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	local, err := storage.NewMemoryStore(&storage.MemoryConfig{
		CleanupInterval: cfg.Memory.CleanupInterval,
		Clock:           deps.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	var shared storage.Store
	switch {
	case cfg.Store.Shared():
		rs, err := storage.NewRedisStore(&storage.RedisConfig{
			URL:         cfg.Store.URL,
			Token:       cfg.Store.Token,
			KeyPrefix:   cfg.Store.KeyPrefix,
			Timeout:     cfg.Store.Timeout,
			DialTimeout: cfg.Store.DialTimeout,
			PoolSize:    cfg.Store.PoolSize,
			MaxRetries:  cfg.Store.MaxRetries,
			Clock:       deps.clock,
		})
		if err != nil {
			_ = local.Close()
			return nil, fmt.Errorf("creating shared store: %w", err)
		}
		if err := rs.WaitReady(ctx, storeReadyAttempts); err != nil {
			deps.logger.Warn("shared store unreachable, checks will use local counters until it recovers",
				"error", err)
		}
		shared = rs
	case cfg.Store.Partial():
		deps.logger.Warn("store url and token must both be set for shared mode, using local counters")
	}

	lim, err := limiter.New(limiter.Options{
		Shared:     shared,
		Local:      local,
		Registry:   registry,
		Clock:      deps.clock,
		Logger:     deps.logger,
		Metrics:    deps.metrics,
		OnDecision: deps.onDecision,
	})
	if err != nil {
		_ = local.Close()
		if shared != nil {
			_ = shared.Close()
		}
		return nil, err
	}
	deps.logger.Info("limiter ready", "mode", lim.Mode(), "policies", registry.Len())
	return lim, nil
}
