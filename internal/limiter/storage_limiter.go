package limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
	"github.com/SmitUplenchwar2687/Throttle/internal/storage"
)

// Mode names the store serving decisions.
type Mode string

const (
	ModeShared Mode = "shared"
	ModeLocal  Mode = "local"
)

// Options configures a Limiter.
type Options struct {
	// Shared is the cross-instance store. Nil selects local mode.
	Shared storage.Store
	// Local holds process counters, used directly in local mode and as the
	// fallback in shared mode. Nil creates one with default settings.
	Local *storage.MemoryStore
	// Registry resolves policy names for AllowNamed. Nil uses DefaultRegistry.
	Registry *Registry
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *Metrics
	// OnDecision, if set, receives every decision. It runs on the calling
	// goroutine and must not block.
	OnDecision func(Event)
}

// Limiter checks requests against fixed-window policies.
//
// In shared mode every check runs against the shared store first; any error
// from it re-runs the same check against local counters. Allow therefore
// always produces a decision, at the cost of per-instance limits while the
// shared store is down.
type Limiter struct {
	shared     storage.Store
	local      *storage.MemoryStore
	registry   *Registry
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *Metrics
	onDecision func(Event)
}

// New constructs a Limiter. The store strategy is fixed for its lifetime.
func New(opts Options) (*Limiter, error) {
	c := clock.OrReal(opts.Clock)

	local := opts.Local
	if local == nil {
		var err error
		local, err = storage.NewMemoryStore(&storage.MemoryConfig{Clock: c})
		if err != nil {
			return nil, fmt.Errorf("creating local store: %w", err)
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Limiter{
		shared:     opts.Shared,
		local:      local,
		registry:   registry,
		clock:      c,
		logger:     logger,
		metrics:    opts.Metrics,
		onDecision: opts.OnDecision,
	}, nil
}

// Mode reports which store serves decisions when healthy.
func (l *Limiter) Mode() Mode {
	if l.shared != nil {
		return ModeShared
	}
	return ModeLocal
}

func (l *Limiter) Registry() *Registry {
	return l.registry
}

func (l *Limiter) Clock() clock.Clock {
	return l.clock
}

// Allow counts one request by identifier against p and reports whether it is
// permitted.
//
// Store failures never surface: a shared store error falls back to local
// counters, and if those fail too the request is allowed as the first in a
// fresh window. An invalid policy denies the request.
func (l *Limiter) Allow(ctx context.Context, identifier string, p Policy) Decision {
	now := l.clock.Now()

	if err := p.Validate(); err != nil {
		l.logger.Error("rejecting request under invalid policy",
			"policy", p.Name, "key", identifier, "error", err)
		return Decision{Allowed: false, Remaining: 0, Limit: p.Limit, Reset: now.UnixMilli()}
	}

	key := p.Key(identifier)
	mode := l.Mode()
	fallback := false

	var (
		d   Decision
		err error
	)
	if l.shared != nil {
		d, err = l.check(ctx, l.shared, ModeShared, key, p, now)
		if err != nil {
			l.logger.Warn("shared store failed, using local counters",
				"policy", p.Name, "key", key, "error", err)
			l.metrics.observeFallback(p.Name)
			mode, fallback = ModeLocal, true
		}
	}
	if l.shared == nil || err != nil {
		// Local counters are consulted even when the caller has given up.
		d, err = l.check(context.WithoutCancel(ctx), l.local, ModeLocal, key, p, now)
		if err != nil {
			l.logger.Error("local store failed, allowing request",
				"policy", p.Name, "key", key, "error", err)
			d, _ = Evaluate(p, nil, now)
		}
	}

	l.metrics.observeDecision(p.Name, mode, d)
	if l.onDecision != nil {
		l.onDecision(newEvent(now, p, identifier, mode, fallback, d))
	}
	return d
}

// AllowNamed is Allow for a policy looked up in the registry.
func (l *Limiter) AllowNamed(ctx context.Context, identifier, name string) (Decision, error) {
	p, ok := l.registry.Lookup(name)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return l.Allow(ctx, identifier, p), nil
}

func (l *Limiter) check(ctx context.Context, s storage.Store, mode Mode, key string, p Policy, now time.Time) (Decision, error) {
	var d Decision
	start := time.Now()
	err := s.Update(ctx, key, func(current *storage.Record) *storage.Record {
		var next *storage.Record
		d, next = Evaluate(p, current, now)
		return next
	})
	l.metrics.observeStore(mode, time.Since(start))
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Ping checks the store that serves decisions when healthy.
func (l *Limiter) Ping(ctx context.Context) error {
	if l.shared != nil {
		return l.shared.Ping(ctx)
	}
	return l.local.Ping(ctx)
}

// Close releases both stores.
func (l *Limiter) Close() error {
	var errs []error
	if l.shared != nil {
		if err := l.shared.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing shared store: %w", err))
		}
	}
	if err := l.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing local store: %w", err))
	}
	return errors.Join(errs...)
}
