// Package ratelimit is the public API for embedding throttle in another
// service: a fixed-window limiter over local or shared counters, and the HTTP
// middleware that applies it.
package ratelimit

import (
	"net/http"
	"time"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/Throttle/internal/server"
	"github.com/SmitUplenchwar2687/Throttle/internal/storage"
)

type (
	// Policy is at most Limit requests per Window for each identifier.
	Policy = limiter.Policy
	// Decision is the outcome of one check.
	Decision = limiter.Decision
	// Limiter checks requests, falling back to local counters when the
	// shared store fails.
	Limiter = limiter.Limiter
	Options = limiter.Options
	Event   = limiter.Event
	Mode    = limiter.Mode

	Registry       = limiter.Registry
	IdentifierFunc = limiter.IdentifierFunc
	Metrics        = limiter.Metrics

	Store        = storage.Store
	Record       = storage.Record
	MemoryStore  = storage.MemoryStore
	MemoryConfig = storage.MemoryConfig
	RedisStore   = storage.RedisStore
	RedisConfig  = storage.RedisConfig

	Clock        = clock.Clock
	VirtualClock = clock.VirtualClock

	MiddlewareConfig = server.MiddlewareConfig
)

const (
	ModeShared = limiter.ModeShared
	ModeLocal  = limiter.ModeLocal

	PolicyUsernameCheck = limiter.PolicyUsernameCheck
	PolicyBattery       = limiter.PolicyBattery
	PolicySettings      = limiter.PolicySettings
	PolicyUsernameClaim = limiter.PolicyUsernameClaim
	PolicyOGImage       = limiter.PolicyOGImage
	PolicySticker       = limiter.PolicySticker
)

var (
	ErrInvalidPolicy = limiter.ErrInvalidPolicy
	ErrUnknownPolicy = limiter.ErrUnknownPolicy
	ErrConflict      = storage.ErrConflict
	ErrClosed        = storage.ErrClosed
)

// New constructs a Limiter.
func New(opts Options) (*Limiter, error) {
	return limiter.New(opts)
}

// NewLocal returns a Limiter using only process-local counters.
func NewLocal() (*Limiter, error) {
	return limiter.New(limiter.Options{})
}

// NewShared returns a Limiter backed by the Redis store at url, authenticated
// with token, falling back to local counters on any store failure.
func NewShared(url, token string) (*Limiter, error) {
	shared, err := storage.NewRedisStore(&storage.RedisConfig{URL: url, Token: token})
	if err != nil {
		return nil, err
	}
	lim, err := limiter.New(limiter.Options{Shared: shared})
	if err != nil {
		_ = shared.Close()
		return nil, err
	}
	return lim, nil
}

// Evaluate is the pure fixed-window rule.
func Evaluate(p Policy, current *Record, now time.Time) (Decision, *Record) {
	return limiter.Evaluate(p, current, now)
}

func NewRegistry(policies ...Policy) (*Registry, error) {
	return limiter.NewRegistry(policies...)
}

func DefaultRegistry() *Registry {
	return limiter.DefaultRegistry()
}

// ClientIdentifier keys requests by forwarded or remote client address.
func ClientIdentifier(trustRemoteAddr bool) IdentifierFunc {
	return limiter.ClientIdentifier(trustRemoteAddr)
}

// Middleware rate limits every request under the named policy, keyed by
// client address.
func Middleware(lim *Limiter, policy string) func(http.Handler) http.Handler {
	return server.RateLimit(server.MiddlewareConfig{
		Limiter:  lim,
		Policy:   server.StaticPolicy(policy),
		Identify: limiter.ClientIdentifier(true),
	})
}

// RateLimit is Middleware with full configuration.
func RateLimit(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return server.RateLimit(cfg)
}

// DecisionFromContext returns the decision stored by the middleware.
func DecisionFromContext(r *http.Request) (Decision, bool) {
	return server.DecisionFromContext(r.Context())
}

func NewMemoryStore(cfg *MemoryConfig) (*MemoryStore, error) {
	return storage.NewMemoryStore(cfg)
}

func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	return storage.NewRedisStore(cfg)
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return clock.NewVirtualClock(start)
}
