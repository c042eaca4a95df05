// Package limiter implements fixed-window request throttling.
//
// A Policy names a key namespace and a limit per window. Evaluate is the pure
// decision rule; Limiter applies it against a storage.Store, preferring a
// shared store and falling back to process-local counters whenever the shared
// store fails.
package limiter

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrInvalidPolicy marks a policy that fails validation.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
	// ErrUnknownPolicy is returned when a policy name is not registered.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
)

// Policy is a static rate limit: at most Limit requests per Window for each
// identifier in the Name namespace.
type Policy struct {
	Name   string        `json:"name" yaml:"name"`
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

// Validate rejects non-positive limits, windows under a millisecond and names
// containing whitespace or the key separator.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("%w %q: limit must be positive, got %d", ErrInvalidPolicy, p.Name, p.Limit)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("%w %q: window must be at least 1ms, got %s", ErrInvalidPolicy, p.Name, p.Window)
	}
	if strings.ContainsAny(p.Name, " \t\r\n:") {
		return fmt.Errorf("%w %q: name must not contain whitespace or ':'", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// Key returns the store key for identifier under this policy.
func (p Policy) Key(identifier string) string {
	if p.Name == "" {
		return identifier
	}
	return p.Name + ":" + identifier
}

// WindowMillis is the window length in milliseconds.
func (p Policy) WindowMillis() int64 {
	return p.Window.Milliseconds()
}

func (p Policy) String() string {
	return fmt.Sprintf("%s(%d/%s)", p.Name, p.Limit, p.Window)
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool  `json:"success"`
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	Reset     int64 `json:"reset"` // unix epoch milliseconds when the window ends
}

// ResetTime returns Reset as a time.Time.
func (d Decision) ResetTime() time.Time {
	return time.UnixMilli(d.Reset)
}

// RetryAfter returns the whole seconds until the window resets, rounded up,
// for use in a Retry-After header. Never negative.
func (d Decision) RetryAfter(now time.Time) int {
	ms := d.Reset - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000))
}
