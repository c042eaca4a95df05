package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
)

type decisionKey struct{}

// DecisionFromContext returns the decision RateLimit stored for an admitted
// request.
func DecisionFromContext(ctx context.Context) (limiter.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(limiter.Decision)
	return d, ok
}

// PolicyFromURL resolves the policy name from a chi URL parameter.
func PolicyFromURL(param string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, param)
	}
}

// StaticPolicy always resolves to name.
func StaticPolicy(name string) func(*http.Request) string {
	return func(*http.Request) string { return name }
}

// MiddlewareConfig configures RateLimit.
type MiddlewareConfig struct {
	Limiter *limiter.Limiter
	// Policy resolves the policy name for a request.
	Policy func(*http.Request) string
	// Identify derives the identifier. Nil uses ClientIdentifier(true).
	Identify limiter.IdentifierFunc
	Logger   *slog.Logger
}

// RateLimit checks each request against a named policy. Every response gets
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset (unix
// milliseconds). Denied requests get 429 with Retry-After; admitted ones carry
// their decision in the request context.
func RateLimit(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	identify := cfg.Identify
	if identify == nil {
		identify = limiter.ClientIdentifier(true)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := cfg.Policy(r)
			id := identify(r)

			d, err := cfg.Limiter.AllowNamed(r.Context(), id, name)
			if errors.Is(err, limiter.ErrUnknownPolicy) {
				writeError(w, http.StatusNotFound, "unknown policy: "+name)
				return
			}
			if err != nil {
				logger.Error("rate limit check failed", "policy", name, "key", id, "error", err)
				writeError(w, http.StatusInternalServerError, "rate limit check failed")
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset, 10))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter(cfg.Limiter.Clock().Now())))
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
		})
	}
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
