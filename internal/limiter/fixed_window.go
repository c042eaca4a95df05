package limiter

import (
	"time"

	"github.com/SmitUplenchwar2687/Throttle/internal/storage"
)

// Evaluate applies the fixed-window rule to the stored record for one
// identifier and returns the decision with the record to persist.
//
// A missing record, or one whose window ended before now, starts a new window
// of p.Window counting this request. A record already at the limit is denied
// and the returned record is nil: nothing needs writing. Otherwise the count
// is incremented within the existing window.
//
// Evaluate has no side effects and is defined for every input; callers are
// expected to have validated p.
func Evaluate(p Policy, current *storage.Record, now time.Time) (Decision, *storage.Record) {
	nowMs := now.UnixMilli()

	if current == nil || current.Expired(nowMs) {
		next := &storage.Record{Count: 1, ResetAt: nowMs + p.WindowMillis()}
		return Decision{
			Allowed:   true,
			Remaining: p.Limit - 1,
			Limit:     p.Limit,
			Reset:     next.ResetAt,
		}, next
	}

	if current.Count >= p.Limit {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     p.Limit,
			Reset:     current.ResetAt,
		}, nil
	}

	next := &storage.Record{Count: current.Count + 1, ResetAt: current.ResetAt}
	return Decision{
		Allowed:   true,
		Remaining: p.Limit - next.Count,
		Limit:     p.Limit,
		Reset:     next.ResetAt,
	}, next
}
