package limiter

import (
	"time"

	"github.com/google/uuid"
)

// Event describes one decision, for streaming to observers.
type Event struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Policy     string    `json:"policy"`
	Identifier string    `json:"identifier"`
	Mode       Mode      `json:"mode"`     // store that served the decision
	Fallback   bool      `json:"fallback"` // shared store failed, local counters used
	Decision   Decision  `json:"decision"`
}

func newEvent(now time.Time, p Policy, identifier string, mode Mode, fallback bool, d Decision) Event {
	return Event{
		ID:         uuid.NewString(),
		Time:       now,
		Policy:     p.Name,
		Identifier: identifier,
		Mode:       mode,
		Fallback:   fallback,
		Decision:   d,
	}
}
