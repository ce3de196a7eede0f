package attendance

import (
	"time"

	"rollcall/internal/clock"
)

// ResolveStatus returns present when now is at or before end, late after it.
func ResolveStatus(end, now time.Time) Status {
	if now.After(end) {
		return StatusLate
	}
	return StatusPresent
}

// Resolver classifies submissions against a session's effective end.
type Resolver struct {
	Clock *clock.Clock
	// Legacy resolves malformed sessions to present instead of failing.
	// Only meant for comparing against historical data.
	Legacy bool
}

// Resolve fails closed with MALFORMED_SESSION_TIME unless Legacy is set.
func (r Resolver) Resolve(s Session, now time.Time) (Status, error) {
	w, err := SessionWindow(r.Clock, s)
	if err != nil {
		if r.Legacy {
			return StatusPresent, nil
		}
		return "", malformedTime(s, err)
	}
	return ResolveStatus(w.End, now), nil
}
