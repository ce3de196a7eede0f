package attendance

import (
	"time"

	"rollcall/internal/clock"
)

// SessionWindow resolves a session's effective window, honouring an early close.
func SessionWindow(c *clock.Clock, s Session) (clock.Window, error) {
	w, err := c.Window(s.SessionDate, s.StartTime, s.EndTime)
	if err != nil {
		return clock.Window{}, err
	}
	if s.ClosedAt != nil {
		w = w.CloseAt(s.ClosedAt.UTC())
	}
	return w, nil
}

// Classify places now relative to the window. There is no reopening.
func Classify(w clock.Window, now time.Time) Lifecycle {
	switch {
	case now.Before(w.Start):
		return Scheduled
	case now.Before(w.End):
		return Open
	default:
		return Closed
	}
}

// classifySession is Classify for a stored session. Once closed explicitly
// a session stays closed, even when the close came before its start.
func classifySession(s Session, w clock.Window, now time.Time) Lifecycle {
	if s.ClosedAt != nil && !now.Before(*s.ClosedAt) {
		return Closed
	}
	return Classify(w, now)
}

// ClassifySession resolves and classifies in one step.
func ClassifySession(c *clock.Clock, s Session, now time.Time) (Lifecycle, error) {
	w, err := SessionWindow(c, s)
	if err != nil {
		return "", malformedTime(s, err)
	}
	return classifySession(s, w, now), nil
}
