package attendance

import (
	"fmt"
	"strings"
	"time"

	"rollcall/internal/clock"
)

// Policy decides whether marking is allowed after a session has ended.
type Policy string

const (
	// PolicyStrict only accepts marks while the session is open.
	PolicyStrict Policy = "strict"
	// PolicyGrace also accepts marks up to the grace period after the scheduled
	// end, recorded as late. Sessions closed early by a delegate stay closed.
	PolicyGrace Policy = "grace"
)

// ParsePolicy accepts "strict" or "grace".
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyStrict, PolicyGrace:
		return p, nil
	case "":
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown mark policy %q", s)
	}
}

// Attempt is everything the guard needs to decide one submission.
type Attempt struct {
	Session       Session
	AlreadyMarked bool
	// Marked holds the sessions the student already marked on the session's date.
	Marked []Session
	Now    time.Time
}

// Guard authorises attendance submissions. It has no side effects.
type Guard struct {
	clock    *clock.Clock
	policy   Policy
	grace    time.Duration
	resolver Resolver
}

// NewGuard builds a guard. grace is ignored under PolicyStrict.
func NewGuard(c *clock.Clock, policy Policy, grace time.Duration) *Guard {
	if policy == "" {
		policy = PolicyStrict
	}
	if grace < 0 {
		grace = 0
	}
	return &Guard{clock: c, policy: policy, grace: grace, resolver: Resolver{Clock: c}}
}

// Policy returns the configured late-marking policy.
func (g *Guard) Policy() Policy { return g.policy }

// Check runs the rules in order: already marked, time conflict, session open.
// It returns the status to persist when every rule passes.
func (g *Guard) Check(a Attempt) (Status, error) {
	if a.AlreadyMarked {
		return "", AlreadyMarked(a.Session)
	}

	w, err := SessionWindow(g.clock, a.Session)
	if err != nil {
		return "", malformedTime(a.Session, err)
	}

	conflict, err := FindConflict(a.Session, a.Marked)
	if err != nil {
		return "", err
	}
	if conflict != nil {
		return "", TimeConflict(a.Session, *conflict)
	}

	if state := classifySession(a.Session, w, a.Now); state != Open && !g.acceptsLate(a.Session, w, state, a.Now) {
		return "", sessionNotOpen(a.Session, state)
	}

	return g.resolver.Resolve(a.Session, a.Now)
}

func (g *Guard) acceptsLate(s Session, w clock.Window, state Lifecycle, now time.Time) bool {
	if g.policy != PolicyGrace || state != Closed {
		return false
	}
	scheduled, err := g.clock.Window(s.SessionDate, s.StartTime, s.EndTime)
	if err != nil || w.End.Before(scheduled.End) {
		return false
	}
	return !now.After(w.End.Add(g.grace))
}
