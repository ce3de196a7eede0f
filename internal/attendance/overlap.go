package attendance

import (
	"sort"

	"rollcall/internal/clock"
)

// FindConflict returns the already-marked session on the same date whose time
// range intersects the candidate's, or nil. Touching ranges are not conflicts.
// When several conflict, the earliest-starting one wins, then the lowest id.
func FindConflict(candidate Session, marked []Session) (*Session, error) {
	span, err := clock.Span(candidate.StartTime, candidate.EndTime)
	if err != nil {
		return nil, malformedTime(candidate, err)
	}

	type hit struct {
		session Session
		start   int
	}
	var hits []hit
	for _, m := range marked {
		if m.ID == candidate.ID || m.SessionDate != candidate.SessionDate {
			continue
		}
		other, err := clock.Span(m.StartTime, m.EndTime)
		if err != nil {
			return nil, malformedTime(m, err)
		}
		if span.Overlaps(other) {
			hits = append(hits, hit{session: m, start: other.Start})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].start != hits[j].start {
			return hits[i].start < hits[j].start
		}
		return hits[i].session.ID < hits[j].session.ID
	})
	first := hits[0].session
	return &first, nil
}
