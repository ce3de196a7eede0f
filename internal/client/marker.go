package client

import (
	"context"
	"errors"
	"sync"

	"rollcall/internal/attendance"
)

// ErrInFlight means a submission for the same session is still pending.
var ErrInFlight = errors.New("attendance submission already in progress")

// Submitter is the part of the API the marker needs.
type Submitter interface {
	Mark(ctx context.Context, sessionID string) (attendance.Record, error)
	MarkedSessions(ctx context.Context, date string) ([]attendance.MarkedSession, error)
}

// Marker submits attendance with a local fast path. It rejects sessions the
// student already marked or that overlap one, and refuses a second submit of
// a session while the first is pending. The server stays authoritative; local
// state only changes after it accepts a mark.
type Marker struct {
	api Submitter

	mu       sync.Mutex
	marked   map[string]attendance.Session
	inflight map[string]bool
}

// NewMarker creates a marker with an empty local view.
func NewMarker(api Submitter) *Marker {
	return &Marker{api: api, marked: map[string]attendance.Session{}, inflight: map[string]bool{}}
}

// Sync replaces the local view with the server's marks on date.
func (m *Marker) Sync(ctx context.Context, date string) error {
	marked, err := m.api.MarkedSessions(ctx, date)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = make(map[string]attendance.Session, len(marked))
	for _, ms := range marked {
		m.marked[ms.Session.ID] = ms.Session
	}
	return nil
}

// Marked returns the sessions in the local view.
func (m *Marker) Marked() []attendance.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Session, 0, len(m.marked))
	for _, s := range m.marked {
		out = append(out, s)
	}
	return out
}

// Submit marks s after the local checks pass.
func (m *Marker) Submit(ctx context.Context, s attendance.Session) (attendance.Record, error) {
	if err := m.begin(s); err != nil {
		return attendance.Record{}, err
	}
	rec, err := m.api.Mark(ctx, s.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, s.ID)
	if err != nil {
		return attendance.Record{}, err
	}
	m.marked[s.ID] = s
	return rec, nil
}

func (m *Marker) begin(s attendance.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[s.ID] {
		return ErrInFlight
	}
	if _, ok := m.marked[s.ID]; ok {
		return attendance.AlreadyMarked(s)
	}
	others := make([]attendance.Session, 0, len(m.marked))
	for _, ms := range m.marked {
		others = append(others, ms)
	}
	conflict, err := attendance.FindConflict(s, others)
	if err != nil {
		return err
	}
	if conflict != nil {
		return attendance.TimeConflict(s, *conflict)
	}
	m.inflight[s.ID] = true
	return nil
}
