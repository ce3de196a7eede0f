package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// Sessions lists sessions with their lifecycle evaluated now.
type Sessions interface {
	ListSessions(ctx context.Context, courseID, date string) ([]attendance.SessionView, error)
	SessionStatus(ctx context.Context, id string) (attendance.SessionView, error)
}

// Records reads attendance records.
type Records interface {
	CourseRecords(ctx context.Context, courseID string) ([]attendance.Record, error)
	SessionRecords(ctx context.Context, sessionID string) ([]attendance.Record, error)
}

// Roster reads courses and their students.
type Roster interface {
	GetCourse(ctx context.Context, id string) (roster.Course, error)
	ListStudents(ctx context.Context, courseID string) ([]roster.Student, error)
}

// StudentSummary is one student's attendance over a course's closed sessions.
type StudentSummary struct {
	StudentID  string  `json:"student_id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Sessions   int     `json:"sessions"`
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Percentage float64 `json:"percentage"`
}

// SessionLine is one session's totals.
type SessionLine struct {
	SessionID   string               `json:"session_id"`
	SessionDate string               `json:"session_date"`
	StartTime   string               `json:"start_time"`
	EndTime     string               `json:"end_time"`
	Lifecycle   attendance.Lifecycle `json:"lifecycle"`
	Present     int                  `json:"present"`
	Late        int                  `json:"late"`
	Absent      int                  `json:"absent"`
}

// CourseSummary aggregates a course's attendance.
type CourseSummary struct {
	Course         roster.Course    `json:"course"`
	GeneratedAt    time.Time        `json:"generated_at"`
	ClosedSessions int              `json:"closed_sessions"`
	Students       []StudentSummary `json:"students"`
	Sessions       []SessionLine    `json:"sessions"`
	// ValidUntil is the next scheduled start or end of one of the sessions,
	// when the lifecycles above stop being current.
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// RosterEntry is one student's state in a session. Status is empty while the
// session has not closed and the student has not marked.
type RosterEntry struct {
	StudentID string            `json:"student_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Status    attendance.Status `json:"status,omitempty"`
	MarkedAt  *time.Time        `json:"marked_at,omitempty"`
}

// SessionRoster lists every enrolled student for one session.
type SessionRoster struct {
	Session attendance.SessionView `json:"session"`
	Present int                    `json:"present"`
	Late    int                    `json:"late"`
	Absent  int                    `json:"absent"`
	Entries []RosterEntry          `json:"entries"`
}

// Service builds course summaries and session rosters.
type Service struct {
	sessions Sessions
	records  Records
	roster   Roster
	cache    Cache
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a report service. cache may be nil.
func NewService(sessions Sessions, records Records, r Roster, cache Cache, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sessions: sessions, records: records, roster: r, cache: cache, ttl: ttl, now: time.Now, logger: logger}
}

// CourseSummary returns the cached summary or builds and caches a fresh one.
func (s *Service) CourseSummary(ctx context.Context, courseID string) (CourseSummary, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, courseID)
		if err != nil {
			s.logger.Warn("report cache read failed", zap.String("course_id", courseID), zap.Error(err))
		} else if ok && (cached.ValidUntil == nil || s.now().Before(*cached.ValidUntil)) {
			metrics.ReportCache.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.ReportCache.WithLabelValues("miss").Inc()
	}
	return s.Rebuild(ctx, courseID)
}

// Rebuild computes the summary and replaces the cached copy.
func (s *Service) Rebuild(ctx context.Context, courseID string) (CourseSummary, error) {
	summary, err := s.build(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}
	ttl := s.ttl
	if summary.ValidUntil != nil {
		ttl = min(ttl, summary.ValidUntil.Sub(s.now()))
	}
	if s.cache != nil && ttl > 0 {
		if err := s.cache.Set(ctx, summary, ttl); err != nil {
			s.logger.Warn("report cache write failed", zap.String("course_id", courseID), zap.Error(err))
		}
	}
	return summary, nil
}

// Invalidate drops the cached summary.
func (s *Service) Invalidate(ctx context.Context, courseID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, courseID)
}

func (s *Service) build(ctx context.Context, courseID string) (CourseSummary, error) {
	course, err := s.roster.GetCourse(ctx, courseID)
	if err != nil {
		return CourseSummary{}, err
	}
	students, err := s.roster.ListStudents(ctx, courseID)
	if err != nil {
		return CourseSummary{}, fmt.Errorf("list students: %w", err)
	}
	views, err := s.sessions.ListSessions(ctx, courseID, "")
	if err != nil {
		return CourseSummary{}, fmt.Errorf("list sessions: %w", err)
	}
	records, err := s.records.CourseRecords(ctx, courseID)
	if err != nil {
		return CourseSummary{}, fmt.Errorf("list records: %w", err)
	}
	return Summarize(course, students, views, records, s.now().UTC()), nil
}

// Summarize aggregates records over closed sessions. Absent is derived: a
// closed session without a record for an enrolled student.
func Summarize(course roster.Course, students []roster.Student, views []attendance.SessionView, records []attendance.Record, at time.Time) CourseSummary {
	byKey := make(map[string]attendance.Status, len(records))
	for _, r := range records {
		byKey[r.SessionID+"/"+r.StudentID] = r.Status
	}

	summary := CourseSummary{
		Course:      course,
		GeneratedAt: at,
		Students:    make([]StudentSummary, 0, len(students)),
		Sessions:    make([]SessionLine, 0, len(views)),
	}
	var closed []attendance.SessionView
	for _, v := range views {
		line := SessionLine{
			SessionID:   v.Session.ID,
			SessionDate: v.Session.SessionDate,
			StartTime:   v.Session.StartTime,
			EndTime:     v.Session.EndTime,
			Lifecycle:   v.Lifecycle,
		}
		for _, st := range students {
			switch byKey[v.Session.ID+"/"+st.ID] {
			case attendance.StatusPresent:
				line.Present++
			case attendance.StatusLate:
				line.Late++
			default:
				if v.Lifecycle == attendance.Closed {
					line.Absent++
				}
			}
		}
		summary.Sessions = append(summary.Sessions, line)
		if next, ok := nextTransition(v, at); ok && (summary.ValidUntil == nil || next.Before(*summary.ValidUntil)) {
			summary.ValidUntil = &next
		}
		if v.Lifecycle == attendance.Closed {
			closed = append(closed, v)
		}
	}
	summary.ClosedSessions = len(closed)

	for _, st := range students {
		row := StudentSummary{StudentID: st.ID, Name: st.Name, Email: st.Email, Sessions: len(closed)}
		for _, v := range closed {
			switch byKey[v.Session.ID+"/"+st.ID] {
			case attendance.StatusPresent:
				row.Present++
			case attendance.StatusLate:
				row.Late++
			default:
				row.Absent++
			}
		}
		row.Percentage = percentage(row.Present+row.Late, row.Sessions)
		summary.Students = append(summary.Students, row)
	}
	return summary
}

// nextTransition returns when v's lifecycle changes next, if that is after at.
func nextTransition(v attendance.SessionView, at time.Time) (time.Time, bool) {
	var t time.Time
	switch v.Lifecycle {
	case attendance.Scheduled:
		t = v.StartsAt
	case attendance.Open:
		t = v.EndsAt
	default:
		return time.Time{}, false
	}
	return t, t.After(at)
}

func percentage(attended, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*1000) / 10
}

// SessionRoster lists the enrolled students of the session's course with their status.
func (s *Service) SessionRoster(ctx context.Context, sessionID string) (SessionRoster, error) {
	view, err := s.sessions.SessionStatus(ctx, sessionID)
	if err != nil {
		return SessionRoster{}, err
	}
	students, err := s.roster.ListStudents(ctx, view.Session.CourseID)
	if err != nil {
		return SessionRoster{}, fmt.Errorf("list students: %w", err)
	}
	records, err := s.records.SessionRecords(ctx, sessionID)
	if err != nil {
		return SessionRoster{}, fmt.Errorf("list records: %w", err)
	}
	byStudent := make(map[string]attendance.Record, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}

	out := SessionRoster{Session: view, Entries: make([]RosterEntry, 0, len(students))}
	for _, st := range students {
		entry := RosterEntry{StudentID: st.ID, Name: st.Name, Email: st.Email}
		if rec, ok := byStudent[st.ID]; ok {
			at := rec.MarkedAt
			entry.Status = rec.Status
			entry.MarkedAt = &at
		} else if view.Lifecycle == attendance.Closed {
			entry.Status = attendance.StatusAbsent
		}
		switch entry.Status {
		case attendance.StatusPresent:
			out.Present++
		case attendance.StatusLate:
			out.Late++
		case attendance.StatusAbsent:
			out.Absent++
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

// CourseSessions returns the course and its sessions, for the calendar feed.
func (s *Service) CourseSessions(ctx context.Context, courseID string) (roster.Course, []attendance.SessionView, error) {
	course, err := s.roster.GetCourse(ctx, courseID)
	if err != nil {
		return roster.Course{}, nil, err
	}
	views, err := s.sessions.ListSessions(ctx, courseID, "")
	if err != nil {
		return roster.Course{}, nil, err
	}
	return course, views, nil
}
