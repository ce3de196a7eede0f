package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rollcall/internal/clock"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

const publishTimeout = 2 * time.Second

// Roster answers course and enrolment questions for the service.
type Roster interface {
	CourseExists(ctx context.Context, courseID string) (bool, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

// Service coordinates sessions and attendance submissions.
type Service struct {
	repo   Repository
	roster Roster
	clock  *clock.Clock
	guard  *Guard
	events queue.Queue
	logger *zap.Logger
}

// NewService creates a service. events may be nil.
func NewService(repo Repository, roster Roster, c *clock.Clock, guard *Guard, events queue.Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, roster: roster, clock: c, guard: guard, events: events, logger: logger}
}

// Clock returns the clock sessions are evaluated with.
func (s *Service) Clock() *clock.Clock { return s.clock }

// Mark records attendance for the student if every guard rule passes.
func (s *Service) Mark(ctx context.Context, studentID, sessionID string) (Record, error) {
	rec, err := s.mark(ctx, studentID, sessionID)
	if err != nil {
		if code := CodeOf(err); code != "" {
			metrics.MarksRejected.WithLabelValues(string(code)).Inc()
			s.logger.Info("attendance rejected",
				zap.String("student_id", studentID),
				zap.String("session_id", sessionID),
				zap.String("code", string(code)),
				zap.Error(err),
			)
		}
		return Record{}, err
	}
	metrics.MarksAccepted.WithLabelValues(string(rec.Status)).Inc()
	return rec, nil
}

func (s *Service) mark(ctx context.Context, studentID, sessionID string) (Record, error) {
	if studentID == "" || sessionID == "" {
		return Record{}, errors.New("student and session required")
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Record{}, err
		}
		return Record{}, persistence(err)
	}

	enrolled, err := s.roster.IsEnrolled(ctx, sess.CourseID, studentID)
	if err != nil {
		return Record{}, persistence(err)
	}
	if !enrolled {
		return Record{}, ErrNotEnrolled
	}

	existing, err := s.repo.FindRecord(ctx, studentID, sessionID)
	if err != nil {
		return Record{}, persistence(err)
	}

	marked, err := s.repo.MarkedSessions(ctx, studentID, sess.SessionDate)
	if err != nil {
		return Record{}, persistence(err)
	}
	markedSessions := make([]Session, 0, len(marked))
	for _, m := range marked {
		markedSessions = append(markedSessions, m.Session)
	}

	now := s.clock.Now()
	status, err := s.guard.Check(Attempt{
		Session:       sess,
		AlreadyMarked: existing != nil,
		Marked:        markedSessions,
		Now:           now,
	})
	if err != nil {
		return Record{}, err
	}

	rec, err := s.repo.InsertRecord(ctx, Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SessionID: sessionID,
		Status:    status,
		MarkedAt:  now,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, AlreadyMarked(sess)
		}
		s.logger.Error("insert attendance record failed", zap.String("session_id", sessionID), zap.Error(err))
		return Record{}, persistence(err)
	}

	s.publish(ctx, queue.TypeAttendanceMarked, queue.Event{
		CourseID:  sess.CourseID,
		SessionID: sess.ID,
		StudentID: studentID,
		At:        now,
	})
	return rec, nil
}

// CreateSession validates the window and course before persisting.
func (s *Service) CreateSession(ctx context.Context, in NewSession, createdBy string) (Session, error) {
	candidate := Session{
		CourseID:    in.CourseID,
		SessionDate: in.SessionDate,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		CreatedBy:   createdBy,
	}
	w, err := s.clock.Window(in.SessionDate, in.StartTime, in.EndTime)
	if err != nil {
		return Session{}, malformedTime(candidate, err)
	}
	// stored in canonical form; dates and times are compared as strings
	candidate.SessionDate = s.clock.LocalDate(w.Start)
	candidate.StartTime = s.clock.LocalTime(w.Start)
	candidate.EndTime = s.clock.LocalTime(w.End)

	ok, err := s.roster.CourseExists(ctx, in.CourseID)
	if err != nil {
		return Session{}, fmt.Errorf("lookup course: %w", err)
	}
	if !ok {
		return Session{}, ErrCourseNotFound
	}

	candidate.ID = uuid.NewString()
	candidate.CreatedAt = s.clock.Now()
	created, err := s.repo.CreateSession(ctx, candidate)
	if err != nil {
		s.logger.Error("create session failed", zap.String("course_id", in.CourseID), zap.Error(err))
		return Session{}, err
	}
	metrics.SessionsCreated.Inc()
	s.logger.Info("session created",
		zap.String("session_id", created.ID),
		zap.String("course_id", created.CourseID),
		zap.String("date", created.SessionDate),
		zap.String("start", created.StartTime),
		zap.String("end", created.EndTime),
	)
	return created, nil
}

// CloseSession ends a session early. Closing twice keeps the first close time.
func (s *Service) CloseSession(ctx context.Context, id string) (SessionView, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	now := s.clock.Now()
	if sess.ClosedAt == nil {
		if err := s.repo.CloseSession(ctx, id, now); err != nil {
			return SessionView{}, err
		}
		s.publish(ctx, queue.TypeSessionClosed, queue.Event{CourseID: sess.CourseID, SessionID: sess.ID, At: now})
		if sess, err = s.repo.GetSession(ctx, id); err != nil {
			return SessionView{}, err
		}
	}
	return s.view(sess, now)
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

// SessionStatus returns the session with its lifecycle state evaluated now.
func (s *Service) SessionStatus(ctx context.Context, id string) (SessionView, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess, s.clock.Now())
}

// ListSessions returns a course's sessions with lifecycle states.
func (s *Service) ListSessions(ctx context.Context, courseID, date string) ([]SessionView, error) {
	if date != "" {
		if _, err := clock.ParseDate(date); err != nil {
			return nil, err
		}
	}
	sessions, err := s.repo.ListSessions(ctx, courseID, date)
	if err != nil {
		return nil, err
	}
	return s.views(sessions, s.clock.Now()), nil
}

// OpenSessionsForStudent returns today's open sessions in the student's courses.
func (s *Service) OpenSessionsForStudent(ctx context.Context, studentID string) ([]SessionView, error) {
	sessions, err := s.repo.SessionsForStudent(ctx, studentID, s.clock.Today())
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	open := make([]SessionView, 0, len(sessions))
	for _, v := range s.views(sessions, now) {
		if v.Lifecycle == Open {
			open = append(open, v)
		}
	}
	return open, nil
}

// MarkedSessions returns what the student marked on date (today when empty).
func (s *Service) MarkedSessions(ctx context.Context, studentID, date string) ([]MarkedSession, error) {
	if date == "" {
		date = s.clock.Today()
	} else if _, err := clock.ParseDate(date); err != nil {
		return nil, err
	}
	marked, err := s.repo.MarkedSessions(ctx, studentID, date)
	if err != nil {
		return nil, err
	}
	if marked == nil {
		marked = []MarkedSession{}
	}
	return marked, nil
}

func (s *Service) view(sess Session, now time.Time) (SessionView, error) {
	w, err := SessionWindow(s.clock, sess)
	if err != nil {
		return SessionView{}, malformedTime(sess, err)
	}
	return SessionView{Session: sess, Lifecycle: classifySession(sess, w, now), StartsAt: w.Start, EndsAt: w.End}, nil
}

// views skips sessions whose stored times no longer parse.
func (s *Service) views(sessions []Session, now time.Time) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		v, err := s.view(sess, now)
		if err != nil {
			s.logger.Warn("skipping session with malformed times", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}

func (s *Service) publish(ctx context.Context, typ string, evt queue.Event) {
	if s.events == nil {
		return
	}
	msg, err := queue.NewEventMessage(typ, evt)
	if err == nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		err = s.events.Publish(pubCtx, msg)
		cancel()
	}
	if err != nil {
		s.logger.Warn("queue publish failed", zap.String("type", typ), zap.Error(err))
	}
}
