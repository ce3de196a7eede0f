package attendance

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rollcall/internal/clock"
	"rollcall/internal/queue"
	"rollcall/internal/store"
	"rollcall/internal/store/storetest"
)

type fakeRoster struct {
	courses   map[string]bool
	enrolment map[string]bool
	err       error
}

func (f *fakeRoster) CourseExists(_ context.Context, courseID string) (bool, error) {
	return f.courses[courseID], f.err
}

func (f *fakeRoster) IsEnrolled(_ context.Context, courseID, studentID string) (bool, error) {
	return f.enrolment[courseID+"/"+studentID], f.err
}

type serviceFixture struct {
	svc    *Service
	repo   *SQLRepository
	db     *sql.DB
	roster *fakeRoster
	events *queue.InMemory
	now    time.Time
}

func newServiceFixture(t *testing.T, policy Policy, grace time.Duration) *serviceFixture {
	t.Helper()
	db := storetest.NewDB(t)
	f := &serviceFixture{
		repo:   NewRepository(db),
		db:     db,
		roster: &fakeRoster{courses: map[string]bool{}, enrolment: map[string]bool{}},
		events: queue.NewInMemory(16),
	}
	f.now = local(t, "09:00")
	c := clock.New(clock.DefaultUTCOffset).WithNow(func() time.Time { return f.now })
	f.svc = NewService(f.repo, f.roster, c, NewGuard(c, policy, grace), f.events, zap.NewNop())

	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"A", "B", "C"} {
		_, err := db.ExecContext(ctx, `INSERT INTO courses (id, code, title, created_at) VALUES ($1, $2, $3, $4)`,
			"course-"+id, "CS"+id, "Course "+id, created)
		require.NoError(t, err)
		f.roster.courses["course-"+id] = true
		f.roster.enrolment["course-"+id+"/stu-1"] = true
	}
	_, err := db.ExecContext(ctx, `INSERT INTO users (id, email, name, role, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		"stu-1", "stu1@example.edu", "Student One", "student", "x", created)
	require.NoError(t, err)
	for _, id := range []string{"A", "B", "C"} {
		_, err := db.ExecContext(ctx, `INSERT INTO enrolments (course_id, student_id, created_at) VALUES ($1, $2, $3)`,
			"course-"+id, "stu-1", created)
		require.NoError(t, err)
	}
	return f
}

func (f *serviceFixture) createSession(t *testing.T, course, start, end string) Session {
	t.Helper()
	s, err := f.svc.CreateSession(context.Background(), NewSession{
		CourseID:    "course-" + course,
		SessionDate: "2024-03-01",
		StartTime:   start,
		EndTime:     end,
	}, "delegate-1")
	require.NoError(t, err)
	return s
}

func TestServiceMarkPresent(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	a := f.createSession(t, "A", "08:00", "10:00")

	rec, err := f.svc.Mark(context.Background(), "stu-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.True(t, rec.MarkedAt.Equal(f.now))

	msg := <-mustConsume(t, f.events)
	assert.Equal(t, queue.TypeAttendanceMarked, msg.Type)
	evt, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, "course-A", evt.CourseID)
}

func TestServiceMarkAfterEndRejected(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	a := f.createSession(t, "A", "08:00", "10:00")

	f.now = local(t, "10:05")
	_, err := f.svc.Mark(context.Background(), "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestServiceMarkConflictAndTouching(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	a := f.createSession(t, "A", "08:00", "10:00")
	b := f.createSession(t, "B", "09:30", "11:00")
	c := f.createSession(t, "C", "10:00", "12:00")

	_, err := f.svc.Mark(ctx, "stu-1", a.ID)
	require.NoError(t, err)

	f.now = local(t, "09:45")
	_, err = f.svc.Mark(ctx, "stu-1", b.ID)
	require.ErrorIs(t, err, ErrTimeConflict)
	var rejection *Error
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, a.ID, rejection.Conflict.ID)
	assert.Contains(t, err.Error(), "CSA")

	f.now = local(t, "10:00")
	rec, err := f.svc.Mark(ctx, "stu-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)

	marked, err := f.svc.MarkedSessions(ctx, "stu-1", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, marked, 2)
	assert.Equal(t, a.ID, marked[0].Session.ID)
	assert.Equal(t, c.ID, marked[1].Session.ID)
}

func TestServiceMarkTwiceAlreadyMarkedEvenWhenLate(t *testing.T) {
	f := newServiceFixture(t, PolicyGrace, 30*time.Minute)
	ctx := context.Background()
	a := f.createSession(t, "A", "08:00", "10:00")

	f.now = local(t, "10:10")
	rec, err := f.svc.Mark(ctx, "stu-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)

	_, err = f.svc.Mark(ctx, "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrAlreadyMarked)
}

func TestServiceUniqueIndexBacksAlreadyMarked(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	a := f.createSession(t, "A", "08:00", "10:00")

	_, err := f.repo.InsertRecord(ctx, Record{StudentID: "stu-1", SessionID: a.ID, Status: StatusPresent, MarkedAt: f.now})
	require.NoError(t, err)

	// a racing second insert that slipped past the pre-check
	_, err = f.repo.InsertRecord(ctx, Record{StudentID: "stu-1", SessionID: a.ID, Status: StatusPresent, MarkedAt: f.now})
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))

	_, err = f.svc.Mark(ctx, "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrAlreadyMarked)
}

func TestServiceMarkNotEnrolledAndUnknownSession(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	a := f.createSession(t, "A", "08:00", "10:00")
	delete(f.roster.enrolment, "course-A/stu-1")

	_, err := f.svc.Mark(ctx, "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrNotEnrolled)

	_, err = f.svc.Mark(ctx, "stu-1", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestServiceMarkPersistenceError(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	a := f.createSession(t, "A", "08:00", "10:00")
	f.roster.err = errors.New("connection reset")

	_, err := f.svc.Mark(context.Background(), "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "could not save attendance, please try again", err.Error())
}

func TestServiceCreateSessionValidation(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, NewSession{CourseID: "course-A", SessionDate: "2024-03-01", StartTime: "22:00", EndTime: "01:00"}, "d")
	assert.ErrorIs(t, err, ErrMalformedSessionTime)
	assert.ErrorIs(t, err, clock.ErrInvalidWindow)

	_, err = f.svc.CreateSession(ctx, NewSession{CourseID: "course-A", SessionDate: "2024-3-1", StartTime: "08:00", EndTime: "09:00"}, "d")
	assert.ErrorIs(t, err, ErrMalformedSessionTime)

	_, err = f.svc.CreateSession(ctx, NewSession{CourseID: "course-A", SessionDate: " 2024-03-01", StartTime: "08:00", EndTime: "09:00"}, "d")
	assert.ErrorIs(t, err, ErrMalformedSessionTime)

	_, err = f.svc.CreateSession(ctx, NewSession{CourseID: "course-A", SessionDate: "2024-03-01", StartTime: "+8:30", EndTime: "11:00"}, "d")
	assert.ErrorIs(t, err, ErrMalformedSessionTime)

	_, err = f.svc.CreateSession(ctx, NewSession{CourseID: "nope", SessionDate: "2024-03-01", StartTime: "08:00", EndTime: "09:00"}, "d")
	assert.ErrorIs(t, err, ErrCourseNotFound)
}

func TestServiceOpenSessionsAndStatus(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	f.createSession(t, "A", "08:00", "10:00")
	later := f.createSession(t, "B", "11:00", "12:00")

	open, err := f.svc.OpenSessionsForStudent(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "course-A", open[0].Session.CourseID)
	assert.Equal(t, Open, open[0].Lifecycle)

	view, err := f.svc.SessionStatus(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, Scheduled, view.Lifecycle)
}

func TestServiceCloseSessionEarly(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	a := f.createSession(t, "A", "08:00", "10:00")

	view, err := f.svc.CloseSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Closed, view.Lifecycle)
	require.NotNil(t, view.Session.ClosedAt)
	assert.True(t, view.EndsAt.Equal(f.now))

	first := *view.Session.ClosedAt
	f.now = local(t, "09:30")
	view, err = f.svc.CloseSession(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, view.Session.ClosedAt.Equal(first), "second close keeps the first time")

	_, err = f.svc.Mark(ctx, "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrSessionNotOpen)

	_, err = f.svc.CloseSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestServiceListSessions(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	f.createSession(t, "A", "13:00", "14:00")
	f.createSession(t, "A", "08:00", "10:00")

	views, err := f.svc.ListSessions(ctx, "course-A", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "08:00", views[0].Session.StartTime)
	assert.Equal(t, "CSA", views[0].Session.CourseCode)

	_, err = f.svc.ListSessions(ctx, "course-A", "yesterday")
	assert.Error(t, err)
}

func mustConsume(t *testing.T, q *queue.InMemory) <-chan queue.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	out, err := q.Consume(ctx)
	require.NoError(t, err)
	return out
}

func TestServiceOverlapUsesStoredSessionDate(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	a := f.createSession(t, "A", "08:00", "10:00")
	b := f.createSession(t, "B", "08:30", "11:00")
	assert.Equal(t, "2024-03-01", b.SessionDate)
	assert.Equal(t, "08:30", b.StartTime)

	_, err := f.svc.Mark(ctx, "stu-1", a.ID)
	require.NoError(t, err)
	_, err = f.svc.Mark(ctx, "stu-1", b.ID)
	assert.ErrorIs(t, err, ErrTimeConflict)
}

func TestServiceCloseSessionBeforeStart(t *testing.T) {
	f := newServiceFixture(t, PolicyStrict, 0)
	ctx := context.Background()
	f.now = local(t, "07:00")
	a := f.createSession(t, "A", "08:00", "10:00")

	view, err := f.svc.CloseSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Closed, view.Lifecycle)

	f.now = local(t, "07:30")
	view, err = f.svc.SessionStatus(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Closed, view.Lifecycle)

	f.now = local(t, "08:30")
	_, err = f.svc.Mark(ctx, "stu-1", a.ID)
	assert.ErrorIs(t, err, ErrSessionNotOpen)

	open, err := f.svc.OpenSessionsForStudent(ctx, "stu-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}
