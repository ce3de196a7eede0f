package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rollcall/internal/clock"
	"rollcall/internal/queue"
	"rollcall/internal/report"
)

type fakeReports struct {
	mu          sync.Mutex
	rebuilt     []string
	invalidated []string
	failOn      string
}

func (f *fakeReports) Rebuild(_ context.Context, courseID string) (report.CourseSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if courseID == f.failOn {
		return report.CourseSummary{}, errors.New("boom")
	}
	f.rebuilt = append(f.rebuilt, courseID)
	return report.CourseSummary{}, nil
}

func (f *fakeReports) Invalidate(_ context.Context, courseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, courseID)
	return nil
}

func (f *fakeReports) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rebuilt...), append([]string(nil), f.invalidated...)
}

type fakeCourses struct {
	date string
	ids  []string
}

func (f *fakeCourses) CoursesWithSessionsOn(_ context.Context, date string) ([]string, error) {
	f.date = date
	return f.ids, nil
}

func testClock() *clock.Clock {
	return clock.New(clock.DefaultUTCOffset).WithNow(func() time.Time {
		return time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	})
}

func message(t *testing.T, typ, courseID string) queue.Message {
	t.Helper()
	msg, err := queue.NewEventMessage(typ, queue.Event{CourseID: courseID, SessionID: "s1", At: time.Now()})
	require.NoError(t, err)
	return msg
}

func TestHandle(t *testing.T) {
	reports := &fakeReports{}
	w := New(queue.NewInMemory(1), reports, &fakeCourses{}, testClock(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, message(t, queue.TypeAttendanceMarked, "c1")))
	require.NoError(t, w.Handle(ctx, message(t, queue.TypeSessionClosed, "c2")))
	require.NoError(t, w.Handle(ctx, message(t, "something.else", "c3")))

	rebuilt, invalidated := reports.snapshot()
	assert.Equal(t, []string{"c1"}, invalidated)
	assert.Equal(t, []string{"c2"}, rebuilt)

	assert.Error(t, w.Handle(ctx, queue.Message{Type: queue.TypeAttendanceMarked, Body: []byte("not json")}))
	assert.Error(t, w.Handle(ctx, message(t, queue.TypeAttendanceMarked, "")))
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	q := queue.NewInMemory(4)
	reports := &fakeReports{}
	w := New(q, reports, &fakeCourses{}, testClock(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, message(t, queue.TypeAttendanceMarked, "c1")))
	require.NoError(t, q.Publish(ctx, message(t, queue.TypeSessionClosed, "c1")))

	assert.Eventually(t, func() bool {
		rebuilt, invalidated := reports.snapshot()
		return len(rebuilt) == 1 && len(invalidated) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRewarmUsesCampusDate(t *testing.T) {
	reports := &fakeReports{failOn: "c2"}
	courses := &fakeCourses{ids: []string{"c1", "c2", "c3"}}
	w := New(queue.NewInMemory(1), reports, courses, testClock(), zap.NewNop())

	err := w.Rewarm(context.Background())
	assert.Error(t, err)
	// 23:30 UTC is already the next day at UTC+1
	assert.Equal(t, "2024-03-02", courses.date)

	rebuilt, _ := reports.snapshot()
	assert.Equal(t, []string{"c1", "c3"}, rebuilt)
}

func TestSchedule(t *testing.T) {
	w := New(queue.NewInMemory(1), &fakeReports{}, &fakeCourses{}, testClock(), zap.NewNop())

	c, err := w.Schedule("@every 5m")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = w.Schedule("not a spec")
	assert.Error(t, err)
}
