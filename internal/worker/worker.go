package worker

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rollcall/internal/clock"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/report"
)

const rewarmTimeout = 4 * time.Minute

// Reports is the summary cache the worker maintains.
type Reports interface {
	Rebuild(ctx context.Context, courseID string) (report.CourseSummary, error)
	Invalidate(ctx context.Context, courseID string) error
}

// Courses finds courses that hold sessions on a date.
type Courses interface {
	CoursesWithSessionsOn(ctx context.Context, date string) ([]string, error)
}

// Worker consumes attendance events and keeps course summaries fresh.
type Worker struct {
	queue   queue.Queue
	reports Reports
	courses Courses
	clock   *clock.Clock
	logger  *zap.Logger
}

// New creates a worker.
func New(q queue.Queue, reports Reports, courses Courses, c *clock.Clock, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, reports: reports, courses: courses, clock: c, logger: logger}
}

// Run consumes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("worker started, waiting for messages")
	for msg := range messages {
		outcome := "ok"
		if err := w.Handle(ctx, msg); err != nil {
			outcome = "error"
			w.logger.Error("handle message failed", zap.String("type", msg.Type), zap.Error(err))
		}
		metrics.QueueMessages.WithLabelValues(msg.Type, outcome).Inc()
	}
	w.logger.Info("worker stopped")
	return nil
}

// Handle applies one message. A mark only drops the cached summary; a
// closed session changes every student's totals, so it is rebuilt right away.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	evt, err := msg.Event()
	if err != nil {
		return err
	}
	if evt.CourseID == "" {
		return errors.New("event without course id")
	}
	switch msg.Type {
	case queue.TypeAttendanceMarked:
		return w.reports.Invalidate(ctx, evt.CourseID)
	case queue.TypeSessionClosed:
		_, err := w.reports.Rebuild(ctx, evt.CourseID)
		return err
	default:
		w.logger.Debug("ignoring message", zap.String("type", msg.Type))
		return nil
	}
}

// Rewarm rebuilds summaries of every course with a session today.
func (w *Worker) Rewarm(ctx context.Context) error {
	today := w.clock.Today()
	ids, err := w.courses.CoursesWithSessionsOn(ctx, today)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if _, err := w.reports.Rebuild(ctx, id); err != nil {
			errs = append(errs, err)
			w.logger.Warn("rewarm summary failed", zap.String("course_id", id), zap.Error(err))
		}
	}
	w.logger.Info("summaries rewarmed", zap.String("date", today), zap.Int("courses", len(ids)))
	return errors.Join(errs...)
}

// Schedule registers Rewarm on a cron spec. Overlapping runs are skipped.
// The caller starts and stops the returned scheduler.
func (w *Worker) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger.Sugar()})))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), rewarmTimeout)
		defer cancel()
		if err := w.Rewarm(ctx); err != nil {
			w.logger.Error("scheduled rewarm failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
