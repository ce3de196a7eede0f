package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarksAccepted counts persisted attendance records by status.
	MarksAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "marks_accepted_total",
		Help:      "Attendance submissions accepted, by resolved status.",
	}, []string{"status"})

	// MarksRejected counts rejected submissions by rule code.
	MarksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "marks_rejected_total",
		Help:      "Attendance submissions rejected, by rejection code.",
	}, []string{"code"})

	// SessionsCreated counts sessions opened by delegates and admins.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "sessions_created_total",
		Help:      "Class sessions created.",
	})

	// QueueMessages counts worker messages by type and outcome.
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "queue_messages_total",
		Help:      "Queue messages handled by the worker.",
	}, []string{"type", "outcome"})

	// ReportCache counts summary cache lookups by result.
	ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "report_cache_lookups_total",
		Help:      "Course summary cache lookups, by hit or miss.",
	}, []string{"result"})
)
