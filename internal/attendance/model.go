package attendance

import "time"

// Status is the resolved outcome of an accepted submission.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	// StatusAbsent is derived at reporting time and never written.
	StatusAbsent Status = "absent"
)

// Valid reports whether the status may be persisted.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusLate
}

// Lifecycle is the time-derived state of a session relative to now.
type Lifecycle string

const (
	Scheduled Lifecycle = "scheduled"
	Open      Lifecycle = "open"
	Closed    Lifecycle = "closed"
)

// Session is one class meeting window. Dates and times are campus wall-clock strings.
type Session struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	CourseCode  string     `json:"course_code"`
	CourseTitle string     `json:"course_title"`
	SessionDate string     `json:"session_date"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"`
	CreatedBy   string     `json:"created_by,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Label names the session for user-facing messages.
func (s Session) Label() string {
	name := s.CourseCode
	if s.CourseTitle != "" {
		if name != "" {
			name += " "
		}
		name += s.CourseTitle
	}
	if name == "" {
		name = "session " + s.ID
	}
	return name + " (" + s.SessionDate + " " + s.StartTime + "-" + s.EndTime + ")"
}

// Record is a persisted attendance mark for one (student, session) pair.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	MarkedAt  time.Time `json:"marked_at"`
}

// MarkedSession joins a record with the session it was marked for.
type MarkedSession struct {
	Record  Record  `json:"record"`
	Session Session `json:"session"`
}

// NewSession is the input for creating a session.
type NewSession struct {
	CourseID    string
	SessionDate string
	StartTime   string
	EndTime     string
}

// SessionView is a session together with its resolved window and state.
type SessionView struct {
	Session   Session   `json:"session"`
	Lifecycle Lifecycle `json:"lifecycle"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}
