package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence surface the service needs.
type Repository interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, courseID, date string) ([]Session, error)
	SessionsForStudent(ctx context.Context, studentID, date string) ([]Session, error)
	CloseSession(ctx context.Context, id string, at time.Time) error
	FindRecord(ctx context.Context, studentID, sessionID string) (*Record, error)
	MarkedSessions(ctx context.Context, studentID, date string) ([]MarkedSession, error)
	InsertRecord(ctx context.Context, r Record) (Record, error)
}

// SQLRepository persists sessions and records with database/sql.
// Queries are shared between the pgx and sqlite3 drivers.
type SQLRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const sessionColumns = `s.id, s.course_id, c.code, c.title, s.session_date, s.start_time, s.end_time, s.created_by, s.closed_at, s.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s        Session
		closedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.CourseID, &s.CourseCode, &s.CourseTitle, &s.SessionDate,
		&s.StartTime, &s.EndTime, &s.CreatedBy, &closedAt, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		s.ClosedAt = &t
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func (r *SQLRepository) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CreateSession writes a new session. ID and CreatedAt are filled when empty.
func (r *SQLRepository) CreateSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, session_date, start_time, end_time, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.CourseID, s.SessionDate, s.StartTime, s.EndTime, s.CreatedBy, s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	return r.GetSession(ctx, s.ID)
}

// GetSession returns a single session by id.
func (r *SQLRepository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s JOIN courses c ON c.id = s.course_id
		WHERE s.id = $1
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns a course's sessions, optionally limited to one date.
func (r *SQLRepository) ListSessions(ctx context.Context, courseID, date string) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s JOIN courses c ON c.id = s.course_id WHERE s.course_id = $1`
	args := []any{courseID}
	if date != "" {
		query += ` AND s.session_date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY s.session_date, s.start_time, s.id`
	return r.querySessions(ctx, query, args...)
}

// SessionsForStudent returns sessions on date for every course the student is enrolled in.
func (r *SQLRepository) SessionsForStudent(ctx context.Context, studentID, date string) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		JOIN courses c ON c.id = s.course_id
		JOIN enrolments e ON e.course_id = s.course_id
		WHERE e.student_id = $1 AND s.session_date = $2
		ORDER BY s.start_time, s.id
	`, studentID, date)
}

// CloseSession stamps closed_at once; later calls keep the first value.
func (r *SQLRepository) CloseSession(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET closed_at = $1 WHERE id = $2 AND closed_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// FindRecord returns the record for (student, session) or nil.
func (r *SQLRepository) FindRecord(ctx context.Context, studentID, sessionID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, session_id, status, marked_at
		FROM attendance_records
		WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.Status, &rec.MarkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.MarkedAt = rec.MarkedAt.UTC()
	return &rec, nil
}

// MarkedSessions returns the student's records on date joined with their sessions.
func (r *SQLRepository) MarkedSessions(ctx context.Context, studentID, date string) ([]MarkedSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.student_id, a.session_id, a.status, a.marked_at, `+sessionColumns+`
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		JOIN courses c ON c.id = s.course_id
		WHERE a.student_id = $1 AND s.session_date = $2
		ORDER BY s.start_time, s.id
	`, studentID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []MarkedSession
	for rows.Next() {
		var (
			m        MarkedSession
			closedAt sql.NullTime
		)
		s := &m.Session
		if err := rows.Scan(&m.Record.ID, &m.Record.StudentID, &m.Record.SessionID, &m.Record.Status, &m.Record.MarkedAt,
			&s.ID, &s.CourseID, &s.CourseCode, &s.CourseTitle, &s.SessionDate,
			&s.StartTime, &s.EndTime, &s.CreatedBy, &closedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time.UTC()
			s.ClosedAt = &t
		}
		m.Record.MarkedAt = m.Record.MarkedAt.UTC()
		s.CreatedAt = s.CreatedAt.UTC()
		res = append(res, m)
	}
	return res, rows.Err()
}

// InsertRecord writes exactly one record. The (student_id, session_id) unique
// constraint rejects duplicates.
func (r *SQLRepository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_id, status, marked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.StudentID, rec.SessionID, rec.Status, rec.MarkedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CourseRecords returns every attendance record for the course's sessions.
func (r *SQLRepository) CourseRecords(ctx context.Context, courseID string) ([]Record, error) {
	return r.queryRecords(ctx, `
		SELECT a.id, a.student_id, a.session_id, a.status, a.marked_at
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.course_id = $1
		ORDER BY a.marked_at, a.id
	`, courseID)
}

// SessionRecords returns the records of one session.
func (r *SQLRepository) SessionRecords(ctx context.Context, sessionID string) ([]Record, error) {
	return r.queryRecords(ctx, `
		SELECT id, student_id, session_id, status, marked_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at, id
	`, sessionID)
}

// CoursesWithSessionsOn lists the ids of courses that hold a session on date.
func (r *SQLRepository) CoursesWithSessionsOn(ctx context.Context, date string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT course_id FROM sessions WHERE session_date = $1 ORDER BY course_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLRepository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.Status, &rec.MarkedAt); err != nil {
			return nil, err
		}
		rec.MarkedAt = rec.MarkedAt.UTC()
		res = append(res, rec)
	}
	return res, rows.Err()
}
