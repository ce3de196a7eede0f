package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rollcall/internal/store"
)

var (
	ErrCourseNotFound   = errors.New("course not found")
	ErrDuplicateCourse  = errors.New("course code already exists")
	ErrStudentNotFound  = errors.New("student not found")
	ErrAlreadyEnrolled  = errors.New("student already enrolled")
	ErrInvalidCourse    = errors.New("course code and title are required")
	ErrEnrolmentMissing = errors.New("enrolment not found")
)

// Course is an opaque owner of sessions.
type Course struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Student is an enrolled user.
type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Service manages courses and enrolments.
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService creates a roster service backed by db.
func NewService(db *sql.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// CreateCourse adds a course with a unique code.
func (s *Service) CreateCourse(ctx context.Context, code, title string) (Course, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	title = strings.TrimSpace(title)
	if code == "" || title == "" {
		return Course{}, ErrInvalidCourse
	}
	c := Course{ID: uuid.NewString(), Code: code, Title: title, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, code, title, created_at) VALUES ($1, $2, $3, $4)
	`, c.ID, c.Code, c.Title, c.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Course{}, ErrDuplicateCourse
		}
		s.logger.Error("create course failed", zap.String("code", code), zap.Error(err))
		return Course{}, err
	}
	s.logger.Info("course created", zap.String("course_id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// GetCourse returns a course by id.
func (s *Service) GetCourse(ctx context.Context, id string) (Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, code, title, created_at FROM courses WHERE id = $1`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.Code, &c.Title, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrCourseNotFound
		}
		return Course{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// ListCourses returns every course ordered by code.
func (s *Service) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, title, created_at FROM courses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	courses := []Course{}
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// CourseExists implements attendance.Roster.
func (s *Service) CourseExists(ctx context.Context, courseID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE id = $1`, courseID).Scan(&n)
	return n > 0, err
}

// IsEnrolled implements attendance.Roster.
func (s *Service) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrolments WHERE course_id = $1 AND student_id = $2
	`, courseID, studentID).Scan(&n)
	return n > 0, err
}

// Enroll adds a student to a course. Only users with the student role can enrol.
func (s *Service) Enroll(ctx context.Context, courseID, studentID string) error {
	if ok, err := s.CourseExists(ctx, courseID); err != nil {
		return err
	} else if !ok {
		return ErrCourseNotFound
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE id = $1 AND role = 'student'
	`, studentID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrStudentNotFound
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrolments (course_id, student_id, created_at) VALUES ($1, $2, $3)
	`, courseID, studentID, time.Now().UTC())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyEnrolled
		}
		return fmt.Errorf("enrol student: %w", err)
	}
	return nil
}

// Unenroll removes a student from a course. Existing attendance records are kept.
func (s *Service) Unenroll(ctx context.Context, courseID, studentID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM enrolments WHERE course_id = $1 AND student_id = $2
	`, courseID, studentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEnrolmentMissing
	}
	return nil
}

// ListStudents returns a course's enrolled students ordered by name.
func (s *Service) ListStudents(ctx context.Context, courseID string) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email
		FROM enrolments e JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY u.name, u.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	students := []Student{}
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Email); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}
