package attendance

import (
	"errors"
	"fmt"
)

// Code identifies which submission rule rejected an attempt.
type Code string

const (
	CodeAlreadyMarked        Code = "ALREADY_MARKED"
	CodeTimeConflict         Code = "TIME_CONFLICT"
	CodeSessionNotOpen       Code = "SESSION_NOT_OPEN"
	CodeMalformedSessionTime Code = "MALFORMED_SESSION_TIME"
	CodePersistence          Code = "PERSISTENCE_ERROR"
)

// Error is a terminal rejection of one attempt.
type Error struct {
	Code     Code
	Message  string
	Conflict *Session
	Err      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrAlreadyMarked        = &Error{Code: CodeAlreadyMarked}
	ErrTimeConflict         = &Error{Code: CodeTimeConflict}
	ErrSessionNotOpen       = &Error{Code: CodeSessionNotOpen}
	ErrMalformedSessionTime = &Error{Code: CodeMalformedSessionTime}
	ErrPersistence          = &Error{Code: CodePersistence}
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotEnrolled     = errors.New("student is not enrolled in this course")
	ErrCourseNotFound  = errors.New("course not found")
)

// CodeOf returns the rejection code carried by err, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AlreadyMarked is the rejection for a session the student already marked.
func AlreadyMarked(s Session) *Error {
	return &Error{
		Code:    CodeAlreadyMarked,
		Message: fmt.Sprintf("attendance already marked for %s", s.Label()),
	}
}

// TimeConflict is the rejection for a candidate overlapping a marked session.
func TimeConflict(candidate, conflict Session) *Error {
	c := conflict
	return &Error{
		Code: CodeTimeConflict,
		Message: fmt.Sprintf("%s overlaps %s, which you already marked",
			candidate.Label(), conflict.Label()),
		Conflict: &c,
	}
}

func sessionNotOpen(s Session, state Lifecycle) *Error {
	return &Error{
		Code:    CodeSessionNotOpen,
		Message: fmt.Sprintf("%s is %s, attendance can only be marked while it is open", s.Label(), state),
	}
}

func malformedTime(s Session, err error) *Error {
	return &Error{
		Code:    CodeMalformedSessionTime,
		Message: fmt.Sprintf("session %s has invalid times: %v", s.ID, err),
		Err:     err,
	}
}

func persistence(err error) *Error {
	return &Error{
		Code:    CodePersistence,
		Message: "could not save attendance, please try again",
		Err:     err,
	}
}
