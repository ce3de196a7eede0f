package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"rollcall/internal/account"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/clock"
	"rollcall/internal/roster"
)

// Codes for failures outside the attendance taxonomy.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeNotEnrolled    = "NOT_ENROLLED"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string              `json:"error"`
	Code     string              `json:"code"`
	Conflict *attendance.Session `json:"conflict,omitempty"`
}

var taxonomyStatus = map[attendance.Code]int{
	attendance.CodeAlreadyMarked:        http.StatusConflict,
	attendance.CodeTimeConflict:         http.StatusConflict,
	attendance.CodeSessionNotOpen:       http.StatusUnprocessableEntity,
	attendance.CodeMalformedSessionTime: http.StatusBadRequest,
	attendance.CodePersistence:          http.StatusInternalServerError,
}

func (h *handler) fail(c *gin.Context, err error) {
	var rejection *attendance.Error
	if errors.As(err, &rejection) {
		status := taxonomyStatus[rejection.Code]
		if status == 0 {
			status = http.StatusBadRequest
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.AbortWithStatusJSON(status, ErrorResponse{
			Error:    rejection.Error(),
			Code:     string(rejection.Code),
			Conflict: rejection.Conflict,
		})
		return
	}

	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, attendance.ErrSessionNotFound),
		errors.Is(err, attendance.ErrCourseNotFound),
		errors.Is(err, roster.ErrCourseNotFound),
		errors.Is(err, roster.ErrEnrolmentMissing),
		errors.Is(err, account.ErrUserNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusForbidden, CodeNotEnrolled
	case errors.Is(err, roster.ErrDuplicateCourse),
		errors.Is(err, roster.ErrAlreadyEnrolled),
		errors.Is(err, account.ErrEmailTaken):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, account.ErrTokenRevoked),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongKind):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, roster.ErrInvalidCourse),
		errors.Is(err, roster.ErrStudentNotFound),
		errors.Is(err, account.ErrInvalidRole),
		errors.Is(err, account.ErrWeakPassword),
		errors.Is(err, clock.ErrMalformedDate),
		errors.Is(err, clock.ErrMalformedTime),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

var errBadRequest = errors.New("bad request")

// badBinding reports a request body that failed binding. Time and date
// fields that fail their format tags carry the session time code.
func badBinding(c *gin.Context, err error) {
	code := CodeInvalidRequest
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == tagHHMM || fe.Tag() == tagISODate {
				code = string(attendance.CodeMalformedSessionTime)
				break
			}
		}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: code})
}
