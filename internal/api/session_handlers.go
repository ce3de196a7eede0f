package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/clock"
)

func (h *handler) openSessions(c *gin.Context) {
	views, err := h.att.OpenSessionsForStudent(c.Request.Context(), subject(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": h.att.Clock().Today(), "sessions": views})
}

func (h *handler) markedSessions(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = h.att.Clock().Today()
	}
	marked, err := h.att.MarkedSessions(c.Request.Context(), subject(c).Subject, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "marked": marked})
}

func (h *handler) mark(c *gin.Context) {
	rec, err := h.att.Mark(c.Request.Context(), subject(c).Subject, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *handler) sessionStatus(c *gin.Context) {
	view, err := h.att.SessionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) getSession(c *gin.Context) {
	s, err := h.att.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type createSessionRequest struct {
	CourseID    string `json:"course_id" binding:"required"`
	SessionDate string `json:"session_date" binding:"required,isodate"`
	StartTime   string `json:"start_time" binding:"required,hhmm"`
	EndTime     string `json:"end_time" binding:"required,hhmm"`
}

func (h *handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}
	created, err := h.att.CreateSession(c.Request.Context(), attendance.NewSession{
		CourseID:    req.CourseID,
		SessionDate: req.SessionDate,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}, subject(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := h.att.SessionStatus(c.Request.Context(), created.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *handler) closeSession(c *gin.Context) {
	view, err := h.att.CloseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) sessionRoster(c *gin.Context) {
	out, err := h.reports.SessionRoster(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) courseSessions(c *gin.Context) {
	date := c.Query("date")
	if date != "" {
		if _, err := clock.ParseDate(date); err != nil {
			h.fail(c, err)
			return
		}
	}
	views, err := h.att.ListSessions(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}
