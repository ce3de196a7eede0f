package api

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/report"
)

type createCourseRequest struct {
	Code  string `json:"code" binding:"required,max=32"`
	Title string `json:"title" binding:"required,max=200"`
}

func (h *handler) createCourse(c *gin.Context) {
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}
	course, err := h.roster.CreateCourse(c.Request.Context(), req.Code, req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *handler) listCourses(c *gin.Context) {
	courses, err := h.roster.ListCourses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (h *handler) courseStudents(c *gin.Context) {
	if _, err := h.roster.GetCourse(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	students, err := h.roster.ListStudents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

type enrolRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

func (h *handler) enrol(c *gin.Context) {
	var req enrolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}
	if err := h.roster.Enroll(c.Request.Context(), c.Param("id"), req.StudentID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) unenrol(c *gin.Context) {
	if err := h.roster.Unenroll(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) courseReport(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}
	summary, err := h.reports.CourseSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	switch format {
	case report.FormatJSON:
		c.JSON(http.StatusOK, summary)
		return
	case report.FormatXLSX:
		err = report.WriteXLSX(&buf, summary)
	default:
		err = report.WriteDelimited(&buf, summary, format)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(summary, format)+`"`)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (h *handler) calendar(c *gin.Context) {
	course, views, err := h.reports.CourseSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(report.Calendar(course, views)))
}
