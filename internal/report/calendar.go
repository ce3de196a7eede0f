package report

import (
	"fmt"

	ics "github.com/arran4/golang-ical"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
)

// Calendar renders a course's sessions as an iCalendar feed. Sessions closed
// early end at their close time.
func Calendar(course roster.Course, views []attendance.SessionView) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//rollcall//course sessions//EN")
	cal.SetXWRCalName(fmt.Sprintf("%s %s", course.Code, course.Title))

	for _, v := range views {
		evt := cal.AddEvent(v.Session.ID + "@rollcall")
		evt.SetDtStampTime(v.Session.CreatedAt)
		evt.SetCreatedTime(v.Session.CreatedAt)
		evt.SetStartAt(v.StartsAt)
		evt.SetEndAt(v.EndsAt)
		evt.SetSummary(fmt.Sprintf("%s %s", course.Code, course.Title))
		evt.SetDescription(fmt.Sprintf("Attendance window %s-%s (%s)", v.Session.StartTime, v.Session.EndTime, v.Lifecycle))
	}
	return cal.Serialize()
}
