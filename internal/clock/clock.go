package clock

import (
	"errors"
	"fmt"
	"time"
)

// DefaultUTCOffset is the offset of the campus wall clock when none is configured.
const DefaultUTCOffset = time.Hour

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	ErrMalformedDate = errors.New("malformed session date")
	ErrMalformedTime = errors.New("malformed session time")
	ErrInvalidWindow = errors.New("session start must be before end on the same date")
)

// Clock converts session wall-clock strings into absolute instants under a fixed UTC offset.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New builds a clock for the given UTC offset.
func New(offset time.Duration) *Clock {
	return &Clock{loc: FixedZone(offset), now: time.Now}
}

// WithNow returns a copy of the clock reading the current time from now.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

// FixedZone names the zone after its offset, e.g. "UTC+01:00".
func FixedZone(offset time.Duration) *time.Location {
	secs := int(offset / time.Second)
	sign := "+"
	abs := secs
	if secs < 0 {
		sign = "-"
		abs = -secs
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, abs/3600, (abs%3600)/60)
	return time.FixedZone(name, secs)
}

// Location returns the fixed zone session times are interpreted in.
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the current instant in UTC.
func (c *Clock) Now() time.Time {
	return c.now().UTC()
}

// Today returns the current calendar date on the campus wall clock.
func (c *Clock) Today() string {
	return c.now().In(c.loc).Format(dateLayout)
}

// LocalDate formats an instant as the campus calendar date.
func (c *Clock) LocalDate(t time.Time) string {
	return t.In(c.loc).Format(dateLayout)
}

// LocalTime formats an instant as the campus HH:MM time of day.
func (c *Clock) LocalTime(t time.Time) string {
	return t.In(c.loc).Format(timeLayout)
}

// ParseDate validates a YYYY-MM-DD calendar date. Surrounding whitespace is
// not tolerated; stored dates are compared as strings.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil || d.Format(dateLayout) != s {
		return time.Time{}, fmt.Errorf("%w %q", ErrMalformedDate, s)
	}
	return d, nil
}

// ParseTimeOfDay parses HH:MM (00:00 through 23:59) into minutes after midnight.
func ParseTimeOfDay(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("%w %q", ErrMalformedTime, s)
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	minute := int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, fmt.Errorf("%w %q: out of range", ErrMalformedTime, s)
	}
	return hour*60 + minute, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ToInstant combines a date and a time of day on the campus wall clock.
func (c *Clock) ToInstant(date, timeOfDay string) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	minutes, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	local := time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, c.loc)
	return local.UTC(), nil
}

// Window is the resolved [Start, End) pair of a session.
type Window struct {
	Start time.Time
	End   time.Time
}

// Window resolves a session's date and times. Overnight windows are rejected.
func (c *Clock) Window(date, start, end string) (Window, error) {
	s, err := c.ToInstant(date, start)
	if err != nil {
		return Window{}, err
	}
	e, err := c.ToInstant(date, end)
	if err != nil {
		return Window{}, err
	}
	if !s.Before(e) {
		return Window{}, fmt.Errorf("%w: %s-%s on %s", ErrInvalidWindow, start, end, date)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether now falls inside the window, start inclusive and end exclusive.
func (w Window) Contains(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// CloseAt shortens the window to an earlier close instant.
func (w Window) CloseAt(t time.Time) Window {
	if t.Before(w.End) {
		if t.Before(w.Start) {
			t = w.Start
		}
		w.End = t
	}
	return w
}

// MinuteSpan is a [Start, End) range of minutes within one day.
type MinuteSpan struct {
	Start int
	End   int
}

// Span parses HH:MM start and end into a minute range.
func Span(start, end string) (MinuteSpan, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return MinuteSpan{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return MinuteSpan{}, err
	}
	if s >= e {
		return MinuteSpan{}, fmt.Errorf("%w: %s-%s", ErrInvalidWindow, start, end)
	}
	return MinuteSpan{Start: s, End: e}, nil
}

// Overlaps uses half-open intersection; touching spans do not overlap.
func (a MinuteSpan) Overlaps(b MinuteSpan) bool {
	return a.Start < b.End && b.Start < a.End
}
