package clock

import (
	"fmt"
	"time"
	_ "time/tzdata" // fixed-zone lookups must work in minimal containers

	"github.com/ashureev/roomrelay/internal/domain"
)

// DayWindow resolves "today" and the daily cutover in a fixed timezone.
type DayWindow struct {
	clock   Clock
	loc     *time.Location
	cutover time.Duration // wall-clock time of day, whole minutes
}

// NewDayWindow creates a DayWindow. cutover is the time of day, e.g. 9*time.Hour.
func NewDayWindow(c Clock, loc *time.Location, cutover time.Duration) *DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	return &DayWindow{clock: c, loc: loc, cutover: cutover}
}

// Now returns the current time in the window's timezone.
func (w *DayWindow) Now() time.Time {
	return w.clock.Now().In(w.loc)
}

// Today returns the current calendar date in the window's timezone.
func (w *DayWindow) Today() domain.Date {
	return domain.DateOf(w.Now())
}

// PastCutover reports whether now is at or after today's cutover time.
func (w *DayWindow) PastCutover() bool {
	_, past := w.Current()
	return past
}

// Current returns today's date and whether its cutover has passed, both read
// from a single clock sample. The cutover is a wall-clock time, so on DST
// transition days it is not a fixed distance from midnight.
func (w *DayWindow) Current() (domain.Date, bool) {
	now := w.Now()
	hour := int(w.cutover / time.Hour)
	minute := int(w.cutover % time.Hour / time.Minute)
	cutover := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, w.loc)
	return domain.DateOf(now), !now.Before(cutover)
}

// ParseCutover parses an "HH:MM" time of day into an offset from midnight.
func ParseCutover(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse cutover %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
