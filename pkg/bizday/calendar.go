// Package bizday pins calendar-day arithmetic to one configured time zone.
//
// Every "today", delivery day and reporting window in the service goes
// through a Calendar so the host clock's zone never leaks into stored data.
// Days are represented as YYYY-MM-DD strings, which sort chronologically.
package bizday

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone names resolve on hosts without a zoneinfo database
)

const Layout = "2006-01-02"

type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// New returns a calendar for the IANA zone name. now may be nil.
func New(zone string, now func() time.Time) (*Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return NewInLocation(loc, now), nil
}

func NewInLocation(loc *time.Location, now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	return &Calendar{loc: loc, now: now}
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in UTC, the form persisted in the store.
func (c *Calendar) Now() time.Time {
	return c.now().UTC()
}

func (c *Calendar) Today() string {
	return c.DayOf(c.now())
}

func (c *Calendar) DayOf(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// Parse validates a day string. An empty string means today.
func (c *Calendar) Parse(day string) (string, error) {
	if day == "" {
		return c.Today(), nil
	}
	t, err := time.ParseInLocation(Layout, day, c.loc)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", day)
	}
	return t.Format(Layout), nil
}

// Bounds returns the UTC instants [start, end) covering day in the
// calendar's zone. DST days are 23 or 25 hours long.
func (c *Calendar) Bounds(day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation(Layout, day, c.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", day)
	}
	return t.UTC(), t.AddDate(0, 0, 1).UTC(), nil
}

// AddDays shifts a day string by n calendar days.
func AddDays(day string, n int) (string, error) {
	t, err := time.Parse(Layout, day)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", day)
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}
