package models

import (
	"fmt"
	"time"
)

// IST is India Standard Time. India has no daylight saving, so a fixed zone
// avoids depending on the host's tzdata.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// TimeOfDay is a wall-clock time in some location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// On returns the instant of t's calendar date (in loc) at this time of day.
func (d TimeOfDay) On(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, loc)
}

// Reached reports whether t, read in loc, is at or past this time of day.
func (d TimeOfDay) Reached(t time.Time, loc *time.Location) bool {
	return !t.Before(d.On(t, loc))
}

func (d TimeOfDay) String() string {
	return time.Date(0, 1, 1, d.Hour, d.Minute, 0, 0, time.UTC).Format("15:04")
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Before reports whether d is earlier in the day than o.
func (d TimeOfDay) Before(o TimeOfDay) bool {
	return d.Hour*60+d.Minute < o.Hour*60+o.Minute
}
