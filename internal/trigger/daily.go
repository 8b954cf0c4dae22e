// Package trigger fires the daily delivery cycle at a configured wall-clock time.
package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay accepts "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM:SS", s)
	}
	limits := [3]int{23, 59, 59}
	var v [3]int
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM:SS", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return TimeOfDay{}, fmt.Errorf("invalid time %q, field %d out of range", s, i+1)
		}
		v[i] = n
	}
	return TimeOfDay{Hour: v[0], Minute: v[1], Second: v[2]}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Daily is a cron.Schedule firing once per calendar day at At in Loc.
type Daily struct {
	At  TimeOfDay
	Loc *time.Location
}

// Next returns today's instant at At when now is strictly before it,
// otherwise tomorrow's. The result is always after now.
func (d Daily) Next(now time.Time) time.Time {
	loc := d.Loc
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	at := time.Date(n.Year(), n.Month(), n.Day(), d.At.Hour, d.At.Minute, d.At.Second, 0, loc)
	if n.Before(at) {
		return at
	}
	// Day+1 is normalised by time.Date and keeps the wall-clock time, so a
	// DST change makes this wait 23h or 25h.
	return time.Date(n.Year(), n.Month(), n.Day()+1, d.At.Hour, d.At.Minute, d.At.Second, 0, loc)
}

// DurationUntil is the wait from now to the next trigger instant.
func (d Daily) DurationUntil(now time.Time) time.Duration {
	return d.Next(now).Sub(now)
}

// LoadLocation resolves an IANA name; empty or "Local" is the process zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
