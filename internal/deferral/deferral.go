// Package deferral computes when a deferred message becomes visible again.
package deferral

import (
	"fmt"
	"strings"
	"time"
)

// Type is a user-facing deferral choice.
type Type int

const (
	None Type = iota
	OneHour
	TwoHours
	Later
	EndOfDay
	Tonight
	Tomorrow
	ThisWeek
	Weekend
	NextWeek
	MonthEnd
	NextMonth
	Forever
	Custom
	DueDate
)

var typeNames = []string{
	None:      "none",
	OneHour:   "one_hour",
	TwoHours:  "two_hours",
	Later:     "later",
	EndOfDay:  "end_of_day",
	Tonight:   "tonight",
	Tomorrow:  "tomorrow",
	ThisWeek:  "this_week",
	Weekend:   "weekend",
	NextWeek:  "next_week",
	MonthEnd:  "month_end",
	NextMonth: "next_month",
	Forever:   "forever",
	Custom:    "custom",
	DueDate:   "due_date",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("deferral(%d)", int(t))
}

// ParseType accepts the names returned by String, case-insensitively.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("deferral: unknown type %q", s)
}

// NeedsDate reports whether the type echoes a caller supplied time.
func (t Type) NeedsDate() bool { return t == Custom || t == DueDate }

// MaxTime is the result of deferring forever.
var MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

const (
	workWeekEnds  = time.Friday
	weekendStarts = time.Saturday
	workWeekStart = time.Monday
)

// Compute returns the UTC time at which a message deferred at from with
// type t reappears. Calendar based types are evaluated in loc; custom is
// only consulted for Custom and DueDate. None yields the zero time.
func Compute(from time.Time, t Type, custom time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	from = from.UTC()
	local := from.In(loc)

	switch t {
	case None:
		return time.Time{}, nil
	case OneHour:
		return from.Add(90 * time.Minute).Truncate(time.Hour), nil
	case TwoHours:
		return from.Add(150 * time.Minute).Truncate(time.Hour), nil
	case Later:
		return from.Add(210 * time.Minute).Truncate(time.Hour), nil
	case EndOfDay:
		if local.Hour() >= 17 {
			return atLocalHour(local, 23), nil
		}
		return atLocalHour(local, 17), nil
	case Tonight:
		if local.Hour() > 18 {
			return atLocalHour(local, 21), nil
		}
		return atLocalHour(local, 19), nil
	case Tomorrow:
		return atLocalHour(local.AddDate(0, 0, 1), 8), nil
	case ThisWeek:
		for local.Weekday() != workWeekEnds {
			local = local.AddDate(0, 0, 1)
		}
		return atLocalHour(local, 17), nil
	case Weekend:
		local = nextWeekday(local, weekendStarts)
		return atLocalHour(local, 8), nil
	case NextWeek:
		local = nextWeekday(local, workWeekStart)
		return atLocalHour(local, 8), nil
	case MonthEnd:
		first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return atLocalHour(first.AddDate(0, 1, -1), 8), nil
	case NextMonth:
		first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return atLocalHour(first.AddDate(0, 1, 0), 8), nil
	case Forever:
		return MaxTime, nil
	case Custom, DueDate:
		return custom.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("deferral: unexpected type %d", int(t))
	}
}

// nextWeekday advances at least one day, stopping on day.
func nextWeekday(t time.Time, day time.Weekday) time.Time {
	for {
		t = t.AddDate(0, 0, 1)
		if t.Weekday() == day {
			return t
		}
	}
}

func atLocalHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location()).UTC()
}
