package task

import (
	"fmt"
	"regexp"
	"time"
)

// InputTimeLayout is the fixed format users enter publication times in,
// interpreted in the configured reference timezone.
const InputTimeLayout = "02.01.2006 15:04"

var inputTimeRe = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4} \d{2}:\d{2}$`)

// ParseLocalDateTime parses "DD.MM.YYYY HH:MM", localizes it in loc
// (DST handled by the location's own rules) and returns the instant in UTC.
func ParseLocalDateTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if !inputTimeRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: want DD.MM.YYYY HH:MM, got %q", ErrBadFormat, s)
	}
	t, err := time.ParseInLocation(InputTimeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return t.UTC(), nil
}

// FormatLocal renders an instant in loc using the input layout,
// minute precision. It is the inverse of ParseLocalDateTime.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(InputTimeLayout)
}

// NextOccurrence computes the instant of the next firing in a recurring
// series. first is the series anchor (unused for the current step rules
// but kept in the signature so day-of-month anchoring can be derived from
// it), last is the occurrence that just fired. ok is false when the
// series produces no further occurrence.
//
// Monthly recurrence clamps the day-of-month to 28. A series anchored on
// day 29-31 therefore always lands on day 28 of the following months;
// this is deliberate, known behavior to sidestep short-month overflow.
//
// The function is pure: it never consults the wall clock.
func NextOccurrence(first time.Time, r Recurrence, last time.Time) (next time.Time, ok bool) {
	_ = first
	switch r {
	case RecurDaily:
		return last.Add(24 * time.Hour), true
	case RecurWeekly:
		return last.Add(7 * 24 * time.Hour), true
	case RecurMonthly:
		last = last.UTC()
		year, month := last.Year(), last.Month()
		if month == time.December {
			year, month = year+1, time.January
		} else {
			month++
		}
		day := last.Day()
		if day > 28 {
			day = 28
		}
		return time.Date(year, month, day, last.Hour(), last.Minute(), 0, 0, time.UTC), true
	default:
		return time.Time{}, false
	}
}
