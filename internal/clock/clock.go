// Package clock holds the calendar arithmetic shared by the scheduler,
// the response write path and the leaderboards.
//
// Every function is pure and computes in the supplied location, never UTC,
// so day and week boundaries line up with what the operator configured
// (e.g. Asia/Kolkata). Weeks start on Monday.
package clock

import "time"

// DateLayout is the canonical on-disk date format.
const DateLayout = "2006-01-02"

// DateOf returns the calendar date of t in loc as "YYYY-MM-DD".
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// WeekNumberOf returns a unique Monday-start week key for the instant t,
// encoded as ISO year*100 + ISO week (e.g. 202436).
func WeekNumberOf(t time.Time, loc *time.Location) int {
	year, week := t.In(loc).ISOWeek()
	return year*100 + week
}

// WeekStartOf returns Monday 00:00:00 (in loc) of the ISO week containing t.
func WeekStartOf(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	// time.Weekday has Sunday=0; shift so Monday=0.
	daysSinceMonday := (int(lt.Weekday()) + 6) % 7
	y, m, d := lt.AddDate(0, 0, -daysSinceMonday).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// IsMonday reports whether t falls on a Monday in loc.
func IsMonday(t time.Time, loc *time.Location) bool {
	return t.In(loc).Weekday() == time.Monday
}

// TimeTaken returns the whole seconds elapsed between posting a question
// and a user's answer. Never negative.
func TimeTaken(posted, answered time.Time) int64 {
	d := answered.Sub(posted)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
