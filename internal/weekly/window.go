package weekly

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Window is a Monday-to-Monday range in the configured time zone
type Window struct {
	After  time.Time
	Before time.Time
	Label  string
}

// LastWeek is the most recent completed calendar week before now: Monday
// 00:00 of the previous week up to Monday 00:00 of now's week, both in loc.
func LastWeek(now time.Time, loc *time.Location) Window {
	return WeekBefore(now, loc, 0)
}

// WeekBefore is LastWeek moved weeksAgo further into the past. Boundaries are
// calendar midnights, so a week spanning a DST change is 167 or 169 hours.
func WeekBefore(now time.Time, loc *time.Location, weeksAgo int) Window {
	local := now.In(loc)

	// Days since Monday
	offset := (int(local.Weekday()) + 6) % 7
	thisMonday := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)

	before := thisMonday.AddDate(0, 0, -7*weeksAgo)
	after := before.AddDate(0, 0, -7)

	return Window{
		After:  after,
		Before: before,
		Label:  fmt.Sprintf("%s to %s", after.Format(dateLayout), before.AddDate(0, 0, -1).Format(dateLayout)),
	}
}
