package obligation

import (
	"database/sql"
	"time"
)

// DefaultCustomIntervalDays applies to custom recurrences without an interval.
const DefaultCustomIntervalDays = 30

// NextDueDate computes the due date following lastDate. When lastDate is
// absent the calculation starts from today. Unknown patterns behave as monthly.
// The result is a date at midnight in the base's location.
func NextDueDate(lastDate sql.NullTime, today time.Time, dueDay int, rec Recurrence) time.Time {
	base := today
	if lastDate.Valid {
		base = lastDate.Time
	}
	base = DateOf(base)

	switch rec.Type {
	case RecurrenceWeekly:
		return base.AddDate(0, 0, 7)
	case RecurrenceBiweekly:
		return base.AddDate(0, 0, 14)
	case RecurrenceQuarterly:
		return addMonthsClamped(base, 3, dueDay)
	case RecurrenceYearly:
		year := base.Year() + 1
		day := min(base.Day(), DaysIn(year, base.Month()))
		return time.Date(year, base.Month(), day, 0, 0, 0, 0, base.Location())
	case RecurrenceCustom:
		interval := DefaultCustomIntervalDays
		if rec.IntervalDays.Valid && rec.IntervalDays.Int32 > 0 {
			interval = int(rec.IntervalDays.Int32)
		}
		return base.AddDate(0, 0, interval)
	default:
		return addMonthsClamped(base, 1, dueDay)
	}
}

// FirstDueDate returns the first occurrence of dueDay on or after today,
// clamped to the last day of its month.
func FirstDueDate(today time.Time, dueDay int) time.Time {
	today = DateOf(today)
	candidate := dayInMonth(today.Year(), today.Month(), dueDay, today.Location())
	if candidate.Before(today) {
		return addMonthsClamped(today, 1, dueDay)
	}
	return candidate
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from a to b (negative when b is earlier).
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func addMonthsClamped(base time.Time, months, dueDay int) time.Time {
	// Month arithmetic on the first of the month never overflows into the next one.
	first := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, base.Location()).AddDate(0, months, 0)
	return dayInMonth(first.Year(), first.Month(), dueDay, base.Location())
}

func dayInMonth(year int, month time.Month, dueDay int, loc *time.Location) time.Time {
	dueDay = max(1, min(dueDay, 31))
	day := min(dueDay, DaysIn(year, month))
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
