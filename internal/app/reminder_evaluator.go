// internal/app/reminder_evaluator.go
package app

import (
	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/schedule"
	"household_reminder_bot/internal/domain/timeofday"
	"time"
)

// DefaultDueTime applies when an obligation's due time is missing or malformed.
const DefaultDueTime = timeofday.Clock(9 * 60)

// Track is which reminder rule fired.
type Track string

const (
	TrackSimple Track = "simple"
	TrackCustom Track = "custom"
)

// ReminderDecision is one reminder that must fire now.
type ReminderDecision struct {
	Track        Track
	Obligation   *obligation.Obligation
	Schedule     *schedule.Schedule // custom track only
	DaysUntilDue int                // negative when overdue
}

// DueDateIn places the obligation's due date on the calendar of loc.
func DueDateIn(o *obligation.Obligation, loc *time.Location) time.Time {
	d := o.NextDueDate
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// DueClock parses the obligation's due time, falling back to DefaultDueTime.
func DueClock(o *obligation.Obligation) timeofday.Clock {
	c, err := timeofday.Parse(o.DueTime)
	if err != nil {
		return DefaultDueTime
	}
	return c
}

// EvaluateSimple applies the days-before rule at now.
func EvaluateSimple(o *obligation.Obligation, now time.Time) (ReminderDecision, bool) {
	if !o.ReminderEnabled || o.IsPaid || !o.IsActive {
		return ReminderDecision{}, false
	}
	today := obligation.DateOf(now)
	if o.LastReminderSentAt.Valid && obligation.DateOf(o.LastReminderSentAt.Time.In(now.Location())).Equal(today) {
		return ReminderDecision{}, false
	}

	due := DueDateIn(o, now.Location())
	threshold := due.AddDate(0, 0, -o.ReminderDaysBefore)
	if today.Before(threshold) {
		return ReminderDecision{}, false
	}
	if today.Equal(threshold) && now.Before(DueClock(o).On(today)) {
		return ReminderDecision{}, false
	}
	return ReminderDecision{
		Track:        TrackSimple,
		Obligation:   o,
		DaysUntilDue: obligation.DaysBetween(today, due),
	}, true
}

// EvaluateCustom returns a decision for every pending schedule due at now.
func EvaluateCustom(o *obligation.Obligation, schedules []*schedule.Schedule, now time.Time) []ReminderDecision {
	daysUntilDue := obligation.DaysBetween(obligation.DateOf(now), DueDateIn(o, now.Location()))
	decisions := make([]ReminderDecision, 0, len(schedules))
	for _, s := range schedules {
		if s.ObligationID != o.ID || !s.IsDue(now) {
			continue
		}
		decisions = append(decisions, ReminderDecision{
			Track:        TrackCustom,
			Obligation:   o,
			Schedule:     s,
			DaysUntilDue: daysUntilDue,
		})
	}
	return decisions
}
