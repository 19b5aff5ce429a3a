// Package schedule models custom reminders attached to an obligation,
// independent of the obligation's days-before rule.
package schedule

import (
	"database/sql"
	"errors"
	"time"
)

// Type is how the reminder time was chosen.
type Type string

const (
	TypeDaysBefore   Type = "days_before"
	TypeSpecificDate Type = "specific_date"
	TypeRecurring    Type = "recurring"
)

// State of a schedule row. Rows move pending -> sent or pending -> expired, never back.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateExpired State = "expired"
)

// DefaultRecurringIntervalDays is used by recurring schedules without a config.
const DefaultRecurringIntervalDays = 1

var ErrIllegalTransition = errors.New("illegal reminder schedule transition")

// Schedule is one custom reminder. Recurring schedules form a chain: firing a row
// creates its successor, and the fired row is never reused.
// Corresponds to the 'reminder_schedules' table.
type Schedule struct {
	ID           int64
	ObligationID int64
	Type         Type
	DaysBefore   sql.NullInt32
	ReminderTime time.Time
	State        State
	SentAt       sql.NullTime
	IntervalDays sql.NullInt32 // recurrence config, recurring only
	PreviousID   sql.NullInt64 // chain predecessor
	CreatedAt    time.Time
}

func (s *Schedule) IsSent() bool { return s.State == StateSent }

// IsDue reports whether a pending schedule should fire at now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.State == StatePending && !s.ReminderTime.After(now)
}

// MarkSent moves a pending schedule to sent.
func (s *Schedule) MarkSent(at time.Time) error {
	if s.State != StatePending {
		return ErrIllegalTransition
	}
	s.State = StateSent
	s.SentAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

// EndsWithCycle reports whether the schedule belongs to one payment cycle.
// Recurring chains outlive payments and are never expired by them.
func (s *Schedule) EndsWithCycle() bool { return s.Type != TypeRecurring }

// Expire moves a pending schedule to expired.
func (s *Schedule) Expire() error {
	if s.State != StatePending {
		return ErrIllegalTransition
	}
	s.State = StateExpired
	return nil
}

// Successor returns the next link of a recurring chain, or nil for other types.
func (s *Schedule) Successor() *Schedule {
	if s.Type != TypeRecurring {
		return nil
	}
	interval := DefaultRecurringIntervalDays
	if s.IntervalDays.Valid && s.IntervalDays.Int32 > 0 {
		interval = int(s.IntervalDays.Int32)
	}
	return &Schedule{
		ObligationID: s.ObligationID,
		Type:         TypeRecurring,
		ReminderTime: s.ReminderTime.AddDate(0, 0, interval),
		State:        StatePending,
		IntervalDays: s.IntervalDays,
		PreviousID:   sql.NullInt64{Int64: s.ID, Valid: s.ID != 0},
	}
}
