package app

import (
	"database/sql"
	"testing"
	"time"

	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/schedule"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rentDueOn(due time.Time) *obligation.Obligation {
	return &obligation.Obligation{
		ID:                 1,
		UserID:             1,
		Name:               "Rent",
		Amount:             decimal.RequireFromString("1200.00"),
		DueDay:             due.Day(),
		DueTime:            "09:00",
		Recurrence:         obligation.Recurrence{Type: obligation.RecurrenceMonthly},
		NextDueDate:        due,
		ReminderDaysBefore: 3,
		ReminderEnabled:    true,
		IsActive:           true,
	}
}

func TestEvaluateSimple(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		mutate   func(o *obligation.Obligation)
		fires    bool
		daysLeft int
	}{
		{name: "threshold day after due time", now: time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC), fires: true, daysLeft: 3},
		{name: "threshold day before due time", now: time.Date(2025, time.March, 10, 8, 59, 0, 0, time.UTC), fires: false},
		{name: "before the threshold", now: time.Date(2025, time.March, 9, 23, 0, 0, 0, time.UTC), fires: false},
		{name: "inside the window any time", now: time.Date(2025, time.March, 12, 1, 0, 0, 0, time.UTC), fires: true, daysLeft: 1},
		{name: "overdue", now: time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC), fires: true, daysLeft: -2},
		{
			name:   "already reminded today",
			now:    time.Date(2025, time.March, 11, 18, 0, 0, 0, time.UTC),
			mutate: func(o *obligation.Obligation) { o.LastReminderSentAt = sql.NullTime{Time: time.Date(2025, time.March, 11, 9, 15, 0, 0, time.UTC), Valid: true} },
			fires:  false,
		},
		{
			name:     "reminded yesterday",
			now:      time.Date(2025, time.March, 11, 18, 0, 0, 0, time.UTC),
			mutate:   func(o *obligation.Obligation) { o.LastReminderSentAt = sql.NullTime{Time: time.Date(2025, time.March, 10, 9, 15, 0, 0, time.UTC), Valid: true} },
			fires:    true,
			daysLeft: 2,
		},
		{name: "paid", now: time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC), mutate: func(o *obligation.Obligation) { o.IsPaid = true }, fires: false},
		{name: "reminders disabled", now: time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC), mutate: func(o *obligation.Obligation) { o.ReminderEnabled = false }, fires: false},
		{name: "inactive", now: time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC), mutate: func(o *obligation.Obligation) { o.IsActive = false }, fires: false},
		{
			name:     "malformed due time falls back to nine",
			now:      time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
			mutate:   func(o *obligation.Obligation) { o.DueTime = "noon" },
			fires:    true,
			daysLeft: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := rentDueOn(due)
			if tt.mutate != nil {
				tt.mutate(o)
			}
			d, fires := EvaluateSimple(o, tt.now)
			assert.Equal(t, tt.fires, fires)
			if fires {
				assert.Equal(t, TrackSimple, d.Track)
				assert.Equal(t, tt.daysLeft, d.DaysUntilDue)
			}
		})
	}
}

func TestEvaluateCustom(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	o := rentDueOn(due)

	schedules := []*schedule.Schedule{
		{ID: 1, ObligationID: 1, Type: schedule.TypeSpecificDate, State: schedule.StatePending, ReminderTime: now.Add(-time.Hour)},
		{ID: 2, ObligationID: 1, Type: schedule.TypeSpecificDate, State: schedule.StatePending, ReminderTime: now.Add(time.Hour)},
		{ID: 3, ObligationID: 1, Type: schedule.TypeRecurring, State: schedule.StateSent, ReminderTime: now.Add(-24 * time.Hour)},
		{ID: 4, ObligationID: 2, Type: schedule.TypeSpecificDate, State: schedule.StatePending, ReminderTime: now.Add(-time.Hour)},
	}

	decisions := EvaluateCustom(o, schedules, now)
	require.Len(t, decisions, 1)
	assert.Equal(t, TrackCustom, decisions[0].Track)
	assert.Equal(t, int64(1), decisions[0].Schedule.ID)
	assert.Equal(t, 3, decisions[0].DaysUntilDue)
}
