package schedule

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleTransitions(t *testing.T) {
	now := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

	s := &Schedule{ID: 1, Type: TypeSpecificDate, State: StatePending, ReminderTime: now.Add(-time.Minute)}
	assert.True(t, s.IsDue(now))
	require.NoError(t, s.MarkSent(now))
	assert.True(t, s.IsSent())
	assert.Equal(t, now, s.SentAt.Time)
	assert.False(t, s.IsDue(now))

	assert.ErrorIs(t, s.MarkSent(now), ErrIllegalTransition)
	assert.ErrorIs(t, s.Expire(), ErrIllegalTransition)

	e := &Schedule{State: StatePending}
	require.NoError(t, e.Expire())
	assert.Equal(t, StateExpired, e.State)
	assert.ErrorIs(t, e.MarkSent(now), ErrIllegalTransition)
}

func TestIsDueInFuture(t *testing.T) {
	now := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	s := &Schedule{State: StatePending, ReminderTime: now.Add(time.Hour)}
	assert.False(t, s.IsDue(now))
}

func TestEndsWithCycle(t *testing.T) {
	assert.True(t, (&Schedule{Type: TypeDaysBefore}).EndsWithCycle())
	assert.True(t, (&Schedule{Type: TypeSpecificDate}).EndsWithCycle())
	assert.False(t, (&Schedule{Type: TypeRecurring}).EndsWithCycle())
}

func TestSuccessor(t *testing.T) {
	at := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

	t.Run("non-recurring has none", func(t *testing.T) {
		for _, typ := range []Type{TypeDaysBefore, TypeSpecificDate} {
			s := &Schedule{ID: 1, Type: typ, ReminderTime: at}
			assert.Nil(t, s.Successor())
		}
	})

	t.Run("recurring defaults to one day", func(t *testing.T) {
		s := &Schedule{ID: 7, ObligationID: 3, Type: TypeRecurring, ReminderTime: at, State: StateSent}
		next := s.Successor()
		require.NotNil(t, next)
		assert.Equal(t, at.AddDate(0, 0, 1), next.ReminderTime)
		assert.Equal(t, StatePending, next.State)
		assert.Equal(t, sql.NullInt64{Int64: 7, Valid: true}, next.PreviousID)
		assert.Equal(t, int64(3), next.ObligationID)
	})

	t.Run("recurring keeps its interval along the chain", func(t *testing.T) {
		s := &Schedule{ID: 7, Type: TypeRecurring, ReminderTime: at, IntervalDays: sql.NullInt32{Int32: 3, Valid: true}}
		next := s.Successor()
		next.ID = 8
		third := next.Successor()
		assert.Equal(t, at.AddDate(0, 0, 6), third.ReminderTime)
		assert.Equal(t, int64(8), third.PreviousID.Int64)
	})
}
