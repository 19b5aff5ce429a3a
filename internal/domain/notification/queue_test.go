package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Backoff(1))
	assert.Equal(t, 60*time.Minute, Backoff(2))
	assert.Equal(t, 135*time.Minute, Backoff(3))
}

func TestQueuedNotificationLifecycle(t *testing.T) {
	now := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{UserID: 5, Type: TypeBillReminder, Title: "Rent", Body: "Rent is due", Priority: 9, Action: MarkPaidAction(12, time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC))}

	q := NewQueued(msg, now, 0)
	assert.Equal(t, QueueQueued, q.State)
	assert.Equal(t, DefaultMaxAttempts, q.MaxAttempts)
	assert.Equal(t, PriorityLow, q.Priority)
	assert.Equal(t, now, q.NextAttemptAt)

	require.NoError(t, q.RecordFailure(now, "push: timeout"))
	assert.Equal(t, QueueRetrying, q.State)
	assert.Equal(t, 1, q.Attempts)
	assert.Equal(t, now.Add(15*time.Minute), q.NextAttemptAt)
	assert.Equal(t, "push: timeout", q.ErrorMessage.String)

	require.NoError(t, q.RecordFailure(now, "push: timeout"))
	assert.Equal(t, 2, q.Attempts)
	assert.Equal(t, now.Add(60*time.Minute), q.NextAttemptAt)

	require.NoError(t, q.RecordFailure(now, "push: timeout"))
	assert.Equal(t, QueueAbandoned, q.State)
	assert.True(t, q.CompletedAt.Valid)
	assert.Equal(t, MaxAttemptsReached, q.ErrorMessage.String)
	assert.True(t, q.IsTerminal())

	assert.ErrorIs(t, q.RecordFailure(now, "again"), ErrQueueTerminal)
	assert.ErrorIs(t, q.MarkDelivered(now), ErrQueueTerminal)
	assert.ErrorIs(t, q.Defer(now), ErrQueueTerminal)

	payload := q.Payload()
	assert.Equal(t, msg.Body, payload.Body)
	assert.Equal(t, msg.Action, payload.Action)
}

func TestQueuedNotificationDeliveredAndDeferred(t *testing.T) {
	now := time.Date(2025, time.May, 1, 23, 0, 0, 0, time.UTC)
	q := NewQueued(Message{UserID: 1, Priority: PriorityNormal}, now, 3)

	later := now.Add(8 * time.Hour)
	require.NoError(t, q.Defer(later))
	assert.Equal(t, later, q.NextAttemptAt)
	assert.Equal(t, 0, q.Attempts)

	require.NoError(t, q.RecordFailure(later, "email: refused"))
	require.NoError(t, q.MarkDelivered(later.Add(time.Hour)))
	assert.Equal(t, QueueDelivered, q.State)
	assert.False(t, q.ErrorMessage.Valid)
}

func TestMarkPaidAction(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	action := MarkPaidAction(42, due)
	assert.Equal(t, "paid:42:2025-03-13", action)

	ref, ok := ParseMarkPaidAction(action)
	assert.True(t, ok)
	assert.Equal(t, int64(42), ref.ObligationID)
	assert.True(t, due.Equal(ref.DueDate))

	ref, ok = ParseMarkPaidRef("42:2025-03-13")
	assert.True(t, ok)
	assert.Equal(t, int64(42), ref.ObligationID)

	for _, bad := range []string{"", "https://example.com", "paid:", "paid:x", "paid:-1", "paid:42", "paid:42:13.03.2025", "paid:x:2025-03-13"} {
		_, ok := ParseMarkPaidAction(bad)
		assert.False(t, ok, bad)
	}
}

func TestResolvePreferences(t *testing.T) {
	set := ResolvePreferences(9, []*Preference{
		{UserID: 9, Channel: ChannelEmail, Enabled: true},
		{UserID: 9, Channel: ChannelPush, Enabled: false, Settings: Settings{QuietHours: "22:00-07:00"}},
		nil,
	})
	assert.False(t, set.Enabled(ChannelPush))
	assert.True(t, set.Enabled(ChannelEmail))
	assert.True(t, set.Enabled(ChannelInApp))
	assert.Equal(t, "22:00-07:00", set.QuietHours())

	defaults := ResolvePreferences(9, nil)
	assert.True(t, defaults.Enabled(ChannelPush))
	assert.False(t, defaults.Enabled(ChannelEmail))
	assert.True(t, defaults.Enabled(ChannelInApp))
	assert.Empty(t, defaults.QuietHours())
}
