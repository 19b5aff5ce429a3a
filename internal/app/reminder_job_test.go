package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reminderFixture struct {
	*dispatcherFixture
	obligations *fakeObligations
	schedules   *fakeSchedules
	job         *ReminderJob
}

func newReminderFixture(workers int, items ...*obligation.Obligation) *reminderFixture {
	df := newDispatcherFixture()
	f := &reminderFixture{
		dispatcherFixture: df,
		obligations:       newFakeObligations(items...),
		schedules:         &fakeSchedules{},
	}
	f.job = NewReminderJob(f.obligations, f.schedules, df.d, workers, testLogger())
	return f
}

func TestReminderJobSendsOncePerDay(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	f := newReminderFixture(1, rentDueOn(due))

	res, err := f.job.EvaluateAndDispatchReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, ReminderJobResult{Checked: 1, Sent: 1}, res)

	o := f.obligations.get(1)
	require.True(t, o.LastReminderSentAt.Valid)
	assert.Equal(t, now, o.LastReminderSentAt.Time)

	msg := f.push.sent[0]
	assert.Equal(t, notification.TypeBillReminder, msg.Type)
	assert.Equal(t, notification.MarkPaidAction(1, due), msg.Action)
	assert.Contains(t, msg.Title, "Rent")

	res, err = f.job.EvaluateAndDispatchReminders(context.Background(), now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, f.push.calls())
	assert.Equal(t, 1, f.inApp.calls())
}

func TestReminderJobRetriesWhenNothingDelivered(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	f := newReminderFixture(1, rentDueOn(due))
	f.push.fail(notification.ErrNoRecipient)
	f.inApp.fail(notification.ErrNoRecipient)

	res, err := f.job.EvaluateAndDispatchReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.False(t, f.obligations.get(1).LastReminderSentAt.Valid)
}

func TestReminderJobQuietHoursQueuesOnce(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 10, 23, 0, 0, 0, time.UTC)
	o := rentDueOn(due)
	f := newReminderFixture(1, o)
	f.setQuietHours(t, o.UserID, "22:00-07:00")

	for i := 0; i < 3; i++ {
		_, err := f.job.EvaluateAndDispatchReminders(context.Background(), now.Add(time.Duration(i)*15*time.Minute))
		require.NoError(t, err)
	}
	assert.Len(t, f.queue.all(), 1)
	assert.Equal(t, 0, f.push.calls())
	assert.True(t, f.obligations.get(1).LastReminderSentAt.Valid)
}

func TestReminderJobRecurringChain(t *testing.T) {
	due := time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)
	start := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	o := rentDueOn(due) // days-before threshold is weeks away
	f := newReminderFixture(1, o)
	require.NoError(t, f.schedules.Create(context.Background(), &schedule.Schedule{
		ObligationID: o.ID,
		Type:         schedule.TypeRecurring,
		State:        schedule.StatePending,
		ReminderTime: start,
	}))

	const fires = 4
	for day := 0; day < fires; day++ {
		now := start.AddDate(0, 0, day).Add(5 * time.Minute)
		res, err := f.job.EvaluateAndDispatchReminders(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent, "day %d", day)

		// A second tick the same day finds nothing due.
		res, err = f.job.EvaluateAndDispatchReminders(context.Background(), now.Add(15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Sent, "day %d repeat", day)
	}

	rows, err := f.schedules.ListByObligation(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, rows, fires+1)
	pending := 0
	for i, s := range rows {
		if s.State == schedule.StatePending {
			pending++
		}
		if i > 0 {
			assert.Equal(t, sql.NullInt64{Int64: rows[i-1].ID, Valid: true}, s.PreviousID)
		}
	}
	assert.Equal(t, 1, pending)
	assert.Equal(t, notification.TypeCustomReminder, f.push.sent[0].Type)
}

func TestReminderJobRecurringChainSurvivesPayment(t *testing.T) {
	due := time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)
	start := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	o := rentDueOn(due)
	f := newReminderFixture(1, o)
	ctx := context.Background()
	require.NoError(t, f.schedules.Create(ctx, &schedule.Schedule{
		ObligationID: o.ID,
		Type:         schedule.TypeRecurring,
		State:        schedule.StatePending,
		ReminderTime: start,
	}))
	require.NoError(t, f.schedules.Create(ctx, &schedule.Schedule{
		ObligationID: o.ID,
		Type:         schedule.TypeSpecificDate,
		State:        schedule.StatePending,
		ReminderTime: start.Add(-time.Hour),
	}))

	// Paid before the job got to the pending recurring head.
	svc := NewObligationService(f.obligations, f.schedules, testLogger())
	paidAt := start.Add(5 * time.Minute)
	_, err := svc.MarkPaid(ctx, o.ID, o.UserID, nil, paidAt, "", paidAt)
	require.NoError(t, err)

	rows, err := f.schedules.ListByObligation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePending, rows[0].State)
	assert.Equal(t, schedule.StateExpired, rows[1].State)

	const days = 5
	for day := 0; day < days; day++ {
		res, err := f.job.EvaluateAndDispatchReminders(ctx, start.AddDate(0, 0, day).Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent, "day %d", day)
	}
	require.Equal(t, days, f.push.calls())
	for _, msg := range f.push.sent {
		assert.Equal(t, notification.TypeCustomReminder, msg.Type)
	}
}

func TestReminderJobWorkerPool(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC)

	var items []*obligation.Obligation
	for i := int64(1); i <= 8; i++ {
		o := rentDueOn(due)
		o.ID, o.UserID = i, i
		items = append(items, o)
	}
	f := newReminderFixture(4, items...)

	res, err := f.job.EvaluateAndDispatchReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, ReminderJobResult{Checked: 8, Sent: 8}, res)
	assert.Equal(t, 8, f.push.calls())
}

type panickyNotifier struct{}

func (panickyNotifier) Dispatch(context.Context, notification.Message, time.Time) ([]notification.ChannelResult, error) {
	panic("boom")
}

type erroringNotifier struct{}

func (erroringNotifier) Dispatch(context.Context, notification.Message, time.Time) ([]notification.ChannelResult, error) {
	return nil, errors.New("preferences unavailable")
}

func TestReminderJobIsolatesFailures(t *testing.T) {
	due := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC)

	for name, n := range map[string]Notifier{"panic": panickyNotifier{}, "error": erroringNotifier{}} {
		t.Run(name, func(t *testing.T) {
			a, b := rentDueOn(due), rentDueOn(due)
			b.ID = 2
			job := NewReminderJob(newFakeObligations(a, b), &fakeSchedules{}, n, 1, testLogger())

			res, err := job.EvaluateAndDispatchReminders(context.Background(), now)
			require.NoError(t, err)
			assert.Equal(t, ReminderJobResult{Checked: 2, Sent: 0, Errors: 2}, res)
		})
	}
}
