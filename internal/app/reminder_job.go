// internal/app/reminder_job.go
package app

import (
	"context"
	"errors"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/schedule"
	idb "household_reminder_bot/internal/infra/database"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier is the dispatcher entry point used by the reminder job.
type Notifier interface {
	Dispatch(ctx context.Context, msg notification.Message, now time.Time) ([]notification.ChannelResult, error)
}

// ReminderJobResult summarizes one run.
type ReminderJobResult struct {
	Checked int
	Sent    int
	Errors  int
}

// ReminderJob evaluates every eligible obligation and dispatches what fires.
type ReminderJob struct {
	obligations obligation.Repository
	schedules   schedule.Repository
	notifier    Notifier
	workers     int
	logger      *logrus.Entry
}

func NewReminderJob(or obligation.Repository, sr schedule.Repository, n Notifier, workers int, logger *logrus.Entry) *ReminderJob {
	if workers <= 0 {
		workers = 1
	}
	return &ReminderJob{
		obligations: or,
		schedules:   sr,
		notifier:    n,
		workers:     workers,
		logger:      logger.WithField("component", "reminder_job"),
	}
}

// EvaluateAndDispatchReminders runs one tick at now. It never fails as a whole
// except when the eligible obligations cannot be listed.
func (j *ReminderJob) EvaluateAndDispatchReminders(ctx context.Context, now time.Time) (ReminderJobResult, error) {
	j.logger.WithField("now", now.Format(time.RFC3339)).Info("Evaluating bill reminders")

	eligible, err := j.obligations.ListEligibleForReminders(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Failed to list eligible obligations")
		return ReminderJobResult{}, fmt.Errorf("failed to list eligible obligations: %w", err)
	}

	var (
		mu     sync.Mutex
		result = ReminderJobResult{Checked: len(eligible)}
	)
	record := func(sent int, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Sent += sent
		if err != nil {
			result.Errors++
		}
	}

	if j.workers == 1 || len(eligible) <= 1 {
		for _, o := range eligible {
			record(j.processObligation(ctx, o, now))
		}
	} else {
		work := make(chan *obligation.Obligation)
		var wg sync.WaitGroup
		for i := 0; i < j.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for o := range work {
					record(j.processObligation(ctx, o, now))
				}
			}()
		}
		for _, o := range eligible {
			work <- o
		}
		close(work)
		wg.Wait()
	}

	j.logger.WithFields(logrus.Fields{
		"checked": result.Checked,
		"sent":    result.Sent,
		"errors":  result.Errors,
	}).Info("Bill reminder run finished")
	return result, nil
}

// processObligation runs both tracks for one obligation. A panic is turned
// into an error so one bad record cannot stop the batch.
func (j *ReminderJob) processObligation(ctx context.Context, o *obligation.Obligation, now time.Time) (sent int, err error) {
	logCtx := j.logger.WithFields(logrus.Fields{"obligation_id": o.ID, "user_id": o.UserID})
	defer func() {
		if r := recover(); r != nil {
			logCtx.WithField("panic", r).Error("Recovered while processing obligation")
			err = fmt.Errorf("panic processing obligation %s: %v", obligationLabel(o), r)
		}
	}()

	var errs []error

	if decision, ok := EvaluateSimple(o, now); ok {
		delivered, derr := j.fireSimple(ctx, decision, now, logCtx)
		if derr != nil {
			errs = append(errs, derr)
		} else if delivered {
			sent++
		}
	}

	due, lerr := j.schedules.ListDue(ctx, o.ID, now)
	if lerr != nil {
		logCtx.WithError(lerr).Error("Failed to list due reminder schedules")
		errs = append(errs, lerr)
	}
	for _, decision := range EvaluateCustom(o, due, now) {
		delivered, derr := j.fireCustom(ctx, decision, now, logCtx.WithField("schedule_id", decision.Schedule.ID))
		if derr != nil {
			errs = append(errs, derr)
		} else if delivered {
			sent++
		}
	}

	return sent, errors.Join(errs...)
}

// accepted is true when the message reached a channel or the retry queue took it over.
func accepted(results []notification.ChannelResult) bool {
	for _, r := range results {
		if r.Outcome == notification.OutcomeSent || r.Outcome == notification.OutcomeQueued {
			return true
		}
	}
	return false
}

func (j *ReminderJob) fireSimple(ctx context.Context, d ReminderDecision, now time.Time, logCtx *logrus.Entry) (bool, error) {
	results, err := j.notifier.Dispatch(ctx, ReminderMessage(d), now)
	if err != nil {
		logCtx.WithError(err).Error("Failed to dispatch bill reminder")
		return false, err
	}
	if !accepted(results) {
		logCtx.WithField("days_until_due", d.DaysUntilDue).Info("Bill reminder not delivered on any channel, will retry next run")
		return false, nil
	}

	updated, err := j.obligations.MarkReminderSent(ctx, d.Obligation.ID, now, obligation.DateOf(now))
	if err != nil {
		logCtx.WithError(err).Error("Failed to record reminder as sent")
		return true, err
	}
	if !updated {
		logCtx.Warn("Reminder already recorded for today by another run")
	}
	d.Obligation.LastReminderSentAt.Time, d.Obligation.LastReminderSentAt.Valid = now, true
	logCtx.WithField("days_until_due", d.DaysUntilDue).Info("Bill reminder sent")
	return true, nil
}

func (j *ReminderJob) fireCustom(ctx context.Context, d ReminderDecision, now time.Time, logCtx *logrus.Entry) (bool, error) {
	results, err := j.notifier.Dispatch(ctx, ReminderMessage(d), now)
	if err != nil {
		logCtx.WithError(err).Error("Failed to dispatch custom reminder")
		return false, err
	}
	if !accepted(results) {
		logCtx.Info("Custom reminder not delivered on any channel, will retry next run")
		return false, nil
	}

	successor := d.Schedule.Successor()
	if err := j.schedules.MarkSentAndChain(ctx, d.Schedule, now, successor); err != nil {
		if errors.Is(err, idb.ErrScheduleAlreadySent) {
			logCtx.Warn("Custom reminder already marked sent by another run")
			return true, nil
		}
		logCtx.WithError(err).Error("Failed to mark custom reminder sent")
		return true, err
	}
	if successor != nil {
		logCtx.WithField("next_reminder_time", successor.ReminderTime.Format(time.RFC3339)).Info("Recurring reminder chained")
	}
	logCtx.Info("Custom reminder sent")
	return true, nil
}
