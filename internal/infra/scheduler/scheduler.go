package scheduler

import (
	"context"
	"household_reminder_bot/internal/app"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	reminderJobTimeout = 10 * time.Minute
	drainJobTimeout    = 4 * time.Minute
)

// ReminderRunner is the periodic reminder evaluation.
type ReminderRunner interface {
	EvaluateAndDispatchReminders(ctx context.Context, now time.Time) (app.ReminderJobResult, error)
}

// QueueDrainer is the periodic retry queue drain.
type QueueDrainer interface {
	DrainRetryQueue(ctx context.Context, now time.Time) (app.DrainResult, error)
}

// ReminderScheduler runs the reminder evaluation and queue drain on cron.
// Overlapping runs of the same job are skipped, not queued.
type ReminderScheduler struct {
	cronEngine *cron.Cron
	reminders  ReminderRunner
	drainer    QueueDrainer
	location   *time.Location
	logger     *logrus.Entry

	cronSpecReminders  string
	cronSpecQueueDrain string
}

func NewReminderScheduler(
	reminders ReminderRunner,
	drainer QueueDrainer,
	location *time.Location,
	logger *logrus.Entry,
	cronSpecReminders string, // e.g., "*/15 * * * *"
	cronSpecQueueDrain string, // e.g., "*/5 * * * *"
) *ReminderScheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &ReminderScheduler{
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		reminders:          reminders,
		drainer:            drainer,
		location:           location,
		logger:             logger.WithField("component", "scheduler"),
		cronSpecReminders:  cronSpecReminders,
		cronSpecQueueDrain: cronSpecQueueDrain,
	}
}

// Start registers both jobs and starts the cron engine.
func (s *ReminderScheduler) Start() error {
	s.logger.Info("Starting reminder scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecReminders, s.runReminders); err != nil {
		return err
	}
	if _, err := s.cronEngine.AddFunc(s.cronSpecQueueDrain, s.runQueueDrain); err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"reminders_spec": s.cronSpecReminders,
		"drain_spec":     s.cronSpecQueueDrain,
		"location":       s.location.String(),
	}).Info("Reminder scheduler started with jobs.")
	return nil
}

func (s *ReminderScheduler) runReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), reminderJobTimeout)
	defer cancel()
	now := time.Now().In(s.location)
	logCtx := s.logger.WithFields(logrus.Fields{"job": "reminders", "now": now.Format(time.RFC3339)})

	res, err := s.reminders.EvaluateAndDispatchReminders(ctx, now)
	if err != nil {
		logCtx.WithError(err).Error("Reminder evaluation failed")
		return
	}
	logCtx.WithFields(logrus.Fields{"checked": res.Checked, "sent": res.Sent, "errors": res.Errors}).
		Info("Reminder evaluation finished")
}

func (s *ReminderScheduler) runQueueDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainJobTimeout)
	defer cancel()
	now := time.Now().In(s.location)
	logCtx := s.logger.WithFields(logrus.Fields{"job": "queue_drain", "now": now.Format(time.RFC3339)})

	res, err := s.drainer.DrainRetryQueue(ctx, now)
	if err != nil {
		logCtx.WithError(err).Error("Retry queue drain failed")
		return
	}
	logCtx.WithFields(logrus.Fields{"processed": res.Processed, "failed": res.Failed, "remaining": res.Remaining}).
		Info("Retry queue drain finished")
}

// Stop prevents new runs and waits for running jobs to finish.
func (s *ReminderScheduler) Stop() {
	s.logger.Info("Stopping reminder scheduler...")
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Reminder scheduler gracefully stopped.")
}
