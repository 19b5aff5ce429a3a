// internal/app/queue_drain_job.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	idb "household_reminder_bot/internal/infra/database"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultQueueBatchSize = 100
	defaultClaimLease     = 5 * time.Minute
)

// Redeliverer re-runs the dispatch pipeline for a queued message.
type Redeliverer interface {
	Redeliver(ctx context.Context, msg notification.Message, now time.Time) ([]notification.ChannelResult, time.Time, error)
}

// DrainResult summarizes one drain run.
type DrainResult struct {
	Processed int
	Failed    int
	Remaining int
}

// QueueDrainJob re-attempts queued notifications whose retry time has come.
type QueueDrainJob struct {
	queue      notification.QueueRepository
	dispatcher Redeliverer
	batchSize  int
	lease      time.Duration
	logger     *logrus.Entry
}

func NewQueueDrainJob(q notification.QueueRepository, d Redeliverer, batchSize int, logger *logrus.Entry) *QueueDrainJob {
	if batchSize <= 0 {
		batchSize = DefaultQueueBatchSize
	}
	return &QueueDrainJob{
		queue:      q,
		dispatcher: d,
		batchSize:  batchSize,
		lease:      defaultClaimLease,
		logger:     logger.WithField("component", "queue_drain_job"),
	}
}

// DrainRetryQueue processes one batch at now.
func (j *QueueDrainJob) DrainRetryQueue(ctx context.Context, now time.Time) (DrainResult, error) {
	token := uuid.NewString()
	items, err := j.queue.ClaimDue(ctx, now, j.batchSize, token, now.Add(j.lease))
	if err != nil {
		j.logger.WithError(err).Error("Failed to claim queued notifications")
		return DrainResult{}, fmt.Errorf("failed to claim queued notifications: %w", err)
	}
	if len(items) > 0 {
		j.logger.WithFields(logrus.Fields{"claimed": len(items), "claim_token": token}).Info("Draining retry queue")
	}

	result := DrainResult{}
	for _, q := range items {
		if q.ClaimToken.String == "" {
			q.ClaimToken = sql.NullString{String: token, Valid: true}
		}
		failed, err := j.drainOne(ctx, q, now)
		result.Processed++
		if failed || err != nil {
			result.Failed++
		}
	}

	result.Remaining, err = j.queue.CountPending(ctx)
	if err != nil {
		j.logger.WithError(err).Warn("Failed to count remaining queued notifications")
	}

	j.logger.WithFields(logrus.Fields{
		"processed": result.Processed,
		"failed":    result.Failed,
		"remaining": result.Remaining,
	}).Info("Retry queue drain finished")
	return result, nil
}

// drainOne attempts one row and persists its next state. It reports whether
// the attempt counted as a failure.
func (j *QueueDrainJob) drainOne(ctx context.Context, q *notification.QueuedNotification, now time.Time) (bool, error) {
	logCtx := j.logger.WithFields(logrus.Fields{"queue_id": q.ID, "user_id": q.UserID, "attempts": q.Attempts})

	failed := false
	results, deferredUntil, err := j.dispatcher.Redeliver(ctx, q.Payload(), now)
	switch {
	case err != nil:
		logCtx.WithError(err).Error("Redelivery errored")
		failed = true
		if terr := q.RecordFailure(now, err.Error()); terr != nil {
			return failed, terr
		}
	case notification.AnySent(results):
		if terr := q.MarkDelivered(now); terr != nil {
			return failed, terr
		}
	case !deferredUntil.IsZero():
		logCtx.WithField("until", deferredUntil.Format(time.RFC3339)).Info("Quiet hours still active, queued notification deferred")
		if terr := q.Defer(deferredUntil); terr != nil {
			return failed, terr
		}
	default:
		failed = true
		if terr := q.RecordFailure(now, firstFailure(results)); terr != nil {
			return failed, terr
		}
	}

	if err := j.queue.Save(ctx, q); err != nil {
		if errors.Is(err, idb.ErrQueueClaimLost) {
			logCtx.Warn("Lost claim on queued notification, another run owns it")
			return failed, err
		}
		logCtx.WithError(err).Error("Failed to save queued notification")
		return failed, err
	}

	switch q.State {
	case notification.QueueDelivered:
		logCtx.Info("Queued notification delivered")
	case notification.QueueAbandoned:
		logCtx.Warn("Queued notification abandoned after max attempts")
	case notification.QueueRetrying:
		logCtx.WithField("next_attempt_at", q.NextAttemptAt.Format(time.RFC3339)).Info("Queued notification will be retried")
	}
	return failed, nil
}
