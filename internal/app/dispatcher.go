// internal/app/dispatcher.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/timeofday"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Locker serializes work per key. Implemented by internal/infra/lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// DispatcherConfig holds the rate limits and queue settings of the dispatcher.
type DispatcherConfig struct {
	GlobalLimit  int           // sends per user per window, all channels
	ChannelLimit int           // sends per user per window, one channel
	Window       time.Duration // trailing rate-limit window
	MaxAttempts  int           // for rows the dispatcher enqueues
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		GlobalLimit:  10,
		ChannelLimit: 3,
		Window:       time.Hour,
		MaxAttempts:  notification.DefaultMaxAttempts,
	}
}

// ReasonRetryQueued marks the synthetic result added when a failed dispatch was enqueued.
const ReasonRetryQueued = "retry_queued"

// Dispatcher fans a notification out over the user's enabled channels.
type Dispatcher struct {
	prefs   notification.PreferenceRepository
	logs    notification.DeliveryLogRepository
	queue   notification.QueueRepository
	locker  Locker
	senders map[notification.Channel]notification.Sender
	cfg     DispatcherConfig
	logger  *logrus.Entry
}

func NewDispatcher(
	prefs notification.PreferenceRepository,
	logs notification.DeliveryLogRepository,
	queue notification.QueueRepository,
	locker Locker,
	cfg DispatcherConfig,
	logger *logrus.Entry,
	senders ...notification.Sender,
) *Dispatcher {
	bySender := make(map[notification.Channel]notification.Sender, len(senders))
	for _, s := range senders {
		bySender[s.Channel()] = s
	}
	return &Dispatcher{
		prefs:   prefs,
		logs:    logs,
		queue:   queue,
		locker:  locker,
		senders: bySender,
		cfg:     cfg,
		logger:  logger.WithField("component", "dispatcher"),
	}
}

// deliveryReport is the outcome of one pass through the dispatch pipeline.
type deliveryReport struct {
	results []notification.ChannelResult
	// deferredUntil is set when quiet hours held back a non-critical message.
	deferredUntil time.Time
}

// Send runs the dispatch pipeline once. A non-critical message arriving in quiet
// hours is enqueued for now and reported as a single queued result.
func (d *Dispatcher) Send(ctx context.Context, msg notification.Message, now time.Time) ([]notification.ChannelResult, error) {
	report, err := d.deliver(ctx, msg, now)
	if err != nil {
		return nil, err
	}
	if !report.deferredUntil.IsZero() {
		q := notification.NewQueued(msg, now, d.cfg.MaxAttempts)
		if err := d.queue.Enqueue(ctx, q); err != nil {
			return nil, fmt.Errorf("failed to enqueue quiet-hours notification: %w", err)
		}
		d.logger.WithFields(logrus.Fields{"user_id": msg.UserID, "queue_id": q.ID}).Info("Quiet hours active, notification queued")
	}
	return report.results, nil
}

// Dispatch is Send plus retry: when no channel delivered and at least one failed
// transiently, the message is enqueued with one attempt already counted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg notification.Message, now time.Time) ([]notification.ChannelResult, error) {
	results, err := d.Send(ctx, msg, now)
	if err != nil {
		return nil, err
	}
	if notification.AnySent(results) || !notification.AnyFailed(results) {
		return results, nil
	}

	q := notification.NewQueued(msg, now, d.cfg.MaxAttempts)
	if err := q.RecordFailure(now, firstFailure(results)); err != nil {
		return results, err
	}
	if err := d.queue.Enqueue(ctx, q); err != nil {
		return results, fmt.Errorf("failed to enqueue notification for retry: %w", err)
	}
	d.logger.WithFields(logrus.Fields{"user_id": msg.UserID, "queue_id": q.ID, "next_attempt_at": q.NextAttemptAt}).
		Warn("All channels failed, notification queued for retry")
	return append(results, notification.ChannelResult{
		Channel: notification.ChannelAll,
		Outcome: notification.OutcomeQueued,
		Reason:  ReasonRetryQueued,
	}), nil
}

// Redeliver runs the pipeline for a queued message. It never enqueues; when quiet
// hours still hold the message back it returns the instant they end.
func (d *Dispatcher) Redeliver(ctx context.Context, msg notification.Message, now time.Time) ([]notification.ChannelResult, time.Time, error) {
	report, err := d.deliver(ctx, msg, now)
	if err != nil {
		return nil, time.Time{}, err
	}
	return report.results, report.deferredUntil, nil
}

func (d *Dispatcher) deliver(ctx context.Context, msg notification.Message, now time.Time) (deliveryReport, error) {
	msg.Priority = msg.Priority.Normalize()
	logCtx := d.logger.WithFields(logrus.Fields{"user_id": msg.UserID, "type": msg.Type, "priority": msg.Priority})

	// 1. Preferences, defaults for channels without a row.
	stored, err := d.prefs.ListByUser(ctx, msg.UserID)
	if err != nil {
		return deliveryReport{}, fmt.Errorf("failed to load notification preferences: %w", err)
	}
	prefs := notification.ResolvePreferences(msg.UserID, stored)

	// Counting and sending for one user happen under the user's lock.
	unlock, err := d.locker.Lock(ctx, "user:"+strconv.FormatInt(msg.UserID, 10))
	if err != nil {
		return deliveryReport{}, fmt.Errorf("failed to lock user %d: %w", msg.UserID, err)
	}
	defer unlock()

	since := now.Add(-d.cfg.Window)

	// 2. Global rate limit.
	total, err := d.logs.CountSince(ctx, msg.UserID, "", since)
	if err != nil {
		return deliveryReport{}, fmt.Errorf("failed to count recent deliveries: %w", err)
	}
	if total >= d.cfg.GlobalLimit {
		logCtx.WithField("sent_in_window", total).Warn("Global rate limit reached, notification skipped")
		d.appendLog(ctx, msg, notification.ChannelAll, notification.DeliverySkipped, "", notification.ReasonRateLimit, now)
		return deliveryReport{results: []notification.ChannelResult{{
			Channel: notification.ChannelAll,
			Outcome: notification.OutcomeSkipped,
			Reason:  notification.ReasonRateLimit,
		}}}, nil
	}

	// 3. Quiet hours.
	channels := make([]notification.Channel, 0, len(notification.Channels))
	for _, c := range notification.Channels {
		if prefs.Enabled(c) {
			channels = append(channels, c)
		}
	}
	if window, quiet := quietWindow(prefs.QuietHours(), logCtx); quiet && window.Contains(now) {
		if !msg.Priority.BypassesQuietHours() {
			return deliveryReport{
				results: []notification.ChannelResult{{
					Channel: notification.ChannelAll,
					Outcome: notification.OutcomeQueued,
					Reason:  notification.ReasonQuietHours,
				}},
				deferredUntil: window.EndAfter(now),
			}, nil
		}
		// In-app is never silenced.
		channels = []notification.Channel{notification.ChannelInApp}
	}

	// 4-5. Per-channel limit, then the sender.
	results := make([]notification.ChannelResult, 0, len(channels))
	for _, c := range channels {
		results = append(results, d.sendOnChannel(ctx, msg, c, since, now, logCtx.WithField("channel", c)))
	}
	return deliveryReport{results: results}, nil
}

func (d *Dispatcher) sendOnChannel(ctx context.Context, msg notification.Message, c notification.Channel, since, now time.Time, logCtx *logrus.Entry) notification.ChannelResult {
	count, err := d.logs.CountSince(ctx, msg.UserID, c, since)
	if err != nil {
		logCtx.WithError(err).Error("Failed to count channel deliveries")
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeFailed, Err: err}
	}
	if count >= d.cfg.ChannelLimit {
		logCtx.WithField("sent_in_window", count).Info("Channel rate limit reached, channel skipped")
		d.appendLog(ctx, msg, c, notification.DeliverySkipped, "", notification.ReasonChannelRateLimit, now)
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeSkipped, Reason: notification.ReasonChannelRateLimit}
	}

	sender, ok := d.senders[c]
	if !ok {
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeSkipped, Reason: notification.ReasonUnavailable}
	}

	externalID, err := sender.Send(ctx, msg)
	switch {
	case err == nil:
		d.appendLog(ctx, msg, c, notification.DeliverySent, externalID, "", now)
		logCtx.WithField("external_id", externalID).Info("Notification sent")
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeSent, ExternalID: externalID}
	case errors.Is(err, notification.ErrNoRecipient):
		d.appendLog(ctx, msg, c, notification.DeliverySkipped, "", notification.ReasonNoRecipient, now)
		logCtx.Debug("No recipient for channel, skipped")
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeSkipped, Reason: notification.ReasonNoRecipient}
	case errors.Is(err, notification.ErrChannelUnavailable):
		d.appendLog(ctx, msg, c, notification.DeliverySkipped, "", notification.ReasonUnavailable, now)
		logCtx.Debug("Channel not configured, skipped")
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeSkipped, Reason: notification.ReasonUnavailable}
	default:
		d.appendLog(ctx, msg, c, notification.DeliveryFailed, "", err.Error(), now)
		logCtx.WithError(err).Warn("Channel send failed")
		return notification.ChannelResult{Channel: c, Outcome: notification.OutcomeFailed, Err: err}
	}
}

// appendLog writes the audit row. A failed write is logged and never fails the send.
func (d *Dispatcher) appendLog(ctx context.Context, msg notification.Message, c notification.Channel, status notification.DeliveryStatus, externalID, detail string, now time.Time) {
	entry := &notification.DeliveryLog{
		UserID:    msg.UserID,
		Channel:   c,
		Type:      msg.Type,
		Title:     msg.Title,
		Body:      msg.Body,
		Status:    status,
		CreatedAt: now,
	}
	if externalID != "" {
		entry.ExternalID = sql.NullString{String: externalID, Valid: true}
	}
	if detail != "" {
		entry.ErrorMessage = sql.NullString{String: detail, Valid: true}
	}
	if status == notification.DeliverySent {
		entry.SentAt = sql.NullTime{Time: now, Valid: true}
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{"user_id": msg.UserID, "channel": c}).Error("Failed to append delivery log")
	}
}

// quietWindow parses the quiet-hours setting. A malformed value means no quiet hours.
func quietWindow(raw string, logCtx *logrus.Entry) (timeofday.Window, bool) {
	if raw == "" {
		return timeofday.Window{}, false
	}
	window, err := timeofday.ParseWindow(raw)
	if err != nil {
		logCtx.WithError(err).WithField("quiet_hours", raw).Warn("Ignoring malformed quiet hours")
		return timeofday.Window{}, false
	}
	return window, true
}

func firstFailure(results []notification.ChannelResult) string {
	for _, r := range results {
		if r.Outcome == notification.OutcomeFailed && r.Err != nil {
			return fmt.Sprintf("%s: %v", r.Channel, r.Err)
		}
	}
	for _, r := range results {
		if r.Outcome == notification.OutcomeSkipped {
			return fmt.Sprintf("%s skipped: %s", r.Channel, r.Reason)
		}
	}
	return "no channel enabled"
}
