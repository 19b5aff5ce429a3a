package notification

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// QueueState of a deferred delivery: queued -> retrying -> delivered | abandoned.
type QueueState string

const (
	QueueQueued    QueueState = "queued"
	QueueRetrying  QueueState = "retrying"
	QueueDelivered QueueState = "delivered"
	QueueAbandoned QueueState = "abandoned"
)

const (
	DefaultMaxAttempts = 3
	BackoffUnit        = 15 * time.Minute
	MaxAttemptsReached = "max attempts reached"
)

var ErrQueueTerminal = errors.New("queued notification is already terminal")

// Backoff is the wait after the given number of failed attempts.
func Backoff(attempts int) time.Duration {
	return BackoffUnit * time.Duration(attempts*attempts)
}

// QueuedNotification is a delivery deferred for later.
// Corresponds to the 'notification_queue' table.
type QueuedNotification struct {
	ID            int64
	UserID        int64
	Type          Type
	Title         string
	Message       string
	Data          json.RawMessage
	Priority      Priority
	Action        sql.NullString
	State         QueueState
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	CompletedAt   sql.NullTime
	ErrorMessage  sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// ClaimToken is set while a drain run owns the row.
	ClaimToken sql.NullString
}

// NewQueued builds a queue row for msg that becomes eligible at notBefore.
func NewQueued(msg Message, notBefore time.Time, maxAttempts int) *QueuedNotification {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	q := &QueuedNotification{
		UserID:        msg.UserID,
		Type:          msg.Type,
		Title:         msg.Title,
		Message:       msg.Body,
		Data:          msg.Data,
		Priority:      msg.Priority.Normalize(),
		State:         QueueQueued,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: notBefore,
	}
	if msg.Action != "" {
		q.Action = sql.NullString{String: msg.Action, Valid: true}
	}
	return q
}

// Payload rebuilds the message to dispatch.
func (q *QueuedNotification) Payload() Message {
	return Message{
		UserID:   q.UserID,
		Type:     q.Type,
		Title:    q.Title,
		Body:     q.Message,
		Data:     q.Data,
		Priority: q.Priority,
		Action:   q.Action.String,
	}
}

func (q *QueuedNotification) IsTerminal() bool {
	return q.State == QueueDelivered || q.State == QueueAbandoned
}

// MarkDelivered completes the row successfully.
func (q *QueuedNotification) MarkDelivered(now time.Time) error {
	if q.IsTerminal() {
		return ErrQueueTerminal
	}
	q.State = QueueDelivered
	q.CompletedAt = sql.NullTime{Time: now, Valid: true}
	q.ErrorMessage = sql.NullString{}
	return nil
}

// RecordFailure counts a failed attempt and schedules the next one with
// quadratic backoff, or abandons the row once MaxAttempts is reached.
func (q *QueuedNotification) RecordFailure(now time.Time, reason string) error {
	if q.IsTerminal() {
		return ErrQueueTerminal
	}
	q.Attempts++
	q.NextAttemptAt = now.Add(Backoff(q.Attempts))
	if q.Attempts >= q.MaxAttempts {
		q.State = QueueAbandoned
		q.CompletedAt = sql.NullTime{Time: now, Valid: true}
		q.ErrorMessage = sql.NullString{String: MaxAttemptsReached, Valid: true}
		return nil
	}
	q.State = QueueRetrying
	if reason != "" {
		q.ErrorMessage = sql.NullString{String: reason, Valid: true}
	}
	return nil
}

// Defer pushes the next attempt out without consuming an attempt.
func (q *QueuedNotification) Defer(until time.Time) error {
	if q.IsTerminal() {
		return ErrQueueTerminal
	}
	q.NextAttemptAt = until
	return nil
}
