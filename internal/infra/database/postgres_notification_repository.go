// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"sort"
	"time"

	"github.com/lib/pq" // For pq.Array
)

var ErrQueueClaimLost = fmt.Errorf("queued notification is no longer claimed by this run")

// countedStatuses are the delivery log statuses that occupy rate-limit windows.
var countedStatuses = []string{
	string(notification.DeliveryPending),
	string(notification.DeliverySent),
	string(notification.DeliveryDelivered),
	string(notification.DeliveryFailed),
	string(notification.DeliveryClicked),
}

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// nullableJSON passes JSON as text; lib/pq would otherwise encode []byte as bytea.
func nullableJSON(data json.RawMessage) sql.NullString {
	if len(data) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

// --- Preference Methods ---

func (r *PostgresNotificationRepository) ListByUser(ctx context.Context, userID int64) ([]*notification.Preference, error) {
	query := `SELECT id, user_id, channel, enabled, settings, created_at, updated_at
               FROM notification_preferences WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying notification preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]*notification.Preference, 0)
	for rows.Next() {
		p := &notification.Preference{}
		var settings []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.Channel, &p.Enabled, &settings, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification preference row: %w", err)
		}
		if len(settings) > 0 {
			// A malformed settings blob behaves like an empty one.
			_ = json.Unmarshal(settings, &p.Settings)
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification preference rows: %w", err)
	}
	return prefs, nil
}

func (r *PostgresNotificationRepository) Upsert(ctx context.Context, p *notification.Preference) error {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("error encoding preference settings: %w", err)
	}
	query := `INSERT INTO notification_preferences (user_id, channel, enabled, settings)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT ON CONSTRAINT notification_preferences_user_channel
               DO UPDATE SET enabled = EXCLUDED.enabled, settings = EXCLUDED.settings, updated_at = NOW()
               RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, p.UserID, p.Channel, p.Enabled, string(settings)).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting notification preference: %w", err)
	}
	return nil
}

// --- Delivery Log Methods ---

func (r *PostgresNotificationRepository) Append(ctx context.Context, entry *notification.DeliveryLog) error {
	query := `INSERT INTO notification_delivery_log (user_id, channel, type, title, body, status, external_id, error_message, created_at, sent_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               RETURNING id`
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	err := r.db.QueryRowContext(ctx, query,
		entry.UserID, entry.Channel, entry.Type, entry.Title, entry.Body, entry.Status,
		entry.ExternalID, entry.ErrorMessage, entry.CreatedAt, entry.SentAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("error appending delivery log: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) CountSince(ctx context.Context, userID int64, channel notification.Channel, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM notification_delivery_log
               WHERE user_id = $1 AND created_at >= $2 AND status = ANY($3::varchar[])`
	args := []any{userID, since, pq.Array(countedStatuses)}
	if channel != "" {
		query += ` AND channel = $4`
		args = append(args, channel)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting delivery log: %w", err)
	}
	return count, nil
}

// --- Queue Methods ---

const queueColumns = `id, user_id, type, title, message, data, priority, action, state,
       attempts, max_attempts, next_attempt_at, completed_at, error_message, claim_token,
       created_at, updated_at`

func scanQueued(rows *sql.Rows) ([]*notification.QueuedNotification, error) {
	items := make([]*notification.QueuedNotification, 0)
	for rows.Next() {
		q := &notification.QueuedNotification{}
		var data []byte
		if err := rows.Scan(
			&q.ID, &q.UserID, &q.Type, &q.Title, &q.Message, &data, &q.Priority, &q.Action, &q.State,
			&q.Attempts, &q.MaxAttempts, &q.NextAttemptAt, &q.CompletedAt, &q.ErrorMessage, &q.ClaimToken,
			&q.CreatedAt, &q.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning queued notification row: %w", err)
		}
		if len(data) > 0 {
			q.Data = json.RawMessage(data)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queued notification rows: %w", err)
	}
	return items, nil
}

func (r *PostgresNotificationRepository) Enqueue(ctx context.Context, q *notification.QueuedNotification) error {
	query := `INSERT INTO notification_queue (user_id, type, title, message, data, priority, action, state,
                   attempts, max_attempts, next_attempt_at, completed_at, error_message)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		q.UserID, q.Type, q.Title, q.Message, nullableJSON(q.Data), q.Priority, q.Action, q.State,
		q.Attempts, q.MaxAttempts, q.NextAttemptAt, q.CompletedAt, q.ErrorMessage,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error enqueuing notification: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*notification.QueuedNotification, error) {
	// SKIP LOCKED plus the lease columns keep overlapping drain runs off each other's rows.
	query := `UPDATE notification_queue
               SET claim_token = $1, claimed_until = $2, updated_at = NOW()
               WHERE id IN (
                   SELECT id FROM notification_queue
                   WHERE completed_at IS NULL
                     AND next_attempt_at <= $3
                     AND attempts < max_attempts
                     AND (claimed_until IS NULL OR claimed_until < $3)
                   ORDER BY priority, next_attempt_at
                   LIMIT $4
                   FOR UPDATE SKIP LOCKED)
               RETURNING ` + queueColumns
	rows, err := r.db.QueryContext(ctx, query, token, leaseUntil, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error claiming queued notifications: %w", err)
	}
	defer rows.Close()

	items, err := scanQueued(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
	})
	return items, nil
}

func (r *PostgresNotificationRepository) Save(ctx context.Context, q *notification.QueuedNotification) error {
	query := `UPDATE notification_queue
               SET state = $1, attempts = $2, next_attempt_at = $3, completed_at = $4, error_message = $5,
                   claim_token = NULL, claimed_until = NULL, updated_at = NOW()
               WHERE id = $6 AND claim_token = $7
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		q.State, q.Attempts, q.NextAttemptAt, q.CompletedAt, q.ErrorMessage, q.ID, q.ClaimToken,
	).Scan(&q.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrQueueClaimLost
		}
		return fmt.Errorf("error saving queued notification: %w", err)
	}
	q.ClaimToken = sql.NullString{}
	return nil
}

func (r *PostgresNotificationRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_queue WHERE completed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting pending queued notifications: %w", err)
	}
	return count, nil
}

// --- In-App and Push Subscription Methods ---

func (r *PostgresNotificationRepository) CreateInApp(ctx context.Context, msg notification.Message) (int64, error) {
	query := `INSERT INTO in_app_notifications (user_id, type, title, message, data, priority, action)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               RETURNING id`
	action := sql.NullString{String: msg.Action, Valid: msg.Action != ""}
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		msg.UserID, msg.Type, msg.Title, msg.Body, nullableJSON(msg.Data), msg.Priority, action,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("error creating in-app notification: %w", err)
	}
	return id, nil
}

func (r *PostgresNotificationRepository) ListPushChats(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chat_id FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing push subscriptions: %w", err)
	}
	defer rows.Close()

	chats := make([]int64, 0)
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("error scanning push subscription row: %w", err)
		}
		chats = append(chats, chatID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating push subscription rows: %w", err)
	}
	return chats, nil
}

func (r *PostgresNotificationRepository) AddPushChat(ctx context.Context, userID, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO push_subscriptions (user_id, chat_id) VALUES ($1, $2)
                                      ON CONFLICT (user_id, chat_id) DO NOTHING`, userID, chatID)
	if err != nil {
		return fmt.Errorf("error adding push subscription: %w", err)
	}
	return nil
}
