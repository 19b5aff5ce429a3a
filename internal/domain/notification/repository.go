package notification

import (
	"context"
	"time"
)

// PreferenceRepository stores per-channel preferences.
type PreferenceRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]*Preference, error)
	Upsert(ctx context.Context, p *Preference) error
}

// DeliveryLogRepository is the append-only delivery audit.
type DeliveryLogRepository interface {
	Append(ctx context.Context, entry *DeliveryLog) error
	// CountSince counts non-skipped rows of the user created at or after since.
	// An empty channel counts across all channels.
	CountSince(ctx context.Context, userID int64, channel Channel, since time.Time) (int, error)
}

// QueueRepository stores deferred deliveries.
type QueueRepository interface {
	Enqueue(ctx context.Context, q *QueuedNotification) error
	// ClaimDue atomically claims up to limit eligible rows for leaseUntil under token,
	// ordered by (priority, next_attempt_at). Rows claimed by another run are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*QueuedNotification, error)
	// Save writes state, attempts, next_attempt_at, completed_at and error_message
	// and releases the claim. It fails when the row is no longer claimed by q.ClaimToken.
	Save(ctx context.Context, q *QueuedNotification) error
	CountPending(ctx context.Context) (int, error)
}

// InAppRepository stores notifications shown inside the application.
type InAppRepository interface {
	CreateInApp(ctx context.Context, msg Message) (int64, error)
}

// PushSubscriptionRepository maps users to push targets (Telegram chats).
type PushSubscriptionRepository interface {
	ListPushChats(ctx context.Context, userID int64) ([]int64, error)
	AddPushChat(ctx context.Context, userID, chatID int64) error
}
