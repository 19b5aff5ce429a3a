package obligation

import (
	"context"
	"time"
)

// Repository defines the operations for persisting obligations and their payments.
type Repository interface {
	Create(ctx context.Context, o *Obligation) error
	GetByID(ctx context.Context, id int64) (*Obligation, error)
	Update(ctx context.Context, o *Obligation) error // all mutable fields, including NextDueDate
	ListActiveByUser(ctx context.Context, userID int64) ([]*Obligation, error)

	// ListEligibleForReminders returns active, reminder-enabled, unpaid obligations.
	ListEligibleForReminders(ctx context.Context) ([]*Obligation, error)

	// MarkReminderSent sets last_reminder_sent_at unless it already falls on or after dayStart.
	// It reports whether the row was updated.
	MarkReminderSent(ctx context.Context, id int64, sentAt, dayStart time.Time) (bool, error)

	// RecordPayment persists the payment fields of o and the history row atomically.
	// It writes nothing and fails when the stored cycle no longer equals prev.
	RecordPayment(ctx context.Context, o *Obligation, prev Cycle, payment *PaymentHistory) error
	ListPayments(ctx context.Context, obligationID int64) ([]*PaymentHistory, error)
}
