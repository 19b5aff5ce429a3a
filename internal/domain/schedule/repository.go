package schedule

import (
	"context"
	"time"
)

// Repository defines operations for custom reminder schedules.
type Repository interface {
	Create(ctx context.Context, s *Schedule) error
	ListByObligation(ctx context.Context, obligationID int64) ([]*Schedule, error)
	// ListDue returns pending schedules of the obligation with reminder_time <= now.
	ListDue(ctx context.Context, obligationID int64, now time.Time) ([]*Schedule, error)

	// MarkSentAndChain marks s sent and, when successor is non-nil, inserts it,
	// as one unit. It fails without inserting anything if s was no longer pending.
	MarkSentAndChain(ctx context.Context, s *Schedule, sentAt time.Time, successor *Schedule) error

	// ExpirePendingBefore expires pending schedules of the obligation due before t
	// that end with the payment cycle. Recurring chains are left pending.
	ExpirePendingBefore(ctx context.Context, obligationID int64, t time.Time) (int64, error)
}
