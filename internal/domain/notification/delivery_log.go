package notification

import (
	"database/sql"
	"time"
)

// DeliveryStatus of one dispatch attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryClicked   DeliveryStatus = "clicked"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DeliveryLog is an append-only audit row for one attempt (or skip).
// Rows with status skipped are excluded from rate-limit windows.
// Corresponds to the 'notification_delivery_log' table.
type DeliveryLog struct {
	ID           int64
	UserID       int64
	Channel      Channel
	Type         Type
	Title        string
	Body         string
	Status       DeliveryStatus
	ExternalID   sql.NullString
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	SentAt       sql.NullTime
}
