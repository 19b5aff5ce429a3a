package user

import (
	"context"
	"database/sql"
)

// Contact is the delivery information of a user owned by the accounts service.
// Corresponds to the 'user_contacts' table.
type Contact struct {
	UserID     int64
	Email      sql.NullString
	TelegramID sql.NullInt64
}

// Repository reads user contacts.
type Repository interface {
	GetContact(ctx context.Context, userID int64) (*Contact, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*Contact, error)
}
