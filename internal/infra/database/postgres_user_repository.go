package database

import (
	"context"
	"database/sql"
	"fmt"

	"household_reminder_bot/internal/domain/user"
)

var ErrUserNotFound = fmt.Errorf("user contact not found")

// PostgresUserRepository reads the contact rows maintained by the accounts service.
type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetContact(ctx context.Context, userID int64) (*user.Contact, error) {
	c := &user.Contact{}
	err := r.db.QueryRowContext(ctx, `SELECT user_id, email, telegram_id FROM user_contacts WHERE user_id = $1`, userID).
		Scan(&c.UserID, &c.Email, &c.TelegramID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user contact: %w", err)
	}
	return c, nil
}

func (r *PostgresUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*user.Contact, error) {
	c := &user.Contact{}
	err := r.db.QueryRowContext(ctx, `SELECT user_id, email, telegram_id FROM user_contacts WHERE telegram_id = $1`, telegramID).
		Scan(&c.UserID, &c.Email, &c.TelegramID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user contact by Telegram ID: %w", err)
	}
	return c, nil
}
