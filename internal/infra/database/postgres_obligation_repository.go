// internal/infra/database/postgres_obligation_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"household_reminder_bot/internal/domain/obligation"
	"time"
)

// Custom errors specific to obligation repository
var ErrObligationNotFound = fmt.Errorf("obligation not found")
var ErrObligationChanged = fmt.Errorf("obligation payment state changed concurrently")

const obligationColumns = `id, user_id, name, amount, category, due_day, due_time,
       recurrence_type, recurrence_interval, next_due_date, last_paid_date,
       reminder_days_before, reminder_enabled, last_reminder_sent_at,
       is_paid, paid_amount, is_active, created_at, updated_at`

type PostgresObligationRepository struct {
	db *sql.DB
}

func NewPostgresObligationRepository(db *sql.DB) *PostgresObligationRepository {
	return &PostgresObligationRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (*obligation.Obligation, error) {
	o := &obligation.Obligation{}
	err := row.Scan(
		&o.ID, &o.UserID, &o.Name, &o.Amount, &o.Category, &o.DueDay, &o.DueTime,
		&o.Recurrence.Type, &o.Recurrence.IntervalDays, &o.NextDueDate, &o.LastPaidDate,
		&o.ReminderDaysBefore, &o.ReminderEnabled, &o.LastReminderSentAt,
		&o.IsPaid, &o.PaidAmount, &o.IsActive, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanObligations(rows *sql.Rows) ([]*obligation.Obligation, error) {
	obligations := make([]*obligation.Obligation, 0)
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning obligation row: %w", err)
		}
		obligations = append(obligations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating obligation rows: %w", err)
	}
	return obligations, nil
}

func (r *PostgresObligationRepository) Create(ctx context.Context, o *obligation.Obligation) error {
	query := `INSERT INTO obligations (user_id, name, amount, category, due_day, due_time,
                   recurrence_type, recurrence_interval, next_due_date, last_paid_date,
                   reminder_days_before, reminder_enabled, is_paid, paid_amount, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		o.UserID, o.Name, o.Amount, o.Category, o.DueDay, o.DueTime,
		o.Recurrence.Type, o.Recurrence.IntervalDays, o.NextDueDate, o.LastPaidDate,
		o.ReminderDaysBefore, o.ReminderEnabled, o.IsPaid, o.PaidAmount, o.IsActive,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating obligation: %w", err)
	}
	return nil
}

func (r *PostgresObligationRepository) GetByID(ctx context.Context, id int64) (*obligation.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE id = $1`
	o, err := scanObligation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrObligationNotFound
		}
		return nil, fmt.Errorf("error getting obligation by ID: %w", err)
	}
	return o, nil
}

func (r *PostgresObligationRepository) Update(ctx context.Context, o *obligation.Obligation) error {
	err := updateObligation(ctx, r.db, o)
	if err == sql.ErrNoRows {
		return ErrObligationNotFound
	}
	return err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateObligation(ctx context.Context, q queryRower, o *obligation.Obligation) error {
	query := `UPDATE obligations
               SET name = $1, amount = $2, category = $3, due_day = $4, due_time = $5,
                   recurrence_type = $6, recurrence_interval = $7, next_due_date = $8, last_paid_date = $9,
                   reminder_days_before = $10, reminder_enabled = $11, last_reminder_sent_at = $12,
                   is_paid = $13, paid_amount = $14, is_active = $15, updated_at = NOW()
               WHERE id = $16
               RETURNING updated_at`
	err := q.QueryRowContext(ctx, query,
		o.Name, o.Amount, o.Category, o.DueDay, o.DueTime,
		o.Recurrence.Type, o.Recurrence.IntervalDays, o.NextDueDate, o.LastPaidDate,
		o.ReminderDaysBefore, o.ReminderEnabled, o.LastReminderSentAt,
		o.IsPaid, o.PaidAmount, o.IsActive, o.ID,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("error updating obligation: %w", err)
	}
	return nil
}

func (r *PostgresObligationRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*obligation.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations
               WHERE user_id = $1 AND is_active = TRUE ORDER BY next_due_date, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing obligations by user: %w", err)
	}
	defer rows.Close()
	return scanObligations(rows)
}

func (r *PostgresObligationRepository) ListEligibleForReminders(ctx context.Context) ([]*obligation.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations
               WHERE is_active = TRUE AND reminder_enabled = TRUE AND is_paid = FALSE
               ORDER BY next_due_date, id` // Most urgent first
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing obligations eligible for reminders: %w", err)
	}
	defer rows.Close()
	return scanObligations(rows)
}

func (r *PostgresObligationRepository) MarkReminderSent(ctx context.Context, id int64, sentAt, dayStart time.Time) (bool, error) {
	query := `UPDATE obligations
               SET last_reminder_sent_at = $1, updated_at = NOW()
               WHERE id = $2 AND (last_reminder_sent_at IS NULL OR last_reminder_sent_at < $3)`
	res, err := r.db.ExecContext(ctx, query, sentAt, id, dayStart)
	if err != nil {
		return false, fmt.Errorf("error marking reminder sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresObligationRepository) RecordPayment(ctx context.Context, o *obligation.Obligation, prev obligation.Cycle, payment *obligation.PaymentHistory) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for payment: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	// Only the payment fields are written, and only while the cycle is the one
	// the payment was computed from.
	query := `UPDATE obligations
               SET next_due_date = $1, last_paid_date = $2, paid_amount = $3, is_paid = $4,
                   last_reminder_sent_at = $5, updated_at = NOW()
               WHERE id = $6 AND next_due_date = $7 AND paid_amount IS NOT DISTINCT FROM $8
               RETURNING updated_at`
	err = txn.QueryRowContext(ctx, query,
		o.NextDueDate, o.LastPaidDate, o.PaidAmount, o.IsPaid, o.LastReminderSentAt,
		o.ID, prev.NextDueDate, prev.PaidAmount,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrObligationChanged
		}
		return fmt.Errorf("error updating obligation payment state: %w", err)
	}

	query = `INSERT INTO payment_history (obligation_id, paid_date, amount, note)
               VALUES ($1, $2, $3, $4)
               RETURNING id, created_at`
	err = txn.QueryRowContext(ctx, query, payment.ObligationID, payment.PaidDate, payment.Amount, payment.Note).
		Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating payment history: %w", err)
	}
	return txn.Commit()
}

func (r *PostgresObligationRepository) ListPayments(ctx context.Context, obligationID int64) ([]*obligation.PaymentHistory, error) {
	query := `SELECT id, obligation_id, paid_date, amount, note, created_at
               FROM payment_history WHERE obligation_id = $1 ORDER BY paid_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, obligationID)
	if err != nil {
		return nil, fmt.Errorf("error listing payment history: %w", err)
	}
	defer rows.Close()

	payments := make([]*obligation.PaymentHistory, 0)
	for rows.Next() {
		p := &obligation.PaymentHistory{}
		if err := rows.Scan(&p.ID, &p.ObligationID, &p.PaidDate, &p.Amount, &p.Note, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning payment history row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment history rows: %w", err)
	}
	return payments, nil
}
