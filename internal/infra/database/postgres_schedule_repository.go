// internal/infra/database/postgres_schedule_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"household_reminder_bot/internal/domain/schedule"
	"time"
)

var ErrScheduleAlreadySent = fmt.Errorf("reminder schedule is no longer pending")

const scheduleColumns = `id, obligation_id, reminder_type, days_before, reminder_time,
       state, sent_at, interval_days, previous_id, created_at`

type PostgresScheduleRepository struct {
	db *sql.DB
}

func NewPostgresScheduleRepository(db *sql.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

func scanSchedules(rows *sql.Rows) ([]*schedule.Schedule, error) {
	schedules := make([]*schedule.Schedule, 0)
	for rows.Next() {
		s := &schedule.Schedule{}
		if err := rows.Scan(
			&s.ID, &s.ObligationID, &s.Type, &s.DaysBefore, &s.ReminderTime,
			&s.State, &s.SentAt, &s.IntervalDays, &s.PreviousID, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning reminder schedule row: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder schedule rows: %w", err)
	}
	return schedules, nil
}

func insertSchedule(ctx context.Context, q queryRower, s *schedule.Schedule) error {
	query := `INSERT INTO reminder_schedules (obligation_id, reminder_type, days_before, reminder_time, state, interval_days, previous_id)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               RETURNING id, created_at`
	if s.State == "" {
		s.State = schedule.StatePending
	}
	err := q.QueryRowContext(ctx, query,
		s.ObligationID, s.Type, s.DaysBefore, s.ReminderTime, s.State, s.IntervalDays, s.PreviousID,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating reminder schedule: %w", err)
	}
	return nil
}

func (r *PostgresScheduleRepository) Create(ctx context.Context, s *schedule.Schedule) error {
	return insertSchedule(ctx, r.db, s)
}

func (r *PostgresScheduleRepository) ListByObligation(ctx context.Context, obligationID int64) ([]*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM reminder_schedules
               WHERE obligation_id = $1 ORDER BY reminder_time, id`
	rows, err := r.db.QueryContext(ctx, query, obligationID)
	if err != nil {
		return nil, fmt.Errorf("error listing reminder schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *PostgresScheduleRepository) ListDue(ctx context.Context, obligationID int64, now time.Time) ([]*schedule.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM reminder_schedules
               WHERE obligation_id = $1 AND state = $2 AND reminder_time <= $3
               ORDER BY reminder_time, id`
	rows, err := r.db.QueryContext(ctx, query, obligationID, schedule.StatePending, now)
	if err != nil {
		return nil, fmt.Errorf("error listing due reminder schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *PostgresScheduleRepository) MarkSentAndChain(ctx context.Context, s *schedule.Schedule, sentAt time.Time, successor *schedule.Schedule) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schedule chain: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	// Conditional update: only the run that flips the row from pending may chain it.
	res, err := txn.ExecContext(ctx, `UPDATE reminder_schedules SET state = $1, sent_at = $2
                                       WHERE id = $3 AND state = $4`,
		schedule.StateSent, sentAt, s.ID, schedule.StatePending)
	if err != nil {
		return fmt.Errorf("error marking reminder schedule sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrScheduleAlreadySent
	}

	if successor != nil {
		if err := insertSchedule(ctx, txn, successor); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit schedule chain: %w", err)
	}
	s.State = schedule.StateSent
	s.SentAt = sql.NullTime{Time: sentAt, Valid: true}
	return nil
}

func (r *PostgresScheduleRepository) ExpirePendingBefore(ctx context.Context, obligationID int64, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE reminder_schedules SET state = $1
                                        WHERE obligation_id = $2 AND state = $3 AND reminder_time < $4
                                          AND reminder_type <> $5`,
		schedule.StateExpired, obligationID, schedule.StatePending, t, schedule.TypeRecurring)
	if err != nil {
		return 0, fmt.Errorf("error expiring reminder schedules: %w", err)
	}
	return res.RowsAffected()
}
