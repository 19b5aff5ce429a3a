package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/schedule"
	idb "household_reminder_bot/internal/infra/database"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Custom application-level errors for obligation service
var ErrInvalidObligation = fmt.Errorf("invalid obligation")
var ErrInvalidPaymentAmount = fmt.Errorf("payment amount must be positive")
var ErrObligationInactive = fmt.Errorf("obligation is inactive")
var ErrNotOwner = fmt.Errorf("obligation belongs to another user")
var ErrCycleClosed = fmt.Errorf("payment cycle is already paid")

// maxPaymentAttempts bounds the re-reads after a payment lost a race.
const maxPaymentAttempts = 3

// CreateObligationInput is what a user supplies for a new bill.
type CreateObligationInput struct {
	UserID             int64           `validate:"required,gt=0"`
	Name               string          `validate:"required,max=200"`
	Amount             decimal.Decimal `validate:"-"`
	Category           string          `validate:"max=100"`
	DueDay             int             `validate:"min=1,max=31"`
	DueTime            string          `validate:"omitempty,datetime=15:04"`
	RecurrenceType     string          `validate:"required,oneof=weekly biweekly monthly quarterly yearly custom"`
	IntervalDays       int             `validate:"omitempty,min=1,max=3650"`
	ReminderDaysBefore int             `validate:"oneof=1 3 7"`
	ReminderEnabled    bool
	NextDueDate        *time.Time // optional; computed from DueDay when nil
}

// RecurrenceInput changes the pattern of an existing obligation.
type RecurrenceInput struct {
	RecurrenceType string `validate:"required,oneof=weekly biweekly monthly quarterly yearly custom"`
	IntervalDays   int    `validate:"omitempty,min=1,max=3650"`
	DueDay         int    `validate:"min=1,max=31"`
}

// ScheduleInput adds a custom reminder to an obligation.
type ScheduleInput struct {
	ObligationID int64     `validate:"required,gt=0"`
	Type         string    `validate:"required,oneof=days_before specific_date recurring"`
	DaysBefore   int       `validate:"min=0,max=365"`
	ReminderTime time.Time // specific_date and recurring
	IntervalDays int       `validate:"omitempty,min=1,max=365"`
}

// ObligationService owns every mutation that can move next_due_date.
type ObligationService struct {
	obligations obligation.Repository
	schedules   schedule.Repository
	validate    *validator.Validate
	logger      *logrus.Entry
}

func NewObligationService(or obligation.Repository, sr schedule.Repository, logger *logrus.Entry) *ObligationService {
	return &ObligationService{
		obligations: or,
		schedules:   sr,
		validate:    validator.New(),
		logger:      logger.WithField("component", "obligation_service"),
	}
}

func (s *ObligationService) validateInput(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidObligation, err)
	}
	return nil
}

func recurrenceOf(kind string, intervalDays int) obligation.Recurrence {
	rec := obligation.Recurrence{Type: obligation.RecurrenceType(kind)}
	if intervalDays > 0 {
		rec.IntervalDays = sql.NullInt32{Int32: int32(intervalDays), Valid: true}
	}
	return rec
}

// Create validates and stores a new obligation.
func (s *ObligationService) Create(ctx context.Context, in CreateObligationInput, today time.Time) (*obligation.Obligation, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidObligation)
	}
	dueTime := in.DueTime
	if dueTime == "" {
		dueTime = DefaultDueTime.String()
	}

	o := &obligation.Obligation{
		UserID:             in.UserID,
		Name:               strings.TrimSpace(in.Name),
		Amount:             in.Amount,
		Category:           in.Category,
		DueDay:             in.DueDay,
		DueTime:            dueTime,
		Recurrence:         recurrenceOf(in.RecurrenceType, in.IntervalDays),
		ReminderDaysBefore: in.ReminderDaysBefore,
		ReminderEnabled:    in.ReminderEnabled,
		IsActive:           true,
	}
	if in.NextDueDate != nil {
		o.NextDueDate = obligation.DateOf(*in.NextDueDate)
	} else {
		o.NextDueDate = obligation.FirstDueDate(today, in.DueDay)
	}

	if err := s.obligations.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to create obligation in repository: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"obligation_id": o.ID, "user_id": o.UserID, "next_due_date": o.NextDueDate.Format("2006-01-02")}).
		Info("Obligation created")
	return o, nil
}

// ListForUser returns the user's active obligations, soonest first.
func (s *ObligationService) ListForUser(ctx context.Context, userID int64) ([]*obligation.Obligation, error) {
	return s.obligations.ListActiveByUser(ctx, userID)
}

// getOwned fetches an obligation and checks ownership when userID is non-zero.
func (s *ObligationService) getOwned(ctx context.Context, id, userID int64) (*obligation.Obligation, error) {
	o, err := s.obligations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != 0 && o.UserID != userID {
		return nil, ErrNotOwner
	}
	return o, nil
}

// UpdateRecurrence changes the pattern and recomputes next_due_date from the last payment (or today).
func (s *ObligationService) UpdateRecurrence(ctx context.Context, id, userID int64, in RecurrenceInput, today time.Time) (*obligation.Obligation, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	o, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	o.Recurrence = recurrenceOf(in.RecurrenceType, in.IntervalDays)
	o.DueDay = in.DueDay
	o.NextDueDate = obligation.NextDueDate(o.LastPaidDate, today, o.DueDay, o.Recurrence)
	if err := s.obligations.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to update obligation recurrence: %w", err)
	}
	return o, nil
}

// MarkPaid records a payment. A nil amount pays the remaining balance. Paying
// the balance in full closes the cycle and moves next_due_date forward.
func (s *ObligationService) MarkPaid(ctx context.Context, id, userID int64, amount *decimal.Decimal, paidDate time.Time, note string, now time.Time) (*obligation.Obligation, error) {
	return s.recordPayment(ctx, id, userID, amount, nil, paidDate, note, now)
}

// MarkCyclePaid pays the remaining balance of the cycle due on dueDate. It
// records nothing and returns ErrCycleClosed once that cycle is no longer open.
func (s *ObligationService) MarkCyclePaid(ctx context.Context, id, userID int64, dueDate time.Time, now time.Time) (*obligation.Obligation, error) {
	return s.recordPayment(ctx, id, userID, nil, &dueDate, now, "", now)
}

func (s *ObligationService) recordPayment(ctx context.Context, id, userID int64, amount *decimal.Decimal, cycleDue *time.Time, paidDate time.Time, note string, now time.Time) (*obligation.Obligation, error) {
	for attempt := 1; ; attempt++ {
		o, err := s.getOwned(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		if !o.IsActive {
			return nil, ErrObligationInactive
		}
		if cycleDue != nil && o.NextDueDate.Format(time.DateOnly) != cycleDue.Format(time.DateOnly) {
			return nil, ErrCycleClosed
		}

		prev := o.Cycle()
		payment, fullyPaid, err := applyPayment(o, amount, paidDate, note, now)
		if err != nil {
			return nil, err
		}

		err = s.obligations.RecordPayment(ctx, o, prev, payment)
		if errors.Is(err, idb.ErrObligationChanged) && attempt < maxPaymentAttempts {
			s.logger.WithFields(logrus.Fields{"obligation_id": id, "attempt": attempt}).Debug("Payment raced another update, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to record payment: %w", err)
		}

		s.afterPayment(ctx, o, payment, fullyPaid, now)
		return o, nil
	}
}

// applyPayment updates o in memory for one payment and returns the history row.
func applyPayment(o *obligation.Obligation, amount *decimal.Decimal, paidDate time.Time, note string, now time.Time) (*obligation.PaymentHistory, bool, error) {
	pay := o.RemainingAmount()
	if amount != nil {
		pay = *amount
	}
	if !pay.IsPositive() {
		return nil, false, ErrInvalidPaymentAmount
	}

	paidDate = obligation.DateOf(paidDate)
	payment := &obligation.PaymentHistory{
		ObligationID: o.ID,
		PaidDate:     paidDate,
		Amount:       pay,
	}
	if note != "" {
		payment.Note = sql.NullString{String: note, Valid: true}
	}

	total := pay
	if o.PaidAmount.Valid {
		total = total.Add(o.PaidAmount.Decimal)
	}
	fullyPaid := total.GreaterThanOrEqual(o.Amount)
	if fullyPaid {
		o.LastPaidDate = sql.NullTime{Time: paidDate, Valid: true}
		o.NextDueDate = obligation.NextDueDate(o.LastPaidDate, now, o.DueDay, o.Recurrence)
		o.PaidAmount = decimal.NullDecimal{}
		o.LastReminderSentAt = sql.NullTime{}
		o.IsPaid = false // the next cycle is open
	} else {
		o.PaidAmount = decimal.NullDecimal{Decimal: total, Valid: true}
	}
	return payment, fullyPaid, nil
}

func (s *ObligationService) afterPayment(ctx context.Context, o *obligation.Obligation, payment *obligation.PaymentHistory, fullyPaid bool, now time.Time) {
	logCtx := s.logger.WithFields(logrus.Fields{"obligation_id": o.ID, "user_id": o.UserID, "amount": payment.Amount.StringFixed(2)})
	if !fullyPaid {
		logCtx.WithField("remaining", o.RemainingAmount().StringFixed(2)).Info("Partial payment recorded")
		return
	}
	if n, err := s.schedules.ExpirePendingBefore(ctx, o.ID, now); err != nil {
		logCtx.WithError(err).Warn("Failed to expire stale reminder schedules")
	} else if n > 0 {
		logCtx.WithField("expired", n).Info("Expired stale reminder schedules")
	}
	logCtx.WithField("next_due_date", o.NextDueDate.Format("2006-01-02")).Info("Obligation paid in full")
}

// Deactivate soft-deletes an obligation; history rows keep referencing it.
func (s *ObligationService) Deactivate(ctx context.Context, id, userID int64) error {
	o, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if !o.IsActive {
		return ErrObligationInactive
	}
	o.IsActive = false
	if err := s.obligations.Update(ctx, o); err != nil {
		return fmt.Errorf("failed to deactivate obligation: %w", err)
	}
	return nil
}

// AddSchedule creates a custom reminder. days_before schedules are placed
// relative to the current due date at the obligation's due time.
func (s *ObligationService) AddSchedule(ctx context.Context, in ScheduleInput, loc *time.Location) (*schedule.Schedule, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	o, err := s.obligations.GetByID(ctx, in.ObligationID)
	if err != nil {
		return nil, err
	}

	sch := &schedule.Schedule{
		ObligationID: o.ID,
		Type:         schedule.Type(in.Type),
		State:        schedule.StatePending,
	}
	switch sch.Type {
	case schedule.TypeDaysBefore:
		dueAt := DueClock(o).On(DueDateIn(o, loc))
		sch.ReminderTime = dueAt.AddDate(0, 0, -in.DaysBefore)
		sch.DaysBefore = sql.NullInt32{Int32: int32(in.DaysBefore), Valid: true}
	case schedule.TypeRecurring:
		sch.ReminderTime = in.ReminderTime
		if in.IntervalDays > 0 {
			sch.IntervalDays = sql.NullInt32{Int32: int32(in.IntervalDays), Valid: true}
		}
	default:
		sch.ReminderTime = in.ReminderTime
	}
	if sch.ReminderTime.IsZero() {
		return nil, fmt.Errorf("%w: reminder time is required", ErrInvalidObligation)
	}

	if err := s.schedules.Create(ctx, sch); err != nil {
		return nil, fmt.Errorf("failed to create reminder schedule: %w", err)
	}
	return sch, nil
}
