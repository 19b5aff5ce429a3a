package obligation

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// RecurrenceType is how often a bill comes due.
type RecurrenceType string

const (
	RecurrenceWeekly    RecurrenceType = "weekly"
	RecurrenceBiweekly  RecurrenceType = "biweekly"
	RecurrenceMonthly   RecurrenceType = "monthly"
	RecurrenceQuarterly RecurrenceType = "quarterly"
	RecurrenceYearly    RecurrenceType = "yearly"
	RecurrenceCustom    RecurrenceType = "custom"
)

// Recurrence describes the pattern. IntervalDays is only read for custom.
type Recurrence struct {
	Type         RecurrenceType
	IntervalDays sql.NullInt32
}

// Obligation is a recurring bill tracked for reminders.
// Corresponds to the 'obligations' table.
type Obligation struct {
	ID       int64
	UserID   int64
	Name     string
	Amount   decimal.Decimal
	Category string
	DueDay   int    // 1..31
	DueTime  string // "HH:MM"

	Recurrence   Recurrence
	NextDueDate  time.Time // date only
	LastPaidDate sql.NullTime

	ReminderDaysBefore int // 1, 3 or 7
	ReminderEnabled    bool
	LastReminderSentAt sql.NullTime

	IsPaid     bool
	PaidAmount decimal.NullDecimal

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPartiallyPaid reports whether some, but not all, of the current cycle is paid.
func (o *Obligation) IsPartiallyPaid() bool {
	if o.IsPaid || !o.PaidAmount.Valid {
		return false
	}
	return o.PaidAmount.Decimal.IsPositive() && o.PaidAmount.Decimal.LessThan(o.Amount)
}

// RemainingAmount is what is still owed for the current cycle.
func (o *Obligation) RemainingAmount() decimal.Decimal {
	if !o.PaidAmount.Valid {
		return o.Amount
	}
	rest := o.Amount.Sub(o.PaidAmount.Decimal)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Cycle is the payment state of the open cycle. A payment is recorded against
// the Cycle it was computed from.
type Cycle struct {
	NextDueDate time.Time
	PaidAmount  decimal.NullDecimal
}

func (o *Obligation) Cycle() Cycle {
	return Cycle{NextDueDate: o.NextDueDate, PaidAmount: o.PaidAmount}
}

// PaymentHistory is an immutable record of one payment against an obligation.
// Corresponds to the 'payment_history' table.
type PaymentHistory struct {
	ID           int64
	ObligationID int64
	PaidDate     time.Time
	Amount       decimal.Decimal
	Note         sql.NullString
	CreatedAt    time.Time
}
