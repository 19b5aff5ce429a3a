package app

import (
	"encoding/json"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/obligation"
	"time"
)

// ReminderMessage builds the notification for a decision. The wording and
// priority follow how close (or past) the due date is and whether the bill is
// partially paid.
func ReminderMessage(d ReminderDecision) notification.Message {
	o := d.Obligation
	amount := o.Amount.StringFixed(2)
	dueDate := o.NextDueDate.Format("Jan 2")

	var title, body string
	var priority notification.Priority
	switch {
	case d.DaysUntilDue < 0:
		overdue := -d.DaysUntilDue
		title = fmt.Sprintf("Overdue: %s", o.Name)
		body = fmt.Sprintf("%s (%s) was due on %s, %d %s ago. Please pay it as soon as possible.",
			o.Name, o.RemainingAmount().StringFixed(2), dueDate, overdue, plural(overdue, "day", "days"))
		priority = notification.PriorityCritical
	case o.IsPartiallyPaid():
		title = fmt.Sprintf("%s partially paid", o.Name)
		body = fmt.Sprintf("You have paid %s of %s for %s. %s remains, due %s.",
			o.PaidAmount.Decimal.StringFixed(2), amount, o.Name, o.RemainingAmount().StringFixed(2), dueWhen(d.DaysUntilDue))
		priority = notification.PriorityNormal
		if d.DaysUntilDue <= 1 {
			priority = notification.PriorityHigh
		}
	case d.DaysUntilDue == 0:
		title = fmt.Sprintf("%s is due today", o.Name)
		body = fmt.Sprintf("%s of %s is due today.", amount, o.Name)
		priority = notification.PriorityHigh
	case d.DaysUntilDue == 1:
		title = fmt.Sprintf("%s is due tomorrow", o.Name)
		body = fmt.Sprintf("%s of %s is due tomorrow (%s).", amount, o.Name, dueDate)
		priority = notification.PriorityHigh
	default:
		title = fmt.Sprintf("%s is due in %d days", o.Name, d.DaysUntilDue)
		body = fmt.Sprintf("%s of %s is due on %s.", amount, o.Name, dueDate)
		priority = notification.PriorityNormal
	}

	msgType := notification.TypeBillReminder
	data := map[string]any{
		"obligation_id":  o.ID,
		"days_until_due": d.DaysUntilDue,
		"amount":         amount,
	}
	if d.Track == TrackCustom && d.Schedule != nil {
		msgType = notification.TypeCustomReminder
		data["schedule_id"] = d.Schedule.ID
	}
	raw, _ := json.Marshal(data) // plain map, cannot fail

	return notification.Message{
		UserID:   o.UserID,
		Type:     msgType,
		Title:    title,
		Body:     body,
		Data:     raw,
		Priority: priority,
		Action:   notification.MarkPaidAction(o.ID, o.NextDueDate),
	}
}

func dueWhen(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// obligationLabel is used in log fields.
func obligationLabel(o *obligation.Obligation) string {
	return fmt.Sprintf("#%d %s", o.ID, o.Name)
}

// BillLine is the one-line summary of an obligation shown in bot listings.
func BillLine(o *obligation.Obligation, today time.Time) string {
	days := obligation.DaysBetween(today, o.NextDueDate)
	var when string
	if days < 0 {
		when = fmt.Sprintf("overdue by %d %s", -days, plural(-days, "day", "days"))
	} else {
		when = "due " + dueWhen(days)
	}
	line := fmt.Sprintf("%s: %s, %s (%s)", obligationLabel(o), o.RemainingAmount().StringFixed(2), when, o.NextDueDate.Format("2006-01-02"))
	if o.IsPartiallyPaid() {
		line += fmt.Sprintf(", %s of %s paid", o.PaidAmount.Decimal.StringFixed(2), o.Amount.StringFixed(2))
	}
	return line
}
