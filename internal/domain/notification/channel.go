package notification

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Channel is a delivery channel. The set is closed.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"

	// ChannelAll tags delivery log rows that concern every channel at once,
	// such as a global rate-limit skip.
	ChannelAll Channel = "all"
)

// Channels lists the deliverable channels in dispatch order.
var Channels = []Channel{ChannelPush, ChannelEmail, ChannelInApp}

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelPush, ChannelEmail, ChannelInApp:
		return c, nil
	}
	return "", errors.New("unknown channel: " + s)
}

// Priority orders notifications: 1 critical, 2 high, 3 normal, 4 low.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// BypassesQuietHours reports whether the notification is delivered in-app during quiet hours.
func (p Priority) BypassesQuietHours() bool { return p <= PriorityHigh }

// Normalize clamps p into 1..4.
func (p Priority) Normalize() Priority {
	return max(PriorityCritical, min(p, PriorityLow))
}

// Type identifies what the notification is about.
type Type string

const (
	TypeBillReminder   Type = "bill_reminder"
	TypeCustomReminder Type = "custom_reminder"
	TypeBudgetAlert    Type = "budget_alert"
)

// Message is everything a channel needs to render a notification.
type Message struct {
	UserID   int64
	Type     Type
	Title    string
	Body     string
	Data     json.RawMessage
	Priority Priority
	Action   string // optional deep link or MarkPaidAction
}

const markPaidPrefix = "paid:"

// MarkPaidRef names one payment cycle of an obligation: the cycle due on DueDate.
type MarkPaidRef struct {
	ObligationID int64
	DueDate      time.Time
}

// String is the compact "<id>:<YYYY-MM-DD>" form carried in button data.
func (r MarkPaidRef) String() string {
	return strconv.FormatInt(r.ObligationID, 10) + ":" + r.DueDate.Format(time.DateOnly)
}

// ParseMarkPaidRef parses the String form.
func ParseMarkPaidRef(s string) (MarkPaidRef, bool) {
	rawID, rawDate, ok := strings.Cut(s, ":")
	if !ok {
		return MarkPaidRef{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return MarkPaidRef{}, false
	}
	due, err := time.Parse(time.DateOnly, rawDate)
	if err != nil {
		return MarkPaidRef{}, false
	}
	return MarkPaidRef{ObligationID: id, DueDate: due}, true
}

// MarkPaidAction is the action of a reminder that settles the cycle due on dueDate in one tap.
func MarkPaidAction(obligationID int64, dueDate time.Time) string {
	return markPaidPrefix + MarkPaidRef{ObligationID: obligationID, DueDate: dueDate}.String()
}

// ParseMarkPaidAction returns the cycle a MarkPaidAction refers to.
func ParseMarkPaidAction(action string) (MarkPaidRef, bool) {
	raw, ok := strings.CutPrefix(action, markPaidPrefix)
	if !ok {
		return MarkPaidRef{}, false
	}
	return ParseMarkPaidRef(raw)
}

// Outcome of one channel (or of the whole dispatch when it never reached a channel).
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeQueued  Outcome = "queued"
)

// Skip and failure reasons.
const (
	ReasonRateLimit        = "rate_limit"
	ReasonChannelRateLimit = "channel_rate_limit"
	ReasonNoRecipient      = "no_recipient"
	ReasonQuietHours       = "quiet_hours"
	ReasonUnavailable      = "channel_unavailable"
)

// ChannelResult reports what happened on one channel.
type ChannelResult struct {
	Channel    Channel
	Outcome    Outcome
	Reason     string
	ExternalID string
	Err        error
}

// AnySent reports whether at least one channel delivered.
func AnySent(results []ChannelResult) bool {
	for _, r := range results {
		if r.Outcome == OutcomeSent {
			return true
		}
	}
	return false
}

// AnyFailed reports whether at least one channel failed transiently.
func AnyFailed(results []ChannelResult) bool {
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}
