package telegram

import (
	"context"
	"errors"
	"fmt"
	"household_reminder_bot/internal/app"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/user"
	idb "household_reminder_bot/internal/infra/database" // For ErrUserNotFound
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// BillService is the part of the obligation service the bot drives.
type BillService interface {
	ListForUser(ctx context.Context, userID int64) ([]*obligation.Obligation, error)
	MarkPaid(ctx context.Context, id, userID int64, amount *decimal.Decimal, paidDate time.Time, note string, now time.Time) (*obligation.Obligation, error)
	MarkCyclePaid(ctx context.Context, id, userID int64, dueDate time.Time, now time.Time) (*obligation.Obligation, error)
}

// PreferenceEditor is the part of the preference service the bot drives.
type PreferenceEditor interface {
	Get(ctx context.Context, userID int64) (notification.PreferenceSet, error)
	SetChannelEnabled(ctx context.Context, userID int64, c notification.Channel, enabled bool) error
	SetQuietHours(ctx context.Context, userID int64, raw string) error
}

// BotDeps bundles what the command handlers need.
type BotDeps struct {
	Contacts      user.Repository
	Subscriptions notification.PushSubscriptionRepository
	Bills         BillService
	Preferences   PreferenceEditor
	Location      *time.Location
}

const helpText = "Available commands:\n\n" +
	"/bills - list your active bills\n" +
	"/paid <id> [amount] - record a payment; without an amount the remaining balance is paid\n" +
	"/quiet <HH:MM-HH:MM|off> - set or clear quiet hours\n" +
	"/channels - show delivery channels\n" +
	"/channels <push|email|in_app> <on|off> - switch a channel\n" +
	"/help - show this message"

func RegisterBotCommands(ctx context.Context, b *telebot.Bot, deps BotDeps, baseLogger *logrus.Entry) {
	cmdLogger := baseLogger.WithField("handler_group", "commands")

	// resolve maps the Telegram sender to a household user, replying when unknown.
	resolve := func(c telebot.Context, logCtx *logrus.Entry) (*user.Contact, bool, error) {
		contact, err := deps.Contacts.GetByTelegramID(ctx, c.Sender().ID)
		if err == nil {
			return contact, true, nil
		}
		if errors.Is(err, idb.ErrUserNotFound) {
			logCtx.Info("User is unknown")
			return nil, false, c.Send("Your Telegram account is not linked to a household account yet. Link it in the app settings and send /start again.")
		}
		logCtx.WithError(err).Error("Error resolving Telegram user")
		return nil, false, c.Send("Something went wrong while checking your account. Please try again later.")
	}

	b.Handle("/start", func(c telebot.Context) error {
		logCtx := cmdLogger.WithFields(logrus.Fields{"command": "/start", "sender_id": c.Sender().ID})
		logCtx.Info("Processing /start command")

		contact, ok, err := resolve(c, logCtx)
		if !ok {
			return err
		}
		if err := deps.Subscriptions.AddPushChat(ctx, contact.UserID, c.Chat().ID); err != nil {
			logCtx.WithError(err).Error("Failed to subscribe chat for push reminders")
			return c.Send("Could not enable reminders in this chat. Please try again later.")
		}
		logCtx.WithField("user_id", contact.UserID).Info("Chat subscribed for push reminders")
		return c.Send(fmt.Sprintf("Hi %s! Bill reminders will arrive in this chat. Use /help for the list of commands.", c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		cmdLogger.WithFields(logrus.Fields{"command": "/help", "sender_id": c.Sender().ID}).Info("Processing /help command")
		return c.Send(helpText)
	})

	b.Handle("/bills", func(c telebot.Context) error {
		logCtx := cmdLogger.WithFields(logrus.Fields{"command": "/bills", "sender_id": c.Sender().ID})
		contact, ok, err := resolve(c, logCtx)
		if !ok {
			return err
		}
		bills, err := deps.Bills.ListForUser(ctx, contact.UserID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to list bills")
			return c.Send("Could not load your bills. Please try again later.")
		}
		return c.Send(formatBills(bills, time.Now().In(deps.Location)))
	})

	b.Handle("/paid", func(c telebot.Context) error {
		logCtx := cmdLogger.WithFields(logrus.Fields{"command": "/paid", "sender_id": c.Sender().ID})
		id, amount, err := parsePaidArgs(c.Args())
		if err != nil {
			logCtx.WithError(err).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /paid <id> [amount]")
		}
		contact, ok, err := resolve(c, logCtx)
		if !ok {
			return err
		}
		return c.Send(markPaid(ctx, deps, contact.UserID, id, amount, logCtx))
	})

	b.Handle("/quiet", func(c telebot.Context) error {
		logCtx := cmdLogger.WithFields(logrus.Fields{"command": "/quiet", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /quiet 22:00-07:00 or /quiet off")
		}
		contact, ok, err := resolve(c, logCtx)
		if !ok {
			return err
		}
		if err := deps.Preferences.SetQuietHours(ctx, contact.UserID, args[0]); err != nil {
			logCtx.WithError(err).Warn("Failed to set quiet hours")
			return c.Send(fmt.Sprintf("Could not set quiet hours: %v", err))
		}
		if strings.EqualFold(args[0], "off") {
			return c.Send("Quiet hours cleared.")
		}
		return c.Send(fmt.Sprintf("Quiet hours set to %s. Only urgent reminders will reach you then.", args[0]))
	})

	b.Handle("/channels", func(c telebot.Context) error {
		logCtx := cmdLogger.WithFields(logrus.Fields{"command": "/channels", "sender_id": c.Sender().ID})
		contact, ok, err := resolve(c, logCtx)
		if !ok {
			return err
		}
		args := c.Args()
		if len(args) == 0 {
			set, err := deps.Preferences.Get(ctx, contact.UserID)
			if err != nil {
				logCtx.WithError(err).Error("Failed to load preferences")
				return c.Send("Could not load your preferences. Please try again later.")
			}
			return c.Send(formatChannels(set))
		}
		ch, enabled, err := parseChannelArgs(args)
		if err != nil {
			return c.Send("Invalid format. Use: /channels <push|email|in_app> <on|off>")
		}
		if err := deps.Preferences.SetChannelEnabled(ctx, contact.UserID, ch, enabled); err != nil {
			logCtx.WithError(err).Error("Failed to update channel preference")
			return c.Send("Could not update the channel. Please try again later.")
		}
		return c.Send(fmt.Sprintf("%s notifications are now %s.", ch, onOff(enabled)))
	})
}

// markPaid runs a payment and returns the reply for the user.
func markPaid(ctx context.Context, deps BotDeps, userID, id int64, amount *decimal.Decimal, logCtx *logrus.Entry) string {
	now := time.Now().In(deps.Location)
	logCtx = logCtx.WithFields(logrus.Fields{"user_id": userID, "obligation_id": id})

	o, err := deps.Bills.MarkPaid(ctx, id, userID, amount, now, "", now)
	return paymentReply(o, err, id, logCtx)
}

// markCyclePaid settles the cycle a reminder button was issued for.
func markCyclePaid(ctx context.Context, deps BotDeps, userID int64, ref notification.MarkPaidRef, logCtx *logrus.Entry) string {
	now := time.Now().In(deps.Location)
	logCtx = logCtx.WithFields(logrus.Fields{"user_id": userID, "obligation_id": ref.ObligationID, "due_date": ref.DueDate.Format(time.DateOnly)})

	o, err := deps.Bills.MarkCyclePaid(ctx, ref.ObligationID, userID, ref.DueDate, now)
	return paymentReply(o, err, ref.ObligationID, logCtx)
}

func paymentReply(o *obligation.Obligation, err error, id int64, logCtx *logrus.Entry) string {
	if err != nil {
		switch {
		case errors.Is(err, idb.ErrObligationNotFound), errors.Is(err, app.ErrNotOwner):
			logCtx.WithError(err).Warn("Bill not found for user")
			return fmt.Sprintf("Bill #%d not found.", id)
		case errors.Is(err, app.ErrObligationInactive):
			return fmt.Sprintf("Bill #%d is no longer active.", id)
		case errors.Is(err, app.ErrInvalidPaymentAmount):
			return "The payment amount must be positive."
		case errors.Is(err, app.ErrCycleClosed):
			logCtx.Info("Reminder for an already paid cycle")
			return fmt.Sprintf("Bill #%d was already paid for that due date.", id)
		default:
			logCtx.WithError(err).Error("Failed to record payment")
			return "Could not record the payment. Please try again later."
		}
	}
	if o.IsPartiallyPaid() {
		return fmt.Sprintf("Payment recorded. %s remains on %s.", o.RemainingAmount().StringFixed(2), o.Name)
	}
	return fmt.Sprintf("%s is paid. Next due date: %s.", o.Name, o.NextDueDate.Format("2006-01-02"))
}

func parsePaidArgs(args []string) (int64, *decimal.Decimal, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, nil, fmt.Errorf("expected 1 or 2 arguments, got %d", len(args))
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid bill id %q", args[0])
	}
	if len(args) == 1 {
		return id, nil, nil
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(args[1], ",", "."))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid amount %q: %w", args[1], err)
	}
	return id, &amount, nil
}

func parseChannelArgs(args []string) (notification.Channel, bool, error) {
	if len(args) != 2 {
		return "", false, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	ch, err := notification.ParseChannel(strings.ToLower(args[0]))
	if err != nil || ch == notification.ChannelAll {
		return "", false, fmt.Errorf("unknown channel %q", args[0])
	}
	switch strings.ToLower(args[1]) {
	case "on":
		return ch, true, nil
	case "off":
		return ch, false, nil
	}
	return "", false, fmt.Errorf("expected on or off, got %q", args[1])
}

func formatBills(bills []*obligation.Obligation, today time.Time) string {
	if len(bills) == 0 {
		return "You have no active bills."
	}
	var sb strings.Builder
	sb.WriteString("Your bills:\n")
	for _, o := range bills {
		sb.WriteString("\n")
		sb.WriteString(app.BillLine(o, today))
	}
	return sb.String()
}

func formatChannels(set notification.PreferenceSet) string {
	var sb strings.Builder
	sb.WriteString("Delivery channels:\n")
	for _, ch := range notification.Channels {
		fmt.Fprintf(&sb, "\n%s: %s", ch, onOff(set.Enabled(ch)))
	}
	if q := set.QuietHours(); q != "" {
		fmt.Fprintf(&sb, "\n\nQuiet hours: %s", q)
	}
	return sb.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
