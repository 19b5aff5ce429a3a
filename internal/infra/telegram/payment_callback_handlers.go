package telegram

import (
	"context"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/infra/channels"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterPaymentCallbackHandlers handles the "Mark as paid" button attached to push reminders.
func RegisterPaymentCallbackHandlers(ctx context.Context, b *telebot.Bot, deps BotDeps, baseLogger *logrus.Entry) {
	b.Handle(&channels.MarkPaidButton, func(c telebot.Context) error {
		data := c.Callback().Data
		logCtx := baseLogger.WithFields(logrus.Fields{
			"handler":   "mark_paid_callback",
			"sender_id": c.Sender().ID,
			"data":      data,
		})

		ref, ok := notification.ParseMarkPaidRef(data)
		if !ok {
			c.Bot().OnError(fmt.Errorf("invalid bill reference '%s' in callback", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid bill reference."})
		}

		contact, err := deps.Contacts.GetByTelegramID(ctx, c.Sender().ID)
		if err != nil {
			logCtx.WithError(err).Warn("Callback from unknown user")
			return c.Respond(&telebot.CallbackResponse{Text: "Your account is not linked."})
		}

		reply := markCyclePaid(ctx, deps, contact.UserID, ref, logCtx)
		if err := c.Respond(&telebot.CallbackResponse{Text: "Done"}); err != nil {
			logCtx.WithError(err).Warn("Failed to acknowledge callback")
		}
		return c.Send(reply)
	})
}
