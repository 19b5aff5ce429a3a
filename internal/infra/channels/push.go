package channels

import (
	"context"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	domainTelegram "household_reminder_bot/internal/domain/telegram"
	"strconv"
	"strings"

	"gopkg.in/telebot.v3"
)

// PushSender delivers push notifications as Telegram messages to every chat
// the user subscribed from.
type PushSender struct {
	client domainTelegram.Client
	subs   notification.PushSubscriptionRepository
}

func NewPushSender(client domainTelegram.Client, subs notification.PushSubscriptionRepository) *PushSender {
	return &PushSender{client: client, subs: subs}
}

func (s *PushSender) Channel() notification.Channel { return notification.ChannelPush }

func (s *PushSender) Send(ctx context.Context, msg notification.Message) (string, error) {
	chats, err := s.subs.ListPushChats(ctx, msg.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	if len(chats) == 0 {
		return "", notification.ErrNoRecipient
	}

	text := fmt.Sprintf("%s\n\n%s", msg.Title, msg.Body)
	options := &telebot.SendOptions{ParseMode: telebot.ModeDefault}
	options.ReplyMarkup = actionMarkup(msg.Action)

	// One delivered chat is enough; report the first failure only when all fail.
	// The external id is the first delivered "chat:message" pair, so it stays
	// short however many chats the user subscribed from.
	var externalID string
	var firstErr error
	for _, chatID := range chats {
		messageID, err := s.client.SendMessage(chatID, text, options)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("telegram send to chat %d: %w", chatID, err)
			}
			continue
		}
		if externalID == "" {
			externalID = strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
		}
	}
	if externalID == "" {
		return "", firstErr
	}
	return externalID, nil
}

// MarkPaidButton is the callback button attached to reminders; the bot
// registers its handler under the same unique name.
var MarkPaidButton = telebot.Btn{Unique: "paid", Text: "Mark as paid"}

func actionMarkup(action string) *telebot.ReplyMarkup {
	replyMarkup := &telebot.ReplyMarkup{}
	switch {
	case strings.HasPrefix(action, "http://") || strings.HasPrefix(action, "https://"):
		replyMarkup.Inline(replyMarkup.Row(replyMarkup.URL("Open", action)))
	default:
		ref, ok := notification.ParseMarkPaidAction(action)
		if !ok {
			return nil
		}
		replyMarkup.Inline(replyMarkup.Row(replyMarkup.Data(MarkPaidButton.Text, MarkPaidButton.Unique, ref.String())))
	}
	return replyMarkup
}
