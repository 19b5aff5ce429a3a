package channels

import (
	"context"
	"household_reminder_bot/internal/domain/notification"
	"strconv"
)

// InAppSender stores the notification for the application's notification center.
type InAppSender struct {
	repo notification.InAppRepository
}

func NewInAppSender(repo notification.InAppRepository) *InAppSender {
	return &InAppSender{repo: repo}
}

func (s *InAppSender) Channel() notification.Channel { return notification.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, msg notification.Message) (string, error) {
	id, err := s.repo.CreateInApp(ctx, msg)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}
