package app

import (
	"context"
	"fmt"
	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/timeofday"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrUnknownChannel = fmt.Errorf("unknown notification channel")

// PreferenceService edits per-channel preferences on top of the defaults.
type PreferenceService struct {
	prefs  notification.PreferenceRepository
	logger *logrus.Entry
}

func NewPreferenceService(prefs notification.PreferenceRepository, logger *logrus.Entry) *PreferenceService {
	return &PreferenceService{prefs: prefs, logger: logger.WithField("component", "preference_service")}
}

// Get returns the effective preferences of a user.
func (s *PreferenceService) Get(ctx context.Context, userID int64) (notification.PreferenceSet, error) {
	stored, err := s.prefs.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return notification.ResolvePreferences(userID, stored), nil
}

// SetChannelEnabled turns one delivery channel on or off.
func (s *PreferenceService) SetChannelEnabled(ctx context.Context, userID int64, c notification.Channel, enabled bool) error {
	if c == notification.ChannelAll {
		return ErrUnknownChannel
	}
	set, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	p, ok := set[c]
	if !ok {
		return ErrUnknownChannel
	}
	p.Enabled = enabled
	if err := s.prefs.Upsert(ctx, &p); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "channel": c, "enabled": enabled}).Info("Channel preference updated")
	return nil
}

// SetQuietHours stores an "HH:MM-HH:MM" window on the push preference.
// "off" or an empty value clears it.
func (s *PreferenceService) SetQuietHours(ctx context.Context, userID int64, raw string) error {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "off") {
		raw = ""
	}
	if raw != "" {
		w, err := timeofday.ParseWindow(raw)
		if err != nil {
			return err
		}
		raw = w.String()
	}

	set, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	p := set[notification.ChannelPush]
	p.Settings.QuietHours = raw
	if err := s.prefs.Upsert(ctx, &p); err != nil {
		return fmt.Errorf("failed to save quiet hours: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "quiet_hours": raw}).Info("Quiet hours updated")
	return nil
}
