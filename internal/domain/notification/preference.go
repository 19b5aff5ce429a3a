package notification

import "time"

// Settings is the free-form settings object of a channel preference.
type Settings struct {
	QuietHours string `json:"quiet_hours,omitempty"` // "HH:MM-HH:MM"
}

// Preference is a user's configuration for one channel, unique per (user, channel).
// Corresponds to the 'notification_preferences' table.
type Preference struct {
	ID        int64
	UserID    int64
	Channel   Channel
	Enabled   bool
	Settings  Settings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultEnabled is used for channels the user never configured.
var DefaultEnabled = map[Channel]bool{
	ChannelPush:  true,
	ChannelEmail: false,
	ChannelInApp: true,
}

// PreferenceSet is the effective per-channel configuration of one user.
type PreferenceSet map[Channel]Preference

// ResolvePreferences overlays stored rows on top of the defaults.
func ResolvePreferences(userID int64, stored []*Preference) PreferenceSet {
	set := make(PreferenceSet, len(Channels))
	for _, c := range Channels {
		set[c] = Preference{UserID: userID, Channel: c, Enabled: DefaultEnabled[c]}
	}
	for _, p := range stored {
		if p == nil {
			continue
		}
		if _, ok := set[p.Channel]; ok {
			set[p.Channel] = *p
		}
	}
	return set
}

func (s PreferenceSet) Enabled(c Channel) bool { return s[c].Enabled }

// QuietHours is the raw quiet-hours setting, read from the push channel.
func (s PreferenceSet) QuietHours() string { return s[ChannelPush].Settings.QuietHours }
