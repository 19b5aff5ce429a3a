package notification

import (
	"context"
	"errors"
)

// ErrNoRecipient means the user has no subscription or address for the channel.
var ErrNoRecipient = errors.New("no recipient for channel")

// ErrChannelUnavailable means the channel is not configured in this deployment.
var ErrChannelUnavailable = errors.New("channel not configured")

// Sender delivers a message over one channel and returns the provider's id.
// Any error other than ErrNoRecipient or ErrChannelUnavailable is transient.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, msg Message) (externalID string, err error)
}
