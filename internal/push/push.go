// Package push is the deferred-notification collaborator: delivery to
// recipients without a live connection.
package push

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notification is the provider-independent payload handed to a Pusher.
type Notification struct {
	Title   string
	Body    string
	AlertID string
	Kind    string
}

// Pusher delivers one notification to a device token. Implementations may
// block on network I/O; callers must not hold entity locks across Push.
type Pusher interface {
	Push(ctx context.Context, deviceToken string, n Notification) error
}

// NopPusher logs and drops every notification. Used when no push provider is
// configured.
type NopPusher struct{}

// Push logs the dropped notification.
func (NopPusher) Push(_ context.Context, deviceToken string, n Notification) error {
	log.Debug().
		Str("device_token", deviceToken).
		Str("alert_id", n.AlertID).
		Str("kind", n.Kind).
		Msg("push provider not configured, dropping notification")
	return nil
}
