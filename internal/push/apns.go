package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/djyosi/rubisos/internal/config"
)

// APNSPusher delivers notifications through Apple Push Notification service
// using token-based authentication.
type APNSPusher struct {
	client *apns2.Client
	topic  string
}

// NewAPNSPusher builds an APNs client from config.
func NewAPNSPusher(cfg config.APNSConfig) (*APNSPusher, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNSPusher{client: client, topic: cfg.Topic}, nil
}

// Push sends one notification. Alerts ride a time-sensitive sound so they
// break through silent mode.
func (p *APNSPusher) Push(ctx context.Context, deviceToken string, n Notification) error {
	pl := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("sos_alert.caf").
		Custom("alert_id", n.AlertID).
		Custom("kind", n.Kind)

	res, err := p.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Priority:    apns2.PriorityHigh,
		Payload:     pl,
	})
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %s", res.Reason)
	}
	return nil
}
