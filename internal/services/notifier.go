package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/push"
)

var errUnreachable = errors.New("recipient has no connection and no push token")

// DeliveryResult is the outcome of one asynchronous notification send.
type DeliveryResult struct {
	AlertID string
	UserID  string
	Event   string
	Method  models.NotificationMethod
	Err     error
}

// Notifier fans events out to recipients. Every recipient's online state is
// re-checked at send time: live connections get a WebSocket event, everyone
// else is handed to the deferred push collaborator with an equivalent
// payload carrying the same alert ID. Sends are asynchronous and
// fire-and-forget; outcomes flow through a result channel that the notifier
// drains for logging and counting, and a failed send never affects the state
// transition that triggered it.
type Notifier struct {
	registry  *PresenceRegistry
	pusher    push.Pusher
	results   chan DeliveryResult
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewNotifier creates a notifier and starts its result drain.
func NewNotifier(registry *PresenceRegistry, pusher push.Pusher) *Notifier {
	n := &Notifier{
		registry: registry,
		pusher:   pusher,
		results:  make(chan DeliveryResult, 256),
	}
	go n.drain()
	return n
}

func (n *Notifier) drain() {
	for res := range n.results {
		if res.Err != nil {
			n.failed.Add(1)
			log.Warn().
				Err(res.Err).
				Str("alert_id", res.AlertID).
				Str("user_id", res.UserID).
				Str("event", res.Event).
				Str("method", string(res.Method)).
				Msg("notification delivery failed")
			continue
		}
		n.delivered.Add(1)
		log.Debug().
			Str("alert_id", res.AlertID).
			Str("user_id", res.UserID).
			Str("event", res.Event).
			Str("method", string(res.Method)).
			Msg("notification delivered")
	}
}

// Delivered returns the count of successful sends.
func (n *Notifier) Delivered() int64 { return n.delivered.Load() }

// Failed returns the count of failed sends.
func (n *Notifier) Failed() int64 { return n.failed.Load() }

// deliver routes one notification to a user, deciding live vs deferred from
// their presence right now. Returns the method chosen; the I/O itself runs
// on its own goroutine.
func (n *Notifier) deliver(alertID, userID string, event Event, note push.Notification) models.NotificationMethod {
	user, ok := n.registry.Get(userID)
	if ok && user.Online {
		go func() {
			var err error
			if !n.registry.Send(userID, event) {
				err = fmt.Errorf("live connection to %s lost before send", userID)
			}
			n.results <- DeliveryResult{AlertID: alertID, UserID: userID, Event: event.Type, Method: models.MethodLive, Err: err}
		}()
		return models.MethodLive
	}

	pushToken := user.PushToken
	go func() {
		var err error
		if pushToken == "" {
			err = errUnreachable
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err = n.pusher.Push(ctx, pushToken, note)
		}
		n.results <- DeliveryResult{AlertID: alertID, UserID: userID, Event: event.Type, Method: models.MethodDeferred, Err: err}
	}()
	return models.MethodDeferred
}

// BroadcastIncoming notifies every matched candidate of a new alert, with
// distance and ETA computed per recipient, and returns the recipient rows to
// freeze on the alert.
func (n *Notifier) BroadcastIncoming(alert *models.Alert, candidates []Candidate) []models.Recipient {
	recipients := make([]models.Recipient, 0, len(candidates))
	for _, c := range candidates {
		eta := geo.Estimate(c.DistanceKm, geo.ModeDriving)
		event := Event{
			Type: "incoming-alert",
			Data: IncomingAlertPayload{
				AlertID:     alert.ID,
				SenderName:  alert.SenderName,
				SenderPhone: alert.SenderPhone,
				Location:    alert.Location,
				DistanceKm:  c.DistanceKm,
				ETA:         eta,
				Type:        alert.Type,
				Priority:    alert.Priority,
				Description: alert.Description,
				Timestamp:   alert.CreatedAt,
			},
		}
		note := push.Notification{
			Title:   "SOS alert",
			Body:    fmt.Sprintf("%s needs help! %s, %.1f km away", alert.SenderName, alert.Type, c.DistanceKm),
			AlertID: alert.ID,
			Kind:    "incoming_alert",
		}
		method := n.deliver(alert.ID, c.User.ID, event, note)
		recipients = append(recipients, models.Recipient{
			UserID:     c.User.ID,
			Method:     method,
			NotifiedAt: time.Now(),
		})
	}
	return recipients
}

// NotifySenderHelpComing tells the sender a responder committed.
func (n *Notifier) NotifySenderHelpComing(alert *models.Alert, responder models.Responder, eta geo.ETA) {
	event := Event{
		Type: "help-coming",
		Data: HelpComingPayload{
			AlertID:       alert.ID,
			ResponderName: responder.Name,
			ETA:           eta,
			DistanceKm:    responder.DistanceKm,
		},
	}
	note := push.Notification{
		Title:   "Help is coming!",
		Body:    fmt.Sprintf("%s is on the way (ETA: %s)", responder.Name, eta.Label),
		AlertID: alert.ID,
		Kind:    "responder_update",
	}
	n.deliver(alert.ID, alert.SenderID, event, note)
}

// NotifySenderArrived tells the sender a responder has arrived.
func (n *Notifier) NotifySenderArrived(alert *models.Alert, responder models.Responder) {
	event := Event{
		Type: "responder-arrived",
		Data: ResponderArrivedPayload{AlertID: alert.ID, ResponderName: responder.Name},
	}
	note := push.Notification{
		Title:   "Help arrived!",
		Body:    fmt.Sprintf("%s has arrived", responder.Name),
		AlertID: alert.ID,
		Kind:    "responder_arrived",
	}
	n.deliver(alert.ID, alert.SenderID, event, note)
}

// NotifyRespondersCancelled tells every responder the alert was cancelled.
func (n *Notifier) NotifyRespondersCancelled(alert *models.Alert) {
	n.notifyResponders(alert, "alert-cancelled", push.Notification{
		Title:   "Alert cancelled",
		Body:    "The emergency has been cancelled",
		AlertID: alert.ID,
		Kind:    "alert_cancelled",
	})
}

// NotifyRespondersResolved tells every responder the alert was resolved.
func (n *Notifier) NotifyRespondersResolved(alert *models.Alert) {
	n.notifyResponders(alert, "alert-resolved", push.Notification{
		Title:   "Alert resolved",
		Body:    "The emergency has been resolved",
		AlertID: alert.ID,
		Kind:    "alert_resolved",
	})
}

func (n *Notifier) notifyResponders(alert *models.Alert, eventType string, note push.Notification) {
	event := Event{Type: eventType, Data: AlertClosedPayload{AlertID: alert.ID}}
	for _, r := range alert.Responders {
		n.deliver(alert.ID, r.UserID, event, note)
	}
}
