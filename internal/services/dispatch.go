package services

import (
	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/models"
)

// Dispatcher is the single entry point for every inbound client event. It
// sequences the presence registry, the matcher, the alert lifecycle and the
// notifier, and hands the acting client's outcome back to the connection
// layer. Cross-entity operations read user state before taking alert locks,
// so the two lock domains never interleave in the other order.
type Dispatcher struct {
	registry *PresenceRegistry
	matcher  *Matcher
	alerts   *AlertManager
	notifier *Notifier
}

// NewDispatcher wires the facade.
func NewDispatcher(registry *PresenceRegistry, matcher *Matcher, alerts *AlertManager, notifier *Notifier) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		matcher:  matcher,
		alerts:   alerts,
		notifier: notifier,
	}
}

// Register attaches a live connection to the identity and reports how many
// helpers are nearby. The profile must already exist.
func (d *Dispatcher) Register(userID string, conn ClientConn, loc *models.Location, pushToken string) (RegisteredPayload, error) {
	if loc != nil && !geo.ValidCoordinates(loc.Lat, loc.Lng) {
		return RegisteredPayload{}, ErrInvalidCoordinates
	}
	if err := d.registry.Connect(userID, conn, loc); err != nil {
		return RegisteredPayload{}, err
	}
	if pushToken != "" {
		if err := d.registry.SetPushToken(userID, pushToken); err != nil {
			return RegisteredPayload{}, err
		}
	}

	user, _ := d.registry.Get(userID)
	nearby := 0
	if user.Location != nil {
		nearby = d.matcher.CountNearbyHelpers(*user.Location, user.AlertRadiusKm, userID)
	}
	return RegisteredPayload{Success: true, UserID: userID, NearbyCount: nearby}, nil
}

// UpdateLocation stores a fresh GPS fix for the identity.
func (d *Dispatcher) UpdateLocation(userID string, loc models.Location) error {
	if !geo.ValidCoordinates(loc.Lat, loc.Lng) {
		return ErrInvalidCoordinates
	}
	return d.registry.UpdateLocation(userID, loc)
}

// SendSOS creates an alert, matches recipients, freezes the roster and fans
// the incoming-alert notification out.
func (d *Dispatcher) SendSOS(userID string, alertType models.AlertType, loc models.Location, description string) (AlertSentPayload, error) {
	sender, ok := d.registry.Get(userID)
	if !ok || !sender.Online {
		return AlertSentPayload{}, ErrSenderNotRegistered
	}
	if !geo.ValidCoordinates(loc.Lat, loc.Lng) {
		return AlertSentPayload{}, ErrInvalidCoordinates
	}
	if !alertType.Valid() {
		alertType = models.AlertOther
	}

	alert := d.alerts.Create(sender, alertType, loc, description)

	candidates := d.matcher.FindNearby(loc, sender.AlertRadiusKm, MatchOptions{
		ExcludeID:   sender.ID,
		RequireType: alertType,
	})
	recipients := d.notifier.BroadcastIncoming(alert, candidates)
	if err := d.alerts.RecordRecipients(alert.ID, recipients); err != nil {
		log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to record recipients")
	}
	d.registry.IncrementAlertsSent(userID)

	log.Info().
		Str("alert_id", alert.ID).
		Str("sender_id", userID).
		Int("helpers_notified", len(recipients)).
		Msg("sos dispatched")

	return AlertSentPayload{AlertID: alert.ID, HelpersNotified: len(recipients)}, nil
}

// Respond admits the user as a responder and returns their navigation data.
// The sender is told help is coming.
func (d *Dispatcher) Respond(userID, alertID string) (NavigationPayload, error) {
	user, ok := d.registry.Get(userID)
	if !ok {
		return NavigationPayload{}, ErrUnknownUser
	}
	alert, err := d.alerts.Get(alertID)
	if err != nil {
		return NavigationPayload{}, err
	}

	distance := 0.0
	if user.Location != nil {
		distance = geo.DistanceKm(user.Location.Lat, user.Location.Lng, alert.Location.Lat, alert.Location.Lng)
	}
	eta := geo.Estimate(distance, geo.ModeDriving)

	responder, err := d.alerts.AddResponder(alertID, user, distance, eta.Minutes)
	if err != nil {
		return NavigationPayload{}, err
	}
	d.registry.IncrementAlertsResponded(userID)
	d.notifier.NotifySenderHelpComing(alert, responder, eta)

	return NavigationPayload{
		AlertID:     alertID,
		Destination: alert.Location,
		ETA:         eta,
		DistanceKm:  distance,
		MapURLs:     geo.Navigation(alert.Location.Lat, alert.Location.Lng),
	}, nil
}

// MarkArrived stamps the responder's arrival and tells the sender.
func (d *Dispatcher) MarkArrived(userID, alertID string) error {
	alert, responder, err := d.alerts.MarkArrived(alertID, userID)
	if err != nil {
		return err
	}
	d.notifier.NotifySenderArrived(alert, responder)
	return nil
}

// Cancel cancels the alert (sender only) and tells every responder.
func (d *Dispatcher) Cancel(userID, alertID string) error {
	alert, err := d.alerts.Cancel(alertID, userID)
	if err != nil {
		return err
	}
	d.notifier.NotifyRespondersCancelled(alert)
	return nil
}

// Resolve resolves the alert (sender or responder) and tells every
// responder.
func (d *Dispatcher) Resolve(userID, alertID, notes string) error {
	alert, err := d.alerts.Resolve(alertID, userID, notes)
	if err != nil {
		return err
	}
	d.notifier.NotifyRespondersResolved(alert)
	return nil
}

// Disconnect marks the identity offline. Idempotent.
func (d *Dispatcher) Disconnect(userID string) {
	d.registry.Disconnect(userID)
}

// Stats is the health/stats projection.
type Stats struct {
	OnlineUsers  int   `json:"online_users"`
	ActiveAlerts int   `json:"active_alerts"`
	Delivered    int64 `json:"notifications_delivered"`
	Failed       int64 `json:"notifications_failed"`
}

// Stats summarizes engine state.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		OnlineUsers:  d.registry.OnlineCount(),
		ActiveAlerts: d.alerts.ActiveCount(),
		Delivered:    d.notifier.Delivered(),
		Failed:       d.notifier.Failed(),
	}
}
