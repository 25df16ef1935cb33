package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/repository"
)

// AlertManager owns every alert entity and its state machine. Mutations on a
// single alert are serialized by a per-alert lock, so transitions on one
// alert are totally ordered; alerts never block each other. All returned
// alerts are deep copies.
type AlertManager struct {
	ttl   time.Duration
	store repository.AlertStore

	mu     sync.RWMutex
	alerts map[string]*alertEntry
}

type alertEntry struct {
	mu    sync.Mutex
	alert models.Alert
}

// NewAlertManager creates an empty manager. ttl is the active lifetime of a
// new alert.
func NewAlertManager(ttl time.Duration, store repository.AlertStore) *AlertManager {
	return &AlertManager{
		ttl:    ttl,
		store:  store,
		alerts: make(map[string]*alertEntry),
	}
}

func (m *AlertManager) entry(id string) (*alertEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.alerts[id]
	return e, ok
}

// Create constructs a new active alert for the sender. It performs no
// matching; the dispatch facade matches recipients and records them with
// RecordRecipients.
func (m *AlertManager) Create(sender models.User, alertType models.AlertType, loc models.Location, description string) *models.Alert {
	now := time.Now()
	loc.Timestamp = now
	alert := models.Alert{
		ID:          uuid.New().String(),
		Type:        alertType,
		Priority:    alertType.Priority(),
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		SenderPhone: sender.Phone,
		Location:    loc,
		Description: description,
		Status:      models.StatusActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}

	m.mu.Lock()
	m.alerts[alert.ID] = &alertEntry{alert: alert}
	m.mu.Unlock()

	log.Info().
		Str("alert_id", alert.ID).
		Str("alert_type", string(alertType)).
		Str("sender_id", sender.ID).
		Msg("alert created")

	out := alert.Clone()
	m.persist(out)
	return out
}

// RecordRecipients freezes the recipient roster on the alert. Recipients are
// recorded exactly once, at creation time; an alert does not re-broadcast to
// users who come online later.
func (m *AlertManager) RecordRecipients(alertID string, recipients []models.Recipient) error {
	e, ok := m.entry(alertID)
	if !ok {
		return ErrAlertNotFound
	}

	e.mu.Lock()
	if e.alert.Status != models.StatusActive {
		e.mu.Unlock()
		return ErrAlertNotActive
	}
	if e.alert.Recipients != nil {
		e.mu.Unlock()
		return errors.New("recipients already recorded")
	}
	if recipients == nil {
		recipients = []models.Recipient{}
	}
	e.alert.Recipients = recipients
	out := e.alert.Clone()
	e.mu.Unlock()

	m.persist(out)
	return nil
}

// AddResponder admits a user to the alert's responder roster. A user may
// respond to an alert exactly once; a second attempt surfaces
// ErrAlreadyResponded with the first entry left untouched.
func (m *AlertManager) AddResponder(alertID string, user models.User, distanceKm float64, etaMinutes int) (models.Responder, error) {
	e, ok := m.entry(alertID)
	if !ok {
		return models.Responder{}, ErrAlertNotFound
	}

	e.mu.Lock()
	if e.alert.Status != models.StatusActive {
		e.mu.Unlock()
		return models.Responder{}, ErrAlertNotActive
	}
	if e.alert.FindResponder(user.ID) != nil {
		e.mu.Unlock()
		return models.Responder{}, ErrAlreadyResponded
	}
	responder := models.Responder{
		UserID:      user.ID,
		Name:        user.Name,
		Phone:       user.Phone,
		DistanceKm:  distanceKm,
		ETAMinutes:  etaMinutes,
		Status:      models.ResponderComing,
		RespondedAt: time.Now(),
	}
	e.alert.Responders = append(e.alert.Responders, responder)
	out := e.alert.Clone()
	e.mu.Unlock()

	log.Info().
		Str("alert_id", alertID).
		Str("user_id", user.ID).
		Float64("distance_km", distanceKm).
		Int("eta_minutes", etaMinutes).
		Msg("responder added")

	m.persist(out)
	return responder, nil
}

// MarkArrived stamps the responder's arrival. Returns the updated alert
// snapshot so the caller can notify the sender.
func (m *AlertManager) MarkArrived(alertID, responderID string) (*models.Alert, models.Responder, error) {
	e, ok := m.entry(alertID)
	if !ok {
		return nil, models.Responder{}, ErrAlertNotFound
	}

	e.mu.Lock()
	if e.alert.Status != models.StatusActive {
		e.mu.Unlock()
		return nil, models.Responder{}, ErrAlertNotActive
	}
	r := e.alert.FindResponder(responderID)
	if r == nil {
		e.mu.Unlock()
		return nil, models.Responder{}, ErrResponderNotFound
	}
	if r.Status != models.ResponderComing {
		e.mu.Unlock()
		return nil, models.Responder{}, ErrResponderNotFound
	}
	now := time.Now()
	r.Status = models.ResponderArrived
	r.ArrivedAt = &now
	responder := *r
	out := e.alert.Clone()
	e.mu.Unlock()

	log.Info().Str("alert_id", alertID).Str("user_id", responderID).Msg("responder arrived")
	m.persist(out)
	return out, responder, nil
}

// Cancel transitions an active alert to cancelled. Only the original sender
// may cancel. Responders still coming are marked cancelled on the roster.
func (m *AlertManager) Cancel(alertID, requesterID string) (*models.Alert, error) {
	e, ok := m.entry(alertID)
	if !ok {
		return nil, ErrAlertNotFound
	}

	e.mu.Lock()
	if e.alert.SenderID != requesterID {
		e.mu.Unlock()
		return nil, ErrNotAuthorized
	}
	if e.alert.Status != models.StatusActive {
		e.mu.Unlock()
		return nil, ErrAlertNotActive
	}
	e.alert.Status = models.StatusCancelled
	for i := range e.alert.Responders {
		if e.alert.Responders[i].Status == models.ResponderComing {
			e.alert.Responders[i].Status = models.ResponderCancelled
		}
	}
	out := e.alert.Clone()
	e.mu.Unlock()

	log.Info().Str("alert_id", alertID).Str("user_id", requesterID).Msg("alert cancelled")
	m.persist(out)
	return out, nil
}

// Resolve transitions an active alert to resolved. The sender or any current
// responder may resolve; a responder on scene can close the incident.
func (m *AlertManager) Resolve(alertID, requesterID, notes string) (*models.Alert, error) {
	e, ok := m.entry(alertID)
	if !ok {
		return nil, ErrAlertNotFound
	}

	e.mu.Lock()
	if e.alert.SenderID != requesterID && e.alert.FindResponder(requesterID) == nil {
		e.mu.Unlock()
		return nil, ErrNotAuthorized
	}
	if e.alert.Status != models.StatusActive {
		e.mu.Unlock()
		return nil, ErrAlertNotActive
	}
	now := time.Now()
	e.alert.Status = models.StatusResolved
	e.alert.ResolvedAt = &now
	e.alert.ResolvedBy = requesterID
	e.alert.ResolutionNotes = notes
	out := e.alert.Clone()
	e.mu.Unlock()

	log.Info().Str("alert_id", alertID).Str("user_id", requesterID).Msg("alert resolved")
	m.persist(out)
	return out, nil
}

// SweepExpired transitions every active alert past its expiry to expired and
// returns the expired snapshots. Safe to run concurrently with any other
// transition: whichever takes the per-alert lock first wins, the loser sees
// a terminal state.
func (m *AlertManager) SweepExpired(now time.Time) []*models.Alert {
	m.mu.RLock()
	entries := make([]*alertEntry, 0, len(m.alerts))
	for _, e := range m.alerts {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var expired []*models.Alert
	for _, e := range entries {
		e.mu.Lock()
		if e.alert.Status == models.StatusActive && !e.alert.ExpiresAt.After(now) {
			e.alert.Status = models.StatusExpired
			expired = append(expired, e.alert.Clone())
		}
		e.mu.Unlock()
	}

	for _, a := range expired {
		log.Info().Str("alert_id", a.ID).Msg("alert expired")
		m.persist(a)
	}
	return expired
}

// Get returns a snapshot of one alert.
func (m *AlertManager) Get(alertID string) (*models.Alert, error) {
	e, ok := m.entry(alertID)
	if !ok {
		return nil, ErrAlertNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alert.Clone(), nil
}

// ActiveCount counts alerts currently active.
func (m *AlertManager) ActiveCount() int {
	n := 0
	m.forEach(func(a *models.Alert) {
		if a.Status == models.StatusActive {
			n++
		}
	})
	return n
}

// Nearby lists active and resolved alerts within radiusKm of the origin and
// created inside the window, newest first, capped at limit.
func (m *AlertManager) Nearby(lat, lng, radiusKm float64, window time.Duration, limit int) []*models.Alert {
	cutoff := time.Now().Add(-window)
	var out []*models.Alert
	m.forEach(func(a *models.Alert) {
		if a.Status != models.StatusActive && a.Status != models.StatusResolved {
			return
		}
		if a.CreatedAt.Before(cutoff) {
			return
		}
		if geo.DistanceKm(lat, lng, a.Location.Lat, a.Location.Lng) > radiusKm {
			return
		}
		out = append(out, a)
	})

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ForUser lists active alerts the user sent or is responding to, newest
// first.
func (m *AlertManager) ForUser(userID string) []*models.Alert {
	var out []*models.Alert
	m.forEach(func(a *models.Alert) {
		if a.Status != models.StatusActive {
			return
		}
		if a.SenderID != userID && a.FindResponder(userID) == nil {
			return
		}
		out = append(out, a)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *AlertManager) forEach(visit func(*models.Alert)) {
	m.mu.RLock()
	entries := make([]*alertEntry, 0, len(m.alerts))
	for _, e := range m.alerts {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		a := e.alert.Clone()
		e.mu.Unlock()
		visit(a)
	}
}

// persist hands the snapshot to the storage collaborator outside any alert
// lock. Storage failures are logged, never propagated: the emergency is real
// regardless of bookkeeping.
func (m *AlertManager) persist(a *models.Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.SaveAlert(ctx, a); err != nil {
			log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to persist alert")
		}
	}()
}
