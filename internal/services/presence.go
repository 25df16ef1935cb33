package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/repository"
)

// PresenceRegistry maps user identities to their profile, current location,
// online state and live connection handle. Mutations on one identity are
// serialized by a per-entry lock; the outer map lock is held only to locate
// entries, so different identities never block each other.
type PresenceRegistry struct {
	defaultRadiusKm float64
	store           repository.UserStore

	mu      sync.RWMutex
	byID    map[string]*presenceEntry
	byPhone map[string]string
}

type presenceEntry struct {
	mu   sync.Mutex
	user models.User
	conn ClientConn
}

// NewPresenceRegistry creates an empty registry. The store receives
// write-behind copies of every profile mutation and may be nil-backed by the
// in-memory implementation.
func NewPresenceRegistry(defaultRadiusKm float64, store repository.UserStore) *PresenceRegistry {
	return &PresenceRegistry{
		defaultRadiusKm: defaultRadiusKm,
		store:           store,
		byID:            make(map[string]*presenceEntry),
		byPhone:         make(map[string]string),
	}
}

// snapshot copies the user record so callers can read it lock-free.
func snapshot(u models.User) models.User {
	if u.Location != nil {
		loc := *u.Location
		u.Location = &loc
	}
	if len(u.AlertTypes) > 0 {
		types := make([]models.AlertType, len(u.AlertTypes))
		copy(types, u.AlertTypes)
		u.AlertTypes = types
	}
	return u
}

func (r *PresenceRegistry) entry(id string) (*presenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// UpsertProfile creates or updates a profile keyed by phone. A returning
// phone keeps its originally assigned identity; profiles are never deleted
// while the process runs.
func (r *PresenceRegistry) UpsertProfile(profile models.User) models.User {
	r.mu.Lock()
	id, exists := r.byPhone[profile.Phone]
	var e *presenceEntry
	if exists {
		e = r.byID[id]
	} else {
		id = uuid.New().String()
		e = &presenceEntry{user: models.User{
			ID:            id,
			Phone:         profile.Phone,
			AlertRadiusKm: r.defaultRadiusKm,
			ReceiveAlerts: true,
			CreatedAt:     time.Now(),
		}}
		r.byID[id] = e
		r.byPhone[profile.Phone] = id
	}
	r.mu.Unlock()

	e.mu.Lock()
	if profile.Name != "" {
		e.user.Name = profile.Name
	}
	if profile.PushToken != "" {
		e.user.PushToken = profile.PushToken
	}
	if profile.AlertRadiusKm > 0 {
		e.user.AlertRadiusKm = profile.AlertRadiusKm
	}
	if profile.Location != nil {
		loc := *profile.Location
		loc.Timestamp = time.Now()
		e.user.Location = &loc
	}
	e.user.LastActive = time.Now()
	out := snapshot(e.user)
	e.mu.Unlock()

	r.persist(out)
	return out
}

// Connect marks the identity online and stores its live connection handle,
// replacing (and closing) any previous one. Fails with ErrUnknownUser when
// no profile exists for the identity.
func (r *PresenceRegistry) Connect(id string, conn ClientConn, loc *models.Location) error {
	e, ok := r.entry(id)
	if !ok {
		return ErrUnknownUser
	}

	e.mu.Lock()
	if e.conn != nil && e.conn != conn {
		e.conn.Close()
	}
	e.conn = conn
	e.user.Online = true
	e.user.LastActive = time.Now()
	if loc != nil {
		stamped := *loc
		stamped.Timestamp = time.Now()
		e.user.Location = &stamped
	}
	out := snapshot(e.user)
	e.mu.Unlock()

	log.Info().Str("user_id", id).Msg("user connected")
	r.persist(out)
	return nil
}

// Disconnect clears the connection handle and marks the identity offline.
// Idempotent: disconnecting an unknown or already-offline identity is a
// no-op.
func (r *PresenceRegistry) Disconnect(id string) {
	e, ok := r.entry(id)
	if !ok {
		return
	}

	e.mu.Lock()
	wasOnline := e.user.Online
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.user.Online = false
	e.user.LastActive = time.Now()
	out := snapshot(e.user)
	e.mu.Unlock()

	if wasOnline {
		log.Info().Str("user_id", id).Msg("user disconnected")
		r.persist(out)
	}
}

// UpdateLocation stamps a fresh location fix on the identity.
func (r *PresenceRegistry) UpdateLocation(id string, loc models.Location) error {
	e, ok := r.entry(id)
	if !ok {
		return ErrUnknownUser
	}

	e.mu.Lock()
	loc.Timestamp = time.Now()
	e.user.Location = &loc
	e.user.LastActive = time.Now()
	out := snapshot(e.user)
	e.mu.Unlock()

	r.persist(out)
	return nil
}

// UpdateSettings changes the user's alert preferences.
func (r *PresenceRegistry) UpdateSettings(id string, radiusKm float64, receiveAlerts bool, types []models.AlertType) error {
	e, ok := r.entry(id)
	if !ok {
		return ErrUnknownUser
	}

	e.mu.Lock()
	if radiusKm > 0 {
		e.user.AlertRadiusKm = radiusKm
	}
	e.user.ReceiveAlerts = receiveAlerts
	e.user.AlertTypes = types
	out := snapshot(e.user)
	e.mu.Unlock()

	r.persist(out)
	return nil
}

// SetPushToken stores the device token for deferred notifications.
func (r *PresenceRegistry) SetPushToken(id, token string) error {
	e, ok := r.entry(id)
	if !ok {
		return ErrUnknownUser
	}

	e.mu.Lock()
	e.user.PushToken = token
	out := snapshot(e.user)
	e.mu.Unlock()

	r.persist(out)
	return nil
}

// Get returns a snapshot of the identity's presence record.
func (r *PresenceRegistry) Get(id string) (models.User, bool) {
	e, ok := r.entry(id)
	if !ok {
		return models.User{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.user), true
}

// GetByPhone returns a snapshot keyed by phone.
func (r *PresenceRegistry) GetByPhone(phone string) (models.User, bool) {
	r.mu.RLock()
	id, ok := r.byPhone[phone]
	r.mu.RUnlock()
	if !ok {
		return models.User{}, false
	}
	return r.Get(id)
}

// ForEach visits a snapshot of every registered user.
func (r *PresenceRegistry) ForEach(visit func(models.User)) {
	r.mu.RLock()
	entries := make([]*presenceEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		u := snapshot(e.user)
		e.mu.Unlock()
		visit(u)
	}
}

// ForEachOnline visits a snapshot of every online user.
func (r *PresenceRegistry) ForEachOnline(visit func(models.User)) {
	r.ForEach(func(u models.User) {
		if u.Online {
			visit(u)
		}
	})
}

// OnlineCount counts currently connected users.
func (r *PresenceRegistry) OnlineCount() int {
	n := 0
	r.ForEachOnline(func(models.User) { n++ })
	return n
}

// Send delivers an event to the identity's live connection. Returns false if
// the identity is offline. A write failure tears the connection down, since
// the peer is unreachable.
func (r *PresenceRegistry) Send(id string, event Event) bool {
	e, ok := r.entry(id)
	if !ok {
		return false
	}

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return false
	}

	if err := conn.Send(event); err != nil {
		log.Warn().Err(err).Str("user_id", id).Str("event", event.Type).Msg("live send failed, dropping connection")
		r.Disconnect(id)
		return false
	}
	return true
}

// IncrementAlertsSent bumps the sender counter.
func (r *PresenceRegistry) IncrementAlertsSent(id string) {
	r.increment(id, func(u *models.User) { u.AlertsSent++ })
}

// IncrementAlertsResponded bumps the responder counter.
func (r *PresenceRegistry) IncrementAlertsResponded(id string) {
	r.increment(id, func(u *models.User) { u.AlertsResponded++ })
}

func (r *PresenceRegistry) increment(id string, bump func(*models.User)) {
	e, ok := r.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	bump(&e.user)
	out := snapshot(e.user)
	e.mu.Unlock()
	r.persist(out)
}

// persist hands the snapshot to the storage collaborator outside any entry
// lock. Storage failures are logged, never propagated.
func (r *PresenceRegistry) persist(u models.User) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.UpsertUser(ctx, &u); err != nil {
			log.Error().Err(err).Str("user_id", u.ID).Msg("failed to persist user")
		}
	}()
}
