package models

import "time"

// AlertType classifies an emergency.
type AlertType string

const (
	AlertMedical  AlertType = "medical"
	AlertFire     AlertType = "fire"
	AlertSecurity AlertType = "security"
	AlertAccident AlertType = "accident"
	AlertOther    AlertType = "other"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertMedical, AlertFire, AlertSecurity, AlertAccident, AlertOther:
		return true
	}
	return false
}

// Priority derives the alert priority from its type: medical emergencies are
// critical, everything else is high.
func (t AlertType) Priority() string {
	if t == AlertMedical {
		return "critical"
	}
	return "high"
}

// AlertStatus is the alert state machine. Active is the only non-terminal
// state.
type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusResolved  AlertStatus = "resolved"
	StatusCancelled AlertStatus = "cancelled"
	StatusExpired   AlertStatus = "expired"
)

// ResponderStatus tracks a responder on a single alert. Transitions go
// coming -> arrived or coming -> cancelled, never backward.
type ResponderStatus string

const (
	ResponderComing    ResponderStatus = "coming"
	ResponderArrived   ResponderStatus = "arrived"
	ResponderCancelled ResponderStatus = "cancelled"
)

// NotificationMethod records how a recipient was reached.
type NotificationMethod string

const (
	MethodLive     NotificationMethod = "live"
	MethodDeferred NotificationMethod = "deferred"
)

// Location is a GPS fix.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// User is a registered person's presence record. Invariant: a user is online
// iff a live connection handle is registered for them (the handle itself is
// held by the presence registry, not here).
type User struct {
	ID              string      `json:"id"`
	Phone           string      `json:"phone"`
	Name            string      `json:"name"`
	PushToken       string      `json:"push_token,omitempty"`
	Location        *Location   `json:"location,omitempty"`
	Online          bool        `json:"online"`
	AlertRadiusKm   float64     `json:"alert_radius_km"`
	ReceiveAlerts   bool        `json:"receive_alerts"`
	AlertTypes      []AlertType `json:"alert_types,omitempty"` // empty = all types
	AlertsSent      int         `json:"alerts_sent"`
	AlertsResponded int         `json:"alerts_responded"`
	CreatedAt       time.Time   `json:"created_at"`
	LastActive      time.Time   `json:"last_active"`
}

// Subscribed reports whether the user receives alerts of the given type.
// An empty subscription set means all types.
func (u *User) Subscribed(t AlertType) bool {
	if !u.ReceiveAlerts {
		return false
	}
	if len(u.AlertTypes) == 0 {
		return true
	}
	for _, at := range u.AlertTypes {
		if at == t {
			return true
		}
	}
	return false
}

// Recipient records one notified user on an alert. Append-only; one entry
// per matched user, written at alert creation.
type Recipient struct {
	UserID     string             `json:"user_id"`
	Method     NotificationMethod `json:"method"`
	NotifiedAt time.Time          `json:"notified_at"`
}

// Responder records one user who committed to attend an alert. Name and
// phone are snapshots taken at response time.
type Responder struct {
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	DistanceKm  float64         `json:"distance_km"`
	ETAMinutes  int             `json:"eta_minutes"`
	Status      ResponderStatus `json:"status"`
	RespondedAt time.Time       `json:"responded_at"`
	ArrivedAt   *time.Time      `json:"arrived_at,omitempty"`
}

// Alert is one emergency incident from creation to a terminal state.
type Alert struct {
	ID              string      `json:"id"`
	Type            AlertType   `json:"type"`
	Priority        string      `json:"priority"`
	SenderID        string      `json:"sender_id"`
	SenderName      string      `json:"sender_name"`
	SenderPhone     string      `json:"sender_phone"`
	Location        Location    `json:"location"`
	Description     string      `json:"description,omitempty"`
	Status          AlertStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
	Recipients      []Recipient `json:"recipients"`
	Responders      []Responder `json:"responders"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy      string      `json:"resolved_by,omitempty"`
	ResolutionNotes string      `json:"resolution_notes,omitempty"`
}

// FindResponder returns the responder entry for a user, or nil.
func (a *Alert) FindResponder(userID string) *Responder {
	for i := range a.Responders {
		if a.Responders[i].UserID == userID {
			return &a.Responders[i]
		}
	}
	return nil
}

// ResponderCount counts responders that are coming or have arrived.
func (a *Alert) ResponderCount() int {
	n := 0
	for _, r := range a.Responders {
		if r.Status == ResponderComing || r.Status == ResponderArrived {
			n++
		}
	}
	return n
}

// AverageETA returns the mean ETA in minutes over responders still coming,
// or 0 if none are.
func (a *Alert) AverageETA() int {
	total, n := 0, 0
	for _, r := range a.Responders {
		if r.Status == ResponderComing {
			total += r.ETAMinutes
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return (total + n/2) / n
}

// Clone returns a deep copy of the alert. Rosters are copied so the caller
// may read them without holding the owning lock.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.Recipients = make([]Recipient, len(a.Recipients))
	copy(cp.Recipients, a.Recipients)
	cp.Responders = make([]Responder, len(a.Responders))
	copy(cp.Responders, a.Responders)
	return &cp
}
