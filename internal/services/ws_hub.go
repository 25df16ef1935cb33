package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/models"
)

// Event is the outbound WebSocket envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientConn is a live connection handle held by the presence registry.
// Implementations must be safe for concurrent Send calls.
type ClientConn interface {
	Send(event Event) error
	Close() error
}

// WSConn wraps a gorilla connection with write serialization; gorilla
// permits only one concurrent writer.
type WSConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSConn wraps an upgraded WebSocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send marshals and writes one event to the connection.
func (c *WSConn) Send(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// ClientMessage is the inbound WebSocket envelope; fields are populated per
// message type.
type ClientMessage struct {
	Type        string           `json:"type"`
	Location    *models.Location `json:"location,omitempty"`
	PushToken   string           `json:"push_token,omitempty"`
	AlertID     string           `json:"alert_id,omitempty"`
	AlertType   string           `json:"alert_type,omitempty"`
	Description string           `json:"description,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// Outbound payloads.

// RegisteredPayload acknowledges a register event.
type RegisteredPayload struct {
	Success     bool   `json:"success"`
	UserID      string `json:"user_id,omitempty"`
	NearbyCount int    `json:"nearby_count"`
}

// AlertSentPayload acknowledges a send-sos event to the sender.
type AlertSentPayload struct {
	AlertID         string `json:"alert_id"`
	HelpersNotified int    `json:"helpers_notified"`
}

// IncomingAlertPayload is fanned out to matched recipients.
type IncomingAlertPayload struct {
	AlertID     string           `json:"alert_id"`
	SenderName  string           `json:"sender_name"`
	SenderPhone string           `json:"sender_phone"`
	Location    models.Location  `json:"location"`
	DistanceKm  float64          `json:"distance_km"`
	ETA         geo.ETA          `json:"eta"`
	Type        models.AlertType `json:"alert_type"`
	Priority    string           `json:"priority"`
	Description string           `json:"description,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NavigationPayload is sent to a responder after they commit.
type NavigationPayload struct {
	AlertID     string             `json:"alert_id"`
	Destination models.Location    `json:"destination"`
	ETA         geo.ETA            `json:"eta"`
	DistanceKm  float64            `json:"distance_km"`
	MapURLs     geo.NavigationURLs `json:"map_urls"`
}

// HelpComingPayload is sent to the sender when a responder commits.
type HelpComingPayload struct {
	AlertID       string  `json:"alert_id"`
	ResponderName string  `json:"responder_name"`
	ETA           geo.ETA `json:"eta"`
	DistanceKm    float64 `json:"distance_km"`
}

// ResponderArrivedPayload is sent to the sender on arrival.
type ResponderArrivedPayload struct {
	AlertID       string `json:"alert_id"`
	ResponderName string `json:"responder_name"`
}

// AlertClosedPayload is fanned out to responders on cancel or resolve.
type AlertClosedPayload struct {
	AlertID string `json:"alert_id"`
}

// ErrorPayload carries a dispatch failure back to the acting client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
