package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/middleware"
	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // clients connect from native apps, not browsers
	},
}

// WebSocketHandler owns the per-connection event loop and feeds every
// inbound event to the dispatch facade.
type WebSocketHandler struct {
	dispatcher  *services.Dispatcher
	userService *services.UserService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(dispatcher *services.Dispatcher, userService *services.UserService) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher:  dispatcher,
		userService: userService,
	}
}

// HandleWebSocket upgrades the connection and runs its event loop until the
// peer goes away.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := middleware.ValidateWebSocketToken(token, h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	wsConn := services.NewWSConn(conn)
	defer h.dispatcher.Disconnect(userID)

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.ClientMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			sendErrorEvent(wsConn, "error", "invalid_message", "Invalid message format")
			continue
		}

		h.handleMessage(userID, wsConn, msg)
	}
}

// handleMessage routes one inbound event through the facade and writes the
// acting client's outcome. Failures become a "*-error" event for this client
// only; third parties see nothing.
func (h *WebSocketHandler) handleMessage(userID string, conn *services.WSConn, msg services.ClientMessage) {
	var (
		outcome services.Event
		err     error
	)

	switch msg.Type {
	case "register":
		var payload services.RegisteredPayload
		payload, err = h.dispatcher.Register(userID, conn, msg.Location, msg.PushToken)
		outcome = services.Event{Type: "registered", Data: payload}

	case "update-location":
		if msg.Location == nil {
			err = services.ErrInvalidCoordinates
			break
		}
		err = h.dispatcher.UpdateLocation(userID, *msg.Location)
		outcome = services.Event{Type: "location-updated"}

	case "send-sos":
		if msg.Location == nil {
			err = services.ErrInvalidCoordinates
			break
		}
		var payload services.AlertSentPayload
		payload, err = h.dispatcher.SendSOS(userID, models.AlertType(msg.AlertType), *msg.Location, msg.Description)
		outcome = services.Event{Type: "alert-sent", Data: payload}

	case "respond-to-alert":
		var payload services.NavigationPayload
		payload, err = h.dispatcher.Respond(userID, msg.AlertID)
		outcome = services.Event{Type: "navigation-data", Data: payload}

	case "mark-arrived":
		err = h.dispatcher.MarkArrived(userID, msg.AlertID)
		outcome = services.Event{Type: "arrived-confirmed", Data: services.AlertClosedPayload{AlertID: msg.AlertID}}

	case "cancel-alert":
		err = h.dispatcher.Cancel(userID, msg.AlertID)
		outcome = services.Event{Type: "alert-cancelled-confirmed", Data: services.AlertClosedPayload{AlertID: msg.AlertID}}

	case "resolve-alert":
		err = h.dispatcher.Resolve(userID, msg.AlertID, msg.Notes)
		outcome = services.Event{Type: "alert-resolved-confirmed", Data: services.AlertClosedPayload{AlertID: msg.AlertID}}

	default:
		sendErrorEvent(conn, "error", "unknown_type", "Unknown message type")
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("type", msg.Type).
			Msg("dispatch failed")
		sendErrorEvent(conn, errorEventFor(msg.Type), services.ErrorCode(err), err.Error())
		return
	}

	if sendErr := conn.Send(outcome); sendErr != nil {
		log.Error().Err(sendErr).Str("user_id", userID).Str("event", outcome.Type).Msg("Failed to send outcome")
	}
}

// errorEventFor keeps the error event names the clients already understand.
func errorEventFor(msgType string) string {
	switch msgType {
	case "register":
		return "register-error"
	case "send-sos":
		return "alert-error"
	case "respond-to-alert":
		return "response-error"
	default:
		return msgType + "-error"
	}
}

func sendErrorEvent(conn *services.WSConn, eventType, code, message string) {
	event := services.Event{
		Type: eventType,
		Data: services.ErrorPayload{Code: code, Message: message},
	}
	if err := conn.Send(event); err != nil {
		log.Debug().Err(err).Str("event", eventType).Msg("failed to send error event")
	}
}
