package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/middleware"
	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/services"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService *services.UserService
	registry    *services.PresenceRegistry
	matcher     *services.Matcher
	dispatcher  *services.Dispatcher
}

// NewUserHandler creates a new user handler
func NewUserHandler(
	userService *services.UserService,
	registry *services.PresenceRegistry,
	matcher *services.Matcher,
	dispatcher *services.Dispatcher,
) *UserHandler {
	return &UserHandler{
		userService: userService,
		registry:    registry,
		matcher:     matcher,
		dispatcher:  dispatcher,
	}
}

// RegisterUser handles POST /api/v1/users
func (h *UserHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.userService.Register(req)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("user_id", user.ID).
		Str("phone", user.Phone).
		Msg("User registered")

	respondJSON(w, http.StatusOK, map[string]any{
		"user":  user,
		"token": token,
	})
}

// settingsRequest is the PATCH /users/settings body.
type settingsRequest struct {
	AlertRadiusKm float64            `json:"alert_radius_km"`
	ReceiveAlerts bool               `json:"receive_alerts"`
	AlertTypes    []models.AlertType `json:"alert_types"`
}

// UpdateSettings handles PATCH /api/v1/users/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for _, t := range req.AlertTypes {
		if !t.Valid() {
			respondError(w, "unknown alert type: "+string(t), http.StatusBadRequest)
			return
		}
	}

	if err := h.registry.UpdateSettings(userID, req.AlertRadiusKm, req.ReceiveAlerts, req.AlertTypes); err != nil {
		respondError(w, "user not found", http.StatusNotFound)
		return
	}

	user, _ := h.registry.Get(userID)
	respondJSON(w, http.StatusOK, user)
}

// UpdateLocation handles PATCH /api/v1/users/location
func (h *UserHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var loc models.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.UpdateLocation(userID, loc); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// NearbyHelpers handles GET /api/v1/users/nearby
func (h *UserHandler) NearbyHelpers(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseLatLng(r)
	if !ok {
		respondError(w, "lat and lng required", http.StatusBadRequest)
		return
	}
	radius := 10.0
	if v := r.URL.Query().Get("radius"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			radius = parsed
		}
	}

	count := h.matcher.CountNearbyHelpers(models.Location{Lat: lat, Lng: lng}, radius, "")
	respondJSON(w, http.StatusOK, map[string]any{"count": count})
}

func parseLatLng(r *http.Request) (lat, lng float64, ok bool) {
	var err error
	lat, err = strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil {
		return 0, 0, false
	}
	if !geo.ValidCoordinates(lat, lng) {
		return 0, 0, false
	}
	return lat, lng, true
}
