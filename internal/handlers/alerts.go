package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/djyosi/rubisos/internal/config"
	"github.com/djyosi/rubisos/internal/middleware"
	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/services"
)

// AlertHandler serves the synchronous query surface: health/stats, nearby
// alert listings and single-alert detail. All read-only projections.
type AlertHandler struct {
	alerts     *services.AlertManager
	dispatcher *services.Dispatcher
	cfg        config.DispatchConfig
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *services.AlertManager, dispatcher *services.Dispatcher, cfg config.DispatchConfig) *AlertHandler {
	return &AlertHandler{
		alerts:     alerts,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Health handles GET /api/v1/health
func (h *AlertHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.dispatcher.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  stats,
	})
}

type alertSummary struct {
	AlertID        string             `json:"alert_id"`
	Type           models.AlertType   `json:"alert_type"`
	Priority       string             `json:"priority"`
	Status         models.AlertStatus `json:"status"`
	SenderName     string             `json:"sender_name"`
	SenderPhone    string             `json:"sender_phone"`
	Location       models.Location    `json:"location"`
	Description    string             `json:"description,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ResponderCount int                `json:"responder_count"`
}

func summarize(a *models.Alert) alertSummary {
	return alertSummary{
		AlertID:        a.ID,
		Type:           a.Type,
		Priority:       a.Priority,
		Status:         a.Status,
		SenderName:     a.SenderName,
		SenderPhone:    a.SenderPhone,
		Location:       a.Location,
		Description:    a.Description,
		CreatedAt:      a.CreatedAt,
		ResponderCount: a.ResponderCount(),
	}
}

// Nearby handles GET /api/v1/alerts/nearby
func (h *AlertHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseLatLng(r)
	if !ok {
		respondError(w, "lat and lng required", http.StatusBadRequest)
		return
	}

	radius := h.cfg.NearbyQueryRadiusKm
	if v := r.URL.Query().Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err == nil && parsed > 0 && parsed < radius {
			radius = parsed
		}
	}

	alerts := h.alerts.Nearby(lat, lng, radius, h.cfg.AlertTTL(), h.cfg.NearbyQueryLimit)
	summaries := make([]alertSummary, 0, len(alerts))
	for _, a := range alerts {
		summaries = append(summaries, summarize(a))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(summaries),
		"alerts": summaries,
	})
}

// Get handles GET /api/v1/alerts/{alert_id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alert_id")

	alert, err := h.alerts.Get(alertID)
	if err != nil {
		respondError(w, "alert not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"alert":       alert,
		"average_eta": alert.AverageETA(),
	})
}

// Mine handles GET /api/v1/alerts: active alerts the caller sent or is
// responding to.
func (h *AlertHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	alerts := h.alerts.ForUser(userID)
	summaries := make([]alertSummary, 0, len(alerts))
	for _, a := range alerts {
		summaries = append(summaries, summarize(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(summaries),
		"alerts": summaries,
	})
}
