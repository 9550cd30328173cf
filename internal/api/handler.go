// Package api provides the HTTP surface of the relay: health, status, the
// Telegram webhook and the live event feed.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/feed"
	"github.com/ashureev/roomrelay/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StageReader reports the live broadcast stage; broadcast.Workflow implements it.
type StageReader interface {
	Stage() domain.Stage
}

// Handler serves health and status endpoints.
type Handler struct {
	repo      store.Repository
	window    *clock.DayWindow
	feed      *feed.Hub
	broadcast StageReader
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, window *clock.DayWindow, hub *feed.Hub, broadcast StageReader) *Handler {
	return &Handler{repo: repo, window: window, feed: hub, broadcast: broadcast}
}

// RegisterRoutes registers health and status routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
	})
}

// Health returns the health status of the service and its database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := map[string]interface{}{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, status)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Today           string         `json:"today"`
	Users           int            `json:"users"`
	SelectedToday   int            `json:"selected_today"`
	UsersByRoom     map[string]int `json:"users_by_room"`
	RelayMappings   int            `json:"relay_mappings"`
	LastResetDate   string         `json:"last_reset_date,omitempty"`
	BroadcastStage  string         `json:"broadcast_stage"`
	FeedSubscribers int            `json:"feed_subscribers"`
}

// Status reports room occupancy, mapping count and the broadcast stage. The stage
// comes from the running workflow, not the persisted copy.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	today := h.window.Today()
	st, err := h.repo.Stats(r.Context(), today)
	if err != nil {
		slog.Error("Failed to load status", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load status")
		return
	}

	resp := StatusResponse{
		Today:           string(today),
		Users:           st.Users,
		SelectedToday:   st.SelectedToday,
		UsersByRoom:     st.UsersByRoom,
		RelayMappings:   st.RelayMappings,
		BroadcastStage:  h.broadcast.Stage().String(),
		FeedSubscribers: h.feed.Subscribers(),
	}
	if st.LastResetDate != nil {
		resp.LastResetDate = string(*st.LastResetDate)
	}
	JSON(w, http.StatusOK, resp)
}
