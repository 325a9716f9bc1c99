package couriers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Handler serves the courier profile surface: location pings,
// realtime session registration and daily stats.
type Handler struct {
	repo   *Repository
	geo    *LocationIndex
	logger *slog.Logger
}

func NewHandler(repo *Repository, geo *LocationIndex, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		geo:    geo,
		logger: logger,
	}
}

type locationRequest struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// HandleUpdateLocation records a courier location ping in the geo
// index. Last write wins.
func (h *Handler) HandleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	courierID := r.PathValue("id")
	if courierID == "" {
		h.writeError(w, http.StatusBadRequest, "missing courier id")
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Longitude < -180 || req.Longitude > 180 || req.Latitude < -90 || req.Latitude > 90 {
		h.writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	if err := h.geo.Update(r.Context(), courierID, req.Longitude, req.Latitude); err != nil {
		h.logger.Error("failed to update courier location", "error", err, "courier_id", courierID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectionRequest struct {
	ConnectionHandle string `json:"connection_handle"`
}

// HandleSetConnection stores the courier's realtime session handle.
// An empty handle marks the courier disconnected.
func (h *Handler) HandleSetConnection(w http.ResponseWriter, r *http.Request) {
	courierID := r.PathValue("id")
	if courierID == "" {
		h.writeError(w, http.StatusBadRequest, "missing courier id")
		return
	}

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.repo.SetConnectionHandle(r.Context(), courierID, req.ConnectionHandle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "courier not found")
			return
		}
		h.logger.Error("failed to set connection handle", "error", err, "courier_id", courierID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleTodayStats(w http.ResponseWriter, r *http.Request) {
	courierID := r.PathValue("id")
	if courierID == "" {
		h.writeError(w, http.StatusBadRequest, "missing courier id")
		return
	}

	stats, err := h.repo.TodayDeliveryStats(r.Context(), courierID)
	if err != nil {
		h.logger.Error("failed to load delivery stats", "error", err, "courier_id", courierID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
