// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"github.com/Shivanand-hulikatti/helper-slots/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EventHandler serves event and helper slot management.
type EventHandler struct {
	svc *service.EventService
	log *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps engine errors to HTTP statuses. Unknown errors are
// logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error, fallback string) {
	switch {
	case service.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case service.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case service.IsConflictError(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrTxConflict):
		writeError(w, http.StatusConflict, "the request raced with another update, please retry")
	default:
		log.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, err, "failed to create event")
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// CreateSlot handles POST /events/{id}/slots
func (h *EventHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSlotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	slot, err := h.svc.CreateSlot(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.log, err, "failed to create slot")
		return
	}

	writeJSON(w, http.StatusCreated, slot)
}

// ListSlots handles GET /events/{id}/slots
func (h *EventHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.ListSlots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err, "failed to list slots")
		return
	}
	if slots == nil {
		slots = []model.HelperSlot{}
	}

	writeJSON(w, http.StatusOK, slots)
}

// ListReservations handles GET /events/{id}/reservations
// Returns the event's reservations in queue order.
func (h *EventHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := h.svc.ListReservations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err, "failed to list reservations")
		return
	}
	if reservations == nil {
		reservations = []model.Reservation{}
	}

	writeJSON(w, http.StatusOK, reservations)
}

// ListMemberReservations handles GET /members/{id}/reservations
func (h *EventHandler) ListMemberReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := h.svc.ListMemberReservations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err, "failed to list reservations")
		return
	}
	if reservations == nil {
		reservations = []model.Reservation{}
	}

	writeJSON(w, http.StatusOK, reservations)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
