package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/Shivanand-hulikatti/helper-slots/internal/notify"
	"github.com/Shivanand-hulikatti/helper-slots/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ReservationHandler serves signups, cancellations and the engine's read
// endpoints. Notifications go out after the engine call has committed.
type ReservationHandler struct {
	svc        *service.ReservationService
	dispatcher *notify.Dispatcher
	clock      service.Clock
	log        *zap.Logger
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(
	svc *service.ReservationService,
	dispatcher *notify.Dispatcher,
	clock service.Clock,
	log *zap.Logger,
) *ReservationHandler {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &ReservationHandler{svc: svc, dispatcher: dispatcher, clock: clock, log: log}
}

type slotConflictResponse struct {
	Error            string `json:"error"`
	ConflictingEvent struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"conflicting_event"`
}

// Signup handles POST /events/{id}/signup
// Signs a member up for the event, or for one of its helper slots when
// slot_id is given.
func (h *ReservationHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Signup(r.Context(), service.SignupParams{
		EventID:  chi.URLParam(r, "id"),
		MemberID: req.MemberID,
		SlotID:   req.SlotID,
		Role:     req.Role,
	})
	if err != nil {
		var conflict *service.SlotConflictError
		if errors.As(err, &conflict) {
			body := slotConflictResponse{Error: conflict.Error()}
			body.ConflictingEvent.ID = conflict.EventID
			body.ConflictingEvent.Title = conflict.EventTitle
			writeJSON(w, http.StatusConflict, body)
			return
		}
		writeServiceError(w, h.log, err, "failed to sign up")
		return
	}

	if n, ok := notify.ForSignup(res, h.clock.Now()); ok {
		h.dispatcher.Dispatch(n)
	}

	writeJSON(w, http.StatusCreated, res)
}

// Cancel handles POST /reservations/{id}/cancel
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.MemberID)
	if err != nil {
		writeServiceError(w, h.log, err, "failed to cancel reservation")
		return
	}

	if n, ok := notify.ForPromotion(res, h.clock.Now()); ok {
		h.dispatcher.Dispatch(n)
	}

	writeJSON(w, http.StatusOK, res)
}

// Occupancy handles GET /slots/{id}/occupancy
func (h *ReservationHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	occ, err := h.svc.Occupancy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err, "failed to read occupancy")
		return
	}

	writeJSON(w, http.StatusOK, occ)
}

// Conflicts handles GET /members/{id}/conflicts?start=&end=&exclude_event=
// start and end are RFC 3339 timestamps.
func (h *ReservationHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be an RFC 3339 timestamp")
		return
	}

	conflicts, err := h.svc.FindConflicts(r.Context(), chi.URLParam(r, "id"), start, end, q.Get("exclude_event"))
	if err != nil {
		writeServiceError(w, h.log, err, "failed to check conflicts")
		return
	}
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}

	writeJSON(w, http.StatusOK, conflicts)
}
