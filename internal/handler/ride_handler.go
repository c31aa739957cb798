package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/repository"
	"github.com/shiva/ridebroker/internal/service"
)

// RideProvider creates standalone rides and loads rides with their
// derived state.
type RideProvider interface {
	CreateRide(ctx context.Context, req service.CreateRideRequest) (*model.Ride, error)
	GetRide(ctx context.Context, id int64, now time.Time) (*service.RideView, error)
}

// RideCanceller cancels a ride on the driver's behalf.
type RideCanceller interface {
	CancelRide(ctx context.Context, rideID int64, now time.Time) (*repository.CancelResult, error)
}

// ─── RideHandler ────────────────────────────────────────────

// RideHandler handles ride creation, lookup and driver-side cancellation.
type RideHandler struct {
	rides    RideProvider
	canceler RideCanceller
	now      Clock
	log      *slog.Logger
}

// NewRideHandler creates a new ride handler.
func NewRideHandler(rides RideProvider, canceler RideCanceller, now Clock, log *slog.Logger) *RideHandler {
	return &RideHandler{rides: rides, canceler: canceler, now: now, log: log}
}

// CreateRide handles POST /api/v1/rides
//
// Response codes:
//
//	201 - Ride created (not tied to any pattern)
//	400 - Invalid body
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRideRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ride, err := h.rides.CreateRide(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRide) {
			writeError(w, http.StatusBadRequest, "invalid_ride", err.Error())
			return
		}
		internalError(w, h.log, "create ride", err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

// GetRide handles GET /api/v1/rides/{id}
//
// The response carries both the stored state and the state evaluated now.
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.rides.GetRide(r.Context(), id, h.now())
	if err != nil {
		if errors.Is(err, service.ErrRideNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Ride not found.")
			return
		}
		internalError(w, h.log, "get ride", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelRide handles POST /api/v1/rides/{id}/cancel
//
// Response codes:
//
//	200 - Ride cancelled with its bookings and legs
//	404 - Ride not found
//	409 - Ride already cancelled or completed
func (h *RideHandler) CancelRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.canceler.CancelRide(r.Context(), id, h.now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRideNotFound):
			writeError(w, http.StatusNotFound, "not_found", "Ride not found.")
		case errors.Is(err, service.ErrCannotCancel):
			writeError(w, http.StatusConflict, "cannot_cancel", "This ride is already cancelled or completed.")
		case errors.Is(err, service.ErrBookingTimeout):
			writeError(w, http.StatusRequestTimeout, "cancel_timeout", "Cancellation timed out due to high contention. Please retry.")
		default:
			internalError(w, h.log, "cancel ride", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}
