package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/repository"
	"github.com/shiva/ridebroker/internal/service"
)

// Booker is the booking workflow.
type Booker interface {
	BookSeats(ctx context.Context, rideID int64, req service.BookingRequest) (*repository.BookingResult, error)
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	Confirm(ctx context.Context, bookingID int64) (*model.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64) (*model.Booking, error)
	RecordPayment(ctx context.Context, legID int64, p lifecycle.PaymentState) error
	RequestValidation(ctx context.Context, legID int64, party service.ValidationParty) error
}

// PaymentBody is the JSON body for POST /api/v1/legs/{id}/payment.
type PaymentBody struct {
	State lifecycle.PaymentState `json:"payment_state"`
}

// ValidationBody is the JSON body for POST /api/v1/legs/{id}/validation.
type ValidationBody struct {
	Party service.ValidationParty `json:"party"`
}

// BookingHandler handles booking HTTP requests.
type BookingHandler struct {
	bookings Booker
	log      *slog.Logger
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(bookings Booker, log *slog.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, log: log}
}

// BookSeats handles POST /api/v1/rides/{id}/bookings
//
// Response codes:
//
//	201 - Booking proposed (returns booking, leg id and remaining seats)
//	400 - Invalid ride id or body
//	404 - Ride not found
//	409 - Ride deleted or already departing
//	422 - Not enough seats left
//	408 - Booking timed out (lock contention)
func (h *BookingHandler) BookSeats(w http.ResponseWriter, r *http.Request) {
	rideID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req service.BookingRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	result, err := h.bookings.BookSeats(r.Context(), rideID, req)
	if err != nil {
		h.writeBookingError(w, "book seats", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetBooking handles GET /api/v1/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.bookings.GetBooking(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, "get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Confirm handles POST /api/v1/bookings/{id}/confirm
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.bookings.Confirm(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, "confirm booking", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /api/v1/bookings/{id}/cancel
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.bookings.CancelBooking(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, "cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// RecordPayment handles POST /api/v1/legs/{id}/payment
//
// Stores the payment status reported by the accounting side. 204 on success.
func (h *BookingHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body PaymentBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if err := h.bookings.RecordPayment(r.Context(), id, body.State); err != nil {
		h.writeBookingError(w, "record payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestValidation handles POST /api/v1/legs/{id}/validation
//
// Response codes:
//
//	204 - Request recorded
//	400 - Party is not "traveller" or "provider"
//	404 - Leg not found
//	409 - Leg already completed or cancelled
func (h *BookingHandler) RequestValidation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body ValidationBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if err := h.bookings.RequestValidation(r.Context(), id, body.Party); err != nil {
		h.writeBookingError(w, "request validation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) writeBookingError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidBooking), errors.Is(err, service.ErrInvalidPaymentState),
		errors.Is(err, service.ErrInvalidParty):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrRideFull):
		writeError(w, http.StatusUnprocessableEntity, "ride_full",
			"The ride has no remaining capacity for this many seats.")
	case errors.Is(err, service.ErrBookingTimeout):
		writeError(w, http.StatusRequestTimeout, "booking_timeout",
			"Booking timed out due to high contention. Please retry.")
	case errors.Is(err, service.ErrRideNotBookable):
		writeError(w, http.StatusConflict, "not_bookable", "This ride is no longer open for booking.")
	case errors.Is(err, service.ErrLegFinished):
		writeError(w, http.StatusConflict, "leg_finished", "The leg is already completed or cancelled.")
	case errors.Is(err, service.ErrBookingStateChange):
		writeError(w, http.StatusConflict, "invalid_state", "The booking is not in a state that allows this change.")
	case errors.Is(err, service.ErrRideNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Ride not found.")
	case errors.Is(err, service.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Booking not found.")
	case errors.Is(err, service.ErrLegNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Leg not found.")
	default:
		internalError(w, h.log, op, err)
	}
}
