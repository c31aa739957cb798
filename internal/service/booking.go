package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/observability"
	"github.com/shiva/ridebroker/internal/repository"
	"github.com/shiva/ridebroker/pkg/geo"
	"github.com/shiva/ridebroker/pkg/timewindow"
)

// ─── Booking Errors ─────────────────────────────────────────

var (
	// ErrRideFull is returned when the ride has fewer seats left than requested.
	ErrRideFull = errors.New("ride is full: not enough remaining seats")

	// ErrRideNotBookable is returned for deleted rides and rides that have
	// already started departing.
	ErrRideNotBookable = errors.New("ride is no longer open for booking")

	// ErrBookingTimeout is returned when the transaction lock wait exceeds
	// the context deadline (another transaction held the lock too long).
	ErrBookingTimeout = errors.New("booking timed out waiting for lock")

	ErrBookingNotFound     = errors.New("booking not found")
	ErrInvalidBooking      = errors.New("invalid booking request")
	ErrBookingStateChange  = errors.New("booking state does not allow this change")
	ErrInvalidPaymentState = errors.New("invalid payment state")
	ErrInvalidParty        = errors.New("invalid validation party")
	ErrLegNotFound         = errors.New("leg not found")
	ErrLegFinished         = errors.New("leg is already completed or cancelled")
)

// BookingStore is the transactional booking persistence.
type BookingStore interface {
	BookSeats(ctx context.Context, rideID int64, b *model.Booking, tripID int64) (*repository.BookingResult, error)
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	ConfirmBooking(ctx context.Context, id int64) (*model.Booking, error)
	CancelBooking(ctx context.Context, id int64) (*model.Booking, error)
}

// CacheInvalidator drops cached search answers after capacity changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// LegRecorder stores what the payment and validation side report for a leg.
type LegRecorder interface {
	SetPaymentState(ctx context.Context, legID int64, p lifecycle.PaymentState) error
	RequestValidation(ctx context.Context, legID int64, byProvider bool) error
}

// ValidationParty names who is asked to confirm that a leg took place.
type ValidationParty string

const (
	ValidationByTraveller ValidationParty = "traveller"
	ValidationByProvider  ValidationParty = "provider"
)

func (p ValidationParty) Valid() bool {
	return p == ValidationByTraveller || p == ValidationByProvider
}

// BookingRequest is a passenger's request for seats on a ride.
type BookingRequest struct {
	PassengerID int64        `json:"passenger_id"`
	TripID      int64        `json:"trip_id,omitempty"`
	Pickup      geo.GeoPoint `json:"pickup"`
	Dropoff     geo.GeoPoint `json:"dropoff"`
	Earliest    time.Time    `json:"earliest"`
	Latest      time.Time    `json:"latest"`
	Seats       int          `json:"seats"`
	FareCents   int64        `json:"fare_cents"`
}

// Validate rejects malformed booking requests and normalizes the pickup
// and dropoff points.
func (r *BookingRequest) Validate() error {
	if r.PassengerID <= 0 {
		return fmt.Errorf("%w: passenger_id is required", ErrInvalidBooking)
	}
	if r.Seats < 1 {
		return fmt.Errorf("%w: seats must be at least 1, got %d", ErrInvalidBooking, r.Seats)
	}
	if r.FareCents < 0 {
		return fmt.Errorf("%w: fare must not be negative", ErrInvalidBooking)
	}
	if err := r.Pickup.Normalize(); err != nil {
		return fmt.Errorf("%w: pickup: %v", ErrInvalidBooking, err)
	}
	if err := r.Dropoff.Normalize(); err != nil {
		return fmt.Errorf("%w: dropoff: %v", ErrInvalidBooking, err)
	}
	if _, err := timewindow.New(r.Earliest, r.Latest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}
	return nil
}

// ─── BookingService ─────────────────────────────────────────

// BookingService handles seat bookings with strict concurrency control.
//
// Concurrency model:
//   - Uses PostgreSQL SELECT ... FOR UPDATE (pessimistic locking) on the ride.
//   - Concurrent bookings for the same ride serialize automatically.
//   - A 5-second context timeout prevents lock starvation.
//
// Two passengers booking the last seat at the same millisecond:
//
//	A: gets the lock → books seat → commits (success)
//	B: blocks on lock → recounts → no seats left → rollback (ErrRideFull)
type BookingService struct {
	store    BookingStore
	legs     LegRecorder
	cache    CacheInvalidator
	log      *slog.Logger
}

// NewBookingService creates a booking service. cache may be nil.
func NewBookingService(store BookingStore, legs LegRecorder, cache CacheInvalidator, log *slog.Logger) *BookingService {
	return &BookingService{store: store, legs: legs, cache: cache, log: log}
}

func (s *BookingService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// BookSeats books seats on a ride. The booking starts out proposed; the
// leg it creates stays in the Booking state until Confirm.
func (s *BookingService) BookSeats(ctx context.Context, rideID int64, req BookingRequest) (*repository.BookingResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, repository.DefaultBookingTimeout)
	defer cancel()

	b := &model.Booking{
		PassengerID: req.PassengerID,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
		Earliest:    req.Earliest,
		Latest:      req.Latest,
		Seats:       req.Seats,
		FareCents:   req.FareCents,
	}
	result, err := s.store.BookSeats(txCtx, rideID, b, req.TripID)
	if err != nil {
		err = s.classifyError(err, ErrRideNotFound)
		observability.BookingsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	observability.BookingsTotal.WithLabelValues("booked").Inc()
	s.invalidate(ctx)

	s.log.Info("seats booked",
		"ride_id", rideID, "booking_id", result.Booking.ID, "passenger_id", req.PassengerID,
		"seats", req.Seats, "remaining", result.RemainingSeats)
	return result, nil
}

// GetBooking returns a booking.
func (s *BookingService) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, s.classifyError(err, ErrBookingNotFound)
	}
	return b, nil
}

// Confirm accepts a proposed booking.
func (s *BookingService) Confirm(ctx context.Context, bookingID int64) (*model.Booking, error) {
	b, err := s.store.ConfirmBooking(ctx, bookingID)
	if err != nil {
		return nil, s.classifyError(err, ErrBookingNotFound)
	}
	observability.BookingsTotal.WithLabelValues("confirmed").Inc()
	s.log.Info("booking confirmed", "booking_id", bookingID, "ride_id", b.RideID)
	return b, nil
}

// CancelBooking withdraws a proposed or confirmed booking, freeing its seats.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	b, err := s.store.CancelBooking(ctx, bookingID)
	if err != nil {
		return nil, s.classifyError(err, ErrBookingNotFound)
	}
	observability.BookingsTotal.WithLabelValues("cancelled").Inc()
	s.invalidate(ctx)
	s.log.Info("booking cancelled", "booking_id", bookingID, "ride_id", b.RideID, "seats", b.Seats)
	return b, nil
}

// RecordPayment stores the payment status of a leg. A reserved payment on
// a leg awaiting validation holds it in Validating; paid releases it.
func (s *BookingService) RecordPayment(ctx context.Context, legID int64, p lifecycle.PaymentState) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentState, p)
	}
	if err := s.legs.SetPaymentState(ctx, legID, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLegNotFound
		}
		return fmt.Errorf("record payment: %w", err)
	}
	s.log.Info("payment recorded", "leg_id", legID, "payment_state", string(p))
	return nil
}

// RequestValidation records that party was asked to confirm the leg. Once
// both parties are asked and the payment is reserved, the leg waits in
// Validating after arrival instead of completing.
func (s *BookingService) RequestValidation(ctx context.Context, legID int64, party ValidationParty) error {
	if !party.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidParty, party)
	}
	if err := s.legs.RequestValidation(ctx, legID, party == ValidationByProvider); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrLegNotFound
		case errors.Is(err, repository.ErrInvalidState):
			return ErrLegFinished
		default:
			return fmt.Errorf("request validation: %w", err)
		}
	}
	s.log.Info("validation requested", "leg_id", legID, "party", string(party))
	return nil
}

// ─── Private helpers ────────────────────────────────────────

// classifyError maps repository errors to user-facing booking errors.
// missing is returned when the locked row does not exist.
func (s *BookingService) classifyError(err, missing error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrBookingTimeout
	case errors.Is(err, repository.ErrRideFull):
		return fmt.Errorf("%w: %v", ErrRideFull, err)
	case errors.Is(err, repository.ErrRideNotBookable):
		return ErrRideNotBookable
	case errors.Is(err, repository.ErrInvalidState):
		return fmt.Errorf("%w: %v", ErrBookingStateChange, err)
	case errors.Is(err, repository.ErrNotFound):
		return missing
	default:
		return fmt.Errorf("booking: unexpected error: %w", err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrRideFull):
		return "full"
	case errors.Is(err, ErrRideNotBookable):
		return "not_bookable"
	case errors.Is(err, ErrBookingTimeout):
		return "timeout"
	case errors.Is(err, ErrRideNotFound):
		return "not_found"
	default:
		return "error"
	}
}
