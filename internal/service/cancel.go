package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva/ridebroker/internal/events"
	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/repository"
)

// ─── Cancel Errors ─────────────────────────────────────────

var (
	ErrCannotCancel = errors.New("ride cannot be cancelled")
)

// RideCanceller soft-deletes a ride and cascades to its bookings and legs.
type RideCanceller interface {
	CancelRide(ctx context.Context, rideID int64) (*repository.CancelResult, error)
}

// ─── CancelService ─────────────────────────────────────────

// CancelService handles driver-side ride cancellation. A ride that has
// bookings is never removed: it is flagged deleted and moved to Cancelled
// together with everything hanging off it.
//
// Integration:
//   - Publishes the ride's transition to Cancelled right away instead of
//     waiting for the next sweep.
//   - Invalidates the search cache so the ride stops being offered.
type CancelService struct {
	store     RideCanceller
	publisher events.Publisher
	cache     CacheInvalidator
	log       *slog.Logger
}

// NewCancelService creates a cancel service. cache may be nil.
func NewCancelService(store RideCanceller, publisher events.Publisher, cache CacheInvalidator, log *slog.Logger) *CancelService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &CancelService{store: store, publisher: publisher, cache: cache, log: log}
}

// CancelRide cancels a ride.
//
// State transitions:
//   - any live state → Cancelled; bookings and legs → cancelled.
//   - Completed, Cancelled: ErrCannotCancel.
func (s *CancelService) CancelRide(ctx context.Context, rideID int64, now time.Time) (*repository.CancelResult, error) {
	result, err := s.store.CancelRide(ctx, rideID)
	if err != nil {
		return nil, s.classifyError(err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}

	t := lifecycle.Transition{Kind: lifecycle.KindRide, ID: rideID, From: result.PreviousState, To: lifecycle.Cancelled, At: now}
	if err := s.publisher.Publish(ctx, t); err != nil {
		s.log.Warn("publishing cancellation failed", "ride_id", rideID, "err", err)
	}

	s.log.Info("ride cancelled",
		"ride_id", rideID, "previous_state", result.PreviousState.String(),
		"bookings_cancelled", result.BookingsCancelled, "legs_cancelled", result.LegsCancelled)
	return result, nil
}

func (s *CancelService) classifyError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRideNotFound
	case errors.Is(err, repository.ErrInvalidState):
		return fmt.Errorf("%w: %v", ErrCannotCancel, err)
	case errors.Is(err, context.DeadlineExceeded):
		return ErrBookingTimeout
	default:
		return fmt.Errorf("cancel: %w", err)
	}
}
