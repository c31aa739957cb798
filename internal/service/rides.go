package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/repository"
	"github.com/shiva/ridebroker/pkg/geo"
	"github.com/shiva/ridebroker/pkg/timewindow"
)

var ErrInvalidRide = errors.New("invalid ride")

// RideStore loads rides with their bookings and stores standalone rides.
type RideStore interface {
	GetRide(ctx context.Context, id int64) (*model.Ride, error)
	CreateRide(ctx context.Context, ride *model.Ride) error
}

// RideLegLister lists the legs a ride carries.
type RideLegLister interface {
	ListLegsForRide(ctx context.Context, rideID int64) ([]model.Leg, error)
}

// RideView is a ride as shown to clients: the stored record plus the state
// and capacity derived at request time.
type RideView struct {
	model.Ride
	CurrentState   lifecycle.State `json:"current_state"`
	SeatsRemaining int             `json:"seats_remaining"`
	// Eligibility is the outline of the detour area, for map display.
	Eligibility []geo.GeoPoint `json:"eligibility,omitempty"`
}

// CreateRideRequest is a one-off ride offered directly by a driver.
type CreateRideRequest struct {
	DriverID         int64        `json:"driver_id"`
	Origin           geo.GeoPoint `json:"origin"`
	Destination      geo.GeoPoint `json:"destination"`
	Departure        time.Time    `json:"departure"`
	Arrival          time.Time    `json:"arrival"`
	Seats            int          `json:"seats"`
	MaxDetourMeters  int          `json:"max_detour_meters"`
	MaxDetourSeconds int          `json:"max_detour_seconds"`
}

// Validate rejects malformed rides and normalizes origin and destination.
func (r *CreateRideRequest) Validate() error {
	if r.DriverID <= 0 {
		return fmt.Errorf("%w: driver_id is required", ErrInvalidRide)
	}
	if err := r.Origin.Normalize(); err != nil {
		return fmt.Errorf("%w: origin: %v", ErrInvalidRide, err)
	}
	if err := r.Destination.Normalize(); err != nil {
		return fmt.Errorf("%w: destination: %v", ErrInvalidRide, err)
	}
	if r.Seats < 1 {
		return fmt.Errorf("%w: seats must be at least 1, got %d", ErrInvalidRide, r.Seats)
	}
	if r.MaxDetourMeters < 0 || r.MaxDetourSeconds < 0 {
		return fmt.Errorf("%w: detour limits must not be negative", ErrInvalidRide)
	}
	if _, err := timewindow.New(r.Departure, r.Arrival); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRide, err)
	}
	return nil
}

// RideService serves ride lookups and standalone ride creation.
type RideService struct {
	rides   RideStore
	legs    RideLegLister
	cache   CacheInvalidator
	machine lifecycle.Machine
	cfg     MatchConfig
	log     *slog.Logger
}

// NewRideService creates a ride service. cache may be nil.
func NewRideService(
	rides RideStore,
	legs RideLegLister,
	cache CacheInvalidator,
	machine lifecycle.Machine,
	cfg MatchConfig,
	log *slog.Logger,
) *RideService {
	return &RideService{rides: rides, legs: legs, cache: cache, machine: machine, cfg: cfg, log: log}
}

// CreateRide stores a ride that belongs to no pattern. It starts out
// Scheduled and is bookable at once.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*model.Ride, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ride := &model.Ride{
		DriverID:         req.DriverID,
		Origin:           req.Origin,
		Destination:      req.Destination,
		Departure:        req.Departure,
		Arrival:          req.Arrival,
		SeatsAvailable:   req.Seats,
		MaxDetourMeters:  req.MaxDetourMeters,
		MaxDetourSeconds: req.MaxDetourSeconds,
		State:            lifecycle.Scheduled,
	}
	if err := s.rides.CreateRide(ctx, ride); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.log.Info("standalone ride created", "ride_id", ride.ID, "driver_id", ride.DriverID,
		"departure", ride.Departure.Format(time.RFC3339))
	return ride, nil
}

// GetRide returns the ride with its state evaluated at now, folded over
// its legs the same way the sweep does. The stored state may lag by up to
// one sweep interval; CurrentState does not.
func (s *RideService) GetRide(ctx context.Context, id int64, now time.Time) (*RideView, error) {
	ride, err := s.rides.GetRide(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, fmt.Errorf("get ride: %w", err)
	}
	legs, err := s.legs.ListLegsForRide(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}

	view := &RideView{
		Ride:           *ride,
		CurrentState:   RideState(s.machine, now, ride, LegStates(s.machine, now, legs)),
		SeatsRemaining: ride.SeatsRemaining(),
	}
	if !ride.Deleted {
		view.Eligibility = EligibilityAreaOf(ride, s.cfg).Polygon(geo.DefaultPolygonSegments)
	}
	return view, nil
}
