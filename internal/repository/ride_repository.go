package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/pkg/timewindow"
)

// RideRepository provides database access for ride search and lookup.
type RideRepository struct {
	pool *pgxpool.Pool
}

// NewRideRepository creates a new repository backed by the given PG pool.
func NewRideRepository(pool *pgxpool.Pool) *RideRepository {
	return &RideRepository{pool: pool}
}

const rideColumns = `
	r.id, r.pattern_id, r.ride_date, r.driver_id,
	r.origin_lat, r.origin_lon, r.origin_label,
	r.destination_lat, r.destination_lon, r.destination_label,
	r.departure, r.arrival, r.seats_available,
	r.max_detour_meters, r.max_detour_seconds,
	r.state, r.deleted, r.created_at, r.updated_at`

const bookingColumns = `
	b.id, b.ride_id, b.passenger_id,
	b.pickup_lat, b.pickup_lon, b.pickup_label,
	b.dropoff_lat, b.dropoff_lon, b.dropoff_label,
	b.earliest, b.latest, b.seats, b.fare_cents, b.state,
	b.created_at, b.updated_at`

// GetRide fetches a ride with all of its bookings.
func (r *RideRepository) GetRide(ctx context.Context, id int64) (*model.Ride, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides r WHERE r.id = $1`, id)
	ride, err := scanRide(row)
	if err != nil {
		return nil, fmt.Errorf("get ride %d: %w", id, notFound(err))
	}
	rides := []model.Ride{*ride}
	if err := attachBookings(ctx, r.pool, rides); err != nil {
		return nil, err
	}
	return &rides[0], nil
}

// CreateRide inserts a standalone ride, one not materialized from a
// pattern, and fills in its id and timestamps.
func (r *RideRepository) CreateRide(ctx context.Context, ride *model.Ride) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rides (
			driver_id,
			origin_lat, origin_lon, origin_label,
			destination_lat, destination_lon, destination_label,
			departure, arrival, seats_available,
			max_detour_meters, max_detour_seconds, state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		ride.DriverID,
		ride.Origin.Lat, ride.Origin.Lon, ride.Origin.Label,
		ride.Destination.Lat, ride.Destination.Lon, ride.Destination.Label,
		ride.Departure, ride.Arrival, ride.SeatsAvailable,
		ride.MaxDetourMeters, ride.MaxDetourSeconds, ride.State.String(),
	).Scan(&ride.ID, &ride.CreatedAt, &ride.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create ride: %w", err)
	}
	return nil
}

// FindRidesInWindow returns the live rides whose [departure, arrival]
// overlaps w, bookings attached.
//
// This is the candidate FETCH for search. It only narrows by time and
// liveness using idx_rides_window; direction, geometry and capacity are
// evaluated in the application.
func (r *RideRepository) FindRidesInWindow(ctx context.Context, w timewindow.Window) ([]model.Ride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides r
		WHERE NOT r.deleted
		  AND r.state NOT IN ('completed', 'cancelled')
		  AND r.departure <= $2
		  AND r.arrival >= $1
		ORDER BY r.departure ASC
	`, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("find rides in window: %w", err)
	}
	rides, err := collectRides(rows)
	if err != nil {
		return nil, err
	}
	if err := attachBookings(ctx, r.pool, rides); err != nil {
		return nil, err
	}
	return rides, nil
}

// ListActiveRides returns every ride not yet in a terminal state.
func (r *RideRepository) ListActiveRides(ctx context.Context) ([]model.Ride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides r
		WHERE r.state NOT IN ('completed', 'cancelled')
		ORDER BY r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active rides: %w", err)
	}
	return collectRides(rows)
}

// ─── Helpers ────────────────────────────────────────────────

func collectRides(rows pgx.Rows) ([]model.Ride, error) {
	defer rows.Close()
	var rides []model.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		rides = append(rides, *ride)
	}
	return rides, rows.Err()
}

func scanRide(row rowScanner) (*model.Ride, error) {
	ride := &model.Ride{}
	var state string
	err := row.Scan(
		&ride.ID, &ride.PatternID, &ride.RideDate, &ride.DriverID,
		&ride.Origin.Lat, &ride.Origin.Lon, &ride.Origin.Label,
		&ride.Destination.Lat, &ride.Destination.Lon, &ride.Destination.Label,
		&ride.Departure, &ride.Arrival, &ride.SeatsAvailable,
		&ride.MaxDetourMeters, &ride.MaxDetourSeconds,
		&state, &ride.Deleted, &ride.CreatedAt, &ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ride.State, err = lifecycle.ParseState(state); err != nil {
		return nil, fmt.Errorf("ride %d: %w", ride.ID, err)
	}
	return ride, nil
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	b := &model.Booking{}
	var state string
	err := row.Scan(
		&b.ID, &b.RideID, &b.PassengerID,
		&b.Pickup.Lat, &b.Pickup.Lon, &b.Pickup.Label,
		&b.Dropoff.Lat, &b.Dropoff.Lon, &b.Dropoff.Label,
		&b.Earliest, &b.Latest, &b.Seats, &b.FareCents, &state,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.State = model.BookingState(state)
	return b, nil
}

// attachBookings loads the bookings of all rides in one query.
func attachBookings(ctx context.Context, pool *pgxpool.Pool, rides []model.Ride) error {
	if len(rides) == 0 {
		return nil
	}
	ids := make([]int64, len(rides))
	index := make(map[int64]int, len(rides))
	for i := range rides {
		ids[i] = rides[i].ID
		index[rides[i].ID] = i
	}

	rows, err := pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.ride_id = ANY($1)
		ORDER BY b.created_at ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return fmt.Errorf("scan booking: %w", err)
		}
		i := index[b.RideID]
		rides[i].Bookings = append(rides[i].Bookings, *b)
	}
	return rows.Err()
}
