package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
)

// BookingRepository handles transactional booking with row-level locking.
type BookingRepository struct {
	pool *pgxpool.Pool
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

// BookingResult contains the outcome of a successful booking transaction.
type BookingResult struct {
	Booking        model.Booking `json:"booking"`
	LegID          int64         `json:"leg_id"`
	RemainingSeats int           `json:"remaining_seats"`
}

// ─── The Core Transactional Booking ─────────────────────────

// BookSeats inserts a proposed booking on a ride, and the passenger leg it
// covers, in a single serialized transaction.
//
// Concurrency strategy: PESSIMISTIC LOCKING
//
//	T1: BEGIN → SELECT ride FOR UPDATE → (ride row LOCKED)
//	T2: BEGIN → SELECT ride FOR UPDATE → (BLOCKS)
//	T1: seats OK → INSERT booking, leg → COMMIT → (lock released)
//	T2: (unblocked) → recounts bookings → seats gone → ROLLBACK (ErrRideFull)
//
// Remaining seats are recomputed inside the lock as capacity minus the seats
// of every non-cancelled booking, so the count can never go stale.
//
// tripID groups the leg with the passenger's other legs; zero starts a new
// trip numbered after the booking.
func (r *BookingRepository) BookSeats(ctx context.Context, rideID int64, b *model.Booking, tripID int64) (*BookingResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("booking: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: LOCK the ride row ───────────────────────
	var (
		ride  model.Ride
		state string
	)
	err = tx.QueryRow(ctx, `
		SELECT seats_available, state, deleted, departure, arrival
		FROM rides
		WHERE id = $1
		FOR UPDATE
	`, rideID).Scan(&ride.SeatsAvailable, &state, &ride.Deleted, &ride.Departure, &ride.Arrival)
	if err != nil {
		return nil, fmt.Errorf("booking: lock ride %d: %w", rideID, notFound(err))
	}
	if ride.State, err = lifecycle.ParseState(state); err != nil {
		return nil, fmt.Errorf("booking: ride %d: %w", rideID, err)
	}

	// ── Step 2: Validate business rules ─────────────────
	if ride.Deleted || !ride.State.IsBookable() {
		return nil, fmt.Errorf("booking: ride %d is %s: %w", rideID, ride.State, ErrRideNotBookable)
	}

	var booked int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(seats), 0)::int
		FROM bookings
		WHERE ride_id = $1 AND state <> 'cancelled'
	`, rideID).Scan(&booked)
	if err != nil {
		return nil, fmt.Errorf("booking: query ride %d load: %w", rideID, err)
	}

	remaining := ride.SeatsAvailable - booked
	if b.Seats > remaining {
		return nil, fmt.Errorf("booking: ride %d has %d seats remaining, need %d: %w",
			rideID, remaining, b.Seats, ErrRideFull)
	}

	// ── Step 3: INSERT booking and leg ──────────────────
	b.RideID = rideID
	b.State = model.BookingProposed
	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (
			ride_id, passenger_id,
			pickup_lat, pickup_lon, pickup_label,
			dropoff_lat, dropoff_lon, dropoff_label,
			earliest, latest, seats, fare_cents, state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		rideID, b.PassengerID,
		b.Pickup.Lat, b.Pickup.Lon, b.Pickup.Label,
		b.Dropoff.Lat, b.Dropoff.Lon, b.Dropoff.Label,
		b.Earliest, b.Latest, b.Seats, b.FareCents, string(b.State),
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("booking: insert booking on ride %d: %w", rideID, err)
	}

	var legID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO legs (trip_id, ride_id, start_time, end_time, booking_required, booking_id, state)
		VALUES (COALESCE(NULLIF($1::bigint, 0), $5), $2, $3, $4, TRUE, $5, $6)
		RETURNING id
	`, tripID, rideID, ride.Departure, ride.Arrival, b.ID, lifecycle.Booking.String()).Scan(&legID)
	if err != nil {
		return nil, fmt.Errorf("booking: insert leg for booking %d: %w", b.ID, err)
	}

	// ── Step 4: COMMIT ──────────────────────────────────
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("booking: commit: %w", err)
	}

	return &BookingResult{Booking: *b, LegID: legID, RemainingSeats: remaining - b.Seats}, nil
}

// GetBooking fetches a booking by ID.
func (r *BookingRepository) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, notFound(err))
	}
	return b, nil
}

// ConfirmBooking moves a proposed booking to confirmed and marks the legs it
// covers as booking_confirmed, which releases them from the Booking state on
// the next sweep.
func (r *BookingRepository) ConfirmBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return r.transitionBooking(ctx, id, model.BookingConfirmed, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE legs SET booking_confirmed = TRUE, updated_at = NOW()
			WHERE booking_id = $1
		`, id)
		return err
	}, model.BookingProposed)
}

// CancelBooking cancels a proposed or confirmed booking and its legs. The
// seats return to the ride immediately since capacity is always computed
// net of cancelled bookings.
func (r *BookingRepository) CancelBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return r.transitionBooking(ctx, id, model.BookingCancelled, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE legs SET state = 'cancelled', updated_at = NOW()
			WHERE booking_id = $1
		`, id)
		return err
	}, model.BookingProposed, model.BookingConfirmed)
}

// transitionBooking locks a booking, checks it is in one of from, sets it to
// to and runs the follow-up on the same transaction.
func (r *BookingRepository) transitionBooking(
	ctx context.Context,
	id int64,
	to model.BookingState,
	followUp func(pgx.Tx) error,
	from ...model.BookingState,
) (*model.Booking, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultBookingTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("booking %d: begin tx: %w", id, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(txCtx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1 FOR UPDATE`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("booking %d: lock: %w", id, notFound(err))
	}

	allowed := false
	for _, s := range from {
		if b.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("booking %d is %s, cannot become %s: %w", id, b.State, to, ErrInvalidState)
	}

	err = tx.QueryRow(txCtx, `
		UPDATE bookings SET state = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, id, string(to)).Scan(&b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("booking %d: update: %w", id, err)
	}
	if err := followUp(tx); err != nil {
		return nil, fmt.Errorf("booking %d: update legs: %w", id, err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("booking %d: commit: %w", id, err)
	}
	b.State = to
	return b, nil
}

// ─── Cancel Ride ─────────────────────────────────────────────

// CancelResult contains the outcome of a ride cancellation.
type CancelResult struct {
	RideID            int64           `json:"ride_id"`
	PreviousState     lifecycle.State `json:"previous_state"`
	BookingsCancelled int             `json:"bookings_cancelled"`
	LegsCancelled     int             `json:"legs_cancelled"`
}

// CancelRide soft-deletes a ride and cascades the cancellation to all of its
// bookings and legs. Rows are never removed: bookings keep pointing at the
// ride for accounting.
//
// Concurrency: the ride row is locked first, so a cancellation and a
// concurrent BookSeats serialize; the booking either lands before and is
// cancelled here, or finds the ride deleted.
func (r *BookingRepository) CancelRide(ctx context.Context, rideID int64) (*CancelResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultBookingTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("cancel: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: LOCK the ride ───────────────────────────
	var (
		state   string
		deleted bool
	)
	err = tx.QueryRow(txCtx, `SELECT state, deleted FROM rides WHERE id = $1 FOR UPDATE`, rideID).Scan(&state, &deleted)
	if err != nil {
		return nil, fmt.Errorf("cancel: lock ride %d: %w", rideID, notFound(err))
	}
	prev, err := lifecycle.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("cancel: ride %d: %w", rideID, err)
	}

	// ── Step 2: Validate ────────────────────────────────
	if deleted || prev.IsTerminal() {
		return nil, fmt.Errorf("cancel: ride %d is %s: %w", rideID, prev, ErrInvalidState)
	}

	// ── Step 3: Cascade ─────────────────────────────────
	if _, err := tx.Exec(txCtx, `
		UPDATE rides SET deleted = TRUE, state = 'cancelled', updated_at = NOW()
		WHERE id = $1
	`, rideID); err != nil {
		return nil, fmt.Errorf("cancel: update ride %d: %w", rideID, err)
	}

	result := &CancelResult{RideID: rideID, PreviousState: prev}

	tag, err := tx.Exec(txCtx, `
		UPDATE bookings SET state = 'cancelled', updated_at = NOW()
		WHERE ride_id = $1 AND state <> 'cancelled'
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("cancel: bookings of ride %d: %w", rideID, err)
	}
	result.BookingsCancelled = int(tag.RowsAffected())

	tag, err = tx.Exec(txCtx, `
		UPDATE legs SET state = 'cancelled', updated_at = NOW()
		WHERE ride_id = $1 AND state <> 'cancelled'
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("cancel: legs of ride %d: %w", rideID, err)
	}
	result.LegsCancelled = int(tag.RowsAffected())

	// ── Step 4: COMMIT ──────────────────────────────────
	if err := tx.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("cancel: commit: %w", err)
	}
	return result, nil
}
