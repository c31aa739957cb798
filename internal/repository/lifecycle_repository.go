package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
)

// LifecycleRepository reads legs for the lifecycle sweep and writes back
// the state changes it derives.
type LifecycleRepository struct {
	pool *pgxpool.Pool
}

// NewLifecycleRepository creates a new repository.
func NewLifecycleRepository(pool *pgxpool.Pool) *LifecycleRepository {
	return &LifecycleRepository{pool: pool}
}

const legColumns = `
	id, trip_id, ride_id, mode, start_time, end_time,
	booking_required, booking_id, booking_confirmed, payment_state,
	confirmation_requested, confirmation_by_provider_requested,
	state, updated_at`

// ListActiveLegs returns every leg not yet in a terminal state.
func (r *LifecycleRepository) ListActiveLegs(ctx context.Context) ([]model.Leg, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+legColumns+`
		FROM legs
		WHERE state NOT IN ('completed', 'cancelled')
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active legs: %w", err)
	}
	return collectLegs(rows)
}

// ListLegsForRide returns every leg carried by a ride, terminal ones
// included.
func (r *LifecycleRepository) ListLegsForRide(ctx context.Context, rideID int64) ([]model.Leg, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+legColumns+`
		FROM legs
		WHERE ride_id = $1
		ORDER BY id
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("list legs of ride %d: %w", rideID, err)
	}
	return collectLegs(rows)
}

// SetPaymentState records the settlement status of a leg's fare, as
// reported by the payment subsystem.
func (r *LifecycleRepository) SetPaymentState(ctx context.Context, legID int64, p lifecycle.PaymentState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE legs SET payment_state = $2, updated_at = NOW() WHERE id = $1
	`, legID, string(p))
	if err != nil {
		return fmt.Errorf("set payment state of leg %d: %w", legID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set payment state of leg %d: %w", legID, ErrNotFound)
	}
	return nil
}

// RequestValidation flags that the traveller, or the provider when
// byProvider is set, has been asked to confirm the leg took place.
// Terminal legs are not changed.
func (r *LifecycleRepository) RequestValidation(ctx context.Context, legID int64, byProvider bool) error {
	column := "confirmation_requested"
	if byProvider {
		column = "confirmation_by_provider_requested"
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE legs SET `+column+` = TRUE, updated_at = NOW()
		WHERE id = $1 AND state NOT IN ('completed', 'cancelled')
	`, legID)
	if err != nil {
		return fmt.Errorf("request validation of leg %d: %w", legID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var state string
	err = r.pool.QueryRow(ctx, `SELECT state FROM legs WHERE id = $1`, legID).Scan(&state)
	if err != nil {
		return fmt.Errorf("request validation of leg %d: %w", legID, notFound(err))
	}
	return fmt.Errorf("request validation: leg %d is %s: %w", legID, state, ErrInvalidState)
}

// ApplyTransitions writes a sweep's state changes in one transaction.
//
// Each update is guarded on the state the sweep read (From), so a row that
// changed in between, for example a ride cancelled mid-sweep, is left alone
// and picked up again by the next sweep. A leg cancelled while still in
// Booking also cancels its proposed booking. It returns how many rides and
// legs changed.
func (r *LifecycleRepository) ApplyTransitions(ctx context.Context, transitions []lifecycle.Transition) (int, error) {
	if len(transitions) == 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("apply transitions: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	counted := make([]bool, 0, len(transitions))
	for _, t := range transitions {
		table := "legs"
		if t.Kind == lifecycle.KindRide {
			table = "rides"
		}
		batch.Queue(`UPDATE `+table+` SET state = $2, updated_at = $3 WHERE id = $1 AND state = $4`,
			t.ID, t.To.String(), t.At, t.From.String())
		counted = append(counted, true)

		if t.Kind == lifecycle.KindLeg && t.From == lifecycle.Booking && t.To == lifecycle.Cancelled {
			batch.Queue(`
				UPDATE bookings SET state = 'cancelled', updated_at = $2
				WHERE id = (SELECT booking_id FROM legs WHERE id = $1 AND state = 'cancelled')
				  AND state = 'proposed'
			`, t.ID, t.At)
			counted = append(counted, false)
		}
	}

	applied := 0
	br := tx.SendBatch(ctx, batch)
	for _, count := range counted {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("apply transitions: %w", err)
		}
		if count {
			applied += int(tag.RowsAffected())
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("apply transitions: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("apply transitions: commit: %w", err)
	}
	return applied, nil
}

// ─── Helpers ────────────────────────────────────────────────

func collectLegs(rows pgx.Rows) ([]model.Leg, error) {
	defer rows.Close()
	var legs []model.Leg
	for rows.Next() {
		var (
			l       model.Leg
			payment string
			state   string
		)
		if err := rows.Scan(
			&l.ID, &l.TripID, &l.RideID, &l.Mode, &l.StartTime, &l.EndTime,
			&l.BookingRequired, &l.BookingID, &l.BookingConfirmed, &payment,
			&l.ConfirmationRequested, &l.ConfirmationByProviderRequested,
			&state, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		l.Payment = lifecycle.PaymentState(payment)
		var err error
		if l.State, err = lifecycle.ParseState(state); err != nil {
			return nil, fmt.Errorf("leg %d: %w", l.ID, err)
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}
