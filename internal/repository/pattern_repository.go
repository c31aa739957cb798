package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/recurrence"
)

// PatternRepository handles ride patterns and their materialized rides.
type PatternRepository struct {
	pool *pgxpool.Pool
}

// NewPatternRepository creates a new repository.
func NewPatternRepository(pool *pgxpool.Pool) *PatternRepository {
	return &PatternRepository{pool: pool}
}

const patternColumns = `
	id, driver_id, vehicle_id,
	origin_lat, origin_lon, origin_label,
	destination_lat, destination_lon, destination_label,
	departure_time, arrival_time, time_zone,
	seat_capacity, max_detour_meters, max_detour_seconds,
	recurrence_interval, recurrence_weekdays, recurrence_end_date,
	disabled, materialized_through, created_at, updated_at`

// CreatePattern inserts p and fills in its ID and timestamps.
func (r *PatternRepository) CreatePattern(ctx context.Context, p *model.RidePattern) error {
	tz := p.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ride_patterns (
			driver_id, vehicle_id,
			origin_lat, origin_lon, origin_label,
			destination_lat, destination_lon, destination_label,
			departure_time, arrival_time, time_zone,
			seat_capacity, max_detour_meters, max_detour_seconds,
			recurrence_interval, recurrence_weekdays, recurrence_end_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`,
		p.DriverID, p.VehicleID,
		p.Origin.Lat, p.Origin.Lon, p.Origin.Label,
		p.Destination.Lat, p.Destination.Lon, p.Destination.Label,
		int(p.DepartureTime), int(p.ArrivalTime), tz,
		p.SeatCapacity, p.MaxDetourMeters, p.MaxDetourSeconds,
		p.Recurrence.Interval, int16(p.Recurrence.Weekdays), dateParam(p.Recurrence.EndDate),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	p.TimeZone = tz
	return nil
}

// GetPattern fetches a pattern by ID.
func (r *PatternRepository) GetPattern(ctx context.Context, id int64) (*model.RidePattern, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM ride_patterns WHERE id = $1`, id)
	p, err := scanPattern(row)
	if err != nil {
		return nil, fmt.Errorf("get pattern %d: %w", id, notFound(err))
	}
	return p, nil
}

// SetDisabled enables or disables a pattern. Disabled patterns keep their
// rides but are never extended.
func (r *PatternRepository) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ride_patterns SET disabled = $2, updated_at = NOW() WHERE id = $1
	`, id, disabled)
	if err != nil {
		return fmt.Errorf("disable pattern %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("disable pattern %d: %w", id, ErrNotFound)
	}
	return nil
}

// MaterializeRides inserts rides for a pattern and advances its
// materialized_through date, atomically.
//
// Concurrency: the pattern row is locked first so two extensions of the same
// pattern serialize. Each insert is keyed on (pattern_id, ride_date) with
// ON CONFLICT DO NOTHING, so a date that already has a ride is skipped and
// re-running the same extension creates nothing.
func (r *PatternRepository) MaterializeRides(
	ctx context.Context,
	patternID int64,
	rides []model.Ride,
	through time.Time,
) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("materialize: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: LOCK the pattern row ────────────────────
	var disabled bool
	err = tx.QueryRow(ctx, `SELECT disabled FROM ride_patterns WHERE id = $1 FOR UPDATE`, patternID).Scan(&disabled)
	if err != nil {
		return 0, fmt.Errorf("materialize: lock pattern %d: %w", patternID, notFound(err))
	}
	if disabled {
		return 0, fmt.Errorf("materialize: pattern %d: %w", patternID, ErrInvalidState)
	}

	// ── Step 2: INSERT rides in one batch ───────────────
	created := 0
	if len(rides) > 0 {
		batch := &pgx.Batch{}
		for i := range rides {
			rd := &rides[i]
			batch.Queue(`
				INSERT INTO rides (
					pattern_id, ride_date, driver_id,
					origin_lat, origin_lon, origin_label,
					destination_lat, destination_lon, destination_label,
					departure, arrival, seats_available,
					max_detour_meters, max_detour_seconds, state
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				ON CONFLICT (pattern_id, ride_date) DO NOTHING
			`,
				patternID, dateParam(rd.RideDate), rd.DriverID,
				rd.Origin.Lat, rd.Origin.Lon, rd.Origin.Label,
				rd.Destination.Lat, rd.Destination.Lon, rd.Destination.Label,
				rd.Departure, rd.Arrival, rd.SeatsAvailable,
				rd.MaxDetourMeters, rd.MaxDetourSeconds, rd.State.String(),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range rides {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return 0, fmt.Errorf("materialize: insert ride: %w", err)
			}
			created += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("materialize: close batch: %w", err)
		}
	}

	// ── Step 3: ADVANCE materialized_through ────────────
	_, err = tx.Exec(ctx, `
		UPDATE ride_patterns
		SET materialized_through = GREATEST(COALESCE(materialized_through, $2::date), $2::date),
		    updated_at = NOW()
		WHERE id = $1
	`, patternID, through.Format(time.DateOnly))
	if err != nil {
		return 0, fmt.Errorf("materialize: advance pattern %d: %w", patternID, err)
	}

	// ── Step 4: COMMIT ──────────────────────────────────
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("materialize: commit: %w", err)
	}
	return created, nil
}

func scanPattern(row rowScanner) (*model.RidePattern, error) {
	p := &model.RidePattern{}
	var (
		departure, arrival int
		weekdays           int16
	)
	err := row.Scan(
		&p.ID, &p.DriverID, &p.VehicleID,
		&p.Origin.Lat, &p.Origin.Lon, &p.Origin.Label,
		&p.Destination.Lat, &p.Destination.Lon, &p.Destination.Label,
		&departure, &arrival, &p.TimeZone,
		&p.SeatCapacity, &p.MaxDetourMeters, &p.MaxDetourSeconds,
		&p.Recurrence.Interval, &weekdays, &p.Recurrence.EndDate,
		&p.Disabled, &p.MaterializedThrough, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.DepartureTime = model.TimeOfDay(departure)
	p.ArrivalTime = model.TimeOfDay(arrival)
	p.Recurrence.Weekdays = recurrence.WeekdayMask(weekdays)

	loc, err := p.Location()
	if err != nil {
		loc = time.UTC
	}
	if p.Recurrence.EndDate != nil {
		d := dateIn(*p.Recurrence.EndDate, loc)
		p.Recurrence.EndDate = &d
	}
	if p.MaterializedThrough != nil {
		d := dateIn(*p.MaterializedThrough, loc)
		p.MaterializedThrough = &d
	}
	return p, nil
}
