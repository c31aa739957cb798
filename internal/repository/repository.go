// Package repository provides PostgreSQL access for the ride broker.
//
// Each repository wraps a pgxpool.Pool. Multi-row changes run inside a
// single READ COMMITTED transaction; rows that gate a decision (a ride's
// capacity, a booking's state) are locked with SELECT ... FOR UPDATE first.
package repository

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrNotFound        = errors.New("record not found")
	ErrRideFull        = errors.New("ride has too few seats remaining")
	ErrRideNotBookable = errors.New("ride is not open for booking")
	ErrInvalidState    = errors.New("record state does not allow this change")
)

// DefaultBookingTimeout bounds every locking transaction, including the
// time spent waiting for a row lock held by a concurrent request.
const DefaultBookingTimeout = 5 * time.Second

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// notFound maps pgx.ErrNoRows onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// dateIn re-roots a DATE value, which pgx returns at UTC midnight, onto the
// same calendar day in loc.
func dateIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func dateParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}
