// Package model contains domain models for the ride broker.
// These structs map to the PostgreSQL schema defined in migrations/001_create_schema.up.sql.
package model

import (
	"fmt"
	"time"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/recurrence"
	"github.com/shiva/ridebroker/pkg/geo"
	"github.com/shiva/ridebroker/pkg/timewindow"
)

// ─── Enums ──────────────────────────────────────────────────

type BookingState string

const (
	BookingProposed  BookingState = "proposed"
	BookingConfirmed BookingState = "confirmed"
	BookingCancelled BookingState = "cancelled"
)

// ─── Time of day ────────────────────────────────────────────

// TimeOfDay is a wall-clock time as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) String() string {
	s := int(t)
	if s%60 != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/3600, s/60%60)
}

// On returns the instant of t on the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	s := int(t)
	return time.Date(day.Year(), day.Month(), day.Day(), s/3600, s/60%60, s%60, 0, day.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ─── Domain Models ──────────────────────────────────────────

// RidePattern maps to the `ride_patterns` table. It is the driver's
// recurring offer from which Ride instances are materialized. Patterns are
// disabled, never deleted, while instances exist.
type RidePattern struct {
	ID                  int64              `json:"id"`
	DriverID            int64              `json:"driver_id"`
	VehicleID           *int64             `json:"vehicle_id,omitempty"`
	Origin              geo.GeoPoint       `json:"origin"`
	Destination         geo.GeoPoint       `json:"destination"`
	DepartureTime       TimeOfDay          `json:"departure_time"`
	ArrivalTime         TimeOfDay          `json:"arrival_time"`
	TimeZone            string             `json:"time_zone"`
	SeatCapacity        int                `json:"seat_capacity"`
	MaxDetourMeters     int                `json:"max_detour_meters"`
	MaxDetourSeconds    int                `json:"max_detour_seconds"`
	Recurrence          recurrence.Pattern `json:"recurrence"`
	Disabled            bool               `json:"disabled"`
	MaterializedThrough *time.Time         `json:"materialized_through,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Location resolves the pattern's time zone, defaulting to UTC.
func (p *RidePattern) Location() (*time.Location, error) {
	if p.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.TimeZone)
}

// Ride maps to the `rides` table. Capacity, route and detour fields are
// copied from the pattern when the ride is materialized. Rides with
// bookings are soft-deleted only.
type Ride struct {
	ID               int64           `json:"id"`
	PatternID        *int64          `json:"pattern_id,omitempty"`
	RideDate         *time.Time      `json:"ride_date,omitempty"`
	DriverID         int64           `json:"driver_id"`
	Origin           geo.GeoPoint    `json:"origin"`
	Destination      geo.GeoPoint    `json:"destination"`
	Departure        time.Time       `json:"departure"`
	Arrival          time.Time       `json:"arrival"`
	SeatsAvailable   int             `json:"seats_available"`
	MaxDetourMeters  int             `json:"max_detour_meters"`
	MaxDetourSeconds int             `json:"max_detour_seconds"`
	State            lifecycle.State `json:"state"`
	Deleted          bool            `json:"deleted"`
	Bookings         []Booking       `json:"bookings,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Window is the ride's scheduled [departure, arrival] interval.
func (r *Ride) Window() timewindow.Window {
	return timewindow.Window{Start: r.Departure, End: r.Arrival}
}

// LifecycleAttributes is the snapshot the lifecycle machine reads for a ride.
func (r *Ride) LifecycleAttributes() lifecycle.Attributes {
	stored := r.State
	if r.Deleted {
		stored = lifecycle.Cancelled
	}
	return lifecycle.Attributes{Stored: stored, Start: r.Departure, End: r.Arrival}
}

// BookedSeats sums the seats of all non-cancelled bookings.
func (r *Ride) BookedSeats() int {
	n := 0
	for _, b := range r.Bookings {
		if b.State != BookingCancelled {
			n += b.Seats
		}
	}
	return n
}

// SeatsRemaining is capacity net of non-cancelled bookings.
func (r *Ride) SeatsRemaining() int {
	return r.SeatsAvailable - r.BookedSeats()
}

// ConfirmedBookings counts bookings in the confirmed state.
func (r *Ride) ConfirmedBookings() int {
	n := 0
	for _, b := range r.Bookings {
		if b.State == BookingConfirmed {
			n++
		}
	}
	return n
}

// Booking maps to the `bookings` table.
type Booking struct {
	ID          int64        `json:"id"`
	RideID      int64        `json:"ride_id"`
	PassengerID int64        `json:"passenger_id"`
	Pickup      geo.GeoPoint `json:"pickup"`
	Dropoff     geo.GeoPoint `json:"dropoff"`
	Earliest    time.Time    `json:"earliest"`
	Latest      time.Time    `json:"latest"`
	Seats       int          `json:"seats"`
	FareCents   int64        `json:"fare_cents"`
	State       BookingState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Leg maps to the `legs` table: one time-bounded segment of a passenger's
// trip, optionally carried by a ride. Its lifecycle is independent of the
// parent ride's.
type Leg struct {
	ID                              int64                  `json:"id"`
	TripID                          int64                  `json:"trip_id"`
	RideID                          *int64                 `json:"ride_id,omitempty"`
	Mode                            string                 `json:"mode"`
	StartTime                       time.Time              `json:"start_time"`
	EndTime                         time.Time              `json:"end_time"`
	BookingRequired                 bool                   `json:"booking_required"`
	BookingID                       *int64                 `json:"booking_id,omitempty"`
	BookingConfirmed                bool                   `json:"booking_confirmed"`
	Payment                         lifecycle.PaymentState `json:"payment_state,omitempty"`
	ConfirmationRequested           bool                   `json:"confirmation_requested"`
	ConfirmationByProviderRequested bool                   `json:"confirmation_by_provider_requested"`
	State                           lifecycle.State        `json:"state"`
	UpdatedAt                       time.Time              `json:"updated_at"`
}

// LifecycleAttributes is the snapshot the lifecycle machine reads for a leg.
func (l *Leg) LifecycleAttributes() lifecycle.Attributes {
	return lifecycle.Attributes{
		Stored:                          l.State,
		Start:                           l.StartTime,
		End:                             l.EndTime,
		BookingRequired:                 l.BookingRequired,
		BookingID:                       l.BookingID,
		BookingConfirmed:                l.BookingConfirmed,
		Payment:                         l.Payment,
		ConfirmationRequested:           l.ConfirmationRequested,
		ConfirmationByProviderRequested: l.ConfirmationByProviderRequested,
	}
}
