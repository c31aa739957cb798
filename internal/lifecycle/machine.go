package lifecycle

import (
	"time"
)

// Periods are the fixed windows around departure and arrival shared by
// rides and legs.
type Periods struct {
	Departing time.Duration
	Arriving  time.Duration
}

// DefaultPeriods are used when nothing is configured.
func DefaultPeriods() Periods {
	return Periods{Departing: 15 * time.Minute, Arriving: 15 * time.Minute}
}

// Attributes is the snapshot NextState reads. For a ride, only Stored,
// Start and End are normally set.
type Attributes struct {
	Stored State
	Start  time.Time
	End    time.Time

	BookingRequired  bool
	BookingID        *int64
	BookingConfirmed bool

	Payment                         PaymentState
	ConfirmationRequested           bool
	ConfirmationByProviderRequested bool
}

// bookingSettled is false for inconsistent flags (confirmed without a
// booking) so evaluation fails toward the earlier state.
func (a Attributes) bookingSettled() bool {
	return a.BookingID != nil && a.BookingConfirmed
}

func (a Attributes) validationPending() bool {
	return a.ConfirmationRequested && a.ConfirmationByProviderRequested && a.Payment == PaymentReserved
}

// Machine evaluates lifecycle states with a fixed set of periods. It holds
// no mutable state and is safe for concurrent use.
type Machine struct {
	Periods Periods
}

// NewMachine returns a machine using p.
func NewMachine(p Periods) Machine {
	return Machine{Periods: p}
}

// NextState returns the state attrs should be in at now.
//
//   - Cancelled is absorbing.
//   - A leg that needs a booking stays in Booking until it has a confirmed
//     booking id.
//   - Otherwise time decides: Scheduled, Departing (DepartingPeriod before
//     start), InTransit, Arriving (ArrivingPeriod after end), then Completed,
//     or Validating while a requested validation waits on a reserved payment.
func (m Machine) NextState(now time.Time, attrs Attributes) State {
	if attrs.Stored == Cancelled {
		return Cancelled
	}
	if attrs.BookingRequired && !attrs.bookingSettled() {
		return Booking
	}

	switch {
	case now.Before(attrs.Start.Add(-m.Periods.Departing)):
		return Scheduled
	case now.Before(attrs.Start):
		return Departing
	case now.Before(attrs.End):
		return InTransit
	case now.Before(attrs.End.Add(m.Periods.Arriving)):
		return Arriving
	case attrs.validationPending():
		return Validating
	default:
		return Completed
	}
}

// Aggregate folds constituent states (legs or bookings) into the state of
// their parent ride. The ride follows its least-advanced constituent, so it
// completes only once every live constituent has. Cancelled constituents
// are ignored; a cancelled ride stays cancelled.
func Aggregate(own State, constituents []State) State {
	if own == Cancelled {
		return Cancelled
	}
	result := own
	for _, s := range constituents {
		if s == Cancelled {
			continue
		}
		if s.Rank() < result.Rank() {
			result = s
		}
	}
	return result
}

// ─── Evaluate and diff ──────────────────────────────────────

// Kind names the record type behind a Subject.
type Kind string

const (
	KindRide Kind = "ride"
	KindLeg  Kind = "leg"
)

// Subject is one record offered to a sweep.
type Subject struct {
	Kind       Kind
	ID         int64
	Attributes Attributes
}

// Transition is a state change the sweep should persist.
type Transition struct {
	Kind Kind      `json:"kind"`
	ID   int64     `json:"id"`
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Evaluate computes the next state of every subject at now and returns only
// those whose state differs from the stored one. It never fails; writing
// the result back is the caller's job.
func (m Machine) Evaluate(now time.Time, subjects []Subject) []Transition {
	var out []Transition
	for _, s := range subjects {
		next := m.NextState(now, s.Attributes)
		if next != s.Attributes.Stored {
			out = append(out, Transition{Kind: s.Kind, ID: s.ID, From: s.Attributes.Stored, To: next, At: now})
		}
	}
	return out
}
