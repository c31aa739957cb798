// Package lifecycle derives the current phase of a ride or leg from the
// wall clock and a handful of persisted flags.
//
// NextState is pure and idempotent: a periodic sweep calls it as often as it
// likes and persists only the difference. No transition history is kept.
package lifecycle

import (
	"fmt"
	"strings"
)

// ─── State ──────────────────────────────────────────────────

// State is the lifecycle phase of a ride or leg. The progress states are
// ordered by Rank; Cancelled sits outside that order and is absorbing.
type State int

const (
	Booking State = iota
	Scheduled
	Departing
	InTransit
	Arriving
	Validating
	Completed
	Cancelled
)

var stateNames = map[State]string{
	Booking:    "booking",
	Scheduled:  "scheduled",
	Departing:  "departing",
	InTransit:  "in_transit",
	Arriving:   "arriving",
	Validating: "validating",
	Completed:  "completed",
	Cancelled:  "cancelled",
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("lifecycle: unknown state %q", s)
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Rank is the position of s in the progress order. Cancelled returns -1.
func (s State) Rank() int {
	switch s {
	case Booking, Scheduled, Departing, InTransit, Arriving, Validating, Completed:
		return int(s)
	case Cancelled:
		return -1
	default:
		panic(fmt.Sprintf("lifecycle: rank of unknown state %d", int(s)))
	}
}

// IsTerminal reports whether no further progress is possible.
func (s State) IsTerminal() bool {
	return s == Completed || s == Cancelled
}

// IsBookable reports whether a ride in s still takes new bookings.
func (s State) IsBookable() bool {
	return s == Booking || s == Scheduled
}

// MarshalText encodes the state by name for JSON and text columns.
func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("lifecycle: cannot marshal state %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ─── Payment ────────────────────────────────────────────────

// PaymentState is the settlement status of a leg's fare.
type PaymentState string

const (
	PaymentReserved  PaymentState = "reserved"
	PaymentPaid      PaymentState = "paid"
	PaymentCancelled PaymentState = "cancelled"
)

// Valid reports whether p is one of the known payment states. The empty
// value is valid and means no payment is attached.
func (p PaymentState) Valid() bool {
	switch p {
	case "", PaymentReserved, PaymentPaid, PaymentCancelled:
		return true
	}
	return false
}
