package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva/ridebroker/internal/events"
	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/observability"
)

// ActiveRideLister lists rides that are not yet completed or cancelled.
type ActiveRideLister interface {
	ListActiveRides(ctx context.Context) ([]model.Ride, error)
}

// LegStore lists live legs and persists derived state changes.
type LegStore interface {
	ListActiveLegs(ctx context.Context) ([]model.Leg, error)
	ApplyTransitions(ctx context.Context, transitions []lifecycle.Transition) (int, error)
}

// SweepResult summarizes one evaluation pass.
type SweepResult struct {
	At          time.Time              `json:"at"`
	Rides       int                    `json:"rides"`
	Legs        int                    `json:"legs"`
	Applied     int                    `json:"applied"`
	Transitions []lifecycle.Transition `json:"transitions"`
}

// ─── SweepService ───────────────────────────────────────────

// SweepService re-derives the lifecycle state of every live ride and leg
// from the clock and persists only what changed.
//
// NextState is idempotent, so overlapping sweeps (several replicas, or the
// ticker racing an admin-triggered run) at worst write the same state twice;
// the repository guards each update on the state it read.
type SweepService struct {
	rides     ActiveRideLister
	legs      LegStore
	machine   lifecycle.Machine
	publisher events.Publisher
	log       *slog.Logger
}

// NewSweepService creates a sweep service.
func NewSweepService(
	rides ActiveRideLister,
	legs LegStore,
	machine lifecycle.Machine,
	publisher events.Publisher,
	log *slog.Logger,
) *SweepService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &SweepService{rides: rides, legs: legs, machine: machine, publisher: publisher, log: log}
}

// Plan computes the transitions due at now without touching storage.
//
// Legs are evaluated on their own attributes, except that a proposal never
// confirmed is cancelled once the trip it was meant for has ended. Each
// ride then follows RideState over its legs.
func (s *SweepService) Plan(now time.Time, rides []model.Ride, legs []model.Leg) []lifecycle.Transition {
	next := LegStates(s.machine, now, legs)

	var transitions []lifecycle.Transition
	byRide := make(map[int64][]lifecycle.State)
	for i := range legs {
		l := &legs[i]
		if to := next[i]; to != l.State {
			transitions = append(transitions, lifecycle.Transition{Kind: lifecycle.KindLeg, ID: l.ID, From: l.State, To: to, At: now})
		}
		if l.RideID != nil {
			byRide[*l.RideID] = append(byRide[*l.RideID], next[i])
		}
	}

	for i := range rides {
		r := &rides[i]
		if to := RideState(s.machine, now, r, byRide[r.ID]); to != r.State {
			transitions = append(transitions, lifecycle.Transition{Kind: lifecycle.KindRide, ID: r.ID, From: r.State, To: to, At: now})
		}
	}
	return transitions
}

// LegStates evaluates each leg at now, index for index.
func LegStates(m lifecycle.Machine, now time.Time, legs []model.Leg) []lifecycle.State {
	out := make([]lifecycle.State, len(legs))
	for i := range legs {
		l := &legs[i]
		out[i] = m.NextState(now, l.LifecycleAttributes())
		if out[i] == lifecycle.Booking && proposalExpired(m, now, l) {
			out[i] = lifecycle.Cancelled
		}
	}
	return out
}

// RideState is the state of ride r at now given the current states of the
// legs it carries. The ride follows the least advanced of its own clock
// state and its travelling legs; legs still waiting for a booking
// confirmation, and cancelled legs, do not hold the ride back.
func RideState(m lifecycle.Machine, now time.Time, r *model.Ride, legStates []lifecycle.State) lifecycle.State {
	own := m.NextState(now, r.LifecycleAttributes())
	live := make([]lifecycle.State, 0, len(legStates))
	for _, st := range legStates {
		if st == lifecycle.Booking || st == lifecycle.Cancelled {
			continue
		}
		live = append(live, st)
	}
	return lifecycle.Aggregate(own, live)
}

// proposalExpired reports whether an unconfirmed leg's trip is over: past
// its end plus the arriving period.
func proposalExpired(m lifecycle.Machine, now time.Time, l *model.Leg) bool {
	return l.BookingRequired && !now.Before(l.EndTime.Add(m.Periods.Arriving))
}

// RunOnce performs one sweep at now.
func (s *SweepService) RunOnce(ctx context.Context, now time.Time) (*SweepResult, error) {
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	rides, err := s.rides.ListActiveRides(ctx)
	if err != nil {
		observability.SweepErrors.Inc()
		return nil, fmt.Errorf("sweep: list rides: %w", err)
	}
	legs, err := s.legs.ListActiveLegs(ctx)
	if err != nil {
		observability.SweepErrors.Inc()
		return nil, fmt.Errorf("sweep: list legs: %w", err)
	}

	result := &SweepResult{At: now, Rides: len(rides), Legs: len(legs)}
	result.Transitions = s.Plan(now, rides, legs)
	if len(result.Transitions) == 0 {
		return result, nil
	}

	applied, err := s.legs.ApplyTransitions(ctx, result.Transitions)
	if err != nil {
		observability.SweepErrors.Inc()
		return nil, fmt.Errorf("sweep: apply %d transitions: %w", len(result.Transitions), err)
	}
	result.Applied = applied

	for _, t := range result.Transitions {
		observability.TransitionsTotal.WithLabelValues(string(t.Kind), t.To.String()).Inc()
		s.log.Debug("lifecycle transition", "kind", t.Kind, "id", t.ID, "from", t.From.String(), "to", t.To.String())
	}

	// Delivery is best effort: the state is already persisted and the next
	// change of the same subject carries the current state again.
	if err := s.publisher.Publish(ctx, result.Transitions...); err != nil {
		observability.EventPublishErrors.Inc()
		s.log.Warn("publishing transitions failed", "count", len(result.Transitions), "err", err)
	}

	s.log.Info("sweep completed",
		"rides", result.Rides, "legs", result.Legs,
		"transitions", len(result.Transitions), "applied", applied,
		"duration", time.Since(start).String())
	return result, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *SweepService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep: interval must be positive, got %s", interval)
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	s.log.Info("lifecycle sweep started", "interval", interval.String())
	for {
		if _, err := s.RunOnce(ctx, time.Now()); err != nil {
			s.log.Error("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("lifecycle sweep stopped")
			return ctx.Err()
		case <-tick.C:
		}
	}
}
