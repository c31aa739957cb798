package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/observability"
	"github.com/shiva/ridebroker/internal/recurrence"
	"github.com/shiva/ridebroker/internal/repository"
)

// ─── Materialization Errors ─────────────────────────────────

var (
	ErrPatternNotFound = errors.New("ride pattern not found")
	ErrPatternDisabled = errors.New("ride pattern is disabled")
	ErrInvalidHorizon  = errors.New("horizon must be at least one week")
	ErrInvalidPattern  = errors.New("invalid ride pattern")
)

// PatternStore persists ride patterns and the rides generated from them.
type PatternStore interface {
	CreatePattern(ctx context.Context, p *model.RidePattern) error
	GetPattern(ctx context.Context, id int64) (*model.RidePattern, error)
	SetDisabled(ctx context.Context, id int64, disabled bool) error
	// MaterializeRides inserts rides keyed on (pattern, date), skipping dates
	// that already exist, and advances the pattern's materialized_through
	// to through. It returns the number of rides actually created.
	MaterializeRides(ctx context.Context, patternID int64, rides []model.Ride, through time.Time) (int, error)
}

// MaterializeResult reports one horizon extension.
type MaterializeResult struct {
	PatternID int64     `json:"pattern_id"`
	From      time.Time `json:"from"`
	Through   time.Time `json:"through"`
	Dates     int       `json:"dates"`
	Created   int       `json:"created"`
}

// ─── BuildRides ─────────────────────────────────────────────

// BuildRides turns occurrence dates into ride instances. Route, capacity and
// detour limits are copied from the pattern; the departure and arrival times
// of day are placed on each date, rolling the arrival to the next day when
// it falls before the departure.
func BuildRides(p *model.RidePattern, dates []time.Time) []model.Ride {
	rides := make([]model.Ride, 0, len(dates))
	for _, d := range dates {
		date := d
		departure := p.DepartureTime.On(date)
		arrival := p.ArrivalTime.On(date)
		if arrival.Before(departure) {
			arrival = p.ArrivalTime.On(date.AddDate(0, 0, 1))
		}
		patternID := p.ID
		rides = append(rides, model.Ride{
			PatternID:        &patternID,
			RideDate:         &date,
			DriverID:         p.DriverID,
			Origin:           p.Origin,
			Destination:      p.Destination,
			Departure:        departure,
			Arrival:          arrival,
			SeatsAvailable:   p.SeatCapacity,
			MaxDetourMeters:  p.MaxDetourMeters,
			MaxDetourSeconds: p.MaxDetourSeconds,
			State:            lifecycle.Scheduled,
		})
	}
	return rides
}

// ─── MaterializeService ─────────────────────────────────────

// MaterializeService creates ride patterns and generates their bookable
// ride instances up to a rolling horizon.
//
// Generation is at-most-once per (pattern, date): the store's insert is
// keyed on both, so concurrent or repeated extensions never create a second
// ride for the same day.
type MaterializeService struct {
	store        PatternStore
	defaultWeeks int
	log          *slog.Logger
}

// NewMaterializeService creates a materialization service. defaultWeeks is
// the horizon generated when a pattern is created.
func NewMaterializeService(store PatternStore, defaultWeeks int, log *slog.Logger) *MaterializeService {
	return &MaterializeService{store: store, defaultWeeks: defaultWeeks, log: log}
}

// DefaultWeeks is the horizon used when a caller does not choose one.
func (s *MaterializeService) DefaultWeeks() int {
	return s.defaultWeeks
}

// CreatePattern validates and stores p, then materializes the default
// horizon from now.
func (s *MaterializeService) CreatePattern(ctx context.Context, p *model.RidePattern, now time.Time) (*MaterializeResult, error) {
	if err := validatePattern(p); err != nil {
		return nil, err
	}
	if err := s.store.CreatePattern(ctx, p); err != nil {
		return nil, fmt.Errorf("create pattern: %w", err)
	}
	s.log.Info("ride pattern created", "pattern_id", p.ID, "driver_id", p.DriverID, "recurrence", p.Recurrence.String())

	if s.defaultWeeks < 1 {
		return &MaterializeResult{PatternID: p.ID}, nil
	}
	return s.ExtendHorizon(ctx, p.ID, s.defaultWeeks, now)
}

// GetPattern returns a stored pattern.
func (s *MaterializeService) GetPattern(ctx context.Context, id int64) (*model.RidePattern, error) {
	p, err := s.store.GetPattern(ctx, id)
	if err != nil {
		return nil, classifyPatternError(err)
	}
	return p, nil
}

// SetDisabled stops or resumes horizon extension for a pattern. Rides
// already generated are untouched.
func (s *MaterializeService) SetDisabled(ctx context.Context, id int64, disabled bool) (*model.RidePattern, error) {
	if err := s.store.SetDisabled(ctx, id, disabled); err != nil {
		return nil, classifyPatternError(err)
	}
	s.log.Info("ride pattern updated", "pattern_id", id, "disabled", disabled)
	return s.GetPattern(ctx, id)
}

// ExtendHorizon generates the pattern's rides from max(today, day after the
// last materialized date) up to today + weeks (exclusive), in the pattern's
// time zone.
func (s *MaterializeService) ExtendHorizon(ctx context.Context, patternID int64, weeks int, now time.Time) (*MaterializeResult, error) {
	if weeks < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, weeks)
	}

	p, err := s.store.GetPattern(ctx, patternID)
	if err != nil {
		return nil, classifyPatternError(err)
	}
	if p.Disabled {
		return nil, ErrPatternDisabled
	}
	loc, err := p.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", ErrInvalidPattern, p.TimeZone, err)
	}

	today := calendarDate(now, loc)
	start := today
	if p.MaterializedThrough != nil {
		if next := calendarDate(*p.MaterializedThrough, loc).AddDate(0, 0, 1); next.After(start) {
			start = next
		}
	}
	horizon := today.AddDate(0, 0, 7*weeks)
	result := &MaterializeResult{PatternID: p.ID, From: start, Through: horizon.AddDate(0, 0, -1)}

	if !start.Before(horizon) {
		return result, nil
	}

	anchor := p.CreatedAt.In(loc)
	dates, err := recurrence.Occurrences(p.Recurrence, anchor, start, horizon)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	result.Dates = len(dates)

	created, err := s.store.MaterializeRides(ctx, p.ID, BuildRides(p, dates), result.Through)
	if err != nil {
		return nil, fmt.Errorf("materialize pattern %d: %w", p.ID, err)
	}
	result.Created = created
	observability.RidesMaterialized.Add(float64(created))

	s.log.Info("pattern horizon extended",
		"pattern_id", p.ID, "from", start.Format(time.DateOnly), "through", result.Through.Format(time.DateOnly),
		"dates", len(dates), "created", created)
	return result, nil
}

// ─── Private helpers ────────────────────────────────────────

func validatePattern(p *model.RidePattern) error {
	if err := p.Origin.Normalize(); err != nil {
		return fmt.Errorf("%w: origin: %v", ErrInvalidPattern, err)
	}
	if err := p.Destination.Normalize(); err != nil {
		return fmt.Errorf("%w: destination: %v", ErrInvalidPattern, err)
	}
	if p.SeatCapacity < 1 {
		return fmt.Errorf("%w: seat capacity must be at least 1", ErrInvalidPattern)
	}
	if p.MaxDetourMeters < 0 || p.MaxDetourSeconds < 0 {
		return fmt.Errorf("%w: detour limits must not be negative", ErrInvalidPattern)
	}
	if p.DepartureTime < 0 || p.DepartureTime >= 24*3600 || p.ArrivalTime < 0 || p.ArrivalTime >= 24*3600 {
		return fmt.Errorf("%w: times of day must fall within one day", ErrInvalidPattern)
	}
	if err := p.Recurrence.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("%w: time zone %q: %v", ErrInvalidPattern, p.TimeZone, err)
	}
	return nil
}

func classifyPatternError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPatternNotFound
	}
	return fmt.Errorf("pattern: %w", err)
}

func calendarDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
