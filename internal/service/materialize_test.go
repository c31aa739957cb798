package service

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shiva/ridebroker/internal/logging"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/recurrence"
	"github.com/shiva/ridebroker/internal/repository"
)

// memPatterns keeps patterns and rides in memory and enforces the
// (pattern, date) uniqueness the real table has.
type memPatterns struct {
	patterns map[int64]*model.RidePattern
	rides    map[int64]map[string]model.Ride
	nextID   int64
}

func newMemPatterns() *memPatterns {
	return &memPatterns{patterns: map[int64]*model.RidePattern{}, rides: map[int64]map[string]model.Ride{}}
}

func (m *memPatterns) CreatePattern(_ context.Context, p *model.RidePattern) error {
	m.nextID++
	p.ID = m.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	}
	cp := *p
	m.patterns[p.ID] = &cp
	return nil
}

func (m *memPatterns) GetPattern(_ context.Context, id int64) (*model.RidePattern, error) {
	p, ok := m.patterns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPatterns) SetDisabled(_ context.Context, id int64, disabled bool) error {
	p, ok := m.patterns[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Disabled = disabled
	return nil
}

func (m *memPatterns) MaterializeRides(_ context.Context, patternID int64, rides []model.Ride, through time.Time) (int, error) {
	if m.rides[patternID] == nil {
		m.rides[patternID] = map[string]model.Ride{}
	}
	created := 0
	for _, r := range rides {
		key := r.RideDate.Format(time.DateOnly)
		if _, exists := m.rides[patternID][key]; exists {
			continue
		}
		m.rides[patternID][key] = r
		created++
	}
	p := m.patterns[patternID]
	if p.MaterializedThrough == nil || through.After(*p.MaterializedThrough) {
		t := through
		p.MaterializedThrough = &t
	}
	return created, nil
}

func commutePattern() *model.RidePattern {
	return &model.RidePattern{
		DriverID:         10,
		Origin:           thuisLichtenvoorde,
		Destination:      centrumDoetinchem,
		DepartureTime:    8 * 3600,
		ArrivalTime:      8*3600 + 45*60,
		TimeZone:         "UTC",
		SeatCapacity:     3,
		MaxDetourMeters:  2000,
		MaxDetourSeconds: 300,
		Recurrence:       recurrence.Pattern{Interval: 1, Weekdays: recurrence.WorkWeek},
		CreatedAt:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), // a Monday
	}
}

func TestBuildRides_CopiesPatternAndPlacesTimes(t *testing.T) {
	p := commutePattern()
	p.ID = 7
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	rides := BuildRides(p, []time.Time{day})
	if len(rides) != 1 {
		t.Fatalf("expected 1 ride, got %d", len(rides))
	}
	r := rides[0]
	if *r.PatternID != 7 || !r.RideDate.Equal(day) {
		t.Errorf("pattern/date not set: %+v", r)
	}
	if want := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC); !r.Departure.Equal(want) {
		t.Errorf("departure = %v, want %v", r.Departure, want)
	}
	if want := time.Date(2026, 3, 4, 8, 45, 0, 0, time.UTC); !r.Arrival.Equal(want) {
		t.Errorf("arrival = %v, want %v", r.Arrival, want)
	}
	if r.SeatsAvailable != 3 || r.MaxDetourMeters != 2000 || r.MaxDetourSeconds != 300 || r.DriverID != 10 {
		t.Errorf("capacity/detour not copied: %+v", r)
	}
}

func TestBuildRides_OvernightArrivalRollsOver(t *testing.T) {
	p := commutePattern()
	p.DepartureTime = 23*3600 + 30*60
	p.ArrivalTime = 15 * 60
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	r := BuildRides(p, []time.Time{day})[0]
	if want := time.Date(2026, 3, 5, 0, 15, 0, 0, time.UTC); !r.Arrival.Equal(want) {
		t.Fatalf("arrival = %v, want %v", r.Arrival, want)
	}
}

func TestBuildRides_UsesPatternTimeZone(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	p := commutePattern()
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, ams)

	r := BuildRides(p, []time.Time{day})[0]
	if got := r.Departure.UTC().Hour(); got != 7 {
		t.Fatalf("08:00 CET should be 07:00 UTC, got %02d:00", got)
	}
}

func TestExtendHorizon_AdvancesAndIsIdempotent(t *testing.T) {
	store := newMemPatterns()
	svc := NewMaterializeService(store, 0, logging.Discard())
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, err := svc.CreatePattern(ctx, commutePattern(), now); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := svc.ExtendHorizon(ctx, 1, 2, now)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if res.Dates != 10 || res.Created != 10 {
		t.Fatalf("two work weeks should give 10 rides, got dates=%d created=%d", res.Dates, res.Created)
	}
	if want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC); !res.Through.Equal(want) {
		t.Errorf("through = %v, want %v", res.Through, want)
	}

	again, err := svc.ExtendHorizon(ctx, 1, 2, now)
	if err != nil {
		t.Fatalf("re-extend: %v", err)
	}
	if again.Dates != 0 || again.Created != 0 {
		t.Fatalf("re-running the same horizon must create nothing, got %+v", again)
	}

	more, err := svc.ExtendHorizon(ctx, 1, 3, now)
	if err != nil {
		t.Fatalf("extend to 3 weeks: %v", err)
	}
	if want := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC); !more.From.Equal(want) {
		t.Errorf("extension should resume at %v, got %v", want, more.From)
	}
	if more.Created != 5 {
		t.Errorf("third week should add 5 rides, got %d", more.Created)
	}
	if n := len(store.rides[1]); n != 15 {
		t.Errorf("store holds %d rides, want 15", n)
	}
}

func TestExtendHorizon_StoreSkipsExistingDates(t *testing.T) {
	store := newMemPatterns()
	svc := NewMaterializeService(store, 2, logging.Discard())
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, err := svc.CreatePattern(ctx, commutePattern(), now); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Forget the watermark, as after a crash between insert and update.
	store.patterns[1].MaterializedThrough = nil

	res, err := svc.ExtendHorizon(ctx, 1, 2, now)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if res.Dates != 10 || res.Created != 0 {
		t.Fatalf("expected 10 dates and no duplicates, got %+v", res)
	}
}

func TestExtendHorizon_Errors(t *testing.T) {
	store := newMemPatterns()
	svc := NewMaterializeService(store, 0, logging.Discard())
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, err := svc.ExtendHorizon(ctx, 99, 1, now); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("unknown pattern: got %v", err)
	}

	p := commutePattern()
	if _, err := svc.CreatePattern(ctx, p, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ExtendHorizon(ctx, p.ID, 0, now); !errors.Is(err, ErrInvalidHorizon) {
		t.Errorf("zero weeks: got %v", err)
	}

	disabled, err := svc.SetDisabled(ctx, p.ID, true)
	if err != nil || !disabled.Disabled {
		t.Fatalf("disable: %v %+v", err, disabled)
	}
	if _, err := svc.ExtendHorizon(ctx, p.ID, 1, now); !errors.Is(err, ErrPatternDisabled) {
		t.Errorf("disabled pattern: got %v", err)
	}
	if _, err := svc.SetDisabled(ctx, 99, true); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("disable unknown pattern: got %v", err)
	}
}

func TestCreatePattern_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RidePattern)
	}{
		{"no seats", func(p *model.RidePattern) { p.SeatCapacity = 0 }},
		{"negative detour", func(p *model.RidePattern) { p.MaxDetourMeters = -1 }},
		{"zero interval", func(p *model.RidePattern) { p.Recurrence.Interval = 0 }},
		{"unknown zone", func(p *model.RidePattern) { p.TimeZone = "Mars/Olympus" }},
		{"time past midnight", func(p *model.RidePattern) { p.ArrivalTime = 25 * 3600 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMaterializeService(newMemPatterns(), 4, logging.Discard())
			p := commutePattern()
			tt.mutate(p)
			if _, err := svc.CreatePattern(context.Background(), p, time.Now()); !errors.Is(err, ErrInvalidPattern) {
				t.Fatalf("expected ErrInvalidPattern, got %v", err)
			}
		})
	}
}

func TestCreatePattern_MaterializesDefaultHorizon(t *testing.T) {
	store := newMemPatterns()
	svc := NewMaterializeService(store, 1, logging.Discard())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	res, err := svc.CreatePattern(context.Background(), commutePattern(), now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Created != 5 {
		t.Fatalf("one work week should give 5 rides, got %d", res.Created)
	}
}

func TestCreatePattern_StoresNormalizedLongitudes(t *testing.T) {
	store := newMemPatterns()
	svc := NewMaterializeService(store, 0, logging.Discard())

	p := commutePattern()
	p.Origin.Lon = -180
	p.Destination.Lon = 190
	if _, err := svc.CreatePattern(context.Background(), p, time.Now()); err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	stored := store.patterns[p.ID]
	if stored.Origin.Lon != 180 {
		t.Errorf("origin lon = %v, want 180", stored.Origin.Lon)
	}
	if stored.Destination.Lon != -170 {
		t.Errorf("destination lon = %v, want -170", stored.Destination.Lon)
	}
	if stored.Origin.Label != thuisLichtenvoorde.Label {
		t.Errorf("label dropped: %q", stored.Origin.Label)
	}
}
