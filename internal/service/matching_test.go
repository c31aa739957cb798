package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shiva/ridebroker/internal/lifecycle"
	"github.com/shiva/ridebroker/internal/logging"
	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/pkg/geo"
	"github.com/shiva/ridebroker/pkg/timewindow"
)

var (
	thuisLichtenvoorde = geo.MustGeoPoint(51.9867, 6.5667).WithLabel("Thuis-Lichtenvoorde")
	centrumDoetinchem  = geo.MustGeoPoint(51.9650, 6.2883).WithLabel("Centrum-Doetinchem")
	zieuwent           = geo.MustGeoPoint(52.0047, 6.5181).WithLabel("Zieuwent")
	slingeland         = geo.MustGeoPoint(51.9767, 6.2889).WithLabel("Slingeland")

	morning = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

func commuteRide(detourMeters int) model.Ride {
	return model.Ride{
		ID:              1,
		DriverID:        10,
		Origin:          thuisLichtenvoorde,
		Destination:     centrumDoetinchem,
		Departure:       morning,
		Arrival:         morning.Add(30 * time.Minute),
		SeatsAvailable:  3,
		MaxDetourMeters: detourMeters,
		State:           lifecycle.Scheduled,
	}
}

func passengerRequest() SearchRequest {
	return SearchRequest{
		Pickup:   zieuwent,
		Dropoff:  slingeland,
		Earliest: morning.Add(10 * time.Minute),
		Latest:   morning.Add(20 * time.Minute),
		Seats:    1,
	}
}

func TestSearch_DetourToleranceGatesOffLinePassenger(t *testing.T) {
	cfg := DefaultMatchConfig()
	req := passengerRequest()

	if got := Search(req, []model.Ride{commuteRide(0)}, cfg); len(got) != 0 {
		t.Fatalf("zero tolerance must exclude an off-line pickup, got %d results", len(got))
	}
	if got := Search(req, []model.Ride{commuteRide(500)}, cfg); len(got) != 0 {
		t.Fatalf("500 m tolerance is too small, got %d results", len(got))
	}

	got := Search(req, []model.Ride{commuteRide(5000)}, cfg)
	if len(got) != 1 {
		t.Fatalf("5 km tolerance should include the pair, got %d results", len(got))
	}
	if got[0].SeatsRemaining != 3 {
		t.Errorf("seats remaining = %d, want 3", got[0].SeatsRemaining)
	}
	if got[0].DetourMeters < 1000 || got[0].DetourMeters > 5000 {
		t.Errorf("detour = %.0f m, expected between 1 and 5 km", got[0].DetourMeters)
	}
}

func TestSearch_TimeLimitConvertsAtAverageSpeed(t *testing.T) {
	ride := commuteRide(0)
	ride.MaxDetourSeconds = 600 // 10 min at 40 km/h ≈ 6.7 km

	if got := Search(passengerRequest(), []model.Ride{ride}, DefaultMatchConfig()); len(got) != 1 {
		t.Fatalf("expected the time-based limit to admit the pair, got %d", len(got))
	}

	slow := DefaultMatchConfig()
	slow.AverageSpeedKmph = 3
	if got := Search(passengerRequest(), []model.Ride{ride}, slow); len(got) != 0 {
		t.Fatalf("at walking speed 10 min is 500 m, expected exclusion, got %d", len(got))
	}
}

func TestSearch_RejectsOppositeDirection(t *testing.T) {
	req := passengerRequest()
	req.Pickup, req.Dropoff = req.Dropoff, req.Pickup

	if got := Search(req, []model.Ride{commuteRide(5000)}, DefaultMatchConfig()); len(got) != 0 {
		t.Fatalf("passenger heading east must not match a westbound ride, got %d", len(got))
	}
}

func TestSearch_SkipsRidesThatNoLongerTakeBookings(t *testing.T) {
	deleted := commuteRide(5000)
	deleted.Deleted = true
	rides := []model.Ride{deleted}
	for _, st := range []lifecycle.State{
		lifecycle.Departing, lifecycle.InTransit, lifecycle.Arriving,
		lifecycle.Validating, lifecycle.Completed, lifecycle.Cancelled,
	} {
		r := commuteRide(5000)
		r.State = st
		rides = append(rides, r)
	}

	got := Search(passengerRequest(), rides, DefaultMatchConfig())
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d (first state %s)", len(got), got[0].Ride.State)
	}

	open := commuteRide(5000)
	open.State = lifecycle.Booking
	if got := Search(passengerRequest(), []model.Ride{open}, DefaultMatchConfig()); len(got) != 1 {
		t.Fatalf("ride in booking should match, got %d", len(got))
	}
}

func TestSearchRequest_ValidateNormalizesLongitude(t *testing.T) {
	req := passengerRequest()
	req.Pickup.Lon += 360
	want := passengerRequest().Pickup.Lon

	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if math.Abs(req.Pickup.Lon-want) > 1e-9 {
		t.Errorf("pickup lon = %v, want %v", req.Pickup.Lon, want)
	}
}

func TestSearch_StrictAndLenientWindows(t *testing.T) {
	req := passengerRequest()
	req.Earliest = morning.Add(50 * time.Minute)
	req.Latest = morning.Add(60 * time.Minute)
	rides := []model.Ride{commuteRide(5000)}
	cfg := DefaultMatchConfig()

	if got := Search(req, rides, cfg); len(got) != 0 {
		t.Fatalf("strict search outside the ride window should be empty, got %d", len(got))
	}

	req.Lenient = true
	if got := Search(req, rides, cfg); len(got) != 1 {
		t.Fatalf("lenient search within 30 min slack should match, got %d", len(got))
	}

	cfg.LenientSlack = 10 * time.Minute
	if got := Search(req, rides, cfg); len(got) != 0 {
		t.Fatalf("10 min slack does not reach the ride, got %d", len(got))
	}
}

func TestSearch_CapacityNetOfNonCancelledBookings(t *testing.T) {
	ride := commuteRide(5000)
	ride.Bookings = []model.Booking{
		{ID: 1, Seats: 1, State: model.BookingConfirmed},
		{ID: 2, Seats: 1, State: model.BookingProposed},
		{ID: 3, Seats: 2, State: model.BookingCancelled},
	}

	tests := []struct {
		name        string
		seats       int
		maxBookings int
		want        int
	}{
		{"one seat left", 1, 0, 1},
		{"two seats too many", 2, 0, 0},
		{"below booking filter", 1, 2, 1},
		{"at booking filter", 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := passengerRequest()
			req.Seats = tt.seats
			req.MaxBookings = tt.maxBookings
			got := Search(req, []model.Ride{ride}, DefaultMatchConfig())
			if len(got) != tt.want {
				t.Fatalf("got %d results, want %d", len(got), tt.want)
			}
			if tt.want == 1 {
				if got[0].SeatsRemaining != 1 || got[0].ConfirmedBookings != 1 {
					t.Errorf("unexpected result %+v", got[0])
				}
			}
		})
	}
}

func TestSearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SearchRequest)
	}{
		{"zero seats", func(r *SearchRequest) { r.Seats = 0 }},
		{"inverted window", func(r *SearchRequest) { r.Latest = r.Earliest.Add(-time.Minute) }},
		{"bad pickup", func(r *SearchRequest) { r.Pickup = geo.GeoPoint{Lat: 91} }},
		{"negative filter", func(r *SearchRequest) { r.MaxBookings = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := passengerRequest()
			tt.mutate(&req)
			if err := req.Validate(); !errors.Is(err, ErrInvalidSearch) {
				t.Fatalf("expected ErrInvalidSearch, got %v", err)
			}
		})
	}

	req := passengerRequest()
	if err := req.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

// ─── MatchingService ────────────────────────────────────────

type fakeFinder struct {
	rides []model.Ride
	err   error
	got   timewindow.Window
}

func (f *fakeFinder) FindRidesInWindow(_ context.Context, w timewindow.Window) ([]model.Ride, error) {
	f.got = w
	return f.rides, f.err
}

func TestMatchingService_LoadsWidenedWindow(t *testing.T) {
	finder := &fakeFinder{rides: []model.Ride{commuteRide(5000)}}
	svc := NewMatchingService(finder, nil, DefaultMatchConfig(), logging.Discard())

	req := passengerRequest()
	req.Lenient = true
	got, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if want := req.Earliest.Add(-30 * time.Minute); !finder.got.Start.Equal(want) {
		t.Errorf("candidate window start = %v, want %v", finder.got.Start, want)
	}
}

func TestMatchingService_Errors(t *testing.T) {
	boom := errors.New("db down")
	svc := NewMatchingService(&fakeFinder{err: boom}, nil, DefaultMatchConfig(), logging.Discard())

	if _, err := svc.Search(context.Background(), passengerRequest()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}

	bad := passengerRequest()
	bad.Seats = 0
	if _, err := svc.Search(context.Background(), bad); !errors.Is(err, ErrInvalidSearch) {
		t.Fatalf("expected ErrInvalidSearch, got %v", err)
	}
}

// memCache mimics cache.Generational with a map and JSON round-trips.
type memCache struct {
	gen     int
	entries map[string][]byte
}

func (c *memCache) Key(_ context.Context, suffix string) (string, error) {
	return fmt.Sprintf("search:%d:%s", c.gen, suffix), nil
}

func (c *memCache) Get(_ context.Context, key string, v any) (bool, error) {
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (c *memCache) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.entries[key] = b
	return nil
}

func (c *memCache) Bump(context.Context) error {
	c.gen++
	return nil
}

type countingFinder struct {
	fakeFinder
	calls int
}

func (f *countingFinder) FindRidesInWindow(ctx context.Context, w timewindow.Window) ([]model.Ride, error) {
	f.calls++
	return f.fakeFinder.FindRidesInWindow(ctx, w)
}

func TestMatchingService_CacheAndInvalidate(t *testing.T) {
	finder := &countingFinder{fakeFinder: fakeFinder{rides: []model.Ride{commuteRide(5000)}}}
	cache := &memCache{entries: map[string][]byte{}}
	svc := NewMatchingService(finder, cache, DefaultMatchConfig(), logging.Discard())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := svc.Search(ctx, passengerRequest())
		if err != nil || len(got) != 1 {
			t.Fatalf("search %d: %v %v", i, err, got)
		}
	}
	if finder.calls != 1 {
		t.Fatalf("second search should hit the cache, store queried %d times", finder.calls)
	}

	svc.Invalidate(ctx)
	if _, err := svc.Search(ctx, passengerRequest()); err != nil {
		t.Fatal(err)
	}
	if finder.calls != 2 {
		t.Errorf("invalidation should force a reload, store queried %d times", finder.calls)
	}
}
