// Package service contains the core business logic of the ride broker.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/observability"
	"github.com/shiva/ridebroker/pkg/geo"
	"github.com/shiva/ridebroker/pkg/timewindow"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrInvalidSearch = errors.New("invalid search request")
	ErrRideNotFound  = errors.New("ride not found")
)

// ─── Configuration ──────────────────────────────────────────

// MatchConfig tunes the search.
type MatchConfig struct {
	// LenientSlack widens the passenger window on both sides for lenient
	// searches.
	LenientSlack time.Duration
	// AverageSpeedKmph converts a time-based detour limit into meters.
	AverageSpeedKmph float64
}

// DefaultMatchConfig returns the production defaults.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		LenientSlack:     30 * time.Minute,
		AverageSpeedKmph: 40,
	}
}

func (c MatchConfig) speedMps() float64 {
	return c.AverageSpeedKmph * 1000 / 3600
}

// ─── Request / Result ───────────────────────────────────────

// SearchRequest is a passenger's search.
type SearchRequest struct {
	Pickup   geo.GeoPoint `json:"pickup"`
	Dropoff  geo.GeoPoint `json:"dropoff"`
	Earliest time.Time    `json:"earliest"`
	Latest   time.Time    `json:"latest"`
	Seats    int          `json:"seats"`
	Lenient  bool         `json:"lenient"`
	// MaxBookings excludes rides with that many confirmed bookings or more.
	// Zero means no filter.
	MaxBookings int `json:"max_bookings,omitempty"`
}

// Validate rejects malformed requests before any candidate is loaded and
// normalizes the pickup and dropoff longitudes.
func (r *SearchRequest) Validate() error {
	if err := r.Pickup.Normalize(); err != nil {
		return fmt.Errorf("%w: pickup: %v", ErrInvalidSearch, err)
	}
	if err := r.Dropoff.Normalize(); err != nil {
		return fmt.Errorf("%w: dropoff: %v", ErrInvalidSearch, err)
	}
	if r.Seats < 1 {
		return fmt.Errorf("%w: seats must be at least 1, got %d", ErrInvalidSearch, r.Seats)
	}
	if r.MaxBookings < 0 {
		return fmt.Errorf("%w: max_bookings must not be negative", ErrInvalidSearch)
	}
	if _, err := timewindow.New(r.Earliest, r.Latest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSearch, err)
	}
	return nil
}

func (r *SearchRequest) mode() timewindow.Mode {
	if r.Lenient {
		return timewindow.Lenient
	}
	return timewindow.Strict
}

// Window is the passenger window the overlap test runs against, widened by
// the configured slack for lenient searches.
func (r *SearchRequest) Window(cfg MatchConfig) timewindow.Window {
	w := timewindow.Window{Start: r.Earliest, End: r.Latest}
	if r.mode() == timewindow.Lenient {
		w = w.Widen(cfg.LenientSlack)
	}
	return w
}

// SearchResult is one matching ride plus what a caller needs to sort and
// page the answer.
type SearchResult struct {
	Ride              model.Ride `json:"ride"`
	SeatsRemaining    int        `json:"seats_remaining"`
	ConfirmedBookings int        `json:"confirmed_bookings"`
	// DetourMeters is the extra distance the driver covers to serve the
	// passenger: |O P| + |P D| + |D Dest| - |O Dest|.
	DetourMeters float64 `json:"detour_meters"`
}

// ─── Search ─────────────────────────────────────────────────

// Search filters candidates down to the rides that can carry the passenger.
// A ride matches when it is not deleted and still takes bookings (Booking
// or Scheduled). It must also head in the passenger's direction, contain
// pickup and dropoff in its eligibility area, overlap the passenger window
// and have seats left. The result is unordered.
//
// Complexity: O(C) ellipse tests where C = len(candidates).
func Search(req SearchRequest, candidates []model.Ride, cfg MatchConfig) []SearchResult {
	window := req.Window(cfg)
	mode := req.mode()
	heading := geo.Bearing(req.Pickup, req.Dropoff)

	var out []SearchResult
	for i := range candidates {
		ride := &candidates[i]
		if ride.Deleted || !ride.State.IsBookable() {
			continue
		}

		// 1. Direction.
		if !geo.SameHalfPlane(geo.Bearing(ride.Origin, ride.Destination), heading) {
			continue
		}

		// 2. Eligibility area.
		area := EligibilityAreaOf(ride, cfg)
		if !area.Contains(req.Pickup) || !area.Contains(req.Dropoff) {
			continue
		}

		// 3. Time.
		if !timewindow.Overlaps(ride.Window(), window, mode) {
			continue
		}

		// 4. Capacity.
		remaining := ride.SeatsRemaining()
		if remaining < req.Seats {
			continue
		}
		confirmed := ride.ConfirmedBookings()
		if req.MaxBookings > 0 && confirmed >= req.MaxBookings {
			continue
		}

		out = append(out, SearchResult{
			Ride:              *ride,
			SeatsRemaining:    remaining,
			ConfirmedBookings: confirmed,
			DetourMeters:      detourMeters(ride, req.Pickup, req.Dropoff),
		})
	}
	return out
}

// EligibilityAreaOf builds the area a ride's driver accepts detours into.
func EligibilityAreaOf(ride *model.Ride, cfg MatchConfig) geo.EligibilityArea {
	extra := geo.DetourTolerance(float64(ride.MaxDetourMeters), float64(ride.MaxDetourSeconds), cfg.speedMps())
	return geo.BuildEllipse(ride.Origin, ride.Destination, extra, 0)
}

func detourMeters(ride *model.Ride, pickup, dropoff geo.GeoPoint) float64 {
	d := geo.RouteDistance(ride.Origin, pickup, dropoff, ride.Destination) - geo.Distance(ride.Origin, ride.Destination)
	return math.Max(0, d)
}

// ─── MatchingService ────────────────────────────────────────

// RideFinder loads the rides whose schedule overlaps a window, with their
// bookings attached.
type RideFinder interface {
	FindRidesInWindow(ctx context.Context, w timewindow.Window) ([]model.Ride, error)
}

// ResultCache stores search answers under generation-scoped keys. Bump
// drops every entry at once.
type ResultCache interface {
	Key(ctx context.Context, suffix string) (string, error)
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Bump(ctx context.Context) error
}

// MatchingService answers passenger searches against the stored rides.
//
// Flow:
//  1. Validate the request.
//  2. Serve from the Redis cache when the same search ran recently.
//  3. FETCH rides overlapping the (widened) window from PostgreSQL.
//  4. FILTER with Search and cache the answer.
//
// Cache failures are logged and the search falls through to the database.
type MatchingService struct {
	rides RideFinder
	cache ResultCache
	cfg   MatchConfig
	log   *slog.Logger
}

// NewMatchingService creates a matching service. cache may be nil.
func NewMatchingService(rides RideFinder, cache ResultCache, cfg MatchConfig, log *slog.Logger) *MatchingService {
	return &MatchingService{rides: rides, cache: cache, cfg: cfg, log: log}
}

// Search runs a passenger search.
func (s *MatchingService) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observability.SearchLatency.Observe(time.Since(start).Seconds()) }()
	observability.SearchesTotal.WithLabelValues(req.mode().String()).Inc()

	key := s.cacheKey(ctx, req)
	if results, ok := s.fromCache(ctx, key); ok {
		observability.SearchCacheHits.Inc()
		observability.SearchResults.Observe(float64(len(results)))
		return results, nil
	}

	candidates, err := s.rides.FindRidesInWindow(ctx, req.Window(s.cfg))
	if err != nil {
		return nil, fmt.Errorf("search: load candidates: %w", err)
	}

	results := Search(req, candidates, s.cfg)
	s.log.Debug("search evaluated",
		"pickup", req.Pickup.String(), "dropoff", req.Dropoff.String(),
		"mode", req.mode().String(), "candidates", len(candidates), "matches", len(results))

	s.toCache(ctx, key, results)
	observability.SearchResults.Observe(float64(len(results)))
	return results, nil
}

// Invalidate drops every cached search answer. It is called after seats or
// rides change so searches never serve a cancelled ride for a full TTL.
func (s *MatchingService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.log.Warn("search cache invalidation failed", "err", err)
	}
}

// ─── Cache helpers ──────────────────────────────────────────

// cacheKey returns "" when no cache is configured or its generation could
// not be read; an empty key disables both lookup and store.
func (s *MatchingService) cacheKey(ctx context.Context, req SearchRequest) string {
	if s.cache == nil {
		return ""
	}
	key, err := s.cache.Key(ctx, searchKeySuffix(req))
	if err != nil {
		s.log.Warn("search cache unavailable", "err", err)
		return ""
	}
	return key
}

func searchKeySuffix(req SearchRequest) string {
	return fmt.Sprintf("%.5f:%.5f:%.5f:%.5f:%d:%d:%d:%d:%s",
		req.Pickup.Lat, req.Pickup.Lon, req.Dropoff.Lat, req.Dropoff.Lon,
		req.Earliest.Unix(), req.Latest.Unix(), req.Seats, req.MaxBookings, req.mode())
}

func (s *MatchingService) fromCache(ctx context.Context, key string) ([]SearchResult, bool) {
	if key == "" {
		return nil, false
	}
	var results []SearchResult
	ok, err := s.cache.Get(ctx, key, &results)
	if err != nil {
		s.log.Warn("search cache read failed", "key", key, "err", err)
		return nil, false
	}
	return results, ok
}

func (s *MatchingService) toCache(ctx context.Context, key string, results []SearchResult) {
	if key == "" {
		return
	}
	if err := s.cache.Set(ctx, key, results); err != nil {
		s.log.Warn("search cache write failed", "key", key, "err", err)
	}
}
