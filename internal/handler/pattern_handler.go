package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shiva/ridebroker/internal/model"
	"github.com/shiva/ridebroker/internal/recurrence"
	"github.com/shiva/ridebroker/internal/service"
	"github.com/shiva/ridebroker/pkg/geo"
)

// PatternService is what PatternHandler needs from the materializer.
type PatternService interface {
	CreatePattern(ctx context.Context, p *model.RidePattern, now time.Time) (*service.MaterializeResult, error)
	GetPattern(ctx context.Context, id int64) (*model.RidePattern, error)
	SetDisabled(ctx context.Context, id int64, disabled bool) (*model.RidePattern, error)
	ExtendHorizon(ctx context.Context, id int64, weeks int, now time.Time) (*service.MaterializeResult, error)
	DefaultWeeks() int
}

// ─── Request/Response DTOs ──────────────────────────────────

// CreatePatternBody is the JSON body for POST /api/v1/patterns.
type CreatePatternBody struct {
	DriverID         int64              `json:"driver_id"`
	VehicleID        *int64             `json:"vehicle_id,omitempty"`
	Origin           geo.GeoPoint       `json:"origin"`
	Destination      geo.GeoPoint       `json:"destination"`
	DepartureTime    model.TimeOfDay    `json:"departure_time"`
	ArrivalTime      model.TimeOfDay    `json:"arrival_time"`
	TimeZone         string             `json:"time_zone"`
	SeatCapacity     int                `json:"seat_capacity"`
	MaxDetourMeters  int                `json:"max_detour_meters"`
	MaxDetourSeconds int                `json:"max_detour_seconds"`
	Recurrence       recurrence.Pattern `json:"recurrence"`
}

// ExtendBody is the JSON body for POST /api/v1/patterns/{id}/extend.
type ExtendBody struct {
	Weeks int `json:"weeks"`
}

// DisableBody is the JSON body for POST /api/v1/patterns/{id}/disable.
type DisableBody struct {
	Disabled *bool `json:"disabled"`
}

// CreatePatternResponse pairs the stored pattern with its first horizon.
type CreatePatternResponse struct {
	Pattern     *model.RidePattern         `json:"pattern"`
	Materialize *service.MaterializeResult `json:"materialize"`
}

// ─── PatternHandler ─────────────────────────────────────────

// PatternHandler handles ride pattern creation and horizon extension.
type PatternHandler struct {
	svc PatternService
	now Clock
	log *slog.Logger
}

// NewPatternHandler creates a new pattern handler.
func NewPatternHandler(svc PatternService, now Clock, log *slog.Logger) *PatternHandler {
	return &PatternHandler{svc: svc, now: now, log: log}
}

// CreatePattern handles POST /api/v1/patterns
//
// Response codes:
//
//	201 - Pattern stored and default horizon materialized
//	400 - Malformed body or invalid pattern
func (h *PatternHandler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	var body CreatePatternBody
	if !decodeJSON(w, r, &body, false) {
		return
	}

	p := &model.RidePattern{
		DriverID:         body.DriverID,
		VehicleID:        body.VehicleID,
		Origin:           body.Origin,
		Destination:      body.Destination,
		DepartureTime:    body.DepartureTime,
		ArrivalTime:      body.ArrivalTime,
		TimeZone:         body.TimeZone,
		SeatCapacity:     body.SeatCapacity,
		MaxDetourMeters:  body.MaxDetourMeters,
		MaxDetourSeconds: body.MaxDetourSeconds,
		Recurrence:       body.Recurrence,
	}
	result, err := h.svc.CreatePattern(r.Context(), p, h.now())
	if err != nil {
		h.writePatternError(w, "create pattern", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatePatternResponse{Pattern: p, Materialize: result})
}

// GetPattern handles GET /api/v1/patterns/{id}
func (h *PatternHandler) GetPattern(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetPattern(r.Context(), id)
	if err != nil {
		h.writePatternError(w, "get pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ExtendHorizon handles POST /api/v1/patterns/{id}/extend
//
// The body is optional; weeks defaults to the configured horizon.
//
// Response codes:
//
//	200 - Horizon extended (created may be 0 on repeat calls)
//	400 - weeks < 1
//	404 - Pattern not found
//	409 - Pattern disabled
func (h *PatternHandler) ExtendHorizon(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	body := ExtendBody{Weeks: h.svc.DefaultWeeks()}
	if !decodeJSON(w, r, &body, true) {
		return
	}
	result, err := h.svc.ExtendHorizon(r.Context(), id, body.Weeks, h.now())
	if err != nil {
		h.writePatternError(w, "extend horizon", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SetDisabled handles POST /api/v1/patterns/{id}/disable
//
// {"disabled": false} re-enables the pattern; an empty body disables it.
func (h *PatternHandler) SetDisabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body DisableBody
	if !decodeJSON(w, r, &body, true) {
		return
	}
	disabled := body.Disabled == nil || *body.Disabled
	p, err := h.svc.SetDisabled(r.Context(), id, disabled)
	if err != nil {
		h.writePatternError(w, "disable pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PatternHandler) writePatternError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPattern), errors.Is(err, service.ErrInvalidHorizon):
		writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
	case errors.Is(err, service.ErrPatternNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Ride pattern not found.")
	case errors.Is(err, service.ErrPatternDisabled):
		writeError(w, http.StatusConflict, "pattern_disabled", "This ride pattern is disabled.")
	default:
		internalError(w, h.log, op, err)
	}
}
