package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shiva/ridebroker/internal/service"
)

// Sweeper runs one lifecycle evaluation.
type Sweeper interface {
	RunOnce(ctx context.Context, now time.Time) (*service.SweepResult, error)
}

// AdminHandler exposes operator-only actions.
type AdminHandler struct {
	sweeper Sweeper
	now     Clock
	log     *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(sweeper Sweeper, now Clock, log *slog.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, now: now, log: log}
}

// Sweep handles POST /api/v1/admin/sweep, running one evaluation now and
// returning the transitions it applied.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.RunOnce(r.Context(), h.now())
	if err != nil {
		internalError(w, h.log, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
