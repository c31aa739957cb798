package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// API groups the handlers mounted under /api/v1.
type API struct {
	Patterns *PatternHandler
	Search   *SearchHandler
	Rides    *RideHandler
	Bookings *BookingHandler
	Admin    *AdminHandler
}

// Register mounts every API route on r.
func (a API) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	// Patterns and materialization
	api.HandleFunc("/patterns", a.Patterns.CreatePattern).Methods(http.MethodPost)
	api.HandleFunc("/patterns/{id}", a.Patterns.GetPattern).Methods(http.MethodGet)
	api.HandleFunc("/patterns/{id}/extend", a.Patterns.ExtendHorizon).Methods(http.MethodPost)
	api.HandleFunc("/patterns/{id}/disable", a.Patterns.SetDisabled).Methods(http.MethodPost)

	// Search and rides
	api.HandleFunc("/search", a.Search.Search).Methods(http.MethodPost)
	api.HandleFunc("/rides", a.Rides.CreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", a.Rides.GetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/cancel", a.Rides.CancelRide).Methods(http.MethodPost)

	// Booking, confirmation, payment, validation
	api.HandleFunc("/rides/{id}/bookings", a.Bookings.BookSeats).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}", a.Bookings.GetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/confirm", a.Bookings.Confirm).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", a.Bookings.CancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/legs/{id}/payment", a.Bookings.RecordPayment).Methods(http.MethodPost)
	api.HandleFunc("/legs/{id}/validation", a.Bookings.RequestValidation).Methods(http.MethodPost)

	api.HandleFunc("/admin/sweep", a.Admin.Sweep).Methods(http.MethodPost)
}
