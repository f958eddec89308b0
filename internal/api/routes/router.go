package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/api/handlers"
	"github.com/zatekoja/therapybooking/internal/api/middleware"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
)

// Options configures the router. Zero values disable the matching feature.
type Options struct {
	Logger         zerolog.Logger
	Metrics        *observability.Metrics
	Observer       middleware.RequestObserver
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	slotHandler    *handlers.SlotHandler
	bookingHandler *handlers.BookingHandler

	opts Options
}

// NewRouter creates a new router
func NewRouter(slotHandler *handlers.SlotHandler, bookingHandler *handlers.BookingHandler, opts Options) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		slotHandler:    slotHandler,
		bookingHandler: bookingHandler,
		opts:           opts,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if r.opts.Gatherer != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	provider := middleware.RequireRole(entities.RoleTherapist)
	patient := middleware.RequireRole(entities.RolePatient)
	admin := middleware.RequireRole(entities.RoleAdmin)
	anyone := middleware.Authenticated()

	// Slot endpoints
	r.handle("POST /api/slots", r.slotHandler.CreateSlot, provider)
	r.handle("GET /api/providers/{id}/slots", r.slotHandler.ListProviderSlots)
	r.handle("DELETE /api/slots/{id}", r.slotHandler.WithdrawSlot, provider)

	// Booking endpoints
	r.handle("POST /api/bookings", r.bookingHandler.CreateBooking, patient)
	r.handle("GET /api/bookings/{id}", r.bookingHandler.GetBooking, anyone)
	r.handle("POST /api/bookings/{id}/cancel", r.bookingHandler.CancelBooking, anyone)
	r.handle("POST /api/bookings/{id}/reminders", r.bookingHandler.ScheduleReminder, anyone)
	r.handle("POST /api/bookings/{id}/payment", r.bookingHandler.PayBooking, patient)
	r.handle("GET /api/me/bookings", r.bookingHandler.ListMyBookings, anyone)

	// Administrative endpoints
	r.handle("POST /api/admin/bookings/{id}/complete", r.bookingHandler.CompleteBooking, admin)
	r.handle("POST /api/admin/bookings/{id}/no-show", r.bookingHandler.MarkNoShow, admin)

	// CORS is outermost so preflight requests skip identity checks. Logging
	// sits inside Observability to pick up the request span, and must pass the
	// request through unchanged so Observability sees the matched pattern.
	return middleware.Chain(r.mux,
		middleware.CORS(r.opts.AllowedOrigins),
		middleware.Identity,
		middleware.Observability(r.opts.Metrics, r.opts.Observer),
		middleware.Logging(r.opts.Logger),
	)
}

func (r *Router) handle(pattern string, h http.HandlerFunc, guards ...middleware.Middleware) {
	r.mux.Handle(pattern, middleware.Chain(h, guards...))
}
