package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/api/middleware"
	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// ReservationService defines the booking operations exposed over HTTP
type ReservationService interface {
	Reserve(ctx context.Context, req services.ReserveRequest) (*entities.Booking, error)
	Cancel(ctx context.Context, bookingID, requesterID, reason string) (*entities.Booking, error)
	Complete(ctx context.Context, bookingID string) (*entities.Booking, error)
	MarkNoShow(ctx context.Context, bookingID string) (*entities.Booking, error)
	ScheduleReminder(ctx context.Context, requester entities.Requester, bookingID string, channel entities.NotificationChannel, when time.Time) (*entities.Reminder, error)
	PayBooking(ctx context.Context, bookingID, requesterID string) (*entities.Booking, error)
	GetBooking(ctx context.Context, requester entities.Requester, bookingID string) (*entities.Booking, error)
	ListBookings(ctx context.Context, requester entities.Requester, upcomingOnly bool, limit, offset int) ([]*entities.Booking, error)
}

// CreateBookingRequest is the body of POST /api/bookings
type CreateBookingRequest struct {
	SlotID        string  `json:"slot_id" validate:"required"`
	PaymentMethod string  `json:"payment_method" validate:"required"`
	Notes         *string `json:"notes,omitempty"`
}

// CancelBookingRequest is the body of POST /api/bookings/{id}/cancel
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// ScheduleReminderRequest is the body of POST /api/bookings/{id}/reminders
type ScheduleReminderRequest struct {
	Channel     string    `json:"channel" validate:"required,oneof=email sms push whatsapp"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// BookingHandler handles booking requests
type BookingHandler struct {
	responder
	service ReservationService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(service ReservationService, logger zerolog.Logger) *BookingHandler {
	return &BookingHandler{
		responder: responder{logger: logger.With().Str("component", "booking_handler").Logger()},
		service:   service,
	}
}

// CreateBooking handles POST /api/bookings
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	var req CreateBookingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	booking, err := h.service.Reserve(r.Context(), services.ReserveRequest{
		PatientID:     requester.ID,
		SlotID:        req.SlotID,
		PaymentMethod: entities.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, booking)
}

// GetBooking handles GET /api/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	booking, err := h.service.GetBooking(r.Context(), requester, r.PathValue("id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, booking)
}

// CancelBooking handles POST /api/bookings/{id}/cancel
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	var req CancelBookingRequest
	if r.ContentLength != 0 && !h.decodeAndValidate(w, r, &req) {
		return
	}

	booking, err := h.service.Cancel(r.Context(), r.PathValue("id"), requester.ID, req.Reason)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, booking)
}

// ScheduleReminder handles POST /api/bookings/{id}/reminders
func (h *BookingHandler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	var req ScheduleReminderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	reminder, err := h.service.ScheduleReminder(r.Context(), requester, r.PathValue("id"),
		entities.NotificationChannel(req.Channel), req.ScheduledAt)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, reminder)
}

// PayBooking handles POST /api/bookings/{id}/payment
func (h *BookingHandler) PayBooking(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	booking, err := h.service.PayBooking(r.Context(), r.PathValue("id"), requester.ID)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, booking)
}

// CompleteBooking handles POST /api/admin/bookings/{id}/complete
func (h *BookingHandler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, booking)
}

// MarkNoShow handles POST /api/admin/bookings/{id}/no-show
func (h *BookingHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.MarkNoShow(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, booking)
}

// ListMyBookings handles GET /api/me/bookings?upcoming=true
func (h *BookingHandler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	requester, _ := middleware.RequesterFromContext(r.Context())

	limit, ok := h.parseIntParam(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := h.parseIntParam(w, r, "offset", 0)
	if !ok {
		return
	}
	upcoming := r.URL.Query().Get("upcoming") == "true"

	bookings, err := h.service.ListBookings(r.Context(), requester, upcoming, limit, offset)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}
