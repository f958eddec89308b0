package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/therapybooking/internal/adapters/memory"
	"github.com/zatekoja/therapybooking/internal/adapters/payments"
	"github.com/zatekoja/therapybooking/internal/api/handlers"
	"github.com/zatekoja/therapybooking/internal/api/middleware"
	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/metrics"
	"github.com/zatekoja/therapybooking/pkg/config"
)

type engine struct {
	handler http.Handler
	slots   *services.SlotService
}

func newEngine(t *testing.T, now time.Time) *engine {
	t.Helper()

	policy := config.ReservationConfig{
		BusinessHoursOpen:           9 * time.Hour,
		BusinessHoursClose:          17 * time.Hour,
		BusinessTimezone:            "UTC",
		SlotMinDuration:             30 * time.Minute,
		SlotMaxDuration:             180 * time.Minute,
		CancellationNotice:          24 * time.Hour,
		ReminderChannel:             "email",
		NotesMaxLength:              2000,
		CancellationReasonMaxLength: 500,
		SessionPriceCents:           10000,
		Currency:                    "USD",
	}
	logger := zerolog.Nop()
	store := memory.NewStore()

	slots := services.NewSlotService(store.Slots(), policy, logger)
	bookings := services.NewBookingService(store.Bookings(), slots, policy, logger)
	dispatcher := services.NewNotificationDispatcher(logger)
	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)

	reservations := services.NewReservationService(services.ReservationDeps{
		Slots:      slots,
		Bookings:   bookings,
		Payments:   services.NewPaymentService(logger, payments.Defaults(logger)...),
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Policy:     policy,
		Logger:     logger,
	})
	reservations.SetClock(func() time.Time { return now })

	router := NewRouter(
		handlers.NewSlotHandler(slots, reservations, logger),
		handlers.NewBookingHandler(reservations, logger),
		Options{Logger: logger, Observer: recorder, Gatherer: reg},
	)
	return &engine{handler: router.SetupRoutes(), slots: slots}
}

func (e *engine) do(t *testing.T, method, target, body string, requester *entities.Requester) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if requester != nil {
		req.Header.Set(middleware.HeaderRequesterID, requester.ID)
		req.Header.Set(middleware.HeaderRequesterRole, string(requester.Role))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_ReservationFlow(t *testing.T) {
	now := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
	e := newEngine(t, now)

	provider := &entities.Requester{ID: "provider-p", Role: entities.RoleTherapist}
	patientA := &entities.Requester{ID: "patient-a", Role: entities.RolePatient}
	patientB := &entities.Requester{ID: "patient-b", Role: entities.RolePatient}
	admin := &entities.Requester{ID: "admin-1", Role: entities.RoleAdmin}

	rec := e.do(t, http.MethodPost, "/api/slots", `{"start":"2025-03-10T14:00:00Z","end":"2025-03-10T15:00:00Z"}`, provider)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var slot entities.Slot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slot))

	rec = e.do(t, http.MethodPost, "/api/slots", `{"start":"2025-03-10T14:30:00Z","end":"2025-03-10T15:30:00Z"}`, provider)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/bookings", `{"slot_id":"`+slot.ID+`","payment_method":"creditCard"}`, patientA)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking entities.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, entities.BookingStatusConfirmed, booking.Status)

	rec = e.do(t, http.MethodPost, "/api/bookings", `{"slot_id":"`+slot.ID+`","payment_method":"paypal"}`, patientB)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SlotUnavailable")

	rec = e.do(t, http.MethodGet, "/api/bookings/"+booking.ID, "", patientB)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 30 hours before the session: still inside the notice window
	rec = e.do(t, http.MethodPost, "/api/bookings/"+booking.ID+"/cancel", `{"reason":"conflict"}`, patientA)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/admin/bookings/"+booking.ID+"/complete", "", admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/providers/provider-p/slots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), slot.ID)

	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `therapybooking_reservations_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `route="POST /api/bookings"`)
}

func TestRouter_Guards(t *testing.T) {
	e := newEngine(t, time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC))
	patient := &entities.Requester{ID: "patient-a", Role: entities.RolePatient}

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/bookings", `{}`, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/slots", `{}`, patient).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/admin/bookings/x/no-show", "", patient).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodOptions, "/api/bookings", "", nil).Code)

	_, err := e.slots.GetSlot(context.Background(), "missing")
	assert.Error(t, err)
}
