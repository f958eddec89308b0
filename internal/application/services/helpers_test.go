package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/therapybooking/internal/adapters/memory"
	"github.com/zatekoja/therapybooking/internal/adapters/payments"
	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
	"github.com/zatekoja/therapybooking/pkg/compensation"
	"github.com/zatekoja/therapybooking/pkg/config"
)

// 2025-03-10T14:00Z, the session used throughout these tests.
var sessionStart = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func testPolicy() config.ReservationConfig {
	return config.ReservationConfig{
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
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store        *memory.Store
	slotRepo     repositories.SlotRepository
	bookingRepo  repositories.BookingRepository
	slots        *services.SlotService
	bookings     *services.BookingService
	payments     *services.PaymentService
	dispatcher   *services.NotificationDispatcher
	reservations *services.ReservationService
	clock        *testClock
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	policy      config.ReservationConfig
	slotRepo    func(repositories.SlotRepository) repositories.SlotRepository
	bookingRepo func(repositories.BookingRepository) repositories.BookingRepository
	payments    []providers.PaymentProvider
	reporter    compensation.Reporter
	metrics     *observability.Metrics
}

func withPolicy(fn func(*config.ReservationConfig)) fixtureOption {
	return func(c *fixtureConfig) { fn(&c.policy) }
}

func withSlotRepo(wrap func(repositories.SlotRepository) repositories.SlotRepository) fixtureOption {
	return func(c *fixtureConfig) { c.slotRepo = wrap }
}

func withBookingRepo(wrap func(repositories.BookingRepository) repositories.BookingRepository) fixtureOption {
	return func(c *fixtureConfig) { c.bookingRepo = wrap }
}

func withPayments(p ...providers.PaymentProvider) fixtureOption {
	return func(c *fixtureConfig) { c.payments = p }
}

func withReporter(r compensation.Reporter) fixtureOption {
	return func(c *fixtureConfig) { c.reporter = r }
}

func withMetrics(m *observability.Metrics) fixtureOption {
	return func(c *fixtureConfig) { c.metrics = m }
}

func newFixture(t *testing.T, now time.Time, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := &fixtureConfig{
		policy:   testPolicy(),
		payments: payments.Defaults(zerolog.Nop()),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := memory.NewStore()
	var slotRepo repositories.SlotRepository = store.Slots()
	var bookingRepo repositories.BookingRepository = store.Bookings()
	if cfg.slotRepo != nil {
		slotRepo = cfg.slotRepo(slotRepo)
	}
	if cfg.bookingRepo != nil {
		bookingRepo = cfg.bookingRepo(bookingRepo)
	}

	logger := zerolog.Nop()
	clock := &testClock{now: now}

	slots := services.NewSlotService(slotRepo, cfg.policy, logger)
	bookings := services.NewBookingService(bookingRepo, slots, cfg.policy, logger)
	paymentService := services.NewPaymentService(logger, cfg.payments...)
	dispatcher := services.NewNotificationDispatcher(logger)

	reservations := services.NewReservationService(services.ReservationDeps{
		Slots:      slots,
		Bookings:   bookings,
		Payments:   paymentService,
		Dispatcher: dispatcher,
		Accounts:   store.Accounts(),
		Reporter:   cfg.reporter,
		Metrics:    cfg.metrics,
		Policy:     cfg.policy,
		Logger:     logger,
	})
	reservations.SetClock(clock.Now)

	t.Cleanup(dispatcher.Wait)

	return &fixture{
		store:        store,
		slotRepo:     slotRepo,
		bookingRepo:  bookingRepo,
		slots:        slots,
		bookings:     bookings,
		payments:     paymentService,
		dispatcher:   dispatcher,
		reservations: reservations,
		clock:        clock,
	}
}

func (f *fixture) createSlot(t *testing.T, providerID string, start time.Time) *entities.Slot {
	t.Helper()
	slot, err := f.slots.CreateSlot(context.Background(), providerID, start, start.Add(time.Hour))
	require.NoError(t, err)
	return slot
}

func (f *fixture) reserve(t *testing.T, patientID, slotID string) *entities.Booking {
	t.Helper()
	booking, err := f.reservations.Reserve(context.Background(), services.ReserveRequest{
		PatientID:     patientID,
		SlotID:        slotID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})
	require.NoError(t, err)
	return booking
}

func (f *fixture) slotStatus(t *testing.T, slotID string) entities.SlotStatus {
	t.Helper()
	slot, err := f.slotRepo.GetByID(context.Background(), slotID)
	require.NoError(t, err)
	return slot.Status
}

// failingBookingCreate wraps a booking repository whose Create always fails.
type failingBookingCreate struct {
	repositories.BookingRepository
	err error
}

func (r *failingBookingCreate) Create(ctx context.Context, booking *entities.Booking) error {
	return r.err
}

// failingRelease wraps a slot repository that refuses claimed → available.
type failingRelease struct {
	repositories.SlotRepository
}

func (r *failingRelease) CompareAndSwapStatus(ctx context.Context, id string, expected, next entities.SlotStatus) (*entities.Slot, error) {
	if expected == entities.SlotStatusClaimed && next == entities.SlotStatusAvailable {
		return nil, errors.New("store unreachable")
	}
	return r.SlotRepository.CompareAndSwapStatus(ctx, id, expected, next)
}

type MockNotificationHandler struct {
	mock.Mock
	name string
}

func newMockHandler(name string) *MockNotificationHandler {
	return &MockNotificationHandler{name: name}
}

func (m *MockNotificationHandler) Name() string { return m.name }

func (m *MockNotificationHandler) Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.DeliveryReceipt), args.Error(1)
}

type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, failure compensation.Failure) error {
	args := m.Called(ctx, failure)
	return args.Error(0)
}

type MockPaymentProvider struct {
	mock.Mock
	method entities.PaymentMethod
}

func (m *MockPaymentProvider) Method() entities.PaymentMethod { return m.method }

func (m *MockPaymentProvider) Charge(ctx context.Context, req entities.PaymentRequest) (*entities.PaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PaymentResult), args.Error(1)
}

func (m *MockPaymentProvider) Refund(ctx context.Context, transactionID string, amountCents int64) (string, error) {
	args := m.Called(ctx, transactionID, amountCents)
	return args.String(0), args.Error(1)
}
