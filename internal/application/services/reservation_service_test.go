package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
	"github.com/zatekoja/therapybooking/pkg/compensation"
	"github.com/zatekoja/therapybooking/pkg/config"
	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

func TestReservationService_ReserveAndCancel(t *testing.T) {
	// 30 hours before the session
	f := newFixture(t, time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	slot := f.createSlot(t, "provider-p", sessionStart)

	booking, err := f.reservations.Reserve(ctx, services.ReserveRequest{
		PatientID:     "patient-a",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusConfirmed, booking.Status)
	assert.Equal(t, entities.SlotStatusClaimed, f.slotStatus(t, slot.ID))

	_, err = f.reservations.Reserve(ctx, services.ReserveRequest{
		PatientID:     "patient-b",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSlotUnavailable))

	cancelled, err := f.reservations.Cancel(ctx, booking.ID, "patient-a", "reason")
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, entities.SlotStatusAvailable, f.slotStatus(t, slot.ID))

	again := f.reserve(t, "patient-b", slot.ID)
	assert.Equal(t, "patient-b", again.PatientID)
}

func TestReservationService_Reserve_MutualExclusion(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	slot := f.createSlot(t, "provider-1", sessionStart)

	const contenders = 25
	var (
		wg          sync.WaitGroup
		successes   int32
		unavailable int32
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.reservations.Reserve(context.Background(), services.ReserveRequest{
				PatientID:     "patient-" + string(rune('a'+i)),
				SlotID:        slot.ID,
				PaymentMethod: entities.PaymentMethodCreditCard,
			})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case apperrors.HasCode(err, apperrors.CodeSlotUnavailable):
				atomic.AddInt32(&unavailable, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(contenders-1), unavailable)

	active, err := f.bookings.FindActiveBySlot(context.Background(), slot.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestReservationService_Reserve_InvalidPaymentMethod(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	slot := f.createSlot(t, "provider-1", sessionStart)

	_, err := f.reservations.Reserve(context.Background(), services.ReserveRequest{
		PatientID:     "patient-1",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethod("bitcoin"),
	})

	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidPaymentMethod))
	assert.Equal(t, entities.SlotStatusAvailable, f.slotStatus(t, slot.ID))
}

func TestReservationService_Reserve_CompensatesClaim(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour),
		withBookingRepo(func(r repositories.BookingRepository) repositories.BookingRepository {
			return &failingBookingCreate{BookingRepository: r, err: errors.New("connection reset")}
		}),
	)
	slot := f.createSlot(t, "provider-1", sessionStart)

	_, err := f.reservations.Reserve(context.Background(), services.ReserveRequest{
		PatientID:     "patient-1",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})

	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeInternal, appErr.Type)
	require.NotNil(t, appErr.Compensated)
	assert.True(t, *appErr.Compensated)
	assert.Equal(t, entities.SlotStatusAvailable, f.slotStatus(t, slot.ID))
}

func TestReservationService_Reserve_CompensationFailureIsReported(t *testing.T) {
	reporter := new(MockReporter)
	reporter.On("Report", mock.Anything, mock.MatchedBy(func(failure compensation.Failure) bool {
		return failure.Operation == "reserve" && failure.Step.Kind == services.KindReleaseSlot
	})).Return(nil).Once()

	f := newFixture(t, sessionStart.Add(-72*time.Hour),
		withBookingRepo(func(r repositories.BookingRepository) repositories.BookingRepository {
			return &failingBookingCreate{BookingRepository: r, err: errors.New("connection reset")}
		}),
		withSlotRepo(func(r repositories.SlotRepository) repositories.SlotRepository {
			return &failingRelease{SlotRepository: r}
		}),
		withReporter(reporter),
	)
	slot := f.createSlot(t, "provider-1", sessionStart)

	_, err := f.reservations.Reserve(context.Background(), services.ReserveRequest{
		PatientID:     "patient-1",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.NotNil(t, appErr.Compensated)
	assert.False(t, *appErr.Compensated)
	assert.Equal(t, entities.SlotStatusClaimed, f.slotStatus(t, slot.ID))
	reporter.AssertExpectations(t)
}

type cancellingBookingCreate struct {
	repositories.BookingRepository
	cancel context.CancelFunc
}

func (r *cancellingBookingCreate) Create(ctx context.Context, booking *entities.Booking) error {
	r.cancel()
	return ctx.Err()
}

func TestReservationService_Reserve_CompensatesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, sessionStart.Add(-72*time.Hour),
		withBookingRepo(func(r repositories.BookingRepository) repositories.BookingRepository {
			return &cancellingBookingCreate{BookingRepository: r, cancel: cancel}
		}),
	)
	slot := f.createSlot(t, "provider-1", sessionStart)

	_, err := f.reservations.Reserve(ctx, services.ReserveRequest{
		PatientID:     "patient-1",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	require.NotNil(t, appErr.Compensated)
	assert.True(t, *appErr.Compensated)
	assert.Equal(t, entities.SlotStatusAvailable, f.slotStatus(t, slot.ID))
}

func TestReservationService_NotificationFailuresAreIsolated(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	ctx := context.Background()
	require.NoError(t, f.store.Accounts().Create(ctx, &entities.Account{
		ID: "patient-1", Role: entities.RolePatient, Name: "Ada", Email: "ada@example.com",
	}))

	failing := services.NewFuncHandler("failing", func(ctx context.Context, e *entities.Event) (*entities.DeliveryReceipt, error) {
		return nil, errors.New("smtp unavailable")
	})
	panicking := services.NewFuncHandler("panicking", func(ctx context.Context, e *entities.Event) (*entities.DeliveryReceipt, error) {
		panic("boom")
	})
	healthy := newMockHandler("healthy")
	healthy.On("Deliver", mock.Anything, mock.MatchedBy(func(e *entities.Event) bool {
		return e.Type == entities.EventBookingCreated && e.Content != ""
	})).Return(&entities.DeliveryReceipt{Handler: "healthy"}, nil).Twice()

	require.NoError(t, f.dispatcher.Subscribe(entities.EventBookingCreated, failing))
	require.NoError(t, f.dispatcher.Subscribe(entities.EventBookingCreated, panicking))
	require.NoError(t, f.dispatcher.Subscribe(entities.EventBookingCreated, healthy))

	slot := f.createSlot(t, "provider-1", sessionStart)
	booking := f.reserve(t, "patient-1", slot.ID)
	f.dispatcher.Wait()

	assert.Equal(t, entities.BookingStatusConfirmed, booking.Status)
	healthy.AssertExpectations(t)

	var recipients []string
	for _, call := range healthy.Calls {
		recipients = append(recipients, call.Arguments.Get(1).(*entities.Event).Recipient.AccountID)
	}
	assert.ElementsMatch(t, []string{"patient-1", "provider-1"}, recipients)
}

func TestReservationService_CancelPublishesEvent(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	handler := newMockHandler("recorder")
	handler.On("Deliver", mock.Anything, mock.MatchedBy(func(e *entities.Event) bool {
		return e.Type == entities.EventBookingCancelled && e.Data["status"] == "cancelled"
	})).Return(&entities.DeliveryReceipt{Handler: "recorder"}, nil).Twice()
	require.NoError(t, f.dispatcher.Subscribe(entities.EventBookingCancelled, handler))

	slot := f.createSlot(t, "provider-1", sessionStart)
	booking := f.reserve(t, "patient-1", slot.ID)

	_, err := f.reservations.Cancel(context.Background(), booking.ID, "provider-1", "provider unwell")
	require.NoError(t, err)
	f.dispatcher.Wait()

	handler.AssertExpectations(t)
}

func TestReservationService_PayAndRefund(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	ctx := context.Background()
	received := newMockHandler("payments")
	received.On("Deliver", mock.Anything, mock.Anything).Return(&entities.DeliveryReceipt{}, nil)
	require.NoError(t, f.dispatcher.Subscribe(entities.EventPaymentReceived, received))

	slot := f.createSlot(t, "provider-1", sessionStart)
	booking := f.reserve(t, "patient-1", slot.ID)

	_, err := f.reservations.PayBooking(ctx, booking.ID, "provider-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	paid, err := f.reservations.PayBooking(ctx, booking.ID, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusPaid, paid.PaymentStatus)
	require.NotNil(t, paid.TransactionID)
	assert.Contains(t, *paid.TransactionID, "CC-")

	_, err = f.reservations.PayBooking(ctx, booking.ID, "patient-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	cancelled, err := f.reservations.Cancel(ctx, booking.ID, "patient-1", "")
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusRefunded, cancelled.PaymentStatus)

	f.dispatcher.Wait()
	received.AssertNumberOfCalls(t, "Deliver", 2)
}

func TestReservationService_PayBooking_ChargeFailure(t *testing.T) {
	provider := &MockPaymentProvider{method: entities.PaymentMethodCreditCard}
	provider.On("Charge", mock.Anything, mock.AnythingOfType("entities.PaymentRequest")).
		Return(nil, errors.New("card declined")).Once()
	provider.On("Charge", mock.Anything, mock.AnythingOfType("entities.PaymentRequest")).
		Return(&entities.PaymentResult{TransactionID: "CC-retry"}, nil).Once()

	f := newFixture(t, sessionStart.Add(-72*time.Hour), withPayments(provider))
	ctx := context.Background()
	failed := newMockHandler("failed")
	failed.On("Deliver", mock.Anything, mock.Anything).Return(&entities.DeliveryReceipt{}, nil)
	require.NoError(t, f.dispatcher.Subscribe(entities.EventPaymentFailed, failed))

	slot := f.createSlot(t, "provider-1", sessionStart)
	booking := f.reserve(t, "patient-1", slot.ID)

	_, err := f.reservations.PayBooking(ctx, booking.ID, "patient-1")
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeExternal, appErr.Type)

	stored, err := f.bookings.Get(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusFailed, stored.PaymentStatus)

	paid, err := f.reservations.PayBooking(ctx, booking.ID, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, "CC-retry", *paid.TransactionID)

	f.dispatcher.Wait()
	failed.AssertNumberOfCalls(t, "Deliver", 2)
	provider.AssertExpectations(t)
}

func TestReservationService_WithdrawSlot(t *testing.T) {
	t.Run("available slot", func(t *testing.T) {
		f := newFixture(t, sessionStart.Add(-72*time.Hour))
		slot := f.createSlot(t, "provider-1", sessionStart)

		_, err := f.reservations.WithdrawSlot(context.Background(), "provider-2", slot.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

		withdrawn, err := f.reservations.WithdrawSlot(context.Background(), "provider-1", slot.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.SlotStatusCancelled, withdrawn.Status)

		_, err = f.reservations.WithdrawSlot(context.Background(), "provider-1", slot.ID)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
	})

	t.Run("booked slot inside the notice window", func(t *testing.T) {
		f := newFixture(t, sessionStart.Add(-72*time.Hour))
		ctx := context.Background()
		slot := f.createSlot(t, "provider-1", sessionStart)
		booking := f.reserve(t, "patient-1", slot.ID)
		_, err := f.reservations.PayBooking(ctx, booking.ID, "patient-1")
		require.NoError(t, err)

		f.clock.Set(sessionStart.Add(-2 * time.Hour))
		withdrawn, err := f.reservations.WithdrawSlot(ctx, "provider-1", slot.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.SlotStatusCancelled, withdrawn.Status)

		stored, err := f.bookings.Get(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.BookingStatusCancelled, stored.Status)
		assert.Equal(t, entities.PaymentStatusRefunded, stored.PaymentStatus)
		require.NotNil(t, stored.CancellationReason)
		assert.Equal(t, "slot withdrawn by provider", *stored.CancellationReason)

		_, err = f.reservations.Reserve(ctx, services.ReserveRequest{
			PatientID:     "patient-2",
			SlotID:        slot.ID,
			PaymentMethod: entities.PaymentMethodCreditCard,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeSlotUnavailable))
	})
}

func TestReservationService_Reserve_ElapsedSlot(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	ctx := context.Background()
	slot := f.createSlot(t, "provider-1", sessionStart)

	f.clock.Set(sessionStart.Add(2 * time.Hour))
	_, err := f.reservations.Reserve(ctx, services.ReserveRequest{
		PatientID:     "patient-1",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})

	assert.True(t, apperrors.HasCode(err, apperrors.CodeSlotUnavailable))
	assert.Equal(t, entities.SlotStatusAvailable, f.slotStatus(t, slot.ID))

	_, err = f.bookingRepo.FindActiveBySlot(ctx, slot.ID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestReservationService_Reserve_RecordsDuration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := observability.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	f := newFixture(t, sessionStart.Add(-72*time.Hour), withMetrics(metrics))
	slot := f.createSlot(t, "provider-1", sessionStart)

	f.reserve(t, "patient-1", slot.ID)
	_, err = f.reservations.Reserve(context.Background(), services.ReserveRequest{
		PatientID:     "patient-2",
		SlotID:        slot.ID,
		PaymentMethod: entities.PaymentMethodCreditCard,
	})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]uint64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "reservation.reserve.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			for _, dp := range hist.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Count
			}
		}
	}
	assert.Equal(t, map[string]uint64{
		services.OutcomeSuccess:  1,
		services.OutcomeRejected: 1,
	}, outcomes)
}

func TestReservationService_CompleteMarksSlotUsed(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	ctx := context.Background()
	first := f.createSlot(t, "provider-1", sessionStart)
	second := f.createSlot(t, "provider-1", sessionStart.Add(time.Hour))
	a := f.reserve(t, "patient-1", first.ID)
	b := f.reserve(t, "patient-2", second.ID)

	completed, err := f.reservations.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusCompleted, completed.Status)
	assert.Equal(t, entities.SlotStatusCompleted, f.slotStatus(t, first.ID))

	missed, err := f.reservations.MarkNoShow(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusNoShow, missed.Status)
	assert.Equal(t, entities.SlotStatusCompleted, f.slotStatus(t, second.ID))
}

func TestReservationService_AutomaticReminder(t *testing.T) {
	withLead := withPolicy(func(p *config.ReservationConfig) {
		p.ReminderLead = 24 * time.Hour
		p.ReminderChannel = "sms"
	})

	t.Run("scheduled ahead of the session", func(t *testing.T) {
		f := newFixture(t, sessionStart.Add(-72*time.Hour), withLead)
		slot := f.createSlot(t, "provider-1", sessionStart)

		booking := f.reserve(t, "patient-1", slot.ID)

		require.Len(t, booking.Reminders, 1)
		assert.Equal(t, entities.ChannelSMS, booking.Reminders[0].Channel)
		assert.True(t, sessionStart.Add(-24*time.Hour).Equal(booking.Reminders[0].ScheduledAt))
	})

	t.Run("skipped when the lead time has passed", func(t *testing.T) {
		f := newFixture(t, sessionStart.Add(-2*time.Hour), withLead)
		slot := f.createSlot(t, "provider-1", sessionStart)

		booking := f.reserve(t, "patient-1", slot.ID)

		assert.Empty(t, booking.Reminders)
	})
}

func TestReservationService_Visibility(t *testing.T) {
	f := newFixture(t, sessionStart.Add(-72*time.Hour))
	ctx := context.Background()
	first := f.createSlot(t, "provider-1", sessionStart)
	second := f.createSlot(t, "provider-1", sessionStart.Add(time.Hour))
	a := f.reserve(t, "patient-1", first.ID)
	f.reserve(t, "patient-2", second.ID)

	_, err := f.reservations.GetBooking(ctx, entities.Requester{ID: "patient-2", Role: entities.RolePatient}, a.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	got, err := f.reservations.GetBooking(ctx, entities.Requester{ID: "admin-1", Role: entities.RoleAdmin}, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	mine, err := f.reservations.ListBookings(ctx, entities.Requester{ID: "patient-1", Role: entities.RolePatient}, true, 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	theirs, err := f.reservations.ListBookings(ctx, entities.Requester{ID: "provider-1", Role: entities.RoleTherapist}, false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, theirs, 2)

	_, err = f.reservations.ScheduleReminder(ctx, entities.Requester{ID: "patient-2", Role: entities.RolePatient}, a.ID, entities.ChannelEmail, sessionStart.Add(-time.Hour))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestReservationService_PaymentMethods(t *testing.T) {
	f := newFixture(t, sessionStart)

	assert.Equal(t, []entities.PaymentMethod{
		entities.PaymentMethodBankTransfer,
		entities.PaymentMethodCreditCard,
		entities.PaymentMethodPayPal,
	}, f.reservations.PaymentMethods())
}
