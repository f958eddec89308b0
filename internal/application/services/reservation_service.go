package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
	"github.com/zatekoja/therapybooking/pkg/compensation"
	"github.com/zatekoja/therapybooking/pkg/config"
	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// Compensation kinds recorded by reservation operations
const (
	KindReleaseSlot compensation.Kind = "release_slot"
)

const (
	compensationTimeout   = 10 * time.Second
	withdrawnReason       = "slot withdrawn by provider"
	maxWithdrawalAttempts = 3
)

// ReserveRequest is the input of Reserve
type ReserveRequest struct {
	PatientID     string
	SlotID        string
	PaymentMethod entities.PaymentMethod
	Notes         *string
}

// ReservationDeps are the collaborators of a ReservationService. Accounts,
// Reporter, Recorder and Metrics are optional.
type ReservationDeps struct {
	Slots      *SlotService
	Bookings   *BookingService
	Payments   *PaymentService
	Dispatcher *NotificationDispatcher
	Accounts   repositories.AccountRepository
	Reporter   compensation.Reporter
	Recorder   Recorder
	Metrics    *observability.Metrics
	Policy     config.ReservationConfig
	Logger     zerolog.Logger
}

// ReservationService is the only entry point that creates bookings. It
// composes slot claiming and booking creation, compensating the claim when
// creation fails.
type ReservationService struct {
	slots    *SlotService
	bookings *BookingService
	payments *PaymentService
	events   *bookingEvents
	reporter compensation.Reporter
	recorder Recorder
	metrics  *observability.Metrics
	policy   config.ReservationConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewReservationService creates a new reservation service
func NewReservationService(deps ReservationDeps) *ReservationService {
	logger := deps.Logger.With().Str("component", "reservation_service").Logger()
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if deps.Dispatcher != nil {
		deps.Dispatcher.SetRecorder(recorder)
	}
	if deps.Reporter != nil {
		deps.Bookings.SetReporter(deps.Reporter)
	}

	return &ReservationService{
		slots:    deps.Slots,
		bookings: deps.Bookings,
		payments: deps.Payments,
		events: &bookingEvents{
			dispatcher: deps.Dispatcher,
			accounts:   deps.Accounts,
			loc:        deps.Policy.Location(),
			logger:     logger,
		},
		reporter: deps.Reporter,
		recorder: recorder,
		metrics:  deps.Metrics,
		policy:   deps.Policy,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source of the service and its lifecycle managers
func (s *ReservationService) SetClock(now func() time.Time) {
	s.now = now
	s.slots.SetClock(now)
	s.bookings.SetClock(now)
}

// PaymentMethods lists the accepted payment methods
func (s *ReservationService) PaymentMethods() []entities.PaymentMethod {
	return s.payments.Methods()
}

// Reserve claims the slot and creates a confirmed booking for the patient.
// When booking creation fails the claim is undone and the returned error
// carries whether that compensation succeeded.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (booking *entities.Booking, err error) {
	ctx, span := observability.StartSpan(ctx, "ReservationService.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("slot.id", req.SlotID),
		attribute.String("payment.method", string(req.PaymentMethod)),
	)

	start := time.Now()
	outcome := OutcomeRejected
	defer func() {
		s.recorder.ObserveReservation(outcome)
		observability.RecordReserveDuration(ctx, s.metrics, outcome, time.Since(start))
	}()

	if !s.payments.Supports(req.PaymentMethod) {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidPaymentMethod,
			"unsupported payment method "+string(req.PaymentMethod))
	}

	slot, err := s.slots.Claim(ctx, req.SlotID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, publicError(err, "failed to claim slot")
	}

	ledger := compensation.NewLedger("reserve", s.compensations(), s.logger, s.ledgerOptions()...)
	ledger.Record(KindReleaseSlot, slot.ID, map[string]string{"patient_id": req.PatientID})

	booking, err = s.bookings.Create(ctx, req.PatientID, slot, BookingOptions{
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		observability.RecordError(span, err)
		compensated := s.unwind(ctx, ledger, err)
		outcome = OutcomeFailed
		return nil, apperrors.WithCompensated(publicError(err, "failed to create booking"), compensated)
	}
	ledger.Discard()

	outcome = OutcomeSuccess
	logger := observability.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("operation_id", ledger.OperationID()).
		Str("booking_id", booking.ID).
		Str("slot_id", slot.ID).
		Msg("reservation completed")

	s.events.emit(ctx, entities.EventBookingCreated, booking, slot, nil)
	s.scheduleAutomaticReminder(ctx, booking, slot)

	return booking, nil
}

// Cancel cancels a booking on behalf of one of its participants, refunds a
// paid booking and publishes booking.cancelled.
func (s *ReservationService) Cancel(ctx context.Context, bookingID, requesterID, reason string) (*entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "ReservationService.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	booking, err := s.bookings.Cancel(ctx, bookingID, requesterID, reason)
	if err != nil {
		observability.RecordError(span, err)
		s.recorder.ObserveCancellation(OutcomeRejected)
		return nil, publicError(err, "failed to cancel booking")
	}
	s.recorder.ObserveCancellation(OutcomeSuccess)

	booking = s.refundIfPaid(ctx, booking)
	s.events.emit(ctx, entities.EventBookingCancelled, booking, s.lookupSlot(ctx, booking.SlotID), nil)
	return booking, nil
}

// WithdrawSlot lets a provider take one of its slots off the market. A live
// booking on the slot is cancelled first, without the notice window.
func (s *ReservationService) WithdrawSlot(ctx context.Context, providerID, slotID string) (*entities.Slot, error) {
	ctx, span := observability.StartSpan(ctx, "ReservationService.WithdrawSlot")
	defer span.End()

	slot, err := s.slots.GetSlot(ctx, slotID)
	if err != nil {
		return nil, publicError(err, "failed to load slot")
	}
	if slot.ProviderID != providerID {
		return nil, apperrors.NewForbiddenError("only the owning provider can withdraw a slot")
	}

	for attempt := 0; attempt < maxWithdrawalAttempts; attempt++ {
		switch slot.Status {
		case entities.SlotStatusAvailable:
			cancelled, err := s.slots.transition(ctx, slotID, entities.SlotStatusAvailable, entities.SlotStatusCancelled)
			if err == nil {
				return cancelled, nil
			}
			if !apperrors.HasCode(err, apperrors.CodeInvalidState) {
				return nil, publicError(err, "failed to withdraw slot")
			}

		case entities.SlotStatusClaimed:
			booking, err := s.bookings.FindActiveBySlot(ctx, slotID)
			if err != nil {
				return nil, publicError(err, "failed to withdraw slot")
			}
			if booking != nil {
				cancelled, err := s.bookings.cancelHeld(ctx, booking, withdrawnReason)
				if err != nil {
					return nil, publicError(err, "failed to cancel booking of withdrawn slot")
				}
				s.recorder.ObserveCancellation(OutcomeSuccess)
				cancelled = s.refundIfPaid(ctx, cancelled)
				s.events.emit(ctx, entities.EventBookingCancelled, cancelled, slot, map[string]interface{}{"withdrawn": true})
			}
			withdrawn, err := s.slots.transition(ctx, slotID, entities.SlotStatusClaimed, entities.SlotStatusCancelled)
			if err == nil {
				return withdrawn, nil
			}
			if !apperrors.HasCode(err, apperrors.CodeInvalidState) {
				return nil, publicError(err, "failed to withdraw slot")
			}

		default:
			return nil, apperrors.NewConflictError(apperrors.CodeInvalidState,
				"slot is "+string(slot.Status)+" and cannot be withdrawn")
		}

		if slot, err = s.slots.GetSlot(ctx, slotID); err != nil {
			return nil, publicError(err, "failed to reload slot")
		}
	}

	return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "slot changed concurrently, try again")
}

// Confirm approves a pending booking and publishes booking.confirmed
func (s *ReservationService) Confirm(ctx context.Context, bookingID string) (*entities.Booking, error) {
	booking, err := s.bookings.Confirm(ctx, bookingID)
	if err != nil {
		return nil, publicError(err, "failed to confirm booking")
	}
	s.events.emit(ctx, entities.EventBookingConfirmed, booking, s.lookupSlot(ctx, booking.SlotID), nil)
	return booking, nil
}

// Complete marks a booking as attended and its slot as used
func (s *ReservationService) Complete(ctx context.Context, bookingID string) (*entities.Booking, error) {
	booking, err := s.bookings.Complete(ctx, bookingID)
	if err != nil {
		return nil, publicError(err, "failed to complete booking")
	}
	s.completeSlot(ctx, booking)
	return booking, nil
}

// MarkNoShow marks a booking as missed and its slot as used
func (s *ReservationService) MarkNoShow(ctx context.Context, bookingID string) (*entities.Booking, error) {
	booking, err := s.bookings.MarkNoShow(ctx, bookingID)
	if err != nil {
		return nil, publicError(err, "failed to mark booking as no-show")
	}
	s.completeSlot(ctx, booking)
	return booking, nil
}

// ScheduleReminder appends a reminder to a booking the requester takes part in
func (s *ReservationService) ScheduleReminder(ctx context.Context, requester entities.Requester, bookingID string, channel entities.NotificationChannel, when time.Time) (*entities.Reminder, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, publicError(err, "failed to load booking")
	}
	if !requester.IsAdmin() && !booking.IsParticipant(requester.ID) {
		return nil, apperrors.NewForbiddenError("not a participant of this booking")
	}

	reminder, err := s.bookings.ScheduleReminder(ctx, bookingID, channel, when)
	if err != nil {
		return nil, publicError(err, "failed to schedule reminder")
	}
	return reminder, nil
}

// PayBooking charges the booking with its payment method and publishes
// payment.received or payment.failed.
func (s *ReservationService) PayBooking(ctx context.Context, bookingID, requesterID string) (*entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "ReservationService.PayBooking")
	defer span.End()

	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, publicError(err, "failed to load booking")
	}
	if booking.PatientID != requesterID {
		return nil, apperrors.NewForbiddenError("only the patient can pay for a booking")
	}
	if !booking.Status.IsActive() {
		return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "booking is "+string(booking.Status))
	}
	if booking.PaymentStatus != entities.PaymentStatusPending && booking.PaymentStatus != entities.PaymentStatusFailed {
		return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "booking payment is already "+string(booking.PaymentStatus))
	}

	slot := s.lookupSlot(ctx, booking.SlotID)

	result, chargeErr := s.payments.Charge(ctx, booking)
	if chargeErr != nil {
		observability.RecordError(span, chargeErr)
		if failed, err := s.bookings.RecordPayment(ctx, booking, entities.PaymentStatusFailed, ""); err == nil {
			s.events.emit(ctx, entities.EventPaymentFailed, failed, slot, nil)
		} else {
			s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("failed to record payment failure")
		}
		return nil, publicError(chargeErr, "payment failed")
	}

	paid, err := s.bookings.RecordPayment(ctx, booking, entities.PaymentStatusPaid, result.TransactionID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("booking_id", bookingID).
			Str("transaction_id", result.TransactionID).
			Bool("reconciliation_required", true).
			Msg("payment collected but not recorded")
		return nil, publicError(err, "failed to record payment")
	}

	s.events.emit(ctx, entities.EventPaymentReceived, paid, slot, map[string]interface{}{"transaction_id": result.TransactionID})
	return paid, nil
}

// GetBooking returns a booking visible to the requester
func (s *ReservationService) GetBooking(ctx context.Context, requester entities.Requester, bookingID string) (*entities.Booking, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, publicError(err, "failed to load booking")
	}
	if !requester.IsAdmin() && !booking.IsParticipant(requester.ID) {
		return nil, apperrors.NewForbiddenError("not a participant of this booking")
	}
	return booking, nil
}

// ListBookings returns the requester's bookings. Patients see bookings they
// made, therapists see bookings on their slots.
func (s *ReservationService) ListBookings(ctx context.Context, requester entities.Requester, upcomingOnly bool, limit, offset int) ([]*entities.Booking, error) {
	filter := repositories.BookingFilter{Limit: limit, Offset: offset}
	if upcomingOnly {
		filter.Statuses = []entities.BookingStatus{entities.BookingStatusPending, entities.BookingStatusConfirmed}
	}

	var (
		bookings []*entities.Booking
		err      error
	)
	switch requester.Role {
	case entities.RoleTherapist:
		bookings, err = s.bookings.ListForProvider(ctx, requester.ID, filter)
	default:
		bookings, err = s.bookings.ListForPatient(ctx, requester.ID, filter)
	}
	if err != nil {
		return nil, publicError(err, "failed to list bookings")
	}
	return bookings, nil
}

func (s *ReservationService) compensations() map[compensation.Kind]compensation.Handler {
	return map[compensation.Kind]compensation.Handler{
		KindReleaseSlot: func(ctx context.Context, step compensation.Step) error {
			_, err := s.slots.Release(ctx, step.EntityID)
			return err
		},
	}
}

func (s *ReservationService) ledgerOptions() []compensation.Option {
	if s.reporter == nil {
		return nil
	}
	return []compensation.Option{compensation.WithReporter(s.reporter)}
}

// unwind runs the ledger on a context that survives cancellation of the
// request, so a timed-out step is still compensated.
func (s *ReservationService) unwind(ctx context.Context, ledger *compensation.Ledger, cause error) bool {
	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	result := ledger.UnwindAll(undoCtx, cause)
	if result.Compensated() {
		s.recorder.ObserveCompensation(OutcomeCompensated)
	} else {
		s.recorder.ObserveCompensation(OutcomeInconsistent)
	}
	return result.Compensated()
}

func (s *ReservationService) refundIfPaid(ctx context.Context, booking *entities.Booking) *entities.Booking {
	if booking.PaymentStatus != entities.PaymentStatusPaid {
		return booking
	}

	refundID, err := s.payments.Refund(ctx, booking)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("booking_id", booking.ID).
			Bool("reconciliation_required", true).
			Msg("refund failed for cancelled booking")
		return booking
	}

	refunded, err := s.bookings.RecordPayment(ctx, booking, entities.PaymentStatusRefunded, "")
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("booking_id", booking.ID).
			Str("refund_id", refundID).
			Msg("refund issued but not recorded")
		return booking
	}
	s.logger.Info().Str("booking_id", booking.ID).Str("refund_id", refundID).Msg("booking refunded")
	return refunded
}

func (s *ReservationService) scheduleAutomaticReminder(ctx context.Context, booking *entities.Booking, slot *entities.Slot) {
	if s.policy.ReminderLead <= 0 {
		return
	}
	when := slot.Start.Add(-s.policy.ReminderLead)
	if !when.After(s.now()) {
		return
	}

	channel := entities.NotificationChannel(s.policy.ReminderChannel)
	reminder, err := s.bookings.ScheduleReminder(ctx, booking.ID, channel, when)
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("failed to schedule automatic reminder")
		return
	}
	booking.Reminders = append(booking.Reminders, *reminder)
}

func (s *ReservationService) completeSlot(ctx context.Context, booking *entities.Booking) {
	if _, err := s.slots.Complete(ctx, booking.SlotID); err != nil {
		s.logger.Warn().
			Err(err).
			Str("booking_id", booking.ID).
			Str("slot_id", booking.SlotID).
			Msg("failed to mark slot completed")
	}
}

func (s *ReservationService) lookupSlot(ctx context.Context, slotID string) *entities.Slot {
	slot, err := s.slots.GetSlot(ctx, slotID)
	if err != nil {
		s.logger.Debug().Err(err).Str("slot_id", slotID).Msg("slot lookup failed")
		return nil
	}
	return slot
}

// publicError keeps AppErrors and turns anything else into Internal so that
// store specific error shapes never reach callers.
func publicError(err error, message string) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewInternalError(message, err)
}
