package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/pkg/compensation"
	"github.com/zatekoja/therapybooking/pkg/config"
	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// BookingOptions carries optional booking attributes
type BookingOptions struct {
	PaymentMethod entities.PaymentMethod
	Notes         *string
}

// BookingService owns the booking state machine and cancellation policy.
// Bookings are created only through ReservationService.
type BookingService struct {
	bookings repositories.BookingRepository
	slots    *SlotService
	policy   config.ReservationConfig
	reporter compensation.Reporter
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(bookings repositories.BookingRepository, slots *SlotService, policy config.ReservationConfig, logger zerolog.Logger) *BookingService {
	return &BookingService{
		bookings: bookings,
		slots:    slots,
		policy:   policy,
		logger:   logger.With().Str("component", "booking_service").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

// SetReporter installs the sink for slot releases that could not be applied
func (s *BookingService) SetReporter(r compensation.Reporter) {
	s.reporter = r
}

// Create persists a confirmed booking for a slot that the caller has already
// claimed.
func (s *BookingService) Create(ctx context.Context, patientID string, slot *entities.Slot, opts BookingOptions) (*entities.Booking, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperrors.NewValidationError("patient id is required")
	}
	if slot == nil || slot.ID == "" {
		return nil, apperrors.NewValidationError("slot is required")
	}
	if opts.Notes != nil && utf8.RuneCountInString(*opts.Notes) > s.policy.NotesMaxLength {
		return nil, apperrors.NewValidationError("notes exceed maximum length")
	}

	current, err := s.slots.repo.GetByID(ctx, slot.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.NewConflictError(apperrors.CodeSlotNotClaimed, "slot does not exist")
		}
		return nil, apperrors.NewInternalError("failed to load slot", err)
	}
	if current.Status != entities.SlotStatusClaimed {
		return nil, apperrors.NewConflictError(apperrors.CodeSlotNotClaimed, "slot must be claimed before booking")
	}

	existing, err := s.bookings.FindActiveBySlot(ctx, current.ID)
	switch {
	case err == nil && existing != nil:
		return nil, apperrors.NewConflictError(apperrors.CodeDuplicateBooking, "slot already has an active booking")
	case err != nil && !errors.Is(err, repositories.ErrNotFound):
		return nil, apperrors.NewInternalError("failed to check existing bookings", err)
	}

	now := s.now().UTC()
	booking := &entities.Booking{
		ID:            uuid.New().String(),
		SlotID:        current.ID,
		PatientID:     patientID,
		ProviderID:    current.ProviderID,
		Status:        entities.BookingStatusConfirmed,
		PaymentMethod: opts.PaymentMethod,
		PaymentStatus: entities.PaymentStatusPending,
		AmountCents:   s.policy.SessionPriceCents,
		Currency:      s.policy.Currency,
		Notes:         opts.Notes,
		Reminders:     []entities.Reminder{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, apperrors.NewConflictError(apperrors.CodeDuplicateBooking, "slot already has an active booking")
		}
		return nil, apperrors.NewInternalError("failed to create booking", err)
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("slot_id", booking.SlotID).
		Str("patient_id", patientID).
		Msg("booking created")
	return booking, nil
}

// Get retrieves a booking by ID
func (s *BookingService) Get(ctx context.Context, id string) (*entities.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("booking not found")
		}
		return nil, apperrors.NewInternalError("failed to get booking", err)
	}
	return booking, nil
}

// FindActiveBySlot returns the live booking of a slot, or nil
func (s *BookingService) FindActiveBySlot(ctx context.Context, slotID string) (*entities.Booking, error) {
	booking, err := s.bookings.FindActiveBySlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.NewInternalError("failed to find booking", err)
	}
	return booking, nil
}

// Cancel cancels a pending or confirmed booking on behalf of its patient or
// provider and releases the slot unless its window has already elapsed.
func (s *BookingService) Cancel(ctx context.Context, bookingID, requesterID, reason string) (*entities.Booking, error) {
	if err := s.validateReason(reason); err != nil {
		return nil, err
	}

	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsParticipant(requesterID) {
		return nil, apperrors.NewForbiddenError("only the patient or provider of a booking can cancel it")
	}
	if !booking.Status.CanTransitionTo(entities.BookingStatusCancelled) {
		return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "booking is "+string(booking.Status)+" and cannot be cancelled")
	}

	slot, err := s.slots.GetSlot(ctx, booking.SlotID)
	if err != nil {
		return nil, apperrors.NewInternalError("booking references an unreadable slot", err)
	}

	now := s.now()
	if !s.policy.CancellationPolicyBypass && slot.Start.Sub(now) < s.policy.CancellationNotice {
		return nil, apperrors.New(apperrors.ErrorTypePolicy, apperrors.CodeCancellationWindowExpired,
			"bookings can only be cancelled at least "+s.policy.CancellationNotice.String()+" before the session")
	}

	cancelled, err := s.markCancelled(ctx, booking, reason)
	if err != nil {
		return nil, err
	}
	s.releaseAfterCancel(ctx, cancelled, slot)
	return cancelled, nil
}

// cancelHeld cancels a booking without the notice window and without
// releasing its slot. Used when the provider withdraws the slot itself.
func (s *BookingService) cancelHeld(ctx context.Context, booking *entities.Booking, reason string) (*entities.Booking, error) {
	if !booking.Status.CanTransitionTo(entities.BookingStatusCancelled) {
		return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "booking is "+string(booking.Status)+" and cannot be cancelled")
	}
	return s.markCancelled(ctx, booking, reason)
}

func (s *BookingService) markCancelled(ctx context.Context, booking *entities.Booking, reason string) (*entities.Booking, error) {
	now := s.now().UTC()
	updated := booking.Clone()
	updated.Status = entities.BookingStatusCancelled
	if reason != "" {
		updated.CancellationReason = &reason
	}
	updated.CancelledAt = &now
	updated.UpdatedAt = now

	if err := s.compareAndSwap(ctx, updated, booking.Status); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("slot_id", booking.SlotID).
		Msg("booking cancelled")
	return updated, nil
}

func (s *BookingService) releaseAfterCancel(ctx context.Context, booking *entities.Booking, slot *entities.Slot) {
	if slot.HasElapsed(s.now()) {
		s.logger.Debug().Str("slot_id", slot.ID).Msg("slot window elapsed, not released")
		return
	}

	if _, err := s.slots.Release(ctx, slot.ID); err != nil {
		s.logger.Error().
			Err(err).
			Str("booking_id", booking.ID).
			Str("slot_id", slot.ID).
			Bool("reconciliation_required", true).
			Msg("failed to release slot after cancellation")

		if s.reporter != nil {
			failure := compensation.Failure{
				OperationID: booking.ID,
				Operation:   "cancel_booking",
				Step:        compensation.Step{Kind: KindReleaseSlot, EntityID: slot.ID, RecordedAt: s.now()},
				Cause:       "booking cancelled",
				Error:       err.Error(),
				FailedAt:    s.now(),
			}
			if reportErr := s.reporter.Report(ctx, failure); reportErr != nil {
				s.logger.Error().Err(reportErr).Str("slot_id", slot.ID).Msg("failed to report release failure")
			}
		}
	}
}

// Confirm approves a pending booking. Bookings created through the default
// path are already confirmed.
func (s *BookingService) Confirm(ctx context.Context, bookingID string) (*entities.Booking, error) {
	return s.transition(ctx, bookingID, entities.BookingStatusConfirmed)
}

// Complete marks a confirmed booking as attended
func (s *BookingService) Complete(ctx context.Context, bookingID string) (*entities.Booking, error) {
	return s.transition(ctx, bookingID, entities.BookingStatusCompleted)
}

// MarkNoShow marks a confirmed booking as missed
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID string) (*entities.Booking, error) {
	return s.transition(ctx, bookingID, entities.BookingStatusNoShow)
}

// ScheduleReminder appends a pending reminder. Delivery happens elsewhere.
func (s *BookingService) ScheduleReminder(ctx context.Context, bookingID string, channel entities.NotificationChannel, when time.Time) (*entities.Reminder, error) {
	if !channel.Valid() {
		return nil, apperrors.NewValidationError("unknown reminder channel " + string(channel))
	}
	if when.IsZero() {
		return nil, apperrors.NewValidationError("reminder time is required")
	}

	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.IsActive() {
		return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "reminders can only be scheduled for active bookings")
	}

	reminder := entities.Reminder{
		ID:          uuid.New().String(),
		Channel:     channel,
		ScheduledAt: when.UTC(),
		Status:      entities.ReminderStatusPending,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.bookings.AppendReminder(ctx, bookingID, reminder); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("booking not found")
		}
		return nil, apperrors.NewInternalError("failed to schedule reminder", err)
	}
	return &reminder, nil
}

// RecordPayment stores the payment outcome of a booking
func (s *BookingService) RecordPayment(ctx context.Context, booking *entities.Booking, status entities.PaymentStatus, transactionID string) (*entities.Booking, error) {
	updated := booking.Clone()
	updated.PaymentStatus = status
	if transactionID != "" {
		updated.TransactionID = &transactionID
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.compareAndSwap(ctx, updated, booking.Status); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListForPatient returns bookings of a patient
func (s *BookingService) ListForPatient(ctx context.Context, patientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	bookings, err := s.bookings.ListByPatient(ctx, patientID, filter)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list bookings", err)
	}
	return bookings, nil
}

// ListForProvider returns bookings of a provider
func (s *BookingService) ListForProvider(ctx context.Context, providerID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	bookings, err := s.bookings.ListByProvider(ctx, providerID, filter)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list bookings", err)
	}
	return bookings, nil
}

func (s *BookingService) transition(ctx context.Context, bookingID string, to entities.BookingStatus) (*entities.Booking, error) {
	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(to) {
		return nil, apperrors.NewConflictError(apperrors.CodeInvalidState,
			"booking cannot move from "+string(booking.Status)+" to "+string(to))
	}

	updated := booking.Clone()
	updated.Status = to
	updated.UpdatedAt = s.now().UTC()

	if err := s.compareAndSwap(ctx, updated, booking.Status); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", bookingID).
		Str("from", string(booking.Status)).
		Str("to", string(to)).
		Msg("booking status changed")
	return updated, nil
}

func (s *BookingService) compareAndSwap(ctx context.Context, updated *entities.Booking, expected entities.BookingStatus) error {
	if err := s.bookings.CompareAndSwap(ctx, updated, expected); err != nil {
		switch {
		case errors.Is(err, repositories.ErrConditionNotMet):
			return apperrors.NewConflictError(apperrors.CodeInvalidState, "booking was modified concurrently")
		case errors.Is(err, repositories.ErrNotFound):
			return apperrors.NewNotFoundError("booking not found")
		}
		return apperrors.NewInternalError("failed to update booking", err)
	}
	return nil
}

func (s *BookingService) validateReason(reason string) error {
	if utf8.RuneCountInString(reason) > s.policy.CancellationReasonMaxLength {
		return apperrors.NewValidationError("cancellation reason exceeds maximum length")
	}
	return nil
}
