package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/pkg/config"
	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// SlotService owns the slot state machine. Every status change is a single
// conditional write against the store.
type SlotService struct {
	repo   repositories.SlotRepository
	policy config.ReservationConfig
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

// NewSlotService creates a new slot service
func NewSlotService(repo repositories.SlotRepository, policy config.ReservationConfig, logger zerolog.Logger) *SlotService {
	return &SlotService{
		repo:   repo,
		policy: policy,
		loc:    policy.Location(),
		logger: logger.With().Str("component", "slot_service").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (s *SlotService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateSlot validates and persists a new available slot
func (s *SlotService) CreateSlot(ctx context.Context, providerID string, start, end time.Time) (*entities.Slot, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, apperrors.NewValidationError("provider id is required")
	}
	if !end.After(start) {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidInterval, "slot end must be after start")
	}

	duration := end.Sub(start)
	if duration < s.policy.SlotMinDuration || duration > s.policy.SlotMaxDuration {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidInterval,
			"slot duration must be between "+s.policy.SlotMinDuration.String()+" and "+s.policy.SlotMaxDuration.String())
	}

	now := s.now().UTC()
	if !start.After(now) {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidInterval, "slot must start in the future")
	}

	if !s.withinBusinessHours(start, end) {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeOutsideBusinessHours, "slot falls outside business hours")
	}

	overlapping, err := s.repo.FindOverlapping(ctx, providerID, start, end)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to check overlapping slots", err)
	}
	if len(overlapping) > 0 {
		return nil, apperrors.NewConflictError(apperrors.CodeOverlapConflict, "slot overlaps an existing slot "+overlapping[0].ID)
	}

	slot := &entities.Slot{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		Start:      start.UTC(),
		End:        end.UTC(),
		Status:     entities.SlotStatusAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		if errors.Is(err, repositories.ErrOverlap) {
			return nil, apperrors.NewConflictError(apperrors.CodeOverlapConflict, "slot overlaps an existing slot")
		}
		return nil, apperrors.NewInternalError("failed to create slot", err)
	}

	s.logger.Info().
		Str("slot_id", slot.ID).
		Str("provider_id", providerID).
		Time("start", slot.Start).
		Time("end", slot.End).
		Msg("slot created")
	return slot, nil
}

// GetSlot retrieves a slot by ID
func (s *SlotService) GetSlot(ctx context.Context, id string) (*entities.Slot, error) {
	slot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("slot not found")
		}
		return nil, apperrors.NewInternalError("failed to get slot", err)
	}
	return slot, nil
}

// Claim moves an available slot to claimed. Of any number of concurrent
// claims on the same slot, exactly one succeeds. Slots that have already
// started cannot be claimed.
func (s *SlotService) Claim(ctx context.Context, slotID string) (*entities.Slot, error) {
	slot, err := s.repo.Claim(ctx, slotID, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrConditionNotMet) || errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.NewConflictError(apperrors.CodeSlotUnavailable, "slot is not available")
		}
		return nil, apperrors.NewInternalError("failed to claim slot", err)
	}
	return slot, nil
}

// Release returns a claimed slot to available. Releasing an available slot
// succeeds without changing it.
func (s *SlotService) Release(ctx context.Context, slotID string) (*entities.Slot, error) {
	slot, err := s.repo.CompareAndSwapStatus(ctx, slotID, entities.SlotStatusClaimed, entities.SlotStatusAvailable)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, repositories.ErrConditionNotMet) {
		return nil, apperrors.NewInternalError("failed to release slot", err)
	}

	current, err := s.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if current.Status == entities.SlotStatusAvailable {
		return current, nil
	}
	return nil, apperrors.NewConflictError(apperrors.CodeInvalidState, "slot is "+string(current.Status)+" and cannot be released")
}

// Cancel withdraws an available or claimed slot. Cancelled slots are final.
func (s *SlotService) Cancel(ctx context.Context, slotID string) (*entities.Slot, error) {
	for _, from := range []entities.SlotStatus{entities.SlotStatusAvailable, entities.SlotStatusClaimed} {
		slot, err := s.repo.CompareAndSwapStatus(ctx, slotID, from, entities.SlotStatusCancelled)
		if err == nil {
			s.logger.Info().Str("slot_id", slotID).Str("from", string(from)).Msg("slot cancelled")
			return slot, nil
		}
		if !errors.Is(err, repositories.ErrConditionNotMet) {
			return nil, apperrors.NewInternalError("failed to cancel slot", err)
		}
	}
	return nil, s.invalidTransition(ctx, slotID, entities.SlotStatusCancelled)
}

// Complete marks a claimed slot as used
func (s *SlotService) Complete(ctx context.Context, slotID string) (*entities.Slot, error) {
	return s.transition(ctx, slotID, entities.SlotStatusClaimed, entities.SlotStatusCompleted)
}

// ListAvailable returns bookable slots of a provider starting in [from, to).
// A zero from means now; a zero to means no upper bound.
func (s *SlotService) ListAvailable(ctx context.Context, providerID string, from, to time.Time, limit int) ([]*entities.Slot, error) {
	now := s.now()
	if from.IsZero() || from.Before(now) {
		from = now
	}
	filter := repositories.SlotFilter{
		Status: entities.SlotStatusAvailable,
		From:   &from,
		Limit:  limit,
	}
	if !to.IsZero() {
		filter.To = &to
	}

	slots, err := s.repo.ListByProvider(ctx, providerID, filter)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list slots", err)
	}
	return slots, nil
}

func (s *SlotService) transition(ctx context.Context, slotID string, from, to entities.SlotStatus) (*entities.Slot, error) {
	slot, err := s.repo.CompareAndSwapStatus(ctx, slotID, from, to)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, repositories.ErrConditionNotMet) {
		return nil, apperrors.NewInternalError("failed to update slot", err)
	}
	return nil, s.invalidTransition(ctx, slotID, to)
}

func (s *SlotService) invalidTransition(ctx context.Context, slotID string, to entities.SlotStatus) error {
	current, err := s.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	return apperrors.NewConflictError(apperrors.CodeInvalidState,
		"slot cannot move from "+string(current.Status)+" to "+string(to))
}

// withinBusinessHours checks both bounds against the configured wall-clock
// window of the same local day.
func (s *SlotService) withinBusinessHours(start, end time.Time) bool {
	ls, le := start.In(s.loc), end.In(s.loc)

	sy, sm, sd := ls.Date()
	ey, em, ed := le.Date()
	if sy != ey || sm != em || sd != ed {
		return false
	}

	open, closing := s.policy.BusinessHoursOpen, s.policy.BusinessHoursClose
	return clockOffset(ls) >= open && clockOffset(le) <= closing
}

func clockOffset(t time.Time) time.Duration {
	h, m, sec := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second +
		time.Duration(t.Nanosecond())
}
