package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// SlotRepository defines the interface for slot data operations.
// Status changes go through CompareAndSwapStatus only.
type SlotRepository interface {
	// Create persists a new slot. Returns ErrOverlap when the store itself
	// rejects an overlapping live slot.
	Create(ctx context.Context, slot *entities.Slot) error

	// GetByID retrieves a slot by ID
	GetByID(ctx context.Context, id string) (*entities.Slot, error)

	// FindOverlapping returns live (non-cancelled) slots of a provider that
	// intersect [start, end)
	FindOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]*entities.Slot, error)

	// CompareAndSwapStatus sets status to next only if the stored status equals
	// expected, as a single atomic write. Returns ErrConditionNotMet otherwise
	// (including when the slot does not exist).
	CompareAndSwapStatus(ctx context.Context, id string, expected, next entities.SlotStatus) (*entities.Slot, error)

	// Claim moves an available slot that starts after now to claimed, as a
	// single atomic write. Returns ErrConditionNotMet otherwise.
	Claim(ctx context.Context, id string, now time.Time) (*entities.Slot, error)

	// ListByProvider retrieves slots for a provider ordered by start
	ListByProvider(ctx context.Context, providerID string, filter SlotFilter) ([]*entities.Slot, error)
}

// SlotFilter defines filters for listing slots
type SlotFilter struct {
	Status entities.SlotStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
