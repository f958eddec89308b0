package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// BookingRepository defines the interface for booking data operations
type BookingRepository interface {
	// Create persists a new booking. Returns ErrDuplicate when the slot
	// already backs an active booking.
	Create(ctx context.Context, booking *entities.Booking) error

	// GetByID retrieves a booking by ID, reminders included
	GetByID(ctx context.Context, id string) (*entities.Booking, error)

	// FindActiveBySlot returns the pending or confirmed booking of a slot
	FindActiveBySlot(ctx context.Context, slotID string) (*entities.Booking, error)

	// CompareAndSwap writes the mutable fields of booking only if the stored
	// status equals expected. Returns ErrConditionNotMet otherwise.
	CompareAndSwap(ctx context.Context, booking *entities.Booking, expected entities.BookingStatus) error

	// AppendReminder atomically appends a reminder entry
	AppendReminder(ctx context.Context, bookingID string, reminder entities.Reminder) error

	// ListByPatient retrieves bookings for a patient ordered by creation time
	ListByPatient(ctx context.Context, patientID string, filter BookingFilter) ([]*entities.Booking, error)

	// ListByProvider retrieves bookings for a provider ordered by creation time
	ListByProvider(ctx context.Context, providerID string, filter BookingFilter) ([]*entities.Booking, error)
}

// BookingFilter defines filters for listing bookings
type BookingFilter struct {
	Statuses []entities.BookingStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Matches reports whether b passes the status and creation-time filters
func (f BookingFilter) Matches(b *entities.Booking) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if b.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && b.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !b.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}
