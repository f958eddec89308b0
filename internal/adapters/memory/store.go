// Package memory is an in-process entity store. Each conditional update is
// applied under a single lock, giving the same compare-and-swap guarantee as
// the PostgreSQL adapters.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
)

// Store holds slots, bookings and accounts in memory
type Store struct {
	mu       sync.RWMutex
	slots    map[string]*entities.Slot
	bookings map[string]*entities.Booking
	accounts map[string]*entities.Account
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		slots:    make(map[string]*entities.Slot),
		bookings: make(map[string]*entities.Booking),
		accounts: make(map[string]*entities.Account),
	}
}

// Slots returns the slot repository view of the store
func (s *Store) Slots() repositories.SlotRepository { return &slotRepository{store: s} }

// Bookings returns the booking repository view of the store
func (s *Store) Bookings() repositories.BookingRepository { return &bookingRepository{store: s} }

// Accounts returns the account repository view of the store
func (s *Store) Accounts() repositories.AccountRepository { return &accountRepository{store: s} }

type slotRepository struct {
	store *Store
}

func (r *slotRepository) Create(ctx context.Context, slot *entities.Slot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.slots[slot.ID]; exists {
		return repositories.ErrDuplicate
	}
	if slot.Status != entities.SlotStatusCancelled {
		for _, existing := range r.store.slots {
			if existing.ProviderID == slot.ProviderID && existing.IsLive() && existing.Overlaps(slot.Start, slot.End) {
				return repositories.ErrOverlap
			}
		}
	}
	c := *slot
	r.store.slots[slot.ID] = &c
	return nil
}

func (r *slotRepository) GetByID(ctx context.Context, id string) (*entities.Slot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	slot, ok := r.store.slots[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *slot
	return &c, nil
}

func (r *slotRepository) FindOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]*entities.Slot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*entities.Slot
	for _, slot := range r.store.slots {
		if slot.ProviderID == providerID && slot.IsLive() && slot.Overlaps(start, end) {
			c := *slot
			result = append(result, &c)
		}
	}
	sortSlots(result)
	return result, nil
}

func (r *slotRepository) CompareAndSwapStatus(ctx context.Context, id string, expected, next entities.SlotStatus) (*entities.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	slot, ok := r.store.slots[id]
	if !ok || slot.Status != expected {
		return nil, repositories.ErrConditionNotMet
	}
	slot.Status = next
	slot.UpdatedAt = time.Now().UTC()
	c := *slot
	return &c, nil
}

func (r *slotRepository) Claim(ctx context.Context, id string, now time.Time) (*entities.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	slot, ok := r.store.slots[id]
	if !ok || slot.Status != entities.SlotStatusAvailable || !slot.Start.After(now) {
		return nil, repositories.ErrConditionNotMet
	}
	slot.Status = entities.SlotStatusClaimed
	slot.UpdatedAt = time.Now().UTC()
	c := *slot
	return &c, nil
}

func (r *slotRepository) ListByProvider(ctx context.Context, providerID string, filter repositories.SlotFilter) ([]*entities.Slot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*entities.Slot
	for _, slot := range r.store.slots {
		if slot.ProviderID != providerID {
			continue
		}
		if filter.Status != "" && slot.Status != filter.Status {
			continue
		}
		if filter.From != nil && slot.Start.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !slot.Start.Before(*filter.To) {
			continue
		}
		c := *slot
		result = append(result, &c)
	}
	sortSlots(result)
	return paginate(result, filter.Limit, filter.Offset), nil
}

type bookingRepository struct {
	store *Store
}

func (r *bookingRepository) Create(ctx context.Context, booking *entities.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.bookings[booking.ID]; exists {
		return repositories.ErrDuplicate
	}
	if booking.Status.IsActive() {
		for _, existing := range r.store.bookings {
			if existing.SlotID == booking.SlotID && existing.Status.IsActive() {
				return repositories.ErrDuplicate
			}
		}
	}
	r.store.bookings[booking.ID] = booking.Clone()
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	booking, ok := r.store.bookings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return booking.Clone(), nil
}

func (r *bookingRepository) FindActiveBySlot(ctx context.Context, slotID string) (*entities.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, booking := range r.store.bookings {
		if booking.SlotID == slotID && booking.Status.IsActive() {
			return booking.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *bookingRepository) CompareAndSwap(ctx context.Context, booking *entities.Booking, expected entities.BookingStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.bookings[booking.ID]
	if !ok || current.Status != expected {
		return repositories.ErrConditionNotMet
	}

	updated := booking.Clone()
	// Reminders are owned by AppendReminder.
	updated.Reminders = current.Reminders
	r.store.bookings[booking.ID] = updated
	return nil
}

func (r *bookingRepository) AppendReminder(ctx context.Context, bookingID string, reminder entities.Reminder) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	booking, ok := r.store.bookings[bookingID]
	if !ok {
		return repositories.ErrNotFound
	}
	reminders := make([]entities.Reminder, len(booking.Reminders), len(booking.Reminders)+1)
	copy(reminders, booking.Reminders)
	booking.Reminders = append(reminders, reminder)
	return nil
}

func (r *bookingRepository) ListByPatient(ctx context.Context, patientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return r.list(func(b *entities.Booking) bool { return b.PatientID == patientID }, filter), nil
}

func (r *bookingRepository) ListByProvider(ctx context.Context, providerID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return r.list(func(b *entities.Booking) bool { return b.ProviderID == providerID }, filter), nil
}

func (r *bookingRepository) list(owner func(*entities.Booking) bool, filter repositories.BookingFilter) []*entities.Booking {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*entities.Booking
	for _, booking := range r.store.bookings {
		if owner(booking) && filter.Matches(booking) {
			result = append(result, booking.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, filter.Limit, filter.Offset)
}

type accountRepository struct {
	store *Store
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*entities.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	account, ok := r.store.accounts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *account
	return &c, nil
}

func (r *accountRepository) Create(ctx context.Context, account *entities.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.accounts[account.ID]; exists {
		return repositories.ErrDuplicate
	}
	c := *account
	r.store.accounts[account.ID] = &c
	return nil
}

func sortSlots(slots []*entities.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start.Equal(slots[j].Start) {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].Start.Before(slots[j].Start)
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
