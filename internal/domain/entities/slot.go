package entities

import "time"

// SlotStatus represents the lifecycle state of a slot
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusClaimed   SlotStatus = "claimed"
	SlotStatusCancelled SlotStatus = "cancelled"
	SlotStatusCompleted SlotStatus = "completed"
)

// Slot is a bookable time interval owned by a provider.
// Intervals are half-open: [Start, End).
type Slot struct {
	ID         string     `json:"id" db:"id"`
	ProviderID string     `json:"provider_id" db:"provider_id"`
	Start      time.Time  `json:"start" db:"start_at"`
	End        time.Time  `json:"end" db:"end_at"`
	Status     SlotStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// DurationMinutes returns the slot length in whole minutes
func (s *Slot) DurationMinutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// Overlaps reports whether [start, end) intersects the slot interval
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && start.Before(s.End)
}

// HasElapsed reports whether the slot window is over at now
func (s *Slot) HasElapsed(now time.Time) bool {
	return !s.End.After(now)
}

// IsLive reports whether the slot still takes part in overlap checks
func (s *Slot) IsLive() bool {
	return s.Status != SlotStatusCancelled
}
