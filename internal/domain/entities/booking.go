package entities

import "time"

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusNoShow    BookingStatus = "no-show"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusNoShow, BookingStatusCancelled},
}

// CanTransitionTo reports whether the state machine allows s → next
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether a booking in this status holds its slot
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// IsTerminal reports whether no further transitions are possible
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// PaymentStatus represents the payment state of a booking
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// ReminderStatus represents the delivery status of a reminder
type ReminderStatus string

const (
	ReminderStatusPending ReminderStatus = "pending"
	ReminderStatusSent    ReminderStatus = "sent"
	ReminderStatusFailed  ReminderStatus = "failed"
)

// Reminder is a scheduled notification attached to a booking.
// Delivery happens outside the booking lifecycle.
type Reminder struct {
	ID          string              `json:"id"`
	Channel     NotificationChannel `json:"channel"`
	ScheduledAt time.Time           `json:"scheduled_at"`
	Status      ReminderStatus      `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Booking is a patient's reservation against exactly one slot
type Booking struct {
	ID                 string        `json:"id" db:"id"`
	SlotID             string        `json:"slot_id" db:"slot_id"`
	PatientID          string        `json:"patient_id" db:"patient_id"`
	ProviderID         string        `json:"provider_id" db:"provider_id"`
	Status             BookingStatus `json:"status" db:"status"`
	PaymentMethod      PaymentMethod `json:"payment_method" db:"payment_method"`
	PaymentStatus      PaymentStatus `json:"payment_status" db:"payment_status"`
	AmountCents        int64         `json:"amount_cents" db:"amount_cents"`
	Currency           string        `json:"currency" db:"currency"`
	TransactionID      *string       `json:"transaction_id,omitempty" db:"transaction_id"`
	CancellationReason *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	Notes              *string       `json:"notes,omitempty" db:"notes"`
	Reminders          []Reminder    `json:"reminders" db:"-"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether accountID is the booking's patient or provider
func (b *Booking) IsParticipant(accountID string) bool {
	return accountID != "" && (accountID == b.PatientID || accountID == b.ProviderID)
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (b *Booking) Clone() *Booking {
	c := *b
	if b.Reminders != nil {
		c.Reminders = make([]Reminder, len(b.Reminders))
		copy(c.Reminders, b.Reminders)
	}
	c.TransactionID = cloneString(b.TransactionID)
	c.CancellationReason = cloneString(b.CancellationReason)
	c.Notes = cloneString(b.Notes)
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
