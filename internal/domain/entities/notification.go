package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// EventType identifies a notification event
type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingReminder  EventType = "booking.reminder"
	EventPaymentReceived  EventType = "payment.received"
	EventPaymentFailed    EventType = "payment.failed"
)

// AllEventTypes lists every event the engine publishes
func AllEventTypes() []EventType {
	return []EventType{
		EventBookingCreated,
		EventBookingConfirmed,
		EventBookingCancelled,
		EventBookingReminder,
		EventPaymentReceived,
		EventPaymentFailed,
	}
}

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelSMS      NotificationChannel = "sms"
	ChannelPush     NotificationChannel = "push"
	ChannelWhatsApp NotificationChannel = "whatsapp"
)

// Valid reports whether c is a known channel
func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWhatsApp:
		return true
	}
	return false
}

// Recipient is the addressee of a notification. AccountID is always set;
// contact fields are filled when the account could be resolved.
type Recipient struct {
	AccountID string  `json:"account_id"`
	Name      string  `json:"name,omitempty"`
	Email     string  `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// Event is a notification published through the dispatcher
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Recipient Recipient              `json:"recipient"`
	Subject   string                 `json:"subject,omitempty"`
	Content   string                 `json:"content"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// DeliveryReceipt is returned by a delivery collaborator
type DeliveryReceipt struct {
	Handler     string              `json:"handler"`
	Channel     NotificationChannel `json:"channel"`
	MessageID   string              `json:"message_id,omitempty"`
	DeliveredAt time.Time           `json:"delivered_at"`
}

// EventBuilder assembles an Event and rejects it when mandatory fields are
// missing.
type EventBuilder struct {
	event Event
}

// NewEventBuilder starts an event of the given type
func NewEventBuilder(eventType EventType) *EventBuilder {
	return &EventBuilder{event: Event{Type: eventType}}
}

func (b *EventBuilder) WithRecipient(r Recipient) *EventBuilder {
	b.event.Recipient = r
	return b
}

func (b *EventBuilder) WithSubject(subject string) *EventBuilder {
	b.event.Subject = subject
	return b
}

func (b *EventBuilder) WithContent(content string) *EventBuilder {
	b.event.Content = content
	return b
}

func (b *EventBuilder) WithData(key string, value interface{}) *EventBuilder {
	if b.event.Data == nil {
		b.event.Data = make(map[string]interface{})
	}
	b.event.Data[key] = value
	return b
}

func (b *EventBuilder) WithTimestamp(ts time.Time) *EventBuilder {
	b.event.Timestamp = ts
	return b
}

// Build validates and returns the event
func (b *EventBuilder) Build() (*Event, error) {
	if b.event.Type == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidEvent, "event type is required")
	}
	if strings.TrimSpace(b.event.Recipient.AccountID) == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidEvent, "event recipient is required")
	}
	if strings.TrimSpace(b.event.Content) == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidEvent, "event content is required")
	}

	event := b.event
	event.ID = uuid.New().String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if b.event.Data != nil {
		event.Data = make(map[string]interface{}, len(b.event.Data))
		for k, v := range b.event.Data {
			event.Data[k] = v
		}
	}
	return &event, nil
}
