package providers

import (
	"context"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// EventBus carries booking events between processes
type EventBus interface {
	// Publish publishes an event to all subscribers of channel
	Publish(ctx context.Context, channel string, event *entities.Event) error

	// Subscribe subscribes to events on a channel. The returned channel is
	// closed when ctx is done or the bus is closed.
	Subscribe(ctx context.Context, channel string) (<-chan *entities.Event, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelBookingEvents is the default channel for booking lifecycle events
const EventChannelBookingEvents = "booking:events"
