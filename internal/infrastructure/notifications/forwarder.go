package notifications

import (
	"context"
	"time"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
)

// EventBusForwarder republishes dispatched events on the event bus so that
// the notifier process can deliver them out of band.
type EventBusForwarder struct {
	bus     providers.EventBus
	channel string
}

func NewEventBusForwarder(bus providers.EventBus, channel string) *EventBusForwarder {
	return &EventBusForwarder{bus: bus, channel: channel}
}

var _ providers.NotificationHandler = (*EventBusForwarder)(nil)

func (f *EventBusForwarder) Name() string { return "event_bus:" + f.channel }

func (f *EventBusForwarder) Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error) {
	if err := f.bus.Publish(ctx, f.channel, event); err != nil {
		return nil, err
	}
	return &entities.DeliveryReceipt{
		Handler:     f.Name(),
		MessageID:   event.ID,
		DeliveredAt: time.Now().UTC(),
	}, nil
}
