package services

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
)

// NotificationDispatcher fans events out to the handlers subscribed to their
// type. A failing handler never affects the publisher or other handlers.
type NotificationDispatcher struct {
	mu       sync.RWMutex
	handlers map[entities.EventType]*handlerSet

	logger   zerolog.Logger
	recorder Recorder
	wg       sync.WaitGroup
}

// handlerSet keeps registration order while deduplicating by identity.
type handlerSet struct {
	index map[providers.NotificationHandler]struct{}
	order []providers.NotificationHandler
}

// NewNotificationDispatcher creates an empty dispatcher
func NewNotificationDispatcher(logger zerolog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		handlers: make(map[entities.EventType]*handlerSet),
		logger:   logger.With().Str("component", "notification_dispatcher").Logger(),
		recorder: nopRecorder{},
	}
}

// SetRecorder installs a metrics recorder
func (d *NotificationDispatcher) SetRecorder(r Recorder) {
	if r != nil {
		d.recorder = r
	}
}

// Subscribe registers handler for eventType. Registering the same handler
// twice is a no-op. Handlers are keyed by identity, so their dynamic value
// must be comparable all the way down.
func (d *NotificationDispatcher) Subscribe(eventType entities.EventType, handler providers.NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("nil notification handler")
	}
	if !reflect.ValueOf(handler).Comparable() {
		return fmt.Errorf("notification handler %s must be comparable, register a pointer", handler.Name())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.handlers[eventType]
	if !ok {
		set = &handlerSet{index: make(map[providers.NotificationHandler]struct{})}
		d.handlers[eventType] = set
	}
	if _, exists := set.index[handler]; exists {
		return nil
	}
	set.index[handler] = struct{}{}
	set.order = append(set.order, handler)

	d.logger.Debug().
		Str("event_type", string(eventType)).
		Str("handler", handler.Name()).
		Msg("handler subscribed")
	return nil
}

// SubscribeAll registers handler for several event types
func (d *NotificationDispatcher) SubscribeAll(handler providers.NotificationHandler, eventTypes ...entities.EventType) error {
	for _, eventType := range eventTypes {
		if err := d.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes handler from eventType and reports whether it was registered
func (d *NotificationDispatcher) Unsubscribe(eventType entities.EventType, handler providers.NotificationHandler) bool {
	if handler == nil || !reflect.ValueOf(handler).Comparable() {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.handlers[eventType]
	if !ok {
		return false
	}
	if _, exists := set.index[handler]; !exists {
		return false
	}
	delete(set.index, handler)
	for i, h := range set.order {
		if h == handler {
			set.order = append(set.order[:i:i], set.order[i+1:]...)
			break
		}
	}
	if len(set.order) == 0 {
		delete(d.handlers, eventType)
	}
	return true
}

// HandlerCount returns the number of handlers registered for eventType
func (d *NotificationDispatcher) HandlerCount(eventType entities.EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if set, ok := d.handlers[eventType]; ok {
		return len(set.order)
	}
	return 0
}

// Publish invokes every handler registered for event.Type and returns the
// receipts of successful deliveries. Handler errors and panics are logged.
func (d *NotificationDispatcher) Publish(ctx context.Context, event *entities.Event) []entities.DeliveryReceipt {
	if event == nil {
		return nil
	}

	d.mu.RLock()
	var handlers []providers.NotificationHandler
	if set, ok := d.handlers[event.Type]; ok {
		handlers = make([]providers.NotificationHandler, len(set.order))
		copy(handlers, set.order)
	}
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	receipts := make([]entities.DeliveryReceipt, 0, len(handlers))
	for _, handler := range handlers {
		receipt, err := d.deliver(ctx, handler, event)
		if err != nil {
			d.recorder.ObserveDelivery(string(event.Type), handler.Name(), OutcomeFailed)
			d.logger.Warn().
				Err(err).
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Str("handler", handler.Name()).
				Msg("notification handler failed")
			continue
		}

		d.recorder.ObserveDelivery(string(event.Type), handler.Name(), OutcomeSuccess)
		if receipt != nil {
			receipts = append(receipts, *receipt)
		}
	}

	return receipts
}

// PublishAsync publishes on a background goroutine detached from ctx cancellation
func (d *NotificationDispatcher) PublishAsync(ctx context.Context, event *entities.Event) {
	d.Go(ctx, func(ctx context.Context) {
		d.Publish(ctx, event)
	})
}

// Go runs fn on a tracked background goroutine. The context passed to fn
// keeps ctx values but is never cancelled with it.
func (d *NotificationDispatcher) Go(ctx context.Context, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Interface("panic", r).Msg("background notification task panicked")
			}
		}()
		fn(detached)
	}()
}

// Wait blocks until all background publishes have finished
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *NotificationDispatcher) deliver(ctx context.Context, handler providers.NotificationHandler, event *entities.Event) (receipt *entities.DeliveryReceipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Deliver(ctx, event)
}

// FuncHandler adapts a function into a NotificationHandler. Use the pointer
// returned by NewFuncHandler so that each registration has its own identity.
type FuncHandler struct {
	name string
	fn   func(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error)
}

// NewFuncHandler creates a named function handler
func NewFuncHandler(name string, fn func(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error)) *FuncHandler {
	return &FuncHandler{name: name, fn: fn}
}

func (h *FuncHandler) Name() string { return h.name }

func (h *FuncHandler) Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error) {
	return h.fn(ctx, event)
}
