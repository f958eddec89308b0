package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
)

// amqpChannel is the subset of *amqp.Channel the bus uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// RabbitMQEventBus implements the EventBus interface on a topic exchange.
// Channel names are used as routing keys, and each channel gets a durable
// queue named <queue>.<channel>.
type RabbitMQEventBus struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	queue    string
	logger   zerolog.Logger

	mu        sync.Mutex
	consumers map[string]context.CancelFunc
	wg        sync.WaitGroup
}

// NewRabbitMQEventBus dials the broker and declares the exchange
func NewRabbitMQEventBus(url, exchange, queue string, logger zerolog.Logger) (*RabbitMQEventBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	bus, err := newRabbitMQEventBus(ch, exchange, queue, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	bus.conn = conn
	return bus, nil
}

func newRabbitMQEventBus(ch amqpChannel, exchange, queue string, logger zerolog.Logger) (*RabbitMQEventBus, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &RabbitMQEventBus{
		ch:        ch,
		exchange:  exchange,
		queue:     queue,
		logger:    logger.With().Str("component", "rabbitmq_event_bus").Logger(),
		consumers: make(map[string]context.CancelFunc),
	}, nil
}

var _ providers.EventBus = (*RabbitMQEventBus)(nil)

// Publish sends event as persistent JSON with the channel as routing key
func (b *RabbitMQEventBus) Publish(ctx context.Context, channel string, event *entities.Event) error {
	if event == nil {
		return errors.New("nil event")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = b.ch.PublishWithContext(ctx, b.exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe binds the channel queue and streams decoded events until ctx
// ends, Unsubscribe is called or the bus is closed.
func (b *RabbitMQEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.Event, error) {
	queueName := b.queue + "." + channel
	q, err := b.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, channel, b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", channel, err)
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	deliveries, err := b.ch.ConsumeWithContext(consumerCtx, q.Name, channel, false, false, false, false, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}

	b.mu.Lock()
	if previous, ok := b.consumers[channel]; ok {
		previous()
	}
	b.consumers[channel] = cancel
	b.mu.Unlock()

	out := make(chan *entities.Event, subscriberBuffer)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		b.forward(consumerCtx, channel, deliveries, out)
	}()

	b.logger.Info().Str("channel", channel).Str("queue", q.Name).Msg("subscribed")
	return out, nil
}

func (b *RabbitMQEventBus) forward(ctx context.Context, channel string, deliveries <-chan amqp.Delivery, out chan<- *entities.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			var event entities.Event
			if err := json.Unmarshal(d.Body, &event); err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable message")
				_ = d.Nack(false, false)
				continue
			}

			select {
			case out <- &event:
				_ = d.Ack(false)
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

// Unsubscribe stops consuming a channel. Queued messages stay on the broker.
func (b *RabbitMQEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	cancel, ok := b.consumers[channel]
	delete(b.consumers, channel)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	cancel()
	if err := b.ch.Cancel(channel, false); err != nil {
		return fmt.Errorf("cancel consumer %s: %w", channel, err)
	}
	return nil
}

// Close stops all consumers and closes the connection
func (b *RabbitMQEventBus) Close() error {
	b.mu.Lock()
	for channel, cancel := range b.consumers {
		cancel()
		delete(b.consumers, channel)
	}
	b.mu.Unlock()
	b.wg.Wait()

	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
