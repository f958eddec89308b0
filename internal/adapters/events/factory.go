package events

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/providers"
	redisclient "github.com/zatekoja/therapybooking/internal/infrastructure/clients/redis"
	"github.com/zatekoja/therapybooking/pkg/config"
)

// ErrRedisRequired is returned when the redis driver is selected without a
// Redis connection.
var ErrRedisRequired = errors.New("redis event bus requires a redis client")

// NewEventBus builds the bus selected by cfg.Driver. The "none" driver
// returns a nil bus and no error.
func NewEventBus(cfg config.EventBusConfig, redis *redisclient.Client, logger zerolog.Logger) (providers.EventBus, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "redis":
		if redis == nil {
			return nil, ErrRedisRequired
		}
		return NewRedisEventBus(redis, logger), nil
	case "rabbitmq":
		bus, err := NewRabbitMQEventBus(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQQueue, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown event bus driver %q", cfg.Driver)
	}
}
