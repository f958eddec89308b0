package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zatekoja/therapybooking/internal/adapters/events"
	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/redis"
	"github.com/zatekoja/therapybooking/internal/infrastructure/notifications"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
	"github.com/zatekoja/therapybooking/internal/metrics"
	"github.com/zatekoja/therapybooking/pkg/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.OTEL.ServiceName+"-notifier", cfg.Environment)

	var redisClient *redis.Client
	if cfg.EventBus.Driver == "redis" || containsEmail(cfg.Notifications.Channels) {
		redisClient, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	bus, err := events.NewEventBus(cfg.EventBus, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open event bus")
	}
	if bus == nil {
		logger.Fatal().Msg("notifier requires EVENT_BUS_DRIVER=redis or rabbitmq")
	}
	defer bus.Close()

	dispatcher := services.NewNotificationDispatcher(logger)
	dispatcher.SetRecorder(metrics.New(prometheus.DefaultRegisterer))

	factory := notifications.NewFactory(cfg.Notifications, redisClient, logger)
	for _, channel := range cfg.Notifications.Channels {
		handler, err := factory.Build(entities.NotificationChannel(channel))
		if err != nil {
			logger.Fatal().Err(err).Str("channel", channel).Msg("failed to build notification handler")
		}
		if err := dispatcher.SubscribeAll(handler, entities.AllEventTypes()...); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe handler")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := bus.Subscribe(ctx, cfg.Notifications.BookingEventsChannel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to booking events")
	}

	logger.Info().
		Str("channel", cfg.Notifications.BookingEventsChannel).
		Strs("delivery_channels", cfg.Notifications.Channels).
		Msg("notifier started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("notifier stopped")
			return
		case event, ok := <-stream:
			if !ok {
				logger.Warn().Msg("event stream closed")
				return
			}
			receipts := dispatcher.Publish(ctx, event)
			logger.Debug().Str("event_id", event.ID).Int("receipts", len(receipts)).Msg("event delivered")
		}
	}
}

func containsEmail(channels []string) bool {
	for _, c := range channels {
		if c == string(entities.ChannelEmail) {
			return true
		}
	}
	return false
}
