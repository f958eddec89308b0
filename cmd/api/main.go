package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/adapters/cache"
	"github.com/zatekoja/therapybooking/internal/adapters/database"
	"github.com/zatekoja/therapybooking/internal/adapters/events"
	"github.com/zatekoja/therapybooking/internal/adapters/memory"
	"github.com/zatekoja/therapybooking/internal/adapters/payments"
	"github.com/zatekoja/therapybooking/internal/adapters/reconciliation"
	"github.com/zatekoja/therapybooking/internal/api/handlers"
	"github.com/zatekoja/therapybooking/internal/api/routes"
	"github.com/zatekoja/therapybooking/internal/application/services"
	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/therapybooking/internal/infrastructure/clients/redis"
	"github.com/zatekoja/therapybooking/internal/infrastructure/notifications"
	"github.com/zatekoja/therapybooking/internal/infrastructure/observability"
	"github.com/zatekoja/therapybooking/internal/metrics"
	"github.com/zatekoja/therapybooking/pkg/compensation"
	"github.com/zatekoja/therapybooking/pkg/config"
)

type stores struct {
	slots    repositories.SlotRepository
	bookings repositories.BookingRepository
	accounts repositories.AccountRepository
	close    func() error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Warn().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	otelMetrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	recorder := metrics.New(prometheus.DefaultRegisterer)

	// Redis backs the event bus, the account cache, the email queue and the
	// reconciliation queue. The engine still runs without it.
	redisClient, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without cache, queues and redis event bus")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	st, err := openStores(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open entity store")
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn().Err(err).Msg("error closing entity store")
		}
	}()

	eventBus, err := events.NewEventBus(cfg.EventBus, redisClient, logger)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.EventBus.Driver).Msg("event bus unavailable, delivering notifications in process")
		eventBus = nil
	}

	dispatcher := services.NewNotificationDispatcher(logger)
	if err := registerHandlers(dispatcher, cfg, eventBus, redisClient, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to register notification handlers")
	}

	var reporter compensation.Reporter
	if redisClient != nil {
		reporter = reconciliation.NewRedisSink(redisClient, cfg.Notifications.ReconciliationQueue, logger)
	}

	slotService := services.NewSlotService(st.slots, cfg.Reservation, logger)
	bookingService := services.NewBookingService(st.bookings, slotService, cfg.Reservation, logger)
	paymentService := services.NewPaymentService(logger, payments.Defaults(logger)...)
	reservationService := services.NewReservationService(services.ReservationDeps{
		Slots:      slotService,
		Bookings:   bookingService,
		Payments:   paymentService,
		Dispatcher: dispatcher,
		Accounts:   st.accounts,
		Reporter:   reporter,
		Recorder:   recorder,
		Metrics:    otelMetrics,
		Policy:     cfg.Reservation,
		Logger:     logger,
	})
	if cfg.Reservation.CancellationPolicyBypass {
		logger.Warn().Msg("cancellation policy bypass is enabled")
	}

	router := routes.NewRouter(
		handlers.NewSlotHandler(slotService, reservationService, logger),
		handlers.NewBookingHandler(reservationService, logger),
		routes.Options{
			Logger:         logger,
			Metrics:        otelMetrics,
			Observer:       recorder,
			Gatherer:       prometheus.DefaultGatherer,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Str("store", cfg.Store.Driver).Str("event_bus", cfg.EventBus.Driver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
	}

	// let in-flight notifications finish before the bus goes away
	dispatcher.Wait()

	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing event bus")
		}
	}
	logger.Info().Msg("server stopped")
}

func openStores(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		store := memory.NewStore()
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return &stores{
			slots:    store.Slots(),
			bookings: store.Bookings(),
			accounts: store.Accounts(),
			close:    func() error { return nil },
		}, nil
	}

	pgClient, err := postgres.NewClient(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := pgClient.RunMigrations(cfg.Database.MigrationsPath); err != nil {
			_ = pgClient.Close()
			return nil, err
		}
	}

	var accounts repositories.AccountRepository = database.NewAccountAdapter(pgClient)
	if redisClient != nil {
		accounts = database.NewCachedAccountAdapter(accounts, cache.NewRedisAdapter(redisClient, "therapybooking"), cfg.Cache.AccountTTL, logger)
	}

	return &stores{
		slots:    database.NewSlotAdapter(pgClient),
		bookings: database.NewBookingAdapter(pgClient),
		accounts: accounts,
		close:    pgClient.Close,
	}, nil
}

// registerHandlers forwards events to the bus when one is configured so the
// notifier process delivers them. Without a bus, events are delivered here.
func registerHandlers(dispatcher *services.NotificationDispatcher, cfg *config.Config, bus providers.EventBus, redisClient *redis.Client, logger zerolog.Logger) error {
	if bus != nil {
		forwarder := notifications.NewEventBusForwarder(bus, cfg.Notifications.BookingEventsChannel)
		return dispatcher.SubscribeAll(forwarder, entities.AllEventTypes()...)
	}

	factory := notifications.NewFactory(cfg.Notifications, redisClient, logger)
	for _, channel := range cfg.Notifications.Channels {
		handler, err := factory.Build(entities.NotificationChannel(channel))
		if err != nil {
			return err
		}
		if err := dispatcher.SubscribeAll(handler, entities.AllEventTypes()...); err != nil {
			return err
		}
	}
	return nil
}
