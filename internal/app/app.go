package app

import (
	"context"
	"errors"
	"fmt"

	"reservation-service/internal/config"
	"reservation-service/internal/events"
	"reservation-service/internal/repository"
	"reservation-service/internal/reservations"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App holds the wired reservation core shared by the API server and the standalone sweeper
type App struct {
	Store     repository.Store
	Redis     *redis.Client
	Publisher events.EventPublisher
	Carts     repository.CartRepository
	Manager   *reservations.Manager

	closers []func() error
	logger  *zap.Logger
}

// New opens the store, Redis and the event bus selected by cfg and builds the manager.
// Redis and Kafka failures degrade to in-memory fallbacks; a store failure is fatal.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	logger.Info("🔧 Initializing reservation store...", zap.String("driver", cfg.StoreDriver))
	store, err := repository.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	logger.Info("✅ Reservation store initialized successfully")

	if cfg.UseRedis {
		client, err := repository.NewRedisClient(ctx, cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Failed to connect to Redis, using in-memory fallbacks",
				zap.String("host", cfg.RedisHost),
				zap.String("port", cfg.RedisPort),
				zap.Error(err),
			)
		} else {
			a.Redis = client
			a.closers = append(a.closers, client.Close)
			logger.Info("✅ Redis connected", zap.String("host", cfg.RedisHost), zap.String("port", cfg.RedisPort))
		}
	}

	if a.Redis != nil {
		a.Carts = repository.NewRedisCartRepository(a.Redis, logger)
	} else {
		a.Carts = repository.NewMemoryCartRepository()
	}

	a.Publisher = a.buildPublisher(cfg)

	opts := reservations.DefaultOptions()
	opts.HoldDuration = cfg.HoldDuration
	opts.AllowOversell = cfg.AllowOversell

	a.Manager = reservations.NewManager(reservations.Dependencies{
		Reservations:  store,
		Products:      store,
		Carts:         a.Carts,
		Notifications: store,
		Publisher:     a.Publisher,
		Logger:        logger,
	}, opts)

	return a, nil
}

func (a *App) buildPublisher(cfg *config.Config) events.EventPublisher {
	var publishers []events.EventPublisher

	if cfg.PublishesToRedis() {
		if a.Redis != nil {
			publishers = append(publishers, events.NewRedisEventPublisher(a.Redis, a.logger))
		} else {
			a.logger.Warn("Redis event bus requested but Redis is unavailable")
		}
	}

	if cfg.PublishesToKafka() {
		a.logger.Info("📡 Kafka Configuration",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic_stock", cfg.KafkaTopicStock),
			zap.String("client_id", cfg.KafkaClientID),
			zap.String("acks", cfg.KafkaAcks),
			zap.Int("retries", cfg.KafkaRetries),
		)
		kafkaPublisher, err := events.NewKafkaEventPublisher(cfg, a.logger)
		if err != nil {
			a.logger.Warn("Failed to initialize Kafka publisher", zap.Error(err))
		} else {
			publishers = append(publishers, kafkaPublisher)
			a.closers = append(a.closers, kafkaPublisher.Close)
		}
	}

	switch len(publishers) {
	case 0:
		a.logger.Warn("No event bus available, stock events are only logged", zap.String("event_bus", cfg.EventBus))
		return events.NewLogEventPublisher(a.logger)
	case 1:
		return publishers[0]
	default:
		return events.NewFanoutEventPublisher(publishers...)
	}
}

// Close releases every resource in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
