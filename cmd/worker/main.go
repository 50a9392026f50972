package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kopi-pos/internal/app"
	"github.com/noah-isme/kopi-pos/internal/config"
	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/jobs"
	"github.com/noah-isme/kopi-pos/internal/lock"
	"github.com/noah-isme/kopi-pos/internal/notify"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/order"
	"github.com/noah-isme/kopi-pos/internal/queue"
	"github.com/noah-isme/kopi-pos/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics("kopi_pos", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool := app.MustInitDatabase(initCtx, cfg.DatabaseURL, "kopi-pos-worker", logger)
	defer pool.Close()

	redisClient := app.MustInitRedis(initCtx, cfg.RedisURL, false, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	st := store.NewStore(pool)
	queries := store.New(pool)

	deliveryWorker := notify.DeliveryWorker{
		Sender: &notify.WhatsAppClient{
			BaseURL: cfg.WhatsAppBaseURL,
			Token:   cfg.WhatsAppToken,
			HTTP:    app.NewOutboundClient(cfg.Outbound, "whatsapp", logger),
		},
		Locker:  lock.Locker{R: redisClient, Prefix: cfg.Queue.Prefix + ":lock", MaxWait: cfg.Queue.LockTTL},
		LockTTL: cfg.Queue.LockTTL,
		Sent:    notify.RedisSentLog{Client: redisClient, Prefix: cfg.Queue.Prefix + ":wa:sent"},
		SentTTL: cfg.Queue.DeliveredTTL,
		Logger:  logger,
	}

	whatsappWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.Queue.Prefix,
		Kind:              notify.TaskKind,
		Concurrency:       cfg.Queue.Concurrency,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		SoftDeadline:      cfg.Queue.SoftDeadline,
		RetryBase:         cfg.Queue.RetryBase,
		RetryJitter:       cfg.Queue.RetryJitter,
		Store:             queries,
		Logger:            &logger,
		Handler:           deliveryWorker.Handle,
	}

	// Expire touches only the store and the event bus.
	bus, closeBus := newEventBus(queries, redisClient, cfg, logger)
	defer closeBus()
	orderSvc := &order.Service{
		Store:  st.Orders(),
		Events: bus,
		Logger: logger,
	}

	asynqOpt, err := app.AsynqRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis options")
	}
	expiryServer := jobs.NewServer(asynqOpt, cfg.Jobs.Concurrency, cfg.Jobs.Queue, logger)
	expiryMux := jobs.NewServeMux(&jobs.ExpiryHandler{Orders: orderSvc, Logger: logger})

	logger.Info().Str("queue_kind", notify.TaskKind).Str("jobs_queue", cfg.Jobs.Queue).Msg("worker starting")
	if err := expiryServer.Start(expiryMux); err != nil {
		logger.Fatal().Err(err).Msg("start expiry server")
	}
	defer expiryServer.Shutdown()

	if err := whatsappWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

// newEventBus mirrors the API wiring so events raised here (order expiry)
// reach the same notifiers.
func newEventBus(queries *store.Queries, redisClient *redis.Client, cfg *config.Config, logger zerolog.Logger) (*events.Bus, func()) {
	taskQueue := queue.Enqueuer{R: redisClient, Prefix: cfg.Queue.Prefix, DedupTTL: cfg.Queue.DedupTTL, MaxAttempts: cfg.Queue.MaxAttempts}
	notifiers := []events.Notifier{
		&notify.WhatsAppNotifier{Queue: taskQueue, MaxAttempts: cfg.Queue.MaxAttempts, Logger: logger},
	}
	closer := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		notifiers = append(notifiers, publisher)
		closer = func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}
	}
	return &events.Bus{Store: queries, Notifiers: notifiers}, closer
}
