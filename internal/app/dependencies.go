package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/kopi-pos/internal/config"
	"github.com/noah-isme/kopi-pos/internal/obs"
	"github.com/noah-isme/kopi-pos/internal/resilience"
)

// MustInitDatabase opens a traced pgx pool and verifies connectivity.
func MustInitDatabase(ctx context.Context, databaseURL, appName string, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

// MustInitRedis connects a traced redis client. Metrics instrumentation is
// optional and failures there are only logged.
func MustInitRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "rl:fixed"
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// AsynqRedisOpt converts the shared REDIS_URL into asynq connection options.
func AsynqRedisOpt(redisURL string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq redis uri: %w", err)
	}
	return opt, nil
}

// NewOutboundClient builds the retrying, circuit-broken HTTP client used for
// a third-party target such as the payment gateway.
func NewOutboundClient(cfg config.OutboundConfig, target string, logger zerolog.Logger) *resilience.HTTPClient {
	breaker := resilience.NewBreaker(cfg.BreakerMinReqs, cfg.BreakerRatio, cfg.BreakerOpenFor).
		WithTarget(target).
		WithLogger(logger)
	return &resilience.HTTPClient{
		Client:      resilience.NewTracedClient(cfg.Timeout * 2),
		Breaker:     breaker,
		BaseBackoff: cfg.BaseBackoff,
		MaxAttempts: cfg.MaxAttempts,
		Jitter:      cfg.Jitter,
		Timeout:     cfg.Timeout,
		Target:      target,
		Logger:      &logger,
	}
}
