package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-market/internal/cart"
	"github.com/noah-isme/backend-market/internal/config"
	"github.com/noah-isme/backend-market/internal/events"
	"github.com/noah-isme/backend-market/internal/lock"
	"github.com/noah-isme/backend-market/internal/obs"
	"github.com/noah-isme/backend-market/internal/repo"
	"github.com/noah-isme/backend-market/internal/session"
)

const taskPurgeCarts = "carts:purge"

const purgeLockKey = "market:lock:carts-purge"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics("market", nil)

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, "market-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	carts := &cart.Service{
		Sessions:     &session.Redis{R: redisClient, TTL: cfg.SessionTTL},
		Orders:       &repo.OrderStore{Pool: pool},
		Currency:     cfg.Currency,
		PurgeEnabled: cfg.PurgeEnabled,
		PurgeAfter:   cfg.PurgeAfter,
	}
	bus := &events.Bus{Store: &repo.EventStore{Pool: pool}}
	locker := lock.Locker{R: redisClient}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri")
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskPurgeCarts, func(taskCtx context.Context, _ *asynq.Task) error {
		return locker.WithLock(taskCtx, purgeLockKey, 5*time.Minute, func(lockCtx context.Context) error {
			purged, err := carts.PurgeIncompleteCarts(lockCtx)
			if err != nil {
				logger.Error().Err(err).Msg("purge incomplete carts")
				return err
			}
			if purged == 0 {
				return nil
			}
			obs.CartsPurgedTotal.Add(float64(purged))
			if _, err := bus.Emit(lockCtx, events.TopicCartsPurged, uuid.New(), map[string]any{"purged": purged}); err != nil {
				logger.Error().Err(err).Msg("emit carts.purged")
			}
			logger.Info().Int64("purged", purged).Msg("incomplete carts purged")
			return nil
		})
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register("@every 1h", asynq.NewTask(taskPurgeCarts, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register purge schedule")
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	defer scheduler.Shutdown()

	srv := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 2})
	logger.Info().Msg("worker starting")
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	if err := srv.Run(mux); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Warn().Err(err).Msg("instrument redis tracing")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	return client
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
