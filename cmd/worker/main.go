package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"plantation/internal/attendance"
	"plantation/internal/config"
	"plantation/internal/logging"
	"plantation/internal/queue"
	"plantation/internal/roster"
	"plantation/internal/store"
)

// Worker consumes tap events and keeps the on-site roster current.
func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatal().Msg("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	repo := attendance.NewRepository(db.Client)
	onsite := roster.New(roster.NewRedisBackend(redisClient.Client))

	open, err := repo.OpenShifts(ctx, "")
	if err != nil {
		log.Fatal().Err(err).Msg("load open shifts failed")
	}
	if err := onsite.Rebuild(ctx, open); err != nil {
		log.Error().Err(err).Msg("roster rebuild failed")
	} else {
		log.Info().Int("open_shifts", len(open)).Msg("roster rebuilt")
	}

	q := queue.NewRedisQueue(redisClient.Client, "plantation:taps")
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Msg("worker started, waiting for taps")
	onsite.Consume(ctx, messages)
	log.Info().Msg("worker stopped")
}
