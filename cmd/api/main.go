package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"plantation/internal/api"
	"plantation/internal/attendance"
	"plantation/internal/config"
	"plantation/internal/logging"
	"plantation/internal/queue"
	"plantation/internal/roster"
	"plantation/internal/store"
)

type ledgerStore interface {
	attendance.Ledger
	attendance.Reader
}

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]api.HealthCheck{}

	var ledger ledgerStore
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory ledger; data is lost on restart")
		ledger = attendance.NewMemoryStore()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
		}
		ledger = attendance.NewRepository(db.Client)
		health["db"] = db.Healthy
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	health["redis"] = redisClient.Healthy

	var (
		q       queue.Queue
		backend roster.Backend
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
		backend = roster.NewMemoryBackend()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "plantation:taps")
		backend = roster.NewRedisBackend(redisClient.Client)
	}
	onsite := roster.New(backend)

	// Without a separate worker process the api consumes its own tap events.
	if cfg.QueueBackend == "memory" {
		if open, err := ledger.OpenShifts(ctx, ""); err == nil {
			_ = onsite.Rebuild(ctx, open)
		}
		msgs, err := q.Consume(ctx)
		if err != nil {
			return err
		}
		go onsite.Consume(ctx, msgs)
	}

	svc := attendance.NewService(ledger,
		attendance.WithDebounce(redisClient, cfg.TapDebounce),
		attendance.WithPublisher(queue.TapPublisher{Queue: q}),
	)

	router := api.NewRouter(api.Deps{
		Taps:            svc,
		Reader:          ledger,
		Roster:          onsite,
		Health:          health,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreBackend).Str("queue", cfg.QueueBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}
