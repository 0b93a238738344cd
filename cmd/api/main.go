package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cashoffer_backend/internal/adapters"
	fraudclient "cashoffer_backend/internal/fraud/client"
	apphttp "cashoffer_backend/internal/http"
	"cashoffer_backend/internal/http/router"
	"cashoffer_backend/internal/notification"
	"cashoffer_backend/internal/offers"
	"cashoffer_backend/internal/storage"
	"cashoffer_backend/internal/uploads"
	"cashoffer_backend/internal/worker"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/db"
	"cashoffer_backend/platform/events"
	"cashoffer_backend/platform/logger"
	"cashoffer_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting api server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	redisOpt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid redis url", "error", err)
		panic("invalid redis url: " + err.Error())
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	queueClient, err := worker.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer queueClient.Close()

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	notificationModule := notification.New(notification.NewSender(cfg, log), log)
	notificationModule.RegisterHandlers(eventBus)

	var fraud offers.FraudAssessor
	if cfg.IsFraudEnabled() {
		fraud = adapters.NewFraudAssessorAdapter(
			fraudclient.New(cfg.GetFraudAPIURL(), cfg.GetAgentTimeout(), log))
		log.Info("fraud assessment enabled", "url", cfg.GetFraudAPIURL())
	}

	offersModule := offers.NewModule(pool, rdb, queueClient, fraud, eventBus, cfg, val, log)

	modules := []apphttp.Module{offersModule}

	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		photoBucket := cfg.GetMinioBucketOfferPhotos()
		if err := withRetry(ctx, log, "ensure photo bucket", 5, 2*time.Second, func() error {
			return storageSvc.EnsureBucketExists(ctx, photoBucket)
		}); err != nil {
			log.Error("failed to ensure photo bucket exists", "error", err, "bucket", photoBucket)
			panic("failed to ensure photo bucket exists: " + err.Error())
		}
		modules = append(modules, uploads.NewModule(storageSvc, photoBucket, val))
		log.Info("storage service initialized", "photoBucket", photoBucket)
	} else {
		log.Warn("MINIO_ENDPOINT not configured; photo upload presigning disabled")
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules:  modules,
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
