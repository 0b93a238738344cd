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
	"golang.org/x/sync/errgroup"

	"cashoffer_backend/internal/adapters"
	fraudclient "cashoffer_backend/internal/fraud/client"
	"cashoffer_backend/internal/notification"
	"cashoffer_backend/internal/offers"
	valuation "cashoffer_backend/internal/valuation/client"
	voiceclient "cashoffer_backend/internal/voice/client"
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
	log.Info("starting pipeline worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	sender := notification.NewSender(cfg, log)
	notificationModule := notification.New(sender, log)
	notificationModule.RegisterHandlers(eventBus)

	var fraud offers.FraudAssessor
	if cfg.IsFraudEnabled() {
		fraud = adapters.NewFraudAssessorAdapter(
			fraudclient.New(cfg.GetFraudAPIURL(), cfg.GetAgentTimeout(), log))
		log.Info("fraud assessment enabled", "url", cfg.GetFraudAPIURL())
	}

	offersModule := offers.NewModule(pool, rdb, queueClient, fraud, eventBus, cfg, val, log)

	valuationClient := valuation.New(cfg.GetValuationAPIURL(), cfg.GetAgentTimeout(), log)
	voiceAgent := voiceclient.New(cfg.GetVoiceAPIURL(), cfg.GetAgentTimeout(), log)

	optimizer := worker.NewOptimizer(offersModule.Repository(), valuationClient, eventBus, cfg, log)
	sweeper := worker.NewSweeper(offersModule.Repository(), eventBus, log)

	handlers := worker.NewHandlers(
		offersModule.Orchestrator(),
		offersModule.Repository(),
		valuationClient,
		voiceAgent,
		sender,
		optimizer,
		sweeper,
		log,
	)

	queueWorker, err := worker.NewWorker(cfg, handlers, log)
	if err != nil {
		log.Error("failed to initialize queue worker", "error", err)
		panic("failed to initialize queue worker: " + err.Error())
	}

	scheduler, err := worker.NewScheduler(cfg, cfg, log)
	if err != nil {
		log.Error("failed to initialize maintenance scheduler", "error", err)
		panic("failed to initialize maintenance scheduler: " + err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queueWorker.Run(ctx)
	})
	g.Go(func() error {
		return scheduler.Run()
	})
	g.Go(func() error {
		<-ctx.Done()
		scheduler.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("worker shut down cleanly")
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
