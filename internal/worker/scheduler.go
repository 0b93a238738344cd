package worker

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"
)

// NewScheduler registers the recurring maintenance jobs: the nightly price
// optimizer and the frequent expiry sweep. Both land on the maintenance
// queue, which runs with concurrency 1 so runs never overlap.
func NewScheduler(redis config.RedisConfig, cfg config.OptimizerConfig, log *logger.Logger) (*asynq.Scheduler, error) {
	opt, err := redisClientOpt(redis.GetRedisURL())
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})

	optimizeTask, err := ports.NewPriceOptimizeTask(ports.PriceOptimizePayload{})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(cfg.GetOptimizerCronSpec(), optimizeTask,
		asynq.Queue(ports.QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
	); err != nil {
		return nil, fmt.Errorf("register price optimizer: %w", err)
	}

	sweepTask := asynq.NewTask(ports.TaskExpireSweep, nil)
	if _, err := scheduler.Register(cfg.GetExpirySweepCronSpec(), sweepTask,
		asynq.Queue(ports.QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Minute),
	); err != nil {
		return nil, fmt.Errorf("register expiry sweep: %w", err)
	}

	log.Info("maintenance scheduler configured",
		"optimizer_cron", cfg.GetOptimizerCronSpec(),
		"expiry_cron", cfg.GetExpirySweepCronSpec(),
	)
	return scheduler, nil
}
