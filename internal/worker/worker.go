package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"
)

// queueConcurrency pins each queue's parallelism independently: one asynq
// server per queue instead of one shared worker pool, so a backlog of slow
// vision jobs can never starve the cheap pricing jobs.
var queueConcurrency = map[string]int{
	ports.QueueVision:      10,
	ports.QueueMarket:      20,
	ports.QueuePricing:     50,
	ports.QueueVoice:       10,
	ports.QueueNotify:      100,
	ports.QueueMaintenance: 1,
}

type queueServer struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// Worker runs the stage handlers for every pipeline queue.
type Worker struct {
	servers []queueServer
	log     *logger.Logger
}

// NewWorker builds one server per queue and registers its handlers.
func NewWorker(cfg config.RedisConfig, handlers *Handlers, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	registrations := map[string]map[string]asynq.HandlerFunc{
		ports.QueueVision: {
			ports.TaskVisionAnalyze: handlers.HandleVision,
		},
		ports.QueueMarket: {
			ports.TaskMarketResearch: handlers.HandleMarket,
		},
		ports.QueuePricing: {
			ports.TaskPriceCalculate: handlers.HandlePricing,
		},
		ports.QueueVoice: {
			ports.TaskVoiceGenerate: handlers.HandleVoice,
		},
		ports.QueueNotify: {
			ports.TaskEscalationNotify: handlers.HandleEscalationNotify,
		},
		ports.QueueMaintenance: {
			ports.TaskPriceOptimize: handlers.HandlePriceOptimize,
			ports.TaskExpireSweep:   handlers.HandleExpireSweep,
		},
	}

	w := &Worker{log: log}
	for queue, tasks := range registrations {
		srv := asynq.NewServer(opt, asynq.Config{
			Concurrency: queueConcurrency[queue],
			Queues:      map[string]int{queue: 1},
		})

		mux := asynq.NewServeMux()
		for taskType, handler := range tasks {
			mux.HandleFunc(taskType, handler)
		}
		w.servers = append(w.servers, queueServer{srv: srv, mux: mux})
	}

	return w, nil
}

// Run starts every queue server and blocks until the context is canceled or
// a server fails.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range w.servers {
		g.Go(func() error {
			return s.srv.Run(s.mux)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, s := range w.servers {
			s.srv.Shutdown()
		}
		return nil
	})

	return g.Wait()
}
