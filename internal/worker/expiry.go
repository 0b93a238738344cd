package worker

import (
	"context"
	"time"

	"cashoffer_backend/internal/events"
	"cashoffer_backend/platform/logger"
)

// expiryStore is the repository access the expiry sweep needs.
type expiryStore interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper expires ready offers whose acceptance window has passed. The sweep
// only touches ready rows, so it can never race the optimizer's
// compare-and-set price writes into an inconsistent state.
type Sweeper struct {
	store expiryStore
	bus   events.Bus
	log   *logger.Logger
}

func NewSweeper(store expiryStore, bus events.Bus, log *logger.Logger) *Sweeper {
	return &Sweeper{store: store, bus: bus, log: log}
}

func (s *Sweeper) Sweep(ctx context.Context) error {
	expired, err := s.store.ExpireStale(ctx, time.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("expired stale offers", "count", expired)
	}
	return nil
}
