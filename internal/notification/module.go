package notification

import (
	"context"

	"cashoffer_backend/internal/events"
	"cashoffer_backend/platform/logger"
)

// Module subscribes to domain events and turns the operational ones into
// alerts. Escalation alerts themselves travel through the durable notify
// queue, not the bus; this module covers the fire-and-forget signals.
type Module struct {
	sender Sender
	log    *logger.Logger
}

func New(sender Sender, log *logger.Logger) *Module {
	return &Module{sender: sender, log: log}
}

// RegisterHandlers subscribes the module to the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.PipelineStageFailed{}.EventName(), events.HandlerFunc(m.onStageFailed))
	bus.Subscribe(events.OfferAccepted{}.EventName(), events.HandlerFunc(m.onOfferAccepted))
	bus.Subscribe(events.PricesOptimized{}.EventName(), events.HandlerFunc(m.onPricesOptimized))
}

func (m *Module) onStageFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.PipelineStageFailed)
	if !ok {
		return nil
	}
	return m.sender.SendStageFailureAlert(ctx, StageFailureAlert{
		OfferID:    e.OfferID.String(),
		Stage:      e.Stage,
		Error:      e.Error,
		OccurredAt: e.OccurredAt(),
	})
}

func (m *Module) onOfferAccepted(_ context.Context, event events.Event) error {
	e, ok := event.(events.OfferAccepted)
	if !ok {
		return nil
	}
	m.log.Info("offer accepted",
		"offer_id", e.OfferID,
		"user_id", e.UserID,
		"amount", e.OfferAmount,
	)
	return nil
}

func (m *Module) onPricesOptimized(_ context.Context, event events.Event) error {
	e, ok := event.(events.PricesOptimized)
	if !ok {
		return nil
	}
	m.log.Info("prices optimized",
		"scanned", e.Scanned,
		"adjusted", e.Adjusted,
		"skipped", e.Skipped,
		"total_reduction", e.TotalReduction,
		"dry_run", e.DryRun,
	)
	return nil
}
