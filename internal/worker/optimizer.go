package worker

import (
	"context"
	"time"

	"cashoffer_backend/internal/events"
	"cashoffer_backend/internal/offers/domain"
	valuation "cashoffer_backend/internal/valuation/client"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"
)

// optimizerStore is the repository access the optimizer needs.
type optimizerStore interface {
	ListOptimizable(ctx context.Context, now time.Time, minAge, window time.Duration, limit int) ([]*domain.Offer, error)
	ApplyPriceChange(ctx context.Context, change domain.PriceChange) (bool, error)
}

// recommender suggests price adjustments for a batch of live offers.
type recommender interface {
	OptimizePrices(ctx context.Context, snapshots []valuation.OfferSnapshot) ([]valuation.Recommendation, error)
}

// OptimizeSummary reports what one optimizer run did. Changes lists every
// adjustment; on a dry run they are the changes that would have been written.
type OptimizeSummary struct {
	Scanned        int
	Adjusted       int
	Skipped        int
	TotalReduction float64
	Changes        []domain.PriceChange
}

// Optimizer applies gradual price decay to live offers. Recommendations come
// from the valuation service but the floor is enforced here: no change ever
// takes an offer below its price floor, and prices only move down.
type Optimizer struct {
	store  optimizerStore
	client recommender
	bus    events.Bus
	cfg    config.OptimizerConfig
	log    *logger.Logger
}

func NewOptimizer(store optimizerStore, client recommender, bus events.Bus, cfg config.OptimizerConfig, log *logger.Logger) *Optimizer {
	return &Optimizer{
		store:  store,
		client: client,
		bus:    bus,
		cfg:    cfg,
		log:    log,
	}
}

// Run scans eligible offers, fetches recommendations, and applies the ones
// that pass the floor and direction checks. With dryRun set nothing is
// written; the summary reports what would have happened.
func (o *Optimizer) Run(ctx context.Context, dryRun bool) (OptimizeSummary, error) {
	var summary OptimizeSummary

	now := time.Now()
	offers, err := o.store.ListOptimizable(ctx, now, o.cfg.GetOptimizerMinAge(), o.cfg.GetOptimizerWindow(), 0)
	if err != nil {
		return summary, err
	}
	summary.Scanned = len(offers)
	if len(offers) == 0 {
		o.publish(ctx, summary, dryRun)
		return summary, nil
	}

	byID := make(map[string]*domain.Offer, len(offers))
	snapshots := make([]valuation.OfferSnapshot, 0, len(offers))
	for _, offer := range offers {
		byID[offer.ID.String()] = offer
		snapshots = append(snapshots, valuation.OfferSnapshot{
			OfferID:         offer.ID.String(),
			CurrentPrice:    offer.OfferAmount,
			OriginalPrice:   offer.OriginalOfferAmount,
			MarketMedian:    offer.MarketMedian,
			ViewCount:       offer.ViewCount,
			CreatedAt:       offer.CreatedAt,
			LastOptimizedAt: offer.LastPriceOptimizedAt,
		})
	}

	recs, err := o.client.OptimizePrices(ctx, snapshots)
	if err != nil {
		return summary, err
	}

	floorRatio := o.cfg.GetPriceFloorRatio()
	for _, rec := range recs {
		offer, ok := byID[rec.OfferID]
		if !ok {
			continue
		}

		newPrice, ok := clampToFloor(offer, rec.RecommendedPrice, floorRatio)
		if !ok {
			summary.Skipped++
			continue
		}

		change := domain.PriceChange{
			OfferID:     offer.ID,
			OldPrice:    offer.OfferAmount,
			NewPrice:    newPrice,
			Reason:      rec.Reason,
			TriggerType: "automatic",
		}

		if dryRun {
			summary.Adjusted++
			summary.TotalReduction += offer.OfferAmount - newPrice
			summary.Changes = append(summary.Changes, change)
			continue
		}

		applied, err := o.store.ApplyPriceChange(ctx, change)
		if err != nil {
			return summary, err
		}
		if !applied {
			// The offer was accepted, locked, or repriced since the scan.
			summary.Skipped++
			continue
		}
		summary.Adjusted++
		summary.TotalReduction += offer.OfferAmount - newPrice
		summary.Changes = append(summary.Changes, change)
	}

	o.log.Info("price optimizer run complete",
		"scanned", summary.Scanned,
		"adjusted", summary.Adjusted,
		"skipped", summary.Skipped,
		"total_reduction", summary.TotalReduction,
		"dry_run", dryRun,
	)
	o.publish(ctx, summary, dryRun)
	return summary, nil
}

func (o *Optimizer) publish(ctx context.Context, summary OptimizeSummary, dryRun bool) {
	o.bus.Publish(ctx, events.PricesOptimized{
		BaseEvent:      events.NewBaseEvent(),
		Scanned:        summary.Scanned,
		Adjusted:       summary.Adjusted,
		Skipped:        summary.Skipped,
		TotalReduction: summary.TotalReduction,
		Changes:        summary.Changes,
		DryRun:         dryRun,
	})
}

// clampToFloor validates a recommendation against the offer. Only reductions
// are applied, and never below the effective floor. Returns the price to
// apply, or false when the recommendation should be skipped.
func clampToFloor(offer *domain.Offer, recommended, floorRatio float64) (float64, bool) {
	floor := offer.EffectiveFloor(floorRatio)
	if recommended >= offer.OfferAmount {
		return 0, false
	}
	if offer.OfferAmount <= floor {
		return 0, false
	}
	if recommended < floor {
		recommended = floor
	}
	return recommended, true
}
