// Package offers contains the orchestrator: the state-machine authority for
// an offer's pipeline. Stage handlers report completions and failures here;
// the orchestrator records results, applies business gates, and decides what
// to enqueue next.
package offers

import (
	"context"
	"fmt"
	"time"

	"cashoffer_backend/internal/events"
	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/internal/offers/repository"
	"cashoffer_backend/internal/ratelimit"
	valuation "cashoffer_backend/internal/valuation/client"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is what the orchestrator needs from the repository.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
	RecordVisionResult(ctx context.Context, id uuid.UUID, v repository.VisionUpdate) (bool, error)
	RecordMarketResult(ctx context.Context, id uuid.UUID, m repository.MarketUpdate) (bool, error)
	RecordPricingResult(ctx context.Context, id uuid.UUID, p repository.PricingUpdate) (bool, error)
	RecordVoiceResult(ctx context.Context, id uuid.UUID, v repository.VoiceUpdate) (bool, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, from domain.Status, reason domain.EscalationReason) (bool, error)
	MarkRejected(ctx context.Context, id uuid.UUID, from domain.Status) (bool, error)
	MarkVoiceEnqueued(ctx context.Context, id uuid.UUID) error
	CreateEscalation(ctx context.Context, offerID uuid.UUID, reason domain.EscalationReason, message string) (*domain.Escalation, error)
}

// SpendLimiter reserves amounts against the platform's daily payout cap. The
// token deduplicates: redelivering a reservation for the same offer must not
// consume the cap twice.
type SpendLimiter interface {
	ReserveOnce(ctx context.Context, key, token string, amount, cap float64, window time.Duration) (ratelimit.Reservation, error)
}

// FraudAssessor scores an offer before release. Nil when fraud checks are
// disabled.
type FraudAssessor interface {
	Assess(ctx context.Context, offerID, userID string, offerAmount float64, category string, visionConfidence float64, userOffersToday int) (FraudVerdict, error)
}

// FraudVerdict is the subset of the fraud assessment the orchestrator acts on.
type FraudVerdict struct {
	RiskScore         float64
	RecommendedAction string
}

// VoiceOutcome is what the voice stage produced, possibly degraded.
type VoiceOutcome struct {
	Script    string
	Tone      domain.Tone
	Animation string
	AudioKey  string
	Tier      domain.VoiceTier
}

// Orchestrator owns offer lifecycle decisions. All of its completion entry
// points are idempotent: a redelivered completion for an offer that already
// advanced is a logged no-op.
type Orchestrator struct {
	store    Store
	enqueuer ports.Enqueuer
	limiter  SpendLimiter
	fraud    FraudAssessor
	bus      events.Bus
	rules    config.BusinessRulesConfig
	log      *logger.Logger
}

// NewOrchestrator wires the orchestrator. fraud may be nil.
func NewOrchestrator(store Store, enqueuer ports.Enqueuer, limiter SpendLimiter, fraud FraudAssessor, bus events.Bus, rules config.BusinessRulesConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		enqueuer: enqueuer,
		limiter:  limiter,
		fraud:    fraud,
		bus:      bus,
		rules:    rules,
		log:      log,
	}
}

// StartPipeline enqueues the vision stage for a freshly created offer.
func (o *Orchestrator) StartPipeline(ctx context.Context, offer *domain.Offer) error {
	err := o.enqueuer.EnqueueVision(ctx, ports.VisionPayload{
		OfferID:     offer.ID.String(),
		PhotoKeys:   offer.PhotoKeys,
		Description: offer.Description,
	})
	if err != nil {
		return fmt.Errorf("enqueue vision: %w", err)
	}
	o.log.StageEvent(offer.ID.String(), "vision", "enqueued")
	return nil
}

// OnVisionComplete records the identification and either advances to
// marketplace research or escalates on low confidence.
func (o *Orchestrator) OnVisionComplete(ctx context.Context, offerID uuid.UUID, res valuation.VisionResult) error {
	recorded, err := o.store.RecordVisionResult(ctx, offerID, repository.VisionUpdate{
		Category:   res.Category,
		Brand:      res.Brand,
		Model:      res.Model,
		Condition:  res.Condition,
		Features:   res.Features,
		Damages:    res.Damages,
		Confidence: res.Confidence,
	})
	if err != nil {
		return err
	}
	if !recorded {
		o.log.StageEvent(offerID.String(), "vision", "duplicate_completion")
		return nil
	}
	o.log.StageEvent(offerID.String(), "vision", "completed")

	if res.Confidence < o.rules.GetLowConfidenceThreshold() {
		return o.Escalate(ctx, offerID, domain.ReasonLowConfidence,
			fmt.Sprintf("vision confidence %.0f below threshold %.0f", res.Confidence, o.rules.GetLowConfidenceThreshold()))
	}

	err = o.enqueuer.EnqueueMarket(ctx, ports.MarketPayload{
		OfferID:   offerID.String(),
		Brand:     res.Brand,
		Model:     res.Model,
		Category:  res.Category,
		Condition: res.Condition,
	})
	if err != nil {
		return fmt.Errorf("enqueue marketplace research: %w", err)
	}
	return nil
}

// OnMarketComplete records the research stats and either advances to pricing
// or escalates when too few comparables were found.
func (o *Orchestrator) OnMarketComplete(ctx context.Context, offerID uuid.UUID, stats valuation.MarketStats) error {
	recorded, err := o.store.RecordMarketResult(ctx, offerID, repository.MarketUpdate{
		ComparableCount: stats.ComparableCount,
		Mean:            stats.Mean,
		Median:          stats.Median,
		Min:             stats.Min,
		Max:             stats.Max,
		CacheHit:        stats.CacheHit,
	})
	if err != nil {
		return err
	}
	if !recorded {
		o.log.StageEvent(offerID.String(), "marketplace", "duplicate_completion")
		return nil
	}
	o.log.StageEvent(offerID.String(), "marketplace", "completed")

	if stats.ComparableCount < o.rules.GetMinComparableCount() {
		return o.Escalate(ctx, offerID, domain.ReasonFewComparables,
			fmt.Sprintf("only %d comparable listings found, need %d", stats.ComparableCount, o.rules.GetMinComparableCount()))
	}

	if err := o.enqueuer.EnqueuePricing(ctx, ports.PricingPayload{OfferID: offerID.String()}); err != nil {
		return fmt.Errorf("enqueue pricing: %w", err)
	}
	return nil
}

// OnPricingComplete records the valuation, reserves the amount against the
// daily spend cap, and either advances to the voice stage or escalates. The
// spend reservation fails closed: if the counter store is down the offer
// completion errors and the queue retries it.
func (o *Orchestrator) OnPricingComplete(ctx context.Context, offerID uuid.UUID, res valuation.PricingResult) error {
	floor := res.OfferAmount * o.rules.GetPriceFloorRatio()
	expiresAt := time.Now().Add(o.rules.GetOfferExpiry())

	recorded, err := o.store.RecordPricingResult(ctx, offerID, repository.PricingUpdate{
		FairMarketValue:     res.FairMarketValue,
		Confidence:          res.Confidence,
		OfferAmount:         res.OfferAmount,
		OfferRatio:          res.OfferRatio,
		ConditionMultiplier: res.ConditionMultiplier,
		CategoryMargin:      res.CategoryMargin,
		PriceFloor:          floor,
		ExpiresAt:           expiresAt,
	})
	if err != nil {
		return err
	}
	if !recorded {
		// Either a duplicate delivery for an offer that already moved on, or
		// a retry of an attempt that recorded the result but died before the
		// voice job reached the queue. Only the latter still needs the gates
		// run; voice_enqueued_at tells the two apart.
		offer, err := o.store.GetByID(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.Status != domain.StatusVoicing || offer.VoiceCompletedAt != nil || offer.VoiceEnqueuedAt != nil {
			o.log.StageEvent(offerID.String(), "pricing", "duplicate_completion")
			return nil
		}
	} else {
		o.log.StageEvent(offerID.String(), "pricing", "completed")
	}

	if res.OfferAmount < o.rules.GetMinOfferAmount() {
		return o.Escalate(ctx, offerID, domain.ReasonPipelineError,
			fmt.Sprintf("priced amount %.2f is below the minimum offer of %.2f", res.OfferAmount, o.rules.GetMinOfferAmount()))
	}
	if res.OfferAmount > o.rules.GetMaxOfferAmount() {
		return o.Escalate(ctx, offerID, domain.ReasonHighValue,
			fmt.Sprintf("priced amount %.2f exceeds the maximum offer of %.2f", res.OfferAmount, o.rules.GetMaxOfferAmount()))
	}

	// The offer ID is the reservation token: a retried or duplicated
	// completion rides the existing reservation instead of consuming the cap
	// again.
	reservation, err := o.limiter.ReserveOnce(ctx, ratelimit.DailySpendKey(time.Now()),
		offerID.String(), res.OfferAmount, o.rules.GetDailySpendCap(), 24*time.Hour)
	if err != nil {
		return fmt.Errorf("reserve daily spend: %w", err)
	}
	if !reservation.Allowed {
		o.log.RateLimitExceeded(ratelimit.DailySpendKey(time.Now()), "daily_spend")
		return o.Escalate(ctx, offerID, domain.ReasonDailyLimit,
			fmt.Sprintf("offer of %.2f would exceed the daily spend cap", res.OfferAmount))
	}

	if res.OfferAmount > o.rules.GetAutoApproveThreshold() {
		return o.Escalate(ctx, offerID, domain.ReasonHighValue,
			fmt.Sprintf("offer of %.2f exceeds auto-approve threshold %.2f", res.OfferAmount, o.rules.GetAutoApproveThreshold()))
	}

	if err := o.enqueuer.EnqueueVoice(ctx, ports.VoicePayload{OfferID: offerID.String()}); err != nil {
		return fmt.Errorf("enqueue voice: %w", err)
	}
	if err := o.store.MarkVoiceEnqueued(ctx, offerID); err != nil {
		// The job is queued; losing the marker only means a future duplicate
		// re-enqueues voice, which OnVoiceComplete absorbs.
		o.log.StageError(offerID.String(), "pricing", err)
	}
	return nil
}

// OnVoiceComplete runs the fraud gate and releases the offer. Degraded voice
// outcomes (script only, or static fallback) release the same way with their
// tier recorded.
func (o *Orchestrator) OnVoiceComplete(ctx context.Context, offerID uuid.UUID, out VoiceOutcome) error {
	offer, err := o.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.Status != domain.StatusVoicing {
		o.log.StageEvent(offerID.String(), "voice", "duplicate_completion")
		return nil
	}

	if o.fraud != nil {
		verdict, err := o.fraud.Assess(ctx, offerID.String(), offer.UserID.String(),
			offer.OfferAmount, offer.Category, offer.Confidence, 0)
		if err != nil {
			// The fraud service is advisory when unreachable.
			o.log.StageError(offerID.String(), "fraud", err)
		} else {
			switch verdict.RecommendedAction {
			case "reject":
				if _, err := o.store.MarkRejected(ctx, offerID, domain.StatusVoicing); err != nil {
					return err
				}
				o.log.StageEvent(offerID.String(), "fraud", "rejected")
				return nil
			case "escalate", "review":
				return o.Escalate(ctx, offerID, domain.ReasonFraudSuspected,
					fmt.Sprintf("fraud service recommends %s, risk score %.0f", verdict.RecommendedAction, verdict.RiskScore))
			}
		}
	}

	recorded, err := o.store.RecordVoiceResult(ctx, offerID, repository.VoiceUpdate{
		Script:    out.Script,
		Tone:      out.Tone,
		Animation: out.Animation,
		AudioKey:  out.AudioKey,
		Tier:      out.Tier,
	})
	if err != nil {
		return err
	}
	if !recorded {
		o.log.StageEvent(offerID.String(), "voice", "duplicate_completion")
		return nil
	}
	o.log.StageEvent(offerID.String(), "voice", "completed")

	o.bus.Publish(ctx, events.OfferReady{
		BaseEvent:   events.NewBaseEvent(),
		OfferID:     offerID,
		UserID:      offer.UserID,
		OfferAmount: offer.OfferAmount,
	})
	return nil
}

// OnStageFailure is the terminal-failure hook: a stage handler exhausted its
// retries. The offer leaves the pipeline for review.
func (o *Orchestrator) OnStageFailure(ctx context.Context, offerID uuid.UUID, stage string, cause error) error {
	o.log.StageError(offerID.String(), stage, cause)
	o.bus.Publish(ctx, events.PipelineStageFailed{
		BaseEvent: events.NewBaseEvent(),
		OfferID:   offerID,
		Stage:     stage,
		Error:     cause.Error(),
	})
	return o.Escalate(ctx, offerID, domain.ReasonPipelineError,
		fmt.Sprintf("%s stage failed after retries: %v", stage, cause))
}

// Escalate pulls an offer out of the pipeline for human review. Callable from
// any stage; escalating an already-escalated or terminal offer is a no-op.
func (o *Orchestrator) Escalate(ctx context.Context, offerID uuid.UUID, reason domain.EscalationReason, message string) error {
	offer, err := o.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if !offer.Status.CanTransition(domain.StatusEscalated) {
		o.log.StageEvent(offerID.String(), "escalation", "skipped_"+string(offer.Status))
		return nil
	}

	moved, err := o.store.MarkEscalated(ctx, offerID, offer.Status, reason)
	if err != nil {
		return err
	}
	if !moved {
		// Lost a race with another escalation for the same offer.
		return nil
	}

	if _, err := o.store.CreateEscalation(ctx, offerID, reason, message); err != nil {
		return err
	}
	o.log.StageEvent(offerID.String(), "escalation", string(reason))

	o.bus.Publish(ctx, events.OfferEscalated{
		BaseEvent: events.NewBaseEvent(),
		OfferID:   offerID,
		Reason:    string(reason),
		Message:   message,
	})

	err = o.enqueuer.EnqueueEscalationNotify(ctx, ports.EscalationNotifyPayload{
		OfferID: offerID.String(),
		Reason:  string(reason),
		Message: message,
	})
	if err != nil {
		// The escalation itself is durable; the alert is best effort.
		o.log.StageError(offerID.String(), "escalation_notify", err)
	}
	return nil
}
