package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"cashoffer_backend/internal/notification"
	"cashoffer_backend/internal/offers"
	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/internal/offers/ports"
	valuation "cashoffer_backend/internal/valuation/client"
	voiceclient "cashoffer_backend/internal/voice/client"
	"cashoffer_backend/platform/apperr"
	"cashoffer_backend/platform/logger"
)

// orchestrator is what handlers need from the pipeline orchestrator.
type orchestrator interface {
	OnVisionComplete(ctx context.Context, offerID uuid.UUID, res valuation.VisionResult) error
	OnMarketComplete(ctx context.Context, offerID uuid.UUID, stats valuation.MarketStats) error
	OnPricingComplete(ctx context.Context, offerID uuid.UUID, res valuation.PricingResult) error
	OnVoiceComplete(ctx context.Context, offerID uuid.UUID, out offers.VoiceOutcome) error
	OnStageFailure(ctx context.Context, offerID uuid.UUID, stage string, cause error) error
}

// offerReader is the read access handlers need to rebuild stage inputs.
type offerReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
}

// valuationAgent covers the three pipeline capabilities of the valuation
// service.
type valuationAgent interface {
	Identify(ctx context.Context, photoKeys []string, description string) (valuation.VisionResult, error)
	Research(ctx context.Context, brand, model, category, condition string) (valuation.MarketStats, error)
	Price(ctx context.Context, stats valuation.MarketStats, category, condition string) (valuation.PricingResult, error)
}

// voiceAgent covers script generation and audio synthesis.
type voiceAgent interface {
	GenerateScript(ctx context.Context, scenario, tone, brand, model, condition string, offerAmount float64) (voiceclient.ScriptResult, error)
	Synthesize(ctx context.Context, script, tone string) (voiceclient.SynthesisResult, error)
}

// Handlers hosts the queue task handlers for every pipeline stage.
type Handlers struct {
	orch      orchestrator
	repo      offerReader
	valuation valuationAgent
	voice     voiceAgent
	sender    notification.Sender
	optimizer *Optimizer
	sweeper   *Sweeper
	log       *logger.Logger
}

func NewHandlers(orch orchestrator, repo offerReader, valuationSvc valuationAgent, voice voiceAgent, sender notification.Sender, optimizer *Optimizer, sweeper *Sweeper, log *logger.Logger) *Handlers {
	return &Handlers{
		orch:      orch,
		repo:      repo,
		valuation: valuationSvc,
		voice:     voice,
		sender:    sender,
		optimizer: optimizer,
		sweeper:   sweeper,
		log:       log,
	}
}

// failOrRetry returns the error so the queue retries, unless this was the
// last attempt, in which case the offer is escalated out of the pipeline
// and the task is consumed.
func (h *Handlers) failOrRetry(ctx context.Context, offerID uuid.UUID, stage string, cause error) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return cause
	}
	return h.orch.OnStageFailure(ctx, offerID, stage, cause)
}

// loadOffer reads the offer a task refers to. A missing row means the task is
// orphaned and retrying cannot help; any other read failure retries and
// escalates on the final attempt like a stage failure.
func (h *Handlers) loadOffer(ctx context.Context, offerID uuid.UUID, stage string) (*domain.Offer, error) {
	offer, err := h.repo.GetByID(ctx, offerID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return nil, h.failOrRetry(ctx, offerID, stage, err)
	}
	return offer, nil
}

func (h *Handlers) HandleVision(ctx context.Context, task *asynq.Task) error {
	payload, err := ports.ParseVisionPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	res, err := h.valuation.Identify(ctx, payload.PhotoKeys, payload.Description)
	if err != nil {
		return h.failOrRetry(ctx, offerID, "vision", err)
	}
	return h.orch.OnVisionComplete(ctx, offerID, res)
}

func (h *Handlers) HandleMarket(ctx context.Context, task *asynq.Task) error {
	payload, err := ports.ParseMarketPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	stats, err := h.valuation.Research(ctx, payload.Brand, payload.Model, payload.Category, payload.Condition)
	if err != nil {
		return h.failOrRetry(ctx, offerID, "marketplace", err)
	}
	return h.orch.OnMarketComplete(ctx, offerID, stats)
}

func (h *Handlers) HandlePricing(ctx context.Context, task *asynq.Task) error {
	payload, err := ports.ParsePricingPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	offer, err := h.loadOffer(ctx, offerID, "pricing")
	if offer == nil {
		return err
	}

	stats := valuation.MarketStats{
		ComparableCount: offer.ComparableCount,
		Mean:            offer.MarketMean,
		Median:          offer.MarketMedian,
		Min:             offer.MarketLow,
		Max:             offer.MarketHigh,
	}
	res, err := h.valuation.Price(ctx, stats, offer.Category, offer.Condition)
	if err != nil {
		return h.failOrRetry(ctx, offerID, "pricing", err)
	}
	return h.orch.OnPricingComplete(ctx, offerID, res)
}

func (h *Handlers) HandleVoice(ctx context.Context, task *asynq.Task) error {
	payload, err := ports.ParseVoicePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	offer, err := h.loadOffer(ctx, offerID, "voice")
	if offer == nil {
		return err
	}

	out := generateVoice(ctx, h.voice, offer, h.log)
	return h.orch.OnVoiceComplete(ctx, offerID, out)
}

func (h *Handlers) HandleEscalationNotify(ctx context.Context, task *asynq.Task) error {
	payload, err := ports.ParseEscalationNotifyPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	offerID, err := uuid.Parse(payload.OfferID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	offer, err := h.loadOffer(ctx, offerID, "escalation_notify")
	if offer == nil {
		return err
	}

	return h.sender.SendEscalationAlert(ctx, notification.EscalationAlert{
		OfferID:     payload.OfferID,
		Reason:      payload.Reason,
		Message:     payload.Message,
		OfferAmount: offer.OfferAmount,
		Category:    offer.Category,
		OccurredAt:  time.Now(),
	})
}

func (h *Handlers) HandlePriceOptimize(ctx context.Context, task *asynq.Task) error {
	payload, err := ports.ParsePriceOptimizePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	_, err = h.optimizer.Run(ctx, payload.DryRun)
	return err
}

func (h *Handlers) HandleExpireSweep(ctx context.Context, _ *asynq.Task) error {
	return h.sweeper.Sweep(ctx)
}

// generateVoice runs the presentation ladder. It degrades instead of failing:
// full script plus audio, then script only, then a static fallback line. An
// offer never gets stuck in the voicing stage because a voice capability is
// down.
func generateVoice(ctx context.Context, agent voiceAgent, offer *domain.Offer, log *logger.Logger) offers.VoiceOutcome {
	scenario := domain.ScenarioForRatio(offer.OfferRatio)
	tone := domain.ToneFor(scenario)

	script, err := agent.GenerateScript(ctx, string(scenario), string(tone),
		offer.Brand, offer.Model, offer.Condition, offer.OfferAmount)
	if err != nil {
		log.StageError(offer.ID.String(), "voice_script", err)
		return offers.VoiceOutcome{
			Script:    staticScript(scenario, offer.OfferAmount),
			Tone:      tone,
			Animation: "neutral",
			Tier:      domain.TierStatic,
		}
	}

	out := offers.VoiceOutcome{
		Script:    script.Script,
		Tone:      tone,
		Animation: script.AnimationCue,
		Tier:      domain.TierScript,
	}

	audio, err := agent.Synthesize(ctx, script.Script, script.Tone)
	if err != nil {
		log.StageError(offer.ID.String(), "voice_synthesis", err)
		return out
	}

	out.AudioKey = audio.AudioKey
	out.Tier = domain.TierFull
	return out
}

func staticScript(scenario domain.Scenario, amount float64) string {
	switch scenario {
	case domain.ScenarioHigh:
		return fmt.Sprintf("Great news! We can offer you $%.2f for your item.", amount)
	case domain.ScenarioStandard:
		return fmt.Sprintf("We can offer you $%.2f for your item.", amount)
	case domain.ScenarioLow:
		return fmt.Sprintf("Based on current market demand, our offer is $%.2f.", amount)
	default:
		return fmt.Sprintf("Demand for this item is limited right now; our offer is $%.2f.", amount)
	}
}
