// Package ports defines the task types and payloads exchanged between the
// offer orchestrator and the queue workers, plus the narrow interfaces the
// orchestrator needs from them.
package ports

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskVisionAnalyze = "pipeline.vision.analyze"

const TaskMarketResearch = "pipeline.market.research"

const TaskPriceCalculate = "pipeline.price.calculate"

const TaskVoiceGenerate = "pipeline.voice.generate"

const TaskEscalationNotify = "notify.escalation"

const TaskPriceOptimize = "maintenance.price.optimize"

const TaskExpireSweep = "maintenance.expire.sweep"

// Queue names. Each queue runs on its own server with its own concurrency.
const (
	QueueVision      = "vision"
	QueueMarket      = "marketplace"
	QueuePricing     = "pricing"
	QueueVoice       = "voice"
	QueueNotify      = "notifications"
	QueueMaintenance = "maintenance"
)

type VisionPayload struct {
	OfferID     string   `json:"offerId"`
	PhotoKeys   []string `json:"photoKeys"`
	Description string   `json:"description,omitempty"`
}

type MarketPayload struct {
	OfferID   string `json:"offerId"`
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	Category  string `json:"category"`
	Condition string `json:"condition"`
}

type PricingPayload struct {
	OfferID string `json:"offerId"`
}

type VoicePayload struct {
	OfferID string `json:"offerId"`
}

type EscalationNotifyPayload struct {
	OfferID string `json:"offerId"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

type PriceOptimizePayload struct {
	DryRun bool `json:"dryRun"`
}

func NewVisionTask(payload VisionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVisionAnalyze, data), nil
}

func ParseVisionPayload(task *asynq.Task) (VisionPayload, error) {
	var payload VisionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VisionPayload{}, err
	}
	return payload, nil
}

func NewMarketTask(payload MarketPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMarketResearch, data), nil
}

func ParseMarketPayload(task *asynq.Task) (MarketPayload, error) {
	var payload MarketPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return MarketPayload{}, err
	}
	return payload, nil
}

func NewPricingTask(payload PricingPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceCalculate, data), nil
}

func ParsePricingPayload(task *asynq.Task) (PricingPayload, error) {
	var payload PricingPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PricingPayload{}, err
	}
	return payload, nil
}

func NewVoiceTask(payload VoicePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoiceGenerate, data), nil
}

func ParseVoicePayload(task *asynq.Task) (VoicePayload, error) {
	var payload VoicePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VoicePayload{}, err
	}
	return payload, nil
}

func NewEscalationNotifyTask(payload EscalationNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscalationNotify, data), nil
}

func ParseEscalationNotifyPayload(task *asynq.Task) (EscalationNotifyPayload, error) {
	var payload EscalationNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EscalationNotifyPayload{}, err
	}
	return payload, nil
}

func NewPriceOptimizeTask(payload PriceOptimizePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceOptimize, data), nil
}

func ParsePriceOptimizePayload(task *asynq.Task) (PriceOptimizePayload, error) {
	var payload PriceOptimizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PriceOptimizePayload{}, err
	}
	return payload, nil
}

// MaintenanceEnqueuer triggers scheduled maintenance jobs out of band, for
// admin operations.
type MaintenanceEnqueuer interface {
	EnqueuePriceOptimize(ctx context.Context, dryRun bool) error
}

// Enqueuer is what the orchestrator needs from the queue client: hand a stage
// job to the right queue. Implementations decide retry policy and timeouts.
type Enqueuer interface {
	EnqueueVision(ctx context.Context, payload VisionPayload) error
	EnqueueMarket(ctx context.Context, payload MarketPayload) error
	EnqueuePricing(ctx context.Context, payload PricingPayload) error
	EnqueueVoice(ctx context.Context, payload VoicePayload) error
	EnqueueEscalationNotify(ctx context.Context, payload EscalationNotifyPayload) error
}
