package domain

import (
	"time"

	"github.com/google/uuid"
)

// EscalationReason explains why an offer was pulled out of the pipeline for
// human review.
type EscalationReason string

const (
	ReasonPipelineError  EscalationReason = "pipeline_error"
	ReasonLowConfidence  EscalationReason = "low_confidence"
	ReasonFewComparables EscalationReason = "few_comparables"
	ReasonHighValue      EscalationReason = "high_value"
	ReasonDailyLimit     EscalationReason = "daily_limit"
	ReasonFraudSuspected EscalationReason = "fraud_suspected"
)

// Offer is the persisted record for one item valuation.
type Offer struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"userId"`
	Status Status    `json:"status"`

	// Item attributes. Brand through Confidence are filled by the vision
	// stage; PhotoKeys and Description come from the submission.
	PhotoKeys   []string `json:"photoKeys"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Model       string   `json:"model,omitempty"`
	Condition   string   `json:"condition,omitempty"`
	Features    []string `json:"features,omitempty"`
	Damages     []string `json:"damages,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`

	// Marketplace research results.
	ComparableCount int     `json:"comparableCount,omitempty"`
	MarketMedian    float64 `json:"marketMedian,omitempty"`
	MarketMean      float64 `json:"marketMean,omitempty"`
	MarketLow       float64 `json:"marketLow,omitempty"`
	MarketHigh      float64 `json:"marketHigh,omitempty"`

	// Pricing results.
	FairMarketValue     float64  `json:"fairMarketValue,omitempty"`
	PricingConfidence   float64  `json:"pricingConfidence,omitempty"`
	OfferAmount         float64  `json:"offerAmount,omitempty"`
	OriginalOfferAmount float64  `json:"originalOfferAmount,omitempty"`
	OfferRatio          float64  `json:"offerRatio,omitempty"`
	ConditionMultiplier float64  `json:"conditionMultiplier,omitempty"`
	CategoryMargin      float64  `json:"categoryMargin,omitempty"`
	PriceFloor          float64  `json:"priceFloor,omitempty"`
	PriceLocked         bool     `json:"priceLocked"`
	AutoPricingEnabled  bool     `json:"autoPricingEnabled"`
	Scenario            Scenario `json:"scenario,omitempty"`

	// Voice/presentation payload, written once by the voice stage.
	VoiceScript    string    `json:"voiceScript,omitempty"`
	VoiceTone      Tone      `json:"voiceTone,omitempty"`
	VoiceAnimation string    `json:"voiceAnimation,omitempty"`
	VoiceAudio     string    `json:"voiceAudio,omitempty"`
	VoiceTier      VoiceTier `json:"voiceTier,omitempty"`

	// Pipeline bookkeeping.
	VisionCompletedAt    *time.Time `json:"visionCompletedAt,omitempty"`
	MarketCompletedAt    *time.Time `json:"marketCompletedAt,omitempty"`
	PricingCompletedAt   *time.Time `json:"pricingCompletedAt,omitempty"`
	VoiceEnqueuedAt      *time.Time `json:"voiceEnqueuedAt,omitempty"`
	VoiceCompletedAt     *time.Time `json:"voiceCompletedAt,omitempty"`
	LastPriceOptimizedAt *time.Time `json:"lastPriceOptimizedAt,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	AcceptedAt           *time.Time `json:"acceptedAt,omitempty"`
	Escalated            bool       `json:"escalated"`
	EscalationReason     string     `json:"escalationReason,omitempty"`
	ViewCount            int        `json:"viewCount"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Expired reports whether the offer's acceptance window has passed.
func (o *Offer) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// Escalation is one open-or-resolved review case for an offer. At most one
// open escalation exists per offer, enforced by a partial unique index.
type Escalation struct {
	ID         uuid.UUID        `json:"id"`
	OfferID    uuid.UUID        `json:"offerId"`
	Reason     EscalationReason `json:"reason"`
	Message    string           `json:"message,omitempty"`
	ResolvedBy *uuid.UUID       `json:"resolvedBy,omitempty"`
	Resolution string           `json:"resolution,omitempty"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// PriceChange is one audited price mutation.
type PriceChange struct {
	ID          uuid.UUID  `json:"id"`
	OfferID     uuid.UUID  `json:"offerId"`
	OldPrice    float64    `json:"oldPrice"`
	NewPrice    float64    `json:"newPrice"`
	Reason      string     `json:"reason"`
	TriggerType string     `json:"triggerType"` // manual or automatic
	ChangedBy   *uuid.UUID `json:"changedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// EffectiveFloor returns the floor the optimizer must respect: the explicit
// floor when set, else floorRatio of the original offer amount.
func (o *Offer) EffectiveFloor(floorRatio float64) float64 {
	if o.PriceFloor > 0 {
		return o.PriceFloor
	}
	return o.OriginalOfferAmount * floorRatio
}
