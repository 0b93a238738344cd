// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// OfferSubmitted is published when a user submits an item for valuation.
type OfferSubmitted struct {
	BaseEvent
	OfferID uuid.UUID `json:"offerId"`
	UserID  uuid.UUID `json:"userId"`
}

func (e OfferSubmitted) EventName() string { return "offers.offer.submitted" }

// OfferReady is published when an offer completes the pipeline and is
// presentable to the user.
type OfferReady struct {
	BaseEvent
	OfferID     uuid.UUID `json:"offerId"`
	UserID      uuid.UUID `json:"userId"`
	OfferAmount float64   `json:"offerAmount"`
}

func (e OfferReady) EventName() string { return "offers.offer.ready" }

// OfferAccepted is published when a user accepts a ready offer.
type OfferAccepted struct {
	BaseEvent
	OfferID     uuid.UUID `json:"offerId"`
	UserID      uuid.UUID `json:"userId"`
	OfferAmount float64   `json:"offerAmount"`
}

func (e OfferAccepted) EventName() string { return "offers.offer.accepted" }

// OfferEscalated is published when an offer is pulled out of the pipeline
// for human review.
type OfferEscalated struct {
	BaseEvent
	OfferID uuid.UUID `json:"offerId"`
	Reason  string    `json:"reason"`
	Message string    `json:"message,omitempty"`
}

func (e OfferEscalated) EventName() string { return "offers.offer.escalated" }

// PipelineStageFailed is published when a stage handler exhausts its retries.
type PipelineStageFailed struct {
	BaseEvent
	OfferID uuid.UUID `json:"offerId"`
	Stage   string    `json:"stage"`
	Error   string    `json:"error"`
}

func (e PipelineStageFailed) EventName() string { return "offers.pipeline.stage_failed" }

// PricesOptimized is published after a price optimizer run with the counts
// and the individual changes, for operational visibility. On a dry run
// Changes lists the adjustments that would have been written.
type PricesOptimized struct {
	BaseEvent
	Scanned        int                  `json:"scanned"`
	Adjusted       int                  `json:"adjusted"`
	Skipped        int                  `json:"skipped"`
	TotalReduction float64              `json:"totalReduction"`
	Changes        []domain.PriceChange `json:"changes,omitempty"`
	DryRun         bool                 `json:"dryRun"`
}

func (e PricesOptimized) EventName() string { return "offers.prices.optimized" }
