// Package transport defines the request and response shapes for the offers
// HTTP API.
package transport

import (
	"time"

	"cashoffer_backend/internal/offers/domain"

	"github.com/google/uuid"
)

// SubmitOfferRequest is the request body for submitting an item.
type SubmitOfferRequest struct {
	PhotoKeys   []string `json:"photoKeys" validate:"required,min=1,max=6,dive,required,max=512"`
	Description string   `json:"description,omitempty" validate:"max=2000"`
}

// ResolveEscalationRequest is the reviewer's decision on an open escalation.
type ResolveEscalationRequest struct {
	Resolution   string   `json:"resolution" validate:"required,oneof=approve decline revise"`
	RevisedPrice *float64 `json:"revisedPrice,omitempty" validate:"omitempty,gt=0"`
	Notes        string   `json:"notes,omitempty" validate:"max=2000"`
}

// OverridePriceRequest is a manual admin price change on a live offer.
type OverridePriceRequest struct {
	NewPrice float64 `json:"newPrice" validate:"required,gt=0"`
	Reason   string  `json:"reason" validate:"required,max=500"`
}

// OfferResponse is the submitter-facing view of an offer. Pipeline internals
// are collapsed into a coarse status.
type OfferResponse struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	PhotoKeys   []string   `json:"photoKeys"`
	Description string     `json:"description,omitempty"`
	Brand       string     `json:"brand,omitempty"`
	Model       string     `json:"model,omitempty"`
	Category    string     `json:"category,omitempty"`
	Condition   string     `json:"condition,omitempty"`
	OfferAmount float64    `json:"offerAmount,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Voice       *VoiceView `json:"voice,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// VoiceView is the presentation payload shown with a ready offer.
type VoiceView struct {
	Script    string `json:"script"`
	Tone      string `json:"tone"`
	Animation string `json:"animation,omitempty"`
	AudioKey  string `json:"audioKey,omitempty"`
}

// AdminOfferResponse exposes the full pipeline state to reviewers.
type AdminOfferResponse struct {
	*domain.Offer
	EffectiveFloor float64 `json:"effectiveFloor"`
}

// EscalationResponse is one review case.
type EscalationResponse struct {
	ID         uuid.UUID  `json:"id"`
	OfferID    uuid.UUID  `json:"offerId"`
	Reason     string     `json:"reason"`
	Message    string     `json:"message,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolvedBy,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// PriceChangeResponse is one audited price mutation.
type PriceChangeResponse struct {
	ID          uuid.UUID `json:"id"`
	OldPrice    float64   `json:"oldPrice"`
	NewPrice    float64   `json:"newPrice"`
	Reason      string    `json:"reason"`
	TriggerType string    `json:"triggerType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// coarseStatus maps internal pipeline statuses to what submitters see.
func coarseStatus(s domain.Status) string {
	switch s {
	case domain.StatusProcessing, domain.StatusResearching, domain.StatusPricing, domain.StatusVoicing:
		return "processing"
	case domain.StatusEscalated, domain.StatusResolved:
		return "escalated"
	default:
		return string(s)
	}
}

// ToOfferResponse builds the submitter-facing view.
func ToOfferResponse(o *domain.Offer) OfferResponse {
	resp := OfferResponse{
		ID:          o.ID,
		Status:      coarseStatus(o.Status),
		PhotoKeys:   o.PhotoKeys,
		Description: o.Description,
		Brand:       o.Brand,
		Model:       o.Model,
		Category:    o.Category,
		Condition:   o.Condition,
		ExpiresAt:   o.ExpiresAt,
		CreatedAt:   o.CreatedAt,
	}

	// Amount and presentation are only visible once the offer is ready.
	switch o.Status {
	case domain.StatusReady, domain.StatusAccepted, domain.StatusShipped,
		domain.StatusReceived, domain.StatusVerified, domain.StatusPaid:
		resp.OfferAmount = o.OfferAmount
		if o.VoiceScript != "" {
			resp.Voice = &VoiceView{
				Script:    o.VoiceScript,
				Tone:      string(o.VoiceTone),
				Animation: o.VoiceAnimation,
				AudioKey:  o.VoiceAudio,
			}
		}
	}
	return resp
}

// ToEscalationResponse builds the reviewer view of one case.
func ToEscalationResponse(e *domain.Escalation) EscalationResponse {
	return EscalationResponse{
		ID:         e.ID,
		OfferID:    e.OfferID,
		Reason:     string(e.Reason),
		Message:    e.Message,
		ResolvedBy: e.ResolvedBy,
		Resolution: e.Resolution,
		ResolvedAt: e.ResolvedAt,
		CreatedAt:  e.CreatedAt,
	}
}

// ToPriceChangeResponse builds the audit view of one price mutation.
func ToPriceChangeResponse(ch *domain.PriceChange) PriceChangeResponse {
	return PriceChangeResponse{
		ID:          ch.ID,
		OldPrice:    ch.OldPrice,
		NewPrice:    ch.NewPrice,
		Reason:      ch.Reason,
		TriggerType: ch.TriggerType,
		CreatedAt:   ch.CreatedAt,
	}
}
