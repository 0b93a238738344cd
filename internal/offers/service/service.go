// Package service implements the offers business logic behind the HTTP API:
// submission throttling, read paths with expiry enforcement, user decisions,
// and reviewer operations.
package service

import (
	"context"
	"fmt"
	"time"

	"cashoffer_backend/internal/events"
	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/internal/offers/repository"
	"cashoffer_backend/internal/offers/transport"
	"cashoffer_backend/internal/ratelimit"
	"cashoffer_backend/platform/apperr"
	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"

	"github.com/google/uuid"
)

const offerExpiredMsg = "offer has expired"

// PipelineStarter kicks off the valuation pipeline for a new offer. It is
// implemented by the orchestrator.
type PipelineStarter interface {
	StartPipeline(ctx context.Context, offer *domain.Offer) error
}

// Service implements offer operations for the HTTP layer.
type Service struct {
	repo        *repository.Repository
	orch        PipelineStarter
	limiter     *ratelimit.Limiter
	maintenance ports.MaintenanceEnqueuer
	bus         events.Bus
	rules       config.BusinessRulesConfig
	log         *logger.Logger
}

// New creates the offers service. The limiter here runs fail-open: throughput
// throttling degrades gracefully when the counter store is down.
func New(repo *repository.Repository, orch PipelineStarter, limiter *ratelimit.Limiter, maintenance ports.MaintenanceEnqueuer, bus events.Bus, rules config.BusinessRulesConfig, log *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		orch:        orch,
		limiter:     limiter,
		maintenance: maintenance,
		bus:         bus,
		rules:       rules,
		log:         log,
	}
}

// Submit creates an offer and starts its pipeline, after per-IP and per-user
// throughput checks.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, clientIP string, req transport.SubmitOfferRequest) (transport.OfferResponse, error) {
	now := time.Now()

	ipRes, err := s.limiter.Reserve(ctx, ratelimit.IPHourlyKey(clientIP, now),
		1, float64(s.rules.GetOffersPerHourLimit()), time.Hour)
	if err != nil {
		return transport.OfferResponse{}, err
	}
	if !ipRes.Allowed {
		s.log.RateLimitExceeded(ratelimit.IPHourlyKey(clientIP, now), "ip_hourly")
		return transport.OfferResponse{}, apperr.RateLimited("too many submissions from this address, try again later")
	}

	userRes, err := s.limiter.Reserve(ctx, ratelimit.UserDailyKey(userID.String(), now),
		1, float64(s.rules.GetOffersPerDayLimit()), 24*time.Hour)
	if err != nil {
		return transport.OfferResponse{}, err
	}
	if !userRes.Allowed {
		s.log.RateLimitExceeded(ratelimit.UserDailyKey(userID.String(), now), "user_daily")
		return transport.OfferResponse{}, apperr.RateLimited("daily submission limit reached")
	}

	offer, err := s.repo.Create(ctx, userID, req.PhotoKeys, req.Description)
	if err != nil {
		return transport.OfferResponse{}, err
	}

	if err := s.orch.StartPipeline(ctx, offer); err != nil {
		// The offer row exists but no job is queued. Surface the failure so
		// the user retries rather than waiting on a stuck offer.
		return transport.OfferResponse{}, fmt.Errorf("start pipeline: %w", err)
	}

	s.bus.Publish(ctx, events.OfferSubmitted{
		BaseEvent: events.NewBaseEvent(),
		OfferID:   offer.ID,
		UserID:    userID,
	})

	return transport.ToOfferResponse(offer), nil
}

// Get returns one of the user's offers. Viewing a ready offer past its expiry
// flips it to expired and reports 410.
func (s *Service) Get(ctx context.Context, userID, offerID uuid.UUID) (transport.OfferResponse, error) {
	offer, err := s.ownedOffer(ctx, userID, offerID)
	if err != nil {
		return transport.OfferResponse{}, err
	}

	if offer.Status == domain.StatusReady && offer.Expired(time.Now()) {
		if _, err := s.repo.UpdateStatus(ctx, offerID, domain.StatusReady, domain.StatusExpired); err != nil {
			return transport.OfferResponse{}, err
		}
		return transport.OfferResponse{}, apperr.Gone(offerExpiredMsg)
	}

	if offer.Status == domain.StatusReady {
		if err := s.repo.IncrementViewCount(ctx, offerID); err != nil {
			s.log.DatabaseError("increment view count", err)
		}
	}

	return transport.ToOfferResponse(offer), nil
}

// List returns the user's offers, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]transport.OfferResponse, error) {
	items, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	resp := make([]transport.OfferResponse, 0, len(items))
	for _, o := range items {
		resp = append(resp, transport.ToOfferResponse(o))
	}
	return resp, nil
}

// Accept records the user's acceptance of a ready offer. Accepting an expired
// offer fails with 410 and flips the offer to expired.
func (s *Service) Accept(ctx context.Context, userID, offerID uuid.UUID) (transport.OfferResponse, error) {
	offer, err := s.ownedOffer(ctx, userID, offerID)
	if err != nil {
		return transport.OfferResponse{}, err
	}
	if offer.Status != domain.StatusReady {
		return transport.OfferResponse{}, apperr.Conflict("offer is not open for acceptance")
	}
	if offer.Expired(time.Now()) {
		if _, err := s.repo.UpdateStatus(ctx, offerID, domain.StatusReady, domain.StatusExpired); err != nil {
			return transport.OfferResponse{}, err
		}
		return transport.OfferResponse{}, apperr.Gone(offerExpiredMsg)
	}

	accepted, err := s.repo.MarkAccepted(ctx, offerID)
	if err != nil {
		return transport.OfferResponse{}, err
	}
	if !accepted {
		// Raced with expiry sweep or a concurrent decision.
		return transport.OfferResponse{}, apperr.Conflict("offer is no longer open for acceptance")
	}

	s.bus.Publish(ctx, events.OfferAccepted{
		BaseEvent:   events.NewBaseEvent(),
		OfferID:     offerID,
		UserID:      userID,
		OfferAmount: offer.OfferAmount,
	})

	return s.refresh(ctx, offerID)
}

// Decline records the user's rejection of a ready offer.
func (s *Service) Decline(ctx context.Context, userID, offerID uuid.UUID) (transport.OfferResponse, error) {
	offer, err := s.ownedOffer(ctx, userID, offerID)
	if err != nil {
		return transport.OfferResponse{}, err
	}
	if offer.Status != domain.StatusReady {
		return transport.OfferResponse{}, apperr.Conflict("offer is not open for decline")
	}

	if _, err := s.repo.UpdateStatus(ctx, offerID, domain.StatusReady, domain.StatusDeclined); err != nil {
		return transport.OfferResponse{}, err
	}
	return s.refresh(ctx, offerID)
}

// PriceHistory returns the audit trail for one of the user's offers.
func (s *Service) PriceHistory(ctx context.Context, userID, offerID uuid.UUID) ([]transport.PriceChangeResponse, error) {
	if _, err := s.ownedOffer(ctx, userID, offerID); err != nil {
		return nil, err
	}
	return s.priceHistory(ctx, offerID)
}

// AdminGet returns the full pipeline state of any offer.
func (s *Service) AdminGet(ctx context.Context, offerID uuid.UUID) (transport.AdminOfferResponse, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return transport.AdminOfferResponse{}, err
	}
	return transport.AdminOfferResponse{Offer: offer, EffectiveFloor: offer.EffectiveFloor(s.rules.GetPriceFloorRatio())}, nil
}

// AdminPriceHistory returns the audit trail for any offer.
func (s *Service) AdminPriceHistory(ctx context.Context, offerID uuid.UUID) ([]transport.PriceChangeResponse, error) {
	return s.priceHistory(ctx, offerID)
}

// ListEscalations returns open review cases, oldest first.
func (s *Service) ListEscalations(ctx context.Context, limit int) ([]transport.EscalationResponse, error) {
	items, err := s.repo.ListOpenEscalations(ctx, limit)
	if err != nil {
		return nil, err
	}
	resp := make([]transport.EscalationResponse, 0, len(items))
	for _, e := range items {
		resp = append(resp, transport.ToEscalationResponse(e))
	}
	return resp, nil
}

// ResolveEscalation closes a review case and applies the reviewer's decision
// to the offer: approve re-releases it, decline closes it, revise re-releases
// it at a new price.
func (s *Service) ResolveEscalation(ctx context.Context, reviewerID, escalationID uuid.UUID, req transport.ResolveEscalationRequest) (transport.EscalationResponse, error) {
	esc, err := s.repo.GetEscalation(ctx, escalationID)
	if err != nil {
		return transport.EscalationResponse{}, err
	}
	if esc.ResolvedAt != nil {
		return transport.EscalationResponse{}, apperr.Conflict("escalation already resolved")
	}
	if req.Resolution == "revise" && req.RevisedPrice == nil {
		return transport.EscalationResponse{}, apperr.Validation("revisedPrice is required for revise")
	}

	closed, err := s.repo.ResolveEscalation(ctx, escalationID, reviewerID, req.Resolution, req.Notes)
	if err != nil {
		return transport.EscalationResponse{}, err
	}
	if !closed {
		return transport.EscalationResponse{}, apperr.Conflict("escalation already resolved")
	}

	if _, err := s.repo.UpdateStatus(ctx, esc.OfferID, domain.StatusEscalated, domain.StatusResolved); err != nil {
		return transport.EscalationResponse{}, err
	}

	switch req.Resolution {
	case "decline":
		_, err = s.repo.UpdateStatus(ctx, esc.OfferID, domain.StatusResolved, domain.StatusDeclined)
	case "revise":
		if err = s.repo.OverridePrice(ctx, esc.OfferID, *req.RevisedPrice, reviewerID, "escalation resolved with revised price"); err == nil {
			_, err = s.repo.UpdateStatus(ctx, esc.OfferID, domain.StatusResolved, domain.StatusReady)
		}
	default: // approve
		_, err = s.repo.UpdateStatus(ctx, esc.OfferID, domain.StatusResolved, domain.StatusReady)
	}
	if err != nil {
		return transport.EscalationResponse{}, err
	}

	s.log.StageEvent(esc.OfferID.String(), "escalation", "resolved_"+req.Resolution)

	resolved, err := s.repo.GetEscalation(ctx, escalationID)
	if err != nil {
		return transport.EscalationResponse{}, err
	}
	return transport.ToEscalationResponse(resolved), nil
}

// OverridePrice applies a manual admin price change.
func (s *Service) OverridePrice(ctx context.Context, adminID, offerID uuid.UUID, req transport.OverridePriceRequest) error {
	return s.repo.OverridePrice(ctx, offerID, req.NewPrice, adminID, req.Reason)
}

// RunOptimizer enqueues a price optimizer pass on the maintenance queue.
func (s *Service) RunOptimizer(ctx context.Context, dryRun bool) error {
	return s.maintenance.EnqueuePriceOptimize(ctx, dryRun)
}

func (s *Service) ownedOffer(ctx context.Context, userID, offerID uuid.UUID) (*domain.Offer, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.UserID != userID {
		// Hide the existence of other users' offers.
		return nil, apperr.NotFound("offer not found")
	}
	return offer, nil
}

func (s *Service) refresh(ctx context.Context, offerID uuid.UUID) (transport.OfferResponse, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return transport.OfferResponse{}, err
	}
	return transport.ToOfferResponse(offer), nil
}

func (s *Service) priceHistory(ctx context.Context, offerID uuid.UUID) ([]transport.PriceChangeResponse, error) {
	items, err := s.repo.ListPriceHistory(ctx, offerID)
	if err != nil {
		return nil, err
	}
	resp := make([]transport.PriceChangeResponse, 0, len(items))
	for _, ch := range items {
		resp = append(resp, transport.ToPriceChangeResponse(ch))
	}
	return resp, nil
}
