package offers

import (
	"context"
	"errors"
	"testing"
	"time"

	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/internal/offers/repository"
	"cashoffer_backend/internal/ratelimit"
	valuation "cashoffer_backend/internal/valuation/client"
	"cashoffer_backend/platform/events"
	"cashoffer_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore keeps one offer in memory and mimics the repository's
// compare-and-set semantics.
type fakeStore struct {
	offer       *domain.Offer
	escalations []domain.EscalationReason
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Offer, error) {
	if s.offer == nil || s.offer.ID != id {
		return nil, errors.New("offer not found")
	}
	clone := *s.offer
	return &clone, nil
}

func (s *fakeStore) RecordVisionResult(_ context.Context, id uuid.UUID, v repository.VisionUpdate) (bool, error) {
	if s.offer.Status != domain.StatusProcessing {
		return false, nil
	}
	now := time.Now()
	s.offer.Status = domain.StatusResearching
	s.offer.Brand = v.Brand
	s.offer.Model = v.Model
	s.offer.Category = v.Category
	s.offer.Condition = v.Condition
	s.offer.Confidence = v.Confidence
	s.offer.VisionCompletedAt = &now
	return true, nil
}

func (s *fakeStore) RecordMarketResult(_ context.Context, id uuid.UUID, m repository.MarketUpdate) (bool, error) {
	if s.offer.Status != domain.StatusResearching {
		return false, nil
	}
	now := time.Now()
	s.offer.Status = domain.StatusPricing
	s.offer.ComparableCount = m.ComparableCount
	s.offer.MarketMedian = m.Median
	s.offer.MarketCompletedAt = &now
	return true, nil
}

func (s *fakeStore) RecordPricingResult(_ context.Context, id uuid.UUID, p repository.PricingUpdate) (bool, error) {
	if s.offer.Status != domain.StatusPricing {
		return false, nil
	}
	now := time.Now()
	s.offer.Status = domain.StatusVoicing
	s.offer.FairMarketValue = p.FairMarketValue
	s.offer.OfferAmount = p.OfferAmount
	s.offer.OriginalOfferAmount = p.OfferAmount
	s.offer.OfferRatio = p.OfferRatio
	s.offer.PriceFloor = p.PriceFloor
	s.offer.PricingCompletedAt = &now
	if s.offer.ExpiresAt == nil {
		s.offer.ExpiresAt = &p.ExpiresAt
	}
	return true, nil
}

func (s *fakeStore) RecordVoiceResult(_ context.Context, id uuid.UUID, v repository.VoiceUpdate) (bool, error) {
	if s.offer.Status != domain.StatusVoicing {
		return false, nil
	}
	now := time.Now()
	s.offer.Status = domain.StatusReady
	s.offer.VoiceScript = v.Script
	s.offer.VoiceTone = v.Tone
	s.offer.VoiceAudio = v.AudioKey
	s.offer.VoiceTier = v.Tier
	s.offer.VoiceCompletedAt = &now
	return true, nil
}

func (s *fakeStore) MarkEscalated(_ context.Context, id uuid.UUID, from domain.Status, reason domain.EscalationReason) (bool, error) {
	if s.offer.Status != from {
		return false, nil
	}
	s.offer.Status = domain.StatusEscalated
	s.offer.Escalated = true
	s.offer.EscalationReason = string(reason)
	return true, nil
}

func (s *fakeStore) MarkRejected(_ context.Context, id uuid.UUID, from domain.Status) (bool, error) {
	if s.offer.Status != from {
		return false, nil
	}
	s.offer.Status = domain.StatusRejected
	return true, nil
}

func (s *fakeStore) MarkVoiceEnqueued(_ context.Context, id uuid.UUID) error {
	if s.offer.VoiceEnqueuedAt == nil {
		now := time.Now()
		s.offer.VoiceEnqueuedAt = &now
	}
	return nil
}

func (s *fakeStore) CreateEscalation(_ context.Context, offerID uuid.UUID, reason domain.EscalationReason, message string) (*domain.Escalation, error) {
	s.escalations = append(s.escalations, reason)
	return &domain.Escalation{ID: uuid.New(), OfferID: offerID, Reason: reason, Message: message}, nil
}

// fakeEnqueuer records which stage jobs were enqueued.
type fakeEnqueuer struct {
	vision  []ports.VisionPayload
	market  []ports.MarketPayload
	pricing []ports.PricingPayload
	voice   []ports.VoicePayload
	notify  []ports.EscalationNotifyPayload
}

func (e *fakeEnqueuer) EnqueueVision(_ context.Context, p ports.VisionPayload) error {
	e.vision = append(e.vision, p)
	return nil
}
func (e *fakeEnqueuer) EnqueueMarket(_ context.Context, p ports.MarketPayload) error {
	e.market = append(e.market, p)
	return nil
}
func (e *fakeEnqueuer) EnqueuePricing(_ context.Context, p ports.PricingPayload) error {
	e.pricing = append(e.pricing, p)
	return nil
}
func (e *fakeEnqueuer) EnqueueVoice(_ context.Context, p ports.VoicePayload) error {
	e.voice = append(e.voice, p)
	return nil
}
func (e *fakeEnqueuer) EnqueueEscalationNotify(_ context.Context, p ports.EscalationNotifyPayload) error {
	e.notify = append(e.notify, p)
	return nil
}

// fakeLimiter grants or denies every reservation, deduplicating tokens like
// the real script. reserved maps token to the amount it consumed.
type fakeLimiter struct {
	deny     bool
	err      error
	reserved map[string]float64
}

func (l *fakeLimiter) ReserveOnce(_ context.Context, _, token string, amount, _ float64, _ time.Duration) (ratelimit.Reservation, error) {
	if l.err != nil {
		return ratelimit.Reservation{}, l.err
	}
	if l.deny {
		return ratelimit.Reservation{}, nil
	}
	if prior, ok := l.reserved[token]; ok {
		return ratelimit.Reservation{Allowed: true, NewTotal: prior}, nil
	}
	if l.reserved == nil {
		l.reserved = make(map[string]float64)
	}
	l.reserved[token] = amount
	return ratelimit.Reservation{Allowed: true, NewTotal: amount}, nil
}

type fakeFraud struct {
	verdict FraudVerdict
	err     error
}

func (f *fakeFraud) Assess(_ context.Context, _, _ string, _ float64, _ string, _ float64, _ int) (FraudVerdict, error) {
	return f.verdict, f.err
}

// testRules satisfies config.BusinessRulesConfig with fixed limits.
type testRules struct{}

func (testRules) GetOffersPerDayLimit() int          { return 20 }
func (testRules) GetOffersPerHourLimit() int         { return 5 }
func (testRules) GetMinOfferAmount() float64         { return 5 }
func (testRules) GetMaxOfferAmount() float64         { return 2000 }
func (testRules) GetDailySpendCap() float64          { return 20000 }
func (testRules) GetAutoApproveThreshold() float64   { return 500 }
func (testRules) GetOfferExpiry() time.Duration      { return 24 * time.Hour }
func (testRules) GetLowConfidenceThreshold() float64 { return 50 }
func (testRules) GetMinComparableCount() int         { return 3 }
func (testRules) GetPriceFloorRatio() float64        { return 0.5 }

type fixture struct {
	orch     *Orchestrator
	store    *fakeStore
	enqueuer *fakeEnqueuer
	limiter  *fakeLimiter
	fraud    *fakeFraud
	offerID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	offerID := uuid.New()
	store := &fakeStore{offer: &domain.Offer{
		ID:        offerID,
		UserID:    uuid.New(),
		Status:    domain.StatusProcessing,
		PhotoKeys: []string{"photos/a.jpg"},
	}}
	enqueuer := &fakeEnqueuer{}
	limiter := &fakeLimiter{}
	fraud := &fakeFraud{verdict: FraudVerdict{RecommendedAction: "approve"}}

	orch := NewOrchestrator(store, enqueuer, limiter, fraud,
		events.NewInMemoryBus(logger.New("test")), testRules{}, logger.New("test"))

	return &fixture{orch: orch, store: store, enqueuer: enqueuer, limiter: limiter, fraud: fraud, offerID: offerID}
}

func (f *fixture) runToPricing(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if err := f.orch.OnVisionComplete(ctx, f.offerID, valuation.VisionResult{
		Brand: "Acme", Model: "X1", Category: "electronics", Condition: "good", Confidence: 90,
	}); err != nil {
		t.Fatalf("OnVisionComplete: %v", err)
	}
	if err := f.orch.OnMarketComplete(ctx, f.offerID, valuation.MarketStats{
		ComparableCount: 12, Median: 100, Mean: 105,
	}); err != nil {
		t.Fatalf("OnMarketComplete: %v", err)
	}
}

func TestHappyPathReachesReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.runToPricing(t)

	if err := f.orch.OnPricingComplete(ctx, f.offerID, valuation.PricingResult{
		FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72, Confidence: 85,
	}); err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}
	if len(f.enqueuer.voice) != 1 {
		t.Fatalf("voice jobs enqueued = %d, want 1", len(f.enqueuer.voice))
	}

	scenario := domain.ScenarioForRatio(f.store.offer.OfferRatio)
	if scenario != domain.ScenarioHigh {
		t.Errorf("scenario for ratio 0.72 = %s, want %s", scenario, domain.ScenarioHigh)
	}

	if err := f.orch.OnVoiceComplete(ctx, f.offerID, VoiceOutcome{
		Script: "great news", Tone: domain.ToneFor(scenario), Tier: domain.TierFull, AudioKey: "audio/x.mp3",
	}); err != nil {
		t.Fatalf("OnVoiceComplete: %v", err)
	}

	if f.store.offer.Status != domain.StatusReady {
		t.Errorf("status = %s, want ready", f.store.offer.Status)
	}
	if f.store.offer.VoiceTone != domain.ToneExcited {
		t.Errorf("tone = %s, want excited", f.store.offer.VoiceTone)
	}
	if f.store.offer.ExpiresAt == nil {
		t.Error("expires_at not set at pricing completion")
	}
	if f.store.offer.PriceFloor != 36 {
		t.Errorf("price floor = %v, want 36", f.store.offer.PriceFloor)
	}
	if len(f.store.escalations) != 0 {
		t.Errorf("unexpected escalations: %v", f.store.escalations)
	}
}

func TestLowConfidenceEscalates(t *testing.T) {
	f := newFixture(t)

	err := f.orch.OnVisionComplete(context.Background(), f.offerID, valuation.VisionResult{
		Brand: "Acme", Confidence: 30,
	})
	if err != nil {
		t.Fatalf("OnVisionComplete: %v", err)
	}

	if f.store.offer.Status != domain.StatusEscalated {
		t.Errorf("status = %s, want escalated", f.store.offer.Status)
	}
	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonLowConfidence {
		t.Errorf("escalations = %v, want [low_confidence]", f.store.escalations)
	}
	if len(f.enqueuer.market) != 0 {
		t.Error("market job enqueued despite escalation")
	}
}

func TestFewComparablesEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.OnVisionComplete(ctx, f.offerID, valuation.VisionResult{Confidence: 90}); err != nil {
		t.Fatalf("OnVisionComplete: %v", err)
	}
	if err := f.orch.OnMarketComplete(ctx, f.offerID, valuation.MarketStats{ComparableCount: 2}); err != nil {
		t.Fatalf("OnMarketComplete: %v", err)
	}

	if f.store.offer.Status != domain.StatusEscalated {
		t.Errorf("status = %s, want escalated", f.store.offer.Status)
	}
	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonFewComparables {
		t.Errorf("escalations = %v, want [few_comparables]", f.store.escalations)
	}
	if len(f.enqueuer.pricing) != 0 {
		t.Error("pricing job enqueued despite escalation")
	}
}

func TestHighValueEscalates(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)

	err := f.orch.OnPricingComplete(context.Background(), f.offerID, valuation.PricingResult{
		FairMarketValue: 900, OfferAmount: 650, OfferRatio: 0.72,
	})
	if err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonHighValue {
		t.Errorf("escalations = %v, want [high_value]", f.store.escalations)
	}
	if len(f.enqueuer.voice) != 0 {
		t.Error("voice job enqueued despite escalation")
	}
}

func TestDailySpendCapEscalates(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)
	f.limiter.deny = true

	err := f.orch.OnPricingComplete(context.Background(), f.offerID, valuation.PricingResult{
		FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72,
	})
	if err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonDailyLimit {
		t.Errorf("escalations = %v, want [daily_limit]", f.store.escalations)
	}
}

func TestSpendStoreDownFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)
	f.limiter.err = errors.New("store down")

	err := f.orch.OnPricingComplete(context.Background(), f.offerID, valuation.PricingResult{
		FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72,
	})
	if err == nil {
		t.Fatal("expected error so the queue retries the completion")
	}
	if len(f.enqueuer.voice) != 0 {
		t.Error("voice job enqueued despite spend reservation failure")
	}
}

func TestPricingRetryAfterSpendFailureStillAdvances(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)

	res := valuation.PricingResult{FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72}
	ctx := context.Background()

	f.limiter.err = errors.New("store down")
	if err := f.orch.OnPricingComplete(ctx, f.offerID, res); err == nil {
		t.Fatal("expected error on first attempt")
	}

	// Queue redelivers. The pricing result is already recorded; the gates
	// must still run and the voice stage must still be enqueued.
	f.limiter.err = nil
	if err := f.orch.OnPricingComplete(ctx, f.offerID, res); err != nil {
		t.Fatalf("retried OnPricingComplete: %v", err)
	}
	if len(f.enqueuer.voice) != 1 {
		t.Fatalf("voice jobs enqueued after retry = %d, want 1", len(f.enqueuer.voice))
	}
}

func TestDuplicatePricingCompletionReservesOnce(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)
	ctx := context.Background()

	res := valuation.PricingResult{FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72}
	if err := f.orch.OnPricingComplete(ctx, f.offerID, res); err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}
	// The queue redelivers the same completion while the offer is still
	// voicing. Nothing may run twice.
	if err := f.orch.OnPricingComplete(ctx, f.offerID, res); err != nil {
		t.Fatalf("duplicate OnPricingComplete: %v", err)
	}

	if len(f.enqueuer.voice) != 1 {
		t.Errorf("voice jobs enqueued = %d, want 1", len(f.enqueuer.voice))
	}
	if len(f.limiter.reserved) != 1 {
		t.Errorf("spend reservations = %d, want 1", len(f.limiter.reserved))
	}
	if got := f.limiter.reserved[f.offerID.String()]; got != 72 {
		t.Errorf("reserved amount = %v, want 72", got)
	}
	if f.store.offer.Status != domain.StatusVoicing {
		t.Errorf("status = %s, want voicing", f.store.offer.Status)
	}
}

func TestPricedBelowMinimumEscalates(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)

	err := f.orch.OnPricingComplete(context.Background(), f.offerID, valuation.PricingResult{
		FairMarketValue: 6, OfferAmount: 2, OfferRatio: 0.33,
	})
	if err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonPipelineError {
		t.Errorf("escalations = %v, want [pipeline_error]", f.store.escalations)
	}
	if len(f.enqueuer.voice) != 0 {
		t.Error("voice job enqueued for an out-of-bounds amount")
	}
	if len(f.limiter.reserved) != 0 {
		t.Error("spend reserved for an out-of-bounds amount")
	}
}

func TestPricedAboveMaximumEscalates(t *testing.T) {
	f := newFixture(t)
	f.runToPricing(t)

	err := f.orch.OnPricingComplete(context.Background(), f.offerID, valuation.PricingResult{
		FairMarketValue: 3500, OfferAmount: 2500, OfferRatio: 0.71,
	})
	if err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonHighValue {
		t.Errorf("escalations = %v, want [high_value]", f.store.escalations)
	}
	if len(f.limiter.reserved) != 0 {
		t.Error("spend reserved for an out-of-bounds amount")
	}
}

func TestFraudRejectClosesOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runToPricing(t)
	if err := f.orch.OnPricingComplete(ctx, f.offerID, valuation.PricingResult{
		FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72,
	}); err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	f.fraud.verdict = FraudVerdict{RecommendedAction: "reject", RiskScore: 95}
	if err := f.orch.OnVoiceComplete(ctx, f.offerID, VoiceOutcome{Script: "x", Tone: domain.ToneExcited, Tier: domain.TierFull}); err != nil {
		t.Fatalf("OnVoiceComplete: %v", err)
	}

	if f.store.offer.Status != domain.StatusRejected {
		t.Errorf("status = %s, want rejected", f.store.offer.Status)
	}
}

func TestFraudEscalateHoldsOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runToPricing(t)
	if err := f.orch.OnPricingComplete(ctx, f.offerID, valuation.PricingResult{
		FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72,
	}); err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	f.fraud.verdict = FraudVerdict{RecommendedAction: "escalate", RiskScore: 80}
	if err := f.orch.OnVoiceComplete(ctx, f.offerID, VoiceOutcome{Script: "x", Tone: domain.ToneExcited, Tier: domain.TierFull}); err != nil {
		t.Fatalf("OnVoiceComplete: %v", err)
	}

	if f.store.offer.Status != domain.StatusEscalated {
		t.Errorf("status = %s, want escalated", f.store.offer.Status)
	}
	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonFraudSuspected {
		t.Errorf("escalations = %v, want [fraud_suspected]", f.store.escalations)
	}
}

func TestFraudOutageIsAdvisory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runToPricing(t)
	if err := f.orch.OnPricingComplete(ctx, f.offerID, valuation.PricingResult{
		FairMarketValue: 100, OfferAmount: 72, OfferRatio: 0.72,
	}); err != nil {
		t.Fatalf("OnPricingComplete: %v", err)
	}

	f.fraud.err = errors.New("fraud service down")
	if err := f.orch.OnVoiceComplete(ctx, f.offerID, VoiceOutcome{Script: "x", Tone: domain.ToneExcited, Tier: domain.TierStatic}); err != nil {
		t.Fatalf("OnVoiceComplete: %v", err)
	}

	if f.store.offer.Status != domain.StatusReady {
		t.Errorf("status = %s, want ready", f.store.offer.Status)
	}
	if f.store.offer.VoiceTier != domain.TierStatic {
		t.Errorf("tier = %d, want %d", f.store.offer.VoiceTier, domain.TierStatic)
	}
}

func TestStageFailureEscalatesWithPipelineError(t *testing.T) {
	f := newFixture(t)

	err := f.orch.OnStageFailure(context.Background(), f.offerID, "marketplace", errors.New("timeout"))
	if err != nil {
		t.Fatalf("OnStageFailure: %v", err)
	}

	if f.store.offer.Status != domain.StatusEscalated {
		t.Errorf("status = %s, want escalated", f.store.offer.Status)
	}
	if len(f.store.escalations) != 1 || f.store.escalations[0] != domain.ReasonPipelineError {
		t.Errorf("escalations = %v, want [pipeline_error]", f.store.escalations)
	}
	if len(f.enqueuer.pricing)+len(f.enqueuer.voice) != 0 {
		t.Error("stage jobs enqueued after terminal failure")
	}
	if len(f.enqueuer.notify) != 1 {
		t.Errorf("notify jobs = %d, want 1", len(f.enqueuer.notify))
	}
}

func TestEscalateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.Escalate(ctx, f.offerID, domain.ReasonPipelineError, "first"); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if err := f.orch.Escalate(ctx, f.offerID, domain.ReasonHighValue, "second"); err != nil {
		t.Fatalf("repeat Escalate: %v", err)
	}

	if len(f.store.escalations) != 1 {
		t.Errorf("escalation records = %d, want 1", len(f.store.escalations))
	}
	if f.store.offer.EscalationReason != string(domain.ReasonPipelineError) {
		t.Errorf("reason = %s, want pipeline_error", f.store.offer.EscalationReason)
	}
}

func TestDuplicateCompletionsAreNoOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := valuation.VisionResult{Brand: "Acme", Confidence: 90}
	if err := f.orch.OnVisionComplete(ctx, f.offerID, res); err != nil {
		t.Fatalf("OnVisionComplete: %v", err)
	}
	if err := f.orch.OnVisionComplete(ctx, f.offerID, res); err != nil {
		t.Fatalf("duplicate OnVisionComplete: %v", err)
	}

	if len(f.enqueuer.market) != 1 {
		t.Errorf("market jobs enqueued = %d, want 1", len(f.enqueuer.market))
	}
	if f.store.offer.Status != domain.StatusResearching {
		t.Errorf("status = %s, want researching", f.store.offer.Status)
	}
}
