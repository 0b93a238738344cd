package worker

import (
	"context"
	"errors"
	"testing"

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

// fakeVoiceAgent fails script generation or synthesis on demand.
type fakeVoiceAgent struct {
	scriptErr error
	synthErr  error

	gotScenario string
	gotTone     string
}

func (a *fakeVoiceAgent) GenerateScript(_ context.Context, scenario, tone, _, _, _ string, _ float64) (voiceclient.ScriptResult, error) {
	a.gotScenario = scenario
	a.gotTone = tone
	if a.scriptErr != nil {
		return voiceclient.ScriptResult{}, a.scriptErr
	}
	return voiceclient.ScriptResult{Script: "generated script", Tone: tone, AnimationCue: "smile"}, nil
}

func (a *fakeVoiceAgent) Synthesize(_ context.Context, _, _ string) (voiceclient.SynthesisResult, error) {
	if a.synthErr != nil {
		return voiceclient.SynthesisResult{}, a.synthErr
	}
	return voiceclient.SynthesisResult{AudioKey: "audio/clip.mp3"}, nil
}

func voicingOffer(ratio float64) *domain.Offer {
	return &domain.Offer{
		ID:          uuid.New(),
		Status:      domain.StatusVoicing,
		Brand:       "Acme",
		Model:       "X1",
		Condition:   "good",
		OfferAmount: 72,
		OfferRatio:  ratio,
	}
}

func TestGenerateVoiceFullTier(t *testing.T) {
	agent := &fakeVoiceAgent{}
	out := generateVoice(context.Background(), agent, voicingOffer(0.72), logger.New("test"))

	if out.Tier != domain.TierFull {
		t.Fatalf("Tier = %d, want full", out.Tier)
	}
	if out.Script != "generated script" || out.AudioKey != "audio/clip.mp3" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Tone != domain.ToneExcited {
		t.Fatalf("Tone = %q, want excited for ratio 0.72", out.Tone)
	}
	if agent.gotScenario != string(domain.ScenarioHigh) {
		t.Fatalf("scenario sent = %q", agent.gotScenario)
	}
}

func TestGenerateVoiceFallsBackToScriptOnly(t *testing.T) {
	agent := &fakeVoiceAgent{synthErr: errors.New("tts down")}
	out := generateVoice(context.Background(), agent, voicingOffer(0.55), logger.New("test"))

	if out.Tier != domain.TierScript {
		t.Fatalf("Tier = %d, want script-only", out.Tier)
	}
	if out.Script != "generated script" {
		t.Fatalf("Script = %q", out.Script)
	}
	if out.AudioKey != "" {
		t.Fatalf("AudioKey = %q, want empty", out.AudioKey)
	}
	if out.Tone != domain.ToneConfident {
		t.Fatalf("Tone = %q, want confident for ratio 0.55", out.Tone)
	}
}

func TestGenerateVoiceFallsBackToStatic(t *testing.T) {
	agent := &fakeVoiceAgent{scriptErr: errors.New("llm down")}
	out := generateVoice(context.Background(), agent, voicingOffer(0.35), logger.New("test"))

	if out.Tier != domain.TierStatic {
		t.Fatalf("Tier = %d, want static", out.Tier)
	}
	if out.Script == "" {
		t.Fatal("static fallback produced an empty script")
	}
	if out.Tone != domain.ToneSympathetic {
		t.Fatalf("Tone = %q, want sympathetic for ratio 0.35", out.Tone)
	}
}

func TestGenerateVoiceNeverFails(t *testing.T) {
	// Both capabilities down: the ladder still produces a presentable outcome.
	agent := &fakeVoiceAgent{scriptErr: errors.New("down"), synthErr: errors.New("down")}
	out := generateVoice(context.Background(), agent, voicingOffer(0.1), logger.New("test"))

	if out.Tier != domain.TierStatic || out.Script == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Tone != domain.ToneDisappointed {
		t.Fatalf("Tone = %q, want disappointed for ratio 0.1", out.Tone)
	}
}

// fakeOrchestrator records which completion entry points were reached.
type fakeOrchestrator struct {
	visions  []valuation.VisionResult
	markets  []valuation.MarketStats
	pricings []valuation.PricingResult
	voices   []offers.VoiceOutcome
	failures []string
}

func (o *fakeOrchestrator) OnVisionComplete(_ context.Context, _ uuid.UUID, res valuation.VisionResult) error {
	o.visions = append(o.visions, res)
	return nil
}

func (o *fakeOrchestrator) OnMarketComplete(_ context.Context, _ uuid.UUID, stats valuation.MarketStats) error {
	o.markets = append(o.markets, stats)
	return nil
}

func (o *fakeOrchestrator) OnPricingComplete(_ context.Context, _ uuid.UUID, res valuation.PricingResult) error {
	o.pricings = append(o.pricings, res)
	return nil
}

func (o *fakeOrchestrator) OnVoiceComplete(_ context.Context, _ uuid.UUID, out offers.VoiceOutcome) error {
	o.voices = append(o.voices, out)
	return nil
}

func (o *fakeOrchestrator) OnStageFailure(_ context.Context, _ uuid.UUID, stage string, _ error) error {
	o.failures = append(o.failures, stage)
	return nil
}

// fakeValuation fails any capability on demand.
type fakeValuation struct {
	identifyErr error
	researchErr error
	priceErr    error
}

func (v *fakeValuation) Identify(_ context.Context, _ []string, _ string) (valuation.VisionResult, error) {
	if v.identifyErr != nil {
		return valuation.VisionResult{}, v.identifyErr
	}
	return valuation.VisionResult{Brand: "Acme", Confidence: 90}, nil
}

func (v *fakeValuation) Research(_ context.Context, _, _, _, _ string) (valuation.MarketStats, error) {
	if v.researchErr != nil {
		return valuation.MarketStats{}, v.researchErr
	}
	return valuation.MarketStats{ComparableCount: 12, Median: 100}, nil
}

func (v *fakeValuation) Price(_ context.Context, _ valuation.MarketStats, _, _ string) (valuation.PricingResult, error) {
	if v.priceErr != nil {
		return valuation.PricingResult{}, v.priceErr
	}
	return valuation.PricingResult{OfferAmount: 72, OfferRatio: 0.72}, nil
}

type fakeReader struct {
	offer *domain.Offer
	err   error
}

func (r *fakeReader) GetByID(_ context.Context, _ uuid.UUID) (*domain.Offer, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.offer, nil
}

type fakeSender struct {
	escalations []notification.EscalationAlert
}

func (s *fakeSender) SendEscalationAlert(_ context.Context, alert notification.EscalationAlert) error {
	s.escalations = append(s.escalations, alert)
	return nil
}

func (s *fakeSender) SendStageFailureAlert(_ context.Context, _ notification.StageFailureAlert) error {
	return nil
}

func newTestHandlers(orch *fakeOrchestrator, val *fakeValuation, offer *domain.Offer) (*Handlers, *fakeSender) {
	sender := &fakeSender{}
	return NewHandlers(orch, &fakeReader{offer: offer}, val, &fakeVoiceAgent{}, sender, nil, nil, logger.New("test")), sender
}

func TestHandleVisionReportsCompletion(t *testing.T) {
	orch := &fakeOrchestrator{}
	h, _ := newTestHandlers(orch, &fakeValuation{}, nil)

	task, err := ports.NewVisionTask(ports.VisionPayload{
		OfferID: uuid.New().String(), PhotoKeys: []string{"photos/a.jpg"},
	})
	if err != nil {
		t.Fatalf("NewVisionTask: %v", err)
	}
	if err := h.HandleVision(context.Background(), task); err != nil {
		t.Fatalf("HandleVision: %v", err)
	}
	if len(orch.visions) != 1 || orch.visions[0].Brand != "Acme" {
		t.Fatalf("visions = %+v", orch.visions)
	}
}

func TestHandleMarketFinalAttemptEscalates(t *testing.T) {
	// Outside asynq, retry metadata is absent and every attempt counts as the
	// last one: a service failure goes straight to the stage-failure hook and
	// nothing further is enqueued.
	orch := &fakeOrchestrator{}
	h, _ := newTestHandlers(orch, &fakeValuation{researchErr: errors.New("marketplace timeout")}, nil)

	task, err := ports.NewMarketTask(ports.MarketPayload{OfferID: uuid.New().String(), Brand: "Acme"})
	if err != nil {
		t.Fatalf("NewMarketTask: %v", err)
	}
	if err := h.HandleMarket(context.Background(), task); err != nil {
		t.Fatalf("HandleMarket: %v", err)
	}
	if len(orch.failures) != 1 || orch.failures[0] != "marketplace" {
		t.Fatalf("failures = %v, want [marketplace]", orch.failures)
	}
	if len(orch.markets) != 0 {
		t.Fatalf("markets = %+v, want none after failure", orch.markets)
	}
}

func TestHandlePricingRebuildsStatsFromOffer(t *testing.T) {
	orch := &fakeOrchestrator{}
	offer := &domain.Offer{
		ID:              uuid.New(),
		Status:          domain.StatusPricing,
		Category:        "electronics",
		Condition:       "good",
		ComparableCount: 12,
		MarketMedian:    100,
	}
	h, _ := newTestHandlers(orch, &fakeValuation{}, offer)

	task, err := ports.NewPricingTask(ports.PricingPayload{OfferID: offer.ID.String()})
	if err != nil {
		t.Fatalf("NewPricingTask: %v", err)
	}
	if err := h.HandlePricing(context.Background(), task); err != nil {
		t.Fatalf("HandlePricing: %v", err)
	}
	if len(orch.pricings) != 1 || orch.pricings[0].OfferAmount != 72 {
		t.Fatalf("pricings = %+v", orch.pricings)
	}
}

func TestHandleEscalationNotifySendsAlert(t *testing.T) {
	orch := &fakeOrchestrator{}
	offer := &domain.Offer{ID: uuid.New(), OfferAmount: 650, Category: "electronics"}
	h, sender := newTestHandlers(orch, &fakeValuation{}, offer)

	task, err := ports.NewEscalationNotifyTask(ports.EscalationNotifyPayload{
		OfferID: offer.ID.String(), Reason: "high_value",
	})
	if err != nil {
		t.Fatalf("NewEscalationNotifyTask: %v", err)
	}
	if err := h.HandleEscalationNotify(context.Background(), task); err != nil {
		t.Fatalf("HandleEscalationNotify: %v", err)
	}
	if len(sender.escalations) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sender.escalations))
	}
	alert := sender.escalations[0]
	if alert.Reason != "high_value" || alert.OfferAmount != 650 {
		t.Fatalf("alert = %+v", alert)
	}
}

func TestHandleVoiceMissingOfferSkipsRetry(t *testing.T) {
	// The offer row is gone; retrying the voice task cannot bring it back.
	orch := &fakeOrchestrator{}
	reader := &fakeReader{err: apperr.NotFound("offer not found")}
	h := NewHandlers(orch, reader, &fakeValuation{}, &fakeVoiceAgent{}, &fakeSender{}, nil, nil, logger.New("test"))

	task, err := ports.NewVoiceTask(ports.VoicePayload{OfferID: uuid.New().String()})
	if err != nil {
		t.Fatalf("NewVoiceTask: %v", err)
	}
	err = h.HandleVoice(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
	if len(orch.failures) != 0 {
		t.Fatalf("failures = %v, want none for a vanished offer", orch.failures)
	}
	if len(orch.voices) != 0 {
		t.Fatalf("voices = %+v, want none", orch.voices)
	}
}

func TestHandlePricingStoreOutageEscalates(t *testing.T) {
	// A failing offer read on the final attempt goes to the stage-failure
	// hook instead of silently archiving the task.
	orch := &fakeOrchestrator{}
	reader := &fakeReader{err: errors.New("db down")}
	h := NewHandlers(orch, reader, &fakeValuation{}, &fakeVoiceAgent{}, &fakeSender{}, nil, nil, logger.New("test"))

	task, err := ports.NewPricingTask(ports.PricingPayload{OfferID: uuid.New().String()})
	if err != nil {
		t.Fatalf("NewPricingTask: %v", err)
	}
	if err := h.HandlePricing(context.Background(), task); err != nil {
		t.Fatalf("HandlePricing: %v", err)
	}
	if len(orch.failures) != 1 || orch.failures[0] != "pricing" {
		t.Fatalf("failures = %v, want [pricing]", orch.failures)
	}
	if len(orch.pricings) != 0 {
		t.Fatalf("pricings = %+v, want none", orch.pricings)
	}
}

func TestHandleVisionBadPayloadSkipsRetry(t *testing.T) {
	orch := &fakeOrchestrator{}
	h, _ := newTestHandlers(orch, &fakeValuation{}, nil)

	task := asynq.NewTask(ports.TaskVisionAnalyze, []byte("not json"))
	err := h.HandleVision(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
}

func TestClampToFloor(t *testing.T) {
	tests := []struct {
		name        string
		amount      float64
		floor       float64
		recommended float64
		want        float64
		ok          bool
	}{
		{"reduction above floor", 100, 50, 90, 90, true},
		{"reduction clamped to floor", 100, 50, 20, 50, true},
		{"raise rejected", 100, 50, 110, 0, false},
		{"no-op rejected", 100, 50, 100, 0, false},
		{"already at floor", 50, 50, 40, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := &domain.Offer{OfferAmount: tt.amount, PriceFloor: tt.floor}
			got, ok := clampToFloor(offer, tt.recommended, 0.5)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("clampToFloor(%v) = (%v, %v), want (%v, %v)",
					tt.recommended, got, ok, tt.want, tt.ok)
			}
		})
	}
}
