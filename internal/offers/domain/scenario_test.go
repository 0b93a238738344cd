package domain

import "testing"

func TestScenarioForRatio(t *testing.T) {
	cases := []struct {
		ratio    float64
		scenario Scenario
		tone     Tone
	}{
		{0.95, ScenarioHigh, ToneExcited},
		{0.72, ScenarioHigh, ToneExcited},
		{0.70, ScenarioHigh, ToneExcited},
		{0.69, ScenarioStandard, ToneConfident},
		{0.50, ScenarioStandard, ToneConfident},
		{0.49, ScenarioLow, ToneSympathetic},
		{0.30, ScenarioLow, ToneSympathetic},
		{0.29, ScenarioVeryLow, ToneDisappointed},
		{0.0, ScenarioVeryLow, ToneDisappointed},
	}

	for _, tc := range cases {
		s := ScenarioForRatio(tc.ratio)
		if s != tc.scenario {
			t.Errorf("ScenarioForRatio(%v) = %s, want %s", tc.ratio, s, tc.scenario)
		}
		if tone := ToneFor(s); tone != tc.tone {
			t.Errorf("ToneFor(ScenarioForRatio(%v)) = %s, want %s", tc.ratio, tone, tc.tone)
		}
	}
}

func TestEffectiveFloor(t *testing.T) {
	explicit := &Offer{PriceFloor: 40, OriginalOfferAmount: 100}
	if got := explicit.EffectiveFloor(0.5); got != 40 {
		t.Errorf("explicit floor = %v, want 40", got)
	}

	derived := &Offer{OriginalOfferAmount: 100}
	if got := derived.EffectiveFloor(0.5); got != 50 {
		t.Errorf("derived floor = %v, want 50", got)
	}
	if got := derived.EffectiveFloor(0.6); got != 60 {
		t.Errorf("derived floor at ratio 0.6 = %v, want 60", got)
	}
}
