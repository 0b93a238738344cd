package domain

// Scenario classifies an offer by how generous it is relative to the item's
// fair market value. Both the pricing stage and the voice stage derive their
// presentation from this single classification so they can never diverge.
type Scenario string

const (
	ScenarioHigh     Scenario = "high_value"
	ScenarioStandard Scenario = "standard"
	ScenarioLow      Scenario = "low_value"
	ScenarioVeryLow  Scenario = "very_low"
)

// Tone is the voice delivery style paired with a scenario.
type Tone string

const (
	ToneExcited      Tone = "excited"
	ToneConfident    Tone = "confident"
	ToneSympathetic  Tone = "sympathetic"
	ToneDisappointed Tone = "disappointed"
)

// VoiceTier is the quality/cost level of the presentation output.
type VoiceTier int

const (
	// TierStatic is a pre-recorded fallback clip, used when both script
	// generation and synthesis are unavailable.
	TierStatic VoiceTier = 1
	// TierScript is a generated script without synthesized audio.
	TierScript VoiceTier = 2
	// TierFull is a generated script with synthesized audio.
	TierFull VoiceTier = 3
)

// ScenarioForRatio buckets the offer-to-market ratio. Thresholds are
// inclusive at the lower bound of each bucket.
func ScenarioForRatio(ratio float64) Scenario {
	switch {
	case ratio >= 0.7:
		return ScenarioHigh
	case ratio >= 0.5:
		return ScenarioStandard
	case ratio >= 0.3:
		return ScenarioLow
	default:
		return ScenarioVeryLow
	}
}

// ToneFor maps a scenario to its voice tone.
func ToneFor(s Scenario) Tone {
	switch s {
	case ScenarioHigh:
		return ToneExcited
	case ScenarioStandard:
		return ToneConfident
	case ScenarioLow:
		return ToneSympathetic
	default:
		return ToneDisappointed
	}
}
