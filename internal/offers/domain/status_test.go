package domain

import (
	"math/rand"
	"testing"
)

var allStatuses = []Status{
	StatusProcessing, StatusResearching, StatusPricing, StatusVoicing,
	StatusReady, StatusAccepted, StatusDeclined, StatusExpired,
	StatusShipped, StatusReceived, StatusVerified, StatusPaid,
	StatusDisputed, StatusEscalated, StatusResolved, StatusRejected,
}

// pipelineRank orders the happy-path pipeline stages. Statuses off the
// pipeline have no rank.
var pipelineRank = map[Status]int{
	StatusProcessing:  0,
	StatusResearching: 1,
	StatusPricing:     2,
	StatusVoicing:     3,
	StatusReady:       4,
}

func TestHappyPathTransitions(t *testing.T) {
	path := []Status{
		StatusProcessing, StatusResearching, StatusPricing,
		StatusVoicing, StatusReady, StatusAccepted, StatusShipped,
		StatusReceived, StatusVerified, StatusPaid,
	}
	for i := 0; i < len(path)-1; i++ {
		if !path[i].CanTransition(path[i+1]) {
			t.Errorf("CanTransition(%s -> %s) = false, want true", path[i], path[i+1])
		}
	}
}

func TestTerminalStatesAdmitNothing(t *testing.T) {
	for _, from := range allStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStatuses {
			if from.CanTransition(to) {
				t.Errorf("terminal status %s allows transition to %s", from, to)
			}
		}
	}
}

func TestEscalationReachableFromAnyNonTerminal(t *testing.T) {
	for _, from := range allStatuses {
		want := !from.IsTerminal() && from != StatusEscalated && from != StatusResolved
		if got := from.CanTransition(StatusEscalated); got != want {
			t.Errorf("CanTransition(%s -> escalated) = %v, want %v", from, got, want)
		}
	}
}

func TestEscalationResolutionPaths(t *testing.T) {
	if !StatusEscalated.CanTransition(StatusResolved) {
		t.Error("escalated must transition to resolved")
	}
	for _, to := range []Status{StatusAccepted, StatusDeclined, StatusReady} {
		if !StatusResolved.CanTransition(to) {
			t.Errorf("resolved must transition to %s", to)
		}
	}
	if StatusResolved.CanTransition(StatusProcessing) {
		t.Error("resolved must not re-enter the pipeline at processing")
	}
}

func TestSelfTransitionRejected(t *testing.T) {
	for _, s := range allStatuses {
		if s.CanTransition(s) {
			t.Errorf("CanTransition(%s -> %s) should be false", s, s)
		}
	}
}

// TestRandomSequencesNeverMoveBackward walks long random event sequences
// through the transition table and asserts that the pipeline rank of the
// current status never decreases, whatever transitions are attempted.
func TestRandomSequencesNeverMoveBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 500; trial++ {
		current := StatusProcessing
		for step := 0; step < 40; step++ {
			next := allStatuses[rng.Intn(len(allStatuses))]
			if !current.CanTransition(next) {
				continue
			}

			fromRank, fromOK := pipelineRank[current]
			toRank, toOK := pipelineRank[next]
			if fromOK && toOK && toRank < fromRank {
				t.Fatalf("trial %d: pipeline moved backward %s -> %s", trial, current, next)
			}
			current = next
			if current.IsTerminal() {
				break
			}
		}
	}
}

func TestValid(t *testing.T) {
	for _, s := range allStatuses {
		if !s.Valid() {
			t.Errorf("Valid(%s) = false", s)
		}
	}
	if Status("bogus").Valid() {
		t.Error("Valid(bogus) = true")
	}
}

func TestPipelineStage(t *testing.T) {
	cases := map[Status]string{
		StatusProcessing:  "vision",
		StatusResearching: "marketplace",
		StatusPricing:     "pricing",
		StatusVoicing:     "voice",
		StatusReady:       "",
		StatusEscalated:   "",
	}
	for s, want := range cases {
		if got := s.PipelineStage(); got != want {
			t.Errorf("PipelineStage(%s) = %q, want %q", s, got, want)
		}
	}
}
