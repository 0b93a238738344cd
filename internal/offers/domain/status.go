// Package domain holds the pure offer model: status state machine, valuation
// scenario buckets, and the record types persisted by the repository layer.
package domain

// Status is the canonical lifecycle state of an offer.
type Status string

const (
	// Pipeline stages, in order.
	StatusProcessing  Status = "processing"
	StatusResearching Status = "researching"
	StatusPricing     Status = "pricing"
	StatusVoicing     Status = "voicing"
	StatusReady       Status = "ready"

	// User decisions on a ready offer.
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"

	// Post-acceptance fulfillment.
	StatusShipped  Status = "shipped"
	StatusReceived Status = "received"
	StatusVerified Status = "verified"
	StatusPaid     Status = "paid"
	StatusDisputed Status = "disputed"

	// Review track.
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
	StatusRejected  Status = "rejected"
)

// transitions is the forward edge set of the lifecycle graph. Escalation from
// non-terminal states is handled in CanTransition rather than listed per-state.
var transitions = map[Status][]Status{
	StatusProcessing:  {StatusResearching},
	StatusResearching: {StatusPricing},
	StatusPricing:     {StatusVoicing},
	// The fraud gate may reject an offer instead of releasing it.
	StatusVoicing: {StatusReady, StatusRejected},
	StatusReady:       {StatusAccepted, StatusDeclined, StatusExpired},
	StatusAccepted:    {StatusShipped},
	StatusShipped:     {StatusReceived},
	StatusReceived:    {StatusVerified},
	StatusVerified:    {StatusPaid, StatusDisputed},
	StatusEscalated:   {StatusResolved},
	// A resolved escalation re-enters the user-facing flow, possibly with a
	// revised price, or closes with the reviewer's decision.
	StatusResolved: {StatusAccepted, StatusDeclined, StatusReady, StatusRejected},
}

// terminal states admit no further transitions of any kind.
var terminal = map[Status]bool{
	StatusDeclined: true,
	StatusExpired:  true,
	StatusPaid:     true,
	StatusDisputed: true,
	StatusRejected: true,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if terminal[s] {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return terminal[s]
}

// CanTransition reports whether moving from s to next is a legal forward step.
// Any non-terminal status may move to escalated; nothing moves backward.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	if terminal[s] {
		return false
	}
	if next == StatusEscalated {
		return s != StatusEscalated && s != StatusResolved
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PipelineStage names the processing stage an in-pipeline status corresponds
// to, for logging. Returns "" for statuses past the pipeline.
func (s Status) PipelineStage() string {
	switch s {
	case StatusProcessing:
		return "vision"
	case StatusResearching:
		return "marketplace"
	case StatusPricing:
		return "pricing"
	case StatusVoicing:
		return "voice"
	}
	return ""
}
