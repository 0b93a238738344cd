package notification

import (
	"context"
	"time"
)

// EscalationAlert carries the details of an offer that needs a human decision.
type EscalationAlert struct {
	OfferID     string
	Reason      string
	Message     string
	OfferAmount float64
	Category    string
	OccurredAt  time.Time
}

// StageFailureAlert reports a pipeline stage that exhausted its retries.
type StageFailureAlert struct {
	OfferID    string
	Stage      string
	Error      string
	OccurredAt time.Time
}

// Sender delivers operational alerts to the review team.
type Sender interface {
	SendEscalationAlert(ctx context.Context, alert EscalationAlert) error
	SendStageFailureAlert(ctx context.Context, alert StageFailureAlert) error
}
