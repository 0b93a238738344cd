// Package adapters contains thin cross-module adapters so domain modules only
// depend on their own narrow interfaces.
package adapters

import (
	"context"

	fraudclient "cashoffer_backend/internal/fraud/client"
	"cashoffer_backend/internal/offers"
)

// FraudAssessorAdapter exposes the fraud service client through the
// orchestrator's FraudAssessor interface.
type FraudAssessorAdapter struct {
	client *fraudclient.Client
}

func NewFraudAssessorAdapter(client *fraudclient.Client) *FraudAssessorAdapter {
	return &FraudAssessorAdapter{client: client}
}

func (a *FraudAssessorAdapter) Assess(ctx context.Context, offerID, userID string, offerAmount float64, category string, visionConfidence float64, userOffersToday int) (offers.FraudVerdict, error) {
	assessment, err := a.client.Assess(ctx, offerID, userID, offerAmount, category, visionConfidence, userOffersToday)
	if err != nil {
		return offers.FraudVerdict{}, err
	}
	return offers.FraudVerdict{
		RiskScore:         assessment.RiskScore,
		RecommendedAction: assessment.RecommendedAction,
	}, nil
}

var _ offers.FraudAssessor = (*FraudAssessorAdapter)(nil)
