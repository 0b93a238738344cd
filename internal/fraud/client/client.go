// Package client provides the HTTP client for the fraud assessment service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cashoffer_backend/platform/logger"
)

// Actions the fraud service can recommend. Its output is authoritative:
// escalate and reject recommendations are always honored.
const (
	ActionApprove  = "approve"
	ActionReview   = "review"
	ActionEscalate = "escalate"
	ActionReject   = "reject"
)

// Assessment is the fraud service's verdict on an offer.
type Assessment struct {
	RiskScore         float64  `json:"riskScore"`
	RiskLevel         string   `json:"riskLevel"`
	Flags             []string `json:"flags"`
	RecommendedAction string   `json:"recommendedAction"`
}

type assessRequest struct {
	OfferID          string  `json:"offerId"`
	UserID           string  `json:"userId"`
	OfferAmount      float64 `json:"offerAmount"`
	Category         string  `json:"category"`
	VisionConfidence float64 `json:"visionConfidence"`
	UserOffersToday  int     `json:"userOffersToday"`
}

// Client is the HTTP client for the fraud service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// New creates a fraud service client.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        log,
	}
}

// Assess scores an offer before it is released to the user.
func (c *Client) Assess(ctx context.Context, offerID, userID string, offerAmount float64, category string, visionConfidence float64, userOffersToday int) (Assessment, error) {
	body := assessRequest{
		OfferID:          offerID,
		UserID:           userID,
		OfferAmount:      offerAmount,
		Category:         category,
		VisionConfidence: visionConfidence,
		UserOffersToday:  userOffersToday,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Assessment{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assess", bytes.NewReader(data))
	if err != nil {
		return Assessment{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("fraud service request failed", "error", err)
		return Assessment{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("fraud service upstream error", "status", resp.StatusCode)
		return Assessment{}, fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}

	var out Assessment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Assessment{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
