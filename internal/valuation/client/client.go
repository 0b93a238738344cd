// Package client provides the HTTP client for the valuation agent service,
// which hosts the vision, marketplace-research, pricing, and price-optimizer
// capabilities behind one API.
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

// VisionResult is the item identification returned by the vision capability.
type VisionResult struct {
	Category   string   `json:"category"`
	Brand      string   `json:"brand"`
	Model      string   `json:"model"`
	Condition  string   `json:"condition"`
	Features   []string `json:"features"`
	Damages    []string `json:"damages"`
	Confidence float64  `json:"confidence"`
}

// MarketStats summarizes comparable listings for an item.
type MarketStats struct {
	ComparableCount int     `json:"comparableCount"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	P25             float64 `json:"p25"`
	P75             float64 `json:"p75"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	CacheHit        bool    `json:"cacheHit"`
}

// PricingResult is the priced valuation for an item.
type PricingResult struct {
	FairMarketValue     float64 `json:"fairMarketValue"`
	OfferAmount         float64 `json:"offerAmount"`
	OfferRatio          float64 `json:"offerRatio"`
	Confidence          float64 `json:"confidence"`
	ConditionMultiplier float64 `json:"conditionMultiplier"`
	CategoryMargin      float64 `json:"categoryMargin"`
}

// Recommendation is one suggested price adjustment from the optimizer.
type Recommendation struct {
	OfferID          string  `json:"offerId"`
	CurrentPrice     float64 `json:"currentPrice"`
	RecommendedPrice float64 `json:"recommendedPrice"`
	Reason           string  `json:"reason"`
}

type identifyRequest struct {
	PhotoKeys   []string `json:"photoKeys"`
	Description string   `json:"description,omitempty"`
}

type researchRequest struct {
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	Category  string `json:"category"`
	Condition string `json:"condition"`
}

type priceRequest struct {
	Stats     MarketStats `json:"stats"`
	Category  string      `json:"category"`
	Condition string      `json:"condition"`
}

type optimizeRequest struct {
	Offers []OfferSnapshot `json:"offers"`
}

// OfferSnapshot is the slice of offer state the optimizer recommender sees.
type OfferSnapshot struct {
	OfferID         string     `json:"offerId"`
	CurrentPrice    float64    `json:"currentPrice"`
	OriginalPrice   float64    `json:"originalPrice"`
	MarketMedian    float64    `json:"marketMedian"`
	ViewCount       int        `json:"viewCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastOptimizedAt *time.Time `json:"lastOptimizedAt,omitempty"`
}

type optimizeResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
}

// Client is the HTTP client for the valuation agent.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// New creates a valuation agent client.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        log,
	}
}

// Identify runs vision analysis over the item photos.
func (c *Client) Identify(ctx context.Context, photoKeys []string, description string) (VisionResult, error) {
	var out VisionResult
	err := c.post(ctx, "/v1/vision/identify", identifyRequest{PhotoKeys: photoKeys, Description: description}, &out)
	return out, err
}

// Research fetches comparable-listing statistics for the identified item.
func (c *Client) Research(ctx context.Context, brand, model, category, condition string) (MarketStats, error) {
	var out MarketStats
	err := c.post(ctx, "/v1/market/research", researchRequest{
		Brand: brand, Model: model, Category: category, Condition: condition,
	}, &out)
	return out, err
}

// Price turns marketplace statistics into a final offer amount.
func (c *Client) Price(ctx context.Context, stats MarketStats, category, condition string) (PricingResult, error) {
	var out PricingResult
	err := c.post(ctx, "/v1/pricing/calculate", priceRequest{
		Stats: stats, Category: category, Condition: condition,
	}, &out)
	return out, err
}

// OptimizePrices asks the recommender for price adjustments on live offers.
// The caller enforces price floors locally; recommendations are advisory.
func (c *Client) OptimizePrices(ctx context.Context, offers []OfferSnapshot) ([]Recommendation, error) {
	var out optimizeResponse
	if err := c.post(ctx, "/v1/pricing/optimize", optimizeRequest{Offers: offers}, &out); err != nil {
		return nil, err
	}
	return out.Recommendations, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("valuation agent request failed", "path", path, "error", err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("valuation agent upstream error", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
