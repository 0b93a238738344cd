// Package client provides the HTTP client for the voice presentation service.
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

// ScriptResult is the generated presentation script for an offer.
type ScriptResult struct {
	Script       string `json:"script"`
	Tone         string `json:"tone"`
	AnimationCue string `json:"animationCue"`
}

// SynthesisResult is the audio rendering of a script.
type SynthesisResult struct {
	AudioKey string `json:"audioKey"`
}

type scriptRequest struct {
	Scenario    string  `json:"scenario"`
	Tone        string  `json:"tone"`
	Brand       string  `json:"brand"`
	Model       string  `json:"model"`
	Condition   string  `json:"condition"`
	OfferAmount float64 `json:"offerAmount"`
}

type synthesizeRequest struct {
	Script string `json:"script"`
	Tone   string `json:"tone"`
}

// Client is the HTTP client for the voice service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// New creates a voice service client.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		log:        log,
	}
}

// GenerateScript writes a presentation script for the given scenario.
func (c *Client) GenerateScript(ctx context.Context, scenario, tone, brand, model, condition string, offerAmount float64) (ScriptResult, error) {
	var out ScriptResult
	err := c.post(ctx, "/v1/script", scriptRequest{
		Scenario:    scenario,
		Tone:        tone,
		Brand:       brand,
		Model:       model,
		Condition:   condition,
		OfferAmount: offerAmount,
	}, &out)
	return out, err
}

// Synthesize renders a script into audio and returns the storage key.
func (c *Client) Synthesize(ctx context.Context, script, tone string) (SynthesisResult, error) {
	var out SynthesisResult
	err := c.post(ctx, "/v1/synthesize", synthesizeRequest{Script: script, Tone: tone}, &out)
	return out, err
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
		c.log.Error("voice service request failed", "path", path, "error", err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("voice service upstream error", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
