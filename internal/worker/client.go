// Package worker runs the offer pipeline: the asynq queue client, the
// per-queue servers with their stage handlers, and the cron scheduler for
// maintenance jobs.
package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cashoffer_backend/internal/offers/ports"
	"cashoffer_backend/platform/config"
)

// Per-stage retry budgets. Vision and voice call slow model-backed services,
// so they get generous timeouts and few retries; the cheap stages retry more.
const (
	visionMaxRetry  = 3
	marketMaxRetry  = 5
	pricingMaxRetry = 5
	voiceMaxRetry   = 3
	notifyMaxRetry  = 10

	visionTimeout  = 2 * time.Minute
	marketTimeout  = 1 * time.Minute
	pricingTimeout = 30 * time.Second
	voiceTimeout   = 3 * time.Minute
	notifyTimeout  = 30 * time.Second
)

// Client enqueues pipeline stage jobs onto their queues.
type Client struct {
	client *asynq.Client
}

// NewClient creates the queue client from the redis configuration.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueVision(ctx context.Context, payload ports.VisionPayload) error {
	task, err := ports.NewVisionTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(ports.QueueVision),
		asynq.MaxRetry(visionMaxRetry),
		asynq.Timeout(visionTimeout),
	)
	return err
}

func (c *Client) EnqueueMarket(ctx context.Context, payload ports.MarketPayload) error {
	task, err := ports.NewMarketTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(ports.QueueMarket),
		asynq.MaxRetry(marketMaxRetry),
		asynq.Timeout(marketTimeout),
	)
	return err
}

func (c *Client) EnqueuePricing(ctx context.Context, payload ports.PricingPayload) error {
	task, err := ports.NewPricingTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(ports.QueuePricing),
		asynq.MaxRetry(pricingMaxRetry),
		asynq.Timeout(pricingTimeout),
	)
	return err
}

func (c *Client) EnqueueVoice(ctx context.Context, payload ports.VoicePayload) error {
	task, err := ports.NewVoiceTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(ports.QueueVoice),
		asynq.MaxRetry(voiceMaxRetry),
		asynq.Timeout(voiceTimeout),
	)
	return err
}

func (c *Client) EnqueueEscalationNotify(ctx context.Context, payload ports.EscalationNotifyPayload) error {
	task, err := ports.NewEscalationNotifyTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(ports.QueueNotify),
		asynq.MaxRetry(notifyMaxRetry),
		asynq.Timeout(notifyTimeout),
	)
	return err
}

func (c *Client) EnqueuePriceOptimize(ctx context.Context, dryRun bool) error {
	task, err := ports.NewPriceOptimizeTask(ports.PriceOptimizePayload{DryRun: dryRun})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(ports.QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
	)
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	if redisURL == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		tlsConfig = opt.TLSConfig.Clone()
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
