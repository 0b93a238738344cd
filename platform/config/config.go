// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides settings for the shared redis counter store and queue.
type RedisConfig interface {
	GetRedisURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// AgentConfig provides settings for the external AI capability services.
type AgentConfig interface {
	GetValuationAPIURL() string
	GetVoiceAPIURL() string
	GetFraudAPIURL() string
	GetAgentTimeout() time.Duration
	IsFraudEnabled() bool
}

// BusinessRulesConfig provides the valuation pipeline's business limits.
type BusinessRulesConfig interface {
	GetOffersPerDayLimit() int
	GetOffersPerHourLimit() int
	GetMinOfferAmount() float64
	GetMaxOfferAmount() float64
	GetDailySpendCap() float64
	GetAutoApproveThreshold() float64
	GetOfferExpiry() time.Duration
	GetLowConfidenceThreshold() float64
	GetMinComparableCount() int
	GetPriceFloorRatio() float64
}

// OptimizerConfig provides settings for the scheduled price optimizer.
type OptimizerConfig interface {
	GetOptimizerMinAge() time.Duration
	GetOptimizerWindow() time.Duration
	GetPriceFloorRatio() float64
	GetOptimizerCronSpec() string
	GetExpirySweepCronSpec() string
}

// MinIOConfig provides settings for MinIO S3-compatible photo storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketOfferPhotos() string
	IsMinIOEnabled() bool
}

// AlertConfig provides settings for escalation alert email delivery.
type AlertConfig interface {
	GetAlertsEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertToAddress() string
}

// WorkerConfig combines everything the queue worker process needs.
type WorkerConfig interface {
	RedisConfig
	AgentConfig
	BusinessRulesConfig
	OptimizerConfig
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	RedisURL               string
	JWTAccessSecret        string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	ValuationAPIURL        string
	VoiceAPIURL            string
	FraudAPIURL            string
	AgentTimeout           time.Duration
	OffersPerDayLimit      int
	OffersPerHourLimit     int
	MinOfferAmount         float64
	MaxOfferAmount         float64
	DailySpendCap          float64
	AutoApproveThreshold   float64
	OfferExpiry            time.Duration
	LowConfidenceThreshold float64
	MinComparableCount     int
	OptimizerMinAge        time.Duration
	OptimizerWindow        time.Duration
	PriceFloorRatio        float64
	OptimizerCronSpec      string
	ExpirySweepCronSpec    string
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOMaxFileSize       int64
	MinioBucketOfferPhotos string
	AlertsEnabled          bool
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	AlertFromAddress       string
	AlertToAddress         string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string { return c.RedisURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// AgentConfig implementation
func (c *Config) GetValuationAPIURL() string     { return c.ValuationAPIURL }
func (c *Config) GetVoiceAPIURL() string         { return c.VoiceAPIURL }
func (c *Config) GetFraudAPIURL() string         { return c.FraudAPIURL }
func (c *Config) GetAgentTimeout() time.Duration { return c.AgentTimeout }
func (c *Config) IsFraudEnabled() bool           { return c.FraudAPIURL != "" }

// BusinessRulesConfig implementation
func (c *Config) GetOffersPerDayLimit() int          { return c.OffersPerDayLimit }
func (c *Config) GetOffersPerHourLimit() int         { return c.OffersPerHourLimit }
func (c *Config) GetMinOfferAmount() float64         { return c.MinOfferAmount }
func (c *Config) GetMaxOfferAmount() float64         { return c.MaxOfferAmount }
func (c *Config) GetDailySpendCap() float64          { return c.DailySpendCap }
func (c *Config) GetAutoApproveThreshold() float64   { return c.AutoApproveThreshold }
func (c *Config) GetOfferExpiry() time.Duration      { return c.OfferExpiry }
func (c *Config) GetLowConfidenceThreshold() float64 { return c.LowConfidenceThreshold }
func (c *Config) GetMinComparableCount() int         { return c.MinComparableCount }

// OptimizerConfig implementation
func (c *Config) GetOptimizerMinAge() time.Duration { return c.OptimizerMinAge }
func (c *Config) GetOptimizerWindow() time.Duration { return c.OptimizerWindow }
func (c *Config) GetPriceFloorRatio() float64       { return c.PriceFloorRatio }
func (c *Config) GetOptimizerCronSpec() string      { return c.OptimizerCronSpec }
func (c *Config) GetExpirySweepCronSpec() string    { return c.ExpirySweepCronSpec }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64        { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketOfferPhotos() string { return c.MinioBucketOfferPhotos }
func (c *Config) IsMinIOEnabled() bool              { return c.MinIOEndpoint != "" }

// AlertConfig implementation
func (c *Config) GetAlertsEnabled() bool      { return c.AlertsEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetAlertFromAddress() string { return c.AlertFromAddress }
func (c *Config) GetAlertToAddress() string   { return c.AlertToAddress }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	alertsEnabled := strings.EqualFold(getEnv("ALERTS_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTAccessSecret:        getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		ValuationAPIURL:        getEnv("VALUATION_API_URL", "http://localhost:8000"),
		VoiceAPIURL:            getEnv("VOICE_API_URL", "http://localhost:3002"),
		FraudAPIURL:            getEnv("FRAUD_API_URL", ""),
		AgentTimeout:           mustDuration(getEnv("AGENT_TIMEOUT", "30s")),
		OffersPerDayLimit:      mustInt(getEnv("OFFERS_PER_DAY_LIMIT", "20")),
		OffersPerHourLimit:     mustInt(getEnv("OFFERS_PER_HOUR_LIMIT", "5")),
		MinOfferAmount:         mustFloat(getEnv("MIN_OFFER_AMOUNT", "5")),
		MaxOfferAmount:         mustFloat(getEnv("MAX_OFFER_AMOUNT", "2000")),
		DailySpendCap:          mustFloat(getEnv("DAILY_SPEND_CAP", "20000")),
		AutoApproveThreshold:   mustFloat(getEnv("AUTO_APPROVE_THRESHOLD", "500")),
		OfferExpiry:            mustDuration(getEnv("OFFER_EXPIRY", "24h")),
		LowConfidenceThreshold: mustFloat(getEnv("LOW_CONFIDENCE_THRESHOLD", "50")),
		MinComparableCount:     mustInt(getEnv("MIN_COMPARABLE_COUNT", "3")),
		OptimizerMinAge:        mustDuration(getEnv("OPTIMIZER_MIN_AGE", "168h")),
		OptimizerWindow:        mustDuration(getEnv("OPTIMIZER_WINDOW", "24h")),
		PriceFloorRatio:        mustFloat(getEnv("PRICE_FLOOR_RATIO", "0.5")),
		OptimizerCronSpec:      getEnv("OPTIMIZER_CRON", "0 2 * * *"),
		ExpirySweepCronSpec:    getEnv("EXPIRY_SWEEP_CRON", "*/10 * * * *"),
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:       mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),
		MinioBucketOfferPhotos: getEnv("MINIO_BUCKET_OFFER_PHOTOS", "offer-photos"),
		AlertsEnabled:          alertsEnabled && smtpHost != "",
		SMTPHost:               smtpHost,
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		AlertFromAddress:       getEnv("ALERT_FROM_ADDRESS", ""),
		AlertToAddress:         getEnv("ALERT_TO_ADDRESS", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.MinOfferAmount <= 0 || cfg.MaxOfferAmount <= cfg.MinOfferAmount {
		return nil, fmt.Errorf("MIN_OFFER_AMOUNT and MAX_OFFER_AMOUNT must describe a valid range")
	}
	if cfg.AlertsEnabled && cfg.AlertToAddress == "" {
		return nil, fmt.Errorf("ALERT_TO_ADDRESS is required when alerts are enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
