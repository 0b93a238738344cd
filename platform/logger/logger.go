// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// OfferIDKey is the context key for the offer being processed
	OfferIDKey contextKey = "offer_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if offerID, ok := ctx.Value(OfferIDKey).(string); ok && offerID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("offer_id", offerID))}
	}

	return newLogger
}

// WithOffer returns a logger with the offer id attached.
func (l *Logger) WithOffer(offerID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("offer_id", offerID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// StageEvent logs a pipeline stage transition for an offer.
func (l *Logger) StageEvent(offerID, stage, event string) {
	l.Info("pipeline_stage",
		slog.String("offer_id", offerID),
		slog.String("stage", stage),
		slog.String("event", event),
	)
}

// StageError logs a pipeline stage failure for an offer.
func (l *Logger) StageError(offerID, stage string, err error) {
	l.Error("pipeline_stage_error",
		slog.String("offer_id", offerID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(key, scope string) {
	l.Warn("rate_limit_exceeded",
		slog.String("key", key),
		slog.String("scope", scope),
	)
}
