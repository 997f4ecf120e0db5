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
	// LeadIDKey is the context key for the lead being processed
	LeadIDKey contextKey = "lead_id"
	// EventKeyKey is the context key for the idempotency key of the event being processed
	EventKeyKey contextKey = "event_key"
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
// Supports request_id, lead_id, and event_key from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if leadID, ok := ctx.Value(LeadIDKey).(string); ok && leadID != "" {
		newLogger = newLogger.WithLeadID(leadID)
	}

	if eventKey, ok := ctx.Value(EventKeyKey).(string); ok && eventKey != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("event_key", eventKey))}
	}

	return newLogger
}

// WithLeadID returns a logger with the lead ID attached.
func (l *Logger) WithLeadID(leadID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("lead_id", leadID)),
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

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// ComplianceDecision logs an outbound-contact compliance decision.
// maskedPhone must already have PII masking applied.
func (l *Logger) ComplianceDecision(leadID, channel, decision, reason, maskedPhone string) {
	if decision == "allow" {
		l.Info("compliance_decision",
			slog.String("lead_id", leadID),
			slog.String("channel", channel),
			slog.String("decision", decision),
			slog.String("phone", maskedPhone),
		)
	} else {
		l.Warn("compliance_decision",
			slog.String("lead_id", leadID),
			slog.String("channel", channel),
			slog.String("decision", decision),
			slog.String("reason", reason),
			slog.String("phone", maskedPhone),
		)
	}
}

// SyncFailure logs an exhausted CRM sync for operator visibility.
func (l *Logger) SyncFailure(leadID string, attempts int, err error) {
	l.Error("crm_sync_failed",
		slog.String("lead_id", leadID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// DeadLetter logs an event that could not be processed.
func (l *Logger) DeadLetter(eventKey, source, eventType, reason string) {
	l.Warn("event_dead_lettered",
		slog.String("event_key", eventKey),
		slog.String("source", source),
		slog.String("type", eventType),
		slog.String("reason", reason),
	)
}

// CascadeExceeded logs a cascade that hit the depth bound.
func (l *Logger) CascadeExceeded(eventKey string, depth int) {
	l.Error("cascade_depth_exceeded",
		slog.String("event_key", eventKey),
		slog.Int("depth", depth),
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
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
