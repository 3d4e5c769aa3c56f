/*-------------------------------------------------------------------------
 *
 * log_context.go
 *    Log context helpers for structured logging
 *
 * Carries request_id, tenant_id, run_id, pipeline and step fields through
 * context.Context so every component logs with the same correlation keys.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/metrics/log_context.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	tenantIDKey  contextKey = "tenant_id"
	runIDKey     contextKey = "run_id"
	pipelineKey  contextKey = "pipeline"
	stepKey      contextKey = "step"
	traceIDKey   contextKey = "trace_id"
)

var logFieldKeys = []contextKey{requestIDKey, tenantIDKey, runIDKey, pipelineKey, stepKey, traceIDKey}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

/* WithRequestID adds a request id to the log context */
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

/* WithTenant adds the owning agency id to the log context */
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return withValue(ctx, tenantIDKey, tenantID)
}

/* WithRun adds run id and pipeline name to the log context */
func WithRun(ctx context.Context, runID, pipeline string) context.Context {
	ctx = withValue(ctx, runIDKey, runID)
	return withValue(ctx, pipelineKey, pipeline)
}

/* WithStep adds the executing step to the log context */
func WithStep(ctx context.Context, step string) context.Context {
	return withValue(ctx, stepKey, step)
}

/* WithTraceID adds a trace id to the log context */
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, traceIDKey, traceID)
}

func valueFromContext(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

/* GetRequestIDFromContext gets request ID from context */
func GetRequestIDFromContext(ctx context.Context) string {
	return valueFromContext(ctx, requestIDKey)
}

/* GetRunIDFromContext gets run ID from context */
func GetRunIDFromContext(ctx context.Context) string {
	return valueFromContext(ctx, runIDKey)
}

/* LoggerFromContext creates a zerolog logger with fields from context */
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	logger := *zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	lc := logger.With()
	for _, key := range logFieldKeys {
		if v := valueFromContext(ctx, key); v != "" {
			lc = lc.Str(string(key), v)
		}
	}
	return lc.Logger()
}

/* LogWithContext logs a message with context fields */
func LogWithContext(ctx context.Context, level zerolog.Level, message string, fields map[string]interface{}) {
	logger := LoggerFromContext(ctx)
	event := logger.WithLevel(level)
	if event == nil {
		return
	}

	for key, value := range fields {
		event = event.Interface(key, value)
	}

	event.Msg(message)
}

/* DebugWithContext logs a debug message with context */
func DebugWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.DebugLevel, message, fields)
}

/* InfoWithContext logs an info message with context */
func InfoWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.InfoLevel, message, fields)
}

/* WarnWithContext logs a warning message with context */
func WarnWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.WarnLevel, message, fields)
}

/* ErrorWithContext logs an error message with context */
func ErrorWithContext(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogWithContext(ctx, zerolog.ErrorLevel, message, fields)
}
