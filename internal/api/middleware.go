/*-------------------------------------------------------------------------
 *
 * middleware.go
 *    HTTP middleware for the grow API
 *
 * Provides request ids, CORS, request logging and metrics, panic
 * recovery and the shared-secret check guarding the cron routes.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/middleware.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rakshittt/grow/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "request_id"

/* RequestIDMiddleware adds a unique request ID to each request */
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = metrics.WithRequestID(ctx, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

/* GetRequestID gets the request ID from context */
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

/* CORSMiddleware adds CORS headers */
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Agency-ID, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

/* LoggingMiddleware logs requests with structured logging and metrics */
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := routeTemplate(r)
		metrics.RecordHTTPRequest(r.Method, endpoint, wrapped.statusCode, duration)

		fields := map[string]interface{}{
			"method":      r.Method,
			"endpoint":    endpoint,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
		}
		if wrapped.statusCode >= http.StatusInternalServerError {
			metrics.WarnWithContext(r.Context(), "Request failed", fields)
			return
		}
		metrics.DebugWithContext(r.Context(), "Request served", fields)
	})
}

/* routeTemplate labels metrics by route pattern so ids do not explode cardinality */
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

/* RecoveryMiddleware turns a handler panic into a 500 envelope */
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.ErrorWithContext(r.Context(), "Panic recovered in HTTP handler", fmt.Errorf("panic: %v", rec), map[string]interface{}{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				respondError(w, WrapError(ErrInternal, GetRequestID(r.Context())))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

/*
 * CronAuthMiddleware admits only requests bearing the configured cron
 * secret. An empty secret disables the routes entirely.
 */
func CronAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())
			if secret == "" {
				metrics.WarnWithContext(r.Context(), "Cron request rejected: no cron secret configured", nil)
				respondError(w, WrapError(ErrUnauthorized, requestID))
				return
			}

			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
				subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) != 1 {
				respondError(w, WrapError(ErrUnauthorized, requestID))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
