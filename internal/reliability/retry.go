/*-------------------------------------------------------------------------
 *
 * retry.go
 *    Retry with exponential backoff
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/reliability/retry.go
 *
 *-------------------------------------------------------------------------
 */

package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rakshittt/grow/internal/metrics"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

/* DefaultRetryPolicy suits idempotent reads against remote APIs */
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}

/* permanentError marks an error that retrying cannot fix */
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

/* Permanent wraps err so Retry returns it immediately */
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

/* Retry calls fn until it succeeds, returns a permanent error, or the policy is exhausted */
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || errors.Is(err, ErrCircuitOpen) || attempt == policy.MaxRetries {
			break
		}

		delay := policy.delay(attempt)
		metrics.DebugWithContext(ctx, "Retrying after error", map[string]interface{}{
			"operation":   op,
			"attempt":     attempt + 1,
			"max_retries": policy.MaxRetries,
			"delay_ms":    delay.Milliseconds(),
			"error":       err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	if IsPermanent(lastErr) || policy.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("%s: max retries exceeded: last_error=%w", op, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * p.BaseDelay
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	/* up to 20% jitter */
	return delay + time.Duration(rand.Float64()*0.2*float64(delay))
}
