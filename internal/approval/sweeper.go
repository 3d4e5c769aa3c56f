/*-------------------------------------------------------------------------
 *
 * sweeper.go
 *    Background expiry of stale approval records
 *
 * Expiry is enforced lazily by Resolve. The sweeper only keeps the
 * pending queue tidy and hands each cancelled record to a callback so
 * the owning run can move on to its next action.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/approval/sweeper.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/rakshittt/grow/internal/metrics"
)

/* ExpiredFunc is called once for every record the sweeper cancels */
type ExpiredFunc func(ctx context.Context, rec Record)

type Sweeper struct {
	store     Store
	interval  time.Duration
	now       func() time.Time
	onExpired ExpiredFunc
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSweeper(store Store, interval time.Duration, clock func() time.Time, onExpired ExpiredFunc) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:     store,
		interval:  interval,
		now:       clock,
		onExpired: onExpired,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

/* Start starts the sweeper */
func (s *Sweeper) Start() {
	go s.run()
}

/* Stop stops the sweeper and waits for an in-flight sweep */
func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

/* Sweep cancels every expired pending record once and returns how many it cancelled */
func (s *Sweeper) Sweep(parent context.Context) int {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.ErrorWithContext(ctx, "Panic in approval sweeper", fmt.Errorf("panic: %v", r), nil)
		}
	}()

	expired, err := s.store.ExpirePending(ctx, s.now())
	if err != nil {
		metrics.WarnWithContext(ctx, "Failed to expire pending approvals", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}

	for _, rec := range expired {
		metrics.InfoWithContext(ctx, "Approval record expired", map[string]interface{}{
			"approval_id": rec.ID.String(),
			"agency_id":   rec.AgencyID.String(),
			"run_id":      rec.RunID,
			"action_type": rec.ActionType,
		})
		if s.onExpired != nil {
			s.onExpired(ctx, rec)
		}
	}
	return len(expired)
}
