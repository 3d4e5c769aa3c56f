/*-------------------------------------------------------------------------
 *
 * scheduler.go
 *    Periodic dispatch of due optimizer rules and spy trackers
 *
 * Each tick asks the dispatcher to start every due item of both kinds.
 * Items are claimed before they start, so several replicas may tick at
 * once without starting the same item twice.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/scheduler/scheduler.go
 *
 *-------------------------------------------------------------------------
 */

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/metrics"
	"golang.org/x/sync/errgroup"
)

/* Dispatcher starts due items of one kind */
type Dispatcher interface {
	RunDue(ctx context.Context, kind agents.Kind, now time.Time) (agents.BatchResult, error)
}

var Kinds = []agents.Kind{agents.KindOptimizer, agents.KindSpy}

type Scheduler struct {
	dispatcher Dispatcher
	interval   time.Duration
	timeout    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(dispatcher Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    interval,
		now:        time.Now,
	}
}

/* Start begins ticking; the first tick runs immediately */
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(ctx, s.done)
}

/* Stop cancels the current tick and waits for it to return */
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

/* Tick runs one dispatch pass over both kinds and returns the per-kind results */
func (s *Scheduler) Tick(parent context.Context) map[agents.Kind]agents.BatchResult {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	now := s.now()
	results := make(map[agents.Kind]agents.BatchResult, len(Kinds))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(len(Kinds))
	for _, kind := range Kinds {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					metrics.ErrorWithContext(ctx, "Panic in scheduler tick", fmt.Errorf("panic: %v", r), map[string]interface{}{"kind": string(kind)})
				}
			}()

			res, err := s.dispatcher.RunDue(ctx, kind, now)
			if err != nil {
				metrics.RecordSchedulerStart(string(kind), err)
				metrics.WarnWithContext(ctx, "Scheduler could not list due items", map[string]interface{}{
					"kind":  string(kind),
					"error": err.Error(),
				})
				return nil
			}
			for _, e := range res.Errors {
				metrics.WarnWithContext(ctx, "Scheduled run failed", map[string]interface{}{"kind": string(kind), "error": e})
			}
			if res.Due > 0 {
				metrics.InfoWithContext(ctx, "Scheduler tick", map[string]interface{}{
					"kind":    string(kind),
					"due":     res.Due,
					"started": res.Started,
					"errors":  len(res.Errors),
				})
			}

			mu.Lock()
			results[kind] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}
