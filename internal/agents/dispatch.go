/*-------------------------------------------------------------------------
 *
 * dispatch.go
 *    Scheduled dispatch of due rules and trackers
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/agents/dispatch.go
 *
 *-------------------------------------------------------------------------
 */

package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/optimizer"
	"github.com/rakshittt/grow/internal/spy"
	"golang.org/x/sync/errgroup"
)

type BatchResult struct {
	Due     int      `json:"total"`
	Started int      `json:"ran"`
	Errors  []string `json:"errors"`
}

type batch struct {
	mu  sync.Mutex
	res BatchResult
}

func (b *batch) started() {
	b.mu.Lock()
	b.res.Started++
	b.mu.Unlock()
}

func (b *batch) failed(id string, err error) {
	b.mu.Lock()
	b.res.Errors = append(b.res.Errors, fmt.Sprintf("%s: %v", id, err))
	b.mu.Unlock()
}

/*
 * RunDue starts a run for every active subject of kind whose next_run_at
 * has passed. Each subject is claimed by a compare-and-set on its
 * next_run_at before starting, so concurrent ticks start it once. A
 * failing subject is recorded and never stops the rest of the batch.
 */
func (s *Service) RunDue(ctx context.Context, kind Kind, now time.Time) (BatchResult, error) {
	switch kind {
	case KindOptimizer:
		rules, err := s.store.ListDueRules(ctx, now, s.batchLimit)
		if err != nil {
			return BatchResult{}, err
		}
		b := &batch{res: BatchResult{Due: len(rules), Errors: []string{}}}
		g := s.group()
		for i := range rules {
			rule := &rules[i]
			g.Go(func() error {
				s.dispatch(ctx, b, kind, rule.ID.String(), func() (bool, error) {
					return s.store.ClaimRuleRun(ctx, rule.ID, rule.NextRunAt, now.Add(rule.CheckInterval()))
				}, func() (*RunSummary, error) {
					_, sum, err := s.startOptimizer(metrics.WithTenant(ctx, rule.AgencyID.String()), ruleState(rule), now)
					return sum, err
				})
				return nil
			})
		}
		g.Wait()
		return b.res, nil

	case KindSpy:
		trackers, err := s.store.ListDueTrackers(ctx, now, s.batchLimit)
		if err != nil {
			return BatchResult{}, err
		}
		b := &batch{res: BatchResult{Due: len(trackers), Errors: []string{}}}
		g := s.group()
		for i := range trackers {
			tracker := &trackers[i]
			g.Go(func() error {
				s.dispatch(ctx, b, kind, tracker.ID.String(), func() (bool, error) {
					return s.store.ClaimTrackerRun(ctx, tracker.ID, tracker.NextRunAt, now.Add(tracker.RunInterval()))
				}, func() (*RunSummary, error) {
					_, sum, err := s.startSpy(metrics.WithTenant(ctx, tracker.AgencyID.String()), spyState(tracker))
					return sum, err
				})
				return nil
			})
		}
		g.Wait()
		return b.res, nil
	}
	return BatchResult{}, fmt.Errorf("%w: '%s'", ErrUnknownKind, kind)
}

func (s *Service) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(s.maxConcurrent)
	return g
}

func (s *Service) dispatch(ctx context.Context, b *batch, kind Kind, id string, claim func() (bool, error), start func() (*RunSummary, error)) {
	defer func() {
		if r := recover(); r != nil {
			b.failed(id, fmt.Errorf("panic: %v", r))
		}
	}()

	ok, err := claim()
	metrics.RecordSchedulerStart(string(kind), err)
	if err != nil {
		b.failed(id, err)
		return
	}
	if !ok {
		metrics.DebugWithContext(ctx, "Due item already claimed", map[string]interface{}{"kind": string(kind), "id": id})
		return
	}

	sum, err := start()
	if err != nil {
		b.failed(id, err)
		return
	}
	b.started()
	if sum != nil && sum.Status == RunFailed {
		b.failed(id, fmt.Errorf("run %s failed: %s", sum.RunID, sum.Error))
	}
}

func ruleState(rule *db.Rule) optimizer.State {
	return optimizer.State{AgencyID: rule.AgencyID, Rule: *rule}
}

func spyState(tracker *db.Tracker) spy.State {
	return spy.State{AgencyID: tracker.AgencyID, Tracker: *tracker}
}
