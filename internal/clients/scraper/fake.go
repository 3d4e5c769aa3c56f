/*-------------------------------------------------------------------------
 *
 * fake.go
 *    Scripted scraper for pipeline tests
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/scraper/fake.go
 *
 *-------------------------------------------------------------------------
 */

package scraper

import (
	"context"
	"sync"

	"github.com/rakshittt/grow/internal/model"
)

/*
 * FakeClient returns Statuses in order, repeating the last one once the
 * script runs out.
 */
type FakeClient struct {
	mu         sync.Mutex
	Handle     string
	TriggerErr error
	Statuses   []RunStatus
	StatusErr  error
	Items      []model.ScrapedAd
	FetchErr   error

	Triggered []Request
	Polls     int
}

func (f *FakeClient) Trigger(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Triggered = append(f.Triggered, req)
	if f.TriggerErr != nil {
		return "", f.TriggerErr
	}
	return f.Handle, nil
}

func (f *FakeClient) Status(ctx context.Context, handle string) (RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls++
	if f.StatusErr != nil {
		return RunStatus{}, f.StatusErr
	}
	if len(f.Statuses) == 0 {
		return RunStatus{ID: handle, State: StateRunning}, nil
	}
	idx := f.Polls - 1
	if idx >= len(f.Statuses) {
		idx = len(f.Statuses) - 1
	}
	return f.Statuses[idx], nil
}

func (f *FakeClient) FetchResults(ctx context.Context, datasetID string, minLongevityDays int) ([]model.ScrapedAd, error) {
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return model.FilterByLongevity(f.Items, minLongevityDays), nil
}
