/*-------------------------------------------------------------------------
 *
 * client.go
 *    Ad Library scraping provider client
 *
 * Scraping is delegated to an Apify actor. A run is triggered, polled
 * until it reaches a terminal state, and its dataset is then read back
 * and filtered by ad longevity.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/scraper/client.go
 *
 *-------------------------------------------------------------------------
 */

package scraper

import (
	"context"

	"github.com/rakshittt/grow/internal/model"
)

type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

type Request struct {
	StartURLs   []string
	SearchTerms []string
	Country     string
	AdType      string
	Limit       int
}

type RunStatus struct {
	ID        string
	State     State
	RawStatus string
	DatasetID string
}

type Client interface {
	Trigger(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, handle string) (RunStatus, error)
	FetchResults(ctx context.Context, datasetID string, minLongevityDays int) ([]model.ScrapedAd, error)
}

/* stateFromApify folds the provider's status vocabulary into three states */
func stateFromApify(status string) State {
	switch status {
	case "SUCCEEDED":
		return StateSucceeded
	case "FAILED", "ABORTING", "ABORTED", "TIMING-OUT", "TIMED-OUT":
		return StateFailed
	default:
		return StateRunning
	}
}
