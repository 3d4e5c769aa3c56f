/*-------------------------------------------------------------------------
 *
 * state.go
 *    Spy run state and its merge rules
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/spy/state.go
 *
 *-------------------------------------------------------------------------
 */

package spy

import (
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/model"
)

type State struct {
	RunID    string     `json:"run_id"`
	AgencyID uuid.UUID  `json:"agency_id"`
	Tracker  db.Tracker `json:"tracker"`

	ScrapeRunID  string `json:"scrape_run_id,omitempty"`
	DatasetID    string `json:"dataset_id,omitempty"`
	PollAttempts int    `json:"poll_attempts"`
	ScrapeState  string `json:"scrape_state,omitempty"`

	Items    []model.ScrapedAd `json:"scraped_ads"`
	Report   *model.SpyReport  `json:"report,omitempty"`
	RecordID *uuid.UUID        `json:"action_log_id,omitempty"`

	Errors    []string `json:"errors"`
	Delivered bool     `json:"delivered"`
}

type Update struct {
	ScrapeRunID  *string
	DatasetID    *string
	PollAttempts *int
	ScrapeState  *string
	Items        *[]model.ScrapedAd
	Report       *model.SpyReport
	RecordID     *uuid.UUID
	Delivered    *bool

	/* Errors are appended */
	Errors []string
}

func Apply(s State, u Update) State {
	if u.ScrapeRunID != nil {
		s.ScrapeRunID = *u.ScrapeRunID
	}
	if u.DatasetID != nil {
		s.DatasetID = *u.DatasetID
	}
	if u.PollAttempts != nil {
		s.PollAttempts = *u.PollAttempts
	}
	if u.ScrapeState != nil {
		s.ScrapeState = *u.ScrapeState
	}
	if u.Items != nil {
		s.Items = *u.Items
	}
	if u.Report != nil {
		r := *u.Report
		s.Report = &r
	}
	if u.RecordID != nil {
		id := *u.RecordID
		s.RecordID = &id
	}
	if u.Delivered != nil {
		s.Delivered = *u.Delivered
	}
	s.Errors = append(s.Errors, u.Errors...)
	return s
}

/*
 * Snapshot is the document stored on the tracker and in the audit
 * record. The summary fields feed list views, TopAds the detail view.
 */
type Snapshot struct {
	TopAdsCount      int           `json:"top_ads_count"`
	AvgLongevityDays float64       `json:"avg_longevity_days"`
	TopFormat        string        `json:"top_format"`
	Insights         string        `json:"insights"`
	RecommendedTests []string      `json:"recommended_tests"`
	Confidence       float64       `json:"confidence"`
	GeneratedAt      time.Time     `json:"generated_at"`
	TopAds           []model.TopAd `json:"top_ads"`
}

func NewSnapshot(r model.SpyReport, at time.Time) Snapshot {
	tests := r.RecommendedTests
	if tests == nil {
		tests = []string{}
	}
	top := r.TopAds
	if top == nil {
		top = []model.TopAd{}
	}
	return Snapshot{
		TopAdsCount:      len(r.TopAds),
		AvgLongevityDays: r.AvgLongevityDays,
		TopFormat:        r.DominantFormat,
		Insights:         r.KeyInsights,
		RecommendedTests: tests,
		Confidence:       r.Confidence,
		GeneratedAt:      at.UTC(),
		TopAds:           top,
	}
}

/* Map renders the snapshot as a JSON object for approval record values */
func (s Snapshot) Map() map[string]interface{} {
	return map[string]interface{}{
		"top_ads_count":      s.TopAdsCount,
		"avg_longevity_days": s.AvgLongevityDays,
		"top_format":         s.TopFormat,
		"insights":           s.Insights,
		"recommended_tests":  s.RecommendedTests,
		"confidence":         s.Confidence,
		"generated_at":       s.GeneratedAt.Format(time.RFC3339),
		"top_ads":            s.TopAds,
	}
}

func ptr[T any](v T) *T { return &v }
