/*-------------------------------------------------------------------------
 *
 * tracker_queries.go
 *    Database queries for competitor spy trackers
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/tracker_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	createTrackerQuery = `
		INSERT INTO grow.spy_trackers
		(agency_id, name, competitor_name, competitor_page_url, country_code, search_terms,
		 min_longevity_days, max_results, run_interval_hours, status, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *`

	getTrackerQuery = `SELECT * FROM grow.spy_trackers WHERE id = $1 AND agency_id = $2`

	getTrackerByIDQuery = `SELECT * FROM grow.spy_trackers WHERE id = $1`

	listTrackersQuery = `
		SELECT * FROM grow.spy_trackers
		WHERE agency_id = $1
		AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC`

	updateTrackerQuery = `
		UPDATE grow.spy_trackers
		SET name = $3, competitor_name = $4, competitor_page_url = $5, country_code = $6,
			search_terms = $7, min_longevity_days = $8, max_results = $9,
			run_interval_hours = $10, updated_at = NOW()
		WHERE id = $1 AND agency_id = $2 AND status <> 'archived'
		RETURNING updated_at`

	updateTrackerStatusQuery = `
		UPDATE grow.spy_trackers
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND agency_id = $2 AND status <> 'archived'`

	listDueTrackersQuery = `
		SELECT * FROM grow.spy_trackers
		WHERE status = 'active' AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at NULLS FIRST
		LIMIT $2`

	claimTrackerRunQuery = `
		UPDATE grow.spy_trackers
		SET next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND next_run_at IS NOT DISTINCT FROM $2`

	setTrackerScrapeRunQuery = `
		UPDATE grow.spy_trackers
		SET scrape_run_id = $2, updated_at = NOW()
		WHERE id = $1`

	saveTrackerReportQuery = `
		UPDATE grow.spy_trackers
		SET last_report = $2::jsonb, last_run_at = $3, next_run_at = $4,
			total_runs = total_runs + 1, scrape_run_id = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1`

	recordTrackerFailureQuery = `
		UPDATE grow.spy_trackers
		SET last_error = $2, last_run_at = $3, next_run_at = $4,
			scrape_run_id = NULL, updated_at = NOW()
		WHERE id = $1`

	countOpenApprovalsForTrackerQuery = `
		SELECT COUNT(*) FROM grow.approval_records
		WHERE tracker_id = $1
		AND status IN ('pending_human_approval', 'approved', 'auto_approved', 'executing')`
)

func (q *Queries) CreateTracker(ctx context.Context, tracker *Tracker) error {
	if tracker.SearchTerms == nil {
		tracker.SearchTerms = pq.StringArray{}
	}
	if tracker.Status == "" {
		tracker.Status = StatusActive
	}
	params := []interface{}{
		tracker.AgencyID, tracker.Name, tracker.CompetitorName, tracker.CompetitorPageURL,
		tracker.CountryCode, tracker.SearchTerms, tracker.MinLongevityDays, tracker.MaxResults,
		tracker.RunIntervalHours, tracker.Status, tracker.NextRunAt,
	}
	if err := q.DB.GetContext(ctx, tracker, createTrackerQuery, params...); err != nil {
		return fmt.Errorf("tracker creation failed: name='%s', agency_id='%s', error=%w", tracker.Name, tracker.AgencyID, err)
	}
	return nil
}

func (q *Queries) GetTracker(ctx context.Context, agencyID, id uuid.UUID) (*Tracker, error) {
	var tracker Tracker
	if err := q.DB.GetContext(ctx, &tracker, getTrackerQuery, id, agencyID); err != nil {
		return nil, notFound(err, "tracker", id)
	}
	return &tracker, nil
}

func (q *Queries) GetTrackerByID(ctx context.Context, id uuid.UUID) (*Tracker, error) {
	var tracker Tracker
	if err := q.DB.GetContext(ctx, &tracker, getTrackerByIDQuery, id); err != nil {
		return nil, notFound(err, "tracker", id)
	}
	return &tracker, nil
}

func (q *Queries) ListTrackers(ctx context.Context, agencyID uuid.UUID, status *string) ([]Tracker, error) {
	var trackers []Tracker
	if err := q.DB.SelectContext(ctx, &trackers, listTrackersQuery, agencyID, status); err != nil {
		return nil, fmt.Errorf("failed to list trackers: agency_id='%s', error=%w", agencyID, err)
	}
	return trackers, nil
}

func (q *Queries) UpdateTracker(ctx context.Context, tracker *Tracker) error {
	if tracker.SearchTerms == nil {
		tracker.SearchTerms = pq.StringArray{}
	}
	params := []interface{}{
		tracker.ID, tracker.AgencyID, tracker.Name, tracker.CompetitorName, tracker.CompetitorPageURL,
		tracker.CountryCode, tracker.SearchTerms, tracker.MinLongevityDays, tracker.MaxResults,
		tracker.RunIntervalHours,
	}
	if err := q.DB.GetContext(ctx, &tracker.UpdatedAt, updateTrackerQuery, params...); err != nil {
		return notFound(err, "tracker", tracker.ID)
	}
	return nil
}

func (q *Queries) UpdateTrackerStatus(ctx context.Context, agencyID, id uuid.UUID, status string) (bool, error) {
	ok, err := q.execCAS(ctx, updateTrackerStatusQuery, id, agencyID, status)
	if err != nil {
		return false, fmt.Errorf("tracker status update failed: id='%s', status='%s', error=%w", id, status, err)
	}
	return ok, nil
}

func (q *Queries) ListDueTrackers(ctx context.Context, now time.Time, limit int) ([]Tracker, error) {
	var trackers []Tracker
	if err := q.DB.SelectContext(ctx, &trackers, listDueTrackersQuery, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due trackers: error=%w", err)
	}
	return trackers, nil
}

func (q *Queries) ClaimTrackerRun(ctx context.Context, id uuid.UUID, observed *time.Time, until time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, claimTrackerRunQuery, id, observed, until)
	if err != nil {
		return false, fmt.Errorf("tracker claim failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

func (q *Queries) SetTrackerScrapeRun(ctx context.Context, id uuid.UUID, scrapeRunID string) error {
	if _, err := q.DB.ExecContext(ctx, setTrackerScrapeRunQuery, id, scrapeRunID); err != nil {
		return fmt.Errorf("tracker scrape run update failed: id='%s', error=%w", id, err)
	}
	return nil
}

/* SaveTrackerReport stores the report snapshot and schedules the next run in one statement */
func (q *Queries) SaveTrackerReport(ctx context.Context, id uuid.UUID, report JSONRaw, ranAt, nextRun time.Time) error {
	if _, err := q.DB.ExecContext(ctx, saveTrackerReportQuery, id, report, ranAt, nextRun); err != nil {
		return fmt.Errorf("tracker report save failed: id='%s', error=%w", id, err)
	}
	return nil
}

func (q *Queries) RecordTrackerFailure(ctx context.Context, id uuid.UUID, message string, ranAt, nextRun time.Time) error {
	if _, err := q.DB.ExecContext(ctx, recordTrackerFailureQuery, id, message, ranAt, nextRun); err != nil {
		return fmt.Errorf("tracker failure record failed: id='%s', error=%w", id, err)
	}
	return nil
}

func (q *Queries) CountOpenApprovalsForTracker(ctx context.Context, trackerID uuid.UUID) (int, error) {
	var n int
	if err := q.DB.GetContext(ctx, &n, countOpenApprovalsForTrackerQuery, trackerID); err != nil {
		return 0, fmt.Errorf("failed to count open approvals: tracker_id='%s', error=%w", trackerID, err)
	}
	return n, nil
}
