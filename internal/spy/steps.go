/*-------------------------------------------------------------------------
 *
 * steps.go
 *    Spy pipeline steps
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/spy/steps.go
 *
 *-------------------------------------------------------------------------
 */

package spy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/clients/scraper"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/notifications"
)

const (
	DefaultPollAttempts = 20
	DefaultPollDelay    = 15 * time.Second
)

/* TrackerStore is the slice of tracker persistence the pipeline writes to */
type TrackerStore interface {
	SetTrackerScrapeRun(ctx context.Context, id uuid.UUID, scrapeRunID string) error
	SaveTrackerReport(ctx context.Context, id uuid.UUID, report db.JSONRaw, ranAt, nextRun time.Time) error
	RecordTrackerFailure(ctx context.Context, id uuid.UUID, message string, ranAt, nextRun time.Time) error
}

/* WebhookSource resolves an agency's Slack webhook; empty means delivery is off */
type WebhookSource interface {
	SlackWebhook(ctx context.Context, agencyID uuid.UUID) (string, error)
}

/* Sleeper waits for d or until ctx is done */
type Sleeper func(ctx context.Context, d time.Duration) error

func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Deps struct {
	Scraper   scraper.Client
	Inference inference.Service
	Approvals approval.Store
	Trackers  TrackerStore
	Webhooks  WebhookSource
	Notifier  notifications.Notifier

	PollAttempts     int
	PollDelay        time.Duration
	Sleep            Sleeper
	DashboardBaseURL string
	Now              func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.PollAttempts <= 0 {
		d.PollAttempts = DefaultPollAttempts
	}
	if d.PollDelay < 0 {
		d.PollDelay = 0
	}
	if d.Sleep == nil {
		d.Sleep = ContextSleep
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type steps struct {
	deps Deps
}

/* ScrapeRequest targets the competitor page when known, otherwise searches by name and terms */
func ScrapeRequest(t db.Tracker) scraper.Request {
	req := scraper.Request{Country: t.CountryCode, AdType: "ALL", Limit: t.MaxResults}
	if t.CompetitorPageURL != nil && *t.CompetitorPageURL != "" {
		req.StartURLs = []string{*t.CompetitorPageURL}
		return req
	}
	req.SearchTerms = append([]string{t.CompetitorName}, t.SearchTerms...)
	return req
}

func (s *steps) triggerScrape(ctx context.Context, st State) (Update, error) {
	handle, err := s.deps.Scraper.Trigger(ctx, ScrapeRequest(st.Tracker))
	if err != nil {
		return Update{Errors: []string{"trigger_scrape: " + err.Error()}}, nil
	}
	if err := s.deps.Trackers.SetTrackerScrapeRun(ctx, st.Tracker.ID, handle); err != nil {
		metrics.WarnWithContext(ctx, "Failed to record scrape run on tracker", map[string]interface{}{
			"scrape_run_id": handle,
			"error":         err.Error(),
		})
	}
	metrics.InfoWithContext(ctx, "Scrape triggered", map[string]interface{}{
		"tracker_id":    st.Tracker.ID.String(),
		"scrape_run_id": handle,
	})
	return Update{ScrapeRunID: &handle, PollAttempts: ptr(0)}, nil
}

/*
 * pollStatus checks the scrape once. Every poll after the first waits
 * PollDelay first. Reaching PollAttempts while still running is an error.
 */
func (s *steps) pollStatus(ctx context.Context, st State) (Update, error) {
	if st.ScrapeRunID == "" {
		return Update{Errors: []string{"poll_status: no scrape run to poll"}}, nil
	}
	if st.PollAttempts > 0 {
		/* an interrupted wait ends polling like any other poll failure */
		if err := s.deps.Sleep(ctx, s.deps.PollDelay); err != nil {
			return Update{Errors: []string{fmt.Sprintf("poll_status: wait interrupted after %d attempts: %v", st.PollAttempts, err)}}, nil
		}
	}

	attempts := st.PollAttempts + 1
	status, err := s.deps.Scraper.Status(ctx, st.ScrapeRunID)
	if err != nil {
		return Update{PollAttempts: &attempts, Errors: []string{"poll_status: " + err.Error()}}, nil
	}

	state := string(status.State)
	u := Update{PollAttempts: &attempts, ScrapeState: &state}
	metrics.DebugWithContext(ctx, "Scrape status", map[string]interface{}{
		"attempt": attempts,
		"status":  status.RawStatus,
	})

	switch status.State {
	case scraper.StateSucceeded:
		u.DatasetID = &status.DatasetID
	case scraper.StateFailed:
		u.Errors = []string{fmt.Sprintf("poll_status: scrape run %s ended %s", st.ScrapeRunID, status.RawStatus)}
	default:
		if attempts >= s.deps.PollAttempts {
			u.Errors = []string{fmt.Sprintf("poll_status: scrape run %s still running after %d attempts", st.ScrapeRunID, attempts)}
		}
	}
	return u, nil
}

func (s *steps) fetchResults(ctx context.Context, st State) (Update, error) {
	if st.DatasetID == "" {
		return Update{Errors: []string{"fetch_results: no dataset id"}}, nil
	}
	items, err := s.deps.Scraper.FetchResults(ctx, st.DatasetID, st.Tracker.MinLongevityDays)
	if err != nil {
		return Update{Errors: []string{"fetch_results: " + err.Error()}}, nil
	}
	if items == nil {
		items = []model.ScrapedAd{}
	}
	metrics.InfoWithContext(ctx, "Scraped ads fetched", map[string]interface{}{
		"count":              len(items),
		"min_longevity_days": st.Tracker.MinLongevityDays,
	})
	return Update{Items: &items}, nil
}

/* EmptyReport is the low-confidence report produced when no ad met the longevity threshold */
func EmptyReport(competitor string) model.SpyReport {
	return model.SpyReport{
		TopAds:         []model.TopAd{},
		DominantFormat: "UNKNOWN",
		KeyInsights: fmt.Sprintf("No ads meeting the longevity threshold were found for %s. "+
			"This could mean they are frequently refreshing creatives (a sign of testing) "+
			"or the scraper did not find matching ads.", competitor),
		RecommendedTests: []string{},
		Confidence:       0.3,
	}
}

func (s *steps) analyze(ctx context.Context, st State) (Update, error) {
	if len(st.Items) == 0 {
		report := EmptyReport(st.Tracker.CompetitorName)
		return Update{Report: &report}, nil
	}
	report, err := s.deps.Inference.AnalyzeAds(ctx, st.Items, st.Tracker.CompetitorName)
	if err != nil {
		return Update{Errors: []string{"analyze: " + err.Error()}}, nil
	}
	return Update{Report: &report}, nil
}

/*
 * persistReport stores the snapshot on the tracker, then writes the
 * executed audit record. Persistence failures fail the run.
 */
func (s *steps) persistReport(ctx context.Context, st State) (Update, error) {
	if st.Report == nil {
		return Update{}, fmt.Errorf("no report to persist: tracker_id='%s'", st.Tracker.ID)
	}

	now := s.deps.Now()
	snapshot := NewSnapshot(*st.Report, now)
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return Update{}, fmt.Errorf("failed to encode report: %w", err)
	}
	if err := s.deps.Trackers.SaveTrackerReport(ctx, st.Tracker.ID, doc, now, now.Add(st.Tracker.RunInterval())); err != nil {
		return Update{}, err
	}

	target := st.ScrapeRunID
	if target == "" {
		target = "unknown"
	}
	trackerID := st.Tracker.ID
	confidence := st.Report.Confidence
	id, err := s.deps.Approvals.Create(ctx, approval.Draft{
		AgencyID:      st.AgencyID,
		AgentType:     approval.AgentSpy,
		ActionType:    string(model.ActionSpyReportReady),
		TrackerID:     &trackerID,
		RunID:         st.RunID,
		TargetType:    "report",
		TargetID:      target,
		TargetName:    st.Tracker.Name + " report",
		ProposedValue: snapshot.Map(),
		Reasoning:     st.Report.KeyInsights,
		Confidence:    &confidence,
		Completed:     true,
		Result:        map[string]interface{}{"top_ads_count": snapshot.TopAdsCount},
	})
	if err != nil {
		return Update{}, err
	}

	metrics.InfoWithContext(ctx, "Spy report persisted", map[string]interface{}{
		"tracker_id":    st.Tracker.ID.String(),
		"top_ads_count": snapshot.TopAdsCount,
		"record_id":     id.String(),
	})
	return Update{RecordID: &id}, nil
}

/* deliverReport is best effort; nothing it does can fail the run */
func (s *steps) deliverReport(ctx context.Context, st State) (Update, error) {
	if st.Report == nil || s.deps.Notifier == nil || s.deps.Webhooks == nil {
		return Update{}, nil
	}
	target, err := s.deps.Webhooks.SlackWebhook(ctx, st.AgencyID)
	if err != nil {
		metrics.WarnWithContext(ctx, "Slack webhook lookup failed, report not delivered", map[string]interface{}{"error": err.Error()})
		return Update{}, nil
	}
	if target == "" {
		metrics.DebugWithContext(ctx, "No Slack webhook configured, skipping delivery", nil)
		return Update{}, nil
	}

	narrative, err := s.deps.Inference.Summarize(ctx, *st.Report, st.Tracker.CompetitorName)
	if err != nil {
		metrics.WarnWithContext(ctx, "Report narrative failed, falling back to key insights", map[string]interface{}{"error": err.Error()})
		narrative = st.Report.KeyInsights
	}

	msg := notifications.SpyReportMessage(notifications.ReportSummary{
		TrackerName:        st.Tracker.Name,
		CompetitorName:     st.Tracker.CompetitorName,
		TopAdsCount:        len(st.Report.TopAds),
		LongestRunningDays: st.Report.LongestRunning(),
		TopFormat:          st.Report.DominantFormat,
		Insights:           narrative,
		ReportURL:          s.reportURL(st.Tracker.ID),
	})
	if err := s.deps.Notifier.Send(ctx, target, msg); err != nil {
		metrics.WarnWithContext(ctx, "Slack delivery failed", map[string]interface{}{"error": err.Error()})
		return Update{}, nil
	}
	return Update{Delivered: ptr(true)}, nil
}

func (s *steps) reportURL(trackerID uuid.UUID) string {
	if s.deps.DashboardBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.deps.DashboardBaseURL, "/") + "/spy/" + trackerID.String()
}

/* handleError stamps the failure on the tracker so the next cycle can run */
func (s *steps) handleError(ctx context.Context, st State) (Update, error) {
	message := strings.Join(st.Errors, " | ")
	metrics.WarnWithContext(ctx, "Spy run ended with errors", map[string]interface{}{
		"tracker_id": st.Tracker.ID.String(),
		"errors":     message,
	})
	now := s.deps.Now()
	if err := s.deps.Trackers.RecordTrackerFailure(ctx, st.Tracker.ID, message, now, now.Add(st.Tracker.RunInterval())); err != nil {
		return Update{}, err
	}
	return Update{}, nil
}
