package spy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/clients/scraper"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/notifications"
	"github.com/rakshittt/grow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeInference struct {
	analyzed [][]model.ScrapedAd
	err      error
	sumErr   error
}

func (f *fakeInference) Propose(ctx context.Context, in inference.Input) ([]model.ProposedAction, error) {
	return nil, errors.New("not used")
}

func (f *fakeInference) AnalyzeAds(ctx context.Context, ads []model.ScrapedAd, competitor string) (model.SpyReport, error) {
	f.analyzed = append(f.analyzed, ads)
	if f.err != nil {
		return model.SpyReport{}, f.err
	}
	top := make([]model.TopAd, 0, len(ads))
	for _, ad := range ads {
		top = append(top, model.TopAd{AdID: ad.AdID, ActiveDays: ad.ActiveDays, MediaType: ad.MediaType})
	}
	return model.SpyReport{TopAds: top, DominantFormat: "VIDEO", KeyInsights: "video hooks win", Confidence: 0.8}, nil
}

func (f *fakeInference) Summarize(ctx context.Context, report model.SpyReport, competitor string) (string, error) {
	return "narrative", f.sumErr
}

type saved struct {
	report  []byte
	ranAt   time.Time
	nextRun time.Time
}

type fakeTrackers struct {
	mu       sync.Mutex
	scrape   map[uuid.UUID]string
	reports  map[uuid.UUID]saved
	failures map[uuid.UUID]string
}

func newFakeTrackers() *fakeTrackers {
	return &fakeTrackers{scrape: map[uuid.UUID]string{}, reports: map[uuid.UUID]saved{}, failures: map[uuid.UUID]string{}}
}

func (f *fakeTrackers) SetTrackerScrapeRun(ctx context.Context, id uuid.UUID, scrapeRunID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrape[id] = scrapeRunID
	return nil
}

func (f *fakeTrackers) SaveTrackerReport(ctx context.Context, id uuid.UUID, report db.JSONRaw, ranAt, nextRun time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[id] = saved{report: report, ranAt: ranAt, nextRun: nextRun}
	return nil
}

func (f *fakeTrackers) RecordTrackerFailure(ctx context.Context, id uuid.UUID, message string, ranAt, nextRun time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = message
	return nil
}

type staticWebhook string

func (w staticWebhook) SlackWebhook(ctx context.Context, agencyID uuid.UUID) (string, error) {
	return string(w), nil
}

type fakeNotifier struct {
	sent []notifications.Message
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, target string, message notifications.Message) error {
	n.sent = append(n.sent, message)
	return n.err
}

type harness struct {
	scraper   *scraper.FakeClient
	inference *fakeInference
	approvals *approval.MemoryStore
	trackers  *fakeTrackers
	notifier  *fakeNotifier
	sleeps    []time.Duration
	sleepErr  error
	tracker   db.Tracker
	webhook   staticWebhook
}

func newHarness() *harness {
	return &harness{
		scraper:   &scraper.FakeClient{Handle: "apify-run-1"},
		inference: &fakeInference{},
		approvals: approval.NewMemoryStore(approval.DefaultTTL, func() time.Time { return testNow }),
		trackers:  newFakeTrackers(),
		notifier:  &fakeNotifier{},
		webhook:   "https://hooks.slack.com/services/T/B/X",
		tracker: db.Tracker{
			ID:               uuid.New(),
			AgencyID:         uuid.New(),
			Name:             "Acme weekly",
			CompetitorName:   "Acme",
			CountryCode:      "US",
			SearchTerms:      []string{"acme shoes"},
			MinLongevityDays: 7,
			MaxResults:       50,
			RunIntervalHours: 24,
		},
	}
}

func (h *harness) run(t *testing.T) (*workflow.Result[State], error) {
	t.Helper()
	deps := Deps{
		Scraper:          h.scraper,
		Inference:        h.inference,
		Approvals:        h.approvals,
		Trackers:         h.trackers,
		Webhooks:         h.webhook,
		Notifier:         h.notifier,
		PollDelay:        15 * time.Second,
		DashboardBaseURL: "https://app.example.com/",
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return h.sleepErr
		},
		Now: func() time.Time { return testNow },
	}
	engine, err := NewEngine(deps, workflow.NewMemoryCheckpointStore(), nil)
	require.NoError(t, err)
	runID := "spy_" + uuid.NewString()
	return engine.Start(context.Background(), runID,
		workflow.RunMeta{AgencyID: h.tracker.AgencyID, SubjectID: h.tracker.ID},
		State{RunID: runID, AgencyID: h.tracker.AgencyID, Tracker: h.tracker})
}

func succeeded() scraper.RunStatus {
	return scraper.RunStatus{ID: "apify-run-1", State: scraper.StateSucceeded, RawStatus: "SUCCEEDED", DatasetID: "ds-1"}
}

func running() scraper.RunStatus {
	return scraper.RunStatus{ID: "apify-run-1", State: scraper.StateRunning, RawStatus: "RUNNING"}
}

func TestReportKeepsOnlyLongRunningAds(t *testing.T) {
	h := newHarness()
	h.scraper.Statuses = []scraper.RunStatus{running(), succeeded()}
	h.scraper.Items = []model.ScrapedAd{
		{AdID: "a", ActiveDays: 3},
		{AdID: "b", ActiveDays: 10},
		{AdID: "c", ActiveDays: 15},
	}

	res, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.Status)

	require.Len(t, h.inference.analyzed, 1)
	ids := []string{}
	for _, ad := range h.inference.analyzed[0] {
		ids = append(ids, ad.AdID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)

	stored := h.trackers.reports[h.tracker.ID]
	var snap Snapshot
	require.NoError(t, json.Unmarshal(stored.report, &snap))
	require.Len(t, snap.TopAds, 2)
	assert.Equal(t, 15, snap.TopAds[0].ActiveDays)
	assert.Equal(t, 10, snap.TopAds[1].ActiveDays)
	assert.Equal(t, testNow.Add(24*time.Hour), stored.nextRun)

	recs := h.approvals.All()
	require.Len(t, recs, 1)
	assert.Equal(t, approval.AgentSpy, recs[0].AgentType)
	assert.Equal(t, string(model.ActionSpyReportReady), recs[0].ActionType)
	assert.Equal(t, approval.StatusExecuted, recs[0].Status)
	assert.False(t, recs[0].RequiresApproval)

	assert.Equal(t, "apify-run-1", h.trackers.scrape[h.tracker.ID])
	assert.True(t, res.State.Delivered)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, []time.Duration{15 * time.Second}, h.sleeps)
}

func TestPollGivesUpAfterTwentyAttempts(t *testing.T) {
	h := newHarness()

	res, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, DefaultPollAttempts, h.scraper.Polls)
	assert.Len(t, h.sleeps, DefaultPollAttempts-1)
	assert.Contains(t, h.trackers.failures[h.tracker.ID], "still running after 20 attempts")
	assert.Empty(t, h.trackers.reports)
	assert.Empty(t, h.approvals.All())
}

func TestInterruptedPollWaitGoesToHandleError(t *testing.T) {
	h := newHarness()
	h.sleepErr = context.DeadlineExceeded

	res, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, 1, h.scraper.Polls)
	assert.Contains(t, h.trackers.failures[h.tracker.ID], "wait interrupted after 1 attempts")
	assert.Contains(t, h.trackers.failures[h.tracker.ID], context.DeadlineExceeded.Error())
	assert.Empty(t, h.trackers.reports)
}

func TestFailedScrapeHandled(t *testing.T) {
	h := newHarness()
	h.scraper.Statuses = []scraper.RunStatus{{State: scraper.StateFailed, RawStatus: "TIMED-OUT"}}

	_, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, h.scraper.Polls)
	assert.Contains(t, h.trackers.failures[h.tracker.ID], "TIMED-OUT")
}

func TestTriggerFailureGoesToHandleError(t *testing.T) {
	h := newHarness()
	h.scraper.TriggerErr = errors.New("apify 402")

	res, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, 0, h.scraper.Polls)
	assert.Equal(t, "trigger_scrape: apify 402", h.trackers.failures[h.tracker.ID])
}

func TestNoQualifyingAdsYieldsCannedReport(t *testing.T) {
	h := newHarness()
	h.scraper.Statuses = []scraper.RunStatus{succeeded()}
	h.scraper.Items = []model.ScrapedAd{{AdID: "a", ActiveDays: 2}}

	res, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, h.inference.analyzed)
	require.NotNil(t, res.State.Report)
	assert.Equal(t, "UNKNOWN", res.State.Report.DominantFormat)
	assert.Equal(t, 0.3, res.State.Report.Confidence)
	assert.Contains(t, res.State.Report.KeyInsights, "Acme")
	assert.Len(t, h.approvals.All(), 1)
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.scraper.Statuses = []scraper.RunStatus{succeeded()}
	h.scraper.Items = []model.ScrapedAd{{AdID: "a", ActiveDays: 20}}
	h.notifier.err = errors.New("slack 500")
	h.inference.sumErr = errors.New("model busy")

	res, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.False(t, res.State.Delivered)
	assert.Empty(t, res.State.Errors)
	require.Len(t, h.notifier.sent, 1)
	assert.Contains(t, h.notifier.sent[0].Blocks[2].Text.Text, "video hooks win")
	assert.Contains(t, h.trackers.reports, h.tracker.ID)
}

func TestDeliverySkippedWithoutWebhook(t *testing.T) {
	h := newHarness()
	h.webhook = ""
	h.scraper.Statuses = []scraper.RunStatus{succeeded()}

	res, err := h.run(t)
	require.NoError(t, err)

	assert.False(t, res.State.Delivered)
	assert.Empty(t, h.notifier.sent)
}

func TestAnalyzeFailureRecordsTrackerFailure(t *testing.T) {
	h := newHarness()
	h.scraper.Statuses = []scraper.RunStatus{succeeded()}
	h.scraper.Items = []model.ScrapedAd{{AdID: "a", ActiveDays: 20}}
	h.inference.err = errors.New("schema mismatch")

	_, err := h.run(t)
	require.NoError(t, err)

	assert.Contains(t, h.trackers.failures[h.tracker.ID], "analyze: schema mismatch")
	assert.Empty(t, h.trackers.reports)
}

func TestScrapeRequestTargets(t *testing.T) {
	page := "https://facebook.com/acme"
	withPage := ScrapeRequest(db.Tracker{CompetitorName: "Acme", CompetitorPageURL: &page, CountryCode: "GB", MaxResults: 10})
	assert.Equal(t, []string{page}, withPage.StartURLs)
	assert.Empty(t, withPage.SearchTerms)

	byName := ScrapeRequest(db.Tracker{CompetitorName: "Acme", SearchTerms: []string{"shoes"}})
	assert.Equal(t, []string{"Acme", "shoes"}, byName.SearchTerms)
	assert.Equal(t, "ALL", byName.AdType)
}

func TestContextSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, ContextSleep(context.Background(), time.Millisecond))
}
