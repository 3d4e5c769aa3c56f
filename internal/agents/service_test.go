package agents

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/adplatform"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/clients/scraper"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/optimizer"
	"github.com/rakshittt/grow/internal/spy"
	"github.com/rakshittt/grow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	agencies map[uuid.UUID]*db.Agency
	accounts map[uuid.UUID]*db.AdAccount
	rules    map[uuid.UUID]*db.Rule
	trackers map[uuid.UUID]*db.Tracker
	claimErr map[uuid.UUID]error
}

func newMemStore() *memStore {
	return &memStore{
		agencies: map[uuid.UUID]*db.Agency{},
		accounts: map[uuid.UUID]*db.AdAccount{},
		rules:    map[uuid.UUID]*db.Rule{},
		trackers: map[uuid.UUID]*db.Tracker{},
		claimErr: map[uuid.UUID]error{},
	}
}

func notFound() error { return db.ErrNotFound }

func (m *memStore) GetAgency(ctx context.Context, id uuid.UUID) (*db.Agency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agencies[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, notFound()
}

func (m *memStore) GetAdAccountForAgency(ctx context.Context, agencyID, id uuid.UUID) (*db.AdAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok && a.AgencyID == agencyID {
		c := *a
		return &c, nil
	}
	return nil, notFound()
}

func (m *memStore) GetRule(ctx context.Context, agencyID, id uuid.UUID) (*db.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok && r.AgencyID == agencyID {
		c := *r
		return &c, nil
	}
	return nil, notFound()
}

func (m *memStore) ListDueRules(ctx context.Context, now time.Time, limit int) ([]db.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Rule
	for _, r := range m.rules {
		if r.Status == db.StatusActive && (r.NextRunAt == nil || !r.NextRunAt.After(now)) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *memStore) ClaimRuleRun(ctx context.Context, id uuid.UUID, observed *time.Time, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.claimErr[id]; err != nil {
		return false, err
	}
	r, ok := m.rules[id]
	if !ok || r.Status != db.StatusActive || !sameTime(r.NextRunAt, observed) {
		return false, nil
	}
	r.NextRunAt = &until
	return true, nil
}

func (m *memStore) IncrementRuleActions(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[id].TotalActionsTaken++
	return nil
}

func (m *memStore) FinalizeRuleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rules[id]
	r.LastRunAt = &lastRun
	r.NextRunAt = &nextRun
	return nil
}

func (m *memStore) GetTracker(ctx context.Context, agencyID, id uuid.UUID) (*db.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackers[id]; ok && t.AgencyID == agencyID {
		c := *t
		return &c, nil
	}
	return nil, notFound()
}

func (m *memStore) ListDueTrackers(ctx context.Context, now time.Time, limit int) ([]db.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Tracker
	for _, t := range m.trackers {
		if t.Status == db.StatusActive && (t.NextRunAt == nil || !t.NextRunAt.After(now)) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) ClaimTrackerRun(ctx context.Context, id uuid.UUID, observed *time.Time, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[id]
	if !ok || t.Status != db.StatusActive || !sameTime(t.NextRunAt, observed) {
		return false, nil
	}
	t.NextRunAt = &until
	return true, nil
}

func (m *memStore) SetTrackerScrapeRun(ctx context.Context, id uuid.UUID, scrapeRunID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[id].ScrapeRunID = &scrapeRunID
	return nil
}

func (m *memStore) SaveTrackerReport(ctx context.Context, id uuid.UUID, report db.JSONRaw, ranAt, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[id]
	t.LastReport = report
	t.LastRunAt = &ranAt
	t.NextRunAt = &nextRun
	t.TotalRuns++
	t.ScrapeRunID = nil
	return nil
}

func (m *memStore) RecordTrackerFailure(ctx context.Context, id uuid.UUID, message string, ranAt, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.trackers[id]
	t.LastError = &message
	t.LastRunAt = &ranAt
	t.NextRunAt = &nextRun
	t.ScrapeRunID = nil
	return nil
}

type proposer struct {
	actions []model.ProposedAction
}

func (p *proposer) Propose(ctx context.Context, in inference.Input) ([]model.ProposedAction, error) {
	return p.actions, nil
}

func (p *proposer) AnalyzeAds(ctx context.Context, ads []model.ScrapedAd, competitor string) (model.SpyReport, error) {
	return model.SpyReport{DominantFormat: "IMAGE", Confidence: 0.6}, nil
}

func (p *proposer) Summarize(ctx context.Context, report model.SpyReport, competitor string) (string, error) {
	return "summary", nil
}

type fixture struct {
	store     *memStore
	approvals *approval.MemoryStore
	platform  *adplatform.FakeClient
	scraper   *scraper.FakeClient
	inference *proposer
	svc       *Service
	agency    uuid.UUID
	rule      *db.Rule
	clock     time.Time
}

func newFixture(t *testing.T, actions ...model.ProposedAction) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		platform:  &adplatform.FakeClient{Campaigns: []model.Campaign{{ID: "c1", Status: model.StatusActive}}},
		scraper:   &scraper.FakeClient{Handle: "run-1", Statuses: []scraper.RunStatus{{State: scraper.StateSucceeded, DatasetID: "ds"}}},
		inference: &proposer{actions: actions},
		agency:    uuid.New(),
		clock:     testNow,
	}
	f.approvals = approval.NewMemoryStore(approval.DefaultTTL, f.now)

	account := &db.AdAccount{ID: uuid.New(), AgencyID: f.agency, PlatformAccountID: "act_1", AccessToken: "tok", Status: db.StatusActive}
	f.store.accounts[account.ID] = account
	f.store.agencies[f.agency] = &db.Agency{ID: f.agency, Name: "Agency"}
	f.rule = &db.Rule{
		ID:                   uuid.New(),
		AgencyID:             f.agency,
		AdAccountID:          &account.ID,
		Name:                 "rule",
		CheckIntervalMinutes: 60,
		RequireApproval:      true,
		Status:               db.StatusActive,
	}
	f.store.rules[f.rule.ID] = f.rule

	svc, err := NewService(Config{
		Store:       f.store,
		Approvals:   f.approvals,
		Checkpoints: workflow.NewMemoryCheckpointStore(),
		Optimizer:   optimizer.Deps{Platform: f.platform, Inference: f.inference},
		Spy: spy.Deps{
			Scraper:   f.scraper,
			Inference: f.inference,
			Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
		},
		Now: f.now,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) now() time.Time { return f.clock }

func budget(target string, current, proposed float64) model.ProposedAction {
	return model.ProposedAction{
		Kind:          model.ActionIncreaseBudget,
		TargetType:    "campaign",
		TargetID:      target,
		CurrentValue:  map[string]interface{}{model.KeyDailyBudgetUSD: current},
		ProposedValue: map[string]interface{}{model.KeyDailyBudgetUSD: proposed},
		Confidence:    0.9,
	}
}

func TestStartRunSuspendsOnFirstAction(t *testing.T) {
	f := newFixture(t, budget("c1", 100, 120))

	runID, sum, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, f.rule.ID)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^optimizer_`+f.rule.ID.String()+`_2026-03-02_[0-9a-f]{8}$`), runID)
	assert.Equal(t, RunAwaitingApproval, sum.Status)
	assert.Equal(t, 1, sum.Proposed)
	require.NotNil(t, sum.PendingRecordID)
	assert.Equal(t, testNow.Add(time.Hour), *f.store.rules[f.rule.ID].NextRunAt)
}

func TestResolveApproveExecutes(t *testing.T) {
	f := newFixture(t, budget("c1", 100, 120))
	_, sum, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, f.rule.ID)
	require.NoError(t, err)

	res, err := f.svc.ResolveApproval(context.Background(), f.agency, *sum.PendingRecordID, approval.DecisionApprove, "user-1", "")
	require.NoError(t, err)

	assert.Equal(t, MessageApproved, res.Message)
	assert.Equal(t, approval.StatusExecuted, res.Status)
	assert.Len(t, f.platform.Writes(), 1)
	assert.Equal(t, 1, f.store.rules[f.rule.ID].TotalActionsTaken)

	info, err := f.svc.Run(context.Background(), f.agency, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatusCompleted), info.Status)
}

func TestResolveDenySkips(t *testing.T) {
	f := newFixture(t, budget("c1", 100, 120))
	_, sum, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, f.rule.ID)
	require.NoError(t, err)

	res, err := f.svc.ResolveApproval(context.Background(), f.agency, *sum.PendingRecordID, approval.DecisionDeny, "user-1", "too aggressive")
	require.NoError(t, err)

	assert.Equal(t, MessageDenied, res.Message)
	assert.Equal(t, approval.StatusDenied, res.Status)
	assert.Empty(t, f.platform.Writes())

	_, err = f.svc.ResolveApproval(context.Background(), f.agency, *sum.PendingRecordID, approval.DecisionApprove, "user-2", "")
	assert.ErrorIs(t, err, approval.ErrAlreadyResolved)
}

func TestResolveOtherTenantNotFound(t *testing.T) {
	f := newFixture(t, budget("c1", 100, 120))
	_, sum, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, f.rule.ID)
	require.NoError(t, err)

	_, err = f.svc.ResolveApproval(context.Background(), uuid.New(), *sum.PendingRecordID, approval.DecisionApprove, "u", "")
	assert.ErrorIs(t, err, approval.ErrNotFound)

	_, err = f.svc.Run(context.Background(), uuid.New(), sum.RunID)
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)
}

func TestExpiredRecordContinuesQueue(t *testing.T) {
	f := newFixture(t, budget("c1", 100, 120), budget("c2", 100, 130))
	_, sum, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, f.rule.ID)
	require.NoError(t, err)
	first := *sum.PendingRecordID

	f.clock = testNow.Add(25 * time.Hour)
	_, err = f.svc.ResolveApproval(context.Background(), f.agency, first, approval.DecisionApprove, "u", "")
	require.ErrorIs(t, err, approval.ErrExpired)
	assert.Empty(t, f.platform.Writes())

	info, err := f.svc.Run(context.Background(), f.agency, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatusSuspended), info.Status)

	pending := approval.StatusPending
	recs, err := f.approvals.List(context.Background(), approval.Filter{AgencyID: f.agency, Status: &pending})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEqual(t, first, recs[0].ID)
}

func TestResolveFallsBackWhenRunIsGone(t *testing.T) {
	f := newFixture(t)
	action := budget("c9", 100, 150)
	id, err := f.approvals.Create(context.Background(), approval.Draft{
		AgencyID:      f.agency,
		AgentType:     approval.AgentOptimizer,
		ActionType:    string(action.Kind),
		RuleID:        &f.rule.ID,
		RunID:         "optimizer_missing",
		TargetType:    action.TargetType,
		TargetID:      action.TargetID,
		CurrentValue:  action.CurrentValue,
		ProposedValue: action.ProposedValue,
	})
	require.NoError(t, err)

	res, err := f.svc.ResolveApproval(context.Background(), f.agency, id, approval.DecisionApprove, "u", "")
	require.NoError(t, err)

	assert.Equal(t, approval.StatusExecuted, res.Status)
	require.Len(t, f.platform.Writes(), 1)
	assert.Equal(t, int64(15000), f.platform.Writes()[0].Cents)
}

func TestRunDueClaimsEachRuleOnce(t *testing.T) {
	f := newFixture(t)
	failing := &db.Rule{ID: uuid.New(), AgencyID: f.agency, Status: db.StatusActive}
	f.store.rules[failing.ID] = failing
	f.store.claimErr[failing.ID] = errors.New("connection reset")

	res, err := f.svc.RunDue(context.Background(), KindOptimizer, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 1, res.Started)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "connection reset")

	again, err := f.svc.RunDue(context.Background(), KindOptimizer, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Started)
}

func TestStartSpyRun(t *testing.T) {
	f := newFixture(t)
	tracker := &db.Tracker{ID: uuid.New(), AgencyID: f.agency, Name: "t", CompetitorName: "Acme", Status: db.StatusActive, RunIntervalHours: 24}
	f.store.trackers[tracker.ID] = tracker

	runID, sum, err := f.svc.StartRun(context.Background(), KindSpy, f.agency, tracker.ID)
	require.NoError(t, err)

	assert.Regexp(t, `^spy_`+tracker.ID.String()+`_[0-9a-f-]{36}$`, runID)
	assert.Equal(t, RunCompleted, sum.Status)
	assert.Equal(t, 1, f.store.trackers[tracker.ID].TotalRuns)
	assert.Equal(t, testNow.Add(24*time.Hour), *f.store.trackers[tracker.ID].NextRunAt)
}

func TestStartRunUnknownSubject(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = ParseKind("audit")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAccountSourceRejectsInactiveAccount(t *testing.T) {
	f := newFixture(t)
	for _, a := range f.store.accounts {
		a.Status = "disconnected"
	}
	_, err := NewAccountSource(f.store).AdAccount(context.Background(), f.agency, *f.rule.AdAccountID)
	assert.ErrorContains(t, err, "not active")
}

func TestResolveOutlivesCancelledRequest(t *testing.T) {
	f := newFixture(t, budget("c1", 100, 120), budget("c2", 100, 130))
	_, sum, err := f.svc.StartRun(context.Background(), KindOptimizer, f.agency, f.rule.ID)
	require.NoError(t, err)
	first := *sum.PendingRecordID

	/* the client disconnects as soon as the decision is stored */
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.svc.ResolveApproval(ctx, f.agency, first, approval.DecisionApprove, "u", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExecuted, res.Status)
	assert.Len(t, f.platform.Writes(), 1)

	info, err := f.svc.Run(context.Background(), f.agency, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatusSuspended), info.Status)

	pending := approval.StatusPending
	recs, err := f.approvals.List(context.Background(), approval.Filter{AgencyID: f.agency, Status: &pending})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEqual(t, first, recs[0].ID)

	_, err = f.svc.ResolveApproval(context.Background(), f.agency, recs[0].ID, approval.DecisionApprove, "u", "")
	require.NoError(t, err)
	info, err = f.svc.Run(context.Background(), f.agency, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.StatusCompleted), info.Status)
	assert.NotNil(t, f.store.rules[f.rule.ID].LastRunAt)
}

func TestRunDueOutlivesTick(t *testing.T) {
	f := newFixture(t)
	f.scraper.Statuses = nil
	svc, err := NewService(Config{
		Store:       f.store,
		Approvals:   f.approvals,
		Checkpoints: workflow.NewMemoryCheckpointStore(),
		Optimizer:   optimizer.Deps{Platform: f.platform, Inference: f.inference},
		Spy: spy.Deps{
			Scraper:      f.scraper,
			Inference:    f.inference,
			Sleep:        spy.ContextSleep,
			PollAttempts: 3,
			PollDelay:    5 * time.Millisecond,
		},
		Now: f.now,
	})
	require.NoError(t, err)
	tracker := &db.Tracker{ID: uuid.New(), AgencyID: f.agency, Name: "t", CompetitorName: "Acme", Status: db.StatusActive, RunIntervalHours: 24}
	f.store.trackers[tracker.ID] = tracker

	/* the tick's deadline has already passed when the run starts polling */
	tick, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := svc.RunDue(tick, KindSpy, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Started)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, f.scraper.Polls)
	saved := f.store.trackers[tracker.ID]
	require.NotNil(t, saved.LastError)
	assert.Contains(t, *saved.LastError, "still running after 3 attempts")
	assert.NotNil(t, saved.LastRunAt)
}

func TestDefaultRunTimeoutCoversPollBudget(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DefaultRunTimeout, f.svc.runTimeout)

	svc, err := NewService(Config{
		Store:       f.store,
		Approvals:   f.approvals,
		Checkpoints: workflow.NewMemoryCheckpointStore(),
		Spy:         spy.Deps{PollAttempts: 40, PollDelay: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, svc.runTimeout)
}
