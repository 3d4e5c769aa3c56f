package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/adplatform"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeInference struct {
	actions []model.ProposedAction
	err     error
	calls   int
}

func (f *fakeInference) Propose(ctx context.Context, in inference.Input) ([]model.ProposedAction, error) {
	f.calls++
	return f.actions, f.err
}

func (f *fakeInference) AnalyzeAds(ctx context.Context, ads []model.ScrapedAd, competitor string) (model.SpyReport, error) {
	return model.SpyReport{}, errors.New("not used")
}

func (f *fakeInference) Summarize(ctx context.Context, report model.SpyReport, competitor string) (string, error) {
	return "", errors.New("not used")
}

type finalized struct {
	last, next time.Time
}

type fakeRules struct {
	mu        sync.Mutex
	actions   map[uuid.UUID]int
	finalized map[uuid.UUID]finalized
	err       error
}

func newFakeRules() *fakeRules {
	return &fakeRules{actions: map[uuid.UUID]int{}, finalized: map[uuid.UUID]finalized{}}
}

func (f *fakeRules) IncrementRuleActions(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[id]++
	return nil
}

func (f *fakeRules) FinalizeRuleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized[id] = finalized{last: lastRun, next: nextRun}
	return nil
}

type fakeAccounts struct {
	err error
}

func (f fakeAccounts) AdAccount(ctx context.Context, agencyID, accountID uuid.UUID) (model.AdAccount, error) {
	if f.err != nil {
		return model.AdAccount{}, f.err
	}
	return model.AdAccount{ID: accountID.String(), PlatformAccountID: "act_1", AccessToken: "token"}, nil
}

type harness struct {
	platform  *adplatform.FakeClient
	inference *fakeInference
	approvals *approval.MemoryStore
	rules     *fakeRules
	engine    *Engine
	rule      db.Rule
}

func newHarness(t *testing.T, actions ...model.ProposedAction) *harness {
	t.Helper()
	accountID := uuid.New()
	h := &harness{
		platform: &adplatform.FakeClient{
			Campaigns: []model.Campaign{
				{ID: "c1", Name: "Prospecting", Status: model.StatusActive, DailyBudgetCents: 100000},
				{ID: "c2", Name: "Retargeting", Status: model.StatusActive, DailyBudgetCents: 50000},
			},
			Ads: map[string][]model.Ad{
				"c1": {{ID: "a1", CampaignID: "c1", Status: model.StatusActive}},
			},
		},
		inference: &fakeInference{actions: actions},
		approvals: approval.NewMemoryStore(approval.DefaultTTL, func() time.Time { return testNow }),
		rules:     newFakeRules(),
		rule: db.Rule{
			ID:                   uuid.New(),
			AgencyID:             uuid.New(),
			AdAccountID:          &accountID,
			Name:                 "ROAS guard",
			CheckIntervalMinutes: 60,
			RequireApproval:      true,
			Status:               "active",
		},
	}
	engine, err := NewEngine(h.deps(), workflow.NewMemoryCheckpointStore(), nil)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Platform:  h.platform,
		Inference: h.inference,
		Approvals: h.approvals,
		Rules:     h.rules,
		Accounts:  fakeAccounts{},
		Now:       func() time.Time { return testNow },
	}
}

func (h *harness) start(t *testing.T) *workflow.Result[State] {
	t.Helper()
	runID := "run-" + uuid.NewString()
	res, err := h.engine.Start(context.Background(), runID,
		workflow.RunMeta{AgencyID: h.rule.AgencyID, SubjectID: h.rule.ID},
		State{RunID: runID, AgencyID: h.rule.AgencyID, Rule: h.rule})
	require.NoError(t, err)
	return res
}

/* resolve mirrors what the approval path does before resuming */
func (h *harness) resolve(t *testing.T, res *workflow.Result[State], decision approval.Decision) *workflow.Result[State] {
	t.Helper()
	require.NotNil(t, res.State.CurrentRecordID)
	_, err := h.approvals.Resolve(context.Background(), h.rule.AgencyID, *res.State.CurrentRecordID, decision, "user-1", "", testNow)
	require.NoError(t, err)
	next, err := h.engine.Resume(context.Background(), res.RunID, Resume(decision == approval.DecisionApprove, string(decision)))
	require.NoError(t, err)
	return next
}

func budgetAction(target string, current, proposed float64) model.ProposedAction {
	return model.ProposedAction{
		Kind:          model.ActionIncreaseBudget,
		TargetType:    "campaign",
		TargetID:      target,
		TargetName:    "Campaign " + target,
		CurrentValue:  map[string]interface{}{model.KeyDailyBudgetUSD: current, model.KeySpend7d: 4000.0},
		ProposedValue: map[string]interface{}{model.KeyDailyBudgetUSD: proposed},
		Reasoning:     "ROAS above target",
		Confidence:    0.8,
	}
}

func TestGuardrailBlockedActionCreatesNoRecords(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 2000, 3000))
	h.rule.MaxDailyBudgetUSD = decimal.NewNullDecimal(decimal.NewFromInt(2500))

	res := h.start(t)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Len(t, res.State.Proposed, 1)
	assert.Empty(t, res.State.Safe)
	assert.Empty(t, h.approvals.All())
	assert.Empty(t, h.platform.Writes())
	assert.Equal(t, 0, res.State.ExecutedCount())
	assert.Contains(t, res.State.Summary, "0 executed")
}

func TestApprovedActionExecutes(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 1000, 1200))

	res := h.start(t)
	require.Equal(t, workflow.StatusSuspended, res.Status)
	assert.Equal(t, StepAwaitApproval, res.NextStep)
	recs := h.approvals.All()
	require.Len(t, recs, 1)
	assert.Equal(t, approval.StatusPending, recs[0].Status)
	assert.Empty(t, h.platform.Writes())

	res = h.resolve(t, res, approval.DecisionApprove)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	writes := h.platform.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, adplatform.Write{Kind: "budget", TargetID: "c1", Cents: 120000}, writes[0])

	rec, err := h.approvals.Get(context.Background(), h.rule.AgencyID, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExecuted, rec.Status)
	assert.Equal(t, 1, h.rules.actions[h.rule.ID])
	assert.Equal(t, finalized{last: testNow, next: testNow.Add(time.Hour)}, h.rules.finalized[h.rule.ID])
	assert.Equal(t, 1, res.State.ExecutedCount())
}

func TestDeniedActionSkipsAndAdvances(t *testing.T) {
	pause := model.ProposedAction{
		Kind:         model.ActionPause,
		TargetType:   "ad",
		TargetID:     "a1",
		CurrentValue: map[string]interface{}{model.KeySpend7d: 900.0},
		Confidence:   0.7,
	}
	h := newHarness(t, budgetAction("c1", 1000, 1100), pause)

	res := h.start(t)
	require.Equal(t, workflow.StatusSuspended, res.Status)
	first := *res.State.CurrentRecordID

	res = h.resolve(t, res, approval.DecisionDeny)
	require.Equal(t, workflow.StatusSuspended, res.Status, "run should park on the second action")
	assert.Equal(t, 1, res.State.Index)
	assert.NotEqual(t, first, *res.State.CurrentRecordID)
	assert.Empty(t, h.platform.Writes())

	rec, err := h.approvals.Get(context.Background(), h.rule.AgencyID, first)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusDenied, rec.Status)

	res = h.resolve(t, res, approval.DecisionDeny)
	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Len(t, res.State.Skipped, 2)
	assert.Empty(t, h.platform.Writes())
	assert.Equal(t, 0, h.rules.actions[h.rule.ID])
}

func TestAutoApproveBelowThreshold(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 1000, 1040))
	h.rule.AutoApproveBelowUSD = decimal.NewFromInt(50)

	res := h.start(t)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	recs := h.approvals.All()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].RequiresApproval)
	assert.Equal(t, approval.StatusExecuted, recs[0].Status)
	assert.Len(t, h.platform.Writes(), 1)
}

func TestAutoApproveRules(t *testing.T) {
	rule := db.Rule{RequireApproval: true, AutoApproveBelowUSD: decimal.NewFromInt(50)}

	assert.True(t, AutoApprove(rule, budgetAction("c1", 1000, 1049)))
	assert.False(t, AutoApprove(rule, budgetAction("c1", 1000, 1050)))
	assert.False(t, AutoApprove(rule, model.ProposedAction{Kind: model.ActionPause}))

	noCurrent := budgetAction("c1", 0, 1010)
	delete(noCurrent.CurrentValue, model.KeyDailyBudgetUSD)
	assert.False(t, AutoApprove(rule, noCurrent))

	assert.True(t, AutoApprove(db.Rule{}, model.ProposedAction{Kind: model.ActionPause}))
	assert.False(t, AutoApprove(db.Rule{RequireApproval: true}, budgetAction("c1", 1000, 1001)))
}

func TestErrorThresholdStopsProcessing(t *testing.T) {
	actions := make([]model.ProposedAction, 6)
	for i := range actions {
		actions[i] = budgetAction(fmt.Sprintf("c%d", i), 100, 110)
	}
	h := newHarness(t, actions...)
	h.platform.WriteErr = errors.New("platform unavailable")
	h.rule.RequireApproval = false

	res := h.start(t)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Len(t, h.platform.Writes(), MaxErrors+1)
	assert.Len(t, res.State.Errors, MaxErrors+1)
	assert.Contains(t, res.State.Summary, "Stopped early")
	for _, rec := range h.approvals.All() {
		assert.Equal(t, approval.StatusFailed, rec.Status)
	}
}

func TestResumeTwiceWritesOnce(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 1000, 1200))
	res := h.start(t)
	h.resolve(t, res, approval.DecisionApprove)

	_, err := h.engine.Resume(context.Background(), res.RunID, Resume(true, "approve"))
	assert.ErrorIs(t, err, workflow.ErrRunNotSuspended)
	assert.Len(t, h.platform.Writes(), 1)
}

func TestExecuteAfterLostClaimMakesNoWrite(t *testing.T) {
	h := newHarness(t)
	action := budgetAction("c1", 1000, 1200)
	id, err := h.approvals.Create(context.Background(), approval.Draft{AgencyID: h.rule.AgencyID, AutoApproved: true})
	require.NoError(t, err)

	account := model.AdAccount{ID: "acct"}
	first := ExecuteAction(context.Background(), h.deps(), id, action, h.rule, account)
	second := ExecuteAction(context.Background(), h.deps(), id, action, h.rule, account)

	assert.Equal(t, OutcomeExecuted, first.Status)
	assert.Equal(t, OutcomeNotClaimed, second.Status)
	assert.Len(t, h.platform.Writes(), 1)
}

func TestFetchFailureDegradesToEmptyRun(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 1000, 1200))
	h.platform.FetchErr = errors.New("graph api down")

	res := h.start(t)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, 0, h.inference.calls)
	assert.Contains(t, res.State.Summary, "No campaigns in scope")
	require.Len(t, res.State.Errors, 1)
	assert.Contains(t, res.State.Errors[0], "fetch_data")
	assert.Contains(t, h.rules.finalized, h.rule.ID)
}

func TestAdFetchErrorsAreCollected(t *testing.T) {
	h := newHarness(t)
	h.platform.AdsErr = map[string]error{"c2": errors.New("rate limited")}

	res := h.start(t)

	assert.Len(t, res.State.Campaigns, 2)
	assert.Len(t, res.State.Ads, 1)
	require.Len(t, res.State.Errors, 1)
	assert.Contains(t, res.State.Errors[0], "campaign c2")
}

func TestMalformedInferenceFailsRun(t *testing.T) {
	h := newHarness(t)
	h.inference.err = fmt.Errorf("%w: bad json", inference.ErrMalformedOutput)

	_, err := h.engine.Start(context.Background(), "run-bad",
		workflow.RunMeta{AgencyID: h.rule.AgencyID}, State{RunID: "run-bad", Rule: h.rule})

	var runErr *workflow.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StepProposeActions, runErr.Step)
	assert.ErrorIs(t, err, inference.ErrMalformedOutput)
}

func TestInferenceOutageDegrades(t *testing.T) {
	h := newHarness(t)
	h.inference.err = errors.New("upstream 503")

	res := h.start(t)

	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Empty(t, res.State.Proposed)
	assert.Contains(t, res.State.Errors[0], "propose_actions")
}

func TestMissingAccountFailsRecord(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 1000, 1200))
	res := h.start(t)
	require.Equal(t, workflow.StatusSuspended, res.Status)

	deps := h.deps()
	deps.Accounts = fakeAccounts{err: errors.New("account disconnected")}

	st := res.State
	st.Decision = &Decision{Approved: true}
	_, err := h.approvals.Resolve(context.Background(), h.rule.AgencyID, *st.CurrentRecordID, approval.DecisionApprove, "u", "", testNow)
	require.NoError(t, err)

	s := &steps{deps: deps}
	u, err := s.execute(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, u.Errors, 1)
	assert.Contains(t, u.Errors[0], "account disconnected")
	assert.Empty(t, h.platform.Writes())

	rec, err := h.approvals.Get(context.Background(), h.rule.AgencyID, *st.CurrentRecordID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusFailed, rec.Status)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(120000), Cents(decimal.NewFromInt(1200)))
	assert.Equal(t, int64(1235), Cents(decimal.RequireFromString("12.345")))
	assert.Equal(t, int64(1999), Cents(decimal.RequireFromString("19.99")))
}

func TestStateSurvivesCheckpointRoundTrip(t *testing.T) {
	h := newHarness(t, budgetAction("c1", 1000, 1200))
	h.rule.MaxDailyBudgetUSD = decimal.NewNullDecimal(decimal.NewFromInt(5000))

	res := h.start(t)
	_, st, err := h.engine.Inspect(context.Background(), res.RunID)
	require.NoError(t, err)

	assert.True(t, st.Awaiting())
	assert.True(t, st.Rule.MaxDailyBudgetUSD.Decimal.Equal(decimal.NewFromInt(5000)))
	v, ok := st.Safe[0].ProposedBudget()
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(1200)))
}
