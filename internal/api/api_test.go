package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu          sync.Mutex
	accounts    map[uuid.UUID]*db.AdAccount
	rules       map[uuid.UUID]*db.Rule
	trackers    map[uuid.UUID]*db.Tracker
	open        map[uuid.UUID]int
	panicOnList bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[uuid.UUID]*db.AdAccount{},
		rules:    map[uuid.UUID]*db.Rule{},
		trackers: map[uuid.UUID]*db.Tracker{},
		open:     map[uuid.UUID]int{},
	}
}

func (s *fakeStore) GetAdAccountForAgency(ctx context.Context, agencyID, id uuid.UUID) (*db.AdAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.AgencyID != agencyID {
		return nil, db.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) CreateRule(ctx context.Context, rule *db.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = uuid.New()
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *fakeStore) GetRule(ctx context.Context, agencyID, id uuid.UUID) (*db.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.AgencyID != agencyID {
		return nil, db.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListRules(ctx context.Context, agencyID uuid.UUID, status *string) ([]db.Rule, error) {
	if s.panicOnList {
		panic("list exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Rule
	for _, r := range s.rules {
		if r.AgencyID == agencyID && (status == nil || r.Status == *status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateRuleGuardrails(ctx context.Context, rule *db.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateRuleStatus(ctx context.Context, agencyID, id uuid.UUID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.AgencyID != agencyID || r.Status == db.StatusArchived {
		return false, nil
	}
	r.Status = status
	return true, nil
}

func (s *fakeStore) CountOpenApprovalsForRule(ctx context.Context, ruleID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[ruleID], nil
}

func (s *fakeStore) CreateTracker(ctx context.Context, tracker *db.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker.ID = uuid.New()
	cp := *tracker
	s.trackers[tracker.ID] = &cp
	return nil
}

func (s *fakeStore) GetTracker(ctx context.Context, agencyID, id uuid.UUID) (*db.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	if !ok || t.AgencyID != agencyID {
		return nil, db.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) ListTrackers(ctx context.Context, agencyID uuid.UUID, status *string) ([]db.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Tracker
	for _, t := range s.trackers {
		if t.AgencyID == agencyID && (status == nil || t.Status == *status) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateTracker(ctx context.Context, tracker *db.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tracker
	s.trackers[tracker.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateTrackerStatus(ctx context.Context, agencyID, id uuid.UUID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	if !ok || t.AgencyID != agencyID || t.Status == db.StatusArchived {
		return false, nil
	}
	t.Status = status
	return true, nil
}

func (s *fakeStore) CountOpenApprovalsForTracker(ctx context.Context, trackerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[trackerID], nil
}

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) StartRun(ctx context.Context, kind agents.Kind, tenantID, subjectID uuid.UUID) (string, *agents.RunSummary, error) {
	args := m.Called(ctx, kind, tenantID, subjectID)
	sum, _ := args.Get(1).(*agents.RunSummary)
	return args.String(0), sum, args.Error(2)
}

func (m *mockOrchestrator) ResolveApproval(ctx context.Context, tenantID, recordID uuid.UUID, decision approval.Decision, actorID, reason string) (*agents.Resolution, error) {
	args := m.Called(ctx, tenantID, recordID, decision, actorID, reason)
	res, _ := args.Get(0).(*agents.Resolution)
	return res, args.Error(1)
}

func (m *mockOrchestrator) Run(ctx context.Context, tenantID uuid.UUID, runID string) (*agents.RunInfo, error) {
	args := m.Called(ctx, tenantID, runID)
	info, _ := args.Get(0).(*agents.RunInfo)
	return info, args.Error(1)
}

func (m *mockOrchestrator) RunDue(ctx context.Context, kind agents.Kind, now time.Time) (agents.BatchResult, error) {
	args := m.Called(ctx, kind, now)
	return args.Get(0).(agents.BatchResult), args.Error(1)
}

const testCronSecret = "s3cret"

type apiHarness struct {
	t         *testing.T
	store     *fakeStore
	approvals *approval.MemoryStore
	svc       *mockOrchestrator
	healthErr error
	router    http.Handler
	tenant    uuid.UUID
	account   uuid.UUID
}

func newAPIHarness(t *testing.T) *apiHarness {
	h := &apiHarness{
		t:         t,
		store:     newFakeStore(),
		approvals: approval.NewMemoryStore(approval.DefaultTTL, func() time.Time { return testNow }),
		svc:       &mockOrchestrator{},
		tenant:    uuid.New(),
		account:   uuid.New(),
	}
	h.store.accounts[h.account] = &db.AdAccount{ID: h.account, AgencyID: h.tenant, Status: db.StatusActive}

	handlers := NewHandlers(h.store, h.approvals, h.svc, func(ctx context.Context) error { return h.healthErr })
	handlers.now = func() time.Time { return testNow }
	h.router = NewRouter(handlers, testCronSecret)
	t.Cleanup(func() { h.svc.AssertExpectations(t) })
	return h
}

func (h *apiHarness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	return h.doAs(h.tenant.String(), method, path, body)
}

func (h *apiHarness) doAs(tenant, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) addRule(status string) *db.Rule {
	rule := newRule(h.tenant)
	rule.AdAccountID = &h.account
	rule.Name = "scale winners"
	rule.Status = status
	require.NoError(h.t, h.store.CreateRule(context.Background(), rule))
	return rule
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCreateRuleAppliesDefaults(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do("POST", "/api/v1/rules", map[string]interface{}{
		"name":                 "Scale winners",
		"ad_account_id":        h.account,
		"max_daily_budget_usd": 500,
		"campaign_ids":         []string{"c1", "c2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got db.Rule
	decode(t, rec, &got)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, h.tenant, got.AgencyID)
	assert.Equal(t, 20, got.MaxBudgetIncreasePct)
	assert.Equal(t, 20, got.MaxBudgetDecreasePct)
	assert.Equal(t, "7d_click", got.AttributionWindow)
	assert.Equal(t, 60, got.CheckIntervalMinutes)
	assert.True(t, got.RequireApproval)
	assert.Equal(t, "50", got.MinSpendBeforeActionUSD.String())
	assert.Equal(t, "500", got.MaxDailyBudgetUSD.Decimal.String())
	assert.False(t, got.MinDailyBudgetUSD.Valid)
	assert.Equal(t, []string{"c1", "c2"}, []string(got.CampaignIDs))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateRuleRejectsBadInput(t *testing.T) {
	h := newAPIHarness(t)
	other := uuid.New()
	h.store.accounts[other] = &db.AdAccount{ID: other, AgencyID: uuid.New()}

	cases := []struct {
		name   string
		tenant string
		body   interface{}
	}{
		{"missing tenant", "", map[string]interface{}{"name": "x", "ad_account_id": h.account}},
		{"malformed tenant", "agency-1", map[string]interface{}{"name": "x", "ad_account_id": h.account}},
		{"missing name", h.tenant.String(), map[string]interface{}{"ad_account_id": h.account}},
		{"empty name", h.tenant.String(), map[string]interface{}{"name": "", "ad_account_id": h.account}},
		{"unknown field", h.tenant.String(), `{"name":"x","ad_account_id":"` + h.account.String() + `","budget":1}`},
		{"foreign account", h.tenant.String(), map[string]interface{}{"name": "x", "ad_account_id": other}},
		{"negative budget", h.tenant.String(), map[string]interface{}{"name": "x", "ad_account_id": h.account, "max_daily_budget_usd": -1}},
		{"min above max", h.tenant.String(), map[string]interface{}{"name": "x", "ad_account_id": h.account, "max_daily_budget_usd": 100, "min_daily_budget_usd": 200}},
		{"interval too short", h.tenant.String(), map[string]interface{}{"name": "x", "ad_account_id": h.account, "check_interval_minutes": 1}},
		{"empty body", h.tenant.String(), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.doAs(tc.tenant, "POST", "/api/v1/rules", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var env ErrorResponse
			decode(t, rec, &env)
			assert.Equal(t, http.StatusBadRequest, env.Code)
			assert.NotEmpty(t, env.Error)
			assert.NotEmpty(t, env.RequestID)
		})
	}
	assert.Empty(t, h.store.rules)
}

func TestRulesAreTenantScoped(t *testing.T) {
	h := newAPIHarness(t)
	rule := h.addRule(db.StatusActive)

	rec := h.doAs(uuid.NewString(), "GET", "/api/v1/rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do("GET", "/api/v1/rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do("GET", "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []db.Rule
	decode(t, rec, &list)
	assert.Len(t, list, 1)

	rec = h.do("GET", "/api/v1/rules?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRuleEditsOnlyPresentFields(t *testing.T) {
	h := newAPIHarness(t)
	rule := h.addRule(db.StatusActive)

	rec := h.do("PUT", "/api/v1/rules/"+rule.ID.String(), map[string]interface{}{
		"max_daily_budget_usd":   "750.50",
		"auto_approve_below_usd": 25,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := h.store.rules[rule.ID]
	assert.Equal(t, "750.5", stored.MaxDailyBudgetUSD.Decimal.String())
	assert.Equal(t, "25", stored.AutoApproveBelowUSD.String())
	assert.Equal(t, "scale winners", stored.Name)
	assert.True(t, stored.RequireApproval)

	rec = h.do("PUT", "/api/v1/rules/"+rule.ID.String(), map[string]interface{}{"ad_account_id": uuid.New()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuleStatusTransitions(t *testing.T) {
	h := newAPIHarness(t)
	rule := h.addRule(db.StatusActive)
	archived := h.addRule(db.StatusArchived)

	rec := h.do("PUT", "/api/v1/rules/"+rule.ID.String()+"/status", map[string]string{"status": "paused"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.StatusPaused, h.store.rules[rule.ID].Status)

	rec = h.do("PUT", "/api/v1/rules/"+rule.ID.String()+"/status", map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do("PUT", "/api/v1/rules/"+archived.ID.String()+"/status", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do("PUT", "/api/v1/rules/"+uuid.NewString()+"/status", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRuleArchivesUnlessReferenced(t *testing.T) {
	h := newAPIHarness(t)
	rule := h.addRule(db.StatusActive)
	h.store.open[rule.ID] = 2

	rec := h.do("DELETE", "/api/v1/rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, db.StatusActive, h.store.rules[rule.ID].Status)

	h.store.open[rule.ID] = 0
	rec = h.do("DELETE", "/api/v1/rules/"+rule.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.StatusArchived, h.store.rules[rule.ID].Status)

	rec = h.do("DELETE", "/api/v1/rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunRuleReturnsSummary(t *testing.T) {
	h := newAPIHarness(t)
	rule := h.addRule(db.StatusPaused)
	pending := uuid.New()
	h.svc.On("StartRun", mock.Anything, agents.KindOptimizer, h.tenant, rule.ID).Return("optimizer_x", &agents.RunSummary{
		RunID:           "optimizer_x",
		Kind:            agents.KindOptimizer,
		Status:          agents.RunAwaitingApproval,
		Proposed:        2,
		Safe:            1,
		PendingRecordID: &pending,
		Errors:          []string{},
	}, nil).Once()

	rec := h.do("POST", "/api/v1/rules/"+rule.ID.String()+"/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "optimizer_x", body["thread_id"])
	assert.Equal(t, "awaiting_approval", body["status"])
	assert.Equal(t, pending.String(), body["pending_approval_id"])
}

func TestRunArchivedRuleConflicts(t *testing.T) {
	h := newAPIHarness(t)
	rule := h.addRule(db.StatusArchived)

	rec := h.do("POST", "/api/v1/rules/"+rule.ID.String()+"/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	h.svc.AssertNotCalled(t, "StartRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTrackerLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do("POST", "/api/v1/trackers", map[string]interface{}{
		"name":            "Acme watch",
		"competitor_name": "Acme",
		"search_terms":    []string{"acme shoes"},
		"country_code":    "gb",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tracker db.Tracker
	decode(t, rec, &tracker)
	assert.Equal(t, "GB", tracker.CountryCode)
	assert.Equal(t, 7, tracker.MinLongevityDays)
	assert.Equal(t, 50, tracker.MaxResults)
	assert.Equal(t, 168, tracker.RunIntervalHours)

	rec = h.do("PUT", "/api/v1/trackers/"+tracker.ID.String(), map[string]interface{}{
		"competitor_page_url": "https://www.facebook.com/acme",
		"min_longevity_days":  14,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := h.store.trackers[tracker.ID]
	require.NotNil(t, stored.CompetitorPageURL)
	assert.Equal(t, 14, stored.MinLongevityDays)

	rec = h.do("PUT", "/api/v1/trackers/"+tracker.ID.String(), map[string]interface{}{"competitor_page_url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.svc.On("StartRun", mock.Anything, agents.KindSpy, h.tenant, tracker.ID).
		Return("spy_x", &agents.RunSummary{RunID: "spy_x", Kind: agents.KindSpy, Status: agents.RunCompleted}, nil).Once()
	rec = h.do("POST", "/api/v1/trackers/"+tracker.ID.String()+"/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.store.open[tracker.ID] = 1
	rec = h.do("DELETE", "/api/v1/trackers/"+tracker.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	h.store.open[tracker.ID] = 0
	rec = h.do("DELETE", "/api/v1/trackers/"+tracker.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do("PUT", "/api/v1/trackers/"+tracker.ID.String()+"/status", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveApprovalStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", approval.ErrNotFound, http.StatusNotFound},
		{"already resolved", approval.ErrAlreadyResolved, http.StatusConflict},
		{"expired", approval.ErrExpired, http.StatusGone},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAPIHarness(t)
			id := uuid.New()
			h.svc.On("ResolveApproval", mock.Anything, h.tenant, id, approval.DecisionApprove, "user-1", "").
				Return(nil, tc.err).Once()

			rec := h.do("PATCH", "/api/v1/approvals/"+id.String(), map[string]string{"action": "approve", "actor_id": "user-1"})
			assert.Equal(t, tc.code, rec.Code)

			var env ErrorResponse
			decode(t, rec, &env)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestResolveApprovalRejectsBadBodies(t *testing.T) {
	h := newAPIHarness(t)
	id := uuid.New()

	for _, body := range []interface{}{
		map[string]string{"action": "maybe", "actor_id": "user-1"},
		map[string]string{"action": "approve"},
		"{not json",
	} {
		rec := h.do("PATCH", "/api/v1/approvals/"+id.String(), body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := h.do("PATCH", "/api/v1/approvals/nope", map[string]string{"action": "deny", "actor_id": "u"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.svc.AssertNotCalled(t, "ResolveApproval", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveApprovalSuccess(t *testing.T) {
	h := newAPIHarness(t)
	id := uuid.New()
	h.svc.On("ResolveApproval", mock.Anything, h.tenant, id, approval.DecisionDeny, "user-1", "too aggressive").
		Return(&agents.Resolution{RecordID: id, Status: approval.StatusDenied, Message: agents.MessageDenied}, nil).Once()

	rec := h.do("PATCH", "/api/v1/approvals/"+id.String(), map[string]string{
		"action":   "Deny",
		"actor_id": "user-1",
		"reason":   "too aggressive",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ResolveResponse
	decode(t, rec, &res)
	assert.True(t, res.OK)
	assert.Equal(t, approval.StatusDenied, res.Status)
	assert.Equal(t, agents.MessageDenied, res.Message)
}

func TestListAndGetApprovals(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	mine, err := h.approvals.Create(ctx, approval.Draft{AgencyID: h.tenant, AgentType: approval.AgentOptimizer, ActionType: "pause", RunID: "r1"})
	require.NoError(t, err)
	_, err = h.approvals.Create(ctx, approval.Draft{AgencyID: h.tenant, AgentType: approval.AgentSpy, ActionType: "spy_report_ready", Completed: true})
	require.NoError(t, err)
	theirs, err := h.approvals.Create(ctx, approval.Draft{AgencyID: uuid.New(), AgentType: approval.AgentOptimizer, ActionType: "pause"})
	require.NoError(t, err)

	rec := h.do("GET", "/api/v1/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []db.ApprovalRecord
	decode(t, rec, &all)
	assert.Len(t, all, 2)

	rec = h.do("GET", "/api/v1/approvals?status=pending_human_approval", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []db.ApprovalRecord
	decode(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, mine, pending[0].ID)

	for _, q := range []string{"?status=bogus", "?limit=0", "?limit=x", "?offset=-1", "?agent_type=robot"} {
		rec = h.do("GET", "/api/v1/approvals"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = h.do("GET", "/api/v1/approvals/"+mine.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do("GET", "/api/v1/approvals/"+theirs.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun(t *testing.T) {
	h := newAPIHarness(t)
	h.svc.On("Run", mock.Anything, h.tenant, "optimizer_a").
		Return(&agents.RunInfo{RunID: "optimizer_a", Status: string(workflow.StatusSuspended), NextStep: "execute"}, nil).Once()
	h.svc.On("Run", mock.Anything, h.tenant, "optimizer_b").
		Return(nil, workflow.ErrRunNotFound).Once()

	rec := h.do("GET", "/api/v1/runs/optimizer_a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info agents.RunInfo
	decode(t, rec, &info)
	assert.Equal(t, "suspended", info.Status)
	assert.Equal(t, "execute", info.NextStep)

	rec = h.do("GET", "/api/v1/runs/optimizer_b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCronRequiresBearerSecret(t *testing.T) {
	h := newAPIHarness(t)
	h.svc.On("RunDue", mock.Anything, agents.KindOptimizer, testNow).
		Return(agents.BatchResult{Due: 3, Started: 2, Errors: []string{"r1: boom"}}, nil).Once()

	send := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/cron/optimizer", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, send(testCronSecret).Code)

	rec := send("Bearer " + testCronSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	var res CronResponse
	decode(t, rec, &res)
	assert.Equal(t, CronResponse{OK: true, Ran: 2, Total: 3, Errors: []string{"r1: boom"}}, res)
}

func TestCronDisabledWithoutSecret(t *testing.T) {
	h := newAPIHarness(t)
	handlers := NewHandlers(h.store, h.approvals, h.svc, nil)
	router := NewRouter(handlers, "")

	req := httptest.NewRequest("POST", "/api/v1/cron/spy", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.doAs("", "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.healthErr = errors.New("connection refused")
	rec = h.doAs("", "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddlewareChain(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})

	t.Run("preflight", func(t *testing.T) {
		rec := h.doAs("", "OPTIONS", "/api/v1/approvals/abc", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	})

	t.Run("panic becomes 500", func(t *testing.T) {
		h.store.panicOnList = true
		defer func() { h.store.panicOnList = false }()
		rec := h.do("GET", "/api/v1/rules", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var env ErrorResponse
		decode(t, rec, &env)
		assert.NotEmpty(t, env.RequestID)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := h.do("GET", "/api/v1/nothing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
