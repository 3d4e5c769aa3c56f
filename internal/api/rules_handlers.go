/*-------------------------------------------------------------------------
 *
 * rules_handlers.go
 *    API handlers for optimizer rules
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/rules_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/shopspring/decimal"
)

const (
	defaultBudgetChangePct   = 20
	defaultAttributionWindow = "7d_click"
	defaultCheckInterval     = 60
)

var defaultMinSpendUSD = decimal.NewFromInt(50)

/* RuleRequest creates a rule, or on PUT edits the fields present */
type RuleRequest struct {
	Name                    *string          `json:"name" validate:"omitnil,min=1,max=200"`
	AdAccountID             *uuid.UUID       `json:"ad_account_id"`
	CampaignIDs             []string         `json:"campaign_ids" validate:"omitempty,max=100,dive,required,max=64"`
	MaxDailyBudgetUSD       *decimal.Decimal `json:"max_daily_budget_usd"`
	MinDailyBudgetUSD       *decimal.Decimal `json:"min_daily_budget_usd"`
	MaxBudgetIncreasePct    *int             `json:"max_budget_increase_pct" validate:"omitnil,min=0,max=1000"`
	MaxBudgetDecreasePct    *int             `json:"max_budget_decrease_pct" validate:"omitnil,min=0,max=100"`
	TargetROAS              *decimal.Decimal `json:"target_roas"`
	MinROASThreshold        *decimal.Decimal `json:"min_roas_threshold"`
	MaxAdFrequency          *decimal.Decimal `json:"max_ad_frequency"`
	AttributionWindow       *string          `json:"attribution_window" validate:"omitnil,oneof=1d_click 7d_click 28d_click 1d_view 7d_view"`
	MinSpendBeforeActionUSD *decimal.Decimal `json:"min_spend_before_action_usd"`
	CheckIntervalMinutes    *int             `json:"check_interval_minutes" validate:"omitnil,min=5,max=10080"`
	RequireApproval         *bool            `json:"require_approval"`
	AutoApproveBelowUSD     *decimal.Decimal `json:"auto_approve_below_usd"`
}

func (req *RuleRequest) Validate() error {
	money := map[string]*decimal.Decimal{
		"max_daily_budget_usd":        req.MaxDailyBudgetUSD,
		"min_daily_budget_usd":        req.MinDailyBudgetUSD,
		"target_roas":                 req.TargetROAS,
		"min_roas_threshold":          req.MinROASThreshold,
		"max_ad_frequency":            req.MaxAdFrequency,
		"min_spend_before_action_usd": req.MinSpendBeforeActionUSD,
		"auto_approve_below_usd":      req.AutoApproveBelowUSD,
	}
	for name, v := range money {
		if err := nonNegative(name, v); err != nil {
			return err
		}
	}
	return nil
}

/* apply copies the fields present in req onto rule */
func (req *RuleRequest) apply(rule *db.Rule) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.CampaignIDs != nil {
		rule.CampaignIDs = pq.StringArray(req.CampaignIDs)
	}
	if req.MaxDailyBudgetUSD != nil {
		rule.MaxDailyBudgetUSD = nullable(req.MaxDailyBudgetUSD)
	}
	if req.MinDailyBudgetUSD != nil {
		rule.MinDailyBudgetUSD = nullable(req.MinDailyBudgetUSD)
	}
	if req.MaxBudgetIncreasePct != nil {
		rule.MaxBudgetIncreasePct = *req.MaxBudgetIncreasePct
	}
	if req.MaxBudgetDecreasePct != nil {
		rule.MaxBudgetDecreasePct = *req.MaxBudgetDecreasePct
	}
	if req.TargetROAS != nil {
		rule.TargetROAS = nullable(req.TargetROAS)
	}
	if req.MinROASThreshold != nil {
		rule.MinROASThreshold = nullable(req.MinROASThreshold)
	}
	if req.MaxAdFrequency != nil {
		rule.MaxAdFrequency = nullable(req.MaxAdFrequency)
	}
	if req.AttributionWindow != nil {
		rule.AttributionWindow = *req.AttributionWindow
	}
	if req.MinSpendBeforeActionUSD != nil {
		rule.MinSpendBeforeActionUSD = *req.MinSpendBeforeActionUSD
	}
	if req.CheckIntervalMinutes != nil {
		rule.CheckIntervalMinutes = *req.CheckIntervalMinutes
	}
	if req.RequireApproval != nil {
		rule.RequireApproval = *req.RequireApproval
	}
	if req.AutoApproveBelowUSD != nil {
		rule.AutoApproveBelowUSD = *req.AutoApproveBelowUSD
	}
}

func newRule(agencyID uuid.UUID) *db.Rule {
	return &db.Rule{
		AgencyID:                agencyID,
		CampaignIDs:             pq.StringArray{},
		MaxBudgetIncreasePct:    defaultBudgetChangePct,
		MaxBudgetDecreasePct:    defaultBudgetChangePct,
		AttributionWindow:       defaultAttributionWindow,
		MinSpendBeforeActionUSD: defaultMinSpendUSD,
		CheckIntervalMinutes:    defaultCheckInterval,
		RequireApproval:         true,
		AutoApproveBelowUSD:     decimal.Zero,
		Status:                  db.StatusActive,
	}
}

/* StatusRequest toggles a rule or tracker */
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused"`
}

func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "rule creation failed: invalid request", err, "rule", "")
		return
	}
	if req.Name == nil || req.AdAccountID == nil {
		h.fail(w, r, http.StatusBadRequest, "rule creation failed: name and ad_account_id are required", nil, "rule", "")
		return
	}

	if _, err := h.store.GetAdAccountForAgency(r.Context(), tenantID, *req.AdAccountID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.fail(w, r, http.StatusBadRequest, "rule creation failed: unknown ad account", err, "rule", "")
			return
		}
		h.failErr(w, r, "rule creation failed", err, "rule", "")
		return
	}

	rule := newRule(tenantID)
	rule.AdAccountID = req.AdAccountID
	req.apply(rule)
	if err := budgetBounds(rule.MinDailyBudgetUSD, rule.MaxDailyBudgetUSD); err != nil {
		h.fail(w, r, http.StatusBadRequest, "rule creation failed: invalid guardrails", err, "rule", "")
		return
	}

	if err := h.store.CreateRule(r.Context(), rule); err != nil {
		h.failErr(w, r, "rule creation failed", err, "rule", "")
		return
	}
	metrics.InfoWithContext(r.Context(), "Rule created", map[string]interface{}{
		"rule_id":   rule.ID.String(),
		"agency_id": tenantID.String(),
	})
	respondJSON(w, http.StatusCreated, rule)
}

func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	status, err := statusFilter(r)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid status filter", err, "rule", "")
		return
	}

	rules, err := h.store.ListRules(r.Context(), tenantID, status)
	if err != nil {
		h.failErr(w, r, "failed to list rules", err, "rule", "")
		return
	}
	if rules == nil {
		rules = []db.Rule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "rule")
	if !ok {
		return
	}
	rule, err := h.store.GetRule(r.Context(), tenantID, id)
	if err != nil {
		h.failErr(w, r, "rule not found", err, "rule", id.String())
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

/* UpdateRule edits guardrails; fields absent from the body are left unchanged */
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "rule")
	if !ok {
		return
	}

	var req RuleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "rule update failed: invalid request", err, "rule", id.String())
		return
	}
	if req.AdAccountID != nil {
		h.fail(w, r, http.StatusBadRequest, "rule update failed: ad_account_id cannot be changed", nil, "rule", id.String())
		return
	}

	rule, err := h.store.GetRule(r.Context(), tenantID, id)
	if err != nil {
		h.failErr(w, r, "rule not found", err, "rule", id.String())
		return
	}
	if rule.Status == db.StatusArchived {
		h.fail(w, r, http.StatusConflict, "rule is archived", nil, "rule", id.String())
		return
	}

	req.apply(rule)
	if err := budgetBounds(rule.MinDailyBudgetUSD, rule.MaxDailyBudgetUSD); err != nil {
		h.fail(w, r, http.StatusBadRequest, "rule update failed: invalid guardrails", err, "rule", id.String())
		return
	}
	if err := h.store.UpdateRuleGuardrails(r.Context(), rule); err != nil {
		h.failErr(w, r, "rule update failed", err, "rule", id.String())
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (h *Handlers) UpdateRuleStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "rule")
	if !ok {
		return
	}
	var req StatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid status", err, "rule", id.String())
		return
	}

	changed, err := h.store.UpdateRuleStatus(r.Context(), tenantID, id, req.Status)
	if err != nil {
		h.failErr(w, r, "rule status update failed", err, "rule", id.String())
		return
	}
	if !changed {
		h.unchanged(w, r, "rule", id, func() (string, error) {
			rule, err := h.store.GetRule(r.Context(), tenantID, id)
			if err != nil {
				return "", err
			}
			return rule.Status, nil
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id, "status": req.Status})
}

/* DeleteRule archives the rule unless approval records still reference it */
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.tenantAndID(w, r, "rule")
	if !ok {
		return
	}
	if _, err := h.store.GetRule(r.Context(), tenantID, id); err != nil {
		h.failErr(w, r, "rule not found", err, "rule", id.String())
		return
	}

	open, err := h.store.CountOpenApprovalsForRule(r.Context(), id)
	if err != nil {
		h.failErr(w, r, "rule archive failed", err, "rule", id.String())
		return
	}
	if open > 0 {
		h.fail(w, r, http.StatusConflict, "rule has open approval records", fmt.Errorf("%d open approval record(s)", open), "rule", id.String())
		return
	}

	changed, err := h.store.UpdateRuleStatus(r.Context(), tenantID, id, db.StatusArchived)
	if err != nil {
		h.failErr(w, r, "rule archive failed", err, "rule", id.String())
		return
	}
	if !changed {
		h.fail(w, r, http.StatusConflict, "rule is already archived", nil, "rule", id.String())
		return
	}
	metrics.InfoWithContext(r.Context(), "Rule archived", map[string]interface{}{"rule_id": id.String()})
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id, "status": db.StatusArchived})
}

/* RunRule starts an optimizer run now and reports where it stopped */
func (h *Handlers) RunRule(w http.ResponseWriter, r *http.Request) {
	h.runSubject(w, r, agents.KindOptimizer, "rule", func(tenantID, id uuid.UUID) (string, error) {
		rule, err := h.store.GetRule(r.Context(), tenantID, id)
		if err != nil {
			return "", err
		}
		return rule.Status, nil
	})
}

/* runSubject is the shared body of the on-demand run endpoints */
func (h *Handlers) runSubject(w http.ResponseWriter, r *http.Request, kind agents.Kind, resource string, status func(tenantID, id uuid.UUID) (string, error)) {
	tenantID, id, ok := h.tenantAndID(w, r, resource)
	if !ok {
		return
	}
	current, err := status(tenantID, id)
	if err != nil {
		h.failErr(w, r, resource+" not found", err, resource, id.String())
		return
	}
	if current == db.StatusArchived {
		h.fail(w, r, http.StatusConflict, resource+" is archived", nil, resource, id.String())
		return
	}

	_, summary, err := h.svc.StartRun(r.Context(), kind, tenantID, id)
	if err != nil {
		h.failErr(w, r, "run failed to start", err, resource, id.String())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

/* unchanged explains why a status CAS matched no row */
func (h *Handlers) unchanged(w http.ResponseWriter, r *http.Request, resource string, id uuid.UUID, current func() (string, error)) {
	status, err := current()
	if err != nil {
		h.failErr(w, r, resource+" not found", err, resource, id.String())
		return
	}
	h.fail(w, r, http.StatusConflict, fmt.Sprintf("%s is %s", resource, status), nil, resource, id.String())
}

func (h *Handlers) tenantAndID(w http.ResponseWriter, r *http.Request, resource string) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := parseID(mux.Vars(r)["id"], resource+"_id")
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid "+resource+" id", err, resource, "")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func statusFilter(r *http.Request) (*string, error) {
	s := r.URL.Query().Get("status")
	if s == "" {
		return nil, nil
	}
	switch s {
	case db.StatusActive, db.StatusPaused, db.StatusArchived:
		return &s, nil
	}
	return nil, fmt.Errorf("status must be one of active, paused, archived: '%s'", s)
}
