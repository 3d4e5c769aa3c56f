/*-------------------------------------------------------------------------
 *
 * steps.go
 *    Optimizer pipeline steps
 *
 * Collaborator failures are appended to the run's error list and the run
 * degrades to an empty cycle. Only malformed inference output and
 * failures to persist the run's schedule fail the run outright.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/optimizer/steps.go
 *
 *-------------------------------------------------------------------------
 */

package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/adplatform"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/guardrail"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	/* ads are fetched for at most this many campaigns per run */
	maxAdCampaigns   = 5
	adFetchParallism = 3
)

type steps struct {
	deps Deps
}

func (s *steps) fetchData(ctx context.Context, st State) (Update, error) {
	empty := Update{Campaigns: ptr([]model.Campaign{}), Ads: ptr([]model.Ad{})}

	account, err := s.deps.Account(ctx, st.Rule)
	if err != nil {
		metrics.WarnWithContext(ctx, "Ad account unavailable", map[string]interface{}{"error": err.Error()})
		empty.Errors = []string{"fetch_data: " + err.Error()}
		return empty, nil
	}

	scope := adplatform.Scope{CampaignIDs: st.Rule.CampaignIDs}
	campaigns, err := s.deps.Platform.FetchCampaigns(ctx, account, adplatform.DefaultWindow, scope)
	if err != nil {
		metrics.WarnWithContext(ctx, "Campaign fetch failed", map[string]interface{}{
			"error":      err.Error(),
			"auth_error": adplatform.IsAuthError(err),
		})
		empty.Errors = []string{"fetch_data: " + err.Error()}
		return empty, nil
	}

	n := len(campaigns)
	if n > maxAdCampaigns {
		n = maxAdCampaigns
	}
	perCampaign := make([][]model.Ad, n)
	fetchErrs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(adFetchParallism)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			perCampaign[i], fetchErrs[i] = s.deps.Platform.FetchAds(ctx, account, campaigns[i].ID)
			return nil
		})
	}
	g.Wait()

	ads := make([]model.Ad, 0)
	var errs []string
	for i := 0; i < n; i++ {
		if fetchErrs[i] != nil {
			errs = append(errs, fmt.Sprintf("fetch_data: campaign %s: %v", campaigns[i].ID, fetchErrs[i]))
			continue
		}
		ads = append(ads, perCampaign[i]...)
	}

	metrics.InfoWithContext(ctx, "Fetched performance data", map[string]interface{}{
		"campaigns": len(campaigns),
		"ads":       len(ads),
	})
	return Update{Campaigns: &campaigns, Ads: &ads, Errors: errs}, nil
}

func (s *steps) proposeActions(ctx context.Context, st State) (Update, error) {
	if len(st.Campaigns) == 0 {
		return Update{
			Proposed: ptr([]model.ProposedAction{}),
			Summary:  ptr("No campaigns in scope for this rule."),
		}, nil
	}

	actions, err := s.deps.Inference.Propose(ctx, inference.Input{Rule: st.Rule, Campaigns: st.Campaigns, Ads: st.Ads})
	if err != nil {
		if errors.Is(err, inference.ErrMalformedOutput) {
			return Update{}, err
		}
		metrics.WarnWithContext(ctx, "Inference proposal failed", map[string]interface{}{"error": err.Error()})
		return Update{
			Proposed: ptr([]model.ProposedAction{}),
			Errors:   []string{"propose_actions: " + err.Error()},
		}, nil
	}

	return Update{
		Proposed: &actions,
		Summary:  ptr(fmt.Sprintf("Analyzed %d campaigns. %d action(s) proposed.", len(st.Campaigns), len(actions))),
	}, nil
}

func (s *steps) applyGuardrails(ctx context.Context, st State) (Update, error) {
	safe := guardrail.Filter(ctx, st.Proposed, LimitsFor(st.Rule))
	return Update{Safe: &safe, Index: ptr(0)}, nil
}

/* LimitsFor extracts the guardrail limits from a rule */
func LimitsFor(rule db.Rule) guardrail.Limits {
	return guardrail.Limits{
		RuleID:               rule.ID.String(),
		MaxDailyBudget:       rule.MaxDailyBudgetUSD,
		MinDailyBudget:       rule.MinDailyBudgetUSD,
		MinSpendBeforeAction: rule.MinSpendBeforeActionUSD,
	}
}

/*
 * awaitApproval creates the record for the current action. The run
 * suspends here unless the record was created auto-approved.
 */
func (s *steps) awaitApproval(ctx context.Context, st State) (Update, error) {
	action, ok := st.Current()
	if !ok {
		return Update{Decision: &Decision{Reason: "no action at current index"}}, nil
	}

	auto := AutoApprove(st.Rule, action)
	confidence := action.Confidence
	ruleID := st.Rule.ID
	id, err := s.deps.Approvals.Create(ctx, approval.Draft{
		AgencyID:      st.AgencyID,
		AgentType:     approval.AgentOptimizer,
		ActionType:    string(action.Kind),
		RuleID:        &ruleID,
		RunID:         st.RunID,
		TargetType:    action.TargetType,
		TargetID:      action.TargetID,
		TargetName:    action.TargetName,
		CurrentValue:  action.CurrentValue,
		ProposedValue: action.ProposedValue,
		Reasoning:     action.Reasoning,
		Confidence:    &confidence,
		AutoApproved:  auto,
	})
	if err != nil {
		metrics.ErrorWithContext(ctx, "Failed to create approval record", err, map[string]interface{}{"action": action.Describe()})
		return Update{
			Errors:   []string{"await_approval: " + err.Error()},
			Decision: &Decision{Reason: "approval record could not be created"},
		}, nil
	}

	metrics.InfoWithContext(ctx, "Approval record created", map[string]interface{}{
		"record_id":     id.String(),
		"action":        action.Describe(),
		"auto_approved": auto,
		"action_index":  st.Index,
	})
	u := Update{CurrentRecordID: &id, AutoApproved: &auto}
	if auto {
		u.Decision = &Decision{Approved: true, Reason: "auto-approved"}
	}
	return u, nil
}

/*
 * AutoApprove reports whether an action bypasses human review: the rule
 * does not require approval, or it is a budget change smaller than the
 * rule's positive auto-approve threshold.
 */
func AutoApprove(rule db.Rule, action model.ProposedAction) bool {
	if !rule.RequireApproval {
		return true
	}
	if !action.Kind.IsBudgetChange() || !rule.AutoApproveBelowUSD.IsPositive() {
		return false
	}
	proposed, ok := action.ProposedBudget()
	if !ok {
		return false
	}
	current, ok := action.CurrentBudget()
	if !ok {
		return false
	}
	return proposed.Sub(current).Abs().LessThan(rule.AutoApproveBelowUSD)
}

func (s *steps) execute(ctx context.Context, st State) (Update, error) {
	u := Update{Index: ptr(st.Index + 1), ClearCurrent: true}

	action, ok := st.Current()
	if !ok || st.CurrentRecordID == nil {
		u.Errors = []string{"execute: missing action or approval record"}
		return u, nil
	}

	var out Outcome
	account, err := s.deps.Account(ctx, st.Rule)
	if err != nil {
		out = FailAction(ctx, s.deps, *st.CurrentRecordID, action, err.Error())
	} else {
		out = ExecuteAction(ctx, s.deps, *st.CurrentRecordID, action, st.Rule, account)
	}

	switch out.Status {
	case OutcomeExecuted:
		u.Executed = []Outcome{out}
	case OutcomeNotClaimed:
		u.Skipped = []Outcome{out}
	default:
		u.Executed = []Outcome{out}
		u.Errors = []string{fmt.Sprintf("execute: %s: %s", action.TargetID, out.Error)}
	}
	return u, nil
}

func (s *steps) skip(ctx context.Context, st State) (Update, error) {
	action, _ := st.Current()
	reason := ""
	if st.Decision != nil {
		reason = st.Decision.Reason
	}
	out := SkipAction(ctx, s.deps, st.CurrentRecordID, action, reason)
	return Update{Skipped: []Outcome{out}, Index: ptr(st.Index + 1), ClearCurrent: true}, nil
}

func (s *steps) finalize(ctx context.Context, st State) (Update, error) {
	now := s.deps.now()
	next := now.Add(st.Rule.CheckInterval())
	if err := s.deps.Rules.FinalizeRuleRun(ctx, st.Rule.ID, now, next); err != nil {
		return Update{}, fmt.Errorf("failed to record rule run: rule_id='%s', error=%w", st.Rule.ID, err)
	}

	executed := st.ExecutedCount()
	summary := fmt.Sprintf("%d proposed, %d passed guardrails, %d executed, %d skipped.",
		len(st.Proposed), len(st.Safe), executed, len(st.Skipped))
	if st.Summary != "" {
		summary = st.Summary + " " + summary
	}
	if len(st.Errors) > MaxErrors && st.Index < len(st.Safe) {
		summary += fmt.Sprintf(" Stopped early after %d errors.", len(st.Errors))
	}

	metrics.InfoWithContext(ctx, "Optimizer run finalized", map[string]interface{}{
		"proposed":    len(st.Proposed),
		"safe":        len(st.Safe),
		"executed":    executed,
		"skipped":     len(st.Skipped),
		"errors":      len(st.Errors),
		"next_run_at": next,
	})
	return Update{Summary: &summary}, nil
}

/* ExecutedCount counts actions whose platform write succeeded */
func (s State) ExecutedCount() int {
	n := 0
	for _, o := range s.Executed {
		if o.Status == OutcomeExecuted {
			n++
		}
	}
	return n
}
