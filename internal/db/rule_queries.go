/*-------------------------------------------------------------------------
 *
 * rule_queries.go
 *    Database queries for optimizer rules
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/rule_queries.go
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
	createRuleQuery = `
		INSERT INTO grow.optimizer_rules
		(agency_id, ad_account_id, name, campaign_ids, max_daily_budget_usd, min_daily_budget_usd,
		 max_budget_increase_pct, max_budget_decrease_pct, target_roas, min_roas_threshold,
		 max_ad_frequency, attribution_window, min_spend_before_action_usd, check_interval_minutes,
		 require_approval, auto_approve_below_usd, status, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING *`

	getRuleQuery = `SELECT * FROM grow.optimizer_rules WHERE id = $1 AND agency_id = $2`

	getRuleByIDQuery = `SELECT * FROM grow.optimizer_rules WHERE id = $1`

	listRulesQuery = `
		SELECT * FROM grow.optimizer_rules
		WHERE agency_id = $1
		AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC`

	updateRuleGuardrailsQuery = `
		UPDATE grow.optimizer_rules
		SET name = $3, campaign_ids = $4, max_daily_budget_usd = $5, min_daily_budget_usd = $6,
			max_budget_increase_pct = $7, max_budget_decrease_pct = $8, target_roas = $9,
			min_roas_threshold = $10, max_ad_frequency = $11, attribution_window = $12,
			min_spend_before_action_usd = $13, check_interval_minutes = $14,
			require_approval = $15, auto_approve_below_usd = $16, updated_at = NOW()
		WHERE id = $1 AND agency_id = $2 AND status <> 'archived'
		RETURNING updated_at`

	updateRuleStatusQuery = `
		UPDATE grow.optimizer_rules
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND agency_id = $2 AND status <> 'archived'`

	listDueRulesQuery = `
		SELECT * FROM grow.optimizer_rules
		WHERE status = 'active' AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at NULLS FIRST
		LIMIT $2`

	claimRuleRunQuery = `
		UPDATE grow.optimizer_rules
		SET next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND next_run_at IS NOT DISTINCT FROM $2`

	finalizeRuleRunQuery = `
		UPDATE grow.optimizer_rules
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1`

	incrementRuleActionsQuery = `
		UPDATE grow.optimizer_rules
		SET total_actions_taken = total_actions_taken + 1, updated_at = NOW()
		WHERE id = $1`

	countOpenApprovalsForRuleQuery = `
		SELECT COUNT(*) FROM grow.approval_records
		WHERE rule_id = $1
		AND status IN ('pending_human_approval', 'approved', 'auto_approved', 'executing')`
)

func (q *Queries) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.CampaignIDs == nil {
		rule.CampaignIDs = pq.StringArray{}
	}
	if rule.Status == "" {
		rule.Status = StatusActive
	}
	params := []interface{}{
		rule.AgencyID, rule.AdAccountID, rule.Name, rule.CampaignIDs,
		rule.MaxDailyBudgetUSD, rule.MinDailyBudgetUSD,
		rule.MaxBudgetIncreasePct, rule.MaxBudgetDecreasePct,
		rule.TargetROAS, rule.MinROASThreshold, rule.MaxAdFrequency, rule.AttributionWindow,
		rule.MinSpendBeforeActionUSD, rule.CheckIntervalMinutes,
		rule.RequireApproval, rule.AutoApproveBelowUSD, rule.Status, rule.NextRunAt,
	}
	if err := q.DB.GetContext(ctx, rule, createRuleQuery, params...); err != nil {
		return fmt.Errorf("rule creation failed: name='%s', agency_id='%s', error=%w", rule.Name, rule.AgencyID, err)
	}
	return nil
}

/* GetRule loads a rule scoped to its agency */
func (q *Queries) GetRule(ctx context.Context, agencyID, id uuid.UUID) (*Rule, error) {
	var rule Rule
	if err := q.DB.GetContext(ctx, &rule, getRuleQuery, id, agencyID); err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

func (q *Queries) GetRuleByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	var rule Rule
	if err := q.DB.GetContext(ctx, &rule, getRuleByIDQuery, id); err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

func (q *Queries) ListRules(ctx context.Context, agencyID uuid.UUID, status *string) ([]Rule, error) {
	var rules []Rule
	if err := q.DB.SelectContext(ctx, &rules, listRulesQuery, agencyID, status); err != nil {
		return nil, fmt.Errorf("failed to list rules: agency_id='%s', error=%w", agencyID, err)
	}
	return rules, nil
}

/* UpdateRuleGuardrails rewrites the user-editable configuration of a non-archived rule */
func (q *Queries) UpdateRuleGuardrails(ctx context.Context, rule *Rule) error {
	if rule.CampaignIDs == nil {
		rule.CampaignIDs = pq.StringArray{}
	}
	params := []interface{}{
		rule.ID, rule.AgencyID, rule.Name, rule.CampaignIDs,
		rule.MaxDailyBudgetUSD, rule.MinDailyBudgetUSD,
		rule.MaxBudgetIncreasePct, rule.MaxBudgetDecreasePct,
		rule.TargetROAS, rule.MinROASThreshold, rule.MaxAdFrequency, rule.AttributionWindow,
		rule.MinSpendBeforeActionUSD, rule.CheckIntervalMinutes,
		rule.RequireApproval, rule.AutoApproveBelowUSD,
	}
	if err := q.DB.GetContext(ctx, &rule.UpdatedAt, updateRuleGuardrailsQuery, params...); err != nil {
		return notFound(err, "rule", rule.ID)
	}
	return nil
}

/* UpdateRuleStatus changes lifecycle status; archived rules are immutable */
func (q *Queries) UpdateRuleStatus(ctx context.Context, agencyID, id uuid.UUID, status string) (bool, error) {
	ok, err := q.execCAS(ctx, updateRuleStatusQuery, id, agencyID, status)
	if err != nil {
		return false, fmt.Errorf("rule status update failed: id='%s', status='%s', error=%w", id, status, err)
	}
	return ok, nil
}

/* ListDueRules returns active rules never run or whose next run is at or before now */
func (q *Queries) ListDueRules(ctx context.Context, now time.Time, limit int) ([]Rule, error) {
	var rules []Rule
	if err := q.DB.SelectContext(ctx, &rules, listDueRulesQuery, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due rules: error=%w", err)
	}
	return rules, nil
}

/* ClaimRuleRun advances next_run_at only if it still holds the value the caller observed */
func (q *Queries) ClaimRuleRun(ctx context.Context, id uuid.UUID, observed *time.Time, until time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, claimRuleRunQuery, id, observed, until)
	if err != nil {
		return false, fmt.Errorf("rule claim failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

func (q *Queries) FinalizeRuleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error {
	if _, err := q.DB.ExecContext(ctx, finalizeRuleRunQuery, id, lastRun, nextRun); err != nil {
		return fmt.Errorf("rule finalize failed: id='%s', error=%w", id, err)
	}
	return nil
}

func (q *Queries) IncrementRuleActions(ctx context.Context, id uuid.UUID) error {
	if _, err := q.DB.ExecContext(ctx, incrementRuleActionsQuery, id); err != nil {
		return fmt.Errorf("rule action counter update failed: id='%s', error=%w", id, err)
	}
	return nil
}

/* CountOpenApprovalsForRule counts records that still reference the rule in a non-terminal state */
func (q *Queries) CountOpenApprovalsForRule(ctx context.Context, ruleID uuid.UUID) (int, error) {
	var n int
	if err := q.DB.GetContext(ctx, &n, countOpenApprovalsForRuleQuery, ruleID); err != nil {
		return 0, fmt.Errorf("failed to count open approvals: rule_id='%s', error=%w", ruleID, err)
	}
	return n, nil
}
