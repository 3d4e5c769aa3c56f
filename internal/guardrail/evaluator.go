/*-------------------------------------------------------------------------
 *
 * evaluator.go
 *    Numeric guardrails over proposed actions
 *
 * Inference output is never trusted on its own. Every proposed action
 * passes through Filter before an approval record can exist for it, and
 * Filter is the only place rule ceilings and floors are enforced.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/guardrail/evaluator.go
 *
 *-------------------------------------------------------------------------
 */

package guardrail

import (
	"context"

	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/shopspring/decimal"
)

/* Limits is the slice of a rule the evaluator needs */
type Limits struct {
	RuleID               string
	MaxDailyBudget       decimal.NullDecimal
	MinDailyBudget       decimal.NullDecimal
	MinSpendBeforeAction decimal.Decimal
}

type Reason string

const (
	ReasonAboveCeiling  Reason = "proposed budget above max daily budget"
	ReasonBelowFloor    Reason = "proposed budget below min daily budget"
	ReasonMissingBudget Reason = "proposed budget missing or not numeric"
	ReasonSpendTooLow   Reason = "recent spend below minimum before action"
)

/* Verdict explains why an action was rejected */
type Verdict struct {
	Reason Reason
	Limit  decimal.Decimal
	Value  decimal.Decimal
}

/*
 * Evaluate decides a single action. It returns ok=true when the action
 * may proceed; otherwise the verdict says which limit was hit.
 */
func Evaluate(action model.ProposedAction, limits Limits) (Verdict, bool) {
	switch action.Kind {
	case model.ActionIncreaseBudget:
		proposed, ok := action.ProposedBudget()
		if !ok {
			return Verdict{Reason: ReasonMissingBudget}, false
		}
		if limits.MaxDailyBudget.Valid && proposed.GreaterThan(limits.MaxDailyBudget.Decimal) {
			return Verdict{Reason: ReasonAboveCeiling, Limit: limits.MaxDailyBudget.Decimal, Value: proposed}, false
		}

	case model.ActionDecreaseBudget:
		proposed, ok := action.ProposedBudget()
		if !ok {
			return Verdict{Reason: ReasonMissingBudget}, false
		}
		if limits.MinDailyBudget.Valid && proposed.LessThan(limits.MinDailyBudget.Decimal) {
			return Verdict{Reason: ReasonBelowFloor, Limit: limits.MinDailyBudget.Decimal, Value: proposed}, false
		}

	case model.ActionPause:
		/* missing spend counts as zero */
		spend, _ := action.RecentSpend()
		if spend.LessThan(limits.MinSpendBeforeAction) {
			return Verdict{Reason: ReasonSpendTooLow, Limit: limits.MinSpendBeforeAction, Value: spend}, false
		}
	}

	return Verdict{}, true
}

/*
 * Filter returns the subset of actions that pass every guardrail, in the
 * original order. The input slice and its entries are not modified.
 */
func Filter(ctx context.Context, actions []model.ProposedAction, limits Limits) []model.ProposedAction {
	safe := make([]model.ProposedAction, 0, len(actions))
	for _, action := range actions {
		verdict, ok := Evaluate(action, limits)
		if ok {
			safe = append(safe, action)
			continue
		}

		metrics.RecordGuardrailRejection(string(action.Kind))
		metrics.WarnWithContext(ctx, "Guardrail blocked proposed action", map[string]interface{}{
			"rule_id":     limits.RuleID,
			"action_kind": string(action.Kind),
			"target_id":   action.TargetID,
			"target_name": action.TargetName,
			"reason":      string(verdict.Reason),
			"limit":       verdict.Limit.String(),
			"value":       verdict.Value.String(),
		})
	}
	return safe
}
