/*-------------------------------------------------------------------------
 *
 * action.go
 *    Proposed actions produced by inference
 *
 * A ProposedAction lives only inside one optimizer run. It is either
 * dropped by guardrails or becomes the seed of an approval record.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/model/action.go
 *
 *-------------------------------------------------------------------------
 */

package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

type ActionKind string

const (
	ActionIncreaseBudget ActionKind = "increase_budget"
	ActionDecreaseBudget ActionKind = "decrease_budget"
	ActionPause          ActionKind = "pause"
	ActionResume         ActionKind = "resume"
	ActionAdjustBid      ActionKind = "adjust_bid"
	ActionNoAction       ActionKind = "no_action"

	/* Audit-only kind written by the spy pipeline */
	ActionSpyReportReady ActionKind = "spy_report_ready"
)

/* Value keys inside current/proposed snapshots */
const (
	KeyDailyBudgetUSD = "daily_budget_usd"
	KeySpend7d        = "spend_7d"
	KeyStatus         = "status"
)

/* IsBudgetChange reports whether the kind writes a campaign budget */
func (k ActionKind) IsBudgetChange() bool {
	return k == ActionIncreaseBudget || k == ActionDecreaseBudget
}

type ProposedAction struct {
	Kind          ActionKind             `json:"action_type"`
	TargetType    string                 `json:"target_entity_type"`
	TargetID      string                 `json:"target_entity_id"`
	TargetName    string                 `json:"target_entity_name"`
	CurrentValue  map[string]interface{} `json:"current_value"`
	ProposedValue map[string]interface{} `json:"proposed_value"`
	Reasoning     string                 `json:"reasoning"`
	Confidence    float64                `json:"confidence_score"`
	Urgency       string                 `json:"urgency,omitempty"`
}

/* ProposedBudget returns proposed_value.daily_budget_usd */
func (a ProposedAction) ProposedBudget() (decimal.Decimal, bool) {
	return Amount(a.ProposedValue, KeyDailyBudgetUSD)
}

/* CurrentBudget returns current_value.daily_budget_usd */
func (a ProposedAction) CurrentBudget() (decimal.Decimal, bool) {
	return Amount(a.CurrentValue, KeyDailyBudgetUSD)
}

/* RecentSpend returns current_value.spend_7d */
func (a ProposedAction) RecentSpend() (decimal.Decimal, bool) {
	return Amount(a.CurrentValue, KeySpend7d)
}

/*
 * Amount extracts a numeric field from a JSON-ish snapshot. Numbers may
 * arrive as float64, json.Number or numeric strings depending on whether
 * the map came from inference output or a JSONB column.
 */
func Amount(values map[string]interface{}, key string) (decimal.Decimal, bool) {
	if values == nil {
		return decimal.Zero, false
	}
	raw, ok := values[key]
	if !ok || raw == nil {
		return decimal.Zero, false
	}

	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case decimal.Decimal:
		return v, true
	}
	return decimal.Zero, false
}

/* Describe renders a one-line description used in logs */
func (a ProposedAction) Describe() string {
	target := a.TargetName
	if target == "" {
		target = a.TargetID
	}
	if v, ok := a.ProposedBudget(); ok {
		return fmt.Sprintf("%s %s to $%s/day", a.Kind, target, v.StringFixed(2))
	}
	return fmt.Sprintf("%s %s (confidence %s)", a.Kind, target, strconv.FormatFloat(a.Confidence, 'f', 2, 64))
}
