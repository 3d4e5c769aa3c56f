/*-------------------------------------------------------------------------
 *
 * actions.go
 *    Execute and skip for a single reviewed action
 *
 * Both are callable from inside the pipeline and directly by the
 * approval path when a suspended run cannot be resumed. Execution first
 * claims the approval record with a status compare-and-set; a lost
 * claim means someone else already executed it and no write is made.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/optimizer/actions.go
 *
 *-------------------------------------------------------------------------
 */

package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/adplatform"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/shopspring/decimal"
)

/* RuleStore is the slice of rule persistence the pipeline writes to */
type RuleStore interface {
	IncrementRuleActions(ctx context.Context, id uuid.UUID) error
	FinalizeRuleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error
}

/* AccountSource resolves a rule's ad account, including its access token */
type AccountSource interface {
	AdAccount(ctx context.Context, agencyID, accountID uuid.UUID) (model.AdAccount, error)
}

type Deps struct {
	Platform  adplatform.Client
	Inference inference.Service
	Approvals approval.Store
	Rules     RuleStore
	Accounts  AccountSource
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

/* Account loads the ad account the rule is bound to */
func (d Deps) Account(ctx context.Context, rule db.Rule) (model.AdAccount, error) {
	if rule.AdAccountID == nil {
		return model.AdAccount{}, fmt.Errorf("rule has no ad account: rule_id='%s'", rule.ID)
	}
	return d.Accounts.AdAccount(ctx, rule.AgencyID, *rule.AdAccountID)
}

/* ExecuteAction claims the record, performs the platform write and records the result */
func ExecuteAction(ctx context.Context, deps Deps, recordID uuid.UUID, action model.ProposedAction, rule db.Rule, account model.AdAccount) Outcome {
	out := Outcome{RecordID: recordID.String(), ActionType: action.Kind, TargetID: action.TargetID}
	fields := map[string]interface{}{
		"record_id":   recordID.String(),
		"action_type": string(action.Kind),
		"target_id":   action.TargetID,
	}

	claimed, err := deps.Approvals.MarkExecuting(ctx, recordID)
	if err != nil {
		out.Status = OutcomeFailed
		out.Error = fmt.Sprintf("claim failed: %v", err)
		metrics.ErrorWithContext(ctx, "Failed to claim approval record", err, fields)
		return out
	}
	if !claimed {
		out.Status = OutcomeNotClaimed
		metrics.WarnWithContext(ctx, "Approval record already claimed, skipping write", fields)
		return out
	}

	result, err := write(ctx, deps.Platform, action, account)
	if err != nil {
		out.Status = OutcomeFailed
		out.Error = err.Error()
		if adplatform.IsAuthError(err) {
			fields["auth_error"] = true
		}
		metrics.ErrorWithContext(ctx, "Action execution failed", err, fields)
		if markErr := deps.Approvals.MarkFailed(ctx, recordID, err.Error()); markErr != nil {
			metrics.ErrorWithContext(ctx, "Failed to mark approval record failed", markErr, fields)
		}
		return out
	}

	out.Status = OutcomeExecuted
	out.Result = result
	if err := deps.Approvals.MarkExecuted(ctx, recordID, result); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to mark approval record executed", err, fields)
	}
	if err := deps.Rules.IncrementRuleActions(ctx, rule.ID); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to increment rule action counter", err, fields)
	}
	metrics.InfoWithContext(ctx, "Action executed", fields)
	return out
}

/* FailAction claims the record and marks it failed without attempting a write */
func FailAction(ctx context.Context, deps Deps, recordID uuid.UUID, action model.ProposedAction, message string) Outcome {
	out := Outcome{RecordID: recordID.String(), ActionType: action.Kind, TargetID: action.TargetID, Status: OutcomeFailed, Error: message}
	claimed, err := deps.Approvals.MarkExecuting(ctx, recordID)
	if err != nil || !claimed {
		out.Status = OutcomeNotClaimed
		return out
	}
	if err := deps.Approvals.MarkFailed(ctx, recordID, message); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to mark approval record failed", err, map[string]interface{}{"record_id": recordID.String()})
	}
	return out
}

/* SkipAction records a denied or unreviewable action; the record itself is already resolved */
func SkipAction(ctx context.Context, deps Deps, recordID *uuid.UUID, action model.ProposedAction, reason string) Outcome {
	out := Outcome{ActionType: action.Kind, TargetID: action.TargetID, Status: OutcomeSkipped}
	if recordID != nil {
		out.RecordID = recordID.String()
	}
	if reason != "" {
		out.Result = map[string]interface{}{"reason": reason}
	}
	metrics.InfoWithContext(ctx, "Action skipped", map[string]interface{}{
		"record_id":   out.RecordID,
		"action_type": string(action.Kind),
		"target_id":   action.TargetID,
		"reason":      reason,
	})
	return out
}

/* write maps an action kind onto the platform call */
func write(ctx context.Context, platform adplatform.Client, action model.ProposedAction, account model.AdAccount) (map[string]interface{}, error) {
	var (
		res model.WriteResult
		err error
	)
	switch action.Kind {
	case model.ActionIncreaseBudget, model.ActionDecreaseBudget:
		usd, ok := action.ProposedBudget()
		if !ok {
			return nil, fmt.Errorf("proposed daily budget missing: target='%s'", action.TargetID)
		}
		res, err = platform.SetBudget(ctx, account, action.TargetID, Cents(usd))
	case model.ActionPause:
		res, err = platform.SetStatus(ctx, account, action.TargetID, model.StatusPaused)
	case model.ActionResume:
		res, err = platform.SetStatus(ctx, account, action.TargetID, model.StatusActive)
	default:
		return map[string]interface{}{
			"skipped": true,
			"reason":  fmt.Sprintf("action type %s is not executable", action.Kind),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": res.Success, "id": res.ID}, nil
}

/* Cents converts USD to minor units, rounding half away from zero */
func Cents(usd decimal.Decimal) int64 {
	return usd.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
