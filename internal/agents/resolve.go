/*-------------------------------------------------------------------------
 *
 * resolve.go
 *    Approval resolution and continuation of suspended optimizer runs
 *
 * The record's status transition is the gate: only the caller whose
 * Resolve succeeds goes on to resume the run. A run is resumed only when
 * its checkpoint is parked on this exact record; otherwise the action is
 * executed or skipped directly, and the execute claim keeps that safe.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/agents/resolve.go
 *
 *-------------------------------------------------------------------------
 */

package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/optimizer"
	"github.com/rakshittt/grow/internal/workflow"
)

const (
	MessageApproved = "Action approved. The agent is executing the change."
	MessageDenied   = "Action denied. The agent will skip this action."
)

/* ReasonExpired is the denial reason a run receives when its record expired */
const ReasonExpired = "approval expired"

type Resolution struct {
	RecordID uuid.UUID `json:"id"`
	Status   string    `json:"status"`
	Message  string    `json:"message"`
}

/*
 * ResolveApproval applies a human decision. Lifecycle errors from the
 * approval store (not found, already resolved, expired) are returned
 * unchanged so callers can tell them apart.
 */
func (s *Service) ResolveApproval(ctx context.Context, tenantID, recordID uuid.UUID, decision approval.Decision, actorID, reason string) (*Resolution, error) {
	ctx = metrics.WithTenant(ctx, tenantID.String())
	rec, err := s.approvals.Resolve(ctx, tenantID, recordID, decision, actorID, reason, s.now())
	if err != nil {
		if errors.Is(err, approval.ErrExpired) {
			ctx, cancel := s.detach(ctx)
			defer cancel()
			if expired, getErr := s.approvals.Get(ctx, tenantID, recordID); getErr == nil {
				s.ContinueAfterExpiry(ctx, *expired)
			}
		}
		return nil, err
	}

	/* the decision is committed; the caller going away must not strand the run */
	ctx, cancel := s.detach(ctx)
	defer cancel()

	metrics.RecordApprovalTransition(string(decision))
	metrics.InfoWithContext(ctx, "Approval resolved", map[string]interface{}{
		"record_id": recordID.String(),
		"decision":  string(decision),
		"actor_id":  actorID,
		"run_id":    rec.RunID,
	})

	approved := decision == approval.DecisionApprove
	if rec.AgentType == approval.AgentOptimizer {
		s.continueRun(ctx, *rec, approved, reason)
	}

	res := &Resolution{RecordID: recordID, Status: rec.Status, Message: MessageDenied}
	if approved {
		res.Message = MessageApproved
	}
	if latest, err := s.approvals.Get(ctx, tenantID, recordID); err == nil {
		res.Status = latest.Status
	}
	return res, nil
}

/* continueRun resumes the run parked on rec, or acts on the record directly */
func (s *Service) continueRun(ctx context.Context, rec approval.Record, approved bool, reason string) {
	fields := map[string]interface{}{"record_id": rec.ID.String(), "run_id": rec.RunID}

	if s.parkedOn(ctx, rec) {
		_, err := s.optimizer.Resume(ctx, rec.RunID, optimizer.Resume(approved, reason))
		if err == nil {
			return
		}
		var runErr *workflow.RunError
		if errors.As(err, &runErr) {
			metrics.WarnWithContext(ctx, "Resumed run failed", map[string]interface{}{"run_id": rec.RunID, "error": err.Error()})
		} else {
			fields["error"] = err.Error()
			metrics.WarnWithContext(ctx, "Resume failed, acting on the record directly", fields)
		}
	} else {
		metrics.WarnWithContext(ctx, "Run is not waiting on this record, acting on it directly", fields)
	}

	action := actionFromRecord(rec)
	if !approved {
		optimizer.SkipAction(ctx, s.optDeps, &rec.ID, action, reason)
		return
	}
	if rec.RuleID == nil {
		optimizer.FailAction(ctx, s.optDeps, rec.ID, action, "approval record has no rule")
		return
	}
	rule, err := s.store.GetRule(ctx, rec.AgencyID, *rec.RuleID)
	if err != nil {
		optimizer.FailAction(ctx, s.optDeps, rec.ID, action, fmt.Sprintf("rule unavailable: %v", err))
		return
	}
	account, err := s.optDeps.Account(ctx, *rule)
	if err != nil {
		optimizer.FailAction(ctx, s.optDeps, rec.ID, action, err.Error())
		return
	}
	optimizer.ExecuteAction(ctx, s.optDeps, rec.ID, action, *rule, account)
}

/* parkedOn reports whether rec's run is suspended waiting on rec itself */
func (s *Service) parkedOn(ctx context.Context, rec approval.Record) bool {
	if rec.RunID == "" {
		return false
	}
	cp, st, err := s.optimizer.Inspect(ctx, rec.RunID)
	if err != nil || cp.Status != workflow.StatusSuspended {
		return false
	}
	return st.CurrentRecordID != nil && *st.CurrentRecordID == rec.ID
}

/*
 * ContinueAfterExpiry lets a run parked on an expired record move on to
 * the rest of its queue, treating the expiry as a denial. Failures are
 * logged; the record stays cancelled either way.
 */
func (s *Service) ContinueAfterExpiry(ctx context.Context, rec approval.Record) {
	ctx, cancel := s.detach(ctx)
	defer cancel()
	if rec.AgentType != approval.AgentOptimizer || !s.parkedOn(ctx, rec) {
		return
	}
	if _, err := s.optimizer.Resume(ctx, rec.RunID, optimizer.Resume(false, ReasonExpired)); err != nil {
		metrics.WarnWithContext(ctx, "Failed to continue run after approval expiry", map[string]interface{}{
			"record_id": rec.ID.String(),
			"run_id":    rec.RunID,
			"error":     err.Error(),
		})
		return
	}
	metrics.InfoWithContext(ctx, "Run continued after approval expiry", map[string]interface{}{
		"record_id": rec.ID.String(),
		"run_id":    rec.RunID,
	})
}

func actionFromRecord(rec approval.Record) model.ProposedAction {
	a := model.ProposedAction{
		Kind:          model.ActionKind(rec.ActionType),
		CurrentValue:  rec.CurrentValue,
		ProposedValue: rec.ProposedValue,
	}
	if rec.TargetEntityType != nil {
		a.TargetType = *rec.TargetEntityType
	}
	if rec.TargetEntityID != nil {
		a.TargetID = *rec.TargetEntityID
	}
	if rec.TargetEntityName != nil {
		a.TargetName = *rec.TargetEntityName
	}
	if rec.Reasoning != nil {
		a.Reasoning = *rec.Reasoning
	}
	if rec.ConfidenceScore != nil {
		a.Confidence = *rec.ConfidenceScore
	}
	return a
}
