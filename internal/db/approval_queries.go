/*-------------------------------------------------------------------------
 *
 * approval_queries.go
 *    Database queries for approval records
 *
 * Each transition names its permitted pre-states in the WHERE clause, so
 * two writers racing on one record can never both succeed.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/approval_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/* Approval record statuses */
const (
	ApprovalPending      = "pending_human_approval"
	ApprovalApproved     = "approved"
	ApprovalDenied       = "denied"
	ApprovalCancelled    = "cancelled"
	ApprovalExecuting    = "executing"
	ApprovalExecuted     = "executed"
	ApprovalFailed       = "failed"
	ApprovalAutoApproved = "auto_approved"
)

const (
	createApprovalRecordQuery = `
		INSERT INTO grow.approval_records
		(agency_id, agent_type, action_type, rule_id, tracker_id, run_id,
		 target_entity_type, target_entity_id, target_entity_name,
		 current_value, proposed_value, reasoning, confidence_score,
		 requires_approval, status, expires_at, executed_at, execution_result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12, $13, $14, $15, $16, $17, $18::jsonb, $19, $19)
		RETURNING id, created_at, updated_at`

	getApprovalRecordQuery = `SELECT * FROM grow.approval_records WHERE id = $1 AND agency_id = $2`

	listApprovalRecordsQuery = `
		SELECT * FROM grow.approval_records
		WHERE agency_id = $1
		AND ($2::text IS NULL OR status = $2)
		AND ($3::text IS NULL OR agent_type = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	approveApprovalRecordQuery = `
		UPDATE grow.approval_records
		SET status = 'approved', approved_by = $3, approved_at = $4, updated_at = $4
		WHERE id = $1 AND agency_id = $2
		AND status = 'pending_human_approval' AND expires_at > $4`

	denyApprovalRecordQuery = `
		UPDATE grow.approval_records
		SET status = 'denied', denied_by = $3, denied_at = $4, denial_reason = $5, updated_at = $4
		WHERE id = $1 AND agency_id = $2
		AND status = 'pending_human_approval' AND expires_at > $4`

	cancelExpiredApprovalRecordQuery = `
		UPDATE grow.approval_records
		SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending_human_approval' AND expires_at <= $2`

	markApprovalExecutingQuery = `
		UPDATE grow.approval_records
		SET status = 'executing', executing_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('approved', 'auto_approved')`

	markApprovalExecutedQuery = `
		UPDATE grow.approval_records
		SET status = 'executed', executed_at = $2, execution_result = $3::jsonb, updated_at = $2
		WHERE id = $1 AND status = 'executing'`

	markApprovalFailedQuery = `
		UPDATE grow.approval_records
		SET status = 'failed', error_message = $3, updated_at = $2
		WHERE id = $1 AND status = 'executing'`

	expirePendingApprovalsQuery = `
		UPDATE grow.approval_records
		SET status = 'cancelled', cancelled_at = $1, updated_at = $1
		WHERE status = 'pending_human_approval' AND expires_at <= $1
		RETURNING *`
)

/* CreateApprovalRecord inserts a record and fills in its id and timestamps */
func (q *Queries) CreateApprovalRecord(ctx context.Context, rec *ApprovalRecord) error {
	currentValue, err := rec.CurrentValue.Value()
	if err != nil {
		return fmt.Errorf("failed to convert current_value: %w", err)
	}
	proposedValue, err := rec.ProposedValue.Value()
	if err != nil {
		return fmt.Errorf("failed to convert proposed_value: %w", err)
	}
	executionResult, err := rec.ExecutionResult.Value()
	if err != nil {
		return fmt.Errorf("failed to convert execution_result: %w", err)
	}

	params := []interface{}{
		rec.AgencyID, rec.AgentType, rec.ActionType, rec.RuleID, rec.TrackerID, rec.RunID,
		rec.TargetEntityType, rec.TargetEntityID, rec.TargetEntityName,
		currentValue, proposedValue, rec.Reasoning, rec.ConfidenceScore,
		rec.RequiresApproval, rec.Status, rec.ExpiresAt, rec.ExecutedAt, executionResult, rec.CreatedAt,
	}
	if err := q.DB.GetContext(ctx, rec, createApprovalRecordQuery, params...); err != nil {
		return fmt.Errorf("approval record creation failed: run_id='%s', action_type='%s', error=%w", rec.RunID, rec.ActionType, err)
	}
	return nil
}

func (q *Queries) GetApprovalRecord(ctx context.Context, agencyID, id uuid.UUID) (*ApprovalRecord, error) {
	var rec ApprovalRecord
	if err := q.DB.GetContext(ctx, &rec, getApprovalRecordQuery, id, agencyID); err != nil {
		return nil, notFound(err, "approval record", id)
	}
	return &rec, nil
}

func (q *Queries) ListApprovalRecords(ctx context.Context, agencyID uuid.UUID, status, agentType *string, limit, offset int) ([]ApprovalRecord, error) {
	var records []ApprovalRecord
	params := []interface{}{agencyID, status, agentType, limit, offset}
	if err := q.DB.SelectContext(ctx, &records, listApprovalRecordsQuery, params...); err != nil {
		return nil, fmt.Errorf("failed to list approval records: agency_id='%s', error=%w", agencyID, err)
	}
	return records, nil
}

/* ApproveApprovalRecord succeeds only for an unexpired pending record of the agency */
func (q *Queries) ApproveApprovalRecord(ctx context.Context, agencyID, id uuid.UUID, actor string, now time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, approveApprovalRecordQuery, id, agencyID, actor, now)
	if err != nil {
		return false, fmt.Errorf("approval record approve failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

func (q *Queries) DenyApprovalRecord(ctx context.Context, agencyID, id uuid.UUID, actor string, reason *string, now time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, denyApprovalRecordQuery, id, agencyID, actor, now, reason)
	if err != nil {
		return false, fmt.Errorf("approval record deny failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

/* CancelExpiredApprovalRecord cancels a pending record whose expiry has passed */
func (q *Queries) CancelExpiredApprovalRecord(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, cancelExpiredApprovalRecordQuery, id, now)
	if err != nil {
		return false, fmt.Errorf("approval record cancel failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

func (q *Queries) MarkApprovalExecuting(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, markApprovalExecutingQuery, id, now)
	if err != nil {
		return false, fmt.Errorf("approval record executing transition failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

func (q *Queries) MarkApprovalExecuted(ctx context.Context, id uuid.UUID, result JSONBMap, now time.Time) (bool, error) {
	value, err := result.Value()
	if err != nil {
		return false, fmt.Errorf("failed to convert execution_result: %w", err)
	}
	ok, err := q.execCAS(ctx, markApprovalExecutedQuery, id, now, value)
	if err != nil {
		return false, fmt.Errorf("approval record executed transition failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

func (q *Queries) MarkApprovalFailed(ctx context.Context, id uuid.UUID, message string, now time.Time) (bool, error) {
	ok, err := q.execCAS(ctx, markApprovalFailedQuery, id, now, message)
	if err != nil {
		return false, fmt.Errorf("approval record failed transition failed: id='%s', error=%w", id, err)
	}
	return ok, nil
}

/* ExpirePendingApprovals cancels every pending record past its expiry and returns them */
func (q *Queries) ExpirePendingApprovals(ctx context.Context, now time.Time) ([]ApprovalRecord, error) {
	var records []ApprovalRecord
	if err := q.DB.SelectContext(ctx, &records, expirePendingApprovalsQuery, now); err != nil {
		return nil, fmt.Errorf("failed to expire pending approvals: error=%w", err)
	}
	return records, nil
}
