/*-------------------------------------------------------------------------
 *
 * store.go
 *    Approval record lifecycle
 *
 * An approval record is created when a pipeline run needs a human
 * decision. Resolve is the only path out of pending_human_approval, and
 * every later transition is a compare-and-set on the current status:
 *
 *   pending_human_approval -> approved | denied | cancelled
 *   approved | auto_approved -> executing -> executed | failed
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/approval/store.go
 *
 *-------------------------------------------------------------------------
 */

package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
)

/* DefaultTTL is how long a pending record may wait for a decision */
const DefaultTTL = 24 * time.Hour

const (
	StatusPending      = db.ApprovalPending
	StatusApproved     = db.ApprovalApproved
	StatusDenied       = db.ApprovalDenied
	StatusCancelled    = db.ApprovalCancelled
	StatusExecuting    = db.ApprovalExecuting
	StatusExecuted     = db.ApprovalExecuted
	StatusFailed       = db.ApprovalFailed
	StatusAutoApproved = db.ApprovalAutoApproved
)

const (
	AgentOptimizer = "optimizer"
	AgentSpy       = "spy"
)

var (
	ErrNotFound          = errors.New("approval record not found")
	ErrAlreadyResolved   = errors.New("approval record already resolved")
	ErrExpired           = errors.New("approval record expired")
	ErrInvalidDecision   = errors.New("invalid decision")
	ErrInvalidTransition = errors.New("invalid approval status transition")
)

/* Record is the persisted approval row */
type Record = db.ApprovalRecord

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

/* ParseDecision accepts approve or deny, case-insensitively */
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionDeny:
		return DecisionDeny, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrInvalidDecision, s)
}

/* Draft describes a record to create */
type Draft struct {
	AgencyID      uuid.UUID
	AgentType     string
	ActionType    string
	RuleID        *uuid.UUID
	TrackerID     *uuid.UUID
	RunID         string
	TargetType    string
	TargetID      string
	TargetName    string
	CurrentValue  map[string]interface{}
	ProposedValue map[string]interface{}
	Reasoning     string
	Confidence    *float64

	/* AutoApproved skips the pending state */
	AutoApproved bool

	/* Completed writes an audit record already in executed with Result */
	Completed bool
	Result    map[string]interface{}
}

/* Filter selects records for listing */
type Filter struct {
	AgencyID  uuid.UUID
	Status    *string
	AgentType *string
	Limit     int
	Offset    int
}

type Store interface {
	Create(ctx context.Context, draft Draft) (uuid.UUID, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Record, error)
	Resolve(ctx context.Context, tenantID, id uuid.UUID, decision Decision, actorID, reason string, now time.Time) (*Record, error)
	MarkExecuting(ctx context.Context, id uuid.UUID) (bool, error)
	MarkExecuted(ctx context.Context, id uuid.UUID, result map[string]interface{}) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	List(ctx context.Context, filter Filter) ([]Record, error)
	ExpirePending(ctx context.Context, now time.Time) ([]Record, error)
}

/* newRecord builds the row for a draft at the given time */
func newRecord(draft Draft, now time.Time, ttl time.Duration) *Record {
	rec := &Record{
		AgencyID:         draft.AgencyID,
		AgentType:        draft.AgentType,
		ActionType:       draft.ActionType,
		RuleID:           draft.RuleID,
		TrackerID:        draft.TrackerID,
		RunID:            draft.RunID,
		TargetEntityType: optional(draft.TargetType),
		TargetEntityID:   optional(draft.TargetID),
		TargetEntityName: optional(draft.TargetName),
		CurrentValue:     db.JSONBMap(draft.CurrentValue),
		ProposedValue:    db.JSONBMap(draft.ProposedValue),
		Reasoning:        optional(draft.Reasoning),
		ConfidenceScore:  draft.Confidence,
		RequiresApproval: !draft.AutoApproved && !draft.Completed,
		Status:           StatusPending,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	switch {
	case draft.Completed:
		rec.Status = StatusExecuted
		executedAt := now
		rec.ExecutedAt = &executedAt
		rec.ExecutionResult = db.JSONBMap(draft.Result)
	case draft.AutoApproved:
		rec.Status = StatusAutoApproved
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
