/*-------------------------------------------------------------------------
 *
 * state.go
 *    Optimizer run state and its merge rules
 *
 * State is checkpointed as JSON at every suspend point. It never carries
 * the ad account's access token; steps that need it look the account up
 * again, so resumed runs pick up rotated tokens.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/optimizer/state.go
 *
 *-------------------------------------------------------------------------
 */

package optimizer

import (
	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/model"
)

/* Decision is the resume input for a suspended run */
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

/* Outcome records what happened to one action */
type Outcome struct {
	RecordID   string                 `json:"record_id,omitempty"`
	ActionType model.ActionKind       `json:"action_type"`
	TargetID   string                 `json:"target_entity_id"`
	Status     string                 `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

const (
	OutcomeExecuted   = "executed"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
	OutcomeNotClaimed = "not_claimed"
)

type State struct {
	RunID    string    `json:"run_id"`
	AgencyID uuid.UUID `json:"agency_id"`
	Rule     db.Rule   `json:"rule"`

	Campaigns []model.Campaign `json:"campaigns"`
	Ads       []model.Ad       `json:"ads"`

	Proposed []model.ProposedAction `json:"proposed_actions"`
	Safe     []model.ProposedAction `json:"safe_actions"`
	Index    int                    `json:"current_action_index"`

	CurrentRecordID *uuid.UUID `json:"current_record_id,omitempty"`
	AutoApproved    bool       `json:"auto_approved,omitempty"`
	Decision        *Decision  `json:"decision,omitempty"`

	Executed []Outcome `json:"executed_actions"`
	Skipped  []Outcome `json:"skipped_actions"`
	Errors   []string  `json:"errors"`
	Summary  string    `json:"run_summary"`
}

/* Current returns the action under review, if any */
func (s State) Current() (model.ProposedAction, bool) {
	if s.Index < 0 || s.Index >= len(s.Safe) {
		return model.ProposedAction{}, false
	}
	return s.Safe[s.Index], true
}

/* Awaiting reports whether the run is parked on a human decision */
func (s State) Awaiting() bool {
	return s.CurrentRecordID != nil && s.Decision == nil
}

/*
 * Update is a partial state change returned by a step. Nil pointers leave
 * fields untouched; Executed, Skipped and Errors are appended.
 */
type Update struct {
	Campaigns *[]model.Campaign
	Ads       *[]model.Ad
	Proposed  *[]model.ProposedAction
	Safe      *[]model.ProposedAction
	Index     *int

	CurrentRecordID *uuid.UUID
	AutoApproved    *bool
	Decision        *Decision

	/* ClearCurrent drops the record id and decision before other fields apply */
	ClearCurrent bool

	Executed []Outcome
	Skipped  []Outcome
	Errors   []string
	Summary  *string
}

/* Resume builds the update a human decision applies to a suspended run */
func Resume(approved bool, reason string) Update {
	return Update{Decision: &Decision{Approved: approved, Reason: reason}}
}

func Apply(s State, u Update) State {
	if u.ClearCurrent {
		s.CurrentRecordID = nil
		s.Decision = nil
		s.AutoApproved = false
	}
	if u.Campaigns != nil {
		s.Campaigns = *u.Campaigns
	}
	if u.Ads != nil {
		s.Ads = *u.Ads
	}
	if u.Proposed != nil {
		s.Proposed = *u.Proposed
	}
	if u.Safe != nil {
		s.Safe = *u.Safe
	}
	if u.Index != nil {
		s.Index = *u.Index
	}
	if u.CurrentRecordID != nil {
		id := *u.CurrentRecordID
		s.CurrentRecordID = &id
	}
	if u.AutoApproved != nil {
		s.AutoApproved = *u.AutoApproved
	}
	if u.Decision != nil {
		d := *u.Decision
		s.Decision = &d
	}
	if u.Summary != nil {
		s.Summary = *u.Summary
	}
	s.Executed = append(s.Executed, u.Executed...)
	s.Skipped = append(s.Skipped, u.Skipped...)
	s.Errors = append(s.Errors, u.Errors...)
	return s
}

func ptr[T any](v T) *T { return &v }
