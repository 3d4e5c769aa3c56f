/*-------------------------------------------------------------------------
 *
 * models.go
 *    Row models for the grow schema
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/models.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

/* Lifecycle status shared by rules and trackers */
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusArchived = "archived"
)

type Agency struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	SlackWebhookURL *string   `db:"slack_webhook_url" json:"slack_webhook_url,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type AdAccount struct {
	ID                uuid.UUID `db:"id" json:"id"`
	AgencyID          uuid.UUID `db:"agency_id" json:"agency_id"`
	PlatformAccountID string    `db:"platform_account_id" json:"platform_account_id"`
	AccessToken       string    `db:"access_token" json:"-"`
	Status            string    `db:"status" json:"status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

type Rule struct {
	ID                      uuid.UUID           `db:"id" json:"id"`
	AgencyID                uuid.UUID           `db:"agency_id" json:"agency_id"`
	AdAccountID             *uuid.UUID          `db:"ad_account_id" json:"ad_account_id,omitempty"`
	Name                    string              `db:"name" json:"name"`
	CampaignIDs             pq.StringArray      `db:"campaign_ids" json:"campaign_ids"`
	MaxDailyBudgetUSD       decimal.NullDecimal `db:"max_daily_budget_usd" json:"max_daily_budget_usd"`
	MinDailyBudgetUSD       decimal.NullDecimal `db:"min_daily_budget_usd" json:"min_daily_budget_usd"`
	MaxBudgetIncreasePct    int                 `db:"max_budget_increase_pct" json:"max_budget_increase_pct"`
	MaxBudgetDecreasePct    int                 `db:"max_budget_decrease_pct" json:"max_budget_decrease_pct"`
	TargetROAS              decimal.NullDecimal `db:"target_roas" json:"target_roas"`
	MinROASThreshold        decimal.NullDecimal `db:"min_roas_threshold" json:"min_roas_threshold"`
	MaxAdFrequency          decimal.NullDecimal `db:"max_ad_frequency" json:"max_ad_frequency"`
	AttributionWindow       string              `db:"attribution_window" json:"attribution_window"`
	MinSpendBeforeActionUSD decimal.Decimal     `db:"min_spend_before_action_usd" json:"min_spend_before_action_usd"`
	CheckIntervalMinutes    int                 `db:"check_interval_minutes" json:"check_interval_minutes"`
	RequireApproval         bool                `db:"require_approval" json:"require_approval"`
	AutoApproveBelowUSD     decimal.Decimal     `db:"auto_approve_below_usd" json:"auto_approve_below_usd"`
	Status                  string              `db:"status" json:"status"`
	LastRunAt               *time.Time          `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt               *time.Time          `db:"next_run_at" json:"next_run_at,omitempty"`
	TotalActionsTaken       int                 `db:"total_actions_taken" json:"total_actions_taken"`
	CreatedAt               time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time           `db:"updated_at" json:"updated_at"`
}

/* CheckInterval returns the scheduling interval, defaulting to one hour */
func (r *Rule) CheckInterval() time.Duration {
	if r.CheckIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(r.CheckIntervalMinutes) * time.Minute
}

type Tracker struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	AgencyID          uuid.UUID      `db:"agency_id" json:"agency_id"`
	Name              string         `db:"name" json:"name"`
	CompetitorName    string         `db:"competitor_name" json:"competitor_name"`
	CompetitorPageURL *string        `db:"competitor_page_url" json:"competitor_page_url,omitempty"`
	CountryCode       string         `db:"country_code" json:"country_code"`
	SearchTerms       pq.StringArray `db:"search_terms" json:"search_terms"`
	MinLongevityDays  int            `db:"min_longevity_days" json:"min_longevity_days"`
	MaxResults        int            `db:"max_results" json:"max_results"`
	RunIntervalHours  int            `db:"run_interval_hours" json:"run_interval_hours"`
	Status            string         `db:"status" json:"status"`
	LastRunAt         *time.Time     `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt         *time.Time     `db:"next_run_at" json:"next_run_at,omitempty"`
	ScrapeRunID       *string        `db:"scrape_run_id" json:"scrape_run_id,omitempty"`
	LastReport        JSONRaw        `db:"last_report" json:"last_report,omitempty"`
	LastError         *string        `db:"last_error" json:"last_error,omitempty"`
	TotalRuns         int            `db:"total_runs" json:"total_runs"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

/* RunInterval returns the time between scheduled scrapes, defaulting to a week */
func (t *Tracker) RunInterval() time.Duration {
	if t.RunIntervalHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(t.RunIntervalHours) * time.Hour
}

type ApprovalRecord struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AgencyID         uuid.UUID  `db:"agency_id" json:"agency_id"`
	AgentType        string     `db:"agent_type" json:"agent_type"`
	ActionType       string     `db:"action_type" json:"action_type"`
	RuleID           *uuid.UUID `db:"rule_id" json:"rule_id,omitempty"`
	TrackerID        *uuid.UUID `db:"tracker_id" json:"tracker_id,omitempty"`
	RunID            string     `db:"run_id" json:"run_id"`
	TargetEntityType *string    `db:"target_entity_type" json:"target_entity_type,omitempty"`
	TargetEntityID   *string    `db:"target_entity_id" json:"target_entity_id,omitempty"`
	TargetEntityName *string    `db:"target_entity_name" json:"target_entity_name,omitempty"`
	CurrentValue     JSONBMap   `db:"current_value" json:"current_value,omitempty"`
	ProposedValue    JSONBMap   `db:"proposed_value" json:"proposed_value,omitempty"`
	Reasoning        *string    `db:"reasoning" json:"reasoning,omitempty"`
	ConfidenceScore  *float64   `db:"confidence_score" json:"confidence_score,omitempty"`
	RequiresApproval bool       `db:"requires_approval" json:"requires_approval"`
	Status           string     `db:"status" json:"status"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	ApprovedBy       *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	DeniedBy         *string    `db:"denied_by" json:"denied_by,omitempty"`
	DeniedAt         *time.Time `db:"denied_at" json:"denied_at,omitempty"`
	DenialReason     *string    `db:"denial_reason" json:"denial_reason,omitempty"`
	CancelledAt      *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ExecutingAt      *time.Time `db:"executing_at" json:"executing_at,omitempty"`
	ExecutedAt       *time.Time `db:"executed_at" json:"executed_at,omitempty"`
	ExecutionResult  JSONBMap   `db:"execution_result" json:"execution_result,omitempty"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

type Checkpoint struct {
	RunID        string    `db:"run_id" json:"run_id"`
	Pipeline     string    `db:"pipeline" json:"pipeline"`
	AgencyID     uuid.UUID `db:"agency_id" json:"agency_id"`
	SubjectID    uuid.UUID `db:"subject_id" json:"subject_id"`
	NextStep     string    `db:"next_step" json:"next_step"`
	Status       string    `db:"status" json:"status"`
	State        JSONRaw   `db:"state" json:"state"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	Version      int64     `db:"version" json:"version"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
