/*-------------------------------------------------------------------------
 *
 * adplatform.go
 *    Campaign and ad performance snapshots
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/model/adplatform.go
 *
 *-------------------------------------------------------------------------
 */

package model

type EntityStatus string

const (
	StatusActive   EntityStatus = "ACTIVE"
	StatusPaused   EntityStatus = "PAUSED"
	StatusArchived EntityStatus = "ARCHIVED"
	StatusDeleted  EntityStatus = "DELETED"
)

type Insights struct {
	Spend        float64 `json:"spend"`
	Impressions  int64   `json:"impressions"`
	Clicks       int64   `json:"clicks"`
	Purchases    int64   `json:"purchases"`
	PurchaseROAS float64 `json:"purchase_roas"`
	Frequency    float64 `json:"frequency"`
	CPM          float64 `json:"cpm"`
	CPC          float64 `json:"cpc"`
	DateStart    string  `json:"date_start,omitempty"`
	DateStop     string  `json:"date_stop,omitempty"`
}

type Campaign struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Status              EntityStatus `json:"status"`
	DailyBudgetCents    int64        `json:"daily_budget"`
	LifetimeBudgetCents int64        `json:"lifetime_budget"`
	Objective           string       `json:"objective"`
	Insights            *Insights    `json:"insights,omitempty"`
}

type Ad struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	AdSetID    string       `json:"adset_id"`
	CampaignID string       `json:"campaign_id,omitempty"`
	Status     EntityStatus `json:"status"`
	CreativeID string       `json:"creative_id,omitempty"`
	Insights   *Insights    `json:"insights,omitempty"`
}

/* AdAccount is the platform account a rule operates on */
type AdAccount struct {
	ID                string `json:"id"`
	PlatformAccountID string `json:"platform_account_id"`
	AccessToken       string `json:"-"`
}

/* WriteResult is what the platform returned for a mutation */
type WriteResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}
