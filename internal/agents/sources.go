/*-------------------------------------------------------------------------
 *
 * sources.go
 *    Store adapters the pipelines use to re-resolve credentials
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/agents/sources.go
 *
 *-------------------------------------------------------------------------
 */

package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/model"
)

/* Store is the persistence the service reads subjects and credentials from */
type Store interface {
	GetAgency(ctx context.Context, id uuid.UUID) (*db.Agency, error)
	GetAdAccountForAgency(ctx context.Context, agencyID, id uuid.UUID) (*db.AdAccount, error)

	GetRule(ctx context.Context, agencyID, id uuid.UUID) (*db.Rule, error)
	ListDueRules(ctx context.Context, now time.Time, limit int) ([]db.Rule, error)
	ClaimRuleRun(ctx context.Context, id uuid.UUID, observed *time.Time, until time.Time) (bool, error)
	IncrementRuleActions(ctx context.Context, id uuid.UUID) error
	FinalizeRuleRun(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error

	GetTracker(ctx context.Context, agencyID, id uuid.UUID) (*db.Tracker, error)
	ListDueTrackers(ctx context.Context, now time.Time, limit int) ([]db.Tracker, error)
	ClaimTrackerRun(ctx context.Context, id uuid.UUID, observed *time.Time, until time.Time) (bool, error)
	SetTrackerScrapeRun(ctx context.Context, id uuid.UUID, scrapeRunID string) error
	SaveTrackerReport(ctx context.Context, id uuid.UUID, report db.JSONRaw, ranAt, nextRun time.Time) error
	RecordTrackerFailure(ctx context.Context, id uuid.UUID, message string, ranAt, nextRun time.Time) error
}

var _ Store = (*db.Queries)(nil)

/* AccountSource serves optimizer.AccountSource from the store */
type AccountSource struct {
	store Store
}

func NewAccountSource(store Store) *AccountSource {
	return &AccountSource{store: store}
}

func (a *AccountSource) AdAccount(ctx context.Context, agencyID, accountID uuid.UUID) (model.AdAccount, error) {
	acct, err := a.store.GetAdAccountForAgency(ctx, agencyID, accountID)
	if err != nil {
		return model.AdAccount{}, err
	}
	if acct.Status != db.StatusActive {
		return model.AdAccount{}, fmt.Errorf("ad account is not active: id='%s', status='%s'", accountID, acct.Status)
	}
	return model.AdAccount{
		ID:                acct.ID.String(),
		PlatformAccountID: acct.PlatformAccountID,
		AccessToken:       acct.AccessToken,
	}, nil
}

/* WebhookSource serves spy.WebhookSource from the store */
type WebhookSource struct {
	store Store
}

func NewWebhookSource(store Store) *WebhookSource {
	return &WebhookSource{store: store}
}

func (w *WebhookSource) SlackWebhook(ctx context.Context, agencyID uuid.UUID) (string, error) {
	agency, err := w.store.GetAgency(ctx, agencyID)
	if err != nil {
		return "", err
	}
	if agency.SlackWebhookURL == nil {
		return "", nil
	}
	return *agency.SlackWebhookURL, nil
}
