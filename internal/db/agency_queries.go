/*-------------------------------------------------------------------------
 *
 * agency_queries.go
 *    Database queries for agencies and ad accounts
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/agency_queries.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	createAgencyQuery = `
		INSERT INTO grow.agencies (name, slack_webhook_url)
		VALUES ($1, $2)
		RETURNING id, created_at`

	getAgencyQuery = `SELECT * FROM grow.agencies WHERE id = $1`

	createAdAccountQuery = `
		INSERT INTO grow.ad_accounts (agency_id, platform_account_id, access_token, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	getAdAccountQuery = `SELECT * FROM grow.ad_accounts WHERE id = $1`

	getAdAccountForAgencyQuery = `SELECT * FROM grow.ad_accounts WHERE id = $1 AND agency_id = $2`
)

func (q *Queries) CreateAgency(ctx context.Context, agency *Agency) error {
	err := q.DB.GetContext(ctx, agency, createAgencyQuery, agency.Name, agency.SlackWebhookURL)
	if err != nil {
		return fmt.Errorf("agency creation failed: name='%s', error=%w", agency.Name, err)
	}
	return nil
}

func (q *Queries) GetAgency(ctx context.Context, id uuid.UUID) (*Agency, error) {
	var agency Agency
	if err := q.DB.GetContext(ctx, &agency, getAgencyQuery, id); err != nil {
		return nil, notFound(err, "agency", id)
	}
	return &agency, nil
}

func (q *Queries) CreateAdAccount(ctx context.Context, account *AdAccount) error {
	if account.Status == "" {
		account.Status = StatusActive
	}
	err := q.DB.GetContext(ctx, account, createAdAccountQuery,
		account.AgencyID, account.PlatformAccountID, account.AccessToken, account.Status)
	if err != nil {
		return fmt.Errorf("ad account creation failed: platform_account_id='%s', error=%w", account.PlatformAccountID, err)
	}
	return nil
}

/* GetAdAccount loads an account including its access token; callers must not log the result */
func (q *Queries) GetAdAccount(ctx context.Context, id uuid.UUID) (*AdAccount, error) {
	var account AdAccount
	if err := q.DB.GetContext(ctx, &account, getAdAccountQuery, id); err != nil {
		return nil, notFound(err, "ad account", id)
	}
	return &account, nil
}

func (q *Queries) GetAdAccountForAgency(ctx context.Context, agencyID, id uuid.UUID) (*AdAccount, error) {
	var account AdAccount
	if err := q.DB.GetContext(ctx, &account, getAdAccountForAgencyQuery, id, agencyID); err != nil {
		return nil, notFound(err, "ad account", id)
	}
	return &account, nil
}
