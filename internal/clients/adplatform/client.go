/*-------------------------------------------------------------------------
 *
 * client.go
 *    Ad platform client contract
 *
 * Reads are safe to call at any time. SetBudget and SetStatus change
 * live campaigns and are only invoked by the optimizer's execute path
 * after an approval record has been claimed.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/adplatform/client.go
 *
 *-------------------------------------------------------------------------
 */

package adplatform

import (
	"context"
	"fmt"
	"sync"

	"github.com/rakshittt/grow/internal/model"
)

type Client interface {
	FetchCampaigns(ctx context.Context, account model.AdAccount, window string, scope Scope) ([]model.Campaign, error)
	FetchAds(ctx context.Context, account model.AdAccount, campaignID string) ([]model.Ad, error)
	SetBudget(ctx context.Context, account model.AdAccount, campaignID string, dailyBudgetCents int64) (model.WriteResult, error)
	SetStatus(ctx context.Context, account model.AdAccount, adID string, status model.EntityStatus) (model.WriteResult, error)
}

/* Scope restricts campaigns to explicit ids, or to active campaigns when empty */
type Scope struct {
	CampaignIDs []string
}

func (s Scope) Matches(c model.Campaign) bool {
	if len(s.CampaignIDs) == 0 {
		return c.Status == model.StatusActive
	}
	for _, id := range s.CampaignIDs {
		if id == c.ID {
			return true
		}
	}
	return false
}

func (s Scope) Filter(campaigns []model.Campaign) []model.Campaign {
	out := make([]model.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if s.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

/* Write records one mutating call made against a FakeClient */
type Write struct {
	Kind     string
	TargetID string
	Cents    int64
	Status   model.EntityStatus
}

/* FakeClient serves canned data and records writes */
type FakeClient struct {
	mu        sync.Mutex
	Campaigns []model.Campaign
	Ads       map[string][]model.Ad
	FetchErr  error
	AdsErr    map[string]error
	WriteErr  error
	writes    []Write
}

func (f *FakeClient) FetchCampaigns(ctx context.Context, account model.AdAccount, window string, scope Scope) ([]model.Campaign, error) {
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return scope.Filter(f.Campaigns), nil
}

func (f *FakeClient) FetchAds(ctx context.Context, account model.AdAccount, campaignID string) ([]model.Ad, error) {
	if err := f.AdsErr[campaignID]; err != nil {
		return nil, err
	}
	return f.Ads[campaignID], nil
}

func (f *FakeClient) SetBudget(ctx context.Context, account model.AdAccount, campaignID string, cents int64) (model.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, Write{Kind: "budget", TargetID: campaignID, Cents: cents})
	if f.WriteErr != nil {
		return model.WriteResult{}, f.WriteErr
	}
	return model.WriteResult{Success: true, ID: campaignID}, nil
}

func (f *FakeClient) SetStatus(ctx context.Context, account model.AdAccount, adID string, status model.EntityStatus) (model.WriteResult, error) {
	if status != model.StatusActive && status != model.StatusPaused {
		return model.WriteResult{}, fmt.Errorf("unsupported status: %s", status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, Write{Kind: "status", TargetID: adID, Status: status})
	if f.WriteErr != nil {
		return model.WriteResult{}, f.WriteErr
	}
	return model.WriteResult{Success: true, ID: adID}, nil
}

/* Writes returns every write attempted so far */
func (f *FakeClient) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}
