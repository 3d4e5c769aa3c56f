/*-------------------------------------------------------------------------
 *
 * meta.go
 *    Meta Graph API client
 *
 * Graph returns most numerics as strings and nests insights under a
 * data array, so responses are decoded into raw structs first and then
 * mapped onto the model types. Every request waits on a token bucket
 * and runs through a circuit breaker. Reads are retried with backoff,
 * writes are attempted exactly once.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/adplatform/meta.go
 *
 *-------------------------------------------------------------------------
 */

package adplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rakshittt/grow/internal/config"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/reliability"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultWindow = "last_7d"
	campaignLimit = 50
	maxPages      = 10
	maxBodyBytes  = 8 << 20
)

/* GraphError is the error object Graph returns alongside a 4xx/5xx */
type GraphError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("meta graph error: status=%d, code=%d, type='%s', message='%s'", e.StatusCode, e.Code, e.Type, e.Message)
}

type MetaClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	breaker    *reliability.CircuitBreaker
	retry      reliability.RetryPolicy
}

type MetaOption func(*MetaClient)

func WithHTTPClient(c *http.Client) MetaOption {
	return func(m *MetaClient) { m.httpClient = c }
}

func WithRetryPolicy(p reliability.RetryPolicy) MetaOption {
	return func(m *MetaClient) { m.retry = p }
}

func WithCircuitBreaker(cb *reliability.CircuitBreaker) MetaOption {
	return func(m *MetaClient) { m.breaker = cb }
}

func NewMetaClient(cfg config.MetaConfig, opts ...MetaOption) *MetaClient {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	m := &MetaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.APIBase, "/") + "/" + strings.Trim(cfg.APIVersion, "/"),
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    reliability.NewCircuitBreaker("meta", 5, 30*time.Second),
		retry:      reliability.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type rawInsights struct {
	Spend        decimal.Decimal `json:"spend"`
	Impressions  decimal.Decimal `json:"impressions"`
	Clicks       decimal.Decimal `json:"clicks"`
	PurchaseROAS []struct {
		ActionType string          `json:"action_type"`
		Value      decimal.Decimal `json:"value"`
	} `json:"purchase_roas"`
	Frequency decimal.Decimal `json:"frequency"`
	CPM       decimal.Decimal `json:"cpm"`
	CPC       decimal.Decimal `json:"cpc"`
	DateStart string          `json:"date_start"`
	DateStop  string          `json:"date_stop"`
}

type rawInsightsEdge struct {
	Data []rawInsights `json:"data"`
}

func (e *rawInsightsEdge) toModel() *model.Insights {
	if e == nil || len(e.Data) == 0 {
		return nil
	}
	r := e.Data[0]
	in := &model.Insights{
		Spend:       r.Spend.InexactFloat64(),
		Impressions: r.Impressions.IntPart(),
		Clicks:      r.Clicks.IntPart(),
		Frequency:   r.Frequency.InexactFloat64(),
		CPM:         r.CPM.InexactFloat64(),
		CPC:         r.CPC.InexactFloat64(),
		DateStart:   r.DateStart,
		DateStop:    r.DateStop,
	}
	if len(r.PurchaseROAS) > 0 {
		in.PurchaseROAS = r.PurchaseROAS[0].Value.InexactFloat64()
	}
	return in
}

type rawCampaign struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         string           `json:"status"`
	DailyBudget    decimal.Decimal  `json:"daily_budget"`
	LifetimeBudget decimal.Decimal  `json:"lifetime_budget"`
	Objective      string           `json:"objective"`
	Insights       *rawInsightsEdge `json:"insights"`
}

type rawAd struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AdSetID  string `json:"adset_id"`
	Status   string `json:"status"`
	Creative *struct {
		ID           string `json:"id"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"creative"`
	Insights *rawInsightsEdge `json:"insights"`
}

type page[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

/* FetchCampaigns lists the account's campaigns with insights for window, filtered by scope */
func (m *MetaClient) FetchCampaigns(ctx context.Context, account model.AdAccount, window string, scope Scope) ([]model.Campaign, error) {
	if window == "" {
		window = DefaultWindow
	}
	q := url.Values{}
	q.Set("fields", "id,name,status,daily_budget,lifetime_budget,objective,insights.date_preset("+window+"){spend,impressions,clicks,purchase_roas,frequency,cpm,cpc}")
	q.Set("limit", strconv.Itoa(campaignLimit))

	raws, err := fetchAll[rawCampaign](ctx, m, account, "fetch_campaigns", "/"+account.PlatformAccountID+"/campaigns", q)
	if err != nil {
		return nil, fmt.Errorf("fetch campaigns failed: account='%s', error=%w", account.PlatformAccountID, err)
	}

	campaigns := make([]model.Campaign, 0, len(raws))
	for _, r := range raws {
		campaigns = append(campaigns, model.Campaign{
			ID:                  r.ID,
			Name:                r.Name,
			Status:              model.EntityStatus(r.Status),
			DailyBudgetCents:    r.DailyBudget.IntPart(),
			LifetimeBudgetCents: r.LifetimeBudget.IntPart(),
			Objective:           r.Objective,
			Insights:            r.Insights.toModel(),
		})
	}
	return scope.Filter(campaigns), nil
}

func (m *MetaClient) FetchAds(ctx context.Context, account model.AdAccount, campaignID string) ([]model.Ad, error) {
	q := url.Values{}
	q.Set("fields", "id,name,adset_id,status,creative{id,thumbnail_url},insights.date_preset("+DefaultWindow+"){spend,impressions,purchase_roas,frequency,cpm}")

	raws, err := fetchAll[rawAd](ctx, m, account, "fetch_ads", "/"+campaignID+"/ads", q)
	if err != nil {
		return nil, fmt.Errorf("fetch ads failed: campaign_id='%s', error=%w", campaignID, err)
	}

	ads := make([]model.Ad, 0, len(raws))
	for _, r := range raws {
		ad := model.Ad{
			ID:         r.ID,
			Name:       r.Name,
			AdSetID:    r.AdSetID,
			CampaignID: campaignID,
			Status:     model.EntityStatus(r.Status),
			Insights:   r.Insights.toModel(),
		}
		if r.Creative != nil {
			ad.CreativeID = r.Creative.ID
		}
		ads = append(ads, ad)
	}
	return ads, nil
}

/* SetBudget sets a campaign's daily budget in minor units */
func (m *MetaClient) SetBudget(ctx context.Context, account model.AdAccount, campaignID string, dailyBudgetCents int64) (model.WriteResult, error) {
	if dailyBudgetCents <= 0 {
		return model.WriteResult{}, fmt.Errorf("invalid daily budget: campaign_id='%s', cents=%d", campaignID, dailyBudgetCents)
	}
	form := url.Values{}
	form.Set("daily_budget", strconv.FormatInt(dailyBudgetCents, 10))
	return m.write(ctx, account, "set_budget", campaignID, form)
}

func (m *MetaClient) SetStatus(ctx context.Context, account model.AdAccount, adID string, status model.EntityStatus) (model.WriteResult, error) {
	if status != model.StatusActive && status != model.StatusPaused {
		return model.WriteResult{}, fmt.Errorf("unsupported status: ad_id='%s', status='%s'", adID, status)
	}
	form := url.Values{}
	form.Set("status", string(status))
	return m.write(ctx, account, "set_status", adID, form)
}

func (m *MetaClient) write(ctx context.Context, account model.AdAccount, op, id string, form url.Values) (model.WriteResult, error) {
	var out struct {
		ID      string `json:"id"`
		Success *bool  `json:"success"`
	}
	err := m.breaker.Execute(ctx, func() error {
		return m.do(ctx, account, http.MethodPost, m.baseURL+"/"+id, form, &out)
	})
	metrics.RecordExternalCall("meta", op, err)
	if err != nil {
		return model.WriteResult{}, fmt.Errorf("meta %s failed: id='%s', error=%w", op, id, err)
	}
	if out.ID == "" {
		out.ID = id
	}
	success := out.Success == nil || *out.Success
	return model.WriteResult{Success: success, ID: out.ID}, nil
}

/* fetchAll follows paging.next up to maxPages */
func fetchAll[T any](ctx context.Context, m *MetaClient, account model.AdAccount, op, path string, q url.Values) ([]T, error) {
	var all []T
	next := m.baseURL + path + "?" + q.Encode()
	for i := 0; i < maxPages && next != ""; i++ {
		var p page[T]
		target := next
		err := reliability.Retry(ctx, m.retry, "meta."+op, func() error {
			p = page[T]{}
			return m.breaker.Execute(ctx, func() error {
				return m.do(ctx, account, http.MethodGet, target, nil, &p)
			})
		})
		metrics.RecordExternalCall("meta", op, err)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Data...)
		next = p.Paging.Next
	}
	return all, nil
}

func (m *MetaClient) do(ctx context.Context, account model.AdAccount, method, target string, form url.Values, out interface{}) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return reliability.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("User-Agent", "grow/1.0")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		gerr := &GraphError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *GraphError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			gerr.Message = envelope.Error.Message
			gerr.Type = envelope.Error.Type
			gerr.Code = envelope.Error.Code
			gerr.TraceID = envelope.Error.TraceID
		} else {
			gerr.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return reliability.Permanent(gerr)
		}
		return gerr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return reliability.Permanent(fmt.Errorf("failed to decode graph response: %w", err))
	}
	return nil
}

/* IsAuthError reports whether err is an expired or invalid token */
func IsAuthError(err error) bool {
	var gerr *GraphError
	return errors.As(err, &gerr) && (gerr.Code == 190 || gerr.StatusCode == http.StatusUnauthorized)
}
