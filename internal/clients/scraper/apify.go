/*-------------------------------------------------------------------------
 *
 * apify.go
 *    Apify REST client
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/scraper/apify.go
 *
 *-------------------------------------------------------------------------
 */

package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rakshittt/grow/internal/config"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/model"
	"github.com/rakshittt/grow/internal/reliability"
	"golang.org/x/time/rate"
)

const (
	datasetLimit  = 200
	datasetFields = "adId,pageId,pageName,adTitle,adBody,adUrl,mediaType,thumbnailUrl,startDate,endDate,activeDays,countries,estimatedImpressions,spendRange,platforms"
)

type ApifyClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	actorID    string
	limiter    *rate.Limiter
	breaker    *reliability.CircuitBreaker
	retry      reliability.RetryPolicy
}

func NewApifyClient(cfg config.ApifyConfig) *ApifyClient {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &ApifyClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.APIBase, "/"),
		token:      cfg.Token,
		actorID:    cfg.ActorID,
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    reliability.NewCircuitBreaker("apify", 5, time.Minute),
		retry:      reliability.DefaultRetryPolicy,
	}
}

/* SetRetryPolicy overrides the backoff used for reads */
func (a *ApifyClient) SetRetryPolicy(p reliability.RetryPolicy) {
	a.retry = p
}

/* Trigger starts an actor run and returns its id without waiting. It is never retried. */
func (a *ApifyClient) Trigger(ctx context.Context, req Request) (string, error) {
	adType := req.AdType
	if adType == "" {
		adType = "ALL"
	}
	input := map[string]interface{}{
		"country": req.Country,
		"adType":  adType,
		"limit":   req.Limit,
	}
	if len(req.StartURLs) > 0 {
		urls := make([]map[string]string, 0, len(req.StartURLs))
		for _, u := range req.StartURLs {
			urls = append(urls, map[string]string{"url": u})
		}
		input["startUrls"] = urls
	}
	if len(req.SearchTerms) > 0 {
		input["searchTerms"] = req.SearchTerms
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	target := a.baseURL + "/acts/" + url.PathEscape(a.actorID) + "/runs"
	err := a.breaker.Execute(ctx, func() error {
		return a.do(ctx, http.MethodPost, target, input, &out)
	})
	metrics.RecordExternalCall("apify", "trigger", err)
	if err != nil {
		return "", fmt.Errorf("apify run trigger failed: actor='%s', error=%w", a.actorID, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("apify run trigger failed: actor='%s', error=empty run id", a.actorID)
	}
	return out.Data.ID, nil
}

func (a *ApifyClient) Status(ctx context.Context, handle string) (RunStatus, error) {
	var out struct {
		Data struct {
			ID               string `json:"id"`
			Status           string `json:"status"`
			DefaultDatasetID string `json:"defaultDatasetId"`
		} `json:"data"`
	}
	err := a.read(ctx, "status", a.baseURL+"/actor-runs/"+url.PathEscape(handle), &out)
	if err != nil {
		return RunStatus{}, fmt.Errorf("apify status poll failed: run_id='%s', error=%w", handle, err)
	}
	return RunStatus{
		ID:        out.Data.ID,
		State:     stateFromApify(out.Data.Status),
		RawStatus: out.Data.Status,
		DatasetID: out.Data.DefaultDatasetID,
	}, nil
}

/* FetchResults reads a dataset and keeps ads running at least minLongevityDays, longest first */
func (a *ApifyClient) FetchResults(ctx context.Context, datasetID string, minLongevityDays int) ([]model.ScrapedAd, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(datasetLimit))
	q.Set("fields", datasetFields)

	var items []model.ScrapedAd
	err := a.read(ctx, "fetch_results", a.baseURL+"/datasets/"+url.PathEscape(datasetID)+"/items?"+q.Encode(), &items)
	if err != nil {
		return nil, fmt.Errorf("apify dataset fetch failed: dataset_id='%s', error=%w", datasetID, err)
	}
	return model.FilterByLongevity(items, minLongevityDays), nil
}

func (a *ApifyClient) read(ctx context.Context, op, target string, out interface{}) error {
	err := reliability.Retry(ctx, a.retry, "apify."+op, func() error {
		return a.breaker.Execute(ctx, func() error {
			return a.do(ctx, http.MethodGet, target, nil, out)
		})
	})
	metrics.RecordExternalCall("apify", op, err)
	return err
}

func (a *ApifyClient) do(ctx context.Context, method, target string, payload interface{}, out interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return reliability.Permanent(fmt.Errorf("payload serialization failed: error=%w", err))
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return reliability.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("status_code=%d, body='%s'", resp.StatusCode, truncate(string(data), 512))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return reliability.Permanent(err)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return reliability.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
