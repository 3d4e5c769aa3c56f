/*-------------------------------------------------------------------------
 *
 * spy.go
 *    Scraped competitor ads and intelligence reports
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/model/spy.go
 *
 *-------------------------------------------------------------------------
 */

package model

import "sort"

type ScrapedAd struct {
	AdID                 string   `json:"adId"`
	PageID               string   `json:"pageId"`
	PageName             string   `json:"pageName"`
	AdTitle              string   `json:"adTitle,omitempty"`
	AdBody               string   `json:"adBody,omitempty"`
	AdURL                string   `json:"adUrl,omitempty"`
	MediaType            string   `json:"mediaType"`
	ThumbnailURL         string   `json:"thumbnailUrl,omitempty"`
	StartDate            string   `json:"startDate"`
	EndDate              string   `json:"endDate,omitempty"`
	ActiveDays           int      `json:"activeDays"`
	Countries            []string `json:"countries,omitempty"`
	EstimatedImpressions string   `json:"estimatedImpressions,omitempty"`
	SpendRange           string   `json:"spendRange,omitempty"`
	Platforms            []string `json:"platforms,omitempty"`
}

/*
 * FilterByLongevity keeps ads running at least minDays, longest first.
 * Ties keep their input order.
 */
func FilterByLongevity(ads []ScrapedAd, minDays int) []ScrapedAd {
	out := make([]ScrapedAd, 0, len(ads))
	for _, ad := range ads {
		if ad.ActiveDays >= minDays {
			out = append(out, ad)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ActiveDays > out[j].ActiveDays
	})
	return out
}

type TopAd struct {
	AdID       string `json:"ad_id"`
	PageName   string `json:"page_name"`
	MediaType  string `json:"media_type"`
	ActiveDays int    `json:"active_days"`
	WhyItWorks string `json:"why_it_works"`
	Hook       string `json:"hook_pattern"`
	CTA        string `json:"cta_pattern"`
}

type SpyReport struct {
	TopAds           []TopAd  `json:"top_ads"`
	DominantFormat   string   `json:"dominant_format"`
	AvgLongevityDays float64  `json:"avg_longevity_days"`
	KeyInsights      string   `json:"key_insights"`
	RecommendedTests []string `json:"recommended_tests"`
	Confidence       float64  `json:"confidence"`
}

/* LongestRunning returns the maximum active_days among the top ads */
func (r SpyReport) LongestRunning() int {
	longest := 0
	for _, ad := range r.TopAds {
		if ad.ActiveDays > longest {
			longest = ad.ActiveDays
		}
	}
	return longest
}
