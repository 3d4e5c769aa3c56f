/*-------------------------------------------------------------------------
 *
 * prompts.go
 *    Prompt text for proposal, analysis and narrative calls
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/inference/prompts.go
 *
 *-------------------------------------------------------------------------
 */

package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rakshittt/grow/internal/model"
	"github.com/shopspring/decimal"
)

const (
	maxPromptAds     = 20
	maxPromptScraped = 15
)

const optimizerSystemPrompt = `You are an expert Meta Ads optimizer. Analyze campaign performance data and recommend specific, justified actions within strict guardrails. Be conservative: when in doubt, do nothing. Every recommendation needs clear data-backed reasoning that a human media buyer will find convincing. Respond with a single JSON object.`

const spySystemPrompt = `You are a creative strategist and Meta Ads expert. You analyze competitor advertising to extract actionable intelligence for growth agencies. Focus on what makes ads run for a long time, since longevity means the market is rewarding the creative. Respond with a single JSON object.`

func proposalPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Analyze the following Meta Ads performance data and propose actions based on the rule's guardrails.\n\n")

	b.WriteString("## Rule Configuration\n")
	fmt.Fprintf(&b, "- Name: %s\n", in.Rule.Name)
	fmt.Fprintf(&b, "- Max daily budget ceiling: $%s (HARD LIMIT, never exceed)\n", orText(in.Rule.MaxDailyBudgetUSD, "unlimited"))
	fmt.Fprintf(&b, "- Min daily budget floor: $%s\n", orText(in.Rule.MinDailyBudgetUSD, "0"))
	fmt.Fprintf(&b, "- Target ROAS: %sx\n", orText(in.Rule.TargetROAS, "not set"))
	fmt.Fprintf(&b, "- Min ROAS before pausing: %sx\n", orText(in.Rule.MinROASThreshold, "not set"))
	fmt.Fprintf(&b, "- Attribution window: %s\n", in.Rule.AttributionWindow)
	fmt.Fprintf(&b, "- Min spend before any action: $%s\n", in.Rule.MinSpendBeforeActionUSD.StringFixed(2))
	fmt.Fprintf(&b, "- Max single budget increase: %d%%\n", in.Rule.MaxBudgetIncreasePct)
	fmt.Fprintf(&b, "- Max single budget decrease: %d%%\n", in.Rule.MaxBudgetDecreasePct)
	fmt.Fprintf(&b, "- Max ad frequency before pause: %s\n\n", orText(in.Rule.MaxAdFrequency, "not set"))

	b.WriteString("## Campaign Data (last 7 days)\n")
	b.WriteString(indentJSON(in.Campaigns))
	b.WriteString("\n\n## Ad-Level Data (last 7 days)\n")
	ads := in.Ads
	if len(ads) > maxPromptAds {
		ads = ads[:maxPromptAds]
	}
	b.WriteString(indentJSON(ads))

	b.WriteString(`

## Instructions
1. Only propose actions that are within the guardrail limits above.
2. For increase_budget: the new value must not exceed the max daily budget.
3. For pause: only if spend exceeds the min spend before action AND ROAS is below the min ROAS threshold.
4. Express budget values in USD (not cents) under proposed_value.daily_budget_usd and current_value.daily_budget_usd.
5. Put the last 7 days of spend in current_value.spend_7d.
6. If no action is warranted, return a single no_action entry.
7. The reasoning field is shown directly to a human in the approval inbox, so write it clearly.

Return {"actions": [...], "summary": "<one sentence>"} where each action has action_type (increase_budget, decrease_budget, pause, resume, adjust_bid, no_action), target_entity_type (campaign, adset, ad), target_entity_id, target_entity_name, current_value, proposed_value, reasoning, confidence_score (0 to 1) and urgency (low, medium, high).`)
	return b.String()
}

func analysisPrompt(ads []model.ScrapedAd, competitor string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these competitor ads scraped from the Meta Ad Library for %s.\n", competitor)
	b.WriteString("They are sorted by longevity, longest-running first. Long-running ads are proven performers, so focus on the top ones.\n\n")
	fmt.Fprintf(&b, "## Scraped Ads (%d total, sorted by longevity)\n", len(ads))
	if len(ads) > maxPromptScraped {
		ads = ads[:maxPromptScraped]
	}
	b.WriteString(indentJSON(ads))
	b.WriteString(`

Produce a strategic intelligence report that helps a performance marketing agency understand:
1. Which creative formats and hooks are working
2. Why the long-running ads have longevity
3. Which specific tests the agency should run against their own campaigns

Return {"top_ads": [{"ad_id", "page_name", "media_type", "active_days", "why_it_works", "hook_pattern", "cta_pattern"}], "dominant_format", "avg_longevity_days", "key_insights" (3 to 5 sentences), "recommended_tests" (array of strings), "confidence" (0 to 1)}.`)
	return b.String()
}

func narrativePrompt(report model.SpyReport, competitor string) string {
	return fmt.Sprintf("Summarize this competitor ad intelligence report for %s in 3 punchy bullet points for a Slack message. Be specific and actionable. Max 50 words total.\n\nReport: %s",
		competitor, compactJSON(report))
}

func orText(d decimal.NullDecimal, fallback string) string {
	if !d.Valid {
		return fallback
	}
	return d.Decimal.String()
}

func indentJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
