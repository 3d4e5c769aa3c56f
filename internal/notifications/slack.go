/*-------------------------------------------------------------------------
 *
 * slack.go
 *    Slack Block Kit notifier
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/notifications/slack.go
 *
 *-------------------------------------------------------------------------
 */

package notifications

import (
	"context"
	"fmt"
	"strings"
)

/* Notifier delivers a message to a target such as an incoming-webhook URL */
type Notifier interface {
	Send(ctx context.Context, target string, message Message) error
}

type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type Block struct {
	Type   string `json:"type"`
	Text   *Text  `json:"text,omitempty"`
	Fields []Text `json:"fields,omitempty"`
}

type Message struct {
	Text   string  `json:"text,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

/* ReportSummary is the digest of a spy report posted after each run */
type ReportSummary struct {
	TrackerName        string
	CompetitorName     string
	TopAdsCount        int
	LongestRunningDays int
	TopFormat          string
	Insights           string
	ReportURL          string
}

/* SpyReportMessage renders the report digest as Block Kit */
func SpyReportMessage(r ReportSummary) Message {
	blocks := []Block{
		{Type: "header", Text: &Text{Type: "plain_text", Text: "Spy Report: " + r.CompetitorName, Emoji: true}},
		{Type: "section", Fields: []Text{
			mrkdwn(fmt.Sprintf("*Tracker:*\n%s", r.TrackerName)),
			mrkdwn(fmt.Sprintf("*Top Ads Found:*\n%d", r.TopAdsCount)),
			mrkdwn(fmt.Sprintf("*Longest-Running Ad:*\n%d days", r.LongestRunningDays)),
			mrkdwn(fmt.Sprintf("*Dominant Format:*\n%s", r.TopFormat)),
		}},
		{Type: "section", Text: ptr(mrkdwn("*AI Insight:*\n" + r.Insights))},
	}
	if r.ReportURL != "" {
		blocks = append(blocks, Block{Type: "section", Text: ptr(mrkdwn(fmt.Sprintf("<%s|View full report>", r.ReportURL)))})
	}
	return Message{
		Text:   fmt.Sprintf("Spy report for %s: %d top ads", r.CompetitorName, r.TopAdsCount),
		Blocks: blocks,
	}
}

func mrkdwn(s string) Text { return Text{Type: "mrkdwn", Text: s} }

func ptr(t Text) *Text { return &t }

type SlackNotifier struct {
	webhook *WebhookSender
}

func NewSlackNotifier(webhook *WebhookSender) *SlackNotifier {
	return &SlackNotifier{webhook: webhook}
}

func (s *SlackNotifier) Send(ctx context.Context, target string, message Message) error {
	if !strings.HasPrefix(target, "https://") && !strings.HasPrefix(target, "http://") {
		return fmt.Errorf("slack notification failed: invalid webhook target")
	}
	if err := s.webhook.Post(ctx, target, message); err != nil {
		return fmt.Errorf("slack notification failed: %w", err)
	}
	return nil
}
