/*-------------------------------------------------------------------------
 *
 * webhook.go
 *    Webhook delivery
 *
 * Posts JSON payloads to incoming-webhook URLs. Any non-2xx response
 * is an error; callers decide whether delivery failures matter.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/notifications/webhook.go
 *
 *-------------------------------------------------------------------------
 */

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rakshittt/grow/internal/metrics"
)

type WebhookSender struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

/* Post sends payload as JSON to url */
func (w *WebhookSender) Post(ctx context.Context, url string, payload interface{}) error {
	return w.PostWithHeaders(ctx, url, payload, nil)
}

func (w *WebhookSender) PostWithHeaders(ctx context.Context, url string, payload interface{}, headers map[string]string) error {
	if url == "" {
		return fmt.Errorf("webhook URL is required")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook payload serialization failed: error=%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadJSON))
	if err != nil {
		return fmt.Errorf("webhook request creation failed: error=%w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "grow/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	metrics.RecordExternalCall("webhook", "post", err)
	if err != nil {
		/* webhook URLs embed secrets, keep them out of errors */
		return fmt.Errorf("webhook request failed: error=%w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed: status_code=%d", resp.StatusCode)
	}
	return nil
}
