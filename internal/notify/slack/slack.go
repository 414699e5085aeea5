// Package slack sends batch notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

const httpTimeout = 10 * time.Second

// Notifier posts batch summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty,
// BatchComplete is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// BatchComplete posts the outcome of a classification batch to the
// configured webhook. Returns nil immediately when unconfigured.
func (n *Notifier) BatchComplete(ctx context.Context, summary *triage.BatchSummary) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(summary)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(s *triage.BatchSummary) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			contextBlock(s),
		},
	}
}

func headerBlock(s *triage.BatchSummary) map[string]any {
	emoji := ":white_check_mark:"
	if s.Result.Failed > 0 {
		emoji = ":warning:"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Mail triage batch finished", emoji),
		},
	}
}

func fieldsBlock(s *triage.BatchSummary) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Classified:* %d", s.Result.Classified)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Skipped:* %d", s.Result.Skipped)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Failed:* %d", s.Result.Failed)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:* %.1fs", s.Duration)},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(s *triage.BatchSummary) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("task `%s`", s.TaskID)},
		},
	}
}
