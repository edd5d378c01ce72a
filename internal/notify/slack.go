package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	cfg    alert.ChannelConfig
	client *http.Client
}

func NewSlackChannel(cfg alert.ChannelConfig) *SlackChannel {
	return &SlackChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *SlackChannel) Kind() string { return "slack" }

func (c *SlackChannel) NotifyOnRecovery() bool { return c.cfg.NotifyOnRecovery }

func (c *SlackChannel) Validate() error {
	if c.cfg.WebhookURL == "" {
		return Permanent(fmt.Errorf("slack channel missing webhook_url"))
	}
	if !strings.HasPrefix(c.cfg.WebhookURL, "https://hooks.slack.com/") {
		return Permanent(fmt.Errorf("webhook_url %q is not a Slack incoming webhook", c.cfg.WebhookURL))
	}
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"text":   c.headline(msg),
		"blocks": slackBlocks(msg),
	}
	if c.cfg.ChannelName != "" {
		payload["channel"] = c.cfg.ChannelName
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyHTTPStatus(resp)
}

func (c *SlackChannel) headline(msg Message) string {
	icon := ":rotating_light:"
	if msg.Verdict == alert.VerdictOK {
		icon = ":white_check_mark:"
	}
	return fmt.Sprintf("%s %s: %s", icon, msg.Verdict, msg.AlertName)
}

func slackBlocks(msg Message) []map[string]any {
	var lines []string
	if msg.Description != "" {
		lines = append(lines, msg.Description)
	}
	if msg.ActualValue != nil {
		lines = append(lines, fmt.Sprintf("*Actual value:* %v", msg.ActualValue))
	}
	if msg.Threshold != nil {
		lines = append(lines, fmt.Sprintf("*Threshold:* %v", msg.Threshold))
	}
	for _, field := range msg.Context {
		lines = append(lines, fmt.Sprintf("*%s:* %v", field.Name, field.Value))
	}
	lines = append(lines, fmt.Sprintf("_%s_", msg.Timestamp.UTC().Format(time.RFC3339)))

	return []map[string]any{
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s: %s*\n%s", msg.Verdict, msg.AlertName, strings.Join(lines, "\n")),
			},
		},
	}
}

// classifyHTTPStatus maps a response to a retryable or permanent error.
// Timeouts, throttling and server errors are worth retrying; everything
// else in the 4xx range means the request itself is wrong.
func classifyHTTPStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return err
	default:
		return Permanent(err)
	}
}
