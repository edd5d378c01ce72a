package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// WebhookChannel POSTs (or sends with a configured method) the execution
// result as JSON to an arbitrary HTTP endpoint.
type WebhookChannel struct {
	cfg    alert.ChannelConfig
	client *http.Client
}

func NewWebhookChannel(cfg alert.ChannelConfig) *WebhookChannel {
	return &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Kind() string { return "webhook" }

func (c *WebhookChannel) NotifyOnRecovery() bool { return c.cfg.NotifyOnRecovery }

func (c *WebhookChannel) method() string {
	if c.cfg.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(c.cfg.Method)
}

func (c *WebhookChannel) Validate() error {
	if c.cfg.URL == "" {
		return Permanent(fmt.Errorf("webhook channel missing url"))
	}
	parsed, err := url.Parse(c.cfg.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Permanent(fmt.Errorf("webhook url %q is not http(s)", c.cfg.URL))
	}
	switch c.method() {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return Permanent(fmt.Errorf("unsupported webhook method %q", c.cfg.Method))
	}
	return nil
}

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return Permanent(err)
	}

	var reader *bytes.Reader
	method := c.method()
	if method == http.MethodGet {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL, reader)
	if err != nil {
		return Permanent(err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyHTTPStatus(resp)
}
