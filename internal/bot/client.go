// Package bot implements the outbound boundary to the bot-orchestration
// backend: normalized canonical messages are POSTed to its webhook. The
// backend's own signing and retry semantics live on its side of the wire;
// this client only attaches the shared secret header.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tbourn/go-whatsapp-connector/internal/config"
	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// secretHeader carries the shared webhook secret on every delivery.
const secretHeader = "X-Hub-Secret"

// Client delivers canonical messages to the bot backend webhook.
type Client struct {
	webhookURL string
	secret     string
	httpClient *http.Client
}

// NewClient builds a bot webhook client. The injected http.Client carries
// the outbound timeout policy.
func NewClient(cfg config.BotConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		webhookURL: cfg.WebhookURL,
		secret:     cfg.WebhookSecret,
		httpClient: hc,
	}
}

// Deliver POSTs one canonical message to the bot backend. A non-2xx status
// is an error; the caller logs and continues with sibling messages.
func (c *Client) Deliver(ctx context.Context, msg domain.CanonicalMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal canonical message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to bot backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("deliver to bot backend: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
