// SPDX-License-Identifier: MIT

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ManuGH/rbxjoin/internal/platform/httpx"
	platformnet "github.com/ManuGH/rbxjoin/internal/platform/net"
)

// NotificationError is a failed notification. It is never fatal.
type NotificationError struct {
	Status int
	Err    error
}

func (e *NotificationError) Error() string {
	if e.Status > 0 && e.Err == nil {
		return fmt.Sprintf("notification rejected (HTTP %d)", e.Status)
	}
	if e.Status > 0 {
		return fmt.Sprintf("notification rejected (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// WebhookNotifier posts {"content": text} to a chat webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: httpx.New(httpx.Options{Timeout: timeout, Traced: true}),
	}
}

type webhookMessage struct {
	Content string `json:"content"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookMessage{Content: text})
	if err != nil {
		return &NotificationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return &NotificationError{Err: n.redact(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &NotificationError{Err: n.redact(err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &NotificationError{Status: resp.StatusCode}
	}
	return nil
}

// redact swaps the webhook URL inside err for its sanitized form. The path
// of a webhook URL is its token.
func (n *WebhookNotifier) redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	return &url.Error{Op: uerr.Op, URL: platformnet.SanitizeURL(n.url), Err: uerr.Err}
}
