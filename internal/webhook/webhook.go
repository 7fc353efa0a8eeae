// Package webhook delivers best-effort, HMAC-signed notifications to a
// provider's webhook endpoint.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
)

// Notification is the payload delivered to a provider's webhook, such as
// the sidecar's low-balance warning.
type Notification struct {
	Event       string `json:"event"`
	UserAddress string `json:"user_address"`
	ServiceID   string `json:"service_id"`
	Detail      string `json:"detail"`
}

// Client delivers signed notifications to a single configured endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	secret     string
}

// New constructs a webhook client. If url or secret is empty, Deliver is a
// no-op, since PROVIDER_WEBHOOK_URL/_SECRET are optional configuration.
func New(httpClient *http.Client, url, secret string) *Client {
	return &Client{httpClient: httpClient, url: url, secret: secret}
}

// Enabled reports whether this client has a destination configured.
func (c *Client) Enabled() bool {
	return c.url != "" && c.secret != ""
}

// Deliver signs the notification body with HMAC-SHA256 over the secret and
// POSTs it with the digest in X-Infrapass-Signature. Delivery is
// best-effort: callers should invoke this from a detached goroutine, never
// from the hot path.
func (c *Client) Deliver(n Notification) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal notification: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Infrapass-Signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: provider responded %d", resp.StatusCode)
	}
	return nil
}
