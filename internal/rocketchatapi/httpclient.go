package rocketchatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// HTTPClient is the concrete Client implementation backed by the
// Rocket.Chat REST API, authenticated with a single user's credentials.
type HTTPClient struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient bound to baseURL, authenticating
// every request with creds. Missing credential fields are sent as empty
// strings (spec.md §9's explicit-substitution design note — Credentials
// itself is where that choice is made, not this transport).
func NewHTTPClient(baseURL string, creds Credentials, timeout time.Duration) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, creds: creds, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) PostChatMessage(ctx context.Context, channelID, text string) error {
	body, err := json.Marshal(map[string]string{
		"channel": channelID,
		"text":    text,
	})
	if err != nil {
		return errs.Wrap(errs.RocketchatAPIError, err, "marshal chat.postMessage body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.RocketchatAPIError, err, "build chat.postMessage request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.creds.AuthToken)
	req.Header.Set("X-User-Id", c.creds.UserID)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.RocketchatAPIError, err, "chat.postMessage")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errs.New(errs.RocketchatAPIError, fmt.Sprintf("chat.postMessage: unexpected status %d", resp.StatusCode))
	}
	return nil
}
