// Package hyperliquid reads perpetual positions, listings, mid prices and
// spot balances from the Hyperliquid info endpoint.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Client is a read-only client for POST /info.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an info client.
//
// baseURL is the API root, e.g. "https://api.hyperliquid.xyz".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ClearinghouseState returns the perpetual account state for user.
func (c *Client) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	var out ClearinghouseState
	if err := c.info(ctx, infoRequest{Type: "clearinghouseState", User: user}, &out); err != nil {
		return ClearinghouseState{}, fmt.Errorf("hyperliquid: clearinghouse state: %w", err)
	}
	return out, nil
}

// SpotClearinghouseState returns the spot balances for user.
func (c *Client) SpotClearinghouseState(ctx context.Context, user string) (SpotState, error) {
	var out SpotState
	if err := c.info(ctx, infoRequest{Type: "spotClearinghouseState", User: user}, &out); err != nil {
		return SpotState{}, fmt.Errorf("hyperliquid: spot state: %w", err)
	}
	return out, nil
}

// Meta returns the perpetual universe.
func (c *Client) Meta(ctx context.Context) (Meta, error) {
	var out Meta
	if err := c.info(ctx, infoRequest{Type: "meta"}, &out); err != nil {
		return Meta{}, fmt.Errorf("hyperliquid: meta: %w", err)
	}
	return out, nil
}

// AllMids returns mid prices keyed by coin.
func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.info(ctx, infoRequest{Type: "allMids"}, &out); err != nil {
		return nil, fmt.Errorf("hyperliquid: all mids: %w", err)
	}
	return out, nil
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// info posts req to /info and decodes the response into out.
func (c *Client) info(ctx context.Context, req infoRequest, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.Type, err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
