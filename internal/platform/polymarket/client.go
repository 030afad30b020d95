// Package polymarket reads prediction-market share positions from the
// Polymarket data API and normalises them into position snapshots.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// positionsPageSize is the largest page the data API serves.
const positionsPageSize = 500

// maxPositionPages stops a runaway pagination loop.
const maxPositionPages = 50

// DataClient is the REST client for the Polymarket data API.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a data API client.
//
// baseURL is the API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetPositions returns every position the API reports for user, including
// zero-size entries, following offset pagination.
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]APIPosition, error) {
	var all []APIPosition
	for page := range maxPositionPages {
		params := url.Values{}
		params.Set("user", user)
		params.Set("sizeThreshold", "0")
		params.Set("limit", strconv.Itoa(positionsPageSize))
		params.Set("offset", strconv.Itoa(page*positionsPageSize))

		body, err := c.doGet(ctx, "/positions?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("polymarket/data: get positions: %w", err)
		}

		var batch []APIPosition
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < positionsPageSize {
			return all, nil
		}
	}
	return nil, fmt.Errorf("polymarket/data: get positions: more than %d pages", maxPositionPages)
}

// doGet sends an unauthenticated GET request to the data API.
func (c *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
