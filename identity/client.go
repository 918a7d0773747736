package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// UserRecord is one identity-directory entry. Users the directory does not
// know are simply absent from a bulk response.
type UserRecord struct {
	UserID            uint64   `json:"userId"`
	CustodyAddress    string   `json:"custodyAddress"`
	VerifiedAddresses []string `json:"verifiedAddresses"`
}

type bulkUsersResponse struct {
	Users []UserRecord `json:"users"`
}

// Client talks to the identity directory HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOption customises the directory client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithRateLimit bounds outbound directory calls to r requests per second.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// NewClient constructs a directory client for the provided base URL and API key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("identity: directory base url required")
	}
	client := &Client{
		baseURL: trimmed,
		apiKey:  strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BulkUsers fetches identity records for all provided user IDs in a single
// request. IDs unknown to the directory are missing from the result, not an
// error.
func (c *Client) BulkUsers(ctx context.Context, userIDs []uint64) ([]UserRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("identity: client not initialised")
	}
	if len(userIDs) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("identity: rate limit wait: %w", err)
		}
	}
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, strconv.FormatUint(id, 10))
	}
	endpoint := fmt.Sprintf("%s/v1/users/bulk?ids=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: bulk users request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: bulk users returned status %d", resp.StatusCode)
	}
	var payload bulkUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("identity: decode bulk users: %w", err)
	}
	return payload.Users, nil
}
