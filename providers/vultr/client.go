// Package vultr implements the inventory client against the Vultr v2 API.
package vultr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public API endpoint
	DefaultBaseURL = "https://api.vultr.com/v2"
	// DefaultRequestsPerSecond stays under the API's documented rate limit
	DefaultRequestsPerSecond = 2
	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second

	pageSize = 100
)

// apiError is the error body returned by the API
type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
}

// response is one completed round trip
type response struct {
	status int
	body   []byte
}

// detail extracts a human readable message from an error response
func (r *response) detail() string {
	var e apiError
	if err := json.Unmarshal(r.body, &e); err == nil && e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", r.status, e.Message)
	}
	text := strings.TrimSpace(string(r.body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return fmt.Sprintf("HTTP %d", r.status)
	}
	return fmt.Sprintf("HTTP %d: %s", r.status, text)
}

// client does authenticated, paced requests. It never retries.
type client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(baseURL, apiKey string, timeout time.Duration, rps float64) (*client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}

	return &client{
		baseURL: parsed,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// do sends one request. A non-nil error means no response was received;
// HTTP error statuses are returned in the response for the caller to map.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body any) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// list follows cursor pagination, handing each page body to fn. fn returns
// the next cursor.
func (c *client) list(ctx context.Context, path string, fn func(body []byte) (string, error)) error {
	cursor := ""
	for {
		query := url.Values{"per_page": []string{fmt.Sprint(pageSize)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		resp, err := c.do(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return err
		}
		if resp.status != http.StatusOK {
			return fmt.Errorf("%s", resp.detail())
		}

		next, err := fn(resp.body)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if next == "" || next == cursor {
			return nil
		}
		cursor = next
	}
}
