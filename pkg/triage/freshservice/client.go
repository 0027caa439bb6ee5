// Package freshservice is a small client for the Freshservice v2 REST API:
// ticket form fields, paged ticket listing and taxonomy updates.
package freshservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	maxRetries     = 3
	minPerPage     = 30
	maxPerPage     = 100
	defaultPerPage = 100
)

// Client talks to one Freshservice account using API-key basic auth.
type Client struct {
	baseURL    string
	apiKey     string
	perPage    int
	interval   time.Duration
	httpClient *http.Client
	backoff    func(attempt int, lastErr *APIError) time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithPerPage sets the page size, clamped to the API's 30..100 range.
func WithPerPage(n int) Option {
	return func(c *Client) {
		c.perPage = clampPerPage(n)
	}
}

// WithRateLimit spaces requests so no more than perMinute are sent per
// minute. Zero disables pacing.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.interval = time.Minute / time.Duration(perMinute)
		} else {
			c.interval = 0
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a Client for baseURL (for example
// https://acme.freshservice.com) authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		perPage: defaultPerPage,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: backoffDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PerPage returns the effective page size.
func (c *Client) PerPage() int { return c.perPage }

func clampPerPage(n int) int {
	if n < minPerPage {
		return minPerPage
	}
	if n > maxPerPage {
		return maxPerPage
	}
	return n
}

// do sends a JSON request and decodes a 2xx body into dest (when non-nil).
// Returns *APIError for non-2xx responses. Retries on 429 (with Retry-After)
// and 5xx (with exponential backoff: 1s, 2s, 4s). Max 3 retries.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, dest any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr *APIError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			slog.Warn("freshservice request retry", "method", method, "path", path,
				"status", lastErr.StatusCode, "attempt", attempt, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
		if err := c.pace(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.apiKey, "X")
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		slog.Debug("freshservice request", "method", method, "url", fullURL)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dest == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, dest); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, path, err)
			}
			return nil
		}

		bodyStr := string(respBody)
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}

		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}

		return apiErr
	}

	return lastErr
}

// pace blocks until the configured interval has passed since the previous
// request.
func (c *Client) pace(ctx context.Context) error {
	if c.interval <= 0 {
		return nil
	}
	c.mu.Lock()
	wait := time.Until(c.lastRequest.Add(c.interval))
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		slog.Debug("freshservice rate limit pause", "wait", wait)
	}
	return sleep(ctx, wait)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay returns the wait duration before a retry attempt.
func backoffDelay(attempt int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// Exponential backoff: 1s, 2s, 4s
	return time.Duration(1<<(attempt-1)) * time.Second
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

var statusHints = map[int]string{
	400: "Bad Request - verify the payload and category labels",
	401: "Unauthorized - check the API key",
	403: "Forbidden - the API key lacks permission",
	404: "Not Found - the ticket or endpoint may be incorrect",
	409: "Conflict - the ticket may have been updated elsewhere",
	422: "Unprocessable Entity - Freshservice rejected the field values",
	429: "Too Many Requests - rate limit exceeded",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// Describe renders an operator-facing message for a failed request against
// ticketID (zero when no ticket is involved), with a status hint and the
// API's error detail.
func (e *APIError) Describe(ticketID int64) string {
	var b strings.Builder
	b.WriteString("Freshservice request failed")
	if ticketID != 0 {
		fmt.Fprintf(&b, " for ticket %d", ticketID)
	}
	fmt.Fprintf(&b, " with status %d", e.StatusCode)
	if hint, ok := statusHints[e.StatusCode]; ok {
		fmt.Fprintf(&b, " (%s)", hint)
	}
	if detail := e.detail(); detail != "" {
		if len(detail) > 500 {
			detail = detail[:497] + "..."
		}
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return b.String()
}

// detail extracts "errors" or "message" from a JSON error body, falling back
// to the raw body text.
func (e *APIError) detail() string {
	var parsed struct {
		Errors  json.RawMessage `json:"errors"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal([]byte(e.Body), &parsed); err == nil {
		var list []json.RawMessage
		var obj map[string]json.RawMessage
		switch {
		case json.Unmarshal(parsed.Errors, &list) == nil && len(list) > 0:
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if s := describeItem(item); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		case json.Unmarshal(parsed.Errors, &obj) == nil && len(obj) > 0:
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, k+": "+describeItem(obj[k]))
			}
			return strings.Join(parts, "; ")
		case parsed.Message != "":
			return parsed.Message
		}
	}
	return strings.TrimSpace(e.Body)
}

// describeItem renders one entry of an "errors" list. Freshservice reports
// field errors as {"field", "message", "code"} objects.
func describeItem(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var fe struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &fe) == nil && fe.Message != "" {
		if fe.Field != "" {
			return fe.Field + ": " + fe.Message
		}
		return fe.Message
	}
	return string(bytes.TrimSpace(raw))
}
