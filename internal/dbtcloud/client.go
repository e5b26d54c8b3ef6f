// Package dbtcloud implements the dbt Cloud capabilities the assistants act
// through: the Administrative API, the Discovery API, the Semantic Layer,
// dbt Hub package search and documentation search.
package dbtcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultHost    = "cloud.getdbt.com"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// ClientConfig configures a Client. Host is the dbt Cloud access URL host;
// the *URL fields override the endpoints derived from it.
type ClientConfig struct {
	Host          string
	Token         string
	AccountID     int64
	EnvironmentID int64
	Retries       int
	RetryDelay    time.Duration
	Timeout       time.Duration
	HTTPClient    *http.Client

	AdminURL     string
	AdminV3URL   string
	DiscoveryURL string
	SemanticURL  string
}

// Client talks to the dbt Cloud APIs with a service token.
type Client struct {
	http          *http.Client
	token         string
	accountID     int64
	environmentID int64
	retries       int
	retryDelay    time.Duration

	adminURL     string
	adminV3URL   string
	discoveryURL string
	semanticURL  string
}

// NewClient creates a dbt Cloud client.
func NewClient(cfg ClientConfig) *Client {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://"), "/")

	c := &Client{
		http:          cfg.HTTPClient,
		token:         cfg.Token,
		accountID:     cfg.AccountID,
		environmentID: cfg.EnvironmentID,
		retries:       cfg.Retries,
		retryDelay:    cfg.RetryDelay,
		adminURL:      cfg.AdminURL,
		adminV3URL:    cfg.AdminV3URL,
		discoveryURL:  cfg.DiscoveryURL,
		semanticURL:   cfg.SemanticURL,
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.retries <= 0 {
		c.retries = 1
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 500 * time.Millisecond
	}
	if c.adminURL == "" {
		c.adminURL = "https://" + host + "/api/v2"
	}
	if c.discoveryURL == "" {
		c.discoveryURL = "https://metadata." + host + "/graphql"
	}
	if c.semanticURL == "" {
		c.semanticURL = "https://semantic-layer." + host + "/api/graphql"
	}
	c.adminURL = strings.TrimSuffix(c.adminURL, "/")
	if c.adminV3URL == "" {
		c.adminV3URL = strings.TrimSuffix(c.adminURL, "/v2") + "/v3"
	}
	c.adminV3URL = strings.TrimSuffix(c.adminV3URL, "/")
	return c
}

// AccountID returns the configured default account, or 0.
func (c *Client) AccountID() int64 { return c.accountID }

// EnvironmentID returns the configured default environment, or 0.
func (c *Client) EnvironmentID() int64 { return c.environmentID }

// Configured reports whether a service token is set.
func (c *Client) Configured() bool { return c.token != "" }

// APIError is a non-2xx answer from a dbt Cloud endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized {
		return fmt.Sprintf("Permission error: dbt Cloud refused the request (%d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("dbt Cloud API error (%d): %s", e.Status, e.Body)
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ErrNotConfigured is returned by every call when no service token is set.
var ErrNotConfigured = errors.New("dbt Cloud service token is not configured (set dbt.token or DBT_CLOUD_SERVICE_TOKEN)")

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// do sends one request. Idempotent requests are retried on 429, 5xx and
// transport errors; anything else is sent exactly once.
func (c *Client) do(ctx context.Context, method, target string, body []byte, idempotent bool) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	attempts := uint(c.retries)
	if !idempotent {
		attempts = 1
	}

	var out []byte
	err := retry.Do(
		func() error {
			var rdr io.Reader
			if body != nil {
				rdr = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, target, rdr)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("Accept", "application/json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return &APIError{Status: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), maxErrorBody)}
			}
			out = data
			return nil
		},
		retry.RetryIf(isRetryable),
		retry.Attempts(attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("retrying dbt Cloud request", "url", target, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// adminEnvelope is the v2 Administrative API response shape.
type adminEnvelope struct {
	Status struct {
		Code        int    `json:"code"`
		IsSuccess   bool   `json:"is_success"`
		UserMessage string `json:"user_message"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

// Admin calls the v2 Administrative API and returns the envelope's data.
func (c *Client) Admin(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	return c.admin(ctx, c.adminURL, method, path, query, payload)
}

// AdminV3 calls the v3 Administrative API, which serves account settings
// (groups, webhooks, connections, service tokens, audit logs).
func (c *Client) AdminV3(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	return c.admin(ctx, c.adminV3URL, method, path, query, payload)
}

func (c *Client) admin(ctx context.Context, base, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	raw, err := c.adminRaw(ctx, base, method, path, query, payload)
	if err != nil {
		return nil, err
	}
	var env adminEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if !env.Status.IsSuccess && env.Status.Code != 0 {
		return nil, &APIError{Status: env.Status.Code, Body: env.Status.UserMessage}
	}
	return env.Data, nil
}

// AdminRaw calls the Administrative API and returns the body untouched.
// Run artifacts are served this way. Only GET and HEAD are retried: a
// retried POST could trigger a job twice.
func (c *Client) AdminRaw(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	return c.adminRaw(ctx, c.adminURL, method, path, query, payload)
}

func (c *Client) adminRaw(ctx context.Context, base, method, path string, query url.Values, payload any) ([]byte, error) {
	target := base + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	return c.do(ctx, method, target, body, method == http.MethodGet || method == http.MethodHead)
}

// GraphQLError lists the errors a GraphQL endpoint reported.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Discovery runs a Discovery API query and returns its data.
func (c *Client) Discovery(ctx context.Context, query string, vars map[string]any) (json.RawMessage, error) {
	return c.graphQL(ctx, c.discoveryURL, query, vars)
}

// Semantic runs a Semantic Layer query and returns its data.
func (c *Client) Semantic(ctx context.Context, query string, vars map[string]any) (json.RawMessage, error) {
	return c.graphQL(ctx, c.semanticURL, query, vars)
}

func (c *Client) graphQL(ctx context.Context, endpoint, query string, vars map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	// Discovery and Semantic Layer requests only read.
	raw, err := c.do(ctx, http.MethodPost, endpoint, body, true)
	if err != nil {
		return nil, err
	}
	var resp graphQLResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range resp.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return nil, gqlErr
	}
	return resp.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
