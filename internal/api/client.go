// Package api is the helpdesk REST client. It attaches the session's
// access token to every call and transparently recovers from an expired
// token with a single coordinated refresh.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/metrics"
)

// Credentials is the credential store the client reads tokens from and
// publishes refreshed tokens to.
type Credentials interface {
	Get() (credential.Pair, bool)
	Set(pair credential.Pair) error
	Generation() uint64
	SetIf(gen uint64, pair credential.Pair) (bool, error)
	ClearIf(gen uint64) (bool, error)
}

// attemptPhase tracks where a request is in the refresh-and-retry protocol.
// A request moves from firstAttempt to retryAfterRefresh at most once.
type attemptPhase int

const (
	firstAttempt attemptPhase = iota
	retryAfterRefresh
)

// Client is the helpdesk REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	refreshGroup     singleflight.Group
	onSessionExpired func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records refresh outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSessionExpiredHandler registers fn to run once each time a refresh
// is rejected and the credentials are cleared. It typically routes the
// user back to login.
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *Client) {
		c.onSessionExpired = fn
	}
}

// NewClient creates a client for the API rooted at baseURL
// (e.g., http://localhost:3000/api).
func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		creds:  creds,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(
	ctx context.Context,
	path string,
	result any,
) error {
	return c.Do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(
	ctx context.Context,
	path string,
	body any,
	result any,
) error {
	return c.Do(ctx, http.MethodPost, path, body, result)
}

// Patch performs an HTTP PATCH request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Patch(
	ctx context.Context,
	path string,
	body any,
	result any,
) error {
	return c.Do(ctx, http.MethodPatch, path, body, result)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(
	ctx context.Context,
	path string,
	result any,
) error {
	return c.Do(ctx, http.MethodDelete, path, nil, result)
}

// Request is the typed form of Client.Do.
func Request[T any](
	ctx context.Context,
	c *Client,
	method string,
	path string,
	body any,
) (T, error) {
	var result T
	err := c.Do(ctx, method, path, body, &result)
	return result, err
}

// Do issues a JSON request. A 401 on the first attempt, when a refresh
// token is held, joins the shared refresh and retries the request once
// with the resulting token. Any other non-2xx status is returned as a
// *RequestError.
func (c *Client) Do(
	ctx context.Context,
	method string,
	path string,
	body any,
	result any,
) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	phase := firstAttempt
	for {
		pair, authed := c.creds.Get()

		status, respBody, err := c.send(ctx, method, path, payload, pair.AccessToken)
		if err != nil {
			return err
		}

		if status == http.StatusUnauthorized &&
			phase == firstAttempt &&
			authed && pair.RefreshToken != "" &&
			!isAuthPath(path) {
			if err := c.refresh(ctx, pair.AccessToken); err != nil {
				return err
			}
			phase = retryAfterRefresh
			continue
		}

		return decodeResponse(method, path, status, respBody, result)
	}
}

// send performs a single HTTP round trip and returns the status and body.
func (c *Client) send(
	ctx context.Context,
	method string,
	path string,
	payload []byte,
	token string,
) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, bodyReader,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// decodeResponse maps a response to either a decoded result or a
// *RequestError.
func decodeResponse(
	method string,
	path string,
	status int,
	body []byte,
	result any,
) error {
	if status < 200 || status >= 300 {
		return &RequestError{
			Status:  status,
			Message: errorMessage(status, body),
		}
	}

	// No content to parse (e.g. 204).
	if result == nil || status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf(
			"unmarshaling response from %s %s: %w",
			method, path, err,
		)
	}

	return nil
}

// isAuthPath reports whether path belongs to the auth endpoints, which
// never take part in refresh-retry.
func isAuthPath(path string) bool {
	return path == "/auth" || strings.HasPrefix(path, "/auth/")
}

// asRequestError is errors.As for *RequestError.
func asRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	ok := errors.As(err, &reqErr)
	return reqErr, ok
}
