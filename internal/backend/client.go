// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Configuration constants for the OpenChat backend API.
const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// MaxConversationSize bounds a full conversation fetch. Stored messages
	// carry their images inline as base64 data URLs, so one conversation may
	// hold many attachments of up to 10 MiB each, a third larger once encoded.
	MaxConversationSize = 512 * 1024 * 1024

	userAgent = "openchat-cli/1.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client with connection pooling for all backend requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
		// No timeout for streaming - controlled via context
	}
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAuthExpired indicates the backend rejected the bearer token (HTTP 401).
	ErrAuthExpired = errors.New("session expired, please log in again")

	// ErrNotFound indicates the requested resource does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrNotAuthenticated indicates no token is available for an authenticated call.
	ErrNotAuthenticated = errors.New("not logged in")
)

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Message returns the server-provided detail, or a generic description.
func (e *APIError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return http.StatusText(e.Status)
}

// errorResponse is the error body shape used by the backend.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// handleErrorResponse converts an HTTP error response into an *APIError.
func handleErrorResponse(statusCode int, body []byte) error {
	apiErr := &APIError{Status: statusCode}

	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Detail) > 0 {
		// Detail is a string for handled errors and a list for validation failures.
		var detail string
		if err := json.Unmarshal(resp.Detail, &detail); err == nil {
			apiErr.Detail = detail
		} else {
			apiErr.Detail = string(resp.Detail)
		}
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	return apiErr
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the OpenChat backend over HTTP.
//
// A Client is safe for concurrent use. The bearer token may be replaced at
// any time with SetToken (login, logout).
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger

	mu             sync.RWMutex
	token          string
	onUnauthorized func(token string)
}

// NewClient creates a backend client for the given base URL.
// An empty base URL selects DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithToken sets the bearer token sent with authenticated requests.
func (c *Client) WithToken(token string) *Client {
	c.SetToken(token)
	return c
}

// WithLogger sets the logger used for request tracing.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithUnauthorizedHandler sets fn to run whenever the backend rejects the
// bearer token (HTTP 401) on any request. fn receives the rejected token and
// must not block.
func (c *Client) WithUnauthorizedHandler(fn func(token string)) *Client {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
	return c
}

// WithHTTPClient replaces both the request and the streaming HTTP clients.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	hc := *c.httpClient
	hc.Timeout = timeout
	c.httpClient = &hc
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token. An empty token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// IsAuthenticated returns true if a bearer token is set.
func (c *Client) IsAuthenticated() bool {
	return c.Token() != ""
}

// Fingerprint returns a loggable identifier for a secret.
// SECURITY: Never log key or token fragments, use the fingerprint instead.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// newRequest builds a request against the backend with standard headers.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// newJSONRequest builds a request whose body is the JSON encoding of payload.
func (c *Client) newJSONRequest(ctx context.Context, method, path string, query url.Values, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do performs a non-streaming request and decodes a JSON response into out.
// A nil out discards the response body.
func (c *Client) do(req *http.Request, out any) error {
	return c.doLimited(req, out, MaxResponseSize)
}

// doLimited is do with a caller-chosen response size limit.
func (c *Client) doLimited(req *http.Request, out any, limit int64) error {
	c.logRequest(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(req, resp, time.Since(start))

	// SECURITY: Read response with size limit to prevent memory exhaustion
	body, err := readResponse(resp, limit)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleError(req, resp.StatusCode, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// handleError converts an error response and reports a rejected bearer
// token to the unauthorized handler.
func (c *Client) handleError(req *http.Request, status int, body []byte) error {
	err := handleErrorResponse(status, body)
	if status != http.StatusUnauthorized {
		return err
	}
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return err
	}
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		c.logger.Debug("bearer token rejected", "path", req.URL.Path, "token", Fingerprint(token))
		fn(token)
	}
	return err
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", limit)
	}
	return body, nil
}

// =============================================================================
// REQUEST LOGGING (without sensitive data)
// =============================================================================

// logRequest logs an API request without exposing sensitive data.
// Headers (auth) and bodies (API keys, message content) are never logged.
func (c *Client) logRequest(req *http.Request) {
	c.logger.Debug("backend request",
		"method", req.Method,
		"path", req.URL.Path,
		"token", Fingerprint(c.Token()))
}

// logResponse logs an API response with duration.
func (c *Client) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	c.logger.Log(req.Context(), level, "backend response",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", duration)
}
