// Package api provides the authenticated HTTP client for the Atlas service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atlashq/atlas-cli/internal/output"
	"github.com/atlashq/atlas-cli/internal/version"
)

const (
	maxAttempts = 5
	baseDelay   = 1 * time.Second
	maxJitter   = 100 * time.Millisecond

	requestTimeout = 30 * time.Second
	uploadTimeout  = 120 * time.Second
)

// Authenticator supplies bearer tokens and owns session teardown. Both the
// general and the payments client are built over the same instance so that
// concurrent renewals collapse into one exchange.
type Authenticator interface {
	// Preflight returns the token for an outgoing request, renewing a stale
	// one first. Empty token means send unauthenticated.
	Preflight(ctx context.Context) (string, error)

	// Reactive returns a fresh token after the server rejected the last one.
	Reactive(ctx context.Context) (string, error)

	// Invalidate tears the session down when renewal is pointless.
	Invalidate(reason error)
}

// Client is an HTTP client for one Atlas backend audience.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	auth         Authenticator
	log          zerolog.Logger

	// idempotencyKeys stamps each POST with a per-call Idempotency-Key
	// header; the payments audience requires it.
	idempotencyKeys bool

	maxAttempts int
	baseDelay   time.Duration
}

// Response wraps an API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Option configures a Client.
type Option func(*Client)

// WithIdempotencyKeys enables per-call idempotency keys on POST requests.
func WithIdempotencyKeys() Option {
	return func(c *Client) { c.idempotencyKeys = true }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the transient-failure retry budget and backoff
// base delay. This does not affect the unauthorized-retry path, which is
// always exactly one resend.
func WithRetryPolicy(attempts int, base time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = attempts
		c.baseDelay = base
	}
}

// NewClient creates a client for the given base URL. auth must be the shared
// authenticator instance.
func NewClient(baseURL string, auth Authenticator, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		uploadClient: &http.Client{Timeout: uploadTimeout},
		auth:         auth,
		log:          log,
		maxAttempts:  maxAttempts,
		baseDelay:    baseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request captures everything needed to send a call and to resend it
// verbatim after a token renewal.
type request struct {
	method         string
	url            string
	body           []byte
	contentType    string
	idempotencyKey string
	upload         bool

	// retried is the one-shot marker for the unauthorized-retry path; it
	// bounds renewals to exactly one per original call.
	retried bool
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, c.newJSONRequest(http.MethodGet, path, nil))
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	req, err := c.jsonRequestWithBody(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	req, err := c.jsonRequestWithBody(http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, c.newJSONRequest(http.MethodDelete, path, nil))
}

// PostMultipart performs a POST with a multipart form body: the given fields
// plus one file part read fully up front so the request can be resent.
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file io.Reader) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, fmt.Errorf("read %s: %w", fileName, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req := c.newJSONRequest(http.MethodPost, path, buf.Bytes())
	req.contentType = mw.FormDataContentType()
	req.upload = true
	return c.do(ctx, req)
}

func (c *Client) newJSONRequest(method, path string, body []byte) *request {
	r := &request{
		method:      method,
		url:         c.buildURL(path),
		body:        body,
		contentType: "application/json",
	}
	if c.idempotencyKeys && method == http.MethodPost {
		// One key per logical call: the resend after a renewal carries the
		// same key, so the server deduplicates rather than double-charges.
		r.idempotencyKey = uuid.NewString()
	}
	return r
}

func (c *Client) jsonRequestWithBody(method, path string, body any) (*request, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.newJSONRequest(method, path, raw), nil
}

// do runs one logical call: pre-flight token check, the send (with backoff
// for transient failures), and at most one renew-and-resend when the server
// answers unauthorized.
func (c *Client) do(ctx context.Context, req *request) (*Response, error) {
	token, err := c.auth.Preflight(ctx)
	if err != nil {
		return nil, err
	}

	for {
		resp, err := c.sendWithBackoff(ctx, req, token)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return c.interpret(req, resp)
		}
		drain(resp)

		if req.retried {
			authErr := output.ErrAuth("Authentication failed")
			c.auth.Invalidate(authErr)
			return nil, authErr
		}
		req.retried = true

		c.log.Debug().Str("method", req.method).Str("url", req.url).
			Msg("unauthorized, renewing token and resending once")
		token, err = c.auth.Reactive(ctx)
		if err != nil {
			return nil, err
		}
	}
}

// sendWithBackoff issues the request, retrying transient failures (network
// errors, 429, gateway errors) with exponential backoff. Anything else is
// returned to the caller as-is, including 401.
func (c *Client) sendWithBackoff(ctx context.Context, req *request, token string) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.send(ctx, req, token)
		if err == nil && !transientStatus(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = output.ErrNetwork(err)
		} else {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = output.ErrRateLimit(retryAfter)
			} else {
				lastErr = output.ErrAPI(resp.StatusCode, fmt.Sprintf("Gateway error (%d)", resp.StatusCode))
			}
			drain(resp)
		}

		if attempt == c.maxAttempts {
			break
		}

		delay := c.backoffDelay(attempt)
		c.log.Debug().Str("url", req.url).Int("attempt", attempt).Dur("delay", delay).
			Err(lastErr).Msg("retrying request")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) send(ctx context.Context, req *request, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if req.body != nil {
		bodyReader = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, bodyReader)
	if err != nil {
		return nil, err
	}

	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idempotencyKey)
	}

	client := c.httpClient
	if req.upload {
		client = c.uploadClient
	}

	c.log.Debug().Str("method", req.method).Str("url", req.url).Msg("request")
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("url", req.url).Int("status", resp.StatusCode).Msg("response")
	return resp, nil
}

// interpret maps a settled (non-401, non-transient) response to a Response
// or a structured error.
func (c *Client) interpret(req *request, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return &Response{
			Data:       respBody,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
		}, nil

	case http.StatusForbidden:
		return nil, output.ErrForbidden("Access denied")

	case http.StatusNotFound:
		return nil, output.ErrNotFound("Resource", req.url)

	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}
			if msg != "" {
				return nil, output.ErrAPI(resp.StatusCode, msg)
			}
		}
		return nil, output.ErrAPI(resp.StatusCode, fmt.Sprintf("Request failed (HTTP %d)", resp.StatusCode))
	}
}

func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), plus 0-100ms jitter
	delay := c.baseDelay * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(maxJitter))) //nolint:gosec // G404: Jitter doesn't need crypto rand
	return delay + jitter
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// parseRetryAfter parses the Retry-After header value in seconds.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 0
}
