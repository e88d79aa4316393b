// Package restclient is a small JSON-over-HTTP client with retry and backoff,
// shared by the embedding and generation providers and the CLI.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetryDelay  = 5 * time.Second
	maxErrorBody   = 512
)

// StatusError is returned for a non-2xx response after retries are exhausted.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// RestClient sends JSON requests relative to a base URL.
type RestClient struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

// Option configures a RestClient.
type Option func(*RestClient)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *RestClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets how many times a failed attempt is retried.
func WithRetries(n int) Option {
	return func(c *RestClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBearerToken sends an Authorization: Bearer header.
func WithBearerToken(token string) Option {
	return func(c *RestClient) {
		if token != "" {
			c.headers["Authorization"] = "Bearer " + token
		}
	}
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *RestClient) { c.logger = l }
}

// NewRestClient creates a client for baseURL.
func NewRestClient(baseURL string, opts ...Option) *RestClient {
	c := &RestClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    make(map[string]string),
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *RestClient) BaseURL() string {
	return c.baseURL
}

// Get decodes the JSON response of GET endpoint into out.
func (c *RestClient) Get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, "", nil, out)
}

// Post sends body as JSON and decodes the JSON response into out. out may be nil.
func (c *RestClient) Post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, "application/json", payload, out)
}

// Delete sends DELETE endpoint and decodes the JSON response into out. out may be nil.
func (c *RestClient) Delete(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodDelete, endpoint, "", nil, out)
}

// PostFile uploads content as the multipart file field, with fields sent as
// extra form values, and decodes the JSON response into out.
func (c *RestClient) PostFile(ctx context.Context, endpoint, field, filename string, content []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), buf.Bytes(), out)
}

func (c *RestClient) do(ctx context.Context, method, endpoint, contentType string, payload []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryDelay(attempt - 1)
			if se, ok := lastErr.(*retryAfterError); ok && se.after > 0 {
				wait = se.after
			}
			if c.logger != nil {
				c.logger.Debug("retrying request", zap.String("endpoint", endpoint),
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(lastErr))
			}
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
		body, err := c.attempt(ctx, method, endpoint, contentType, payload)
		if err == nil {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	if ra, ok := lastErr.(*retryAfterError); ok {
		return ra.StatusError
	}
	return lastErr
}

// retryAfterError carries the server's Retry-After hint with the status.
type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (c *RestClient) attempt(ctx context.Context, method, endpoint, contentType string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode, Body: utils.Truncate(strings.TrimSpace(string(body)), maxErrorBody)}
		if se.Retryable() {
			return nil, &retryAfterError{StatusError: se, after: parseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		return nil, se
	}
	return body, nil
}

func retryable(err error) bool {
	switch err.(type) {
	case *retryAfterError:
		return true
	case *StatusError:
		return false
	}
	// transport errors
	return true
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 200 * time.Millisecond << attempt
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

