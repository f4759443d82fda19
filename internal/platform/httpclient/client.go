// Package httpclient is the shared HTTP client used to talk to upstream registries.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds every upstream call unless configured otherwise.
	DefaultTimeout = 30 * time.Second

	// UserAgent is sent with every request.
	UserAgent = "registry-service/1.0"

	maxResponseBytes = 10 << 20
)

// Client performs bounded upstream requests and returns the response body.
type Client interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error)
}

// DefaultClient is the Client backed by net/http.
type DefaultClient struct {
	client *http.Client
	accept string
}

// Option configures a DefaultClient.
type Option func(*DefaultClient)

// WithAccept overrides the Accept header (application/json by default).
func WithAccept(accept string) Option {
	return func(c *DefaultClient) {
		c.accept = accept
	}
}

// NewDefaultClient creates a client whose requests time out after timeout.
// A zero timeout falls back to DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client: &http.Client{Timeout: timeout},
		accept: "application/json",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET request and returns the body of a 2xx response.
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// Post issues a POST request with the given body and extra headers.
func (c *DefaultClient) Post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *DefaultClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", c.accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, NewHTTPError(resp.StatusCode, req.URL.String(), http.StatusText(resp.StatusCode))
	}

	return body, nil
}

// HTTPError is returned for non-2xx upstream responses.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// NewHTTPError builds an HTTPError.
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, URL: url, Message: message}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}
