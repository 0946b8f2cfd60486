// Package tally is the HTTP transport to the source accounting system. Export
// requests are XML documents POSTed to a single endpoint; bodies travel in
// the system's wide-character encoding (UTF-16LE) by default.
package tally

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/logging"
)

// Client posts export requests to one source endpoint.
type Client struct {
	url        string
	encoding   Encoding
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// APIError represents a non-2xx HTTP response from the source system.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tally HTTP %d: %s", e.StatusCode, e.Body)
}

// ConnectivityError wraps failures to reach the source system at all,
// including timeouts.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("tally unreachable at %s: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the default per-request timeout. A deadline already on
// the request context takes precedence when it is sooner.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithEncoding selects the wire encoding.
func WithEncoding(e Encoding) Option {
	return func(c *Client) {
		c.encoding = e
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for the endpoint URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		encoding:   EncodingUTF16,
		timeout:    30 * time.Second,
		httpClient: &http.Client{},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Post sends one request document and returns the decoded response body.
// The Content-Length header always equals the encoded body's byte length.
func (c *Client) Post(ctx context.Context, body string) (string, error) {
	payload, err := EncodeBody(body, c.encoding)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build tally request: %w", err)
	}
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", c.encoding.ContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ConnectivityError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ConnectivityError{URL: c.url, Err: err}
	}

	c.logger.Debug("tally request complete",
		"status", resp.StatusCode,
		"request_bytes", len(payload),
		"response_bytes", len(raw),
		"duration", time.Since(start),
	)

	text, err := DecodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(text) > 512 {
			text = text[:512]
		}
		return "", &APIError{StatusCode: resp.StatusCode, Body: text}
	}
	return text, nil
}
