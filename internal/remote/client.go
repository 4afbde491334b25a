// Package remote is the HTTP adapter between the sync engine and the
// backing service.
//
// Writes are sent as POST {base}/operations/{type}/{resource} with the
// record ID as Idempotency-Key, so a replay after an ambiguous failure is
// safe on servers that honour the header. Reads are GET {base}/resources/{key}.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/record"
)

// DefaultTimeout bounds a single HTTP round trip when no client is supplied.
const DefaultTimeout = 30 * time.Second

// maxReasonBody caps how much of an error response is kept as the reason.
const maxReasonBody = 256

// StatusError is returned by Fetch for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.Code)
}

// Client executes operations and fetches resources over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for baseURL, which must be absolute http or https.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q has no host", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("remote: base url %q must not carry a query or fragment", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Execute sends one operation and classifies the response.
//
// 2xx is success. Transport errors, timeouts, 408, 429 and 5xx are
// retryable. Any other status is terminal.
func (c *Client) Execute(ctx context.Context, op record.Operation) engine.Outcome {
	target := c.endpoint("operations", string(op.Type), op.ResourceID)
	body := op.Payload
	if len(body) == 0 {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return engine.Terminal(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op.RecordID)
	req.Header.Set("X-Attempt", fmt.Sprint(op.Attempt))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("execute transport error", "record_id", op.RecordID, "error", err)
		return engine.Retryable(transportReason(err))
	}
	defer resp.Body.Close()

	snippet := readSnippet(resp.Body)
	outcome := classify(resp.StatusCode, snippet)
	c.logger.Debug("execute",
		"record_id", op.RecordID,
		"operation", string(op.Type),
		"resource", op.ResourceID,
		"status", resp.StatusCode,
		"outcome", outcome.Kind.String(),
	)
	return outcome
}

// Fetch returns the body of GET {base}/resources/{key}.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("resources", key), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %s: %w", key, transportReason(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %w", key, &StatusError{Code: resp.StatusCode, Body: readSnippet(resp.Body)})
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", key, err)
	}
	return body, nil
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base.String() + "/" + strings.Join(escaped, "/")
}

func classify(code int, body string) engine.Outcome {
	reason := (&StatusError{Code: code, Body: body}).Error()
	switch {
	case code >= 200 && code <= 299:
		return engine.Success()
	case retryableStatus(code):
		return engine.Retryable(reason)
	}
	return engine.Terminal(reason)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

func transportReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return "timeout"
	}
	return "unreachable"
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxReasonBody))
	return strings.TrimSpace(string(b))
}
