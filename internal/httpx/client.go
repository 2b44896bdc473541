// Package httpx provides the JSON HTTP client shared by provider adapters.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/statusdeck/errs"
)

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 4 << 10
	defaultRequests = 8 // requests per second across one client
)

// Client issues JSON requests against one provider API, throttled by a shared
// rate limiter.
type Client struct {
	provider string
	http     *http.Client
	limiter  *rate.Limiter
}

// ClientOption configures client construction.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying transport, mainly for tests.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRequestsPerSecond adjusts the client-wide request throttle.
func WithRequestsPerSecond(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewClient creates a throttled JSON client scoped to the named provider.
func NewClient(provider string, opts ...ClientOption) *Client {
	c := &Client{
		provider: strings.TrimSpace(provider),
		http:     &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRequests), 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// RequestOptions shapes one JSON request.
type RequestOptions struct {
	Method  string
	Headers map[string]string
	Body    any
	RawBody []byte
	Timeout time.Duration
}

// RequestJSON performs the request and decodes a 2xx response body into out.
// Non-2xx responses become typed errs envelopes carrying the status code, a
// bounded copy of the body, and any parsed retry-after header. A nil out
// discards the response body. A *string out receives the raw body without
// JSON decoding; callers expecting non-JSON 2xx responses must use it, as any
// other out type returns a decode error for non-JSON bodies.
func (c *Client) RequestJSON(ctx context.Context, url string, opts RequestOptions, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch {
	case opts.RawBody != nil:
		body = bytes.NewReader(opts.RawBody)
	case opts.Body != nil:
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if opts.Body != nil && opts.RawBody == nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(c.provider, errs.CodeNetwork,
			errs.WithMessage("request "+url),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(c.provider, errs.CodeNetwork,
			errs.WithMessage("read response body"),
			errs.WithCause(err))
	}
	if raw, ok := out.(*string); ok {
		*raw = string(payload)
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	trimmed := strings.TrimSpace(string(raw))

	code := errs.CodeProvider
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code = errs.CodeAuth
	case resp.StatusCode == http.StatusNotFound:
		code = errs.CodeNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		code = errs.CodeRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		code = errs.CodeUnavailable
	}

	opts := []errs.Option{
		errs.WithHTTP(resp.StatusCode),
		errs.WithMessage(http.StatusText(resp.StatusCode)),
		errs.WithRawBody(trimmed),
	}
	if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
		opts = append(opts, errs.WithRetryAfter(delay))
	}
	return errs.New(c.provider, code, opts...)
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}
