package notify

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coachpo/statusdeck/internal/httpx"
)

// Sink delivers one alert to a destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alert Alert) error
}

// LogSink writes alerts to the process log.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink builds a sink over the given logger.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name identifies the sink in delivery-failure logs.
func (s *LogSink) Name() string { return "log" }

// Deliver prints the alert.
func (s *LogSink) Deliver(_ context.Context, alert Alert) error {
	s.logger.Printf("deployment failed provider=%s project=%s env=%s deployment=%s",
		alert.Provider, alert.ProjectID, alert.Environment, alert.DeploymentID)
	return nil
}

// WebhookSink POSTs alerts as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *httpx.Client
}

// WebhookOption configures webhook sink construction.
type WebhookOption func(*WebhookSink)

// WithWebhookClient overrides the HTTP client, mainly for tests.
func WithWebhookClient(client *httpx.Client) WebhookOption {
	return func(s *WebhookSink) {
		if client != nil {
			s.client = client
		}
	}
}

// NewWebhookSink builds a sink posting to url.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:    url,
		client: httpx.NewClient("notify/webhook"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Name identifies the sink in delivery-failure logs.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver posts the alert, retrying transient failures.
func (s *WebhookSink) Deliver(ctx context.Context, alert Alert) error {
	return httpx.WithRetry(ctx, httpx.DefaultMaxAttempts, httpx.DefaultBaseDelay, httpx.DefaultRetriable, func() error {
		return s.client.RequestJSON(ctx, s.url, httpx.RequestOptions{
			Method:  http.MethodPost,
			Headers: nil,
			Body:    alert,
			RawBody: nil,
			Timeout: 10 * time.Second,
		}, nil)
	})
}
