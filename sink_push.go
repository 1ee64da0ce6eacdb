package mlexport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultPushTimeout  = 30 * time.Second
	defaultPushRetryMax = 2
)

// PushHTTPSink delivers metric batches to a generic push-based metrics API as
// a single JSON document per batch, with optional bearer-token authorization.
type PushHTTPSink struct {
	id       string
	endpoint string
	client   *retryablehttp.Client
	now      func() time.Time
}

// PushHTTPSinkOption is a functional option for the PushHTTPSink.
type PushHTTPSinkOption func(*PushHTTPSink)

// WithPushAPIKey configures bearer-token authorization for the sink.
func WithPushAPIKey(key string) PushHTTPSinkOption {
	return func(s *PushHTTPSink) {
		s.client.HTTPClient.Transport = &bearerTransport{
			token:   key,
			wrapped: s.client.HTTPClient.Transport,
		}
	}
}

// WithPushTimeout configures the per-delivery timeout.
func WithPushTimeout(d time.Duration) PushHTTPSinkOption {
	return func(s *PushHTTPSink) { s.client.HTTPClient.Timeout = d }
}

// WithPushRetryMax configures the in-call retry budget for transient failures.
func WithPushRetryMax(n int) PushHTTPSinkOption {
	return func(s *PushHTTPSink) { s.client.RetryMax = n }
}

// WithPushID configures the sink's identifier.
func WithPushID(id string) PushHTTPSinkOption {
	return func(s *PushHTTPSink) { s.id = id }
}

// NewPushHTTPSink creates a PushHTTPSink POSTing to the given endpoint URL.
func NewPushHTTPSink(endpoint string, opts ...PushHTTPSinkOption) *PushHTTPSink {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = defaultPushRetryMax
	// Surface the final response after exhausted retries so the status code
	// stays classifiable.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = defaultPushTimeout

	s := &PushHTTPSink{
		id:       "push-http",
		endpoint: endpoint,
		client:   rc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the sink identifier.
func (s *PushHTTPSink) ID() string {
	return s.id
}

// Deliver serializes the batch into one JSON document and POSTs it. Network
// failures classify as ErrSinkUnavailable, 4xx responses as ErrSinkRejected,
// and 5xx responses as ErrSinkTransient.
func (s *PushHTTPSink) Deliver(ctx context.Context, batch []MetricRecord) SinkOutcome {
	body, err := marshalPushPayload(batch, s.now())
	if err != nil {
		return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkRejected, err))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkRejected, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return acceptedOutcome(s.id, len(batch))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return failedOutcome(s.id, fmt.Errorf("%w: status %d", ErrSinkRejected, resp.StatusCode))
	default:
		return failedOutcome(s.id, fmt.Errorf("%w: status %d", ErrSinkTransient, resp.StatusCode))
	}
}

// bearerTransport injects a bearer token into outgoing requests.
type bearerTransport struct {
	token   string
	wrapped http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.wrapped.RoundTrip(req)
}
