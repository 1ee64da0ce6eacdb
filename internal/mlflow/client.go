package mlflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	apiPrefix = "/api/2.0/mlflow"

	defaultTimeout  = 10 * time.Second
	defaultRetryMax = 2
)

// ClientOption is a functional option for the Client.
type ClientOption func(*Client)

// Client talks to an MLflow tracking server over its REST API.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	timeout time.Duration
}

// NewClient creates a Client for the tracking server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = defaultRetryMax
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    rc,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.HTTPClient.Timeout = c.timeout
	return c
}

// WithTimeout configures the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRetryMax configures the maximum number of request retries.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) { c.http.RetryMax = n }
}

// SearchExperiments lists up to maxResults experiments.
func (c *Client) SearchExperiments(ctx context.Context, maxResults int) ([]Experiment, error) {
	query := url.Values{"max_results": []string{strconv.Itoa(maxResults)}}
	var resp searchExperimentsResponse
	if err := c.get(ctx, "/experiments/search", query, &resp); err != nil {
		return nil, err
	}
	return resp.Experiments, nil
}

// SearchRuns lists up to maxResults runs across the given experiments.
func (c *Client) SearchRuns(ctx context.Context, experimentIDs []string, maxResults int) ([]Run, error) {
	req := searchRunsRequest{ExperimentIDs: experimentIDs, MaxResults: maxResults}
	var resp searchRunsResponse
	if err := c.post(ctx, "/runs/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetMetricHistory returns every logged point for one metric of one run.
func (c *Client) GetMetricHistory(ctx context.Context, runID, metricKey string) ([]Metric, error) {
	query := url.Values{
		"run_id":     []string{runID},
		"metric_key": []string{metricKey},
	}
	var resp metricHistoryResponse
	if err := c.get(ctx, "/metrics/get-history", query, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

// get issues a GET request against an API path and decodes the JSON response
// into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	return c.do(req, path, out)
}

// post issues a POST request with a JSON body against an API path and decodes
// the JSON response into out. A nil out discards the response body.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+path, data)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *retryablehttp.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}
