package mlexport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const defaultGatewayTimeout = 10 * time.Second

// gatewayLabels is the fixed label set for exported gateway series.
var gatewayLabels = []string{"run_id", "experiment_name", "model_stage"}

// PullGatewaySink translates metric records into labeled gauge samples and
// pushes them to a pull-based metrics gateway. Within one batch, the latest
// point wins per label set.
type PullGatewaySink struct {
	id      string
	gateway string
	job     string
	timeout time.Duration

	mu       sync.Mutex
	registry *prometheus.Registry
	gauges   map[string]*prometheus.GaugeVec
}

// PullGatewaySinkOption is a functional option for the PullGatewaySink.
type PullGatewaySinkOption func(*PullGatewaySink)

// WithGatewayTimeout configures the per-push timeout.
func WithGatewayTimeout(d time.Duration) PullGatewaySinkOption {
	return func(s *PullGatewaySink) { s.timeout = d }
}

// WithGatewayID configures the sink's identifier.
func WithGatewayID(id string) PullGatewaySinkOption {
	return func(s *PullGatewaySink) { s.id = id }
}

// NewPullGatewaySink creates a PullGatewaySink pushing to the given gateway
// address under the given job label.
func NewPullGatewaySink(gateway, job string, opts ...PullGatewaySinkOption) *PullGatewaySink {
	s := &PullGatewaySink{
		id:       "pull-gateway",
		gateway:  gateway,
		job:      job,
		timeout:  defaultGatewayTimeout,
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the sink identifier.
func (s *PullGatewaySink) ID() string {
	return s.id
}

// Deliver sets one gauge sample per (metric, run, experiment, stage) and
// pushes the registry to the gateway. Connection failures classify as
// ErrSinkUnavailable, non-success gateway responses as ErrSinkRejected.
func (s *PullGatewaySink) Deliver(ctx context.Context, batch []MetricRecord) SinkOutcome {
	s.mu.Lock()
	for _, record := range latestPerSeries(batch) {
		gauge, err := s.gaugeFor(record.Name)
		if err != nil {
			s.mu.Unlock()
			return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkRejected, err))
		}
		gauge.WithLabelValues(record.ShortRunID(), record.ExperimentName, record.ModelStage()).
			Set(record.Value)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	capture := &statusCaptureClient{ctx: ctx}
	err := push.New(s.gateway, s.job).
		Gatherer(s.registry).
		Client(capture).
		Push()
	if err != nil {
		if capture.status >= 400 {
			return failedOutcome(s.id,
				fmt.Errorf("%w: gateway status %d", ErrSinkRejected, capture.status))
		}
		return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkUnavailable, err))
	}
	return acceptedOutcome(s.id, len(batch))
}

// gaugeFor returns the registered gauge vector for a metric name, creating it
// on first sight. Callers hold s.mu.
func (s *PullGatewaySink) gaugeFor(name string) (*prometheus.GaugeVec, error) {
	seriesName := gatewayMetricName(name)
	if gauge, ok := s.gauges[seriesName]; ok {
		return gauge, nil
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: seriesName,
		Help: fmt.Sprintf("Tracked experiment metric: %s", name),
	}, gatewayLabels)
	if err := s.registry.Register(gauge); err != nil {
		return nil, fmt.Errorf("failed to register gauge %s: %v", seriesName, err)
	}
	s.gauges[seriesName] = gauge
	return gauge, nil
}

// latestPerSeries reduces a batch to the newest record per exported label set.
func latestPerSeries(batch []MetricRecord) []MetricRecord {
	type seriesKey struct {
		name, runID, experiment, stage string
	}
	latest := make(map[seriesKey]MetricRecord, len(batch))
	for _, record := range batch {
		key := seriesKey{
			name:       record.Name,
			runID:      record.ShortRunID(),
			experiment: record.ExperimentName,
			stage:      record.ModelStage(),
		}
		current, ok := latest[key]
		if !ok || record.Timestamp.After(current.Timestamp) ||
			(record.Timestamp.Equal(current.Timestamp) && record.Step > current.Step) {
			latest[key] = record
		}
	}
	reduced := make([]MetricRecord, 0, len(latest))
	for _, record := range latest {
		reduced = append(reduced, record)
	}
	return reduced
}

// statusCaptureClient executes gateway pushes while recording the response
// status, so a rejection can be told apart from an unreachable gateway.
type statusCaptureClient struct {
	ctx    context.Context
	status int
}

// Do implements push.HTTPDoer.
func (c *statusCaptureClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := http.DefaultClient.Do(req.WithContext(c.ctx))
	if resp != nil {
		c.status = resp.StatusCode
	}
	return resp, err
}
