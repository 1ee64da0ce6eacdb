// Package mlexport implements a metrics export pipeline: it periodically
// reads experiment and run metrics from an MLflow tracking store, filters out
// what has already been delivered, and fans each new batch out to one or more
// independently failing monitoring sinks. Delivery is at-least-once with
// idempotent-safe retries; watermarks advance only after confirmed delivery.
package mlexport

import (
	"fmt"
	"net/url"

	"github.com/jkbrsn/mlexport/internal/mlflow"
)

// New assembles a Runner from configuration: tracking client, extractor,
// enabled sinks, dispatcher, and watermark tracker.
func New(cfg *Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := mlflow.NewClient(cfg.TrackingURI)
	extractor := NewExtractor(client, WithMaxExperiments(cfg.MaxExperiments))

	sinks, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := NewDispatcher(cfg.AdvancePolicy, sinks...)

	store, err := NewStoreForPath(cfg.WatermarkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark store: %w", err)
	}
	marks, err := NewWatermarkTracker(store)
	if err != nil {
		return nil, err
	}

	runner := NewRunner(extractor, dispatcher, marks, WithInterval(cfg.ExportInterval))
	if err := runner.Validate(); err != nil {
		return nil, err
	}
	return runner, nil
}

// buildSinks constructs the enabled sinks. A disabled sink is skipped
// entirely and contributes no outcome.
func buildSinks(cfg *Config) ([]Sink, error) {
	var sinks []Sink

	if cfg.GatewayEnabled {
		sinks = append(sinks, NewPullGatewaySink(cfg.PrometheusGateway, cfg.PrometheusJob))
	}
	if cfg.PushEnabled {
		var opts []PushHTTPSinkOption
		if cfg.PushAPIKey != "" {
			opts = append(opts, WithPushAPIKey(cfg.PushAPIKey))
		}
		sinks = append(sinks, NewPushHTTPSink(cfg.PushEndpoint, opts...))
	}
	if cfg.StreamEnabled {
		streamURL, err := url.Parse(cfg.StreamEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid stream endpoint: %w", err)
		}
		sinks = append(sinks, NewStreamSink(streamURL))
	}

	return sinks, nil
}
