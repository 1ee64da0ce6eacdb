package mlexport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		TrackingURI:       "http://localhost:5000",
		PrometheusGateway: "localhost:9091",
		PrometheusJob:     "mlflow_metrics",
		GatewayEnabled:    true,
		PushEndpoint:      "http://localhost:8080/api/metrics",
		PushAPIKey:        "key",
		PushEnabled:       true,
		ExportInterval:    time.Minute,
		MaxExperiments:    10,
		AdvancePolicy:     AdvanceAll,
	}
}

func TestNewAssemblesRunner(t *testing.T) {
	runner, err := New(testConfig())
	require.NoError(t, err)
	require.NotNil(t, runner)
	assert.NoError(t, runner.Validate())
	assert.Equal(t, 2, runner.dispatcher.Sinks())
}

func TestNewSkipsDisabledSinks(t *testing.T) {
	cfg := testConfig()
	cfg.PushEnabled = false

	runner, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.dispatcher.Sinks())
}

func TestNewIncludesStreamSink(t *testing.T) {
	cfg := testConfig()
	cfg.StreamEnabled = true
	cfg.StreamEndpoint = "ws://localhost:9000/stream"

	runner, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, runner.dispatcher.Sinks())
}

func TestNewRejectsInvalidStreamEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.StreamEnabled = true
	cfg.StreamEndpoint = "://not-a-url"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExperiments = 0

	_, err := New(cfg)
	assert.Error(t, err)
}
