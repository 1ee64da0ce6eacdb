package mlexport

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys, matched case-insensitively against environment
// variables (MLFLOW_TRACKING_URI, PROMETHEUS_GATEWAY, ...) and config file
// entries.
const (
	keyTrackingURI       = "mlflow_tracking_uri"
	keyPrometheusGateway = "prometheus_gateway"
	keyPrometheusJob     = "prometheus_job_name"
	keyGatewayEnabled    = "gateway_enabled"
	keyPushEndpoint      = "push_api_endpoint"
	keyPushAPIKey        = "push_api_key"
	keyPushEnabled       = "push_api_enabled"
	keyStreamEndpoint    = "stream_endpoint"
	keyStreamEnabled     = "stream_enabled"
	keyExportInterval    = "export_interval"
	keyMaxExperiments    = "max_experiments"
	keyWatermarkPath     = "watermark_path"
	keyAdvancePolicy     = "advance_policy"
)

// Config holds the exporter's runtime configuration.
type Config struct {
	// TrackingURI is the base URL of the tracking store.
	TrackingURI string

	// PrometheusGateway is the pull gateway's push address (host:port or URL);
	// PrometheusJob is the job label batches are grouped under.
	PrometheusGateway string
	PrometheusJob     string
	GatewayEnabled    bool

	// PushEndpoint is the push metrics API URL; PushAPIKey enables bearer
	// authorization when non-empty.
	PushEndpoint string
	PushAPIKey   string
	PushEnabled  bool

	// StreamEndpoint is an optional WebSocket URL receiving one frame per batch.
	StreamEndpoint string
	StreamEnabled  bool

	// ExportInterval is the continuous-mode cadence.
	ExportInterval time.Duration

	// MaxExperiments bounds experiments visited per extraction pass.
	MaxExperiments int

	// WatermarkPath selects watermark persistence: empty for in-memory, a
	// .db/.sqlite suffix for SQLite, any other path for a JSON file.
	WatermarkPath string

	// AdvancePolicy decides when delivered batches advance watermarks.
	AdvancePolicy AdvancePolicy
}

// LoadConfig resolves configuration from environment variables, layered over
// an optional YAML config file at filePath (pass "" to skip), layered over
// defaults matching a local development setup.
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()

	v.SetDefault(keyTrackingURI, "http://localhost:5000")
	v.SetDefault(keyPrometheusGateway, "localhost:9091")
	v.SetDefault(keyPrometheusJob, "mlflow_metrics")
	v.SetDefault(keyGatewayEnabled, true)
	v.SetDefault(keyPushEndpoint, "http://localhost:8080/api/metrics")
	v.SetDefault(keyPushAPIKey, "")
	v.SetDefault(keyPushEnabled, true)
	v.SetDefault(keyStreamEndpoint, "")
	v.SetDefault(keyStreamEnabled, false)
	v.SetDefault(keyExportInterval, 60)
	v.SetDefault(keyMaxExperiments, defaultMaxExperiments)
	v.SetDefault(keyWatermarkPath, "")
	v.SetDefault(keyAdvancePolicy, string(AdvanceAll))

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	policy, err := ParseAdvancePolicy(v.GetString(keyAdvancePolicy))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TrackingURI:       v.GetString(keyTrackingURI),
		PrometheusGateway: v.GetString(keyPrometheusGateway),
		PrometheusJob:     v.GetString(keyPrometheusJob),
		GatewayEnabled:    v.GetBool(keyGatewayEnabled),
		PushEndpoint:      v.GetString(keyPushEndpoint),
		PushAPIKey:        v.GetString(keyPushAPIKey),
		PushEnabled:       v.GetBool(keyPushEnabled),
		StreamEndpoint:    v.GetString(keyStreamEndpoint),
		StreamEnabled:     v.GetBool(keyStreamEnabled),
		ExportInterval:    time.Duration(v.GetInt(keyExportInterval)) * time.Second,
		MaxExperiments:    v.GetInt(keyMaxExperiments),
		WatermarkPath:     v.GetString(keyWatermarkPath),
		AdvancePolicy:     policy,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.TrackingURI == "" {
		return errors.New("tracking URI is empty")
	}
	if c.ExportInterval <= 0 {
		return errors.New("export interval must be positive")
	}
	if c.MaxExperiments <= 0 {
		return errors.New("max experiments must be positive")
	}
	if c.GatewayEnabled && c.PrometheusGateway == "" {
		return errors.New("gateway sink enabled but no gateway address configured")
	}
	if c.PushEnabled && c.PushEndpoint == "" {
		return errors.New("push sink enabled but no endpoint configured")
	}
	if c.StreamEnabled && c.StreamEndpoint == "" {
		return errors.New("stream sink enabled but no endpoint configured")
	}
	if !c.GatewayEnabled && !c.PushEnabled && !c.StreamEnabled {
		return errors.New("no sinks enabled")
	}
	return nil
}
