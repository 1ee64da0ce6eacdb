package mlexport

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// modelStageTag is the run tag the tracking store uses for the model stage.
const modelStageTag = "mlflow.model.stage"

// runIDLabelLength is the number of run ID characters kept in gateway labels.
const runIDLabelLength = 8

// MetricRecord is the canonical in-memory representation of one observed metric
// value plus its identifying metadata.
type MetricRecord struct {
	Name           string            // Metric identifier, e.g. "accuracy"
	Value          float64           // Observed value
	Timestamp      time.Time         // When the source system recorded the value
	RunID          string            // Opaque, stable identifier of the producing run
	ExperimentName string            // Human-readable grouping label
	Step           int64             // Non-decreasing per (RunID, Name); dedup key component
	Tags           map[string]string // Free-form metadata from the run
}

// RecordKey identifies a metric point uniquely within one extraction pass.
type RecordKey struct {
	RunID string
	Name  string
	Step  int64
}

// Key returns the record's dedup key.
func (r MetricRecord) Key() RecordKey {
	return RecordKey{RunID: r.RunID, Name: r.Name, Step: r.Step}
}

// ModelStage returns the record's model stage tag, or "None" when the run
// carries no stage.
func (r MetricRecord) ModelStage() string {
	if stage, ok := r.Tags[modelStageTag]; ok && stage != "" {
		return stage
	}
	return "None"
}

// ShortRunID returns the run ID truncated for use as a gateway label.
func (r MetricRecord) ShortRunID() string {
	if len(r.RunID) > runIDLabelLength {
		return r.RunID[:runIDLabelLength]
	}
	return r.RunID
}

var gatewaySanitizer = strings.NewReplacer("-", "_", ".", "_")

// gatewayMetricName sanitizes a metric name into a valid gateway series name.
func gatewayMetricName(name string) string {
	return "mlflow_" + gatewaySanitizer.Replace(name)
}

//
// Push sink wire format
//

// pushPayload is the JSON document POSTed to the push HTTP sink. One document
// carries one dispatched batch.
type pushPayload struct {
	Timestamp string       `json:"timestamp"`
	Source    string       `json:"source"`
	Metrics   []pushMetric `json:"metrics"`
}

type pushMetric struct {
	Name      string       `json:"name"`
	Value     float64      `json:"value"`
	Timestamp string       `json:"timestamp"`
	Metadata  pushMetadata `json:"metadata"`
}

type pushMetadata struct {
	RunID          string            `json:"run_id"`
	ExperimentName string            `json:"experiment_name"`
	Step           int64             `json:"step"`
	Tags           map[string]string `json:"tags"`
}

// newPushPayload builds the push sink document for a batch, stamped with now.
func newPushPayload(batch []MetricRecord, now time.Time) pushPayload {
	metrics := make([]pushMetric, 0, len(batch))
	for _, r := range batch {
		metrics = append(metrics, pushMetric{
			Name:      r.Name,
			Value:     r.Value,
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
			Metadata: pushMetadata{
				RunID:          r.RunID,
				ExperimentName: r.ExperimentName,
				Step:           r.Step,
				Tags:           r.Tags,
			},
		})
	}
	return pushPayload{
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Source:    "mlflow",
		Metrics:   metrics,
	}
}

// marshalPushPayload serializes a batch into the push sink wire format.
func marshalPushPayload(batch []MetricRecord, now time.Time) ([]byte, error) {
	return sonic.Marshal(newPushPayload(batch, now))
}
