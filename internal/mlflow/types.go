// Package mlflow is a minimal client for the MLflow tracking server's REST
// API, covering the read surface the exporter polls plus the write calls the
// sample-data seeder needs.
package mlflow

// Experiment is one tracked experiment.
type Experiment struct {
	ID   string `json:"experiment_id"`
	Name string `json:"name"`
}

// Run is one run within an experiment.
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// RunInfo carries a run's identifying metadata.
type RunInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
}

// RunData carries a run's logged values. Metrics holds the latest point per
// key; full histories come from GetMetricHistory.
type RunData struct {
	Metrics []Metric `json:"metrics"`
	Params  []KV     `json:"params"`
	Tags    []KV     `json:"tags"`
}

// Metric is one logged metric point. Timestamp is milliseconds since epoch.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// KV is a logged parameter or tag.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TagMap converts a tag list into a map.
func TagMap(tags []KV) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

type searchExperimentsResponse struct {
	Experiments []Experiment `json:"experiments"`
}

type searchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	MaxResults    int      `json:"max_results"`
}

type searchRunsResponse struct {
	Runs []Run `json:"runs"`
}

type metricHistoryResponse struct {
	Metrics []Metric `json:"metrics"`
}

type createExperimentRequest struct {
	Name string `json:"name"`
}

type createExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type getExperimentByNameResponse struct {
	Experiment Experiment `json:"experiment"`
}

type createRunRequest struct {
	ExperimentID string `json:"experiment_id"`
	StartTime    int64  `json:"start_time"`
}

type createRunResponse struct {
	Run Run `json:"run"`
}

type logMetricRequest struct {
	RunID     string  `json:"run_id"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type logParamRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type setTagRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type updateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time"`
}
