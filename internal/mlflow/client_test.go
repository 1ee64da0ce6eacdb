package mlflow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchExperiments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/2.0/mlflow/experiments/search", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("max_results"))
		_, _ = w.Write([]byte(`{"experiments":[{"experiment_id":"1","name":"exp-main"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(0))
	experiments, err := client.SearchExperiments(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, experiments, 1)
	assert.Equal(t, "1", experiments[0].ID)
	assert.Equal(t, "exp-main", experiments[0].Name)
}

func TestSearchRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/2.0/mlflow/runs/search", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		body, _ := io.ReadAll(r.Body)
		var req searchRunsRequest
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, []string{"1"}, req.ExperimentIDs)
		assert.Equal(t, 100, req.MaxResults)

		_, _ = w.Write([]byte(`{"runs":[{"info":{"run_id":"r1","status":"FINISHED"},
			"data":{"metrics":[{"key":"accuracy","value":0.95,"timestamp":2000,"step":2}],
			"tags":[{"key":"environment","value":"production"}]}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(0))
	runs, err := client.SearchRuns(context.Background(), []string{"1"}, 100)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].Info.RunID)
	require.Len(t, runs[0].Data.Metrics, 1)
	assert.Equal(t, "accuracy", runs[0].Data.Metrics[0].Key)
	assert.Equal(t, "production", TagMap(runs[0].Data.Tags)["environment"])
}

func TestGetMetricHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/2.0/mlflow/metrics/get-history", r.URL.Path)
		require.Equal(t, "r1", r.URL.Query().Get("run_id"))
		require.Equal(t, "accuracy", r.URL.Query().Get("metric_key"))
		_, _ = w.Write([]byte(`{"metrics":[
			{"key":"accuracy","value":0.80,"timestamp":1000,"step":1},
			{"key":"accuracy","value":0.95,"timestamp":2000,"step":2}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(0))
	history, err := client.GetMetricHistory(context.Background(), "r1", "accuracy")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Step)
	assert.InDelta(t, 0.95, history[1].Value, 1e-9)
}

func TestClientSurfacesErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error_code":"RESOURCE_DOES_NOT_EXIST"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(0))
	_, err := client.SearchExperiments(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSeedSampleData(t *testing.T) {
	calls := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls[r.URL.Path]++
		switch r.URL.Path {
		case "/api/2.0/mlflow/experiments/create":
			_, _ = w.Write([]byte(`{"experiment_id":"7"}`))
		case "/api/2.0/mlflow/runs/create":
			body, _ := io.ReadAll(r.Body)
			var req createRunRequest
			require.NoError(t, sonic.Unmarshal(body, &req))
			assert.Equal(t, "7", req.ExperimentID)
			_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"sample-run"}}}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(0))
	runID, err := client.SeedSampleData(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "sample-run", runID)

	// Three metrics over ten steps, three params, two tags, one finish.
	assert.Equal(t, 30, calls["/api/2.0/mlflow/runs/log-metric"])
	assert.Equal(t, 3, calls["/api/2.0/mlflow/runs/log-parameter"])
	assert.Equal(t, 2, calls["/api/2.0/mlflow/runs/set-tag"])
	assert.Equal(t, 1, calls["/api/2.0/mlflow/runs/update"])
}

func TestSeedSampleDataExistingExperiment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/2.0/mlflow/experiments/create":
			http.Error(w, `{"error_code":"RESOURCE_ALREADY_EXISTS"}`, http.StatusBadRequest)
		case "/api/2.0/mlflow/experiments/get-by-name":
			require.Equal(t, "demo", r.URL.Query().Get("experiment_name"))
			_, _ = w.Write([]byte(`{"experiment":{"experiment_id":"3","name":"demo"}}`))
		case "/api/2.0/mlflow/runs/create":
			_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"existing-run"}}}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(0))
	runID, err := client.SeedSampleData(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "existing-run", runID)
}
