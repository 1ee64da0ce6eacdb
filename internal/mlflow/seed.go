package mlflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// sampleSteps is the number of points logged per sample metric.
const sampleSteps = 10

// SeedSampleData populates the tracking server with one demonstration run
// under the named experiment: three ramping metrics over ten steps, a few
// parameters, and tags. Intended for trying the exporter against an empty
// server.
func (c *Client) SeedSampleData(ctx context.Context, experimentName string) (string, error) {
	experimentID, err := c.ensureExperiment(ctx, experimentName)
	if err != nil {
		return "", err
	}

	now := time.Now()
	var created createRunResponse
	err = c.post(ctx, "/runs/create", createRunRequest{
		ExperimentID: experimentID,
		StartTime:    now.UnixMilli(),
	}, &created)
	if err != nil {
		return "", fmt.Errorf("failed to create sample run: %w", err)
	}
	runID := created.Run.Info.RunID

	for step := int64(0); step < sampleSteps; step++ {
		points := []logMetricRequest{
			{Key: "accuracy", Value: 0.8 + 0.02*float64(step)},
			{Key: "loss", Value: 0.5 - 0.03*float64(step)},
			{Key: "f1_score", Value: 0.75 + 0.025*float64(step)},
		}
		for _, p := range points {
			p.RunID = runID
			p.Step = step
			p.Timestamp = now.Add(time.Duration(step) * time.Second).UnixMilli()
			if err := c.post(ctx, "/runs/log-metric", p, nil); err != nil {
				return "", fmt.Errorf("failed to log sample metric %s: %w", p.Key, err)
			}
		}
	}

	params := []logParamRequest{
		{RunID: runID, Key: "learning_rate", Value: "0.01"},
		{RunID: runID, Key: "batch_size", Value: "32"},
		{RunID: runID, Key: "model_type", Value: "RandomForest"},
	}
	for _, p := range params {
		if err := c.post(ctx, "/runs/log-parameter", p, nil); err != nil {
			return "", fmt.Errorf("failed to log sample parameter %s: %w", p.Key, err)
		}
	}

	tags := []setTagRequest{
		{RunID: runID, Key: "environment", Value: "production"},
		{RunID: runID, Key: "version", Value: "1.0.0"},
	}
	for _, tag := range tags {
		if err := c.post(ctx, "/runs/set-tag", tag, nil); err != nil {
			return "", fmt.Errorf("failed to set sample tag %s: %w", tag.Key, err)
		}
	}

	err = c.post(ctx, "/runs/update", updateRunRequest{
		RunID:   runID,
		Status:  "FINISHED",
		EndTime: time.Now().UnixMilli(),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to finish sample run: %w", err)
	}

	return runID, nil
}

// ensureExperiment creates the named experiment, falling back to a lookup when
// it already exists.
func (c *Client) ensureExperiment(ctx context.Context, name string) (string, error) {
	var created createExperimentResponse
	err := c.post(ctx, "/experiments/create", createExperimentRequest{Name: name}, &created)
	if err == nil {
		return created.ExperimentID, nil
	}
	if !strings.Contains(err.Error(), "RESOURCE_ALREADY_EXISTS") {
		return "", fmt.Errorf("failed to create experiment %q: %w", name, err)
	}

	var existing getExperimentByNameResponse
	query := url.Values{"experiment_name": []string{name}}
	if err := c.get(ctx, "/experiments/get-by-name", query, &existing); err != nil {
		return "", fmt.Errorf("failed to look up experiment %q: %w", name, err)
	}
	return existing.Experiment.ID, nil
}
