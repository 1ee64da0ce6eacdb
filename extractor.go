package mlexport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jkbrsn/mlexport/internal/mlflow"
)

const (
	// defaultMaxExperiments bounds how many experiments one extraction pass visits.
	defaultMaxExperiments = 10

	// maxRunsPerExperiment bounds how many runs are listed per experiment.
	maxRunsPerExperiment = 100
)

// ExtractStats counts what one extraction pass saw.
type ExtractStats struct {
	Experiments int // Experiments visited
	Runs        int // Runs visited
	Extracted   int // Records materialized past the watermark
	Filtered    int // Points skipped as already delivered
	Malformed   int // Points skipped as unparsable
}

// Extractor materializes new MetricRecords from the tracking store. One call
// to Extract is one full pass; calling again with an advanced watermark
// resumes where the previous pass left off.
type Extractor struct {
	client         *mlflow.Client
	maxExperiments int
}

// ExtractorOption is a functional option for the Extractor.
type ExtractorOption func(*Extractor)

// WithMaxExperiments bounds the number of experiments visited per pass.
func WithMaxExperiments(n int) ExtractorOption {
	return func(e *Extractor) { e.maxExperiments = n }
}

// NewExtractor creates an Extractor reading from the given tracking client.
func NewExtractor(client *mlflow.Client, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		client:         client,
		maxExperiments: defaultMaxExperiments,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks that the Extractor is ready for use.
func (e *Extractor) Validate() error {
	if e.client == nil {
		return errors.New("tracking client is nil")
	}
	if e.maxExperiments <= 0 {
		return errors.New("max experiments must be positive")
	}
	return nil
}

// Extract enumerates experiments, runs, and logged metric points, returning
// every point newer than the watermark for its (run, metric) pair. Any
// tracking store failure classifies as ErrSourceUnavailable and aborts the
// pass; malformed points are skipped and counted. The returned batch contains
// no duplicate (run, metric, step) tuples.
func (e *Extractor) Extract(ctx context.Context, marks *WatermarkTracker) ([]MetricRecord, ExtractStats, error) {
	var stats ExtractStats

	experiments, err := e.client.SearchExperiments(ctx, e.maxExperiments)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	log.Debug().Int("experiments", len(experiments)).Msg("Enumerating experiments")

	var batch []MetricRecord
	seen := make(map[RecordKey]struct{})

	for _, experiment := range experiments {
		stats.Experiments++
		runs, err := e.client.SearchRuns(ctx, []string{experiment.ID}, maxRunsPerExperiment)
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}

		for _, run := range runs {
			stats.Runs++
			tags := mlflow.TagMap(run.Data.Tags)

			for _, latest := range run.Data.Metrics {
				history, err := e.client.GetMetricHistory(ctx, run.Info.RunID, latest.Key)
				if err != nil {
					return nil, stats, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
				}

				for _, point := range history {
					record, err := recordFromPoint(point, run.Info.RunID, experiment.Name, tags)
					if err != nil {
						stats.Malformed++
						log.Warn().Err(err).
							Str("run_id", run.Info.RunID).
							Msg("Skipping unparsable metric point")
						continue
					}
					if mark, ok := marks.Get(record.RunID, record.Name); ok && record.Step <= mark {
						stats.Filtered++
						continue
					}
					if _, dup := seen[record.Key()]; dup {
						continue
					}
					seen[record.Key()] = struct{}{}
					batch = append(batch, record)
				}
			}
		}
	}

	stats.Extracted = len(batch)
	return batch, stats, nil
}

// recordFromPoint converts one tracking store metric point into a
// MetricRecord, rejecting points without a name or with a non-finite value.
func recordFromPoint(
	point mlflow.Metric,
	runID, experimentName string,
	tags map[string]string,
) (MetricRecord, error) {
	if point.Key == "" {
		return MetricRecord{}, fmt.Errorf("%w: missing metric name", ErrMalformedRecord)
	}
	if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) {
		return MetricRecord{}, fmt.Errorf("%w: non-finite value for %q", ErrMalformedRecord, point.Key)
	}
	return MetricRecord{
		Name:           point.Key,
		Value:          point.Value,
		Timestamp:      time.UnixMilli(point.Timestamp).UTC(),
		RunID:          runID,
		ExperimentName: experimentName,
		Step:           point.Step,
		Tags:           tags,
	}, nil
}
