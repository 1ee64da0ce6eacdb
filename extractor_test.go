package mlexport

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkbrsn/mlexport/internal/mlflow"
)

func TestExtractorExtractsNewPoints(t *testing.T) {
	server := newTrackingServer(t, twoStepFixture())
	defer server.Close()

	extractor := NewExtractor(fastClient(server.URL))
	batch, stats, err := extractor.Extract(context.Background(), newTestTracker(t))
	require.NoError(t, err)

	require.Len(t, batch, 2)
	assert.Equal(t, 2, stats.Extracted)
	assert.Equal(t, 1, stats.Experiments)
	assert.Equal(t, 1, stats.Runs)
	assert.Zero(t, stats.Malformed)

	first := batch[0]
	assert.Equal(t, "accuracy", first.Name)
	assert.Equal(t, "r1", first.RunID)
	assert.Equal(t, "exp-main", first.ExperimentName)
	assert.InDelta(t, 0.80, first.Value, 1e-9)
	assert.Equal(t, int64(1), first.Step)
	assert.Equal(t, "production", first.Tags["environment"])
	assert.True(t, first.Timestamp.Equal(time.UnixMilli(1000).UTC()))
}

func TestExtractorIdempotentWithWatermark(t *testing.T) {
	server := newTrackingServer(t, twoStepFixture())
	defer server.Close()

	extractor := NewExtractor(fastClient(server.URL))
	tracker := newTestTracker(t)

	batch, _, err := extractor.Extract(context.Background(), tracker)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	for _, record := range batch {
		tracker.Advance(record.RunID, record.Name, record.Step)
	}

	// An unchanged source with the delivered watermark yields nothing.
	batch, stats, err := extractor.Extract(context.Background(), tracker)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Equal(t, 2, stats.Filtered)
}

func TestExtractorPartialWatermark(t *testing.T) {
	server := newTrackingServer(t, twoStepFixture())
	defer server.Close()

	extractor := NewExtractor(fastClient(server.URL))
	tracker := newTestTracker(t)
	tracker.Advance("r1", "accuracy", 1)

	batch, _, err := extractor.Extract(context.Background(), tracker)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, int64(2), batch[0].Step)
}

func TestExtractorSkipsMalformedPoints(t *testing.T) {
	fixture := twoStepFixture()
	fixture.history["r1/accuracy"] = append(fixture.history["r1/accuracy"],
		mlflow.Metric{Key: "", Value: 1.0, Timestamp: 3000, Step: 3})
	server := newTrackingServer(t, fixture)
	defer server.Close()

	extractor := NewExtractor(fastClient(server.URL))
	batch, stats, err := extractor.Extract(context.Background(), newTestTracker(t))
	require.NoError(t, err)

	assert.Len(t, batch, 2)
	assert.Equal(t, 1, stats.Malformed)
}

func TestExtractorDeduplicatesWithinPass(t *testing.T) {
	fixture := twoStepFixture()
	// The source repeats a point; a single pass must not emit duplicates.
	fixture.history["r1/accuracy"] = append(fixture.history["r1/accuracy"],
		mlflow.Metric{Key: "accuracy", Value: 0.95, Timestamp: 2000, Step: 2})
	server := newTrackingServer(t, fixture)
	defer server.Close()

	extractor := NewExtractor(fastClient(server.URL))
	batch, _, err := extractor.Extract(context.Background(), newTestTracker(t))
	require.NoError(t, err)

	seen := make(map[RecordKey]int)
	for _, record := range batch {
		seen[record.Key()]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "duplicate tuple %v", key)
	}
}

func TestExtractorSourceUnavailable(t *testing.T) {
	server := newTrackingServer(t, twoStepFixture())
	server.Close() // Unreachable from the start

	extractor := NewExtractor(fastClient(server.URL))
	_, _, err := extractor.Extract(context.Background(), newTestTracker(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestExtractorHonorsMaxExperiments(t *testing.T) {
	extractor := NewExtractor(fastClient("http://localhost:0"), WithMaxExperiments(3))
	assert.NoError(t, extractor.Validate())

	extractor = NewExtractor(fastClient("http://localhost:0"), WithMaxExperiments(0))
	assert.Error(t, extractor.Validate())
}

func TestRecordFromPointRejectsNonFinite(t *testing.T) {
	nan := mlflow.Metric{Key: "loss", Value: math.NaN(), Timestamp: 1000, Step: 1}
	_, err := recordFromPoint(nan, "r1", "exp", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedRecord))

	inf := mlflow.Metric{Key: "loss", Value: math.Inf(1), Timestamp: 1000, Step: 1}
	_, err = recordFromPoint(inf, "r1", "exp", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedRecord))
}
