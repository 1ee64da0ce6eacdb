package mlexport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkbrsn/taskman"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// defaultExportInterval is the continuous-mode cadence when none is configured.
const defaultExportInterval = 60 * time.Second

// CycleReport summarizes one extract→dispatch→advance cycle.
type CycleReport struct {
	CycleID   string        // Unique identifier of the cycle
	Stats     ExtractStats  // What the extraction pass saw
	Outcomes  []SinkOutcome // One outcome per enabled sink
	Advanced  int           // Watermarks moved after confirmed delivery
	SourceErr error         // Extraction failure that aborted the cycle, if any
}

// Success reports whether the cycle completed with every enabled sink
// accepting the batch. An empty cycle with nothing to deliver is a success.
func (r CycleReport) Success() bool {
	if r.SourceErr != nil {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Success {
			return false
		}
	}
	return true
}

// FailedSinks lists the IDs of sinks that did not accept the batch.
func (r CycleReport) FailedSinks() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if !o.Success {
			failed = append(failed, o.SinkID)
		}
	}
	return failed
}

// Runner drives the pipeline through its cycle: extract new records, dispatch
// them to every sink, then advance watermarks for confirmed deliveries. The
// Runner exclusively owns the watermark tracker's lifetime.
type Runner struct {
	extractor  *Extractor
	dispatcher *Dispatcher
	marks      *WatermarkTracker
	interval   time.Duration
}

// RunnerOption is a functional option for the Runner.
type RunnerOption func(*Runner)

// WithInterval configures the continuous-mode export cadence.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

// NewRunner creates a Runner over the given pipeline components.
func NewRunner(
	extractor *Extractor,
	dispatcher *Dispatcher,
	marks *WatermarkTracker,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		extractor:  extractor,
		dispatcher: dispatcher,
		marks:      marks,
		interval:   defaultExportInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks that the Runner is ready to execute cycles.
func (r *Runner) Validate() error {
	if r.extractor == nil {
		return errors.New("extractor is nil")
	}
	if err := r.extractor.Validate(); err != nil {
		return err
	}
	if r.dispatcher == nil {
		return errors.New("dispatcher is nil")
	}
	if r.dispatcher.Sinks() == 0 {
		return errors.New("no sinks enabled")
	}
	if r.marks == nil {
		return errors.New("watermark tracker is nil")
	}
	if r.interval <= 0 {
		return errors.New("export interval must be positive")
	}
	return nil
}

// RunOnce executes exactly one cycle and returns its report. The returned
// error is non-nil only when extraction failed; sink failures are reported
// through the outcomes and the report's Success method.
func (r *Runner) RunOnce(ctx context.Context) (CycleReport, error) {
	report := CycleReport{CycleID: xid.New().String()}
	logger := log.With().Str("cycle_id", report.CycleID).Logger()

	batch, stats, err := r.extractor.Extract(ctx, r.marks)
	report.Stats = stats
	if err != nil {
		// No watermark may move on a failed extraction pass.
		report.SourceErr = err
		logger.Error().Err(err).Msg("Extraction failed, cycle aborted")
		return report, err
	}
	logger.Info().
		Int("extracted", stats.Extracted).
		Int("filtered", stats.Filtered).
		Int("malformed", stats.Malformed).
		Int("runs", stats.Runs).
		Msg("Extraction pass complete")

	if len(batch) == 0 {
		logger.Info().Msg("No new metrics since last watermark")
		return report, nil
	}

	report.Outcomes = r.dispatcher.Dispatch(ctx, batch)

	// Watermarks advance only after all outcomes for the batch are known, and
	// only when the batch qualifies under the advance policy.
	if r.dispatcher.Eligible(report.Outcomes) {
		for _, record := range batch {
			if r.marks.Advance(record.RunID, record.Name, record.Step) {
				report.Advanced++
			}
		}
		if err := r.marks.Flush(); err != nil {
			logger.Error().Err(err).Msg("Failed to persist watermarks")
		}
	} else {
		logger.Warn().
			Strs("failed_sinks", report.FailedSinks()).
			Msg("Watermarks withheld, batch will be redelivered next cycle")
	}

	logger.Info().
		Int("advanced", report.Advanced).
		Bool("success", report.Success()).
		Msg("Cycle complete")
	return report, nil
}

// RunContinuous repeats cycles at the configured interval until ctx is
// cancelled. Cycles never overlap: ticks arriving while a cycle is in flight
// collapse into at most one pending cycle. Transient source or sink failures
// are logged and the loop continues; cancellation is observed between cycles
// and exits cleanly without advancing watermarks for an incomplete cycle.
func (r *Runner) RunContinuous(ctx context.Context) error {
	if err := r.Validate(); err != nil {
		return err
	}

	tm := taskman.New()
	defer tm.Stop()

	ticks := make(chan struct{}, 1)
	err := tm.ScheduleJob(taskman.Job{
		ID:       "export-cycle",
		Cadence:  r.interval,
		NextExec: time.Now().Add(r.interval),
		Tasks:    []taskman.Task{tickTask{ticks: ticks}},
	})
	if err != nil {
		return fmt.Errorf("failed to schedule export job: %w", err)
	}

	log.Info().Dur("interval", r.interval).Msg("Starting continuous export")

	// First cycle fires immediately; subsequent ones follow the cadence.
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrSourceUnavailable) {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Continuous export cancelled, flushing watermarks")
			if err := r.marks.Flush(); err != nil {
				log.Error().Err(err).Msg("Failed to flush watermarks on shutdown")
			}
			return nil
		case <-ticks:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrSourceUnavailable) {
				return err
			}
		}
	}
}

// tickTask signals the runner loop that a cadence interval elapsed. The
// non-blocking send keeps a long-running cycle from queueing a backlog of
// pending cycles.
type tickTask struct {
	ticks chan<- struct{}
}

// Execute implements taskman.Task.
func (t tickTask) Execute() error {
	select {
	case t.ticks <- struct{}{}:
	default:
	}
	return nil
}
