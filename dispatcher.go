package mlexport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// AdvancePolicy decides when a dispatched batch becomes eligible for
// watermark advancement.
type AdvancePolicy string

const (
	// AdvanceAll requires every enabled sink to accept the batch before
	// watermarks move. Rejected or unreachable sinks cause redelivery of the
	// whole batch next cycle, so no configured sink loses data.
	AdvanceAll AdvancePolicy = "all"

	// AdvanceAny advances watermarks once at least one enabled sink accepts
	// the batch, trading completeness at lagging sinks for forward progress.
	AdvanceAny AdvancePolicy = "any"
)

// ParseAdvancePolicy converts a configuration string into an AdvancePolicy.
func ParseAdvancePolicy(s string) (AdvancePolicy, error) {
	switch AdvancePolicy(s) {
	case AdvanceAll, AdvanceAny:
		return AdvancePolicy(s), nil
	default:
		return "", fmt.Errorf("unknown advance policy %q", s)
	}
}

// Dispatcher owns the configured sinks and fans each batch out to all of
// them. Sinks fail independently: one sink's failure is captured in its own
// outcome and never blocks or aborts the others.
type Dispatcher struct {
	sinks  []Sink
	policy AdvancePolicy

	batches  atomic.Int64
	accepted atomic.Int64
}

// NewDispatcher creates a Dispatcher over the given sinks.
func NewDispatcher(policy AdvancePolicy, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, policy: policy}
}

// Sinks returns the number of configured sinks.
func (d *Dispatcher) Sinks() int {
	return len(d.sinks)
}

// Dispatch delivers the batch to every sink concurrently and returns one
// outcome per sink. The call itself never fails; per-sink errors live in the
// outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []MetricRecord) []SinkOutcome {
	d.batches.Inc()
	outcomes := make([]SinkOutcome, len(d.sinks))

	var group errgroup.Group
	for i, sink := range d.sinks {
		group.Go(func() error {
			outcome := sink.Deliver(ctx, batch)
			if outcome.Success {
				d.accepted.Add(int64(outcome.RecordsAccepted))
				log.Debug().
					Str("sink", outcome.SinkID).
					Int("records", outcome.RecordsAccepted).
					Msg("Sink accepted batch")
			} else {
				log.Warn().
					Str("sink", outcome.SinkID).
					Str("kind", outcome.ErrKind()).
					Err(outcome.Err).
					Msg("Sink delivery failed")
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

// Eligible reports whether a batch with the given outcomes qualifies for
// watermark advancement under the dispatcher's policy. Sinks accept or fail
// whole batches, so batch eligibility is record eligibility.
func (d *Dispatcher) Eligible(outcomes []SinkOutcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	switch d.policy {
	case AdvanceAny:
		for _, o := range outcomes {
			if o.Success {
				return true
			}
		}
		return false
	default: // AdvanceAll
		for _, o := range outcomes {
			if !o.Success {
				return false
			}
		}
		return true
	}
}

// Stats returns lifetime dispatch counters: batches dispatched and records
// accepted across all sinks.
func (d *Dispatcher) Stats() (batches, accepted int64) {
	return d.batches.Load(), d.accepted.Load()
}
