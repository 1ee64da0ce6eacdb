package mlexport

import "context"

// Sink delivers a batch of MetricRecords to one external monitoring system.
// Implementations own no shared state; each Deliver call is stateless apart
// from the sink's own connection and auth handles. Sinks must tolerate
// duplicate deliveries, since withheld watermarks cause redelivery on the
// next cycle.
type Sink interface {
	// ID returns the sink's stable identifier, used in outcomes and logs.
	ID() string

	// Deliver sends the batch and reports the attempt's outcome. Failures are
	// reported through the outcome, never panicked.
	Deliver(ctx context.Context, batch []MetricRecord) SinkOutcome
}

// SinkOutcome is the result of one dispatch attempt against one sink. It is
// produced once per attempt and retained only for logging and exit status.
type SinkOutcome struct {
	SinkID          string // Identifier of the reporting sink
	Success         bool   // Whether the sink accepted the batch
	Err             error  // Classified delivery error, nil on success
	RecordsAccepted int    // Number of records the sink accepted
}

// ErrKind returns the short classification of the outcome's error, empty on
// success.
func (o SinkOutcome) ErrKind() string {
	return errKind(o.Err)
}

// acceptedOutcome reports a fully successful delivery.
func acceptedOutcome(sinkID string, records int) SinkOutcome {
	return SinkOutcome{SinkID: sinkID, Success: true, RecordsAccepted: records}
}

// failedOutcome reports a failed delivery.
func failedOutcome(sinkID string, err error) SinkOutcome {
	return SinkOutcome{SinkID: sinkID, Success: false, Err: err}
}
