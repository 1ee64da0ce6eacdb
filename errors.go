package mlexport

import "errors"

// Failure taxonomy for the export pipeline. Sink and source errors wrap these
// sentinels so callers can classify with errors.Is.
var (
	// ErrSourceUnavailable signals that the tracking store could not be reached or
	// timed out. An extraction pass that hits this aborts without touching watermarks.
	ErrSourceUnavailable = errors.New("tracking store unavailable")

	// ErrMalformedRecord signals a single metric point that could not be parsed.
	// Such points are skipped and counted, never fatal to a pass.
	ErrMalformedRecord = errors.New("malformed metric record")

	// ErrSinkUnavailable signals a sink that could not be reached (network error
	// or timeout). The affected batch is retried on the next cycle.
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrSinkTransient signals a retryable server-side sink failure (5xx).
	ErrSinkTransient = errors.New("sink transient failure")

	// ErrSinkRejected signals a permanent sink rejection (4xx). Retries will not
	// help; logged distinctly for operator attention.
	ErrSinkRejected = errors.New("sink rejected batch")
)

// errKind returns the short classification name for a pipeline error, or an
// empty string for nil.
func errKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrSinkRejected):
		return "sink_rejected"
	case errors.Is(err, ErrSinkTransient):
		return "sink_transient"
	case errors.Is(err, ErrSinkUnavailable):
		return "sink_unavailable"
	default:
		return "unknown"
	}
}
