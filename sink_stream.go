package mlexport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultStreamWriteTimeout = 10 * time.Second
	streamCloseGracePeriod    = 3 * time.Second
)

// StreamSink delivers metric batches as JSON text frames over a persistent
// WebSocket connection, for consumers that want a live feed instead of a poll
// or push API. The connection is established lazily on first delivery and
// re-established once per delivery attempt on write failure.
type StreamSink struct {
	mu sync.Mutex

	id           string
	url          *url.URL
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	now          func() time.Time

	conn *websocket.Conn
}

// StreamSinkOption is a functional option for the StreamSink.
type StreamSinkOption func(*StreamSink)

// WithStreamHeader configures the handshake header.
func WithStreamHeader(h http.Header) StreamSinkOption {
	return func(s *StreamSink) { s.header = h }
}

// WithStreamWriteTimeout configures the per-frame write deadline.
func WithStreamWriteTimeout(d time.Duration) StreamSinkOption {
	return func(s *StreamSink) { s.writeTimeout = d }
}

// WithStreamID configures the sink's identifier.
func WithStreamID(id string) StreamSinkOption {
	return func(s *StreamSink) { s.id = id }
}

// NewStreamSink creates a StreamSink writing to the given WebSocket URL.
func NewStreamSink(u *url.URL, opts ...StreamSinkOption) *StreamSink {
	s := &StreamSink{
		id:           "stream",
		url:          u,
		header:       make(http.Header),
		dialer:       websocket.DefaultDialer,
		writeTimeout: defaultStreamWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the sink identifier.
func (s *StreamSink) ID() string {
	return s.id
}

// Deliver writes the batch as one text frame. Any connection or write failure
// classifies as ErrSinkUnavailable; a reconnect is attempted once before
// giving up.
func (s *StreamSink) Deliver(ctx context.Context, batch []MetricRecord) SinkOutcome {
	frame, err := marshalPushPayload(batch, s.now())
	if err != nil {
		return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkRejected, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeFrame(ctx, frame); err != nil {
		// The connection may be stale from a previous cycle; reconnect and
		// retry once.
		s.teardown()
		if err := s.writeFrame(ctx, frame); err != nil {
			return failedOutcome(s.id, fmt.Errorf("%w: %v", ErrSinkUnavailable, err))
		}
	}
	return acceptedOutcome(s.id, len(batch))
}

// Close performs the close handshake and releases the connection.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := s.now().Add(streamCloseGracePeriod)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.teardown()
		return err
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// writeFrame connects if needed and writes one frame. Callers hold s.mu.
func (s *StreamSink) writeFrame(ctx context.Context, frame []byte) error {
	if s.conn == nil {
		conn, resp, err := s.dialer.DialContext(ctx, s.url.String(), s.header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return fmt.Errorf("failed to dial stream endpoint: %w", err)
		}
		s.conn = conn
	}

	deadline := s.now().Add(s.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// teardown drops the connection without a close handshake. Callers hold s.mu.
func (s *StreamSink) teardown() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
