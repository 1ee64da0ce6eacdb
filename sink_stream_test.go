package mlexport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// newStreamServer upgrades connections and forwards received text frames.
func newStreamServer(t *testing.T) (*httptest.Server, chan []byte) {
	t.Helper()
	frames := make(chan []byte, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}))
	return server, frames
}

func wsURL(t *testing.T, server *httptest.Server) *url.URL {
	t.Helper()
	u, err := url.Parse("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)
	return u
}

func TestStreamSinkDeliversFrames(t *testing.T) {
	server, frames := newStreamServer(t)
	defer server.Close()

	sink := NewStreamSink(wsURL(t, server))
	defer func() { _ = sink.Close() }()

	outcome := sink.Deliver(context.Background(), testBatch())
	require.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.RecordsAccepted)

	select {
	case frame := <-frames:
		var payload pushPayload
		require.NoError(t, sonic.Unmarshal(frame, &payload))
		assert.Equal(t, "mlflow", payload.Source)
		assert.Len(t, payload.Metrics, 2)
	case <-time.After(time.Second):
		t.Fatal("stream server did not receive a frame")
	}
}

func TestStreamSinkReconnectsAfterServerRestart(t *testing.T) {
	server, frames := newStreamServer(t)
	defer server.Close()

	sink := NewStreamSink(wsURL(t, server))
	defer func() { _ = sink.Close() }()

	outcome := sink.Deliver(context.Background(), testBatch())
	require.True(t, outcome.Success)
	<-frames

	// Kill the live connection server-side; the next delivery must reconnect.
	server.CloseClientConnections()
	time.Sleep(50 * time.Millisecond)

	outcome = sink.Deliver(context.Background(), testBatch())
	require.True(t, outcome.Success)

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("stream server did not receive a frame after reconnect")
	}
}

func TestStreamSinkUnavailable(t *testing.T) {
	server, _ := newStreamServer(t)
	server.Close() // Unreachable

	sink := NewStreamSink(wsURL(t, server))
	outcome := sink.Deliver(context.Background(), testBatch())

	require.False(t, outcome.Success)
	assert.True(t, errors.Is(outcome.Err, ErrSinkUnavailable))
}

func TestStreamSinkCloseWithoutConnection(t *testing.T) {
	u, err := url.Parse("ws://localhost:0/stream")
	require.NoError(t, err)
	sink := NewStreamSink(u)
	assert.NoError(t, sink.Close())
}
