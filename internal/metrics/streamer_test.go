package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStreamer(t *testing.T, s *Streamer) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStreamer_HistoricalDataOnConnect(t *testing.T) {
	s := NewStreamer(slog.Default(), func() map[string]any {
		return map[string]any{"throughput": map[string]int{"requests": 7}}
	})
	defer s.Close()

	conn := dialStreamer(t, s)
	msg := readEnvelope(t, conn)
	assert.JSONEq(t, `"historical_data"`, string(msg["type"]))
	assert.Contains(t, string(msg["data"]), "throughput")
	assert.NotEmpty(t, msg["timestamp"])
}

func TestStreamer_BroadcastDeltasAndFilters(t *testing.T) {
	tick := 0
	s := NewStreamer(slog.Default(), func() map[string]any {
		return map[string]any{
			"throughput": map[string]int{"tick": tick},
			"streaming":  map[string]int{"constant": 1},
		}
	})
	defer s.Close()

	conn := dialStreamer(t, s)
	readEnvelope(t, conn) // historical_data

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "subscribe",
		"filters": map[string]any{"metric_type": "throughput"},
	}))
	// Give readPump time to apply the filter.
	time.Sleep(50 * time.Millisecond)

	tick = 1
	s.broadcast(time.Now().UTC())
	msg := readEnvelope(t, conn)
	assert.JSONEq(t, `"metrics_update"`, string(msg["type"]))
	assert.Contains(t, string(msg["data"]), `"tick":1`)
	assert.NotContains(t, string(msg["data"]), "streaming")

	// An unchanged section is suppressed; only the advanced one arrives.
	now := time.Now().UTC().Add(time.Second)
	s.broadcast(now)
	tick = 2
	s.broadcast(now.Add(time.Second))
	msg = readEnvelope(t, conn)
	assert.Contains(t, string(msg["data"]), `"tick":2`)
}

func TestStreamer_ClientIntervalThrottlesPushes(t *testing.T) {
	tick := 0
	s := NewStreamer(slog.Default(), func() map[string]any {
		return map[string]any{"throughput": map[string]int{"tick": tick}}
	})
	defer s.Close()

	conn := dialStreamer(t, s)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "subscribe",
		"filters": map[string]any{"interval": 10.0},
	}))
	time.Sleep(50 * time.Millisecond)

	now := time.Now().UTC()
	tick = 1
	s.broadcast(now)
	msg := readEnvelope(t, conn)
	assert.Contains(t, string(msg["data"]), `"tick":1`)

	// Next push is owed 10s later; a broadcast 1s in is skipped.
	tick = 2
	s.broadcast(now.Add(time.Second))
	tick = 3
	s.broadcast(now.Add(11 * time.Second))
	msg = readEnvelope(t, conn)
	assert.Contains(t, string(msg["data"]), `"tick":3`)
}

func TestStreamer_PingPong(t *testing.T) {
	s := NewStreamer(slog.Default(), func() map[string]any { return nil })
	defer s.Close()

	conn := dialStreamer(t, s)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	msg := readEnvelope(t, conn)
	assert.JSONEq(t, `"pong"`, string(msg["type"]))
	assert.NotEmpty(t, msg["timestamp"])
}

func TestStreamer_BroadcastSurvivesConcurrentDrop(t *testing.T) {
	// A client disconnecting between the broadcaster's client-list copy and
	// its send must not crash the loop. The snapshot callback runs inside
	// broadcast after the copy, so dropping every client from it lands the
	// disconnect exactly in that window.
	var s *Streamer
	var dropMidBroadcast atomic.Bool
	tick := 0
	s = NewStreamer(slog.Default(), func() map[string]any {
		if dropMidBroadcast.Load() {
			s.mu.Lock()
			clients := make([]*wsClient, 0, len(s.clients))
			for c := range s.clients {
				clients = append(clients, c)
			}
			s.mu.Unlock()
			for _, c := range clients {
				s.drop(c, "test disconnect")
			}
		}
		return map[string]any{"throughput": map[string]int{"tick": tick}}
	})
	defer s.Close()

	conn := dialStreamer(t, s)
	readEnvelope(t, conn)
	require.Equal(t, 1, s.ClientCount())

	dropMidBroadcast.Store(true)
	tick = 1
	require.NotPanics(t, func() { s.broadcast(time.Now().UTC()) })
	assert.Equal(t, 0, s.ClientCount())

	// The next tick runs against an empty client set without incident.
	tick = 2
	require.NotPanics(t, func() { s.broadcast(time.Now().UTC().Add(time.Second)) })
}

func TestStreamer_ClientCount(t *testing.T) {
	s := NewStreamer(slog.Default(), func() map[string]any { return nil })
	defer s.Close()

	conn := dialStreamer(t, s)
	readEnvelope(t, conn)
	assert.Equal(t, 1, s.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
