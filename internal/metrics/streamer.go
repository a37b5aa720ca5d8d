package metrics

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mixaill76/openai-sim/internal/utils"
)

const (
	// broadcastInterval is the tick of the fan-out loop. Clients may ask for
	// a slower cadence; they never get a faster one.
	broadcastInterval = 500 * time.Millisecond

	// clientSendBuffer bounds the per-client outbound queue. A full buffer
	// marks the client as slow; slow clients get dropped rather than
	// blocking the broadcaster.
	clientSendBuffer = 16

	wsWriteTimeout = 5 * time.Second
)

// SnapshotFunc produces the full metrics snapshot keyed by section name
// (throughput, latency, streaming, cache, error, ...).
type SnapshotFunc func() map[string]any

// SubscriptionFilters narrows what a client receives. Zero values mean no
// filtering on that axis.
type SubscriptionFilters struct {
	Endpoint   string  `json:"endpoint,omitempty"`
	Model      string  `json:"model,omitempty"`
	MetricType string  `json:"metric_type,omitempty"` // throughput|latency|cache|streaming|queue|error|all
	Interval   float64 `json:"interval,omitempty"`    // seconds between pushes
}

// wsClient is one connected subscriber. The send channel is never closed;
// shutdown is signalled through done so a concurrent broadcaster can never
// send on a closed channel.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	types   map[string]bool // accumulated metric_type filters; empty = all
	every   time.Duration
	nextDue time.Time
	// prev holds the last serialized value per section for delta computation.
	prev map[string]json.RawMessage
}

// shutdown marks the client closed exactly once, waking writePump and
// tearing down the connection. Reports whether this call did the closing.
func (c *wsClient) shutdown() bool {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return false
	}
	close(c.done)
	c.conn.Close()
	return true
}

// trySend queues a message without blocking. It fails when the client is
// shut down or its buffer is full.
func (c *wsClient) trySend(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// subscribe unions the new filters into the client's set.
func (c *wsClient) subscribe(f SubscriptionFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.MetricType != "" && f.MetricType != "all" {
		if c.types == nil {
			c.types = make(map[string]bool)
		}
		c.types[f.MetricType] = true
	} else {
		c.types = nil
	}
	if f.Interval > 0 {
		c.every = time.Duration(f.Interval * float64(time.Second))
	}
}

// unsubscribe resets the client to defaults: all sections, base cadence.
func (c *wsClient) unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = nil
	c.every = 0
}

func (c *wsClient) wants(section string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.types) == 0 || c.types[section]
}

// due reports whether a push is owed at now, and advances the schedule
// when it is.
func (c *wsClient) due(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.nextDue) {
		return false
	}
	interval := c.every
	if interval <= 0 {
		interval = broadcastInterval
	}
	c.nextDue = now.Add(interval)
	return true
}

// Streamer pushes periodic metric snapshots to WebSocket subscribers.
// The snapshot is computed once per tick and serialized per section; each
// client receives the sections it subscribed to as deltas against what it
// last saw.
type Streamer struct {
	logger   *slog.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	done    chan struct{}
	once    sync.Once
}

func NewStreamer(logger *slog.Logger, snapshot SnapshotFunc) *Streamer {
	return &Streamer{
		logger:   logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards connect cross-origin in practice; the simulator
			// keeps the permissive posture of its auth layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts the broadcast loop. It returns when Close is called.
func (s *Streamer) Run() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.broadcast(utils.NowUTC())
		}
	}
}

// Close stops the broadcaster and disconnects all clients.
func (s *Streamer) Close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}
}

// ClientCount returns the number of connected subscribers.
func (s *Streamer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the connection and registers the client.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		done: make(chan struct{}),
		prev: make(map[string]json.RawMessage),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("metrics subscriber connected", "remote", conn.RemoteAddr().String(), "clients", n)

	// Full snapshot up front so dashboards render without waiting a tick.
	if msg, err := s.envelope("historical_data", s.snapshot()); err == nil {
		client.trySend(msg)
	}

	go s.writePump(client)
	go s.readPump(client)
}

// clientMessage is the inbound control frame format.
type clientMessage struct {
	Type    string              `json:"type"`
	Filters SubscriptionFilters `json:"filters,omitempty"`
}

func (s *Streamer) readPump(c *wsClient) {
	defer s.drop(c, "read closed")
	c.conn.SetReadLimit(4096)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.Filters)
		case "unsubscribe":
			c.unsubscribe()
		case "ping":
			// Only the client pings; the server answers with a pong.
			if reply, err := s.envelope("pong", nil); err == nil {
				c.trySend(reply)
			}
		}
	}
}

func (s *Streamer) writePump(c *wsClient) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				utils.NowUTC().Add(wsWriteTimeout))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(utils.NowUTC().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.drop(c, "write failed")
				return
			}
		}
	}
}

func (s *Streamer) drop(c *wsClient, reason string) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	if c.shutdown() {
		s.logger.Info("metrics subscriber dropped", "remote", c.conn.RemoteAddr().String(), "reason", reason)
	}
}

func (s *Streamer) envelope(msgType string, data any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      msgType,
		"timestamp": utils.NowUTC().Format(time.RFC3339Nano),
		"data":      data,
	})
}

// broadcast computes the snapshot once, serializes each section once, and
// sends every due client the changed sections it subscribed to.
func (s *Streamer) broadcast(now time.Time) {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	if len(clients) == 0 {
		return
	}

	snap := s.snapshot()
	sections := make(map[string]json.RawMessage, len(snap))
	for name, v := range snap {
		raw, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("metrics section marshal failed", "section", name, "error", err)
			continue
		}
		sections[name] = raw
	}

	for _, c := range clients {
		if !c.due(now) {
			continue
		}
		deltas := make(map[string]json.RawMessage)
		for name, raw := range sections {
			if !c.wants(name) {
				continue
			}
			if bytes.Equal(c.prev[name], raw) {
				continue
			}
			c.prev[name] = raw
			deltas[name] = raw
		}
		if len(deltas) == 0 {
			continue
		}
		msg, err := s.envelope("metrics_update", map[string]any{"deltas": deltas})
		if err != nil {
			continue
		}
		if !c.trySend(msg) {
			// Full buffer means the client cannot keep up with the
			// broadcast cadence. Drop it instead of blocking the loop.
			s.drop(c, "slow consumer")
		}
	}
}
