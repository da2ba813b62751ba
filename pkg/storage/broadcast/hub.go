package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// HubOption configures a Hub.
type HubOption func(*hubConfig)

type hubConfig struct {
	logger       *slog.Logger
	checkOrigin  func(*http.Request) bool
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
	sendBuffer   int
}

// WithLogger sets the hub logger.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) HubOption {
	return func(c *hubConfig) {
		c.logger = logger
	}
}

// WithCheckOrigin sets the upgrade origin check.
// Default: accept every origin.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(c *hubConfig) {
		c.checkOrigin = fn
	}
}

// WithWriteTimeout bounds each write to a connection.
// Default: 10 seconds.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(c *hubConfig) {
		c.writeTimeout = d
	}
}

// WithPingInterval sets the heartbeat interval. A connection that does not
// answer within two intervals is dropped.
// Default: 30 seconds.
func WithPingInterval(d time.Duration) HubOption {
	return func(c *hubConfig) {
		c.pingInterval = d
	}
}

// WithReadLimit caps the size of an incoming frame.
// Default: 1 MiB.
func WithReadLimit(n int64) HubOption {
	return func(c *hubConfig) {
		c.readLimit = n
	}
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Connections int
	Scopes      int
	Relayed     uint64
	Dropped     uint64
}

// Hub relays frames between the connections of each scope.
type Hub struct {
	config   hubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	scopes map[string]map[*hubConn]struct{}
	closed bool

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	cfg := hubConfig{
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
		readLimit:    1 << 20,
		sendBuffer:   64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.checkOrigin == nil {
		cfg.checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		config: cfg,
		logger: cfg.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.checkOrigin,
		},
		scopes: make(map[string]map[*hubConn]struct{}),
	}
}

// Routes returns a router serving GET /sync/{scope}.
//
//	r := chi.NewRouter()
//	r.Mount("/", hub.Routes())
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sync/{scope}", h.serveSync)
	return r
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	conns := 0
	for _, set := range h.scopes {
		conns += len(set)
	}
	scopes := len(h.scopes)
	h.mu.Unlock()

	return Stats{
		Connections: conns,
		Scopes:      scopes,
		Relayed:     h.relayed.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close disconnects every connection. Later upgrades are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var conns []*hubConn
	for _, set := range h.scopes {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) serveSync(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if scope == "" {
		http.Error(w, "scope is required", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "scope", scope, "error", err)
		return
	}

	c := &hubConn{
		hub:   h,
		scope: scope,
		ws:    ws,
		send:  make(chan []byte, h.config.sendBuffer),
		done:  make(chan struct{}),
	}
	if !h.register(c) {
		_ = ws.Close()
		return
	}
	h.logger.Debug("peer connected", "scope", scope, "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()
}

func (h *Hub) register(c *hubConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	set, ok := h.scopes[c.scope]
	if !ok {
		set = make(map[*hubConn]struct{})
		h.scopes[c.scope] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.scopes[c.scope]
	delete(set, c)
	if len(set) == 0 {
		delete(h.scopes, c.scope)
	}
}

// relay queues msg on every other connection of the sender's scope. A
// connection whose buffer is full is dropped rather than slowing the rest.
func (h *Hub) relay(from *hubConn, msg []byte) {
	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.scopes[from.scope]))
	for c := range h.scopes[from.scope] {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
			h.relayed.Add(1)
		case <-c.done:
		default:
			h.dropped.Add(1)
			h.logger.Warn("dropping slow peer", "scope", c.scope)
			c.close()
		}
	}
}

type hubConn struct {
	hub   *Hub
	scope string
	ws    *websocket.Conn
	send  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *hubConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.ws.Close()
	})
}

func (c *hubConn) readLoop() {
	defer c.close()

	cfg := c.hub.config
	c.ws.SetReadLimit(cfg.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * cfg.pingInterval))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * cfg.pingInterval))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.hub.logger.Warn("peer read error", "scope", c.scope, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(2 * cfg.pingInterval))

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || !f.valid() {
			c.hub.logger.Warn("invalid frame", "scope", c.scope, "error", err)
			continue
		}
		c.hub.relay(c, msg)
	}
}

func (c *hubConn) writeLoop() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.writeTimeout)); err != nil {
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}
