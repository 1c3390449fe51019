package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"netcontrol/internal/device"
)

const (
	wsSendBuffer   = 64
	wsQueueSize    = 256
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHub streams inventory events to WebSocket clients. Registration,
// removal and delivery all happen on the Run goroutine.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan device.Event

	done     chan struct{}
	stopOnce sync.Once
}

// wsFilter restricts what a client receives; empty sets mean everything.
type wsFilter struct {
	Types   []device.EventType `json:"types"`
	Devices []device.ID        `json:"devices"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	types   map[device.EventType]bool
	devices map[device.ID]bool
}

func (c *wsClient) setFilter(f wsFilter) {
	types := make(map[device.EventType]bool, len(f.Types))
	for _, t := range f.Types {
		types[t] = true
	}
	devices := make(map[device.ID]bool, len(f.Devices))
	for _, id := range f.Devices {
		devices[id] = true
	}
	c.mu.Lock()
	c.types, c.devices = types, devices
	c.mu.Unlock()
}

func (c *wsClient) wants(ev device.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.types) > 0 && !c.types[ev.Type] {
		return false
	}
	return len(c.devices) == 0 || c.devices[ev.Subject()]
}

// splitQuery flattens repeated and comma-separated query values.
func splitQuery(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func filterFromQuery(r *http.Request) wsFilter {
	q := r.URL.Query()
	var f wsFilter
	for _, t := range splitQuery(q["type"]) {
		f.Types = append(f.Types, device.EventType(t))
	}
	for _, id := range splitQuery(q["device"]) {
		f.Devices = append(f.Devices, device.ID(id))
	}
	return f
}

// NewWSHub creates a hub. Nothing is delivered until Run.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan device.Event, wsQueueSize),
		done:       make(chan struct{}),
	}
}

// Run delivers events until Stop, then closes every client's send queue.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", n)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", n)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// drop forgets c and closes its queue. h.mu must be held.
func (h *WSHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
}

func (h *WSHub) deliver(ev device.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal", "err", err, "type", ev.Type)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// A client that cannot keep up loses its stream rather than
			// holding back everyone else.
			h.drop(c)
			h.logger.Warn("ws client evicted (too slow)", "type", ev.Type)
		}
	}
}

// Stop shuts the hub down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues an event for every interested client. It never blocks
// the event fanout; events are dropped when the queue is full.
func (h *WSHub) Broadcast(ev device.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("ws broadcast queue full, dropping event", "type", ev.Type, "device", ev.Subject())
	}
}

// handleWS upgrades the request and streams events. The initial filter
// comes from ?type= and ?device=; a client may replace it at any time by
// sending a JSON {"types": [...], "devices": [...]} message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	c.setFilter(filterFromQuery(r))

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(c)
	s.wsReadPump(c)
}

func (s *Server) wsWritePump(c *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				s.logger.Debug("ws ping failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) wsReadPump(c *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f wsFilter
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("ws bad filter message", "err", err)
			continue
		}
		c.setFilter(f)
	}
}
