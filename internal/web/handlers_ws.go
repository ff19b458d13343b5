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
)

// wsMessage is one frame pushed to websocket clients.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`

	device string
}

// wsRequest is the only frame a client may send. An empty Follow list
// follows every device again.
type wsRequest struct {
	Follow []string `json:"follow"`
}

// WSHub fans controller events out to websocket clients. Each client sees
// only the devices it follows.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan wsMessage

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	filterMu sync.RWMutex
	follow   map[string]struct{} // nil follows all
}

func (c *wsClient) setFollow(ids []string) {
	var follow map[string]struct{}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		if follow == nil {
			follow = make(map[string]struct{})
		}
		follow[id] = struct{}{}
	}
	c.filterMu.Lock()
	c.follow = follow
	c.filterMu.Unlock()
}

// wants reports whether a frame about device id goes to this client.
// Frames not tied to a device go to everyone.
func (c *wsClient) wants(id string) bool {
	if id == "" {
		return true
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if c.follow == nil {
		return true
	}
	_, ok := c.follow[id]
	return ok
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan wsMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run owns client registration and fan-out until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c, "disconnected")
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", "total", n)
}

func (h *WSHub) remove(c *wsClient, why string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("ws client "+why, "total", n)
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// fanOut evicts clients whose send queue is full.
func (h *WSHub) fanOut(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal", "type", msg.Type, "err", err)
		return
	}

	h.mu.RLock()
	var slow []*wsClient
	for c := range h.clients {
		if !c.wants(msg.device) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c, "evicted (too slow)")
	}
}

func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg, dropping it if the queue is full.
func (h *WSHub) Broadcast(msg wsMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message", "type", msg.Type)
	}
}

func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS upgrades the request. ?devices=a,b limits the stream, including
// the initial snapshot frame, to those devices.
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

	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	if q := r.URL.Query().Get("devices"); q != "" {
		c.setFollow(strings.Split(q, ","))
	}

	// Snapshot is queued before registration so it is always the first frame.
	snap, err := s.snapshot(c)
	if err != nil {
		s.logger.Error("ws snapshot", "err", err)
	} else {
		c.send <- snap
	}

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWrite(c)
	s.wsRead(c)
}

func (s *Server) snapshot(c *wsClient) ([]byte, error) {
	devices, err := s.hub.Devices()
	if err != nil {
		return nil, err
	}
	byID := devicesByID(devices)
	for id := range byID {
		if !c.wants(id) {
			delete(byID, id)
		}
	}
	return json.Marshal(wsMessage{Type: "snapshot", Data: byID})
}

func (s *Server) wsWrite(c *wsClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// wsRead applies follow requests and unregisters the client on disconnect.
func (s *Server) wsRead(c *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		select {
		case s.wsHub.unregister <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Debug("ws: ignoring malformed frame", "err", err)
			continue
		}
		c.setFollow(req.Follow)
	}
}
