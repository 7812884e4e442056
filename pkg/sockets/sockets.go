package sockets

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed     = errors.New("closed connection")
	ErrSlowClient = errors.New("client send buffer full")
)

const (
	sendBuffer   = 32
	maxReadBytes = 512
)

// Connection is one websocket client of a Hub.
type Connection interface {
	Send(msg Msg) error
	io.Closer
}

// Msg is the message structure.
type Msg struct {
	Body []byte
}

// Hub upgrades HTTP requests to websocket connections and broadcasts
// messages to every connected client.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	pingMsg      []byte
	onError      func(error)
	onConnected  func(Connection)

	mu      sync.Mutex
	clients map[*conn]struct{}
	closed  bool
}

func New(opts ...func(*Hub)) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		clients:      make(map[*conn]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.reportError(err)
		return
	}
	c := &conn{
		hub:  h,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if h.onConnected != nil {
		h.onConnected(c)
	}
	if !h.add(c) {
		_ = ws.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

// Broadcast queues body for every client. Clients whose buffer is full are
// disconnected.
func (h *Hub) Broadcast(body []byte) {
	h.mu.Lock()
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.Send(Msg{Body: body}); err != nil {
			h.reportError(err)
			_ = c.Close()
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	return nil
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) reportError(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}

type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) Send(msg Msg) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- msg.Body:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowClient
	}
}

// Closes the connection.
func (c *conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.hub.remove(c)
	})
	return nil
}

func (c *conn) writeLoop() {
	var ping <-chan time.Time
	if c.hub.pingInterval > 0 {
		ticker := time.NewTicker(c.hub.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case body := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				c.hub.reportError(err)
				_ = c.Close()
				return
			}
		case <-ping:
			deadline := time.Now().Add(c.hub.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, c.hub.pingMsg, deadline); err != nil {
				c.hub.reportError(err)
				_ = c.Close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(c.hub.writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// readLoop drains client frames so control messages are processed and a
// closed peer is noticed.
func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxReadBytes)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.hub.reportError(err)
				}
			}
			_ = c.Close()
			return
		}
	}
}
