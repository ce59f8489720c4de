package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/internal/lifecycle"
	"github.com/go-pantheon/fabrica-dbgp/session"
	"github.com/go-pantheon/fabrica-util/xsync"
	"github.com/gorilla/websocket"
)

const (
	clientBufSize = 256
	writeWait     = 5 * time.Second
)

// Message is one raw packet as published on /monitor.
type Message struct {
	Session   uint64 `json:"session"`
	Direction string `json:"direction"`
	Body      string `json:"body"`
}

// Hub fans the traffic of tracked sessions out to websocket subscribers.
// Slow subscribers lose messages instead of blocking the sessions.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

// Track publishes every packet of s until s terminates.
func (h *Hub) Track(s *session.Session) {
	id := s.AddPacketListener(func(dir session.Direction, body []byte) {
		h.Publish(Message{
			Session:   s.ID(),
			Direction: dir.String(),
			Body:      string(body),
		})
	})

	s.AddTerminationListener(func(lifecycle.Event) {
		s.RemovePacketListener(id)
	})
}

func (h *Hub) Publish(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Errorf("[admin.Hub] marshal message failed. %+v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Debugf("[admin.Hub] subscriber %s is slow, drop message", c.conn.RemoteAddr())
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("[admin.Hub] upgrade failed. %+v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBufSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	xsync.Go("admin.Hub.write", c.writeLoop)

	c.readLoop()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// readLoop discards client frames and returns once the peer goes away.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() error {
	for {
		select {
		case <-c.done:
			return nil
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.close()
				return err
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return nil
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	})
}
