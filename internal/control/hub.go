package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub fans out JSON-tagged events to every connected /ws client, mirroring
// the teacher's wsHub.Broadcast call sites (cmd/srtla-manager/main.go,
// internal/api/handlers.go) whose Hub implementation itself was not present
// in the retrieved pack — reproduced here from that observed contract.
type Hub struct {
	upgrader websocket.Upgrader

	register   chan *hubClient
	unregister chan *hubClient
	broadcastC chan hubMessage
	stopC      chan struct{}

	mu      sync.Mutex
	clients map[*hubClient]bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

type hubMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func newHub() *Hub {
	return &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcastC: make(chan hubMessage, 64),
		stopC:      make(chan struct{}),
		clients:    make(map[*hubClient]bool),
	}
}

// run drives the single goroutine that owns the client set, avoiding a lock
// around the send fan-out.
func (h *Hub) run() {
	for {
		select {
		case <-h.stopC:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case m := <-h.broadcastC:
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) stop() { close(h.stopC) }

// broadcast queues an event for every connected client; non-blocking, drops
// the event if the hub's internal queue is full rather than stalling the
// caller (the 2s/30s tick goroutines).
func (h *Hub) broadcast(eventType string, data any) {
	select {
	case h.broadcastC <- hubMessage{Type: eventType, Data: data}:
	default:
		log.Warn("websocket broadcast queue full, dropping %s event", eventType)
	}
}

func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, 32)}
	h.register <- client

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards inbound messages (this is a push-only feed) and exists
// only to detect client disconnect.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
