package orchestrator

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboard
	},
}

// Hub maintains the set of active websocket clients and broadcasts
// round-lifecycle events. It also remembers the most recently broadcast
// event so a dashboard that connects mid-round — which, unlike a live
// feed with no notion of "current value", is generally asking "what
// round/state are we in right now" — gets it immediately instead of
// waiting for the round's next state transition, which can be minutes
// away with real local training.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	lastEvent []byte
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel, fanning out every message to all
// currently-subscribed clients. It blocks and should be run in its own
// goroutine for the lifetime of the process.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		h.lastEvent = message
		for client := range h.clients {
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("[Hub] websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles an incoming websocket upgrade request from a
// dashboard client, replaying the most recent round-lifecycle event (if
// any) before the connection starts receiving live broadcasts.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Hub] failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	last := h.lastEvent
	h.mutex.Unlock()

	if last != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, last); err != nil {
			log.Printf("[Hub] replaying last event to new client: %v", err)
		}
	}

	log.Printf("[Hub] new websocket client connected, total=%d", len(h.clients))

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("[Hub] websocket client disconnected, total=%d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[Hub] websocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast sends a JSON-encoded round-lifecycle event to all connected
// dashboard clients. The Hub's broadcast channel holds 256 events and
// writes to clients carry a 5s deadline, so a slow client delays Run
// rather than Broadcast; Broadcast blocks only while that buffer is full.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}
