package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/alert"
	"github.com/rawblock/fundflow-engine/internal/monitor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard clients connect cross-origin
	},
}

// Hub maintains the set of live websocket subscribers and fans alert
// traffic out to them.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}
}

// Run delivers broadcast messages to every subscriber. A client that
// cannot accept a write within the deadline is dropped so one stalled
// connection cannot hold up the rest.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("websocket write failed, dropping client")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades the request and registers the client. The read
// pump discards inbound frames; it exists to notice disconnects.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", count).Msg("websocket client connected")

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			count := len(h.clients)
			h.mu.Unlock()
			conn.Close()
			log.Info().Int("clients", count).Msg("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()
}

// Broadcast queues data for delivery. Drops when the buffer is full:
// websocket subscribers are a best-effort mirror of the alert stream,
// the durable record lives elsewhere.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("websocket broadcast buffer full, dropping message")
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// AlertSink adapts the hub into an alert manager sink.
func (h *Hub) AlertSink() func(alert.Alert) {
	return func(a alert.Alert) {
		payload, err := json.Marshal(gin.H{"type": "alert", "alert": a})
		if err != nil {
			return
		}
		h.Broadcast(payload)
	}
}

// SweepSink adapts the hub into a monitor sweep callback. Summaries
// carry a distinct type tag so stream clients can split them from
// alert frames.
func (h *Hub) SweepSink() func(monitor.SweepSummary) {
	return func(s monitor.SweepSummary) {
		payload, err := json.Marshal(gin.H{"type": "sweep", "sweep": s})
		if err != nil {
			return
		}
		h.Broadcast(payload)
	}
}
