package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the JSON message format for the WebSocket event feed.
type Event struct {
	Type      string `json:"type"` // "trust_score", "anomaly", "capability_revoked"
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHub fans hub events out to connected WebSocket subscribers. Slow
// subscribers are dropped rather than allowed to block the broadcast path.
type EventHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]chan Event
}

func NewEventHub() *EventHub {
	return &EventHub{conns: make(map[*websocket.Conn]chan Event)}
}

// Broadcast queues an event for every subscriber. Never blocks.
func (h *EventHub) Broadcast(eventType string, payload any) {
	ev := Event{Type: eventType, Payload: payload, Timestamp: time.Now().Unix()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.conns {
		select {
		case ch <- ev:
		default:
			log.Printf("[events] dropping slow subscriber %s", conn.RemoteAddr())
			close(ch)
			delete(h.conns, conn)
		}
	}
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] websocket upgrade error: %v", err)
		return
	}

	ch := make(chan Event, 32)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	// Drain reads so close frames and pings are processed; the feed is
	// write-only from the client's point of view. Deregistering on read
	// error closes ch, which unblocks the write loop below.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[events] websocket write error: %v", err)
			}
			return
		}
	}
}

// remove deregisters a subscriber and closes its channel exactly once.
func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
}

// SubscriberCount reports the number of connected event subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
