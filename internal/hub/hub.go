// Package hub fans live events out to websocket subscribers grouped by topic.
package hub

import (
	"encoding/json"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// TopicDeliveries carries one message per completed bundle delivery.
const TopicDeliveries = "deliveries"

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Topic      string
	OperatorID int64
	Writer     Writer
}

// Envelope is the frame written to subscribers.
type Envelope struct {
	Type  string      `json:"type"`
	Event string      `json:"event,omitempty"`
	Body  interface{} `json:"body,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Topic] == nil {
		h.connections[conn.Topic] = make(map[*Connection]struct{})
	}
	h.connections[conn.Topic][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Topic]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Topic)
	}
}

// Subscribers reports how many connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[topic])
}

// Broadcast writes message to every subscriber of topic. Writers that fail
// are closed and dropped.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.mu.RLock()
	set := h.connections[topic]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// Publish encodes an update envelope and broadcasts it.
func (h *Hub) Publish(topic, event string, body interface{}) {
	if h.Subscribers(topic) == 0 {
		return
	}
	out, err := json.Marshal(Envelope{Type: "update", Event: event, Body: body})
	if err != nil {
		jww.ERROR.Printf("hub: encode %s/%s: %v", topic, event, err)
		return
	}
	h.Broadcast(topic, out)
}
