package daemon

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/janekbaraniewski/geminiusage/internal/activity"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
	pongTimeout      = 60 * time.Second
)

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// hub fans activity deltas out to websocket subscribers. A subscriber whose
// buffer is full misses the delta instead of stalling the others.
type hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Int64
	dropped   atomic.Int64
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]*subscriber)}
}

func (h *hub) add(conn *websocket.Conn) (*subscriber, bool) {
	s := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.subscribers[s.id] = s
	h.mu.Unlock()

	go s.writePump()
	return s, true
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	if s, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(s.send)
	}
	h.mu.Unlock()
}

func (h *hub) publish(d activity.Delta) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subscribers {
		select {
		case s.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// close disconnects every subscriber and refuses new ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subscribers {
		delete(h.subscribers, id)
		close(s.send)
	}
}
