package control

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tools.zach/dev/psnwatch/internal/monitor"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
)

// ///////////////////////////////////////////////
// Subscribers
// ///////////////////////////////////////////////

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	go s.writePump()
	return s
}

func (s *subscriber) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// ///////////////////////////////////////////////
// Hub
// ///////////////////////////////////////////////

// Hub fans monitor updates out to websocket subscribers. A subscriber that
// cannot keep up is dropped.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) *subscriber {
	s := newSubscriber(conn)
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.close()
	}
	h.mu.Unlock()
}

// Broadcast sends u to every subscriber. It never blocks the caller.
func (h *Hub) Broadcast(u monitor.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		h.logger.Warn("cannot encode update", "error", err)
		return
	}

	// Channels are only closed under the write lock, so sends made while
	// holding the read lock cannot hit a closed channel.
	var slow []*subscriber
	h.mu.RLock()
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Debug("event subscriber too slow, disconnecting")
		h.remove(s)
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for s := range h.subs {
		delete(h.subs, s)
		s.close()
	}
	h.mu.Unlock()
}
