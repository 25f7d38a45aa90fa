package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second
	sendQueue = 16
)

// Hub groups websocket subscribers into rooms and mirrors upload progress
// to them. Each connection has its own writer goroutine; the hub lock only
// guards membership and is never held across a network write.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]*client
	log   *logger.ZapLogger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func NewHub(log *logger.ZapLogger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*websocket.Conn]*client),
		log:   log,
	}
}

func (h *Hub) Register(roomID string, conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*websocket.Conn]*client)
	}
	if _, dup := h.rooms[roomID][conn]; dup {
		h.mu.Unlock()
		return
	}
	h.rooms[roomID][conn] = c
	h.mu.Unlock()

	go h.writeLoop(roomID, c)
}

func (h *Hub) Unregister(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if c, ok := conns[conn]; ok {
		delete(conns, conn)
		close(c.done)
		conn.Close()
	}
	if len(conns) == 0 {
		delete(h.rooms, roomID)
	}
}

// Subscribers reports how many connections a room has.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// SendToRoom queues msg for every subscriber of roomID and returns without
// waiting for the writes. A subscriber whose queue is full misses msg.
func (h *Hub) SendToRoom(roomID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			h.log.Log(logger.LogEntry{
				Level:   "warn",
				Message: "ws subscriber lagging, message dropped",
				Fields:  map[string]any{"room": roomID},
			})
		}
	}
}

// writeLoop is the only writer of c.conn. A failed write drops the
// subscriber.
func (h *Hub) writeLoop(roomID string, c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Log(logger.LogEntry{
					Level:   "warn",
					Message: "ws send failed",
					Fields:  map[string]any{"room": roomID},
					Error:   err,
				})
				h.Unregister(roomID, c.conn)
				return
			}
		}
	}
}

type progressMsg struct {
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
}

// RoomSink returns a progress sink publishing to roomID. Delivery is best
// effort and never fails the upload.
func (h *Hub) RoomSink(roomID string) ports.ProgressSink {
	return roomSink{hub: h, room: roomID}
}

type roomSink struct {
	hub  *Hub
	room string
}

func (s roomSink) Progress(percent float64) error {
	s.send(progressMsg{Progress: percent})
	return nil
}

func (s roomSink) Complete() error {
	s.send(progressMsg{Progress: 100, Done: true})
	return nil
}

func (s roomSink) send(m progressMsg) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.hub.SendToRoom(s.room, b)
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
