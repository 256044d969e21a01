package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType names a user-visible change pushed over the event feed.
type EventType string

const (
	PredictionCompleted EventType = "prediction_completed"
	ResultSaved         EventType = "result_saved"
	ResultDeleted       EventType = "result_deleted"
	DatasetUploaded     EventType = "dataset_uploaded"
	DatasetDeleted      EventType = "dataset_deleted"
	Heartbeat           EventType = "heartbeat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Event is the JSON envelope written to websocket clients.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is sent by clients to narrow the event types they receive.
type ClientMessage struct {
	Type  string    `json:"type"` // subscribe, unsubscribe, ping
	Topic EventType `json:"topic"`
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte

	mu            sync.Mutex
	subscriptions map[EventType]bool
}

// wants reports whether the client receives events of type t. A client
// without subscriptions receives everything.
func (c *client) wants(t EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

type delivery struct {
	userID  string
	kind    EventType
	payload []byte
}

// EventHub fans events out to the websocket connections of their owner.
type EventHub struct {
	logger *zap.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan delivery
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
}

// NewEventHub creates a hub. allowedOrigins follows the CORS configuration;
// an empty list or "*" accepts any origin.
func NewEventHub(logger *zap.Logger, allowedOrigins []string) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventHub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Run owns the client set until ctx is cancelled.
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("event client connected", zap.String("client_id", c.id), zap.String("user_id", c.userID), zap.Int("total", total))

		case c := <-h.unregister:
			h.drop(c)

		case d := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				if c.userID != d.userID || !c.wants(d.kind) {
					continue
				}
				select {
				case c.send <- d.payload:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Warn("dropping slow event client", zap.String("client_id", c.id))
				h.drop(c)
			}

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *EventHub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event client disconnected", zap.String("client_id", c.id), zap.Int("total", total))
}

// Done is closed once Run has returned.
func (h *EventHub) Done() <-chan struct{} { return h.done }

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues an event for every connection of userID. Events are
// dropped when the queue is full.
func (h *EventHub) Publish(userID string, kind EventType, data interface{}) {
	event := Event{ID: uuid.NewString(), Type: kind, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("marshal event", zap.String("type", string(kind)), zap.Error(err))
			return
		}
		event.Data = raw
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", string(kind)), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- delivery{userID: userID, kind: kind, payload: payload}:
	default:
		h.logger.Warn("event queue full, dropping event", zap.String("type", string(kind)))
	}
}

// ServeWS upgrades the request and attaches the connection to userID. The
// caller authenticates the request.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:            uuid.NewString(),
		userID:        userID,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[EventType]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", zap.String("client_id", c.id))
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

func (h *EventHub) handleClientMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.subscriptions[msg.Topic] = true
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, msg.Topic)
		c.mu.Unlock()
	case "ping":
		payload, _ := json.Marshal(Event{ID: uuid.NewString(), Type: Heartbeat, Timestamp: time.Now().UTC()})
		h.reply(c, payload)
	}
}

// reply queues payload for c alone, regardless of its subscriptions. The
// read lock keeps Run from closing c.send underneath the send.
func (h *EventHub) reply(c *client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Debug("dropping heartbeat for slow client", zap.String("client_id", c.id))
	}
}
