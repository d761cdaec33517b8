package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NERVsystems/mapty/pkg/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

var newline = []byte{'\n'}

// Message types pushed to browsers.
const (
	MsgState   = "state"   // full snapshot sent on connect
	MsgMap     = "map"     // one map widget command
	MsgAlert   = "alert"   // blocking user message
	MsgForm    = "form"    // form state changed
	MsgWorkout = "workout" // a workout was logged
	MsgError   = "error"   // a request from this client failed
	MsgPong    = "pong"
)

// Message types accepted from browsers.
const (
	MsgClick  = "click"
	MsgSubmit = "submit"
	MsgSelect = "select"
	MsgToggle = "toggle"
	MsgPing   = "ping"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageHandler handles one inbound message and returns the reply for
// the sending client, or nil when there is nothing to reply.
type MessageHandler func(ctx context.Context, c *Client, msg Message) *Message

// outbound is a frame queued for the hub loop. A nil client means every
// client.
type outbound struct {
	client  *Client
	payload []byte
	alert   bool
}

// Client is one websocket connection. Only the hub loop closes send.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ID identifies the connection in logs.
func (c *Client) ID() string { return c.id }

// Hub fans server events out to every connected browser. Broadcast and
// Alert only enqueue, so they may be called while the caller holds its
// own lock. Alerts raised while no browser is connected are held and
// delivered to the next one that connects.
type Hub struct {
	clients    map[*Client]bool
	held       [][]byte
	broadcast  chan outbound
	direct     chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	handler    MessageHandler
	onConnect  func(*Client)
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBuffer),
		direct:     make(chan outbound, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "websocket"),
	}
}

// SetHandler installs the inbound message handler and the callback run
// for every new connection. It must be called before Run.
func (h *Hub) SetHandler(handler MessageHandler, onConnect func(*Client)) {
	h.handler = handler
	h.onConnect = onConnect
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			monitoring.UpdateActiveConnections("websocket", 0)
			return
		case client := <-h.register:
			h.clients[client] = true
			for _, payload := range h.held {
				client.send <- payload
			}
			if len(h.held) > 0 {
				h.logger.Debug("delivered held alerts", "client", client.id, "count", len(h.held))
				h.held = nil
			}
			monitoring.UpdateActiveConnections("websocket", len(h.clients))
			h.logger.Info("client connected", "client", client.id, "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				monitoring.UpdateActiveConnections("websocket", len(h.clients))
				h.logger.Info("client disconnected", "client", client.id, "clients", len(h.clients))
			}
		case out := <-h.broadcast:
			if out.alert && len(h.clients) == 0 {
				if len(h.held) < sendBuffer {
					h.held = append(h.held, out.payload)
				}
				continue
			}
			for client := range h.clients {
				h.deliver(client, out.payload)
			}
			monitoring.UpdateActiveConnections("websocket", len(h.clients))
		case out := <-h.direct:
			if _, ok := h.clients[out.client]; ok {
				h.deliver(out.client, out.payload)
			}
		}
	}
}

// deliver must only be called from Run.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		// slow consumer
		close(client.send)
		delete(h.clients, client)
		h.logger.Warn("dropping slow client", "client", client.id)
	}
}

// Broadcast queues a message for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(msgType string, data any) {
	h.enqueue(msgType, data, false)
}

// Alert pushes a blocking message to every browser, or to the next one
// to connect when none is connected.
func (h *Hub) Alert(message string) {
	h.logger.Info("alert", "message", message)
	h.enqueue(MsgAlert, map[string]string{"message": message}, true)
}

func (h *Hub) enqueue(msgType string, data any, alert bool) {
	payload, err := encode(msgType, data)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "type", msgType, "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{payload: payload, alert: alert}:
	default:
		monitoring.RecordError("websocket", "broadcast_dropped")
		h.logger.Warn("broadcast queue full, message dropped", "type", msgType)
	}
}

// Send queues a message for this client only.
func (c *Client) Send(msgType string, data any) {
	payload, err := encode(msgType, data)
	if err != nil {
		c.hub.logger.Error("failed to encode message", "type", msgType, "error", err)
		return
	}
	c.sendRaw(payload)
}

// sendRaw hands payload to the hub loop, which drops it if the client is
// already gone.
func (c *Client) sendRaw(payload []byte) {
	select {
	case c.hub.direct <- outbound{client: c, payload: payload}:
	case <-c.hub.done:
	}
}

func encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Data: raw})
}

// ServeWS upgrades the request and starts the client's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	if h.onConnect != nil {
		h.onConnect(client)
	}

	go client.writePump()
	go client.readPump(context.WithoutCancel(r.Context()))
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected close", "client", c.id, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Debug("malformed message", "client", c.id, "error", err)
			c.Send(MsgError, map[string]string{"code": "PARSE_ERROR", "message": "malformed message"})
			continue
		}

		if msg.Type == MsgPing {
			c.Send(MsgPong, "pong")
			continue
		}
		if c.hub.handler == nil {
			continue
		}
		if reply := c.hub.handler(ctx, c, msg); reply != nil {
			payload, err := json.Marshal(reply)
			if err != nil {
				c.hub.logger.Error("failed to encode reply", "client", c.id, "error", err)
				continue
			}
			c.sendRaw(payload)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Coalesce queued messages into one frame, one JSON document per line.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
