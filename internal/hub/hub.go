// Package hub fans agent events out to websocket clients and routes their
// commands to a Handler.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// ErrClosed is returned when broadcasting after the hub stopped.
var ErrClosed = errors.New("hub is closed")

// Handler executes one inbound command. reply sends a message to the
// originating client only; a returned error is reported to it as an
// "error" message.
type Handler interface {
	HandleMessage(ctx context.Context, msg Inbound, reply func(Outbound)) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Inbound, reply func(Outbound)) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Inbound, reply func(Outbound)) error {
	return f(ctx, msg, reply)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
}

// Hub manages websocket clients. It is also a schemas.Observer so the agent
// can broadcast through it.
type Hub struct {
	logger   *zap.Logger
	handler  Handler
	upgrader websocket.Upgrader

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex

	ctx  context.Context
	done chan struct{}
	wg   sync.WaitGroup
}

var _ schemas.Observer = (*Hub)(nil)

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins restricts upgrades to the given Origin values. With no
// origins every request is accepted.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		}
	}
}

// New creates a hub. Call Run before serving HandleWS.
func New(logger *zap.Logger, handler Handler, opts ...Option) *Hub {
	h := &Hub{
		logger:  logger.Named("hub"),
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client and waits for their goroutines.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Hub started.")
	defer h.logger.Info("Hub stopped.")
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			h.wg.Wait()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("New WebSocket client connected.", zap.String("client_id", client.id))
		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
				h.logger.Info("WebSocket client disconnected.", zap.String("client_id", client.id))
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("Client too slow, disconnecting.", zap.String("client_id", client.id))
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends msg to every connected client.
func (h *Hub) Broadcast(ctx context.Context, msg Outbound) error {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return err
	}
	select {
	case h.broadcast <- b:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify implements schemas.Observer.
func (h *Hub) Notify(ctx context.Context, ev schemas.Event) error {
	return h.Broadcast(ctx, FromEvent(ev))
}

// HandleWS handles websocket requests from the peer.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.wg.Add(2)
	select {
	case h.register <- client:
	case <-h.done:
		h.wg.Add(-2)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// sendTo delivers a reply to one client, dropping it if the client is gone
// or its buffer is full.
func (h *Hub) sendTo(c *Client, msg Outbound) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
		h.logger.Warn("Reply dropped, client buffer full.", zap.String("client_id", c.id))
	}
}

func (h *Hub) runContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx
}

// dispatch runs the handler off the read loop so a long agent turn doesn't
// stall pings.
func (h *Hub) dispatch(c *Client, msg Inbound) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		reply := func(out Outbound) {
			if out.RequestID == "" {
				out.RequestID = msg.RequestID
			}
			h.sendTo(c, out)
		}
		if err := h.handler.HandleMessage(h.runContext(), msg, reply); err != nil {
			h.logger.Warn("Command failed.", zap.String("type", msg.Type), zap.Error(err))
			reply(Outbound{Type: TypeError, Content: err.Error()})
		}
	}()
}

// readPump pumps messages from the websocket connection to the handler.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.hub.wg.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket client read error", zap.Error(err))
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			c.hub.logger.Error("Failed to unmarshal incoming message", zap.Error(err), zap.ByteString("message", message))
			c.hub.sendTo(c, Outbound{Type: TypeError, Content: "malformed message"})
			continue
		}
		if msg.RequestID == "" {
			msg.RequestID = uuid.NewString()
		}
		c.hub.logger.Debug("Received message from client.", zap.String("client_id", c.id), zap.String("type", msg.Type), zap.String("request_id", msg.RequestID))
		c.hub.dispatch(c, msg)
	}
}

// writePump pumps messages from the hub to the websocket connection. Each
// message is its own frame so clients can decode them independently.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
