// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 6:40:12 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsClient is one connected dashboard client. Writes are serialized per
// connection; each client owns at most one log subscription at a time.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	subMu sync.Mutex
	sub   *stream.Subscription
	done  chan struct{}
}

// clientCommand is the inbound control message from a dashboard client.
type clientCommand struct {
	Action  string   `json:"action"` // "subscribe" | "unsubscribe" | "ping"
	Scope   string   `json:"scope,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Start   string   `json:"start,omitempty"` // RFC3339, historical only
	End     string   `json:"end,omitempty"`   // RFC3339, historical only
}

// WebSocketHandler bridges the event bus and the log relay to dashboard
// clients.
type WebSocketHandler struct {
	logger        arbor.ILogger
	eventService  interfaces.EventService
	relay         *stream.Relay
	allowedEvents map[string]bool // whitelist of broadcast events (empty = allow all)

	mu      sync.RWMutex
	clients map[*wsClient]bool

	serverInstanceID string // clients use this to detect server restart
	pingInterval     time.Duration
}

// NewWebSocketHandler creates the handler and subscribes it to broadcast
// event types.
func NewWebSocketHandler(eventService interfaces.EventService, relay *stream.Relay, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		eventService:     eventService,
		relay:            relay,
		clients:          make(map[*wsClient]bool),
		allowedEvents:    make(map[string]bool),
		serverInstanceID: uuid.New().String(),
		pingInterval:     30 * time.Second,
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		h.pingInterval = common.Duration(config.PingInterval, h.pingInterval)
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Msg("WebSocket handler initialized")

	// Broadcast job lifecycle, queue depth and stream health changes to
	// every client.
	eventService.Subscribe(interfaces.EventJobStateChanged, h.handleBroadcastEvent)
	eventService.Subscribe(interfaces.EventQueueDepth, h.handleBroadcastEvent)
	eventService.Subscribe(interfaces.EventStreamStatus, h.handleBroadcastEvent)

	return h
}

// HandleWebSocket upgrades the connection and serves the client until it
// disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		id:   common.NewClientID(),
		conn: conn,
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", client.id).Int("clients", count).Msg("WebSocket client connected")

	// Server instance ID lets the browser detect restarts and resync.
	h.send(client, map[string]interface{}{
		"type":               "server_info",
		"server_instance_id": h.serverInstanceID,
	})

	common.SafeGo(h.logger, "ws-ping", func() { h.pingLoop(client) })

	h.readLoop(client)
	h.disconnect(client)
}

// readLoop processes subscribe/unsubscribe commands from the client.
func (h *WebSocketHandler) readLoop(client *wsClient) {
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Debug().Err(err).Msg("Ignoring malformed client command")
			continue
		}

		switch cmd.Action {
		case "subscribe":
			h.subscribe(client, cmd)
		case "unsubscribe":
			h.unsubscribe(client)
		case "ping":
			h.send(client, map[string]interface{}{"type": "pong"})
		}
	}
}

// subscribe opens a relay subscription for the client, replacing any
// existing one (filter switches always rebuild from scratch).
func (h *WebSocketHandler) subscribe(client *wsClient, cmd clientCommand) {
	h.unsubscribe(client)

	filter := stream.Filter{
		Scope:     stream.Scope(cmd.Scope),
		SourceIDs: cmd.Sources,
	}
	if filter.Scope != stream.ScopeLive {
		filter.Scope = stream.ScopeHistorical
		if t, err := time.Parse(time.RFC3339, cmd.Start); err == nil {
			filter.Start = t
		}
		if t, err := time.Parse(time.RFC3339, cmd.End); err == nil {
			filter.End = t
		}
	}
	if cmd.Scope == "live" {
		filter.Scope = stream.ScopeLive
	}

	sub := h.relay.Subscribe(context.Background(), filter)

	client.subMu.Lock()
	client.sub = sub
	client.subMu.Unlock()

	common.SafeGo(h.logger, "ws-feed-"+sub.ID, func() {
		h.pipe(client, sub)
	})
}

// pipe forwards relay messages to the client until the subscription ends.
func (h *WebSocketHandler) pipe(client *wsClient, sub *stream.Subscription) {
	for {
		select {
		case <-client.done:
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				h.send(client, map[string]interface{}{
					"type":            "subscription_closed",
					"subscription_id": sub.ID,
				})
				return
			}
			if msg.Err != nil {
				h.send(client, map[string]interface{}{
					"type":            "log_error",
					"subscription_id": sub.ID,
					"error":           msg.Err.Error(),
				})
				continue
			}
			h.send(client, map[string]interface{}{
				"type":            "log_batch",
				"subscription_id": sub.ID,
				"scope":           string(sub.Filter.Scope),
				"events":          msg.Events,
			})
		}
	}
}

func (h *WebSocketHandler) unsubscribe(client *wsClient) {
	client.subMu.Lock()
	sub := client.sub
	client.sub = nil
	client.subMu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// handleBroadcastEvent fans an event out to every connected client.
func (h *WebSocketHandler) handleBroadcastEvent(ctx context.Context, event interfaces.Event) error {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[string(event.Type)] {
		return nil
	}

	payload := map[string]interface{}{
		"type":       "event",
		"event_type": string(event.Type),
		"payload":    event.Payload,
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.send(client, payload)
	}
	return nil
}

// send writes one JSON message, serialized per connection.
func (h *WebSocketHandler) send(client *wsClient, payload interface{}) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := client.conn.WriteJSON(payload); err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed")
	}
}

func (h *WebSocketHandler) pingLoop(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-ticker.C:
			client.writeMu.Lock()
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := client.conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) disconnect(client *wsClient) {
	h.unsubscribe(client)
	close(client.done)
	client.conn.Close()

	h.mu.Lock()
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", client.id).Int("clients", count).Msg("WebSocket client disconnected")
}
