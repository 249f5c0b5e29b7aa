package stream

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/models"
)

// wsCommand mirrors the control message a dashboard client sends to the
// server's websocket endpoint.
type wsCommand struct {
	Action  string   `json:"action"`
	Scope   string   `json:"scope,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
}

// wsServerMessage is the subset of server frames the feed cares about.
type wsServerMessage struct {
	Type   string            `json:"type"`
	Events []models.LogEvent `json:"events,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// WSFeed adapts a server websocket subscription into a Feed, letting a
// Controller drive reconnection for a remote log stream the same way it
// does for an in-process relay subscription.
type WSFeed struct {
	conn     *websocket.Conn
	messages chan Message
	cancel   context.CancelFunc
}

// DialFeed connects to a specto websocket endpoint, issues a subscribe
// command for the filter and returns a Feed delivering its batches.
func DialFeed(ctx context.Context, url string, filter Filter, logger arbor.ILogger) (Feed, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	cmd := wsCommand{
		Action:  "subscribe",
		Scope:   string(filter.Scope),
		Sources: filter.SourceIDs,
	}
	if filter.Scope == ScopeHistorical {
		cmd.Start = filter.Start.Format(time.RFC3339)
		cmd.End = filter.End.Format(time.RFC3339)
	}
	if err := conn.WriteJSON(cmd); err != nil {
		conn.Close()
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	feed := &WSFeed{
		conn:     conn,
		messages: make(chan Message, subscriptionBuffer),
		cancel:   cancel,
	}

	go feed.readLoop(feedCtx, logger)
	return feed, nil
}

func (f *WSFeed) readLoop(ctx context.Context, logger arbor.ILogger) {
	defer close(f.messages)
	defer f.conn.Close()

	for {
		var msg wsServerMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				logger.Debug().Err(err).Msg("Stream feed connection lost")
			}
			return
		}

		switch msg.Type {
		case "log_batch":
			select {
			case f.messages <- Message{Events: msg.Events}:
			case <-ctx.Done():
				return
			}
		case "log_error":
			// The server only forwards unrecoverable source errors.
			select {
			case f.messages <- Message{Err: errors.New(msg.Error)}:
			case <-ctx.Done():
			}
			return
		case "subscription_closed":
			return
		default:
			// server_info, pong and broadcast events are not part of the
			// log stream.
		}
	}
}

// Messages returns the feed's message channel. It closes when the
// subscription ends for any reason.
func (f *WSFeed) Messages() <-chan Message {
	return f.messages
}

// Close tears the connection down.
func (f *WSFeed) Close() {
	f.cancel()
	f.conn.Close()
}
