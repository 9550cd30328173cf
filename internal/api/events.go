package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/roomrelay/internal/feed"
)

// EventStream streams relay activity over a websocket: the remembered backlog
// first, then live events until the client goes away.
type EventStream struct {
	hub *feed.Hub
}

// NewEventStream creates the websocket endpoint.
func NewEventStream(hub *feed.Hub) *EventStream {
	return &EventStream{hub: hub}
}

// ServeHTTP upgrades the connection and streams events as JSON text frames.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	// Subscribe before reading the backlog so nothing published in between is lost.
	live, cancel := s.hub.Subscribe()
	defer cancel()

	// The client never sends; CloseRead handles control frames and cancels on close.
	ctx := ws.CloseRead(r.Context())
	slog.Info("Event stream opened", "remote", r.RemoteAddr)

	sent := make(map[string]bool)
	for _, ev := range s.hub.Recent() {
		if err := writeJSON(ctx, ws, ev); err != nil {
			slog.Debug("Event stream write failed", "error", err)
			return
		}
		sent[ev.ID] = true
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event stream closed", "remote", r.RemoteAddr)
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if sent[ev.ID] {
				delete(sent, ev.ID)
				continue
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				slog.Debug("Event stream write failed", "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
