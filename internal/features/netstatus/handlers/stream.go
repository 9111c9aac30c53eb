package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"netspace-tracker/internal/features/netstatus/models"
)

const streamWriteTimeout = 5 * time.Second

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// StreamMessage is one frame on the status websocket
type StreamMessage struct {
	Type   string                     `json:"type"`
	Status *models.CurrentStatus      `json:"status,omitempty"`
	Event  *models.NetworkStatusEvent `json:"event,omitempty"`
}

// Stream handles GET /api/network-status/stream. It sends the current status
// and then every published transition until the client goes away.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := h.events.Subscribe()
	defer func() {
		h.events.Unsubscribe(events)
		h.logger.WithContext(r.Context()).Debug("Stream client disconnected", "clients", h.events.Len())
	}()
	h.logger.WithContext(r.Context()).Debug("Stream client connected", "clients", h.events.Len())

	snapshot := h.state.Snapshot()
	if err := writeStreamMessage(conn, StreamMessage{Type: "snapshot", Status: &snapshot}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeStreamMessage(conn, StreamMessage{Type: "transition", Event: &event}); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeStreamMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(msg)
}
