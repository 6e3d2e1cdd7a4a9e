package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/apexlabs/apex-keys/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSHandler streams new log entries to connected dashboards.
type WSHandler struct {
	feed      *services.Feed
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewWSHandler(feed *services.Feed, jwtSecret string) *WSHandler {
	return &WSHandler{
		feed:      feed,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard runs on a different origin than the API
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// LiveLogs upgrades to a websocket and pushes log entries as they are
// written. Browsers cannot set headers on websocket dials, so the session
// token travels as a query parameter.
// GET /api/v1/logs/live?token=
func (h *WSHandler) LiveLogs(w http.ResponseWriter, r *http.Request) {
	if _, err := ParseAdminToken(r.URL.Query().Get("token"), h.jwtSecret); err != nil {
		http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	entries, cancel := h.feed.Subscribe()
	defer cancel()

	// Reader only notices close frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case entry := <-entries:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
