package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aatn/firegate/internal/config"
)

// writeControlWait is the deadline for websocket control frames.
const writeControlWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by the subnet middleware, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleHealthStream streams probe results to the client as JSON messages.
func (s *Server) handleHealthStream(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade health stream connection")
		return
	}
	defer conn.Close()

	id, results := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(id)

	// Send the cached last result so clients see state immediately.
	if last := s.monitor.Last(); last != nil {
		if err := conn.WriteJSON(last); err != nil {
			return
		}
	}

	// Reader loop surfaces client-side close; inbound messages are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(config.GetTimeouts().WebSocketPing)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := conn.WriteJSON(res); err != nil {
				log.Debug().Err(err).Msg("Health stream client write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeControlWait)); err != nil {
				return
			}
		}
	}
}
