package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/beamdrop/beamdrop/internal/presence"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// LAN-local service; pages are served from the same origin we
		// listen on, which browsers report inconsistently for raw IPs.
		return true
	},
}

// handleWS registers the connecting device with the presence hub for the
// lifetime of the websocket. Payload messages are ignored; the
// connection itself is the signal.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "device-" + uuid.NewString()[:8]
	}
	class := protocol.ClassifyUserAgent(r.UserAgent())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	device := presence.Device{
		ConnID:      uuid.NewString(),
		Name:        name,
		Class:       class,
		Addr:        r.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	remove := s.hub.Add(device)
	defer remove()

	s.logger.Info("device connected", "name", name, "class", class, "addr", r.RemoteAddr)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.logger.Info("device disconnected", "name", name, "class", class)
}
