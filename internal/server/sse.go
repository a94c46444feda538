package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/beamdrop/beamdrop/internal/broadcast"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

func sseWriter(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// handleTransferProgress opens the per-transfer stream. The subscription
// creates the registry record, before any bytes flow; the uploading page
// opens it, so the User-Agent identifies the originating device class.
func (s *Server) handleTransferProgress(w http.ResponseWriter, r *http.Request) {
	if r.UserAgent() == "" {
		http.Error(w, "request without a User-Agent header", http.StatusBadRequest)
		return
	}
	name := mux.Vars(r)["name"]
	class := protocol.ClassifyUserAgent(r.UserAgent())
	notifier := s.registry.Register(name, class)

	flusher, ok := sseWriter(w)
	if !ok {
		return
	}
	s.logger.Info("progress subscriber connected", "name", name, "class", class)

	sendEvent(w, flusher, `{ "progress": 0 }`)
	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-notifier.C():
			sendEvent(w, flusher, fmt.Sprintf(`{ "progress": %d }`, p))
			if p >= 100 {
				return
			}
		}
	}
}

// streamBroadcast subscribes the caller as the single live listener of a
// broadcast class. A newer subscriber displaces this one, which then
// receives the ConnectionReplaced sentinel as its final event.
func (s *Server) streamBroadcast(b *broadcast.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := sseWriter(w)
		if !ok {
			return
		}
		sink := b.Subscribe()
		s.logger.Info("broadcast subscriber connected", "class", b.Class())

		sendEvent(w, flusher, b.Snapshot())
		for {
			select {
			case <-r.Context().Done():
				return
			case payload := <-sink.C():
				sendEvent(w, flusher, payload)
				if payload == protocol.ConnectionReplaced {
					return
				}
			}
		}
	}
}
