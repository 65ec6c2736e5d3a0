// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chrisgleissner/c64bridge/internal/connection"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local companion app; same-origin policy is not useful here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope pushed over /api/events.
type wsMessage struct {
	Kind       string               `json:"kind"` // "connection" or "trace"
	Connection *connection.Snapshot `json:"connection,omitempty"`
	Trace      *trace.Event         `json:"trace,omitempty"`
}

// handleEvents streams connection snapshots and trace events to the client.
// The current snapshot is sent immediately on connect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error.
		return
	}
	defer conn.Close()

	logger := logFromRequest(r)
	logger.Debug().
		Str("event", "ws.connected").
		Str("remote", r.RemoteAddr).
		Msg("event stream client connected")

	snapshots, unsubSnap := s.manager.Subscribe()
	defer unsubSnap()
	traces, unsubTrace := s.rec.Subscribe()
	defer unsubTrace()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeMsg := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug().
				Str("event", "ws.write_failed").
				Err(err).
				Msg("event stream client gone")
			return false
		}
		return true
	}

	initial := s.manager.GetSnapshot()
	if !writeMsg(wsMessage{Kind: "connection", Connection: &initial}) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-snapshots:
			if !ok || !writeMsg(wsMessage{Kind: "connection", Connection: &snap}) {
				return
			}
		case ev, ok := <-traces:
			if !ok || !writeMsg(wsMessage{Kind: "trace", Trace: &ev}) {
				return
			}
		}
	}
}
