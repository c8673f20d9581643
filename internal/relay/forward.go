package relay

import (
	"log"

	"github.com/4throck/deskrelay/internal/envelope"
	"github.com/4throck/deskrelay/internal/registry"
	"github.com/gorilla/websocket"
)

// hostForwardLoop reads every message the host sends and forwards it
// verbatim to the viewer, if one is attached (spec.md §4.2.2: otherwise the
// message is dropped silently — it carries no value without a receiver).
// On host disconnect the whole session is torn down.
func (s *Server) hostForwardLoop(conn *websocket.Conn, sess *registry.Session) {
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.teardownSession(sess.Code, "Host disconnected")
			return
		}

		if err := sess.WriteToViewer(msgType, data); err != nil {
			// Viewer write failed: the viewer's own read loop will observe
			// the close and clear itself; nothing further to do here.
			continue
		}
		if sess.HasViewer() {
			sess.AddBytesToViewer(len(data))
			sess.AddFrameRelayed()
		}
	}
}

// viewerForwardLoop reads every message the viewer sends and forwards it
// verbatim to the host. If the host is gone the loop exits — the relay
// already tore the session down in that case (spec.md §4.2.2).
func (s *Server) viewerForwardLoop(conn *websocket.Conn, sess *registry.Session) {
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.clearViewer(sess.Code)
			return
		}

		if sess.Host() == nil {
			return
		}
		if err := sess.WriteToHost(msgType, data); err != nil {
			return
		}
		sess.AddBytesToHost(len(data))
	}
}

// teardownSession removes the session entirely and notifies the viewer
// (spec.md §4.2, §7: TRANSPORT_CLOSED from the host side triggers session
// teardown with DISCONNECT to the viewer).
func (s *Server) teardownSession(code, reason string) {
	sess, ok := s.registry.RemoveHost(code)
	if !ok {
		return
	}
	if viewer := sess.Viewer(); viewer != nil {
		notify := envelope.Encode(envelope.Disconnect, envelope.Doc{Reason: reason})
		_ = viewer.WriteMessage(websocket.TextMessage, notify)
		viewer.Close()
	}
	if s.cfg.Debug {
		log.Printf("[relay] session closed: %s (%s)", code, reason)
	}
}

// clearViewer detaches the viewer slot and notifies the host, leaving the
// session live for a future viewer to join with the same code (spec.md
// §4.2.2, §8 scenario 3: viewer reconnect).
func (s *Server) clearViewer(code string) {
	sess, ok := s.registry.ClearViewer(code)
	if !ok {
		return
	}
	notify := envelope.Encode(envelope.Disconnect, envelope.Doc{Message: "Client disconnected"})
	_ = sess.WriteToHost(websocket.TextMessage, notify)
}
