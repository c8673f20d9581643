// Package relay implements the rendezvous relay service: it accepts
// WebSocket connections, distinguishes host-register from viewer-join based
// on the first message, allocates session codes, pairs endpoints, and
// forwards every subsequent message between them verbatim (SPEC_FULL.md §4.2).
//
// The relay has no server-side counterpart in the teacher repo — it is
// modeled on the teacher's internal/tunnel goroutine-per-loop style, with
// each direction's writes serialized by a per-session mutex (see
// registry.Session.WriteToHost/WriteToViewer), generalized from a single
// upstream OBS connection to an arbitrary host/viewer pair.
package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/4throck/deskrelay/internal/envelope"
	"github.com/4throck/deskrelay/internal/registry"
	"github.com/4throck/deskrelay/internal/sessioncode"
	"github.com/gorilla/websocket"
)

// Config controls the relay's network defaults (SPEC_FULL.md §6).
type Config struct {
	MaxMessageBytes int64
	FirstMsgTimeout time.Duration
	Debug           bool
}

// DefaultConfig matches spec.md §6's network defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: 10 * 1024 * 1024,
		FirstMsgTimeout: 20 * time.Second,
	}
}

// Server is the relay's WebSocket endpoint plus its session registry.
type Server struct {
	cfg      Config
	registry *registry.Registry
	upgrader websocket.Upgrader
}

// New constructs a Server with its own registry. The registry is owned
// exclusively by the Server — SPEC_FULL.md §9 "construct it as a single
// value owned by the service, threading a reference through every
// connection-handling task; do not reach for a true global."
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Registry exposes the live session registry for status reporting.
func (s *Server) Registry() *registry.Registry { return s.registry }

// statusDetails is the relay's status.Server details payload (SPEC_FULL.md §4.5).
type statusDetails struct {
	ActiveSessions    int              `json:"active_sessions"`
	TotalSessionsEver uint64           `json:"total_sessions_ever"`
	Sessions          []registry.Stats `json:"sessions"`
}

// StatusDetails builds the relay's status.Server details payload from the
// live registry. Intended for use with status.Server.SetDetailsProvider.
func (s *Server) StatusDetails() any {
	return statusDetails{
		ActiveSessions:    s.registry.ActiveSessionCount(),
		TotalSessionsEver: s.registry.TotalSessionsEver(),
		Sessions:          s.registry.Snapshots(),
	}
}

// ServeHTTP upgrades the connection and dispatches by its first message.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}
	go s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	conn.SetReadDeadline(time.Now().Add(s.cfg.FirstMsgTimeout))
	_, data, err := conn.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		// TIMEOUT or TRANSPORT_CLOSED on the very first message: close with
		// no ERROR envelope, per spec.md §5 cancellation rules.
		conn.Close()
		return
	}
	if len(data) < 1 {
		s.sendError(conn, "empty message")
		conn.Close()
		return
	}

	tag := envelope.Tag(data[0])
	switch tag {
	case envelope.HostRegister:
		s.handleHostRegister(conn, data[1:])
	case envelope.ClientJoin:
		s.handleClientJoin(conn, data[1:])
	default:
		s.sendError(conn, "expected HOST_REGISTER or CLIENT_JOIN")
		conn.Close()
	}
}

type hostRegisterPayload struct {
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
	FPS          int `json:"fps"`
}

func (s *Server) handleHostRegister(conn *websocket.Conn, payload []byte) {
	// Advisory fields are parsed but never affect session logic.
	var info hostRegisterPayload
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &info)
	}

	sess, err := s.registry.RegisterHost(conn)
	if err != nil {
		s.sendError(conn, err.Error())
		conn.Close()
		return
	}

	if s.cfg.Debug {
		log.Printf("[relay] host registered: %s", sess.Code)
	}

	msg := envelope.Encode(envelope.HostRegistered, envelope.Doc{
		SessionCode: sess.Code,
		Message:     "Share this code with the remote user",
	})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.registry.RemoveHost(sess.Code)
		conn.Close()
		return
	}

	s.hostForwardLoop(conn, sess)
}

type clientJoinPayload struct {
	SessionCode string `json:"session_code"`
}

func (s *Server) handleClientJoin(conn *websocket.Conn, payload []byte) {
	var req clientJoinPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(conn, "session code required")
		conn.Close()
		return
	}

	code := normalizeCode(req.SessionCode)
	if code == "" {
		s.sendError(conn, "session code required")
		conn.Close()
		return
	}

	sess, err := s.registry.JoinViewer(code, conn)
	if err != nil {
		s.sendError(conn, err.Error())
		conn.Close()
		return
	}

	if s.cfg.Debug {
		log.Printf("[relay] viewer joined: %s", code)
	}

	joined := envelope.Encode(envelope.ClientJoined, envelope.Doc{
		SessionCode: code,
		Message:     "Connected to host",
	})
	if err := conn.WriteMessage(websocket.TextMessage, joined); err != nil {
		s.registry.ClearViewer(code)
		conn.Close()
		return
	}

	hostNotify := envelope.Encode(envelope.ClientConnected, envelope.Doc{Message: "Client connected"})
	_ = sess.WriteToHost(websocket.TextMessage, hostNotify)

	s.viewerForwardLoop(conn, sess)
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	msg := envelope.Encode(envelope.Error, envelope.Doc{Error: message})
	_ = conn.WriteMessage(websocket.TextMessage, msg)
}

func normalizeCode(raw string) string {
	return sessioncode.Normalize(raw)
}
