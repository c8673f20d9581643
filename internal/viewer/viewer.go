// Package viewer implements the viewer side of a remote-desktop session:
// join a session by code, present incoming frames, and forward input while
// control has been granted, remapping pointer coordinates into the host's
// capture space (spec.md §4.4).
package viewer

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/4throck/deskrelay/internal/envelope"
	"github.com/4throck/deskrelay/internal/protocol"
	"github.com/4throck/deskrelay/internal/sessioncode"
	"github.com/gorilla/websocket"
)

// Conn is the minimal transport surface the viewer agent needs. *websocket.Conn
// satisfies it; tests use a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Presenter hands a decoded frame to the local display collaborator
// (spec.md §6 "decode-and-present collaborator").
type Presenter interface {
	Present(frame protocol.Frame) error
}

// Config carries the viewer agent's tunable parameters (spec.md §6 CLI surface).
type Config struct {
	Scale    float64
	JoinWait time.Duration
	Debug    bool
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{Scale: 1.0, JoinWait: 15 * time.Second}
}

// Agent drives one viewer-side session lifecycle over a single connection.
type Agent struct {
	cfg       Config
	conn      Conn
	presenter Presenter

	writeMu sync.Mutex

	mu             sync.Mutex
	sessionCode    string
	controlGranted bool
	frameWidth     int
	frameHeight    int
	displayWidth   int
	displayHeight  int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a viewer Agent bound to conn.
func New(cfg Config, conn Conn, presenter Presenter) *Agent {
	return &Agent{
		cfg:       cfg,
		conn:      conn,
		presenter: presenter,
		stopCh:    make(chan struct{}),
	}
}

type clientJoinPayload struct {
	SessionCode string `json:"session_code"`
}

// JoinError reports an ERROR envelope returned by the relay during join,
// a join timeout, or a late DISCONNECT (spec.md §4.4: "A late DISCONNECT on
// join means the session was torn down in the meantime").
type JoinError struct {
	Reason string
}

func (e *JoinError) Error() string { return "join failed: " + e.Reason }

// Join sends CLIENT_JOIN with the normalized code and waits for CLIENT_JOINED
// or ERROR within cfg.JoinWait (spec.md §4.4).
func (a *Agent) Join(code string) error {
	normalized := sessioncode.Normalize(code)
	body, _ := json.Marshal(clientJoinPayload{SessionCode: normalized})
	req := append([]byte{byte(envelope.ClientJoin)}, body...)
	if err := a.conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("sending CLIENT_JOIN: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			done <- fmt.Errorf("reading join response: %w", err)
			return
		}
		tag, doc, err := envelope.Decode(data)
		if err != nil {
			done <- err
			return
		}
		switch tag {
		case envelope.ClientJoined:
			a.mu.Lock()
			a.sessionCode = doc.SessionCode
			a.mu.Unlock()
			done <- nil
		case envelope.Error:
			done <- &JoinError{Reason: doc.Error}
		case envelope.Disconnect:
			done <- &JoinError{Reason: "session was torn down before join completed"}
		default:
			done <- &JoinError{Reason: "unexpected response tag"}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(a.cfg.JoinWait):
		return &JoinError{Reason: "timed out waiting for CLIENT_JOINED"}
	}
}

// SessionCode returns the code the viewer joined with.
func (a *Agent) SessionCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionCode
}

// ControlGranted reports whether the viewer currently holds input control.
func (a *Agent) ControlGranted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlGranted
}

// SetDisplaySize records the current presentation surface extents, used by
// MapPointer to rescale into the host's capture coordinate space
// (spec.md §4.4 "Presentation coordinates" — window resize updates this).
func (a *Agent) SetDisplaySize(w, h int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.displayWidth = w
	a.displayHeight = h
}

// MapPointer maps a local display pointer position into the host's capture
// coordinate space: (lx*wh/lw_display, ly*hh/lh_display).
func (a *Agent) MapPointer(lx, ly int) (hx, hy uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.displayWidth == 0 || a.displayHeight == 0 || a.frameWidth == 0 || a.frameHeight == 0 {
		return uint16(lx), uint16(ly)
	}
	hxf := float64(lx) * float64(a.frameWidth) / float64(a.displayWidth)
	hyf := float64(ly) * float64(a.frameHeight) / float64(a.displayHeight)
	return uint16(hxf), uint16(hyf)
}

// RequestControl asks the host for input control (spec.md §4.4 "Input gating").
func (a *Agent) RequestControl() error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.TextMessage, envelope.Encode(envelope.RequestControl, envelope.Doc{}))
}

// SendInput forwards an Input event to the host, if control is currently
// granted. Returns nil without sending otherwise (spec.md §4.4 "Input gating":
// "The viewer sends Input messages only when control_granted is true").
func (a *Agent) SendInput(in protocol.Input) error {
	if !a.ControlGranted() {
		return nil
	}
	msg := protocol.Encode(protocol.TypeInput, in.Pack())
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Stop closes the agent's loop and underlying connection.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.conn.Close()
	})
}

// ReceiveLoop dispatches inbound messages until DISCONNECT, the connection
// closes, or Stop is called (spec.md §4.4 "Receive loop").
func (a *Agent) ReceiveLoop() error {
	for {
		select {
		case <-a.stopCh:
			return nil
		default:
		}

		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return err
		}
		if a.dispatch(data) {
			return nil
		}
	}
}

// dispatch handles one inbound message, returning true if the receive loop
// should stop (DISCONNECT).
func (a *Agent) dispatch(data []byte) bool {
	if len(data) < 1 {
		return false
	}

	tag := envelope.Tag(data[0])
	if a.cfg.Debug {
		log.Printf("[viewer] dispatch tag=0x%02x", byte(tag))
	}
	switch tag {
	case envelope.Disconnect:
		return true
	case envelope.Error:
		_, doc, _ := envelope.Decode(data)
		log.Printf("[viewer] relay error: %s", doc.Error)
	case envelope.ControlGranted:
		a.mu.Lock()
		a.controlGranted = true
		a.mu.Unlock()
	case envelope.ControlDenied, envelope.ControlRevoked:
		a.mu.Lock()
		a.controlGranted = false
		a.mu.Unlock()
	default:
		if !envelope.IsRelayData(tag) {
			return false
		}
		msg, err := protocol.Decode(data, protocol.DefaultMaxPayload)
		if err != nil || msg.Type != protocol.TypeFrame {
			return false
		}
		frame, err := protocol.DecodeFrame(msg.Payload)
		if err != nil {
			return false
		}
		a.mu.Lock()
		a.frameWidth = int(frame.Width)
		a.frameHeight = int(frame.Height)
		a.mu.Unlock()
		if a.presenter != nil {
			if err := a.presenter.Present(frame); err != nil {
				log.Printf("[viewer] present failed: %v", err)
			}
		}
	}
	return false
}
