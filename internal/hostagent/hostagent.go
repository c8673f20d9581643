// Package hostagent implements the host side of a remote-desktop session:
// register with the relay, advertise the resulting code, stream frames at an
// adaptive quality once a viewer attaches, and apply inbound input only
// while control has been explicitly granted (spec.md §4.3).
package hostagent

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/4throck/deskrelay/internal/envelope"
	"github.com/4throck/deskrelay/internal/protocol"
	"github.com/gorilla/websocket"
)

// Conn is the minimal transport surface the host agent needs. *websocket.Conn
// satisfies it; tests use a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Capture produces one encoded frame at the given quality (1-100). Failures
// are counted by the agent and never otherwise propagated (spec.md §6).
type Capture interface {
	CaptureFrame(quality int) (image []byte, width, height int, frameNumber uint32, err error)
}

// InputSynth applies an inbound Input event to the local input queue.
// Failures are logged, never propagated (spec.md §6).
type InputSynth interface {
	Apply(in protocol.Input) error
}

// Approval is invoked from the receive loop when a viewer asks for control.
// It must eventually call Grant on the Agent passed to it or deny the
// request; denial goes through the unexported deny method, as NewUIApproval
// does.
type Approval func(a *Agent)

// Config carries the host agent's tunable parameters (spec.md §6 CLI surface).
type Config struct {
	FPS          int
	Quality      int
	MinQuality   int
	MaxQuality   int
	Debug        bool
	RegisterWait time.Duration
}

// DefaultConfig matches spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{
		FPS:          30,
		Quality:      70,
		MinQuality:   30,
		MaxQuality:   85,
		RegisterWait: 15 * time.Second,
	}
}

// Agent drives one host-side session lifecycle over a single connection.
type Agent struct {
	cfg     Config
	conn    Conn
	capture Capture
	synth   InputSynth
	approve Approval

	writeMu sync.Mutex

	mu             sync.Mutex
	sessionCode    string
	paired         bool
	controlGranted bool
	quality        int

	window *sendWindow

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a host Agent bound to conn. capture and synth are required
// collaborators; approve may be nil, in which case every control request is
// immediately denied (spec.md §6 "Absence of a callback immediately denies").
func New(cfg Config, conn Conn, capture Capture, synth InputSynth, approve Approval) *Agent {
	return &Agent{
		cfg:     cfg,
		conn:    conn,
		capture: capture,
		synth:   synth,
		approve: approve,
		quality: cfg.Quality,
		window:  newSendWindow(30),
		stopCh:  make(chan struct{}),
	}
}

type hostRegisterPayload struct {
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
	FPS          int `json:"fps"`
}

// RegisterError reports an ERROR envelope returned by the relay during
// registration, or a registration timeout.
type RegisterError struct {
	Reason string
}

func (e *RegisterError) Error() string { return "registration failed: " + e.Reason }

// Register sends HOST_REGISTER and waits for HOST_REGISTERED or ERROR
// within cfg.RegisterWait (spec.md §4.3).
func (a *Agent) Register(screenWidth, screenHeight int) (string, error) {
	body, _ := json.Marshal(hostRegisterPayload{
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
		FPS:          a.cfg.FPS,
	})
	req := append([]byte{byte(envelope.HostRegister)}, body...)
	if err := a.conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return "", fmt.Errorf("sending HOST_REGISTER: %w", err)
	}

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			done <- result{err: fmt.Errorf("reading registration response: %w", err)}
			return
		}
		tag, doc, err := envelope.Decode(data)
		if err != nil {
			done <- result{err: err}
			return
		}
		switch tag {
		case envelope.HostRegistered:
			done <- result{code: doc.SessionCode}
		case envelope.Error:
			done <- result{err: &RegisterError{Reason: doc.Error}}
		default:
			done <- result{err: &RegisterError{Reason: "unexpected response tag"}}
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		a.mu.Lock()
		a.sessionCode = r.code
		a.mu.Unlock()
		return r.code, nil
	case <-time.After(a.cfg.RegisterWait):
		return "", &RegisterError{Reason: "timed out waiting for HOST_REGISTERED"}
	}
}

// SessionCode returns the code advertised on registration.
func (a *Agent) SessionCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionCode
}

// Paired reports whether a viewer is currently attached.
func (a *Agent) Paired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paired
}

// ControlGranted reports whether the viewer currently has input control.
func (a *Agent) ControlGranted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controlGranted
}

// Quality returns the current adaptive encode quality.
func (a *Agent) Quality() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quality
}

func (a *Agent) writeEnvelope(tag envelope.Tag, doc envelope.Doc) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.TextMessage, envelope.Encode(tag, doc))
}

// Grant grants input control to the attached viewer (spec.md §4.3
// "grant/revoke" — an explicit UI-facing operation).
func (a *Agent) Grant() error {
	a.mu.Lock()
	a.controlGranted = true
	a.mu.Unlock()
	return a.writeEnvelope(envelope.ControlGranted, envelope.Doc{Message: "control granted"})
}

// Revoke clears input control and notifies the viewer.
func (a *Agent) Revoke() error {
	a.mu.Lock()
	a.controlGranted = false
	a.mu.Unlock()
	return a.writeEnvelope(envelope.ControlRevoked, envelope.Doc{Message: "control revoked"})
}

// deny sends CONTROL_DENIED without touching the control flag.
func (a *Agent) deny(message string) error {
	return a.writeEnvelope(envelope.ControlDenied, envelope.Doc{Message: message})
}

// Stop closes the agent's loops and underlying connection.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.conn.Close()
	})
}

// ReceiveLoop dispatches inbound messages until the connection closes or
// Stop is called (spec.md §4.3 "Receive loop").
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
		a.dispatch(data)
	}
}

func (a *Agent) dispatch(data []byte) {
	if len(data) < 1 {
		return
	}

	tag := envelope.Tag(data[0])
	if a.cfg.Debug {
		log.Printf("[host] dispatch tag=0x%02x", byte(tag))
	}
	switch tag {
	case envelope.ClientConnected:
		a.mu.Lock()
		a.paired = true
		a.controlGranted = false
		a.mu.Unlock()
	case envelope.Disconnect:
		a.mu.Lock()
		a.paired = false
		a.controlGranted = false
		a.mu.Unlock()
	case envelope.Error:
		_, doc, _ := envelope.Decode(data)
		log.Printf("[host] relay error: %s", doc.Error)
	case envelope.RequestControl:
		if a.approve == nil {
			if err := a.deny("host has no UI to approve"); err != nil {
				log.Printf("[host] failed to send CONTROL_DENIED: %v", err)
			}
			return
		}
		a.approve(a)
	case envelope.ControlRevoked:
		a.mu.Lock()
		a.controlGranted = false
		a.mu.Unlock()
	default:
		if !envelope.IsRelayData(tag) {
			return
		}
		msg, err := protocol.Decode(data, protocol.DefaultMaxPayload)
		if err != nil || msg.Type != protocol.TypeInput {
			return
		}
		if !a.ControlGranted() {
			return
		}
		in, err := protocol.DecodeInput(msg.Payload)
		if err != nil {
			return
		}
		if err := a.synth.Apply(in); err != nil {
			log.Printf("[host] input synthesis failed: %v", err)
		}
	}
}
