package hostagent

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/4throck/deskrelay/internal/envelope"
	"github.com/4throck/deskrelay/internal/protocol"
)

// fakeConn is an in-memory Conn: outbound writes land in sent, inbound reads
// drain from a channel the test populates.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	inbox  chan []byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbox
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, data, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func (f *fakeConn) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeCapture struct {
	fail bool
}

func (c *fakeCapture) CaptureFrame(quality int) ([]byte, int, int, uint32, error) {
	if c.fail {
		return nil, 0, 0, 0, errors.New("capture unavailable")
	}
	return []byte{0x01, 0x02, 0x03}, 1920, 1080, 0, nil
}

type fakeSynth struct {
	mu      sync.Mutex
	applied []protocol.Input
}

func (s *fakeSynth) Apply(in protocol.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, in)
	return nil
}

func (s *fakeSynth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func TestRegisterSuccess(t *testing.T) {
	conn := newFakeConn()
	conn.inbox <- envelope.Encode(envelope.HostRegistered, envelope.Doc{SessionCode: "ABCDEF"})

	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	code, err := a.Register(1920, 1080)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if code != "ABCDEF" {
		t.Errorf("code = %q, want ABCDEF", code)
	}
	if a.SessionCode() != "ABCDEF" {
		t.Errorf("SessionCode() = %q, want ABCDEF", a.SessionCode())
	}

	sent := conn.lastSent()
	if envelope.Tag(sent[0]) != envelope.HostRegister {
		t.Fatalf("tag = %v, want HostRegister", envelope.Tag(sent[0]))
	}
	var payload hostRegisterPayload
	if err := json.Unmarshal(sent[1:], &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload.ScreenWidth != 1920 || payload.ScreenHeight != 1080 || payload.FPS != DefaultConfig().FPS {
		t.Errorf("payload = %+v", payload)
	}
}

func TestRegisterRelayError(t *testing.T) {
	conn := newFakeConn()
	conn.inbox <- envelope.Encode(envelope.Error, envelope.Doc{Error: "boom"})

	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	_, err := a.Register(1920, 1080)
	var regErr *RegisterError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected *RegisterError, got %v", err)
	}
	if regErr.Reason != "boom" {
		t.Errorf("reason = %q, want boom", regErr.Reason)
	}
}

func TestRegisterTimeout(t *testing.T) {
	conn := newFakeConn()
	cfg := DefaultConfig()
	cfg.RegisterWait = 20 * time.Millisecond

	a := New(cfg, conn, &fakeCapture{}, &fakeSynth{}, nil)
	_, err := a.Register(0, 0)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	conn.Close()
}

func TestDispatchClientConnectedResetsControl(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	a.mu.Lock()
	a.controlGranted = true
	a.mu.Unlock()

	a.dispatch(envelope.Encode(envelope.ClientConnected, envelope.Doc{}))
	if !a.Paired() {
		t.Error("expected paired after CLIENT_CONNECTED")
	}
	if a.ControlGranted() {
		t.Error("control should reset to false on CLIENT_CONNECTED")
	}
}

func TestDispatchDisconnectClearsPairAndControl(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	a.dispatch(envelope.Encode(envelope.ClientConnected, envelope.Doc{}))
	a.Grant()

	a.dispatch(envelope.Encode(envelope.Disconnect, envelope.Doc{Reason: "bye"}))
	if a.Paired() {
		t.Error("expected unpaired after DISCONNECT")
	}
	if a.ControlGranted() {
		t.Error("expected control cleared after DISCONNECT")
	}
}

func TestDispatchRequestControlWithNoApproverDenies(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)

	a.dispatch(envelope.Encode(envelope.RequestControl, envelope.Doc{}))

	sent := conn.lastSent()
	tag, doc, err := envelope.Decode(sent)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tag != envelope.ControlDenied {
		t.Fatalf("tag = %v, want ControlDenied", tag)
	}
	if doc.Message != "host has no UI to approve" {
		t.Errorf("message = %q", doc.Message)
	}
}

func TestDispatchRequestControlInvokesApprover(t *testing.T) {
	conn := newFakeConn()
	invoked := false
	approve := func(a *Agent) {
		invoked = true
		a.Grant()
	}
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, approve)

	a.dispatch(envelope.Encode(envelope.RequestControl, envelope.Doc{}))
	if !invoked {
		t.Fatal("approval collaborator was not invoked")
	}
	if !a.ControlGranted() {
		t.Error("expected control granted after approver calls Grant")
	}
}

// TestInputGating covers spec.md §8 boundary behavior: Input messages are
// dropped when control_granted is false and applied when true.
func TestInputGating(t *testing.T) {
	conn := newFakeConn()
	synth := &fakeSynth{}
	a := New(DefaultConfig(), conn, &fakeCapture{}, synth, nil)

	in := protocol.Input{EventType: protocol.EventMouseMove, X: 10, Y: 20}
	msg := protocol.Encode(protocol.TypeInput, in.Pack())

	a.dispatch(msg)
	if synth.count() != 0 {
		t.Error("input should be dropped while control is not granted")
	}

	a.Grant()
	a.dispatch(msg)
	if synth.count() != 1 {
		t.Errorf("applied count = %d, want 1 after grant", synth.count())
	}
}

func TestGrantRevokeSendEnvelopes(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)

	if err := a.Grant(); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	tag, _, _ := envelope.Decode(conn.lastSent())
	if tag != envelope.ControlGranted {
		t.Fatalf("tag = %v, want ControlGranted", tag)
	}

	if err := a.Revoke(); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	tag, _, _ = envelope.Decode(conn.lastSent())
	if tag != envelope.ControlRevoked {
		t.Fatalf("tag = %v, want ControlRevoked", tag)
	}
	if a.ControlGranted() {
		t.Error("control should be false after Revoke")
	}
}

func TestSendWindowMean(t *testing.T) {
	w := newSendWindow(3)
	if w.mean() != 0 {
		t.Fatalf("mean of empty window = %v, want 0", w.mean())
	}
	w.add(10 * time.Millisecond)
	w.add(20 * time.Millisecond)
	w.add(30 * time.Millisecond)
	if got, want := w.mean(), 20*time.Millisecond; got != want {
		t.Errorf("mean = %v, want %v", got, want)
	}
	// Wraps around and keeps averaging only the window size.
	w.add(60 * time.Millisecond)
	if got, want := w.mean(), (20+30+60)*time.Millisecond/3; got != want {
		t.Errorf("mean after wrap = %v, want %v", got, want)
	}
}

func TestAdjustQualityDecrementsWhenSlow(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	a.quality = 70
	target := 33 * time.Millisecond // ~30fps
	a.window.add(target) // mean > target/2
	a.adjustQualityLocked(target)
	if a.quality != 68 {
		t.Errorf("quality = %d, want 68", a.quality)
	}
}

func TestAdjustQualityIncrementsWhenFast(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	a.quality = 70
	target := 100 * time.Millisecond
	a.window.add(5 * time.Millisecond) // mean < target/5
	a.adjustQualityLocked(target)
	if a.quality != 71 {
		t.Errorf("quality = %d, want 71", a.quality)
	}
}

func TestAdjustQualityRespectsFloorAndCeiling(t *testing.T) {
	conn := newFakeConn()
	a := New(DefaultConfig(), conn, &fakeCapture{}, &fakeSynth{}, nil)
	a.quality = a.cfg.MinQuality
	target := 33 * time.Millisecond
	a.window.add(target)
	a.adjustQualityLocked(target)
	if a.quality != a.cfg.MinQuality {
		t.Errorf("quality = %d, want floor %d", a.quality, a.cfg.MinQuality)
	}

	a.quality = a.cfg.MaxQuality
	a.window = newSendWindow(30)
	a.window.add(1 * time.Millisecond)
	a.adjustQualityLocked(100 * time.Millisecond)
	if a.quality != a.cfg.MaxQuality {
		t.Errorf("quality = %d, want ceiling %d", a.quality, a.cfg.MaxQuality)
	}
}

// TestStreamLoopSendsFramesOncePaired exercises the production loop against
// a fake capture collaborator and confirms frames only go out while paired.
func TestStreamLoopSendsFramesOncePaired(t *testing.T) {
	conn := newFakeConn()
	cfg := DefaultConfig()
	cfg.FPS = 200 // fast tick for the test
	a := New(cfg, conn, &fakeCapture{}, &fakeSynth{}, nil)

	go a.StreamLoop()
	time.Sleep(20 * time.Millisecond)
	conn.mu.Lock()
	before := len(conn.sent)
	conn.mu.Unlock()
	if before != 0 {
		t.Fatalf("expected no frames before pairing, got %d", before)
	}

	a.mu.Lock()
	a.paired = true
	a.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	a.Stop()

	conn.mu.Lock()
	n := len(conn.sent)
	var first []byte
	if n > 0 {
		first = conn.sent[0]
	}
	conn.mu.Unlock()
	if n == 0 {
		t.Fatal("expected at least one frame sent after pairing")
	}
	if tag := protocol.Type(first[0]); tag != protocol.TypeFrame {
		t.Errorf("sent message type = %v, want TypeFrame", tag)
	}
}
