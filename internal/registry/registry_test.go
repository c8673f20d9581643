package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeConn is a minimal Conn for registry tests — no real networking.
type fakeConn struct {
	name string
	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn(name string) *fakeConn { return &fakeConn{name: name} }

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("not implemented") }
func (f *fakeConn) Close() error                      { return nil }

func TestRegisterHostCreatesUniqueCodeSession(t *testing.T) {
	r := New()
	host := newFakeConn("host1")

	sess, err := r.RegisterHost(host)
	if err != nil {
		t.Fatalf("RegisterHost failed: %v", err)
	}
	if len(sess.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(sess.Code))
	}
	if sess.HasViewer() {
		t.Error("freshly registered session should have no viewer")
	}
	if r.ActiveSessionCount() != 1 {
		t.Errorf("ActiveSessionCount = %d, want 1", r.ActiveSessionCount())
	}
	code, ok := r.CodeForConn(host)
	if !ok || code != sess.Code {
		t.Errorf("CodeForConn = (%q, %v), want (%q, true)", code, ok, sess.Code)
	}
}

func TestJoinViewerSuccess(t *testing.T) {
	r := New()
	host := newFakeConn("host")
	sess, _ := r.RegisterHost(host)

	viewer := newFakeConn("viewer")
	joined, err := r.JoinViewer(sess.Code, viewer)
	if err != nil {
		t.Fatalf("JoinViewer failed: %v", err)
	}
	if joined != sess {
		t.Error("JoinViewer should return the same session")
	}
	if !sess.HasViewer() {
		t.Error("session should have a viewer after join")
	}
}

func TestJoinViewerUnknownCode(t *testing.T) {
	r := New()
	_, err := r.JoinViewer("AAAAAA", newFakeConn("v"))
	var unknown *UnknownSessionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownSessionError, got %v", err)
	}
	if r.ActiveSessionCount() != 0 {
		t.Error("registry should be unaffected by a failed join")
	}
}

func TestJoinViewerAlreadyTaken(t *testing.T) {
	r := New()
	host := newFakeConn("host")
	sess, _ := r.RegisterHost(host)
	first := newFakeConn("first-viewer")
	if _, err := r.JoinViewer(sess.Code, first); err != nil {
		t.Fatalf("first join failed: %v", err)
	}

	second := newFakeConn("second-viewer")
	_, err := r.JoinViewer(sess.Code, second)
	var taken *SessionTakenError
	if !errors.As(err, &taken) {
		t.Fatalf("expected SessionTakenError, got %v", err)
	}
	if sess.Viewer() != first {
		t.Error("existing pair must be unaffected by the rejected join")
	}
}

func TestClearViewerKeepsHostSession(t *testing.T) {
	r := New()
	host := newFakeConn("host")
	sess, _ := r.RegisterHost(host)
	viewer := newFakeConn("viewer")
	r.JoinViewer(sess.Code, viewer)

	cleared, ok := r.ClearViewer(sess.Code)
	if !ok {
		t.Fatal("ClearViewer should find the session")
	}
	if cleared.HasViewer() {
		t.Error("viewer should be detached")
	}
	if r.ActiveSessionCount() != 1 {
		t.Error("host session should remain registered")
	}

	// A new viewer can join the same code afterward.
	again := newFakeConn("viewer2")
	if _, err := r.JoinViewer(sess.Code, again); err != nil {
		t.Fatalf("rejoin after clear failed: %v", err)
	}
}

func TestRemoveHostDestroysSession(t *testing.T) {
	r := New()
	host := newFakeConn("host")
	sess, _ := r.RegisterHost(host)
	viewer := newFakeConn("viewer")
	r.JoinViewer(sess.Code, viewer)

	removed, ok := r.RemoveHost(sess.Code)
	if !ok || removed != sess {
		t.Fatal("RemoveHost should return the removed session")
	}
	if r.ActiveSessionCount() != 0 {
		t.Error("registry should be empty after host removal")
	}
	if _, ok := r.CodeForConn(host); ok {
		t.Error("host conn index should be cleaned up")
	}
	if _, ok := r.CodeForConn(viewer); ok {
		t.Error("viewer conn index should be cleaned up on host removal")
	}

	if _, err := r.JoinViewer(sess.Code, newFakeConn("late")); err == nil {
		t.Error("join on a removed code should fail")
	}
}

func TestRegisterHostCapacityExhausted(t *testing.T) {
	r := New()
	orig := generateCode
	defer func() { generateCode = orig }()

	// Force every attempt to collide with a pre-existing code.
	generateCode = func() (string, error) { return "DUPDUP", nil }
	if _, err := r.RegisterHost(newFakeConn("first")); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}

	_, err := r.RegisterHost(newFakeConn("second"))
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if r.ActiveSessionCount() != 1 {
		t.Error("a failed allocation must not leak a partial session")
	}
}

func TestConcurrentRegistrationsGetDistinctCodes(t *testing.T) {
	r := New()
	const n = 50
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := r.RegisterHost(newFakeConn(fmt.Sprintf("host-%d", i)))
			if err != nil {
				t.Errorf("RegisterHost failed: %v", err)
				return
			}
			codes <- sess.Code
		}(i)
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		if seen[c] {
			t.Fatalf("duplicate code allocated: %s", c)
		}
		seen[c] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct codes, want %d", len(seen), n)
	}
}
