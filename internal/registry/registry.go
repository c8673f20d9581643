// Package registry holds the relay's session registry: the sole
// cross-goroutine structure in the relay service. All other relay state is
// goroutine-local (see SPEC_FULL.md §5).
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the minimal transport surface the registry and relay forwarding
// loops need. *websocket.Conn satisfies it; tests use a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Session is a live pairing between one host and at most one viewer,
// identified by Code. See SPEC_FULL.md §3 for the invariants this type
// upholds under Registry's exclusive lock.
type Session struct {
	Code string

	mu               sync.RWMutex
	host             Conn
	viewer           Conn
	hostRegisteredAt time.Time
	viewerAttachedAt time.Time

	hostWriteMu   sync.Mutex
	viewerWriteMu sync.Mutex

	bytesToViewer atomic.Uint64
	bytesToHost   atomic.Uint64
	framesRelayed atomic.Uint64
}

// WriteToHost serializes a single write to the host transport. The relay
// forwards viewer bytes to host and also originates CLIENT_CONNECTED/
// DISCONNECT/ERROR notifications from different goroutines — both paths
// must funnel through here so no two goroutines write the host connection
// concurrently (SPEC_FULL.md §5).
func (s *Session) WriteToHost(messageType int, data []byte) error {
	host := s.Host()
	if host == nil {
		return fmt.Errorf("session %s has no host transport", s.Code)
	}
	s.hostWriteMu.Lock()
	defer s.hostWriteMu.Unlock()
	return host.WriteMessage(messageType, data)
}

// WriteToViewer serializes a single write to the current viewer transport.
// Returns nil (a no-op) if no viewer is attached — forwarding to an absent
// viewer is a silent drop per spec.md §4.2.2, not an error.
func (s *Session) WriteToViewer(messageType int, data []byte) error {
	viewer := s.Viewer()
	if viewer == nil {
		return nil
	}
	s.viewerWriteMu.Lock()
	defer s.viewerWriteMu.Unlock()
	return viewer.WriteMessage(messageType, data)
}

// Host returns the session's host transport.
func (s *Session) Host() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// Viewer returns the session's current viewer transport, or nil if unpaired.
func (s *Session) Viewer() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewer
}

// HasViewer reports whether a viewer is currently attached.
func (s *Session) HasViewer() bool {
	return s.Viewer() != nil
}

// HostRegisteredAt returns when the host registered.
func (s *Session) HostRegisteredAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostRegisteredAt
}

// ViewerAttachedAt returns when the current viewer attached (zero value if unpaired).
func (s *Session) ViewerAttachedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewerAttachedAt
}

func (s *Session) setViewer(c Conn) {
	s.mu.Lock()
	s.viewer = c
	if c != nil {
		s.viewerAttachedAt = time.Now()
	} else {
		s.viewerAttachedAt = time.Time{}
	}
	s.mu.Unlock()
}

// AddBytesToViewer accumulates the forwarded-to-viewer byte counter.
func (s *Session) AddBytesToViewer(n int) { s.bytesToViewer.Add(uint64(n)) }

// AddBytesToHost accumulates the forwarded-to-host byte counter.
func (s *Session) AddBytesToHost(n int) { s.bytesToHost.Add(uint64(n)) }

// AddFrameRelayed increments the frames-relayed counter (host→viewer direction).
func (s *Session) AddFrameRelayed() { s.framesRelayed.Add(1) }

// Stats is a point-in-time snapshot of a session's counters, safe to read
// concurrently with ongoing forwarding.
type Stats struct {
	Code             string
	HasViewer        bool
	HostRegisteredAt time.Time
	ViewerAttachedAt time.Time
	BytesToViewer    uint64
	BytesToHost      uint64
	FramesRelayed    uint64
}

// Snapshot returns the session's current stats.
func (s *Session) Snapshot() Stats {
	return Stats{
		Code:             s.Code,
		HasViewer:        s.HasViewer(),
		HostRegisteredAt: s.HostRegisteredAt(),
		ViewerAttachedAt: s.ViewerAttachedAt(),
		BytesToViewer:    s.bytesToViewer.Load(),
		BytesToHost:      s.bytesToHost.Load(),
		FramesRelayed:    s.framesRelayed.Load(),
	}
}

// CapacityError is returned when the registry cannot allocate a unique code
// within the bounded number of attempts.
type CapacityError struct {
	Attempts int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("could not allocate a unique session code after %d attempts", e.Attempts)
}

// maxAllocationAttempts bounds retry on session-code collision (spec.md §3, §7: CAPACITY).
const maxAllocationAttempts = 100

// generateCode is overridable in tests to force collisions deterministically.
var generateCode = defaultGenerateCode

// Registry is the relay's session table: code -> *Session, and conn -> code
// for O(1) reverse lookup on disconnect. Both maps are mutated under a
// single exclusive lock to preserve the invariant that they stay consistent
// (spec.md §3 Invariants, §4.2.1).
type Registry struct {
	mu        sync.Mutex
	byCode    map[string]*Session
	byConn    map[Conn]string
	totalEver uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byCode: make(map[string]*Session),
		byConn: make(map[Conn]string),
	}
}

// RegisterHost allocates a unique code, creates the session, and indexes it.
// Returns CapacityError if no free code could be found within the retry budget.
func (r *Registry) RegisterHost(host Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for attempt := 1; attempt <= maxAllocationAttempts; attempt++ {
		candidate, err := generateCode()
		if err != nil {
			return nil, err
		}
		if _, taken := r.byCode[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, &CapacityError{Attempts: maxAllocationAttempts}
	}

	sess := &Session{Code: code, host: host, hostRegisteredAt: time.Now()}
	r.byCode[code] = sess
	r.byConn[host] = code
	r.totalEver++
	return sess, nil
}

// UnknownSessionError is returned when a code has no live session.
type UnknownSessionError struct {
	Code string
}

func (e *UnknownSessionError) Error() string { return "session not found: " + e.Code }

// SessionTakenError is returned when a session already has a viewer attached.
type SessionTakenError struct {
	Code string
}

func (e *SessionTakenError) Error() string { return "session already has a client connected" }

// JoinViewer attaches viewer to the session identified by code (already
// normalized by the caller). Fails with *UnknownSessionError or
// *SessionTakenError per spec.md §4.2 boundary behaviors.
func (r *Registry) JoinViewer(code string, viewer Conn) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.byCode[code]
	if !ok {
		r.mu.Unlock()
		return nil, &UnknownSessionError{Code: code}
	}
	if sess.HasViewer() {
		r.mu.Unlock()
		return nil, &SessionTakenError{Code: code}
	}
	sess.setViewer(viewer)
	r.byConn[viewer] = code
	r.mu.Unlock()
	return sess, nil
}

// Lookup returns the session for a code, if any.
func (r *Registry) Lookup(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byCode[code]
	return sess, ok
}

// CodeForConn returns the session code a transport was last indexed under.
func (r *Registry) CodeForConn(c Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byConn[c]
	return code, ok
}

// RemoveHost destroys the session entirely (host disconnected). Returns the
// removed session (for the caller to notify the viewer) and whether it existed.
func (r *Registry) RemoveHost(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byCode[code]
	if !ok {
		return nil, false
	}
	delete(r.byCode, code)
	delete(r.byConn, sess.host)
	if v := sess.Viewer(); v != nil {
		delete(r.byConn, v)
	}
	return sess, true
}

// ClearViewer detaches the viewer from a session, leaving the host's
// registration live (spec.md: viewer-drop transitions PAIRED -> UNPAIRED).
func (r *Registry) ClearViewer(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byCode[code]
	if !ok {
		return nil, false
	}
	if v := sess.Viewer(); v != nil {
		delete(r.byConn, v)
	}
	sess.setViewer(nil)
	return sess, true
}

// ActiveSessionCount returns the number of live sessions.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCode)
}

// TotalSessionsEver returns the lifetime count of sessions created.
func (r *Registry) TotalSessionsEver() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalEver
}

// Snapshots returns a Stats snapshot for every live session.
func (r *Registry) Snapshots() []Stats {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byCode))
	for _, s := range r.byCode {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Stats, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snapshot()
	}
	return out
}
