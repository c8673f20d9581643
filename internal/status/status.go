// Package status implements the local operational HTTP surface shared by all
// three binaries (SPEC_FULL.md §4.5): a loopback-only status/health endpoint,
// falling back to an OS-assigned port if the preferred one is busy. Never
// reachable over the relay WebSocket — purely a local operability concern.
package status

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// DefaultAddr is the preferred listen address. If the port is busy,
// Start will bind to :0 and let the OS pick a free port.
const DefaultAddr = "127.0.0.1:8765"

// Server provides a local HTTP status endpoint. The component-specific
// payload is supplied lazily through a details provider so relay, host, and
// viewer can each report their own shape without a shared schema.
type Server struct {
	mu         sync.RWMutex
	component  string // "relay", "host", or "viewer"
	status     string
	lastError  string
	startedAt  time.Time
	listenAddr string

	details func() any

	mux    *http.ServeMux
	server *http.Server

	onQuit        func()
	onStateChange func(event, message string)
}

type statusResponse struct {
	Component     string `json:"component"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StartedAt     string `json:"started_at"`
	LastError     string `json:"last_error,omitempty"`
	PID           int    `json:"pid"`
	Details       any    `json:"details,omitempty"`
}

// New creates a status server for the named component ("relay", "host", or
// "viewer"). Call HandleFunc to register additional routes before or after Start.
func New(component string) *Server {
	s := &Server{
		component: component,
		status:    "starting",
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/api/status", s.handleAPIStatus)
	s.mux.HandleFunc("/api/quit", s.handleQuit)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	})
	return s
}

// HandleFunc registers an additional handler on the server's mux.
// Safe to call before or after Start.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// SetDetailsProvider registers the callback invoked to build the
// component-specific "details" field of every status response — e.g. the
// relay's registry snapshot or the host/viewer's connection state.
func (s *Server) SetDetailsProvider(fn func() any) {
	s.mu.Lock()
	s.details = fn
	s.mu.Unlock()
}

// SetQuitHandler sets the callback invoked when POST /api/quit is received.
func (s *Server) SetQuitHandler(fn func()) {
	s.mu.Lock()
	s.onQuit = fn
	s.mu.Unlock()
}

// SetStateChangeHandler sets the callback invoked on status transitions.
func (s *Server) SetStateChangeHandler(fn func(event, message string)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

// Start begins listening. Tries DefaultAddr first; if busy, binds to :0.
func (s *Server) Start() {
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", DefaultAddr)
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.Printf("[status] could not start status server: %v (non-fatal)", err)
			return
		}
	}

	s.mu.Lock()
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[status] status server error: %v", err)
		}
	}()

	log.Printf("[status] [%s] status server listening on %s", s.component, s.Addr())
}

// Addr returns the actual listen address (e.g. "127.0.0.1:8765" or auto-assigned).
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

// Port returns the actual port the server bound to, or 0 if not started.
func (s *Server) Port() int {
	addr := s.Addr()
	if addr == "" {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// Stop shuts down the status server.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Close()
	}
}

// SetStatus updates the current component status, firing the state-change
// callback on transitions (e.g. "connecting" -> "paired").
func (s *Server) SetStatus(st string) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	cb := s.onStateChange
	s.mu.Unlock()

	if cb != nil && prev != st {
		cb("status_changed", st)
	}
}

// SetError sets the last error message.
func (s *Server) SetError(err string) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

func (s *Server) buildResponse() statusResponse {
	s.mu.RLock()
	component, status, lastError, startedAt, detailsFn := s.component, s.status, s.lastError, s.startedAt, s.details
	s.mu.RUnlock()

	resp := statusResponse{
		Component:     component,
		Status:        status,
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		StartedAt:     startedAt.Format(time.RFC3339),
		LastError:     lastError,
		PID:           os.Getpid(),
	}
	if detailsFn != nil {
		resp.Details = detailsFn()
	}
	return resp
}

// handleRoot returns JSON status — there is no HTML dashboard.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.buildResponse())
}

// handleAPIStatus always returns JSON.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.buildResponse())
}

// handleQuit triggers graceful shutdown via callback.
func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST only", 405)
		return
	}

	s.mu.RLock()
	cb := s.onQuit
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if cb != nil {
		fmt.Fprint(w, `{"ok":true}`)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cb()
		}()
	} else {
		fmt.Fprint(w, `{"ok":false,"error":"no quit handler"}`)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"ok":true}`)
}
