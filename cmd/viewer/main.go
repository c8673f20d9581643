package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/4throck/deskrelay/internal/backoff"
	"github.com/4throck/deskrelay/internal/branding"
	"github.com/4throck/deskrelay/internal/protocol"
	"github.com/4throck/deskrelay/internal/status"
	"github.com/4throck/deskrelay/internal/viewer"
	"github.com/gorilla/websocket"
)

var Version = "dev"

// logPresenter is the viewer's Presenter collaborator. Real on-screen display
// is out of scope (SPEC_FULL.md §1); this records the most recent frame's
// shape so the status endpoint can report session health.
type logPresenter struct {
	received int
	lastW    int
	lastH    int
}

func (p *logPresenter) Present(frame protocol.Frame) error {
	p.received++
	p.lastW = int(frame.Width)
	p.lastH = int(frame.Height)
	if p.received%30 == 0 {
		log.Printf("[viewer] received %d frames (%dx%d)", p.received, p.lastW, p.lastH)
	}
	return nil
}

func main() {
	var (
		relayURL    string
		code        string
		scale       float64
		debug       bool
		showVersion bool
	)

	flag.StringVar(&relayURL, "relay", "ws://localhost:8765/ws", "Relay WebSocket URL")
	flag.StringVar(&code, "code", "", "Session code to join (required)")
	flag.Float64Var(&scale, "scale", 1.0, "Presentation display scale factor")
	flag.BoolVar(&debug, "debug", false, "Enable verbose per-message logging")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("deskrelay-viewer %s\n", Version)
		os.Exit(0)
	}

	if code == "" {
		fmt.Fprintln(os.Stderr, "ERROR: --code is required")
		os.Exit(1)
	}

	branding.PrintBanner("Viewer Agent", Version, runtime.GOOS, runtime.GOARCH, os.Stderr)
	log.Printf("[viewer] deskrelay-viewer %s (%s/%s) starting", Version, runtime.GOOS, runtime.GOARCH)

	cfg := viewer.DefaultConfig()
	cfg.Scale = scale
	cfg.Debug = debug

	statusSrv := status.New("viewer")
	statusSrv.Start()
	defer statusSrv.Stop()
	statusSrv.SetQuitHandler(func() {
		log.Println("[status] Quit requested")
		os.Exit(0)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopCh := make(chan struct{})
	go func() {
		<-sigCh
		log.Println("[viewer] Shutting down...")
		close(stopCh)
	}()

	attempt := 0
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		statusSrv.SetStatus("connecting")
		err := runSession(cfg, relayURL, code, statusSrv, stopCh)
		if err == nil {
			statusSrv.SetStatus("stopped")
			return
		}

		select {
		case <-stopCh:
			return
		default:
		}

		attempt++
		statusSrv.SetStatus("reconnecting")
		statusSrv.SetError(err.Error())
		delay := backoff.Next(attempt)
		log.Printf("[viewer] Session ended: %v — reconnecting in %v (attempt %d)", err, delay, attempt)

		select {
		case <-time.After(delay):
		case <-stopCh:
			return
		}
	}
}

func runSession(cfg viewer.Config, relayURL, code string, statusSrv *status.Server, stopCh <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(relayURL, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close()

	presenter := &logPresenter{}
	agent := viewer.New(cfg, conn, presenter)

	if err := agent.Join(code); err != nil {
		return fmt.Errorf("joining session %s: %w", code, err)
	}
	log.Printf("[viewer] Joined session %s", agent.SessionCode())

	statusSrv.SetDetailsProvider(func() any {
		return map[string]any{
			"session_code":    agent.SessionCode(),
			"control_granted": agent.ControlGranted(),
			"frames_received": presenter.received,
		}
	})
	statusSrv.SetStatus("connected")

	if err := agent.RequestControl(); err != nil {
		log.Printf("[viewer] requesting control failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- agent.ReceiveLoop() }()

	select {
	case err = <-errCh:
	case <-stopCh:
		err = nil
	}
	agent.Stop()
	return err
}
