package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/4throck/deskrelay/internal/backoff"
	"github.com/4throck/deskrelay/internal/branding"
	"github.com/4throck/deskrelay/internal/hostagent"
	"github.com/4throck/deskrelay/internal/instance"
	"github.com/4throck/deskrelay/internal/prefs"
	"github.com/4throck/deskrelay/internal/protocol"
	"github.com/4throck/deskrelay/internal/status"
	"github.com/4throck/deskrelay/internal/ui"
	"github.com/gorilla/websocket"
)

var Version = "dev"

// testPatternCapture is the host agent's Capture collaborator. Real screen
// grabbing is out of scope (SPEC_FULL.md §1); this produces a small PNG test
// pattern so the frame-streaming path has a genuine image to carry end to
// end. A production deployment would satisfy hostagent.Capture with a
// platform-specific screen-grab library instead.
type testPatternCapture struct {
	width, height int
	frame         uint32
}

func (c *testPatternCapture) CaptureFrame(quality int) ([]byte, int, int, uint32, error) {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	shade := uint8(128 + int(c.frame%128))
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(quality * 2), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, 0, err
	}
	c.frame++
	return buf.Bytes(), c.width, c.height, c.frame, nil
}

// logInputSynth is the host agent's InputSynth collaborator. Real input
// injection is out of scope (SPEC_FULL.md §1); this just records what would
// have been applied.
type logInputSynth struct {
	mu      sync.Mutex
	applied int
}

func (s *logInputSynth) Apply(in protocol.Input) error {
	s.mu.Lock()
	s.applied++
	s.mu.Unlock()
	if in.EventType == protocol.EventMouseMove {
		return nil
	}
	log.Printf("[host] input applied: type=%d x=%d y=%d", in.EventType, in.X, in.Y)
	return nil
}

func main() {
	var (
		relayURL    string
		fps         int
		quality     int
		debug       bool
		showVersion bool
	)

	flag.StringVar(&relayURL, "relay", "ws://localhost:8765/ws", "Relay WebSocket URL")
	flag.IntVar(&fps, "fps", 0, "Target frames per second (default 30, or last saved preference)")
	flag.IntVar(&quality, "quality", 0, "Initial encode quality 1-100 (default 70, or last saved preference)")
	flag.BoolVar(&debug, "debug", false, "Enable verbose per-message logging")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("deskrelay-host %s\n", Version)
		os.Exit(0)
	}

	branding.PrintBanner("Host Agent", Version, runtime.GOOS, runtime.GOARCH, os.Stderr)
	log.Printf("[host] deskrelay-host %s (%s/%s) starting", Version, runtime.GOOS, runtime.GOARCH)

	binDir := binaryDirectory()
	lock, err := instance.Acquire(binDir)
	if err != nil {
		log.Fatalf("[host] %v", err)
	}
	defer lock.Release()

	prefsPath := filepath.Join(binDir, "host-prefs.dat")
	saved, _ := prefs.Load(prefsPath)

	cfg := hostagent.DefaultConfig()
	cfg.Debug = debug
	if fps > 0 {
		cfg.FPS = fps
	} else if saved.FPS > 0 {
		cfg.FPS = saved.FPS
	}
	if quality > 0 {
		cfg.Quality = quality
	} else if saved.Quality > 0 {
		cfg.Quality = saved.Quality
	}

	var wizard hostagent.ApprovalUI
	if ui.IsGuiAvailable() {
		wizard = ui.NewGuiUI()
	} else {
		wizard = ui.NewCliUI()
	}

	statusSrv := status.New("host")
	statusSrv.Start()
	defer statusSrv.Stop()
	statusSrv.SetQuitHandler(func() {
		log.Println("[status] Quit requested")
		os.Exit(0)
	})

	var notifyMu sync.Mutex
	notifyLast := map[string]time.Time{}
	statusSrv.SetStateChangeHandler(func(event, message string) {
		notifyMu.Lock()
		last, ok := notifyLast[event]
		now := time.Now()
		if ok && now.Sub(last) < 30*time.Second {
			notifyMu.Unlock()
			return
		}
		notifyLast[event] = now
		notifyMu.Unlock()
		ui.Notify("DeskRelay Host", message)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopCh := make(chan struct{})
	go func() {
		<-sigCh
		log.Println("[host] Shutting down...")
		close(stopCh)
	}()

	attempt := 0
	for {
		select {
		case <-stopCh:
			prefs.Save(prefsPath, prefs.Prefs{FPS: cfg.FPS, Quality: cfg.Quality})
			return
		default:
		}

		statusSrv.SetStatus("connecting")
		err := runSession(cfg, relayURL, wizard, statusSrv, stopCh)
		if err == nil {
			statusSrv.SetStatus("stopped")
			prefs.Save(prefsPath, prefs.Prefs{FPS: cfg.FPS, Quality: cfg.Quality})
			return
		}

		select {
		case <-stopCh:
			prefs.Save(prefsPath, prefs.Prefs{FPS: cfg.FPS, Quality: cfg.Quality})
			return
		default:
		}

		attempt++
		statusSrv.SetStatus("reconnecting")
		statusSrv.SetError(err.Error())
		delay := backoff.Next(attempt)
		log.Printf("[host] Session ended: %v — reconnecting in %v (attempt %d)", err, delay, attempt)

		select {
		case <-time.After(delay):
		case <-stopCh:
			prefs.Save(prefsPath, prefs.Prefs{FPS: cfg.FPS, Quality: cfg.Quality})
			return
		}
	}
}

// runSession dials the relay, registers, and runs the session until the
// connection drops or the user shuts down.
func runSession(cfg hostagent.Config, relayURL string, wizard hostagent.ApprovalUI, statusSrv *status.Server, stopCh <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(relayURL, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close()

	capture := &testPatternCapture{width: 1920, height: 1080}
	synth := &logInputSynth{}
	agent := hostagent.New(cfg, conn, capture, synth, hostagent.NewUIApproval(wizard))

	code, err := agent.Register(capture.width, capture.height)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	log.Printf("[host] Session code: %s", code)
	wizard.Info("Session Code", fmt.Sprintf("Share this code with the viewer: %s", code))
	statusSrv.SetDetailsProvider(func() any {
		return map[string]any{
			"session_code":    agent.SessionCode(),
			"paired":          agent.Paired(),
			"control_granted": agent.ControlGranted(),
			"quality":         agent.Quality(),
		}
	})
	statusSrv.SetStatus("waiting_for_viewer")

	errCh := make(chan error, 2)
	go func() { errCh <- agent.ReceiveLoop() }()
	go func() { errCh <- agent.StreamLoop() }()

	select {
	case err = <-errCh:
	case <-stopCh:
		err = nil
	}
	agent.Stop()
	return err
}

func binaryDirectory() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
