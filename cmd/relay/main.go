package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/4throck/deskrelay/internal/branding"
	"github.com/4throck/deskrelay/internal/relay"
	"github.com/4throck/deskrelay/internal/status"
)

var Version = "dev"

func main() {
	cfg := relay.DefaultConfig()

	var (
		addr            string
		maxMessageBytes int64
		firstMsgTimeout time.Duration
		showVersion     bool
	)

	flag.StringVar(&addr, "addr", ":8765", "Listen address for the relay WebSocket endpoint")
	flag.Int64Var(&maxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "Maximum size of a single WebSocket message")
	flag.DurationVar(&firstMsgTimeout, "first-msg-timeout", cfg.FirstMsgTimeout, "How long to wait for a connection's first message before dropping it")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose per-message logging")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("deskrelay-relay %s\n", Version)
		os.Exit(0)
	}

	cfg.MaxMessageBytes = maxMessageBytes
	cfg.FirstMsgTimeout = firstMsgTimeout

	branding.PrintBanner("Relay", Version, runtime.GOOS, runtime.GOARCH, os.Stderr)
	log.Printf("[relay] deskrelay-relay %s (%s/%s) starting", Version, runtime.GOOS, runtime.GOARCH)

	srv := relay.New(cfg)

	// Bind the relay listener before the status server, which prefers the
	// same port and falls back to an OS-assigned one when it is taken.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("[relay] Fatal: %v", err)
	}

	statusSrv := status.New("relay")
	statusSrv.SetDetailsProvider(srv.StatusDetails)
	statusSrv.SetQuitHandler(func() {
		log.Println("[status] Quit requested")
		os.Exit(0)
	})
	statusSrv.Start()
	defer statusSrv.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[relay] Listening on %s", addr)
		statusSrv.SetStatus("running")
		errCh <- httpSrv.Serve(ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("[relay] Fatal: %v", err)
		}
	case <-sigCh:
		log.Println("[relay] Shutting down...")
		httpSrv.Close()
	}
}
