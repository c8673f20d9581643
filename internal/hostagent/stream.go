package hostagent

import (
	"log"
	"time"

	"github.com/4throck/deskrelay/internal/protocol"
	"github.com/gorilla/websocket"
)

// sendWindow tracks the last n frame send durations for the adaptive-quality
// controller (spec.md §4.3 "Adaptive quality").
type sendWindow struct {
	samples []time.Duration
	size    int
	next    int
	full    bool
}

func newSendWindow(size int) *sendWindow {
	return &sendWindow{samples: make([]time.Duration, size), size: size}
}

func (w *sendWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % w.size
	if w.next == 0 {
		w.full = true
	}
}

// mean returns the window average, or 0 if no samples have been recorded yet.
func (w *sendWindow) mean() time.Duration {
	n := w.next
	if w.full {
		n = w.size
	}
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(n)
}

// captureFailureBackoff is applied after repeated consecutive capture
// failures (spec.md §4.3 step 2: "30 consecutive").
const (
	maxConsecutiveCaptureFailures = 30
	captureFailureBackoff         = 1 * time.Second
)

// StreamLoop runs the host's frame-production loop until Stop is called or
// the connection fails. It is independent of ReceiveLoop and must run in its
// own goroutine (spec.md §4.3 "Separate from the receive loop").
func (a *Agent) StreamLoop() error {
	if a.cfg.FPS <= 0 {
		a.cfg.FPS = DefaultConfig().FPS
	}
	targetInterval := time.Second / time.Duration(a.cfg.FPS)

	var frameNumber uint32
	var consecutiveFailures int

	ticker := time.NewTicker(targetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return nil
		case <-ticker.C:
		}

		if !a.Paired() {
			continue
		}

		quality := a.Quality()
		image, w, h, _, err := a.capture.CaptureFrame(quality)
		if err != nil {
			consecutiveFailures++
			log.Printf("[host] capture failed: %v", err)
			if consecutiveFailures >= maxConsecutiveCaptureFailures {
				consecutiveFailures = 0
				select {
				case <-time.After(captureFailureBackoff):
				case <-a.stopCh:
					return nil
				}
			}
			continue
		}
		consecutiveFailures = 0
		frameNumber++

		frame := protocol.Frame{
			Width:       uint16(w),
			Height:      uint16(h),
			FrameNumber: frameNumber,
			Image:       image,
		}
		msg := protocol.Encode(protocol.TypeFrame, frame.Pack())

		start := time.Now()
		a.writeMu.Lock()
		err = a.conn.WriteMessage(websocket.BinaryMessage, msg)
		a.writeMu.Unlock()
		sendTime := time.Since(start)
		if err != nil {
			return err
		}

		a.mu.Lock()
		a.window.add(sendTime)
		a.adjustQualityLocked(targetInterval)
		a.mu.Unlock()
	}
}

// adjustQualityLocked applies spec.md §4.3's proportional controller. Caller
// must hold a.mu.
func (a *Agent) adjustQualityLocked(targetInterval time.Duration) {
	mean := a.window.mean()
	if mean == 0 {
		return
	}
	minQ, maxQ := a.cfg.MinQuality, a.cfg.MaxQuality
	if minQ == 0 && maxQ == 0 {
		minQ, maxQ = DefaultConfig().MinQuality, DefaultConfig().MaxQuality
	}

	switch {
	case mean > targetInterval/2:
		a.quality -= 2
		if a.quality < minQ {
			a.quality = minQ
		}
	case mean < targetInterval/5:
		a.quality++
		if a.quality > maxQ {
			a.quality = maxQ
		}
	}
}
