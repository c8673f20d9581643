package backoff

import (
	"testing"
	"time"
)

func TestNextGrowsWithAttempt(t *testing.T) {
	if Next(0) > Next(5)*2 {
		t.Errorf("expected later attempts to trend toward longer delays")
	}
}

func TestNextRespectsCeiling(t *testing.T) {
	d := Next(20)
	if d > maxDelay+maxDelay/4+time.Millisecond {
		t.Errorf("Next(20) = %v, want capped near maxDelay", d)
	}
}
