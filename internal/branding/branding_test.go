package branding

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintBannerIncludesComponentAndVersion(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner("Relay", "v1.2.3", "linux", "amd64", &buf)

	out := buf.String()
	if !strings.Contains(out, "Relay") {
		t.Errorf("banner missing component name: %q", out)
	}
	if !strings.Contains(out, "v1.2.3") {
		t.Errorf("banner missing version: %q", out)
	}
	if !strings.Contains(out, "linux/amd64") {
		t.Errorf("banner missing platform: %q", out)
	}
}

func TestColorHelpersNoOpWithoutColor(t *testing.T) {
	t.Setenv("TERM", "dumb")
	if got := Green("x"); got != "x" {
		t.Errorf("Green(\"x\") = %q on a dumb terminal, want unmodified", got)
	}
}
