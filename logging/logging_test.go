package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDebugSwitch(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)
	defer SetDebugEnabled(false)

	log.Debug().Msg("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("Debug message written while disabled: %q", buf.String())
	}

	SetDebugEnabled(true)
	log.Debug().Str("port", "/dev/ttyACM0").Msg("shown")
	out := buf.String()
	if !strings.Contains(out, "shown") || !strings.Contains(out, "port=/dev/ttyACM0") {
		t.Errorf("Expected debug line with fields, got %q", out)
	}
}

func TestInfoAlwaysWritten(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)

	log.Info().Msg("connected")
	if !strings.Contains(buf.String(), "connected") {
		t.Errorf("Expected info message, got %q", buf.String())
	}
}
