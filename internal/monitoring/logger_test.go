package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerCaptures(t *testing.T) {
	defer SetLogger(nil)

	var captured []string
	SetLogger(func(format string, v ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, v...))
	})

	Logf("camera read failed: %v", "timeout")
	Logf("detector disabled")

	if len(captured) != 2 {
		t.Fatalf("captured %d lines, want 2", len(captured))
	}
	if captured[0] != "camera read failed: timeout" {
		t.Errorf("captured[0] = %q", captured[0])
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("ignored %d", 42)
}
