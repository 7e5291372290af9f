// Package camera provides the capture-device boundary: a Camera interface,
// an HTTP MJPEG network camera, a synthetic camera for development and
// tests, and LAN auto-discovery of IP webcam streams.
package camera

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Frame is one decoded capture frame.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
}

// Camera is the capture-device abstraction. Exactly one goroutine owns a
// Camera and calls Read in a loop; Close may be called from another
// goroutine during shutdown.
type Camera interface {
	// Read blocks until the next frame is available or the device fails.
	// A failed Read is retriable; the caller decides backoff.
	Read() (Frame, error)

	// Source returns the identifier the camera was opened with.
	Source() string

	// Close releases the device. Best-effort: a Read blocked in device
	// I/O may not observe the close immediately.
	Close() error
}

// Open constructs a Camera for the given source. Stream URLs open a
// network camera; the "synthetic" source opens a generated test pattern.
// Numeric device indexes require a local capture backend, which this build
// does not carry.
func Open(source string) (Camera, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty camera source")
	}
	if source == "synthetic" {
		return NewSynthetic(640, 480), nil
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return NewNetCamera(source), nil
	}
	if _, err := strconv.Atoi(source); err == nil {
		return nil, fmt.Errorf("local device index %q is not supported by this build; use a stream URL", source)
	}
	return nil, fmt.Errorf("unrecognized camera source %q", source)
}
