package camera

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// Synthetic generates a moving gradient test pattern at roughly 30fps. It
// stands in for real hardware in development and tests, the same way a
// mock device stands in for a serial port.
type Synthetic struct {
	width  int
	height int

	mu     sync.Mutex
	tick   int
	closed bool

	// ReadErr, when set, is returned by the next Read and then cleared.
	ReadErr error

	// Delay is the simulated capture interval. Zero means no delay,
	// which tests use to run the capture loop flat out.
	Delay time.Duration
}

// NewSynthetic creates a Synthetic camera with the given frame size.
func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{width: width, height: height, Delay: 33 * time.Millisecond}
}

// Source identifies the synthetic pattern.
func (s *Synthetic) Source() string {
	return "synthetic"
}

// Read returns the next generated frame.
func (s *Synthetic) Read() (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("camera closed")
	}
	if s.ReadErr != nil {
		err := s.ReadErr
		s.ReadErr = nil
		s.mu.Unlock()
		return Frame{}, err
	}
	s.tick++
	tick := s.tick
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + tick) % 256),
				G: uint8((y + tick) % 256),
				B: uint8(tick % 256),
				A: 255,
			})
		}
	}
	return Frame{Image: img, Width: s.width, Height: s.height}, nil
}

// FailNextRead makes the next Read return err once.
func (s *Synthetic) FailNextRead(err error) {
	s.mu.Lock()
	s.ReadErr = err
	s.mu.Unlock()
}

// Close marks the camera closed.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
