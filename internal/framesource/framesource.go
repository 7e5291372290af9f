// Package framesource runs the capture loop. It owns the camera, keeps
// only the latest frame, and encodes JPEG bytes only while at least one
// video subscriber is connected.
package framesource

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/inkworks/pentrack/internal/camera"
	"github.com/inkworks/pentrack/internal/monitoring"
)

// readRetryDelay is the backoff after a failed or empty camera read.
const readRetryDelay = 10 * time.Millisecond

// Snapshot is the latest captured frame. The image is replaced wholesale
// each tick and never mutated, so holding a Snapshot outside the lock is
// safe.
type Snapshot struct {
	Image     image.Image
	Width     int
	Height    int
	Seq       uint64
	UpdatedAt time.Time
}

// Source owns the capture device and publishes the latest frame.
type Source struct {
	cam     camera.Camera
	quality int

	mu        sync.Mutex // guards the published frame state
	frame     Snapshot
	jpegBytes []byte
	jpegSeq   uint64

	subMu       sync.Mutex // guards the subscriber count only
	subscribers int
}

// New creates a Source for the given camera. quality is the JPEG encode
// quality, clamped to [1, 100].
func New(cam camera.Camera, quality int) *Source {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &Source{cam: cam, quality: quality}
}

// Run reads frames until ctx is cancelled. Read failures back off briefly
// and retry; they are never fatal.
func (s *Source) Run(ctx context.Context) {
	opts := &jpeg.Options{Quality: s.quality}

	for ctx.Err() == nil {
		frame, err := s.cam.Read()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		// Encode outside the lock, and only when somebody is watching.
		var encoded []byte
		if s.Subscribers() > 0 {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, frame.Image, opts); err != nil {
				monitoring.Logf("frame encode failed: %v", err)
			} else {
				encoded = buf.Bytes()
			}
		}

		s.mu.Lock()
		s.frame = Snapshot{
			Image:     frame.Image,
			Width:     frame.Width,
			Height:    frame.Height,
			Seq:       s.frame.Seq + 1,
			UpdatedAt: time.Now(),
		}
		if encoded != nil {
			s.jpegBytes = encoded
			s.jpegSeq = s.frame.Seq
		} else {
			s.jpegBytes = nil
		}
		s.mu.Unlock()
	}
}

// Latest returns the most recent frame, or ok=false before the first
// capture.
func (s *Source) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frame.Seq > 0
}

// LatestJPEG returns the most recent encoded frame and its sequence
// number. The bytes are nil when encoding is idle (no subscribers) or no
// frame has been captured yet.
func (s *Source) LatestJPEG() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jpegBytes, s.jpegSeq
}

// AddSubscriber increments the video subscriber count.
func (s *Source) AddSubscriber() {
	s.subMu.Lock()
	s.subscribers++
	s.subMu.Unlock()
}

// RemoveSubscriber decrements the video subscriber count, floored at zero.
func (s *Source) RemoveSubscriber() {
	s.subMu.Lock()
	if s.subscribers > 0 {
		s.subscribers--
	}
	s.subMu.Unlock()
}

// Subscribers returns the current video subscriber count.
func (s *Source) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.subscribers
}
