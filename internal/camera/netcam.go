package camera

import (
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// NetCamera reads frames from an HTTP MJPEG stream, the format served by
// phone IP-webcam apps at http://<ip>:8080/video. The connection is opened
// lazily on the first Read and reopened after any stream error, so the
// capture loop's retry policy drives reconnection.
type NetCamera struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	parts  *multipart.Reader
	closed bool
}

// NewNetCamera creates a NetCamera for the given stream URL.
func NewNetCamera(url string) *NetCamera {
	return &NetCamera{
		url: url,
		client: &http.Client{
			// Connect timeout only; the stream itself is unbounded.
			Transport: http.DefaultTransport,
			Timeout:   0,
		},
	}
}

// Source returns the stream URL.
func (c *NetCamera) Source() string {
	return c.url
}

func (c *NetCamera) connectLocked() error {
	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("bad stream URL: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return fmt.Errorf("stream is not multipart (Content-Type %q)", resp.Header.Get("Content-Type"))
	}
	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		return fmt.Errorf("stream multipart boundary missing")
	}

	c.body = resp.Body
	c.parts = multipart.NewReader(resp.Body, boundary)
	return nil
}

func (c *NetCamera) dropLocked() {
	if c.body != nil {
		c.body.Close()
		c.body = nil
	}
	c.parts = nil
}

// Read returns the next decoded frame from the stream. On any stream error
// the connection is dropped so the next Read reconnects.
func (c *NetCamera) Read() (Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, fmt.Errorf("camera closed")
	}
	if c.parts == nil {
		if err := c.connectLocked(); err != nil {
			c.mu.Unlock()
			return Frame{}, err
		}
	}
	parts := c.parts
	c.mu.Unlock()

	// Part read and JPEG decode happen outside the lock; only connection
	// state is guarded.
	part, err := parts.NextPart()
	if err != nil {
		c.mu.Lock()
		c.dropLocked()
		c.mu.Unlock()
		return Frame{}, fmt.Errorf("stream part read failed: %w", err)
	}
	img, err := jpeg.Decode(part)
	part.Close()
	if err != nil {
		return Frame{}, fmt.Errorf("frame decode failed: %w", err)
	}

	b := img.Bounds()
	return Frame{Image: img, Width: b.Dx(), Height: b.Dy()}, nil
}

// Close drops the stream connection.
func (c *NetCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
	return nil
}

// Probe opens the stream and tries to read one frame within the timeout.
// Used by auto-discovery to distinguish a webcam stream from an arbitrary
// open port.
func Probe(url string, timeout time.Duration) bool {
	cam := NewNetCamera(url)
	defer cam.Close()

	done := make(chan bool, 1)
	go func() {
		_, err := cam.Read()
		done <- err == nil
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	}
}
