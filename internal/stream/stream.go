// Package stream serves the two live feeds: the MJPEG frame stream and
// the SSE state stream. Both are pull-based over the latest-value slots,
// so a slow client drops frames instead of backing up the pipeline.
package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inkworks/pentrack/internal/framesource"
	"github.com/inkworks/pentrack/internal/monitoring"
	"github.com/inkworks/pentrack/internal/timeutil"
)

const (
	// frameIdleDelay paces the MJPEG loop while no new frame is ready.
	frameIdleDelay = 10 * time.Millisecond

	// ssePollInterval paces the SSE state poll.
	ssePollInterval = 10 * time.Millisecond

	// sseKeepaliveInterval is the max quiet period before a comment frame
	// keeps proxies from dropping the connection.
	sseKeepaliveInterval = 15 * time.Second
)

// PayloadFunc builds the combined state payload for one SSE poll. It
// returns the compact JSON body plus the detection and controller
// sequence numbers it was built from; the handler emits a data event only
// when that pair changes.
type PayloadFunc func() (data []byte, detectionSeq, controllerSeq uint64, err error)

// MJPEG returns a handler streaming frames as multipart/x-mixed-replace.
// The handler registers as a frame subscriber for its lifetime so JPEG
// encoding runs only while someone is actually watching. shutdown ends
// all streams when the server stops.
func MJPEG(shutdown context.Context, frames *framesource.Source, clock timeutil.Clock) http.HandlerFunc {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		connID := uuid.NewString()
		frames.AddSubscriber()
		defer frames.RemoveSubscriber()
		monitoring.Logf("video stream %s opened by %s", connID, r.RemoteAddr)
		defer monitoring.Logf("video stream %s closed", connID)

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		var lastSeq uint64
		for {
			select {
			case <-shutdown.Done():
				return
			case <-r.Context().Done():
				return
			default:
			}

			jpegBytes, seq := frames.LatestJPEG()
			if len(jpegBytes) == 0 || seq == lastSeq {
				clock.Sleep(frameIdleDelay)
				continue
			}
			lastSeq = seq

			if _, err := io.WriteString(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
				return
			}
			if _, err := w.Write(jpegBytes); err != nil {
				return
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// SSE returns a handler streaming the combined detection+controller state
// as server-sent events. The first write sets the client retry interval;
// after that, a data event goes out whenever either sequence moves, and a
// comment keepalive covers long quiet stretches.
func SSE(shutdown context.Context, payload PayloadFunc, clock timeutil.Clock) http.HandlerFunc {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		connID := uuid.NewString()
		monitoring.Logf("state stream %s opened by %s", connID, r.RemoteAddr)
		defer monitoring.Logf("state stream %s closed", connID)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		if _, err := io.WriteString(w, "retry: 1000\n\n"); err != nil {
			return
		}
		flusher.Flush()

		var lastDetection, lastController uint64
		sentAny := false
		lastWrite := clock.Now()

		for {
			select {
			case <-shutdown.Done():
				return
			case <-r.Context().Done():
				return
			default:
			}

			data, detectionSeq, controllerSeq, err := payload()
			if err != nil {
				monitoring.Logf("state stream %s payload error: %v", connID, err)
				return
			}

			if !sentAny || detectionSeq != lastDetection || controllerSeq != lastController {
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
				sentAny = true
				lastDetection = detectionSeq
				lastController = controllerSeq
				lastWrite = clock.Now()
			} else if clock.Since(lastWrite) >= sseKeepaliveInterval {
				if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
				lastWrite = clock.Now()
			}

			clock.Sleep(ssePollInterval)
		}
	}
}
