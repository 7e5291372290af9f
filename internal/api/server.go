// Package api exposes the HTTP surface: the combined detection payload,
// the live MJPEG/SSE feeds, surface calibration, controller heartbeats,
// and workshop artifacts.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/inkworks/pentrack/internal/controller"
	"github.com/inkworks/pentrack/internal/engine"
	"github.com/inkworks/pentrack/internal/framesource"
	"github.com/inkworks/pentrack/internal/httputil"
	"github.com/inkworks/pentrack/internal/monitoring"
	"github.com/inkworks/pentrack/internal/stream"
	"github.com/inkworks/pentrack/internal/surface"
	"github.com/inkworks/pentrack/internal/timeutil"
	"github.com/inkworks/pentrack/internal/workshop"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	shutdown context.Context
	frames   *framesource.Source
	engine   *engine.Engine
	surf     *surface.Calibrator
	agg      *controller.Aggregator
	store    workshop.Store // nil disables the workshop endpoints
	source   string
	clock    timeutil.Clock
}

// NewServer wires the HTTP surface over the shared collaborators.
// shutdown ends the long-lived stream handlers when the process stops.
func NewServer(shutdown context.Context, frames *framesource.Source, eng *engine.Engine, surf *surface.Calibrator, agg *controller.Aggregator, store workshop.Store, source string) *Server {
	return &Server{
		shutdown: shutdown,
		frames:   frames,
		engine:   eng,
		surf:     surf,
		agg:      agg,
		store:    store,
		source:   source,
		clock:    timeutil.RealClock{},
	}
}

// SetClock replaces the server clock; tests only.
func (s *Server) SetClock(c timeutil.Clock) {
	s.clock = c
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// RecoverMiddleware converts handler panics into 500 responses so one bad
// request cannot take the capture pipeline down with it.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				monitoring.Logf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				httputil.InternalServerError(w, "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/api/apriltags", s.handleAprilTags)
	mux.Handle("/api/apriltags/stream", stream.SSE(s.shutdown, s.ssePayload, s.clock))
	mux.Handle("/video_feed", stream.MJPEG(s.shutdown, s.frames, s.clock))
	mux.HandleFunc("/api/surface_plane", s.handleSurfacePlane)
	mux.HandleFunc("/api/touch_threshold", s.handleTouchThreshold)
	mux.HandleFunc("/api/controller/heartbeat", s.handleControllerHeartbeat)
	mux.HandleFunc("/api/server_info", s.handleServerInfo)
	mux.HandleFunc("/api/workshop_session", s.handleWorkshopSession)
	mux.HandleFunc("/api/workshops", s.handleWorkshops)
	mux.HandleFunc("/api/workshops/", s.handleWorkshopResults)
	return mux
}

// epochSeconds renders t as fractional Unix seconds, 0 for the zero time.
func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// buildPayload assembles the combined detection + frame + controller
// state served by /api/apriltags and the SSE feed, and returns the two
// sequence numbers it was built from.
func (s *Server) buildPayload() (map[string]interface{}, uint64, uint64) {
	set := s.engine.Latest()
	frame, _ := s.frames.Latest()
	ctrl := s.agg.Snapshot(s.clock.Now())

	detections := set.Observations
	if detections == nil {
		detections = []engine.TagObservation{}
	}
	var errField interface{}
	if set.Err != "" {
		errField = set.Err
	}

	payload := map[string]interface{}{
		"ok":         set.Err == "",
		"error":      errField,
		"detections": detections,
		"seq":        set.Seq,
		"frame": map[string]interface{}{
			"width":     frame.Width,
			"height":    frame.Height,
			"seq":       frame.Seq,
			"updatedAt": epochSeconds(frame.UpdatedAt),
		},
		"updatedAt":     epochSeconds(set.UpdatedAt),
		"source":        s.source,
		"streamClients": s.frames.Subscribers(),
		"controller":    ctrl,
	}
	return payload, set.Seq, ctrl.Seq
}

func (s *Server) ssePayload() ([]byte, uint64, uint64, error) {
	payload, detectionSeq, controllerSeq := s.buildPayload()
	data, err := json.Marshal(payload)
	return data, detectionSeq, controllerSeq, err
}
