// Package engine runs the marker-detection loop: it polls the frame
// source for new frames, invokes the detector, derives pen tip pose and
// touch classification, and publishes the latest DetectionSet.
package engine

import (
	"context"
	"image"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/inkworks/pentrack/internal/calib"
	"github.com/inkworks/pentrack/internal/framesource"
	"github.com/inkworks/pentrack/internal/geom"
	"github.com/inkworks/pentrack/internal/monitoring"
	"github.com/inkworks/pentrack/internal/surface"
	"github.com/inkworks/pentrack/internal/tagdetect"
	"github.com/inkworks/pentrack/internal/timeutil"
)

// ErrCodeDetectorUnavailable is reported once when no detector could be
// constructed; the server keeps streaming frames without detections.
const ErrCodeDetectorUnavailable = "detector_not_available"

// TipOffset is the pen tip position in tag-local coordinates (meters),
// from the rigid tip calibration fit (rms 6.19mm).
var TipOffset = geom.Vec3{X: -0.1463, Y: 0.0021, Z: 0.0043}

// projectionEpsilon is the minimum projected depth for a valid pixel
// projection.
const projectionEpsilon = 1e-6

const (
	noFrameDelay    = 10 * time.Millisecond
	staleFrameDelay = 5 * time.Millisecond
)

// Pose3 is a 3D position in camera coordinates.
type Pose3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TagObservation is one detected marker with derived pen state, in the
// wire shape served to clients.
type TagObservation struct {
	ID              int           `json:"id"`
	Center          geom.Point2   `json:"center"`
	Corners         []geom.Point2 `json:"corners"`
	DecisionMargin  float64       `json:"decision_margin"`
	Pose            *Pose3        `json:"pose,omitempty"`
	TipPose         *Pose3        `json:"tipPose,omitempty"`
	Tip             *geom.Point2  `json:"tip,omitempty"`
	SurfaceDistance *float64      `json:"surfaceDistance,omitempty"`
	IsTouch         *bool         `json:"isTouch,omitempty"`
}

// DetectionSet is the result of one detection pass. Err is set instead of
// fresh observations when the pass failed; the previous observations are
// retained so viewers keep the last good state.
type DetectionSet struct {
	Observations []TagObservation
	Seq          uint64
	UpdatedAt    time.Time
	Err          string
}

// Engine owns the detector and publishes the latest DetectionSet.
type Engine struct {
	frames   *framesource.Source
	detector tagdetect.Detector
	params   *calib.Params
	surf     *surface.Calibrator
	tagSize  float64
	maxFPS   float64
	clock    timeutil.Clock

	mu  sync.Mutex // guards set
	set DetectionSet
}

// New creates an Engine. detector may be nil, in which case the engine
// enters a permanent disabled state when run. params may be nil to
// disable pose estimation.
func New(frames *framesource.Source, detector tagdetect.Detector, params *calib.Params, surf *surface.Calibrator, tagSize, maxFPS float64) *Engine {
	if maxFPS < 1 {
		maxFPS = 1
	}
	return &Engine{
		frames:   frames,
		detector: detector,
		params:   params,
		surf:     surf,
		tagSize:  tagSize,
		maxFPS:   maxFPS,
		clock:    timeutil.RealClock{},
	}
}

// SetClock replaces the engine clock. Call before Run; tests only.
func (e *Engine) SetClock(c timeutil.Clock) {
	e.clock = c
}

// Latest returns the most recent DetectionSet.
func (e *Engine) Latest() DetectionSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Run polls for new frames and detects markers until ctx is cancelled.
// The loop never terminates on a detection error; errors are recorded in
// the published set. Without a detector it records the degraded state
// once and returns immediately instead of busy-spinning.
func (e *Engine) Run(ctx context.Context) {
	if e.detector == nil {
		e.recordError(ErrCodeDetectorUnavailable)
		monitoring.Logf("detection disabled: no detector available")
		return
	}

	interval := time.Duration(float64(time.Second) / e.maxFPS)
	poseEnabled := e.params != nil
	poseWarned := false
	var lastSeq uint64

	for ctx.Err() == nil {
		frame, ok := e.frames.Latest()
		if !ok {
			e.clock.Sleep(noFrameDelay)
			continue
		}
		if frame.Seq == lastSeq {
			e.clock.Sleep(staleFrameDelay)
			continue
		}
		lastSeq = frame.Seq

		start := e.clock.Now()
		gray := toGray(frame.Image)

		opts := tagdetect.Options{
			EstimatePose: poseEnabled,
			Params:       e.params,
			TagSize:      e.tagSize,
		}
		detections, err := e.detector.Detect(gray, opts)
		if err != nil && opts.EstimatePose && tagdetect.IsPoseAmbiguity(err) {
			// The solver hit its ambiguous-minima failure. Downgrade
			// this run to 2D-only detection for good; not an error.
			poseEnabled = false
			if !poseWarned {
				monitoring.Logf("pose estimation disabled after ambiguous minima; continuing with 2D detection only")
				poseWarned = true
			}
			opts.EstimatePose = false
			detections, err = e.detector.Detect(gray, opts)
		}

		if err != nil {
			e.recordError(err.Error())
		} else {
			e.publish(detections)
		}

		if elapsed := e.clock.Since(start); elapsed < interval {
			e.clock.Sleep(interval - elapsed)
		}
	}
}

// recordError sets the current error. The sequence advances only when the
// message changed, so identical failures do not flood subscribers.
func (e *Engine) recordError(msg string) {
	e.mu.Lock()
	if e.set.Err != msg {
		e.set.Seq++
	}
	e.set.Err = msg
	e.mu.Unlock()
}

func (e *Engine) publish(detections []tagdetect.Detection) {
	observations := make([]TagObservation, 0, len(detections))
	for _, d := range detections {
		observations = append(observations, e.observe(d))
	}

	e.mu.Lock()
	e.set.Observations = observations
	e.set.Seq++
	e.set.UpdatedAt = e.clock.Now()
	e.set.Err = ""
	e.mu.Unlock()
}

// observe derives the per-marker pen state: tip position from the rigid
// tag-to-tip offset, pixel projection through the pinhole model, and
// touch distance against the calibrated plane.
func (e *Engine) observe(d tagdetect.Detection) TagObservation {
	obs := TagObservation{
		ID:             d.ID,
		Center:         d.Center,
		Corners:        append([]geom.Point2(nil), d.Corners[:]...),
		DecisionMargin: d.DecisionMargin,
	}

	if d.PoseT == nil || !d.PoseT.IsFinite() {
		return obs
	}
	poseT := *d.PoseT
	obs.Pose = &Pose3{X: poseT.X, Y: poseT.Y, Z: poseT.Z}

	var tip *geom.Vec3
	if d.PoseR != nil && d.PoseR.IsFinite() {
		t := d.PoseR.MulVec(TipOffset).Add(poseT)
		if t.IsFinite() {
			tip = &t
		}
	}

	if tip != nil {
		obs.TipPose = &Pose3{X: tip.X, Y: tip.Y, Z: tip.Z}
		if e.params != nil && tip.Z > projectionEpsilon {
			px := e.params.Fx*tip.X/tip.Z + e.params.Cx
			py := e.params.Fy*tip.Y/tip.Z + e.params.Cy
			if !math.IsNaN(px) && !math.IsInf(px, 0) && !math.IsNaN(py) && !math.IsInf(py, 0) {
				obs.Tip = &geom.Point2{X: px, Y: py}
			}
		}
	}

	// Tip preferred; tag-center pose as fallback.
	touchPoint := poseT
	if tip != nil {
		touchPoint = *tip
	}
	if distance, touch, ok := e.surf.Classify(touchPoint); ok {
		rounded := math.Round(distance*10000) / 10000
		obs.SurfaceDistance = &rounded
		obs.IsTouch = &touch
	}

	return obs
}

// toGray converts a frame to single-channel intensity for the detector.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
