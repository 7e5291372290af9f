// Package surface fits and holds the calibrated surface plane used for
// pen touch classification.
package surface

import (
	"errors"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/inkworks/pentrack/internal/geom"
)

// ErrInvalidInput reports malformed or insufficient calibration points.
var ErrInvalidInput = errors.New("surface: need at least 3 finite points")

// ErrInvalidThreshold reports a non-positive touch threshold.
var ErrInvalidThreshold = errors.New("surface: touch threshold must be positive")

// Plane is the fitted surface {p : Normal·p + D = 0}. Normal has unit
// length.
type Plane struct {
	Normal       geom.Vec3
	D            float64
	NumPoints    int
	CalibratedAt time.Time
}

// Calibrator holds the current plane and touch threshold behind its own
// lock, so calibration calls never contend with capture or detection.
type Calibrator struct {
	mu        sync.Mutex
	plane     *Plane
	threshold float64
}

// NewCalibrator creates a Calibrator with the given touch threshold in
// meters.
func NewCalibrator(threshold float64) *Calibrator {
	return &Calibrator{threshold: threshold}
}

// Fit computes the least-squares best-fit plane through the points: center
// them, take the right singular vector of the smallest singular value of
// the centered matrix as the normal.
func Fit(points []geom.Vec3) (Plane, error) {
	if len(points) < 3 {
		return Plane{}, ErrInvalidInput
	}
	for _, p := range points {
		if !p.IsFinite() {
			return Plane{}, ErrInvalidInput
		}
	}

	var centroid geom.Vec3
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Scale(1 / float64(len(points)))

	centered := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		c := p.Sub(centroid)
		centered.SetRow(i, []float64{c.X, c.Y, c.Z})
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThinV) {
		return Plane{}, ErrInvalidInput
	}
	var v mat.Dense
	svd.VTo(&v)

	// Singular values come out in decreasing order; the last column of V
	// spans the direction of least variance.
	last := v.RawMatrix().Cols - 1
	normal := geom.Vec3{X: v.At(0, last), Y: v.At(1, last), Z: v.At(2, last)}
	norm := normal.Norm()
	if norm == 0 || math.IsNaN(norm) {
		return Plane{}, ErrInvalidInput
	}
	normal = normal.Scale(1 / norm)

	return Plane{
		Normal:       normal,
		D:            -normal.Dot(centroid),
		NumPoints:    len(points),
		CalibratedAt: time.Now(),
	}, nil
}

// Calibrate fits a plane through the points and stores it.
func (c *Calibrator) Calibrate(points []geom.Vec3) (Plane, error) {
	plane, err := Fit(points)
	if err != nil {
		return Plane{}, err
	}
	c.mu.Lock()
	c.plane = &plane
	c.mu.Unlock()
	return plane, nil
}

// Clear removes the calibration; touch testing is disabled until the next
// Calibrate.
func (c *Calibrator) Clear() {
	c.mu.Lock()
	c.plane = nil
	c.mu.Unlock()
}

// Plane returns the current plane, or ok=false when not calibrated.
func (c *Calibrator) Plane() (Plane, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plane == nil {
		return Plane{}, false
	}
	return *c.plane, true
}

// Threshold returns the current touch distance threshold in meters.
func (c *Calibrator) Threshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// SetThreshold updates the touch distance threshold. Must be positive.
func (c *Calibrator) SetThreshold(threshold float64) error {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return ErrInvalidThreshold
	}
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
	return nil
}

// Classify returns the absolute distance from p to the calibrated plane
// and whether it is within the touch threshold. ok=false when no plane is
// calibrated.
func (c *Calibrator) Classify(p geom.Vec3) (distance float64, touch bool, ok bool) {
	c.mu.Lock()
	plane := c.plane
	threshold := c.threshold
	c.mu.Unlock()

	if plane == nil {
		return 0, false, false
	}
	distance = math.Abs(plane.Normal.Dot(p) + plane.D)
	return distance, distance <= threshold, true
}
