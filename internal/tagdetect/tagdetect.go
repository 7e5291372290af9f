// Package tagdetect defines the fiducial-marker detector boundary. The
// server consumes any Detector implementation; this package carries the
// wire types, the pose-ambiguity error adapter and a scripted detector
// for tests.
package tagdetect

import (
	"errors"
	"image"

	"github.com/inkworks/pentrack/internal/calib"
	"github.com/inkworks/pentrack/internal/geom"
)

// Detection is one decoded marker in a frame. PoseT/PoseR are set only
// when the detector ran with pose estimation and the solve converged to
// finite values.
type Detection struct {
	ID             int
	Corners        [4]geom.Point2
	Center         geom.Point2
	DecisionMargin float64
	PoseT          *geom.Vec3
	PoseR          *geom.Mat3
}

// Options configures a single detection pass.
type Options struct {
	// EstimatePose requests a 6DoF pose solve per marker. Requires
	// Params.
	EstimatePose bool

	// Params are the camera intrinsics used by the pose solver.
	Params *calib.Params

	// TagSize is the physical marker edge length in meters.
	TagSize float64
}

// Detector detects markers in a grayscale frame. Implementations must be
// safe for use by the single detection goroutine; they need not be safe
// for concurrent calls.
type Detector interface {
	Detect(gray *image.Gray, opts Options) ([]Detection, error)
	Close() error
}

// Config holds detector construction options, mirroring the upstream
// detector's knobs.
type Config struct {
	Family       string
	Threads      int
	QuadDecimate float64
	QuadSigma    float64
	RefineEdges  bool
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Family:       "tag36h11",
		Threads:      1,
		QuadDecimate: 1.0,
		QuadSigma:    0.0,
		RefineEdges:  true,
	}
}

// ErrUnavailable is returned by New when no detector backend is linked
// into the build. The server then runs in frame-streaming-only mode.
var ErrUnavailable = errors.New("tagdetect: no detector backend available")

// backend is installed at init time by an optional native binding.
var backend func(Config) (Detector, error)

// Register installs the detector backend used by New. The last
// registration wins.
func Register(fn func(Config) (Detector, error)) {
	backend = fn
}

// New constructs the detector for cfg via the registered backend.
func New(cfg Config) (Detector, error) {
	if backend == nil {
		return nil, ErrUnavailable
	}
	return backend(cfg)
}
