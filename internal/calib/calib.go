// Package calib loads pinhole camera intrinsics produced by the external
// ChArUco calibration tool. Intrinsics are optional: without them the
// detection engine runs in 2D-only mode.
package calib

import (
	"encoding/json"
	"fmt"
	"os"
)

// Params holds the pinhole model intrinsics used for pose estimation and
// tip projection.
type Params struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

type calibrationFile struct {
	CameraMatrix [][]float64 `json:"camera_matrix"`
}

// Load reads a calibration file and extracts fx, fy, cx, cy from the 3x3
// camera matrix.
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var file calibrationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}

	m := file.CameraMatrix
	if len(m) != 3 || len(m[0]) != 3 || len(m[1]) != 3 || len(m[2]) != 3 {
		return nil, fmt.Errorf("camera_matrix must be 3x3, got %dx? rows", len(m))
	}

	p := &Params{
		Fx: m[0][0],
		Fy: m[1][1],
		Cx: m[0][2],
		Cy: m[1][2],
	}
	if p.Fx <= 0 || p.Fy <= 0 {
		return nil, fmt.Errorf("focal lengths must be positive, got fx=%v fy=%v", p.Fx, p.Fy)
	}
	return p, nil
}
