package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultJPEGQuality     = 100
	DefaultDetectMaxFPS    = 45.0
	DefaultTagSize         = 0.04 // meters
	DefaultTagFamily       = "tag36h11"
	DefaultTouchThreshold  = 0.018 // meters
	DefaultControllerTTL   = 800 * time.Millisecond
	DefaultCalibrationPath = "camera_calibration.json"
	DefaultWorkshopDBPath  = "workshops.db"
	DefaultDiscoveryPort   = 8080
	DefaultDiscoveryPath   = "/video"
)

// ServerConfig is the root tuning file for the tracking server. All fields
// are pointers so a partial JSON file only overrides what it names; the
// Get* methods supply defaults for the rest. The same schema is accepted on
// startup via -config.
type ServerConfig struct {
	// Capture
	Source      *string `json:"source,omitempty"`       // camera index or stream URL
	JPEGQuality *int    `json:"jpeg_quality,omitempty"` // 1-100

	// Detection
	DetectMaxFPS *float64 `json:"detect_max_fps,omitempty"`
	TagSize      *float64 `json:"tag_size,omitempty"` // meters
	TagFamily    *string  `json:"tag_family,omitempty"`

	// Touch classification
	TouchThreshold *float64 `json:"touch_threshold,omitempty"` // meters

	// Controller reconciliation
	ControllerTTL *string `json:"controller_ttl,omitempty"` // duration string like "800ms"

	// Collaborator paths
	CalibrationPath *string `json:"calibration_path,omitempty"`
	WorkshopDBPath  *string `json:"workshop_db_path,omitempty"`

	// Camera auto-discovery (used when source is empty)
	DiscoveryPort *int    `json:"discovery_port,omitempty"`
	DiscoveryPath *string `json:"discovery_path,omitempty"`
}

// Empty returns a ServerConfig with all fields unset.
func Empty() *ServerConfig {
	return &ServerConfig{}
}

// Load reads a ServerConfig from a JSON file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func Load(path string) (*ServerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks all set fields for sane values.
func (c *ServerConfig) Validate() error {
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be in [1, 100], got %d", *c.JPEGQuality)
	}
	if c.DetectMaxFPS != nil && *c.DetectMaxFPS <= 0 {
		return fmt.Errorf("detect_max_fps must be positive, got %v", *c.DetectMaxFPS)
	}
	if c.TagSize != nil && *c.TagSize <= 0 {
		return fmt.Errorf("tag_size must be positive, got %v", *c.TagSize)
	}
	if c.TouchThreshold != nil && *c.TouchThreshold <= 0 {
		return fmt.Errorf("touch_threshold must be positive, got %v", *c.TouchThreshold)
	}
	if c.ControllerTTL != nil {
		d, err := time.ParseDuration(*c.ControllerTTL)
		if err != nil {
			return fmt.Errorf("controller_ttl is not a valid duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("controller_ttl must be positive, got %v", d)
		}
	}
	if c.DiscoveryPort != nil && (*c.DiscoveryPort < 1 || *c.DiscoveryPort > 65535) {
		return fmt.Errorf("discovery_port must be a valid TCP port, got %d", *c.DiscoveryPort)
	}
	return nil
}

// GetSource returns the configured camera source, or "" when unset.
func (c *ServerConfig) GetSource() string {
	if c.Source != nil {
		return *c.Source
	}
	return ""
}

// GetJPEGQuality returns the MJPEG encode quality.
func (c *ServerConfig) GetJPEGQuality() int {
	if c.JPEGQuality != nil {
		return *c.JPEGQuality
	}
	return DefaultJPEGQuality
}

// GetDetectMaxFPS returns the detection rate cap.
func (c *ServerConfig) GetDetectMaxFPS() float64 {
	if c.DetectMaxFPS != nil {
		return *c.DetectMaxFPS
	}
	return DefaultDetectMaxFPS
}

// GetTagSize returns the physical tag edge length in meters.
func (c *ServerConfig) GetTagSize() float64 {
	if c.TagSize != nil {
		return *c.TagSize
	}
	return DefaultTagSize
}

// GetTagFamily returns the fiducial family name.
func (c *ServerConfig) GetTagFamily() string {
	if c.TagFamily != nil {
		return *c.TagFamily
	}
	return DefaultTagFamily
}

// GetTouchThreshold returns the touch distance threshold in meters.
func (c *ServerConfig) GetTouchThreshold() float64 {
	if c.TouchThreshold != nil {
		return *c.TouchThreshold
	}
	return DefaultTouchThreshold
}

// GetControllerTTL returns the heartbeat TTL. Validate has already checked
// the duration string, so a parse failure here falls back to the default.
func (c *ServerConfig) GetControllerTTL() time.Duration {
	if c.ControllerTTL != nil {
		if d, err := time.ParseDuration(*c.ControllerTTL); err == nil {
			return d
		}
	}
	return DefaultControllerTTL
}

// GetCalibrationPath returns the camera intrinsics file path.
func (c *ServerConfig) GetCalibrationPath() string {
	if c.CalibrationPath != nil {
		return *c.CalibrationPath
	}
	return DefaultCalibrationPath
}

// GetWorkshopDBPath returns the workshop store sqlite path.
func (c *ServerConfig) GetWorkshopDBPath() string {
	if c.WorkshopDBPath != nil {
		return *c.WorkshopDBPath
	}
	return DefaultWorkshopDBPath
}

// GetDiscoveryPort returns the TCP port probed during camera auto-discovery.
func (c *ServerConfig) GetDiscoveryPort() int {
	if c.DiscoveryPort != nil {
		return *c.DiscoveryPort
	}
	return DefaultDiscoveryPort
}

// GetDiscoveryPath returns the stream path probed during auto-discovery.
func (c *ServerConfig) GetDiscoveryPath() string {
	if c.DiscoveryPath != nil {
		return *c.DiscoveryPath
	}
	return DefaultDiscoveryPath
}
