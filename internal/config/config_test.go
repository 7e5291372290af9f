package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	if got := cfg.GetJPEGQuality(); got != DefaultJPEGQuality {
		t.Errorf("GetJPEGQuality = %d, want %d", got, DefaultJPEGQuality)
	}
	if got := cfg.GetDetectMaxFPS(); got != DefaultDetectMaxFPS {
		t.Errorf("GetDetectMaxFPS = %v, want %v", got, DefaultDetectMaxFPS)
	}
	if got := cfg.GetTouchThreshold(); got != DefaultTouchThreshold {
		t.Errorf("GetTouchThreshold = %v, want %v", got, DefaultTouchThreshold)
	}
	if got := cfg.GetControllerTTL(); got != DefaultControllerTTL {
		t.Errorf("GetControllerTTL = %v, want %v", got, DefaultControllerTTL)
	}
	if got := cfg.GetTagFamily(); got != DefaultTagFamily {
		t.Errorf("GetTagFamily = %q, want %q", got, DefaultTagFamily)
	}
	if got := cfg.GetSource(); got != "" {
		t.Errorf("GetSource = %q, want empty", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfigFile(t, `{
		"jpeg_quality": 80,
		"controller_ttl": "1200ms",
		"source": "http://192.168.1.20:8080/video"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.GetJPEGQuality(); got != 80 {
		t.Errorf("GetJPEGQuality = %d, want 80", got)
	}
	if got := cfg.GetControllerTTL(); got != 1200*time.Millisecond {
		t.Errorf("GetControllerTTL = %v, want 1.2s", got)
	}
	if got := cfg.GetSource(); got != "http://192.168.1.20:8080/video" {
		t.Errorf("GetSource = %q", got)
	}
	// Untouched fields keep defaults.
	if got := cfg.GetTagSize(); got != DefaultTagSize {
		t.Errorf("GetTagSize = %v, want %v", got, DefaultTagSize)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	if _, err := Load("server.yaml"); err == nil {
		t.Error("expected error for non-json extension")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"quality too low", `{"jpeg_quality": 0}`},
		{"quality too high", `{"jpeg_quality": 101}`},
		{"negative fps", `{"detect_max_fps": -1}`},
		{"zero threshold", `{"touch_threshold": 0}`},
		{"bad ttl", `{"controller_ttl": "soon"}`},
		{"negative ttl", `{"controller_ttl": "-1s"}`},
		{"bad port", `{"discovery_port": 70000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("Load accepted %s", tt.content)
			}
		})
	}
}
