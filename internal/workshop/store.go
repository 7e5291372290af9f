// Package workshop persists workshop session artifacts: each save appends
// one GeoJSON FeatureCollection under a workshop id, and results queries
// aggregate the stored features per map view.
package workshop

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned for queries against an unknown workshop id.
var ErrNotFound = errors.New("workshop: not found")

var workshopIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// SanitizeID trims and validates a workshop id. It returns the empty
// string when the id is unusable.
func SanitizeID(raw string) string {
	candidate := strings.TrimSpace(raw)
	if !workshopIDPattern.MatchString(candidate) {
		return ""
	}
	return candidate
}

// SessionRef identifies one stored session artifact.
type SessionRef struct {
	WorkshopID   string `json:"workshopId"`
	SessionIndex int    `json:"sessionIndex"`
	SessionFile  string `json:"sessionFile"`
}

// Info summarizes one workshop for listing.
type Info struct {
	WorkshopID         string `json:"workshopId"`
	Directory          string `json:"directory"`
	SessionCount       int    `json:"sessionCount"`
	LatestSessionIndex int    `json:"latestSessionIndex"`
}

// SessionInfo summarizes one stored session inside a results payload.
type SessionInfo struct {
	SessionIndex int    `json:"sessionIndex"`
	SessionFile  string `json:"sessionFile"`
	FeatureCount int    `json:"featureCount"`
}

// MapView groups the features of one map view across all sessions of a
// workshop. MapViewID is nil for features that never named a view.
type MapView struct {
	MapViewID    *string                  `json:"mapViewId"`
	MapViewName  string                   `json:"mapViewName"`
	Features     []map[string]interface{} `json:"features"`
	SessionCount int                      `json:"sessionCount"`
}

// Results is the aggregated view of one workshop.
type Results struct {
	WorkshopID string        `json:"workshopId"`
	Directory  string        `json:"directory"`
	Sessions   []SessionInfo `json:"sessions"`
	MapViews   []MapView     `json:"mapViews"`
}

// Store persists workshop sessions. The id passed to every method must
// already be sanitized.
type Store interface {
	// SaveSession appends a session artifact. setupDefinition may be nil;
	// it is recorded only when the workshop is first created.
	SaveSession(workshopID string, geojson map[string]interface{}, setupDefinition map[string]interface{}) (SessionRef, error)

	// ListWorkshops returns all workshops sorted by id.
	ListWorkshops() ([]Info, error)

	// Results aggregates all sessions of one workshop, or ErrNotFound.
	Results(workshopID string) (*Results, error)

	Close() error
}
