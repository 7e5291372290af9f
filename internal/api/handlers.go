package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/inkworks/pentrack/internal/camera"
	"github.com/inkworks/pentrack/internal/controller"
	"github.com/inkworks/pentrack/internal/geom"
	"github.com/inkworks/pentrack/internal/httputil"
	"github.com/inkworks/pentrack/internal/surface"
	"github.com/inkworks/pentrack/internal/version"
	"github.com/inkworks/pentrack/internal/workshop"
)

// maxBodyBytes caps request bodies; session geojson payloads are the
// largest expected input.
const maxBodyBytes = 8 << 20

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		httputil.BadRequest(w, "invalid_json")
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not_found")
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pentrack vision server "+version.String()+"\n")
}

func (s *Server) handleAprilTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	payload, _, _ := s.buildPayload()
	httputil.WriteJSON(w, http.StatusOK, payload)
}

// planePayload is the wire shape of a calibrated plane.
func planePayload(p surface.Plane) map[string]interface{} {
	return map[string]interface{}{
		"normal":    []float64{p.Normal.X, p.Normal.Y, p.Normal.Z},
		"d":         p.D,
		"numPoints": p.NumPoints,
	}
}

func (s *Server) handleSurfacePlane(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		plane, ok := s.surf.Plane()
		if !ok {
			httputil.WriteOK(w, map[string]interface{}{"calibrated": false})
			return
		}
		httputil.WriteOK(w, map[string]interface{}{
			"calibrated": true,
			"plane":      planePayload(plane),
		})
	case http.MethodPost:
		s.calibrateSurfacePlane(w, r)
	case http.MethodDelete:
		s.surf.Clear()
		httputil.WriteOK(w, nil)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) calibrateSurfacePlane(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if !decodeJSONBody(w, r, &body) {
		return
	}

	var rawPoints []json.RawMessage
	if raw, ok := body["points"]; !ok || json.Unmarshal(raw, &rawPoints) != nil || len(rawPoints) < 3 {
		httputil.BadRequest(w, "need_at_least_3_points")
		return
	}

	points := make([]geom.Vec3, 0, len(rawPoints))
	for _, raw := range rawPoints {
		var pt struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
			Z *float64 `json:"z"`
		}
		if json.Unmarshal(raw, &pt) != nil || pt.X == nil || pt.Y == nil || pt.Z == nil {
			httputil.BadRequest(w, "invalid_point_format")
			return
		}
		points = append(points, geom.Vec3{X: *pt.X, Y: *pt.Y, Z: *pt.Z})
	}

	plane, err := s.surf.Calibrate(points)
	if err != nil {
		if errors.Is(err, surface.ErrInvalidInput) {
			httputil.BadRequest(w, "invalid_point_format")
		} else {
			httputil.InternalServerError(w, "plane_fit_failed")
		}
		return
	}
	httputil.WriteOK(w, map[string]interface{}{"plane": planePayload(plane)})
}

func (s *Server) handleTouchThreshold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var body struct {
		Threshold *float64 `json:"threshold"`
	}
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.Threshold == nil || s.surf.SetThreshold(*body.Threshold) != nil {
		httputil.BadRequest(w, "invalid_threshold")
		return
	}
	httputil.WriteOK(w, map[string]interface{}{"threshold": s.surf.Threshold()})
}

func (s *Server) handleControllerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var hb controller.Heartbeat
	if !decodeJSONBody(w, r, &hb) {
		return
	}

	now := s.clock.Now()
	if _, err := s.agg.Upsert(hb, now); err != nil {
		var verr *controller.ValidationError
		if errors.As(err, &verr) {
			httputil.BadRequest(w, verr.Code)
		} else {
			httputil.InternalServerError(w, "heartbeat_failed")
		}
		return
	}
	httputil.WriteOK(w, map[string]interface{}{"controller": s.agg.Snapshot(now)})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	port := 0
	if _, portText, err := net.SplitHostPort(r.Host); err == nil {
		fmt.Sscanf(portText, "%d", &port)
	}
	if port == 0 {
		if scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}

	candidates := camera.LocalIPv4s()
	baseURLs := make([]string, 0, len(candidates))
	for _, ip := range candidates {
		baseURLs = append(baseURLs, fmt.Sprintf("%s://%s:%d", scheme, ip, port))
	}

	suggestedBase := fmt.Sprintf("%s://%s", scheme, r.Host)
	if len(baseURLs) > 0 {
		suggestedBase = baseURLs[0]
	}

	httputil.WriteOK(w, map[string]interface{}{
		"scheme":                 scheme,
		"port":                   port,
		"ipv4Candidates":         candidates,
		"baseUrls":               baseURLs,
		"suggestedBaseUrl":       suggestedBase,
		"suggestedControllerUrl": suggestedBase + "/?mode=controller",
		"version":                version.String(),
	})
}

func (s *Server) workshopStoreReady(w http.ResponseWriter) bool {
	if s.store == nil {
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, "workshop_store_unavailable")
		return false
	}
	return true
}

func (s *Server) handleWorkshopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.workshopStoreReady(w) {
		return
	}

	var body struct {
		WorkshopID      string                 `json:"workshopId"`
		Geojson         map[string]interface{} `json:"geojson"`
		SetupDefinition json.RawMessage        `json:"setupDefinition"`
	}
	if !decodeJSONBody(w, r, &body) {
		return
	}

	workshopID := workshop.SanitizeID(body.WorkshopID)
	if workshopID == "" {
		httputil.BadRequest(w, "invalid_workshop_id")
		return
	}
	if body.Geojson == nil {
		httputil.BadRequest(w, "invalid_geojson")
		return
	}

	// A malformed setup definition is dropped rather than rejected; it
	// only annotates the workshop record.
	var setup map[string]interface{}
	if len(body.SetupDefinition) > 0 {
		_ = json.Unmarshal(body.SetupDefinition, &setup)
	}

	ref, err := s.store.SaveSession(workshopID, body.Geojson, setup)
	if err != nil {
		httputil.InternalServerError(w, "workshop_write_failed")
		return
	}
	httputil.WriteOK(w, map[string]interface{}{
		"workshopId":   ref.WorkshopID,
		"sessionIndex": ref.SessionIndex,
		"sessionFile":  fmt.Sprintf("workshops/%s/%s", ref.WorkshopID, ref.SessionFile),
	})
}

func (s *Server) handleWorkshops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.workshopStoreReady(w) {
		return
	}
	workshops, err := s.store.ListWorkshops()
	if err != nil {
		httputil.InternalServerError(w, "workshop_read_failed")
		return
	}
	httputil.WriteOK(w, map[string]interface{}{"workshops": workshops})
}

func (s *Server) handleWorkshopResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.workshopStoreReady(w) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/workshops/")
	rawID, ok := strings.CutSuffix(rest, "/results")
	if !ok || strings.Contains(rawID, "/") {
		httputil.NotFound(w, "not_found")
		return
	}
	workshopID := workshop.SanitizeID(rawID)
	if workshopID == "" {
		httputil.BadRequest(w, "invalid_workshop_id")
		return
	}

	results, err := s.store.Results(workshopID)
	if errors.Is(err, workshop.ErrNotFound) {
		httputil.NotFound(w, "workshop_not_found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "workshop_read_failed")
		return
	}
	httputil.WriteOK(w, map[string]interface{}{
		"workshopId": results.WorkshopID,
		"directory":  results.Directory,
		"sessions":   results.Sessions,
		"mapViews":   results.MapViews,
	})
}
