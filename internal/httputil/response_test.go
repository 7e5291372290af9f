package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return body
}

func TestWriteOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteOK(rec, map[string]interface{}{"threshold": 0.018})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if body["threshold"] != 0.018 {
		t.Errorf("threshold = %v", body["threshold"])
	}
}

func TestWriteErrorCode(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "invalid_json") }, 400, "invalid_json"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "workshop_not_found") }, 404, "workshop_not_found"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "storage_failed") }, 500, "storage_failed"},
		{"method", MethodNotAllowed, 405, "method_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			body := decodeBody(t, rec)
			if body["ok"] != false {
				t.Errorf("ok = %v, want false", body["ok"])
			}
			if body["error"] != tt.code {
				t.Errorf("error = %v, want %q", body["error"], tt.code)
			}
		})
	}
}
