// Package httputil provides the JSON response helpers shared by the API
// handlers. Every payload carries an "ok" flag; failures carry a
// machine-readable "error" code instead of free-form text.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteOK writes a 200 response merging {"ok": true} into the given fields.
func WriteOK(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	WriteJSON(w, http.StatusOK, body)
}

// WriteErrorCode writes {"ok": false, "error": code} with the given status.
func WriteErrorCode(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, map[string]interface{}{"ok": false, "error": code})
}

// BadRequest writes a 400 response with the given error code.
func BadRequest(w http.ResponseWriter, code string) {
	WriteErrorCode(w, http.StatusBadRequest, code)
}

// NotFound writes a 404 response with the given error code.
func NotFound(w http.ResponseWriter, code string) {
	WriteErrorCode(w, http.StatusNotFound, code)
}

// InternalServerError writes a 500 response with the given error code.
func InternalServerError(w http.ResponseWriter, code string) {
	WriteErrorCode(w, http.StatusInternalServerError, code)
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed")
}
