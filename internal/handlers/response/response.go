// Package response writes the JSON envelope shared by every HTTP endpoint:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": "...", "details": [{"field": "...", "message": "..."}]}
package response

import (
	"encoding/json"
	"net/http"
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Envelope is the body of every API response.
type Envelope struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Details []FieldError `json:"details,omitempty"`
}

// JSON 发送成功响应。
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Envelope{Success: true, Data: data})
}

// Error 发送错误响应。
func Error(w http.ResponseWriter, statusCode int, message string) {
	write(w, statusCode, Envelope{Success: false, Error: message})
}

// ValidationError answers 400 with per-field details.
func ValidationError(w http.ResponseWriter, details []FieldError) {
	write(w, http.StatusBadRequest, Envelope{Success: false, Error: "Validation failed", Details: details})
}

// Unauthorized answers with the fixed 401 body.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "Unauthorized")
}

func write(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// headers are already out; nothing useful can be done on failure
	_ = json.NewEncoder(w).Encode(body)
}
