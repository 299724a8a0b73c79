// Package httpapi holds the response envelope shared by every gateway
// endpoint: {data, total?, limit?, offset?} on success, {error, ...} on
// failure.
package httpapi

import (
	"encoding/json"
	"net/http"
)

type dataEnvelope struct {
	Data any `json:"data"`
}

type listEnvelope struct {
	Data   any `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// WriteData writes a single-resource success envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// WriteList writes a paginated collection envelope.
func WriteList(w http.ResponseWriter, status int, data any, total, limit, offset int) {
	writeJSON(w, status, listEnvelope{Data: data, Total: total, Limit: limit, Offset: offset})
}

// WriteError writes a failure envelope. Extra key/value pairs are merged
// alongside the error message.
func WriteError(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
