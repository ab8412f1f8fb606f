package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// SuccessResponse represents a standardised success response
type SuccessResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	requestID := GetRequestID(r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("Failed to encode JSON response")
	}
}

// WriteSuccess writes a standardised success response
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}, message string) {
	requestID := GetRequestID(r)

	response := SuccessResponse{
		Status:    "success",
		Data:      data,
		Message:   message,
		RequestID: requestID,
	}

	WriteJSON(w, r, response, http.StatusOK)
}

// WriteEmptyResult writes the "pool exhausted" response. Running out of
// tasks is a normal, frequent outcome for workers polling the queue, so it
// carries a 404 status for clients but is never logged as an error.
func WriteEmptyResult(w http.ResponseWriter, r *http.Request, message string) {
	requestID := GetRequestID(r)

	log.Debug().
		Str("request_id", requestID).
		Str("path", r.URL.Path).
		Msg("No tasks available")

	response := SuccessResponse{
		Status:    "empty",
		Message:   message,
		RequestID: requestID,
	}

	WriteJSON(w, r, response, http.StatusNotFound)
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
}

// WriteHealthy writes a standardised health check response
func WriteHealthy(w http.ResponseWriter, r *http.Request, service string, version string) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Service:   service,
		Version:   version,
	}

	WriteJSON(w, r, response, http.StatusOK)
}

// WriteUnhealthy writes a standardised unhealthy response
func WriteUnhealthy(w http.ResponseWriter, r *http.Request, service string, err error) {
	requestID := GetRequestID(r)

	response := map[string]interface{}{
		"status":     "unhealthy",
		"timestamp":  time.Now().Format(time.RFC3339),
		"service":    service,
		"error":      err.Error(),
		"request_id": requestID,
	}

	WriteJSON(w, r, response, http.StatusServiceUnavailable)
}
