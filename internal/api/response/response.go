package response

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Response is the envelope of every JSON reply
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debug().Err(err).Int("status", status).Msg("failed to write response")
	}
}

// OK sends data with 200
func OK(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, Response{Success: true, Data: data})
}

// Created sends data with 201
func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, Response{Success: true, Data: data})
}

// NoContent acknowledges a write without a body
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error sends an error envelope. message is a string or, for validation
// failures, a map of field to reason.
func Error(w http.ResponseWriter, status int, message any) {
	write(w, status, Response{Error: message})
}

func BadRequest(w http.ResponseWriter, message any) {
	Error(w, http.StatusBadRequest, message)
}

func Unauthorized(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnauthorized, message)
}

func NotFound(w http.ResponseWriter, message any) {
	Error(w, http.StatusNotFound, message)
}

// TooLarge rejects an upload over the size limit
func TooLarge(w http.ResponseWriter, message any) {
	Error(w, http.StatusRequestEntityTooLarge, message)
}

// UnsupportedType rejects an upload whose type is not allowed
func UnsupportedType(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnsupportedMediaType, message)
}

func TooManyRequests(w http.ResponseWriter, message any) {
	Error(w, http.StatusTooManyRequests, message)
}

func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}

// Unavailable reports a dependency that is not ready
func Unavailable(w http.ResponseWriter, message any) {
	Error(w, http.StatusServiceUnavailable, message)
}
